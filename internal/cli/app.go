package cli

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/imedina/evidens/internal/analysis"
	"github.com/imedina/evidens/internal/cache"
	"github.com/imedina/evidens/internal/coordinator"
	"github.com/imedina/evidens/internal/executor"
	"github.com/imedina/evidens/internal/llm"
	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/progress"
	"github.com/imedina/evidens/internal/pubmed"
	"github.com/imedina/evidens/internal/synthesis"
)

// loadConfig layers the config file (if any) over the defaults and
// fills API keys from the environment.
func loadConfig() (model.Config, error) {
	cfg := *model.DefaultConfig()

	if path := viper.ConfigFileUsed(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *model.Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.LLM.Provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.PubMed.APIKey == "" {
		cfg.PubMed.APIKey = os.Getenv("PUBMED_API_KEY")
	}
}

// app wires the component graph shared by the serve and ask commands.
type app struct {
	cfg    model.Config
	exec   *executor.Executor
	gw     *llm.Gateway
	pubmed *pubmed.Client
	hub    *progress.Hub
	coord  *coordinator.Coordinator
}

func buildApp(cfg model.Config) (*app, error) {
	provider, err := llm.NewProvider(llm.ConfigFrom(cfg.LLM, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	exec := executor.New(cfg.Executor)
	gw := llm.NewGateway(provider, exec, llm.ConfigFrom(cfg.LLM, cfg.HTTP), cfg.LLM.BatchProbeURL)

	var store cache.Cache = cache.Nop{}
	if cfg.Cache.Enabled {
		store = cache.NewMemoryCache(cfg.Cache.TTL, 2*cfg.Cache.TTL)
	}
	pm := pubmed.New(cfg.PubMed, cfg.HTTP, cfg.Priority, store, cfg.Cache.TTL)

	hub := progress.NewHub()
	coord := coordinator.New(gw, pm, analysis.New(gw), synthesis.NewEngine(gw), hub, cfg.Server.ResultTTL)

	return &app{
		cfg:    cfg,
		exec:   exec,
		gw:     gw,
		pubmed: pm,
		hub:    hub,
		coord:  coord,
	}, nil
}

func (a *app) Close() {
	a.exec.Close()
}
