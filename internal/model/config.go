package model

import "time"

// Config is the full application configuration. Values come from flags,
// EVIDENS_* environment variables, ~/.evidens/config.yaml, then defaults.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	PubMed   PubMedConfig   `yaml:"pubmed" json:"pubmed"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Priority PriorityConfig `yaml:"priority" json:"priority"`
}

// ServerConfig tunes the HTTP API server
type ServerConfig struct {
	Port              int           `yaml:"port" json:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	ResultTTL         time.Duration `yaml:"result_ttl" json:"result_ttl"` // How long finished results stay addressable
	Heartbeat         time.Duration `yaml:"heartbeat" json:"heartbeat"`   // SSE keep-alive interval
}

// HTTPConfig applies to all outbound HTTP clients
type HTTPConfig struct {
	UserAgent  string `yaml:"user_agent" json:"user_agent"`
	HTTPProxy  string `yaml:"http_proxy" json:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy" json:"https_proxy"`
	NoProxy    string `yaml:"no_proxy" json:"no_proxy"`
}

// PubMedConfig tunes the literature gateway
type PubMedConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	ICiteBaseURL      string        `yaml:"icite_base_url" json:"icite_base_url"`
	APIKey            string        `yaml:"api_key" json:"api_key"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
}

// LLMConfig selects and tunes the LLM provider
type LLMConfig struct {
	Provider      string        `yaml:"provider" json:"provider"` // openai, anthropic, ollama
	Model         string        `yaml:"model" json:"model"`
	APIKey        string        `yaml:"api_key" json:"api_key"`
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	BatchProbeURL string        `yaml:"batch_probe_url" json:"batch_probe_url"` // Optional HEAD probe for batch analysis support
}

// ExecutorConfig tunes the rate-limited executor guarding LLM calls
type ExecutorConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	RecoveryTime  time.Duration `yaml:"recovery_time" json:"recovery_time"`
	Debug         bool          `yaml:"debug" json:"debug"`
}

// CacheConfig tunes the in-memory response cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// PriorityConfig holds the tunable weights for article priority scoring.
// Each component contributes weight * normalized-signal; the total is
// scaled to 0..100.
type PriorityConfig struct {
	StudyType   float64 `yaml:"study_type" json:"study_type"`
	Recency     float64 `yaml:"recency" json:"recency"`
	Journal     float64 `yaml:"journal" json:"journal"`
	MeshOverlap float64 `yaml:"mesh_overlap" json:"mesh_overlap"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			ResultTTL:         30 * time.Minute,
			Heartbeat:         15 * time.Second,
		},
		HTTP: HTTPConfig{
			UserAgent: "Evidens/0.1 (+https://github.com/imedina/evidens)",
		},
		PubMed: PubMedConfig{
			BaseURL:           "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			ICiteBaseURL:      "https://icite.od.nih.gov/api",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 3, // NCBI allows 10 rps with an API key
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Timeout:   120 * time.Second,
			MaxTokens: 4000,
		},
		Executor: ExecutorConfig{
			MaxConcurrent: 2,
			BaseDelay:     time.Second,
			MaxDelay:      60 * time.Second,
			BackoffFactor: 2,
			RecoveryTime:  90 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     15 * time.Minute,
		},
		Priority: PriorityConfig{
			StudyType:   40,
			Recency:     25,
			Journal:     15,
			MeshOverlap: 20,
		},
	}
}
