package llm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/imedina/evidens/internal/card"
	"github.com/imedina/evidens/internal/executor"
	"github.com/imedina/evidens/internal/model"
)

// Markers parsed out of the strategy response
var (
	strategyLineRe = regexp.MustCompile(`(?mi)^\s*(?:ESTRATEGIA|STRATEGY|QUERY)\s*:\s*(.+?)\s*$`)
	sensitivityRe  = regexp.MustCompile(`(?mi)^\s*(?:SENSIBILIDAD|SENSITIVITY)\s*:\s*(\d{1,3})`)
	precisionRe    = regexp.MustCompile(`(?mi)^\s*(?:PRECISI[ÓO]N|PRECISION)\s*:\s*(\d{1,3})`)
)

// batchMarkerRe locates the per-article markers in a batch response
var batchMarkerRe = regexp.MustCompile(`(?m)^\s*===PMID\s+(\S+?)===\s*$`)

// Gateway exposes the three typed LLM operations. All traffic funnels
// through the executor; strategy, analyze and synthesize all retry on 429.
type Gateway struct {
	provider    Provider
	exec        *executor.Executor
	cfg         Config
	probeURL    string
	probeClient *http.Client
}

// NewGateway creates the typed wrapper around a provider. When
// batchProbeURL is non-empty, batch-analysis support is probed with a HEAD
// request (200 or 405 means supported); otherwise batch is assumed.
func NewGateway(provider Provider, exec *executor.Executor, cfg Config, batchProbeURL string) *Gateway {
	return &Gateway{
		provider:    provider,
		exec:        exec,
		cfg:         cfg,
		probeURL:    batchProbeURL,
		probeClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ProviderName returns the active provider's name
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Throttling reports whether the executor currently has rate-limit pressure
func (g *Gateway) Throttling() bool {
	return g.exec.Throttling()
}

// Strategy asks the LLM for a PubMed search strategy. Failure here aborts
// the whole request; there is no meaningful fallback when useAI is set.
func (g *Gateway) Strategy(ctx context.Context, question model.Question) (*model.Strategy, error) {
	text, err := g.submit(ctx, strategyPrompt(question), 0.3)
	if err != nil {
		return nil, err
	}

	strategy := &model.Strategy{FullResponse: text}

	if m := strategyLineRe.FindStringSubmatch(text); m != nil {
		strategy.Strategy = strings.TrimSpace(m[1])
	} else {
		// Degraded response without the marker: take the first
		// non-empty line so a usable query still comes out.
		for _, line := range strings.Split(text, "\n") {
			if l := strings.TrimSpace(line); l != "" {
				strategy.Strategy = l
				break
			}
		}
	}
	if strategy.Strategy == "" {
		return nil, &model.GatewayError{Upstream: "llm", Message: "strategy response contained no query"}
	}

	sens, sensOK := matchPercent(sensitivityRe, text)
	prec, precOK := matchPercent(precisionRe, text)
	if sensOK && precOK {
		strategy.Metrics = &model.StrategyMetrics{Sensitivity: sens, Precision: prec}
	}

	return strategy, nil
}

// AnalyzeOne appraises a single article against the question and returns a
// card-envelope HTML fragment. Malformed output is wrapped in the
// canonical envelope, preserving inner text.
func (g *Gateway) AnalyzeOne(ctx context.Context, article model.Article, clinicalQuestion string) (string, error) {
	text, err := g.submit(ctx, analyzePrompt(article, clinicalQuestion), 0.2)
	if err != nil {
		return "", err
	}
	return card.EnsureEnvelope(text), nil
}

// AnalyzeBatch appraises all articles in one submission. The returned
// slice aligns with the input by index; a response missing any submitted
// PMID is an error so the caller can fall back to sequential mode.
func (g *Gateway) AnalyzeBatch(ctx context.Context, articles []model.Article, clinicalQuestion string) ([]string, error) {
	text, err := g.submit(ctx, batchPrompt(articles, clinicalQuestion), 0.2)
	if err != nil {
		return nil, err
	}

	sections := splitBatchResponse(text)
	out := make([]string, len(articles))
	for i, a := range articles {
		fragment, ok := sections[a.PMID]
		if !ok || strings.TrimSpace(fragment) == "" {
			return nil, &model.GatewayError{
				Upstream: "llm",
				Message:  fmt.Sprintf("batch response missing article %s", a.PMID),
			}
		}
		out[i] = card.EnsureEnvelope(strings.TrimSpace(fragment))
	}
	return out, nil
}

// Synthesize builds the multi-article synthesis prompt and returns the raw
// synthesis HTML. Citation linking happens downstream.
func (g *Gateway) Synthesize(ctx context.Context, clinicalQuestion string, articles []model.Article) (string, error) {
	return g.submit(ctx, synthesisPrompt(clinicalQuestion, articles), 0.3)
}

// SupportsBatch reports whether batch analysis should be attempted
func (g *Gateway) SupportsBatch(ctx context.Context) bool {
	if g.probeURL == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := g.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMethodNotAllowed
}

// submit routes one completion through the executor with the per-call
// timeout applied inside the task, so queue time does not eat into it.
func (g *Gateway) submit(ctx context.Context, prompt string, temperature float64) (string, error) {
	return g.exec.Submit(ctx, true, func(taskCtx context.Context) (string, error) {
		callCtx := taskCtx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(taskCtx, g.cfg.Timeout)
			defer cancel()
		}
		resp, err := g.provider.Complete(callCtx, CompletionRequest{
			System:      systemRole,
			Prompt:      prompt,
			MaxTokens:   g.cfg.MaxTokens,
			Temperature: temperature,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// splitBatchResponse maps PMID markers to their following fragment
func splitBatchResponse(text string) map[string]string {
	sections := make(map[string]string)
	matches := batchMarkerRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		pmid := text[m[2]:m[3]]
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[pmid] = text[start:end]
	}
	return sections
}

func matchPercent(re *regexp.Regexp, text string) (int, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
