package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/imedina/evidens/internal/executor"
	"github.com/imedina/evidens/internal/model"
)

// MockProvider implements the Provider interface for testing
type MockProvider struct {
	name      string
	available bool
	respond   func(req CompletionRequest) (*CompletionResponse, error)
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return m.respond(req)
}

func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	return m.available
}

func newTestGateway(t *testing.T, respond func(req CompletionRequest) (*CompletionResponse, error)) *Gateway {
	t.Helper()
	exec := executor.New(model.ExecutorConfig{
		MaxConcurrent: 2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2,
		RecoveryTime:  10 * time.Millisecond,
	})
	t.Cleanup(exec.Close)
	provider := &MockProvider{name: "mock", available: true, respond: respond}
	return NewGateway(provider, exec, Config{Timeout: 5 * time.Second, MaxTokens: 100}, "")
}

func TestGateway_Strategy_ParsesMarkers(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: `Para esta pregunta conviene combinar términos MeSH.

ESTRATEGIA: ("metformin"[MeSH]) AND ("polycystic ovary syndrome"[MeSH])
SENSIBILIDAD: 85
PRECISION: 70`}, nil
	})

	s, err := gw.Strategy(context.Background(), model.NewQuestion("metformin PCOS", true, 10))
	if err != nil {
		t.Fatalf("strategy failed: %v", err)
	}
	if s.Strategy != `("metformin"[MeSH]) AND ("polycystic ovary syndrome"[MeSH])` {
		t.Errorf("unexpected strategy %q", s.Strategy)
	}
	if s.FullResponse == "" {
		t.Error("fullResponse must carry the LLM prose")
	}
	if s.Metrics == nil || s.Metrics.Sensitivity != 85 || s.Metrics.Precision != 70 {
		t.Errorf("unexpected metrics %+v", s.Metrics)
	}
}

func TestGateway_Strategy_MissingMarkerFallsBackToFirstLine(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: "metformin AND pcos\nmore prose"}, nil
	})

	s, err := gw.Strategy(context.Background(), model.NewQuestion("q", true, 10))
	if err != nil {
		t.Fatalf("strategy failed: %v", err)
	}
	if s.Strategy != "metformin AND pcos" {
		t.Errorf("expected first-line fallback, got %q", s.Strategy)
	}
	if s.Metrics != nil {
		t.Error("metrics should be absent when markers are missing")
	}
}

func TestGateway_Strategy_EmptyResponseIsError(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: "   \n  "}, nil
	})
	if _, err := gw.Strategy(context.Background(), model.NewQuestion("q", true, 10)); err == nil {
		t.Fatal("expected error for empty strategy response")
	}
}

func TestGateway_AnalyzeOne_WrapsMalformedOutput(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: "<p>evaluación sin envoltura ★★★★☆</p>"}, nil
	})

	html, err := gw.AnalyzeOne(context.Background(), model.Article{PMID: "1"}, "q")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if !strings.Contains(html, `<div class="card-analysis">`) {
		t.Errorf("expected canonical envelope, got %q", html)
	}
	if !strings.Contains(html, "★★★★☆") {
		t.Error("inner text must be preserved")
	}
}

func TestGateway_AnalyzeBatch_AlignsByPMID(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		// Respond out of submission order; alignment is by marker.
		return &CompletionResponse{Text: `===PMID 22222===
<div class="card-analysis"><p>segundo</p></div>
===PMID 11111===
<div class="card-analysis"><p>primero</p></div>`}, nil
	})

	articles := []model.Article{{PMID: "11111"}, {PMID: "22222"}}
	results, err := gw.AnalyzeBatch(context.Background(), articles, "q")
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !strings.Contains(results[0], "primero") || !strings.Contains(results[1], "segundo") {
		t.Errorf("results misaligned: %v", results)
	}
}

func TestGateway_AnalyzeBatch_MissingArticleIsError(t *testing.T) {
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		return &CompletionResponse{Text: "===PMID 11111===\n<div class=\"card-analysis\"></div>"}, nil
	})

	articles := []model.Article{{PMID: "11111"}, {PMID: "22222"}}
	if _, err := gw.AnalyzeBatch(context.Background(), articles, "q"); err == nil {
		t.Fatal("expected error for incomplete batch response")
	}
}

func TestGateway_RateLimitRetriesThroughExecutor(t *testing.T) {
	attempts := 0
	gw := newTestGateway(t, func(req CompletionRequest) (*CompletionResponse, error) {
		attempts++
		if attempts == 1 {
			return nil, &model.RateLimitedError{Upstream: "llm"}
		}
		return &CompletionResponse{Text: "ESTRATEGIA: ok"}, nil
	})

	s, err := gw.Strategy(context.Background(), model.NewQuestion("q", true, 10))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if s.Strategy != "ok" {
		t.Errorf("unexpected strategy %q", s.Strategy)
	}
}

func TestGateway_SupportsBatch_Probe(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusMethodNotAllowed, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				t.Errorf("expected HEAD probe, got %s", r.Method)
			}
			w.WriteHeader(tt.status)
		}))

		gw := newTestGateway(t, nil)
		gw.probeURL = srv.URL
		if got := gw.SupportsBatch(context.Background()); got != tt.want {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, got)
		}
		srv.Close()
	}

	// No probe URL configured: batch is assumed available.
	gw := newTestGateway(t, nil)
	if !gw.SupportsBatch(context.Background()) {
		t.Error("expected batch support without probe URL")
	}
}

func TestNewProvider_Factory(t *testing.T) {
	if _, err := NewProvider(Config{Provider: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai provider: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "anthropic", APIKey: "sk-ant"}); err != nil {
		t.Errorf("anthropic provider: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "ollama"}); err != nil {
		t.Errorf("ollama provider: %v", err)
	}
	if _, err := NewProvider(Config{Provider: "nope"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewProvider(Config{Provider: "openai"}); err == nil {
		t.Error("expected error for openai without API key")
	}
}

func TestAnthropicProvider_429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(Config{APIKey: "sk-ant", BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("provider init: %v", err)
	}
	_, err = p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if !model.IsRateLimited(err) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"model":"llama3.1","response":"hola","done":true,"eval_count":5}`)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("provider init: %v", err)
	}
	resp, err := p.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if resp.Text != "hola" || resp.TokensUsed != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
}
