// Package server exposes the query pipeline over HTTP plus a
// server-sent-events stream for progress.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/imedina/evidens/internal/coordinator"
	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/progress"
)

// Coordinator is the slice of the query coordinator the handlers need.
type Coordinator interface {
	Run(ctx context.Context, requestID string, question model.Question, presetStrategy string) (*coordinator.QueryResult, error)
	Synthesize(ctx context.Context, requestID, clinicalQuestion string, articles []model.Article) (*model.SynthesisResult, error)
	Article(pmid string) (*model.Article, bool)
	Result(requestID string) (*coordinator.QueryResult, bool)
}

// LLM covers the direct per-operation endpoints.
type LLM interface {
	Strategy(ctx context.Context, question model.Question) (*model.Strategy, error)
	AnalyzeOne(ctx context.Context, article model.Article, clinicalQuestion string) (string, error)
	AnalyzeBatch(ctx context.Context, articles []model.Article, clinicalQuestion string) ([]string, error)
}

// Fetcher retrieves a single PubMed record on registry miss.
type Fetcher interface {
	FetchOne(ctx context.Context, pmid string) (*model.Article, error)
}

type Server struct {
	cfg     model.ServerConfig
	coord   Coordinator
	llm     LLM
	fetcher Fetcher
	hub     *progress.Hub
	httpSrv *http.Server
}

func New(cfg model.ServerConfig, coord Coordinator, llm LLM, fetcher Fetcher, hub *progress.Hub) *Server {
	s := &Server{cfg: cfg, coord: coord, llm: llm, fetcher: fetcher, hub: hub}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler builds the route table. Split out from Start so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scientific-query", s.handleQuery)
	mux.HandleFunc("GET /api/scientific-query/article/{pmid}", s.handleArticle)
	mux.HandleFunc("POST /api/claude/strategy", s.handleStrategy)
	mux.HandleFunc("POST /api/claude/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/claude/analyze-batch", s.handleAnalyzeBatch)
	mux.HandleFunc("HEAD /api/claude/analyze-batch", s.handleBatchProbe)
	mux.HandleFunc("POST /api/claude/synthesis", s.handleSynthesis)
	mux.HandleFunc("GET /events", s.handleEvents)
	return logRequests(mux)
}

// logRequests writes one line per request to stderr.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		fmt.Fprintf(os.Stderr, "%s %s %s\n", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
