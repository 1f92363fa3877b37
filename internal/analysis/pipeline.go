// Package analysis drives per-article LLM appraisal over a search
// result set. It annotates articles in place and never re-orders them.
package analysis

import (
	"context"
	"errors"

	"github.com/imedina/evidens/internal/model"
)

var errBatchShape = errors.New("batch response length does not match submitted articles")

// Gateway is the slice of the LLM gateway the pipeline needs.
type Gateway interface {
	AnalyzeOne(ctx context.Context, article model.Article, clinicalQuestion string) (string, error)
	AnalyzeBatch(ctx context.Context, articles []model.Article, clinicalQuestion string) ([]string, error)
	SupportsBatch(ctx context.Context) bool
	Throttling() bool
}

// Pipeline analyzes every article in a result set, marking each one
// with either a secondary analysis or an analysis error.
type Pipeline struct {
	gw Gateway
}

func New(gw Gateway) *Pipeline {
	return &Pipeline{gw: gw}
}

// Run annotates articles with analyses, preserving input order. Batch
// mode is preferred when the upstream supports it and the executor is
// not throttling; any batch failure falls back to one-by-one calls.
// Per-item failures set analysisError and never abort the run. The
// only error returned is context cancellation, in which case the
// articles analyzed so far are retained.
func (p *Pipeline) Run(ctx context.Context, articles []model.Article, clinicalQuestion string, emit func(model.ProgressEvent)) error {
	if emit == nil {
		emit = func(model.ProgressEvent) {}
	}
	total := len(articles)
	if total == 0 {
		emit(model.ProgressEvent{Stage: model.StageAnalyze, Index: 0, Total: 0})
		return nil
	}

	// Batch amplifies contention while the executor is backing off,
	// so a throttled executor forces sequential mode.
	if !p.gw.Throttling() && p.gw.SupportsBatch(ctx) {
		if err := p.runBatch(ctx, articles, clinicalQuestion, emit); err == nil {
			emit(model.ProgressEvent{Stage: model.StageAnalyze, Index: total, Total: total})
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		// Fall through to sequential on any batch failure.
	}

	for i := range articles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(model.ProgressEvent{Stage: model.StageAnalyze, Index: i, Total: total})

		html, err := p.gw.AnalyzeOne(ctx, articles[i], clinicalQuestion)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			articles[i].AnalysisError = true
			continue
		}
		articles[i].SecondaryAnalysis = html
		articles[i].FullyAnalyzed = true
	}

	emit(model.ProgressEvent{Stage: model.StageAnalyze, Index: total, Total: total})
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, articles []model.Article, clinicalQuestion string, emit func(model.ProgressEvent)) error {
	total := len(articles)
	results, err := p.gw.AnalyzeBatch(ctx, articles, clinicalQuestion)
	if err != nil {
		return err
	}
	if len(results) != total {
		return errBatchShape
	}
	for i := range articles {
		emit(model.ProgressEvent{Stage: model.StageAnalyze, Index: i, Total: total})
		articles[i].SecondaryAnalysis = results[i]
		articles[i].FullyAnalyzed = true
	}
	return nil
}
