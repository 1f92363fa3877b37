// Package coordinator runs the query state machine: strategy, search,
// analysis and synthesis in strict order, with progress events and a
// short-lived result registry for follow-up lookups.
package coordinator

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/progress"
)

// State tags where a query currently is in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateFormulating  State = "formulating"
	StateStrategizing State = "strategizing"
	StateSearching    State = "searching"
	StateAnalyzing    State = "analyzing"
	StateReady        State = "ready"
	StateEmpty        State = "empty"
	StateSynthesizing State = "synthesizing"
	StateSynthesized  State = "synthesized"
	StateFailed       State = "failed"
)

// Strategist turns a clinical question into a PubMed search strategy.
type Strategist interface {
	Strategy(ctx context.Context, question model.Question) (*model.Strategy, error)
}

// Searcher retrieves and ranks articles for a strategy.
type Searcher interface {
	Search(ctx context.Context, question model.Question, strategy model.Strategy) ([]model.Article, string, error)
}

// Analyzer annotates every article with an analysis or an error flag,
// reporting per-article progress through the emitter.
type Analyzer interface {
	Run(ctx context.Context, articles []model.Article, clinicalQuestion string, emit func(model.ProgressEvent)) error
}

// Synthesizer produces the cross-article synthesis.
type Synthesizer interface {
	Run(ctx context.Context, clinicalQuestion string, articles []model.Article) (*model.SynthesisResult, error)
}

// QueryResult is the complete outcome of one query run.
type QueryResult struct {
	RequestID      string
	State          State
	Question       model.Question
	Strategy       model.Strategy
	Articles       []model.Article
	Synthesis      *model.SynthesisResult
	ProcessingTime time.Duration
}

// Coordinator owns the per-request pipeline and the registry of
// recently completed results.
type Coordinator struct {
	strategist  Strategist
	searcher    Searcher
	analyzer    Analyzer
	synthesizer Synthesizer
	hub         *progress.Hub

	// registry holds articles by PMID and results by request ID so
	// clients can fetch individual records and retry synthesis
	// without re-running the search.
	registry *gocache.Cache
}

func New(strategist Strategist, searcher Searcher, analyzer Analyzer, synthesizer Synthesizer, hub *progress.Hub, resultTTL time.Duration) *Coordinator {
	return &Coordinator{
		strategist:  strategist,
		searcher:    searcher,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		hub:         hub,
		registry:    gocache.New(resultTTL, 2*resultTTL),
	}
}

// Run executes a query end to end: validate, strategize, search and,
// with useAI set, analyze. A non-empty presetStrategy skips strategy
// generation entirely. Exactly one terminal progress event is emitted
// per call. Partial analysis failures still produce a Ready result;
// only strategy, search or cancellation abort the run.
func (c *Coordinator) Run(ctx context.Context, requestID string, question model.Question, presetStrategy string) (*QueryResult, error) {
	start := time.Now()
	emit := c.hub.Emitter(requestID)
	result := &QueryResult{RequestID: requestID, State: StateFormulating, Question: question}

	if err := question.Validate(); err != nil {
		return c.fail(result, emit, err)
	}
	emit(model.ProgressEvent{Stage: model.StageFormulate})

	result.State = StateStrategizing
	emit(model.ProgressEvent{Stage: model.StageStrategize})
	strategy, err := c.strategize(ctx, question, presetStrategy)
	if err != nil {
		return c.fail(result, emit, err)
	}
	result.Strategy = *strategy

	result.State = StateSearching
	emit(model.ProgressEvent{Stage: model.StageSearch})
	articles, query, err := c.searcher.Search(ctx, question, *strategy)
	if err != nil {
		return c.fail(result, emit, err)
	}
	result.Strategy.Strategy = query
	result.Articles = articles

	if len(articles) == 0 {
		result.State = StateEmpty
		result.ProcessingTime = time.Since(start)
		c.store(result)
		emit(model.Done())
		return result, nil
	}

	if question.UseAI {
		result.State = StateAnalyzing
		if err := c.analyzer.Run(ctx, result.Articles, question.Text, emit); err != nil {
			return c.fail(result, emit, err)
		}
	}

	result.State = StateReady
	result.ProcessingTime = time.Since(start)
	c.store(result)
	emit(model.Done())
	return result, nil
}

// Synthesize runs the synthesis step over already-analyzed articles.
// Failures leave any stored Ready result untouched so the client can
// retry without repeating the search.
func (c *Coordinator) Synthesize(ctx context.Context, requestID, clinicalQuestion string, articles []model.Article) (*model.SynthesisResult, error) {
	emit := c.hub.Emitter(requestID)
	emit(model.ProgressEvent{Stage: model.StageSynthesize})

	synthesis, err := c.synthesizer.Run(ctx, clinicalQuestion, articles)
	if err != nil {
		emit(model.Failed(model.ErrorKind(err)))
		return nil, err
	}

	if cached, ok := c.Result(requestID); ok {
		cached.State = StateSynthesized
		cached.Synthesis = synthesis
		c.store(cached)
	}
	emit(model.Done())
	return synthesis, nil
}

// Article looks up a single record from recent result sets by PMID.
func (c *Coordinator) Article(pmid string) (*model.Article, bool) {
	v, ok := c.registry.Get(articleKey(pmid))
	if !ok {
		return nil, false
	}
	article := v.(model.Article)
	return &article, true
}

// Result returns the stored outcome for a request, if still retained.
func (c *Coordinator) Result(requestID string) (*QueryResult, bool) {
	v, ok := c.registry.Get(resultKey(requestID))
	if !ok {
		return nil, false
	}
	return v.(*QueryResult), true
}

func (c *Coordinator) strategize(ctx context.Context, question model.Question, preset string) (*model.Strategy, error) {
	if preset != "" {
		return &model.Strategy{Strategy: preset}, nil
	}
	if !question.UseAI {
		s := model.PassThroughStrategy(question)
		return &s, nil
	}
	return c.strategist.Strategy(ctx, question)
}

func (c *Coordinator) fail(result *QueryResult, emit func(model.ProgressEvent), err error) (*QueryResult, error) {
	result.State = StateFailed
	emit(model.Failed(model.ErrorKind(err)))
	return result, err
}

func (c *Coordinator) store(result *QueryResult) {
	c.registry.SetDefault(resultKey(result.RequestID), result)
	for _, a := range result.Articles {
		c.registry.SetDefault(articleKey(a.PMID), a)
	}
}

func articleKey(pmid string) string { return "article:" + pmid }

func resultKey(requestID string) string { return "result:" + requestID }
