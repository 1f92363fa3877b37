package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/progress"
)

type stubStrategist struct {
	strategy *model.Strategy
	err      error
	calls    int
}

func (s *stubStrategist) Strategy(ctx context.Context, q model.Question) (*model.Strategy, error) {
	s.calls++
	return s.strategy, s.err
}

type stubSearcher struct {
	articles []model.Article
	err      error
	gotQuery string
}

func (s *stubSearcher) Search(ctx context.Context, q model.Question, strategy model.Strategy) ([]model.Article, string, error) {
	s.gotQuery = strategy.Strategy
	if s.err != nil {
		return nil, "", s.err
	}
	query := strategy.Strategy
	if query == "" {
		query = q.Text
	}
	return s.articles, query, nil
}

type stubAnalyzer struct {
	err   error
	calls int
}

func (s *stubAnalyzer) Run(ctx context.Context, articles []model.Article, q string, emit func(model.ProgressEvent)) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	for i := range articles {
		articles[i].SecondaryAnalysis = `<div class="card-analysis">★★★★☆</div>`
		articles[i].FullyAnalyzed = true
	}
	return nil
}

type stubSynthesizer struct {
	result *model.SynthesisResult
	err    error
}

func (s *stubSynthesizer) Run(ctx context.Context, q string, articles []model.Article) (*model.SynthesisResult, error) {
	return s.result, s.err
}

type fixture struct {
	coord      *Coordinator
	strategist *stubStrategist
	searcher   *stubSearcher
	analyzer   *stubAnalyzer
	synth      *stubSynthesizer
	hub        *progress.Hub
}

func newFixture(articles []model.Article) *fixture {
	f := &fixture{
		strategist: &stubStrategist{strategy: &model.Strategy{Strategy: "metformin AND pcos"}},
		searcher:   &stubSearcher{articles: articles},
		analyzer:   &stubAnalyzer{},
		synth:      &stubSynthesizer{result: &model.SynthesisResult{HTML: "<p>ok</p>", EvidenceRating: 4}},
		hub:        progress.NewHub(),
	}
	f.coord = New(f.strategist, f.searcher, f.analyzer, f.synth, f.hub, time.Minute)
	return f
}

// collect drains progress events for a request until the terminal one.
func collect(t *testing.T, hub *progress.Hub, requestID string) func() []model.ProgressEvent {
	t.Helper()
	ch, _ := hub.Subscribe(requestID)
	done := make(chan []model.ProgressEvent, 1)
	go func() {
		var events []model.ProgressEvent
		for e := range ch {
			events = append(events, e)
		}
		done <- events
	}()
	return func() []model.ProgressEvent {
		select {
		case events := <-done:
			return events
		case <-time.After(2 * time.Second):
			t.Fatal("no terminal event observed")
			return nil
		}
	}
}

func stages(events []model.ProgressEvent) []model.Stage {
	out := make([]model.Stage, len(events))
	for i, e := range events {
		out[i] = e.Stage
	}
	return out
}

func TestCoordinator_HappyPathWithAI(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "11111"}, {PMID: "22222"}, {PMID: "33333"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	result, err := f.coord.Run(context.Background(), id, model.NewQuestion("Is metformin effective for PCOS?", true, 3), "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.State != StateReady {
		t.Errorf("expected Ready, got %s", result.State)
	}
	if len(result.Articles) != 3 {
		t.Fatalf("expected 3 articles, got %d", len(result.Articles))
	}
	for _, a := range result.Articles {
		if !a.FullyAnalyzed {
			t.Errorf("article %s not analyzed", a.PMID)
		}
	}
	if f.searcher.gotQuery != "metformin AND pcos" {
		t.Errorf("strategy not handed to searcher: %q", f.searcher.gotQuery)
	}

	events := wait()
	want := []model.Stage{model.StageFormulate, model.StageStrategize, model.StageSearch, model.StageDone}
	if diff := cmp.Diff(want, stages(events)); diff != "" {
		t.Errorf("stage sequence mismatch (-want +got):\n%s", diff)
	}
	if !events[len(events)-1].Terminal {
		t.Error("final event must be terminal")
	}
}

func TestCoordinator_AIOffSkipsLLM(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}, {PMID: "2"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	result, err := f.coord.Run(context.Background(), id, model.NewQuestion("diabetes treatment", false, 5), "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if f.strategist.calls != 0 {
		t.Error("strategy LLM must not be called with useAI=false")
	}
	if f.analyzer.calls != 0 {
		t.Error("analysis must be skipped with useAI=false")
	}
	for _, a := range result.Articles {
		if a.SecondaryAnalysis != "" {
			t.Errorf("article %s should not carry an analysis", a.PMID)
		}
	}
	if f.searcher.gotQuery != "diabetes treatment" {
		t.Errorf("pass-through strategy should carry the free text, searcher got %q", f.searcher.gotQuery)
	}
	wait()
}

func TestCoordinator_EmptyQuestionRejected(t *testing.T) {
	f := newFixture(nil)
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	result, err := f.coord.Run(context.Background(), id, model.NewQuestion("   ", true, 3), "")
	if !errors.Is(err, model.ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	if result.State != StateFailed {
		t.Errorf("expected Failed, got %s", result.State)
	}
	events := wait()
	if len(events) != 1 || events[0].Stage != model.StageFailed || events[0].Detail != "EmptyQuestion" {
		t.Errorf("expected single failed event with EmptyQuestion, got %v", events)
	}
}

func TestCoordinator_StrategyFailureAborts(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	f.strategist.strategy = nil
	f.strategist.err = &model.GatewayError{Upstream: "llm", Status: 502, Message: "bad gateway"}
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	_, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), "")
	if err == nil {
		t.Fatal("expected strategy failure to abort the run")
	}
	events := wait()
	last := events[len(events)-1]
	if last.Stage != model.StageFailed || last.Detail != "LLMGatewayError" {
		t.Errorf("unexpected terminal event %+v", last)
	}
}

func TestCoordinator_EmptyResultIsDone(t *testing.T) {
	f := newFixture([]model.Article{})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	result, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), "")
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if result.State != StateEmpty {
		t.Errorf("expected Empty, got %s", result.State)
	}
	if result.Articles == nil || len(result.Articles) != 0 {
		t.Errorf("expected empty non-nil article slice, got %v", result.Articles)
	}
	if f.analyzer.calls != 0 {
		t.Error("no analysis on an empty result set")
	}
	events := wait()
	last := events[len(events)-1]
	if last.Stage != model.StageDone || !last.Terminal {
		t.Errorf("expected done terminal event, got %+v", last)
	}
}

func TestCoordinator_ExactlyOneTerminalEvent(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	if _, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	terminals := 0
	for _, e := range wait() {
		if e.Terminal {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestCoordinator_CancellationFails(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	f.analyzer.err = context.Canceled
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.Run(ctx, id, model.NewQuestion("q", true, 3), "")
	if err == nil {
		t.Fatal("expected cancellation to surface")
	}
	events := wait()
	last := events[len(events)-1]
	if last.Detail != "cancelled" {
		t.Errorf("expected cancelled detail, got %+v", last)
	}
}

func TestCoordinator_ArticleRegistry(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "11111", Title: "Metformin in PCOS"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	if _, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wait()

	article, ok := f.coord.Article("11111")
	if !ok {
		t.Fatal("article not retained in registry")
	}
	if article.Title != "Metformin in PCOS" {
		t.Errorf("unexpected article %+v", article)
	}
	if _, ok := f.coord.Article("99999"); ok {
		t.Error("unknown PMID must miss")
	}
}

func TestCoordinator_SynthesizeUpdatesStoredResult(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)
	if _, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wait()

	wait2 := collect(t, f.hub, id)
	synthesis, err := f.coord.Synthesize(context.Background(), id, "q", f.searcher.articles)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if synthesis.EvidenceRating != 4 {
		t.Errorf("unexpected rating %d", synthesis.EvidenceRating)
	}
	events := wait2()
	if events[0].Stage != model.StageSynthesize {
		t.Errorf("expected synthesize stage first, got %v", events)
	}

	stored, ok := f.coord.Result(id)
	if !ok {
		t.Fatal("result missing from registry")
	}
	if stored.State != StateSynthesized || stored.Synthesis == nil {
		t.Errorf("stored result not updated: %+v", stored)
	}
}

func TestCoordinator_SynthesisFailureKeepsReadyState(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)
	if _, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wait()

	f.synth.result = nil
	f.synth.err = errors.New("upstream down")
	if _, err := f.coord.Synthesize(context.Background(), id, "q", nil); err == nil {
		t.Fatal("expected synthesis error")
	}

	stored, ok := f.coord.Result(id)
	if !ok {
		t.Fatal("result missing from registry")
	}
	if stored.State != StateReady {
		t.Errorf("failed synthesis must leave Ready intact, got %s", stored.State)
	}
}

func TestCoordinator_PresetStrategySkipsLLM(t *testing.T) {
	f := newFixture([]model.Article{{PMID: "1"}})
	id := f.hub.NewRequestID()
	wait := collect(t, f.hub, id)

	preset := `("metformin"[MeSH]) AND ("pcos"[tiab])`
	if _, err := f.coord.Run(context.Background(), id, model.NewQuestion("q", true, 3), preset); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if f.strategist.calls != 0 {
		t.Error("preset strategy must bypass strategy generation")
	}
	if f.searcher.gotQuery != preset {
		t.Errorf("searcher got %q, want preset", f.searcher.gotQuery)
	}
	wait()
}
