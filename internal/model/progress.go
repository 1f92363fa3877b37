package model

// Stage identifies a pipeline step in a progress event
type Stage string

const (
	StageFormulate  Stage = "formulate"
	StageStrategize Stage = "strategize"
	StageSearch     Stage = "search"
	StageAnalyze    Stage = "analyze"
	StageSynthesize Stage = "synthesize"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// ProgressEvent is one typed event on the progress stream. Stages are
// emitted in pipeline order and exactly one terminal event (done or
// failed) closes every request.
type ProgressEvent struct {
	Stage    Stage  `json:"stage"`
	Index    int    `json:"index,omitempty"`
	Total    int    `json:"total,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// Done builds the successful terminal event
func Done() ProgressEvent {
	return ProgressEvent{Stage: StageDone, Terminal: true}
}

// Failed builds the failing terminal event carrying the error kind
func Failed(detail string) ProgressEvent {
	return ProgressEvent{Stage: StageFailed, Detail: detail, Terminal: true}
}
