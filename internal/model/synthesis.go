package model

// SynthesisResult is the cross-article synthesis view model
type SynthesisResult struct {
	HTML           string   `json:"synthesis"`      // Synthesis HTML with citation spans
	EvidenceRating int      `json:"evidenceRating"` // 1..5, computed from the articles
	Referenced     []string `json:"referenced"`     // PMIDs in citation order
}
