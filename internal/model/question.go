package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Question bounds.
const (
	MinResults        = 1
	MaxResultsLimit   = 50
	DefaultMaxResults = 10
)

// Question represents one clinical question submitted by the user
type Question struct {
	Text       string `json:"question"`             // The clinical question text
	UseAI      bool   `json:"useAI"`                // Whether to run LLM strategy/analysis
	MaxResults int    `json:"maxResults,omitempty"` // Result cap (1..50, default 10)
}

// NewQuestion builds a normalized Question from raw user input.
// Text is trimmed and NFC-normalized; MaxResults of 0 takes the default.
func NewQuestion(text string, useAI bool, maxResults int) Question {
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	return Question{
		Text:       norm.NFC.String(strings.TrimSpace(text)),
		UseAI:      useAI,
		MaxResults: maxResults,
	}
}

// Validate checks the question invariants
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrEmptyQuestion
	}
	if q.MaxResults < MinResults || q.MaxResults > MaxResultsLimit {
		return ErrInvalidMaxResults
	}
	return nil
}

// Strategy is a PubMed boolean query plus the rationale that produced it
type Strategy struct {
	Strategy     string           `json:"strategy"`          // Bare PubMed query string
	FullResponse string           `json:"fullResponse"`      // LLM prose rationale
	Metrics      *StrategyMetrics `json:"metrics,omitempty"` // Self-reported quality estimates
}

// StrategyMetrics holds the LLM's self-reported estimates for the strategy
type StrategyMetrics struct {
	Sensitivity int `json:"sensitivity"` // 0..100
	Precision   int `json:"precision"`   // 0..100
}

// PassThroughStrategy returns the Strategy used when useAI=false: the
// question text itself becomes the free-text query.
func PassThroughStrategy(q Question) Strategy {
	return Strategy{Strategy: q.Text}
}
