// Package synthesis turns a set of analyzed articles into a single
// narrative answer with linked citations and an evidence rating.
package synthesis

import (
	"context"
	"fmt"
	"regexp"

	"github.com/imedina/evidens/internal/model"
)

// Gateway is the slice of the LLM gateway the engine needs.
type Gateway interface {
	Synthesize(ctx context.Context, clinicalQuestion string, articles []model.Article) (string, error)
}

// citationRe matches the "(Lastname et al., YYYY)" pattern the
// synthesis prompt instructs the model to use. Lastname may carry
// Unicode letters, hyphens and apostrophes (García-López, O'Brien).
var citationRe = regexp.MustCompile(`\(([\p{L}][\p{L}'\-]*) et al\.,? (\d{4})\)`)

// Engine runs the synthesis step of a query.
type Engine struct {
	gw Gateway
}

func NewEngine(gw Gateway) *Engine {
	return &Engine{gw: gw}
}

// Run submits the synthesis prompt and post-processes the returned
// HTML: every resolvable citation is wrapped in a span carrying the
// matching article's PMID, and the evidence rating is computed from
// the article analyses rather than from the synthesis text.
func (e *Engine) Run(ctx context.Context, clinicalQuestion string, articles []model.Article) (*model.SynthesisResult, error) {
	raw, err := e.gw.Synthesize(ctx, clinicalQuestion, articles)
	if err != nil {
		return nil, err
	}

	html, referenced := linkCitations(raw, articles)
	return &model.SynthesisResult{
		HTML:           html,
		EvidenceRating: Rate(articles),
		Referenced:     referenced,
	}, nil
}

// linkCitations resolves each "(Lastname et al., YYYY)" occurrence to
// the first article whose author list contains the last name and whose
// publication year matches. Unresolved citations stay plain text.
// Returned PMIDs are deduplicated in order of first appearance.
func linkCitations(raw string, articles []model.Article) (string, []string) {
	referenced := []string{}
	seen := make(map[string]bool)

	html := citationRe.ReplaceAllStringFunc(raw, func(match string) string {
		sub := citationRe.FindStringSubmatch(match)
		pmid := resolveCitation(articles, sub[1], sub[2])
		if pmid == "" {
			return match
		}
		if !seen[pmid] {
			seen[pmid] = true
			referenced = append(referenced, pmid)
		}
		return fmt.Sprintf(`<span class="citation" data-pmid="%s">%s</span>`, pmid, match)
	})
	return html, referenced
}

func resolveCitation(articles []model.Article, lastName, year string) string {
	for _, a := range articles {
		if a.Year() == year && a.HasAuthorLastName(lastName) {
			return a.PMID
		}
	}
	return ""
}
