package synthesis

import (
	"math"
	"strings"

	"github.com/imedina/evidens/internal/card"
	"github.com/imedina/evidens/internal/model"
)

// studyTier maps study-type keywords to an evidence weight. Tiers are
// checked in order and the first hit per article wins, so stronger
// designs shadow weaker keywords ("systematic review" before "review").
type studyTier struct {
	keywords []string
	weight   float64
}

var studyTiers = []studyTier{
	{[]string{"meta-analysis", "metaanalysis"}, 5.0},
	{[]string{"systematic review"}, 4.5},
	{[]string{"randomized", "controlled trial", "rct"}, 4.0},
	{[]string{"cohort", "longitudinal"}, 3.5},
	{[]string{"case-control"}, 3.0},
	{[]string{"case series", "case report"}, 2.5},
	{[]string{"review", "overview"}, 2.0},
	{[]string{"expert opinion"}, 1.5},
}

const defaultRating = 3

// Rate derives the overall evidence rating from the per-article
// analyses. The quality-star badges are authoritative; when no badge
// parses, study-type keywords in the analyses decide; with no signal
// at all the rating is neutral.
func Rate(articles []model.Article) int {
	if r, ok := rateByStars(articles); ok {
		return r
	}
	if r, ok := rateByStudyType(articles); ok {
		return r
	}
	return defaultRating
}

func rateByStars(articles []model.Article) (int, bool) {
	sum, n := 0, 0
	for _, a := range articles {
		if a.SecondaryAnalysis == "" {
			continue
		}
		if stars, ok := card.CountStars(a.SecondaryAnalysis); ok {
			sum += stars
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return clamp(int(math.Round(float64(sum) / float64(n)))), true
}

func rateByStudyType(articles []model.Article) (int, bool) {
	sum, n := 0.0, 0
	for _, a := range articles {
		if a.SecondaryAnalysis == "" {
			continue
		}
		if w, ok := studyWeight(a.SecondaryAnalysis); ok {
			sum += w
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return clamp(int(math.Round(sum / float64(n)))), true
}

func studyWeight(analysis string) (float64, bool) {
	lower := strings.ToLower(analysis)
	for _, tier := range studyTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(lower, kw) {
				return tier.weight, true
			}
		}
	}
	return 0, false
}

func clamp(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}
