package pubmed

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imedina/evidens/internal/model"
)

// Study-type signal, strongest design first. Matched case-insensitively
// against publication types, then title.
var studyTypeSignals = []struct {
	keywords []string
	signal   float64
}{
	{[]string{"meta-analysis", "metaanalysis", "meta-análisis"}, 1.0},
	{[]string{"systematic review"}, 0.9},
	{[]string{"randomized", "randomised", "controlled trial", "rct"}, 0.8},
	{[]string{"cohort", "longitudinal"}, 0.7},
	{[]string{"case-control"}, 0.6},
	{[]string{"case series", "case report"}, 0.5},
	{[]string{"review", "overview"}, 0.4},
	{[]string{"expert opinion", "editorial", "comment"}, 0.3},
}

// Journal tiers for the journal signal. Substring match on the lowercased
// journal name; anything unlisted scores the base signal.
var (
	topJournals = []string{
		"new england journal of medicine", "lancet", "jama", "bmj",
		"nature", "cell", "annals of internal medicine",
		"cochrane database of systematic reviews",
	}
	midJournals = []string{
		"plos", "circulation", "diabetes care", "journal of clinical",
		"american journal of", "european journal of",
	}
)

// scoreArticles assigns each article a 0..100 priority score: a weighted
// sum of study-type tier, recency, journal tier, and MeSH overlap with the
// question. Weights are tunable via config.
func scoreArticles(articles []model.Article, question model.Question, w model.PriorityConfig, now time.Time) {
	questionTokens := tokenize(question.Text)
	for i := range articles {
		a := &articles[i]
		score := w.StudyType*studyTypeSignal(*a) +
			w.Recency*recencySignal(*a, now) +
			w.Journal*journalSignal(a.Source) +
			w.MeshOverlap*meshOverlapSignal(a.MeshTerms, questionTokens)
		if score > 100 {
			score = 100
		}
		a.PriorityScore = score
	}
}

// sortByPriority orders by descending score, then descending publication
// date, then ascending PMID.
func sortByPriority(articles []model.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].PriorityScore != articles[j].PriorityScore {
			return articles[i].PriorityScore > articles[j].PriorityScore
		}
		if articles[i].PublicationDate != articles[j].PublicationDate {
			return articles[i].PublicationDate > articles[j].PublicationDate
		}
		return pmidLess(articles[i].PMID, articles[j].PMID)
	})
}

func studyTypeSignal(a model.Article) float64 {
	haystack := strings.ToLower(strings.Join(a.PublicationTypes, " ") + " " + a.Title)
	for _, tier := range studyTypeSignals {
		for _, kw := range tier.keywords {
			if strings.Contains(haystack, kw) {
				return tier.signal
			}
		}
	}
	return 0.3
}

// recencySignal is 1.0 within the last year, decaying linearly to 0 at 15
// years. Undated articles score the midpoint.
func recencySignal(a model.Article, now time.Time) float64 {
	year := a.Year()
	if year == "" {
		return 0.5
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0.5
	}
	age := now.Year() - y
	if age <= 1 {
		return 1.0
	}
	if age >= 15 {
		return 0
	}
	return 1.0 - float64(age-1)/14.0
}

func journalSignal(source string) float64 {
	name := strings.ToLower(source)
	if name == "" {
		return 0.4
	}
	for _, j := range topJournals {
		if strings.Contains(name, j) {
			return 1.0
		}
	}
	for _, j := range midJournals {
		if strings.Contains(name, j) {
			return 0.7
		}
	}
	return 0.4
}

// meshOverlapSignal is the fraction of question tokens that appear in any
// MeSH term of the article.
func meshOverlapSignal(meshTerms []string, questionTokens map[string]bool) float64 {
	if len(questionTokens) == 0 || len(meshTerms) == 0 {
		return 0
	}
	joined := strings.ToLower(strings.Join(meshTerms, " "))
	hits := 0
	for tok := range questionTokens {
		if strings.Contains(joined, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(questionTokens))
}

// stopWords excluded from MeSH overlap tokenization
var stopWords = map[string]bool{
	"the": true, "for": true, "and": true, "with": true, "what": true,
	"does": true, "are": true, "is": true, "of": true, "in": true,
	"los": true, "las": true, "del": true, "que": true, "para": true,
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		tok := strings.Trim(f, ".,;:¿?¡!()")
		if len(tok) < 3 || stopWords[tok] {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}

// pmidLess compares PMIDs numerically when both parse, lexically otherwise
func pmidLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
