package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Author is the canonical author shape. Every ingress (PubMed parser,
// batch API, per-article analyze) coerces upstream variants into this.
type Author struct {
	Name string `json:"name"`
}

// AuthorList normalizes the polymorphic upstream `authors` field. Accepted
// forms: single string, array of strings, array of objects, single object.
// An empty input decodes to an empty sequence, never null.
type AuthorList []Author

// Article represents one normalized PubMed record
type Article struct {
	PMID              string        `json:"pmid"`
	Title             string        `json:"title"`
	Abstract          string        `json:"abstract,omitempty"`
	Authors           AuthorList    `json:"authors"`
	PublicationDate   string        `json:"publicationDate,omitempty"` // ISO date or free text
	DOI               string        `json:"doi,omitempty"`
	Source            string        `json:"source,omitempty"` // Journal name
	MeshTerms         []string      `json:"meshTerms,omitempty"`
	PublicationTypes  []string      `json:"publicationTypes,omitempty"`
	PriorityScore     float64       `json:"priorityScore,omitempty"` // 0..100 heuristic
	ICiteMetrics      *ICiteMetrics `json:"iCiteMetrics,omitempty"`
	SecondaryAnalysis string        `json:"secondaryAnalysis,omitempty"` // Card-envelope HTML
	AnalysisError     bool          `json:"analysisError,omitempty"`
	FullyAnalyzed     bool          `json:"fullyAnalyzed,omitempty"`
}

// ICiteMetrics holds NIH iCite citation metrics for one PMID
type ICiteMetrics struct {
	RelativeCitationRatio float64 `json:"relative_citation_ratio,omitempty"`
	CitationCount         int     `json:"citation_count,omitempty"`
	CitationsPerYear      float64 `json:"citations_per_year,omitempty"`
	APT                   float64 `json:"apt,omitempty"` // Approximate potential to translate
}

// Year returns the four-digit publication year, or "" when the date is
// free text without a leading year.
func (a Article) Year() string {
	d := strings.TrimSpace(a.PublicationDate)
	if len(d) >= 4 && isDigits(d[:4]) {
		return d[:4]
	}
	return ""
}

// HasAuthorLastName reports whether any author name contains the given
// last name as a whole word, case-insensitively.
func (a Article) HasAuthorLastName(lastName string) bool {
	want := strings.ToLower(lastName)
	for _, au := range a.Authors {
		for _, tok := range strings.Fields(strings.ToLower(au.Name)) {
			if strings.Trim(tok, ".,") == want {
				return true
			}
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MarshalJSON emits [] for an empty list so clients never see null authors
func (l AuthorList) MarshalJSON() ([]byte, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]Author(l))
}

// UnmarshalJSON coerces every upstream author form into []Author
func (l *AuthorList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		*l = AuthorList{}
		return nil
	}

	// Single string: possibly a delimiter-joined author list.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = splitAuthorString(s)
		return nil
	}

	// Array: elements may be strings or objects.
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		out := make(AuthorList, 0, len(raw))
		for _, el := range raw {
			var es string
			if err := json.Unmarshal(el, &es); err == nil {
				if name := strings.TrimSpace(es); name != "" {
					out = append(out, Author{Name: name})
				}
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(el, &obj); err != nil {
				return fmt.Errorf("authors: unsupported element %s", string(el))
			}
			if name := authorNameFromObject(obj); name != "" {
				out = append(out, Author{Name: name})
			}
		}
		*l = out
		return nil
	}

	// Single object.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		out := AuthorList{}
		if name := authorNameFromObject(obj); name != "" {
			out = append(out, Author{Name: name})
		}
		*l = out
		return nil
	}

	return fmt.Errorf("authors: unsupported value %s", trimmed)
}

// splitAuthorString turns "Smith J; Doe A" or "Smith J, Doe A" into authors
func splitAuthorString(s string) AuthorList {
	s = strings.TrimSpace(s)
	if s == "" {
		return AuthorList{}
	}
	sep := ","
	if strings.Contains(s, ";") {
		sep = ";"
	}
	out := AuthorList{}
	for _, part := range strings.Split(s, sep) {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, Author{Name: name})
		}
	}
	return out
}

func authorNameFromObject(obj map[string]json.RawMessage) string {
	str := func(key string) string {
		raw, ok := obj[key]
		if !ok {
			return ""
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}

	for _, key := range []string{"name", "fullName", "collectiveName"} {
		if v := str(key); v != "" {
			return v
		}
	}

	// PubMed-style {lastName, foreName|firstName|initials}
	last := str("lastName")
	if last == "" {
		last = str("LastName")
	}
	first := str("foreName")
	if first == "" {
		first = str("firstName")
	}
	if first == "" {
		first = str("initials")
	}
	switch {
	case last != "" && first != "":
		return last + " " + first
	case last != "":
		return last
	case first != "":
		return first
	}
	return ""
}
