// Package card parses and validates the HTML card envelope used to
// transport per-article appraisals between the LLM gateway and clients.
package card

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Star characters of the quality badge. Filled and empty stars are
// concatenated without spaces, always five total.
const (
	StarFilled = '★'
	StarEmpty  = '☆'
)

// EnvelopeClass marks the outer div of a well-formed card
const EnvelopeClass = "card-analysis"

// Card is the typed view of one analysis card
type Card struct {
	Stars     int       // 1..5 filled stars from the quality badge, 0 when absent
	StudyType string    // Canonical study-type label from the type badge
	Sections  []Section // card-section blocks in document order
}

// Section is one card-section block
type Section struct {
	Title string // h4 heading, may be empty
	Text  string // Flattened visible text of the section body
}

// SchemaError reports card envelope drift
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("card envelope: %s", e.Reason)
}

// Parse extracts the typed card from an HTML fragment. The fragment must
// contain a div with class card-analysis.
func Parse(fragment string) (*Card, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("unparseable HTML: %v", err)}
	}

	root := findByClass(doc, EnvelopeClass)
	if root == nil {
		return nil, &SchemaError{Reason: "missing outer div.card-analysis"}
	}

	c := &Card{}

	if badge := findByClass(root, "quality"); badge != nil {
		if stars, ok := CountStars(textContent(badge)); ok {
			c.Stars = stars
		}
	}
	if badge := findByClass(root, "type"); badge != nil {
		c.StudyType = strings.TrimSpace(textContent(badge))
	}

	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "card-section") {
			c.Sections = append(c.Sections, parseSection(n))
		}
	})

	return c, nil
}

// HasEnvelope reports whether the canonical div is the fragment's outer
// element. A card buried under stray wrapper markup does not count; it
// still needs wrapping.
func HasEnvelope(fragment string) bool {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return false
	}
	first := firstBodyElement(doc)
	return first != nil && first.Data == "div" && hasClass(first, EnvelopeClass)
}

// EnsureEnvelope wraps malformed LLM output in the canonical envelope,
// preserving all inner content verbatim.
func EnsureEnvelope(fragment string) string {
	if HasEnvelope(fragment) {
		return fragment
	}
	return `<div class="` + EnvelopeClass + `">` + fragment + `</div>`
}

// CountStars finds the first contiguous run of star characters and returns
// the number of filled stars. ok is false when no stars are present.
func CountStars(s string) (int, bool) {
	filled, total := 0, 0
	for _, r := range s {
		switch r {
		case StarFilled:
			filled++
			total++
		case StarEmpty:
			total++
		default:
			if total > 0 {
				return filled, true
			}
		}
	}
	if total > 0 {
		return filled, true
	}
	return 0, false
}

// StarBadge renders the badge text for a 1..5 rating
func StarBadge(rating int) string {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	return strings.Repeat(string(StarFilled), rating) + strings.Repeat(string(StarEmpty), 5-rating)
}

func parseSection(n *html.Node) Section {
	s := Section{}
	var body strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "h4" && s.Title == "" {
			s.Title = strings.TrimSpace(textContent(child))
			continue
		}
		body.WriteString(textContent(child))
	}
	s.Text = strings.TrimSpace(body.String())
	return s
}

// firstBodyElement returns the first element child of the parsed
// document's body. html.Parse always synthesizes html/head/body.
func firstBodyElement(doc *html.Node) *html.Node {
	body := findElement(doc, "body")
	if body == nil {
		return nil
	}
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode {
			return child
		}
	}
	return nil
}

func findElement(n *html.Node, name string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) {
		if found == nil && node.Type == html.ElementNode && node.Data == name {
			found = node
		}
	})
	return found
}

// findByClass returns the first element carrying the given class
func findByClass(n *html.Node, class string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) {
		if found == nil && node.Type == html.ElementNode && hasClass(node, class) {
			found = node
		}
	})
	return found
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, fn)
	}
}

// textContent flattens the visible text of a node, skipping scripts and styles
func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
			return
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return sb.String()
}
