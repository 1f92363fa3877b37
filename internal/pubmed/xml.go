package pubmed

import (
	"strings"

	"github.com/imedina/evidens/internal/model"
)

// EFetch XML structures (PubmedArticleSet subset)

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation medlineCitation `xml:"MedlineCitation"`
}

type medlineCitation struct {
	PMID         string          `xml:"PMID"`
	Article      journalArticle  `xml:"Article"`
	MeshHeadings []meshHeading   `xml:"MeshHeadingList>MeshHeading"`
}

type journalArticle struct {
	Title            string         `xml:"ArticleTitle"`
	Abstract         abstractBlock  `xml:"Abstract"`
	Authors          []xmlAuthor    `xml:"AuthorList>Author"`
	Journal          journalInfo    `xml:"Journal"`
	ELocationIDs     []eLocationID  `xml:"ELocationID"`
	PublicationTypes []string       `xml:"PublicationTypeList>PublicationType"`
}

type abstractBlock struct {
	Texts []abstractText `xml:"AbstractText"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type xmlAuthor struct {
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	Initials       string `xml:"Initials"`
	CollectiveName string `xml:"CollectiveName"`
}

type journalInfo struct {
	Title   string  `xml:"Title"`
	PubDate pubDate `xml:"JournalIssue>PubDate"`
}

type pubDate struct {
	Year        string `xml:"Year"`
	Month       string `xml:"Month"`
	Day         string `xml:"Day"`
	MedlineDate string `xml:"MedlineDate"`
}

type eLocationID struct {
	Type  string `xml:"EIdType,attr"`
	Value string `xml:",chardata"`
}

type meshHeading struct {
	Descriptor string `xml:"DescriptorName"`
}

// toArticle converts one EFetch record into the canonical Article shape
func (p pubmedArticle) toArticle() model.Article {
	cit := p.Citation
	art := cit.Article

	a := model.Article{
		PMID:             strings.TrimSpace(cit.PMID),
		Title:            strings.TrimSpace(art.Title),
		Abstract:         art.Abstract.flatten(),
		Authors:          model.AuthorList{},
		PublicationDate:  art.Journal.PubDate.format(),
		Source:           strings.TrimSpace(art.Journal.Title),
		PublicationTypes: trimAll(art.PublicationTypes),
	}

	for _, au := range art.Authors {
		if name := au.displayName(); name != "" {
			a.Authors = append(a.Authors, model.Author{Name: name})
		}
	}

	for _, loc := range art.ELocationIDs {
		if strings.EqualFold(loc.Type, "doi") {
			a.DOI = strings.TrimSpace(loc.Value)
			break
		}
	}

	for _, mh := range cit.MeshHeadings {
		if term := strings.TrimSpace(mh.Descriptor); term != "" {
			a.MeshTerms = append(a.MeshTerms, term)
		}
	}

	return a
}

// flatten joins structured abstract sections, keeping their labels
func (b abstractBlock) flatten() string {
	var parts []string
	for _, t := range b.Texts {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if label := strings.TrimSpace(t.Label); label != "" {
			parts = append(parts, label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func (au xmlAuthor) displayName() string {
	if c := strings.TrimSpace(au.CollectiveName); c != "" {
		return c
	}
	last := strings.TrimSpace(au.LastName)
	first := strings.TrimSpace(au.ForeName)
	if first == "" {
		first = strings.TrimSpace(au.Initials)
	}
	switch {
	case last != "" && first != "":
		return last + " " + first
	case last != "":
		return last
	default:
		return first
	}
}

var monthNumbers = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04",
	"may": "05", "jun": "06", "jul": "07", "aug": "08",
	"sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

// format renders an ISO date when year/month/day are structured, the year
// alone when only it is known, and the Medline free text otherwise.
func (d pubDate) format() string {
	year := strings.TrimSpace(d.Year)
	if year == "" {
		return strings.TrimSpace(d.MedlineDate)
	}

	month := monthNumbers[strings.ToLower(strings.TrimSpace(d.Month))]
	if month == "" {
		if m := strings.TrimSpace(d.Month); len(m) == 2 {
			month = m
		}
	}
	if month == "" {
		return year
	}

	day := strings.TrimSpace(d.Day)
	if len(day) == 1 {
		day = "0" + day
	}
	if day == "" {
		return year + "-" + month
	}
	return year + "-" + month + "-" + day
}

func trimAll(ss []string) []string {
	var out []string
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
