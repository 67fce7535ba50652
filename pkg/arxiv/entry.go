package arxiv

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
)

const (
	absPrefix = "https://arxiv.org/abs/"
	pdfPrefix = "https://arxiv.org/pdf/"
)

// Entry is one search hit from the export API.
type Entry struct {
	// ID is the versioned arXiv identifier, e.g. "2101.00001v2".
	ID              string
	Title           string
	Summary         string
	Authors         []string
	Published       time.Time
	Updated         time.Time
	PDFURL          string
	PrimaryCategory string
}

// AbsURL returns the canonical abstract page URL, which is the stable
// identity of the paper.
func (e Entry) AbsURL() string {
	return absPrefix + e.ID
}

type atomFeed struct {
	XMLName      xml.Name    `xml:"feed"`
	TotalResults int         `xml:"http://a9.com/-/spec/opensearch/1.1/ totalResults"`
	Entries      []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
	Category  atomCategory `xml:"http://arxiv.org/schemas/atom primary_category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// isError reports whether the entry is the pseudo entry arXiv returns for
// malformed queries.
func (a atomEntry) isError() bool {
	return strings.Contains(a.ID, "/api/errors")
}

func (a atomEntry) toEntry() Entry {
	id := a.ID
	if i := strings.Index(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	id = strings.TrimSpace(id)

	e := Entry{
		ID:              id,
		Title:           util.CollapseWhitespace(a.Title),
		Summary:         util.CollapseWhitespace(a.Summary),
		Published:       parseTime(a.Published),
		Updated:         parseTime(a.Updated),
		PrimaryCategory: a.Category.Term,
	}
	for _, au := range a.Authors {
		if name := util.CollapseWhitespace(au.Name); name != "" {
			e.Authors = append(e.Authors, name)
		}
	}
	for _, l := range a.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			e.PDFURL = strings.Replace(l.Href, "http://", "https://", 1)
			break
		}
	}
	if e.PDFURL == "" && id != "" {
		e.PDFURL = pdfPrefix + id
	}
	return e
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
