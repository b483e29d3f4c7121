// Package detector tells an exhausted tribunal listing apart from a search
// page whose results were never rendered into the HTTP response.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Dev-pucci/FCW-Targeted/internal/extract"
)

// searchIconSelector is the search button the results pane hangs off. The
// page carries it even when results are filled in by script.
const searchIconSelector = ".fwc-input-search-icon"

// DefaultMinVisibleText is the amount of visible body text below which a
// scripted page with no results is treated as a shell.
const DefaultMinVisibleText = 120

var noResultsPhrases = []string{
	"no results",
	"0 results",
	"no documents found",
	"no matching",
}

// Detector inspects listing responses that yielded no result items.
type Detector struct {
	MinVisibleText int
}

// New returns a Detector with default thresholds.
func New() *Detector {
	return &Detector{MinVisibleText: DefaultMinVisibleText}
}

// NeedsRendering reports whether a response without result items is a page
// shell rather than the end of the listing. Non-200 responses never are; an
// explicit "no results" message always ends the listing.
func (d *Detector) NeedsRendering(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(extract.ResultItemSelector).Length() > 0 {
		return false
	}

	scripts := doc.Find("script").Length()
	doc.Find("script, noscript, style, template").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	for _, phrase := range noResultsPhrases {
		if strings.Contains(text, phrase) {
			return false
		}
	}
	if doc.Find(searchIconSelector).Length() > 0 {
		return true
	}
	return scripts > 0 && len(text) < d.MinVisibleText
}
