// Package extract parses listing pages into entries, derives each entry's
// canonical document id, and builds metadata records for matched entries.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

// Selectors used on the tribunal search results page.
const (
	ResultItemSelector = ".fwc-results-item"
	pdfImageSelector   = `a[href^="/document-search/view/"] img[alt="PDF"]`
	buttonSelector     = ".fwc-button"
	chipSelector       = ".fwc-chip"
)

// ParseListing reads a listing page and returns its result entries in
// document order.
func ParseListing(r io.Reader, page int) ([]crawler.ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	return EntriesFromDocument(doc, page), nil
}

// ParseListingBytes is ParseListing over an in-memory body.
func ParseListingBytes(body []byte, page int) ([]crawler.ListingEntry, error) {
	return ParseListing(bytes.NewReader(body), page)
}

// EntriesFromDocument collects every result item of doc.
func EntriesFromDocument(doc *goquery.Document, page int) []crawler.ListingEntry {
	var entries []crawler.ListingEntry
	doc.Find(ResultItemSelector).Each(func(i int, s *goquery.Selection) {
		entries = append(entries, EntryFromSelection(s, page, i))
	})
	return entries
}

// EntryFromSelection converts one result item into plain values.
func EntryFromSelection(s *goquery.Selection, page, index int) crawler.ListingEntry {
	entry := crawler.ListingEntry{
		Page:  page,
		Index: index,
		Title: cleanText(s.Find("h3").First().Text()),
	}
	if img := s.Find(pdfImageSelector).First(); img.Length() > 0 {
		if href, ok := img.Parent().Attr("href"); ok {
			entry.PDFHref = strings.TrimSpace(href)
		}
	}
	if onclick, ok := s.Find(buttonSelector).First().Attr("onclick"); ok {
		entry.ButtonOnClick = onclick
	}
	s.Find(chipSelector).Each(func(_ int, c *goquery.Selection) {
		onclick, _ := c.Attr("onclick")
		entry.Chips = append(entry.Chips, crawler.Chip{
			Text:    cleanText(c.Text()),
			OnClick: onclick,
		})
	})
	return entry
}

// cleanText collapses the whitespace that markup indentation leaves behind.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
