package extract

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
	"github.com/Dev-pucci/FCW-Targeted/internal/listing"
)

var downloadDocumentRe = regexp.MustCompile(`downloadDocument\(['"](\d+)['"],\s*['"](.*?)['"]\)`)

// Parser derives canonical document ids from listing entries.
type Parser struct {
	base *url.URL
}

// NewParser returns a Parser resolving relative links against base. An empty
// base means the public tribunal origin.
func NewParser(base string) (*Parser, error) {
	if base == "" {
		base = listing.DefaultBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%w: parser base %q: %w", crawler.ErrConfig, base, err)
	}
	return &Parser{base: u}, nil
}

// ParseEntry prefers the PDF link and falls back to the download button's
// onclick handler.
func (p *Parser) ParseEntry(entry crawler.ListingEntry) (string, error) {
	if entry.PDFHref != "" {
		if id, err := listing.CanonicalizeRelative(p.base, entry.PDFHref); err == nil {
			return id, nil
		}
	}
	if m := downloadDocumentRe.FindStringSubmatch(entry.ButtonOnClick); m != nil && m[1] != "" && m[2] != "" {
		ref := &url.URL{Path: "/document-search/view/" + m[1] + "/" + m[2]}
		return p.base.ResolveReference(ref).String(), nil
	}
	return "", fmt.Errorf("%w: page %d item %d", crawler.ErrNoEntryID, entry.Page, entry.Index)
}
