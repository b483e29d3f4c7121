// Package listing builds paginated, filtered search listing URLs and
// canonicalizes document URLs into registry ids.
package listing

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

// DefaultBase is the origin relative document links resolve against.
const DefaultBase = "https://tribunalsearch.fwc.gov.au"

// DefaultStartURL is the agreement search ordered by newest approval first.
const DefaultStartURL = DefaultBase + "/document-search?q=*&options=SearchType_3%2CSortOrder_agreement-date-desc"

const (
	agreementTypePrefix = "AgreementType_"
	statusPrefix        = "Status_"
)

var defaultBase, _ = url.Parse(DefaultBase)

// Canonicalize resolves raw against the default base and strips its query
// string and fragment. The result is the identity used by the registry.
func Canonicalize(raw string) (string, error) {
	return CanonicalizeRelative(defaultBase, raw)
}

// CanonicalizeRelative is Canonicalize with an explicit base URL.
func CanonicalizeRelative(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", crawler.ErrNoEntryID)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// CanonicalizeAll canonicalizes ids, failing on the first malformed one.
func CanonicalizeAll(raws []string) ([]string, error) {
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		id, err := Canonicalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: target url: %w", crawler.ErrConfig, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Filters narrows a listing to one agreement type and/or status. Empty
// fields leave the listing's own options untouched.
type Filters struct {
	AgreementType string
	Status        string
}

// Builder produces page URLs for one start URL.
type Builder struct {
	base *url.URL
}

// NewBuilder applies filters to startURL once and returns a Builder for it.
func NewBuilder(startURL string, filters Filters) (*Builder, error) {
	u, err := url.Parse(strings.TrimSpace(startURL))
	if err != nil {
		return nil, fmt.Errorf("%w: start url %q: %w", crawler.ErrConfig, startURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: start url %q is not absolute", crawler.ErrConfig, startURL)
	}
	q := u.Query()
	applyFilters(q, filters)
	u.RawQuery = q.Encode()
	return &Builder{base: u}, nil
}

// Host is the listing host, used to scope rate limiting.
func (b *Builder) Host() string {
	return b.base.Host
}

// Base returns the filtered start URL.
func (b *Builder) Base() string {
	return b.base.String()
}

// PageURL returns the listing URL for a 1-based page. Page 1 carries no page
// parameter.
func (b *Builder) PageURL(page int) string {
	u := *b.base
	q := u.Query()
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	} else {
		q.Del("page")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolve turns an href found on a listing page into an absolute URL.
func (b *Builder) Resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return b.base.ResolveReference(ref).String(), nil
}

func applyFilters(q url.Values, f Filters) {
	if f.AgreementType == "" && f.Status == "" {
		return
	}
	var opts []string
	if raw := q.Get("options"); raw != "" {
		opts = strings.Split(raw, ",")
	}
	if f.AgreementType != "" {
		opts = replaceOption(opts, agreementTypePrefix, f.AgreementType)
	}
	if f.Status != "" {
		opts = replaceOption(opts, statusPrefix, f.Status)
	}
	q.Set("options", strings.Join(opts, ","))
}

func replaceOption(opts []string, prefix, value string) []string {
	kept := opts[:0:0]
	for _, o := range opts {
		if !strings.HasPrefix(o, prefix) {
			kept = append(kept, o)
		}
	}
	return append(kept, prefix+strings.ReplaceAll(value, " ", "_"))
}
