package extract

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

const listingDateLayout = "2 January 2006"

var (
	fwcaInTitleRe  = regexp.MustCompile(`\[\d{4}\]\s*FWCA\s*\d+`)
	fwcaChipRe     = regexp.MustCompile(`^\[\d{4}\]\s*FWCA\s*\d+$`)
	bareDateRe     = regexp.MustCompile(`^\d{1,2}\s+[A-Za-z]+\s+\d{4}$`)
	agreementCode  = regexp.MustCompile(`^AE\d+$`)
	applyTagFilter = regexp.MustCompile(`applyTagAsFilter\(['"](.*?)['"],\s*['"](.*?)['"]\)`)

	agreementTypes   = []string{"Single-enterprise Agreement", "Multi-enterprise Agreement", "Greenfields Agreement"}
	industryKeywords = []string{"industry", "Building", "Construction", "Metal", "Health", "Education", "Mining", "services"}
	statusValues     = []string{"Approved", "Current", "Terminated", "Superseded"}
)

// Extractor builds metadata records from listing entries using the chip
// conventions of the tribunal search page.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractMetadata fills every field it can recognize. Malformed fields are
// reported through an ErrExtract error and the record's Warnings; the record
// is still usable.
func (e *Extractor) ExtractMetadata(entry crawler.ListingEntry, id string, workerID int) (crawler.Metadata, error) {
	rec := crawler.Metadata{
		ID:          id,
		Title:       entry.Title,
		DownloadURL: id,
		PageNumber:  entry.Page,
		WorkerID:    workerID,
	}
	rec.FWCACode = fwcaInTitleRe.FindString(rec.Title)

	for _, chip := range entry.Chips {
		applyChip(&rec, chip)
	}

	var problems []error
	if rec.Title == "" {
		problems = append(problems, errors.New("missing title"))
	}
	if err := checkDate("approval date", rec.ApprovalDate); err != nil {
		problems = append(problems, err)
	}
	if err := checkDate("nominal expiry", rec.NominalExpiry); err != nil {
		problems = append(problems, err)
	}
	if len(problems) == 0 {
		return rec, nil
	}
	for _, p := range problems {
		rec.Warnings = append(rec.Warnings, p.Error())
	}
	return rec, fmt.Errorf("%w: %s: %w", crawler.ErrExtract, id, errors.Join(problems...))
}

func applyChip(rec *crawler.Metadata, chip crawler.Chip) {
	text := chip.Text

	switch {
	case strings.Contains(text, "Approved:"):
		rec.ApprovalDate = strings.TrimSpace(strings.ReplaceAll(text, "Approved:", ""))
	case rec.ApprovalDate == "" && bareDateRe.MatchString(text):
		rec.ApprovalDate = text
	}
	if strings.Contains(text, "Nominal expiry:") {
		rec.NominalExpiry = strings.TrimSpace(strings.ReplaceAll(text, "Nominal expiry:", ""))
	}
	if agreementCode.MatchString(text) {
		rec.AgreementCode = text
	}
	if rec.FWCACode == "" && fwcaChipRe.MatchString(text) {
		rec.FWCACode = text
	}
	if slices.Contains(agreementTypes, text) {
		rec.AgreementType = text
	}
	if containsAny(text, industryKeywords) {
		rec.Industry = text
	}
	switch {
	case strings.Contains(text, "Status:"):
		rec.Status = strings.TrimSpace(strings.ReplaceAll(text, "Status:", ""))
	case slices.Contains(statusValues, text):
		rec.Status = text
	}

	m := applyTagFilter.FindStringSubmatch(chip.OnClick)
	if m == nil {
		return
	}
	switch value := m[2]; m[1] {
	case "Status":
		if rec.Status == "" {
			rec.Status = value
		}
	case "AgreementType":
		if rec.AgreementType == "" {
			rec.AgreementType = value
		}
	case "Industry":
		if rec.Industry == "" {
			rec.Industry = value
		}
	}
}

func checkDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(listingDateLayout, value); err != nil {
		return fmt.Errorf("%s %q is not a date", field, value)
	}
	return nil
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
