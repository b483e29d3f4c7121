// Package output renders an aggregated run into the CSV export, the
// not-found report and a JSON run summary, and writes them to a blob store.
package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dev-pucci/FCW-Targeted/internal/aggregate"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

const timestampLayout = "20060102_150405"

// Headers is the CSV header row. The first eleven columns match the
// historical export; Warnings lists extraction problems for partial rows.
var Headers = []string{
	"Title",
	"Approval Date",
	"Expiry Date",
	"Agreement status",
	"Agreement Type",
	"Agreement reference code",
	"Industry",
	"Citation(FWCA Code)",
	"Download URL",
	"Page Number",
	"Worker ID",
	"Warnings",
}

// Summary is the JSON run summary.
type Summary struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Targets      int              `json:"targets"`
	Found        int              `json:"found"`
	NotFound     []string         `json:"not_found"`
	PagesVisited int              `json:"pages_visited"`
	Listings     []ListingSummary `json:"listings"`
}

// ListingSummary describes the crawl of one start URL.
type ListingSummary struct {
	StartURL     string `json:"start_url"`
	State        string `json:"state"`
	Reason       string `json:"reason"`
	Passes       int    `json:"passes"`
	PagesVisited int    `json:"pages_visited"`
	Skipped      bool   `json:"skipped,omitempty"`
}

// Files lists the URIs written by Writer.Write.
type Files struct {
	CSV      string
	NotFound string
	Summary  string
}

// EncodeCSV writes found records as CSV, one row per record in the given order.
func EncodeCSV(w io.Writer, found []crawler.Metadata) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range found {
		row := []string{
			rec.Title,
			rec.ApprovalDate,
			rec.NominalExpiry,
			rec.Status,
			rec.AgreementType,
			rec.AgreementCode,
			rec.Industry,
			rec.FWCACode,
			rec.DownloadURL,
			strconv.Itoa(rec.PageNumber),
			strconv.Itoa(rec.WorkerID),
			strings.Join(rec.Warnings, "; "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// EncodeNotFound writes one id per line.
func EncodeNotFound(w io.Writer, ids []string) error {
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return fmt.Errorf("write not-found id: %w", err)
		}
	}
	return nil
}

// EncodeSummary writes s as indented JSON.
func EncodeSummary(w io.Writer, s Summary) error {
	if s.NotFound == nil {
		s.NotFound = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// CSVName returns the export file name for a run finished at t.
func CSVName(t time.Time) string {
	return "target_agreements_" + t.Format(timestampLayout) + ".csv"
}

// NotFoundName returns the not-found report file name.
func NotFoundName(t time.Time) string {
	return "not_found_" + t.Format(timestampLayout) + ".txt"
}

// SummaryName returns the run summary file name.
func SummaryName(t time.Time) string {
	return "run_summary_" + t.Format(timestampLayout) + ".json"
}

// Writer renders results into a blob store under a directory prefix.
type Writer struct {
	store  crawler.BlobStore
	clock  crawler.Clock
	dir    string
	logger *zap.Logger
}

// NewWriter builds a Writer. dir is a path prefix inside store and may be empty.
func NewWriter(store crawler.BlobStore, clock crawler.Clock, dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, clock: clock, dir: dir, logger: logger.Named("output")}
}

// Write renders every artifact and attempts all of them; failures are joined.
// The CSV is skipped when nothing was found and the not-found report when
// every target was found.
func (w *Writer) Write(ctx context.Context, res aggregate.Result, summary Summary) (Files, error) {
	now := w.clock.Now()
	var (
		files Files
		errs  []error
	)

	if len(res.Found) == 0 {
		w.logger.Warn("no results to export")
	} else {
		var buf bytes.Buffer
		if err := EncodeCSV(&buf, res.Found); err != nil {
			errs = append(errs, err)
		} else if uri, err := w.put(ctx, CSVName(now), "text/csv; charset=utf-8", &buf); err != nil {
			errs = append(errs, err)
		} else {
			files.CSV = uri
			w.logger.Info("exported records", zap.Int("records", len(res.Found)), zap.String("uri", uri))
		}
	}

	if len(res.NotFound) > 0 {
		w.logger.Warn("targets not found", zap.Int("count", len(res.NotFound)), zap.Strings("ids", res.NotFound))
		var buf bytes.Buffer
		if err := EncodeNotFound(&buf, res.NotFound); err != nil {
			errs = append(errs, err)
		} else if uri, err := w.put(ctx, NotFoundName(now), "text/plain; charset=utf-8", &buf); err != nil {
			errs = append(errs, err)
		} else {
			files.NotFound = uri
		}
	}

	var buf bytes.Buffer
	if err := EncodeSummary(&buf, summary); err != nil {
		errs = append(errs, err)
	} else if uri, err := w.put(ctx, SummaryName(now), "application/json", &buf); err != nil {
		errs = append(errs, err)
	} else {
		files.Summary = uri
	}

	return files, errors.Join(errs...)
}

func (w *Writer) put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	p := name
	if w.dir != "" {
		p = path.Join(w.dir, name)
	}
	uri, err := w.store.PutObject(ctx, p, contentType, r)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return uri, nil
}
