package crawler

// Target is a document the run must locate, keyed by its canonical id.
type Target struct {
	ID            string
	Found         bool
	Record        *Metadata
	FoundOnPage   int
	FoundByWorker int
}

// Metadata is the record extracted for a matched listing entry.
type Metadata struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	ApprovalDate  string   `json:"approval_date"`
	NominalExpiry string   `json:"nominal_expiry"`
	Status        string   `json:"status"`
	AgreementType string   `json:"agreement_type"`
	AgreementCode string   `json:"agreement_code"`
	Industry      string   `json:"industry"`
	FWCACode      string   `json:"fwca_code"`
	DownloadURL   string   `json:"download_url"`
	PageNumber    int      `json:"page_number"`
	WorkerID      int      `json:"worker_id"`
	Warnings      []string `json:"warnings,omitempty"`
	DocumentURI   string   `json:"document_uri,omitempty"`
	DocumentHash  string   `json:"document_hash,omitempty"`
}

// WithDocument returns a copy of m that references a downloaded attachment.
func (m Metadata) WithDocument(uri, hash string) Metadata {
	out := m
	out.Warnings = append([]string(nil), m.Warnings...)
	out.DocumentURI = uri
	out.DocumentHash = hash
	return out
}

// PageAssignment is the inclusive page range one worker scans in one pass.
type PageAssignment struct {
	RangeStart int `json:"range_start"`
	RangeEnd   int `json:"range_end"`
	WorkerID   int `json:"worker_id"`
	PassNumber int `json:"pass"`
}

// Pages returns the number of pages covered by the assignment.
func (a PageAssignment) Pages() int {
	if a.RangeEnd < a.RangeStart {
		return 0
	}
	return a.RangeEnd - a.RangeStart + 1
}

// RunState is owned by the retry controller and advanced between passes.
type RunState struct {
	Pass            int
	PagesVisited    int
	BudgetRemaining int
	NextPage        int
}

// Chip is one tag rendered under a listing result.
type Chip struct {
	Text    string
	OnClick string
}

// ListingEntry is a single result row parsed from a listing page.
type ListingEntry struct {
	Page          int
	Index         int
	PDFHref       string
	ButtonOnClick string
	Title         string
	Chips         []Chip
}

// Match is sent by a worker once it wins the found transition for a target.
type Match struct {
	ID       string
	Record   Metadata
	Page     int
	WorkerID int
	Pass     int
}

// StopReason explains why a worker ended its assignment.
type StopReason string

// Worker stop reasons.
const (
	StopRangeExhausted StopReason = "range_exhausted"
	StopAllFound       StopReason = "all_found"
	StopEndOfListing   StopReason = "end_of_listing"
	StopCanceled       StopReason = "canceled"
	StopCrashed        StopReason = "crashed"
)

// WorkerReport is the completion status of one worker for one assignment.
type WorkerReport struct {
	WorkerID     int
	Assignment   PageAssignment
	PagesVisited int
	// LastPage is the last page fully processed; RangeStart-1 when none was.
	LastPage int
	Found    int
	Stop     StopReason
	Err      error
}

// Remainder returns the unvisited tail of a crashed assignment.
func (r WorkerReport) Remainder() (PageAssignment, bool) {
	if r.Stop != StopCrashed || r.LastPage >= r.Assignment.RangeEnd {
		return PageAssignment{}, false
	}
	rest := r.Assignment
	rest.RangeStart = r.LastPage + 1
	return rest, true
}

// PassResult summarizes one joined pass.
type PassResult struct {
	Reports      []WorkerReport
	PagesVisited int
	EndOfListing bool
	// Deferred holds crashed sub-ranges that could not be reassigned in the pass.
	Deferred []PageAssignment
}
