package collector

import (
	"io"
	"net/http"
	"time"
)

// Strategy selects how a job gathers its payload.
type Strategy string

const (
	// StrategyDownload streams one opaque file and hands it to a Parser.
	StrategyDownload Strategy = "download"
	// StrategyInventory walks the configured entity graph.
	StrategyInventory Strategy = "inventory"
)

// IdentityHeader carries the base64 encoded tenant identity.
const IdentityHeader = "x-rh-identity"

// JobRequest describes one unit of collection work. It is passed by value and
// never mutated once accepted.
type JobRequest struct {
	SourceURL   string
	JobID       string
	Destination string
	// Identity is the caller supplied identity header, used by single tenant
	// inventory runs.
	Identity  string
	Submitted time.Time
}

// Headers are per-call request headers. They are never persisted.
type Headers map[string]string

// Record is one upstream row.
type Record map[string]any

// Links holds pagination cursors.
type Links struct {
	Next string `json:"next,omitempty"`
}

// Page is one upstream collection response.
type Page struct {
	Data  []Record `json:"data"`
	Links Links    `json:"links"`
}

// CollectionResult is every record of a collection query in page order.
type CollectionResult []Record

// ForeignKey is stamped into every record of a child collection.
type ForeignKey struct {
	Name  string
	Value any
}

// Applies reports whether the key should be written into records.
func (fk *ForeignKey) Applies() bool {
	return fk != nil && fk.Name != "" && fk.Value != nil
}

// JobPayload is the document forwarded downstream.
type JobPayload struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// TenantDescriptor identifies one tenant in a fan-out run.
type TenantDescriptor struct {
	AccountID string
	Headers   Headers
}

// Response is a successful transport response. Body must be closed by the
// caller; closing it also releases the call's connection session.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OutcomeRecord is one row of the job outcome ledger.
type OutcomeRecord struct {
	JobID      string
	Tenant     string
	Strategy   Strategy
	Status     OutcomeStatus
	Reason     Reason
	Entity     string
	Entities   int
	ArchiveURI string
	Error      string
	FinishedAt time.Time
}

// Delivery is the notification published after a payload reaches its
// destination.
type Delivery struct {
	JobID       string    `json:"job_id"`
	Tenant      string    `json:"tenant,omitempty"`
	Destination string    `json:"destination"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	Checksum    string    `json:"sha256,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
