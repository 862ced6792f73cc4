package collector

import (
	"context"
	"io"
	"time"
)

// Transport executes one logical HTTP call with a bounded retry budget.
type Transport interface {
	Execute(ctx context.Context, method, url string, headers Headers, body any) (*Response, error)
}

// Paginator walks a cursor linked collection to completion.
type Paginator interface {
	Collect(ctx context.Context, startURL string, headers Headers, fk *ForeignKey) (CollectionResult, error)
}

// Parser turns a downloaded artifact into the payload data.
type Parser interface {
	Parse(ctx context.Context, path string) (any, error)
}

// Queue provides bounded enqueue/dequeue semantics for jobs. Enqueue takes a
// free slot even when ctx has already expired.
type Queue interface {
	Enqueue(ctx context.Context, job JobRequest) error
	Dequeue(ctx context.Context) (JobRequest, error)
}

// BlobStore writes delivered payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes delivery notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutcomeStore appends job outcomes to a ledger.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, record OutcomeRecord) error
}

// Metrics receives counters and timings. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RequestAttempted(method string)
	RequestSucceeded(method string)
	RequestFailed(method string)
	JobReceived()
	JobDenied()
	JobInitiated()
	JobStarted()
	JobFinished(elapsed time.Duration)
	OutcomeObserved(strategy Strategy, outcome Outcome)
	PayloadForwarded(bytes int)
}

// Hasher digests a delivered payload body.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RequestAttempted(string)           {}
func (NopMetrics) RequestSucceeded(string)           {}
func (NopMetrics) RequestFailed(string)              {}
func (NopMetrics) JobReceived()                      {}
func (NopMetrics) JobDenied()                        {}
func (NopMetrics) JobInitiated()                     {}
func (NopMetrics) JobStarted()                       {}
func (NopMetrics) JobFinished(time.Duration)         {}
func (NopMetrics) OutcomeObserved(Strategy, Outcome) {}
func (NopMetrics) PayloadForwarded(int)              {}
