package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Recorder is an in-memory collector.Metrics used by tests and by the CLI
// when no metrics endpoint is served.
type Recorder struct {
	mu        sync.Mutex
	attempted map[string]int
	succeeded map[string]int
	failed    map[string]int
	received  int
	denied    int
	initiated int
	active    int
	finished  int
	outcomes  []collector.Outcome
	sizes     []int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		attempted: make(map[string]int),
		succeeded: make(map[string]int),
		failed:    make(map[string]int),
	}
}

// RequestAttempted implements collector.Metrics.
func (r *Recorder) RequestAttempted(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempted[strings.ToUpper(method)]++
}

// RequestSucceeded implements collector.Metrics.
func (r *Recorder) RequestSucceeded(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded[strings.ToUpper(method)]++
}

// RequestFailed implements collector.Metrics.
func (r *Recorder) RequestFailed(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[strings.ToUpper(method)]++
}

// JobReceived implements collector.Metrics.
func (r *Recorder) JobReceived() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
}

// JobDenied implements collector.Metrics.
func (r *Recorder) JobDenied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied++
}

// JobInitiated implements collector.Metrics.
func (r *Recorder) JobInitiated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiated++
}

// JobStarted implements collector.Metrics.
func (r *Recorder) JobStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
}

// JobFinished implements collector.Metrics.
func (r *Recorder) JobFinished(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.finished++
}

// OutcomeObserved implements collector.Metrics.
func (r *Recorder) OutcomeObserved(_ collector.Strategy, outcome collector.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

// PayloadForwarded implements collector.Metrics.
func (r *Recorder) PayloadForwarded(bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, bytes)
}

// RequestCounts returns attempted, succeeded and failed counts for method.
func (r *Recorder) RequestCounts(method string) (attempted, succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := strings.ToUpper(method)
	return r.attempted[m], r.succeeded[m], r.failed[m]
}

// JobCounts returns received, denied and initiated counts.
func (r *Recorder) JobCounts() (received, denied, initiated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.denied, r.initiated
}

// Finished returns how many jobs completed.
func (r *Recorder) Finished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Outcomes returns a copy of the observed outcomes.
func (r *Recorder) Outcomes() []collector.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]collector.Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// PayloadSizes returns a copy of the forwarded payload sizes.
func (r *Recorder) PayloadSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.sizes))
	copy(out, r.sizes)
	return out
}
