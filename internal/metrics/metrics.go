// Package metrics is the process-wide metrics facade. Export code records
// through the helpers here; the binary picks a Backend (Datadog, Pushgateway
// or none) at startup.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the export pipeline.
const (
	JobsTotal           = "export_jobs_total"
	RecordsTotal        = "export_records_total"
	BatchesTotal        = "export_batches_total"
	StepDurationSeconds = "export_step_duration_seconds"

	HTTPRequestsTotal          = "http_requests_total"
	HTTPRequestDurationSeconds = "http_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordJob counts one job reaching a terminal status.
func RecordJob(status string) {
	current().IncCounter(JobsTotal, 1, Labels{"status": status})
}

// RecordRecords counts n records of kind (collected, written).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one catalog batch fetch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordStep observes how long one worker step took and how it ended.
func RecordStep(step, status string, d time.Duration) {
	current().ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"step": step, "status": status})
}

// RecordHTTP counts one served request and observes its duration.
func RecordHTTP(status int, d time.Duration) {
	l := Labels{"status": strconv.Itoa(status)}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	b.ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
}
