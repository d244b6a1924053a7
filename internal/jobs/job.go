// Package jobs holds export job descriptors and the stores that persist them.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pimbridge/internal/errs"
)

// Status is the lifecycle state of an export job.
//
//	PENDING -> PROCESSING -> COLLECTING_DATA -> GENERATING_FILE -> COMPLETED
//
// Any non-terminal state may move to FAILED or CANCELLED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCollecting Status = "COLLECTING_DATA"
	StatusGenerating Status = "GENERATING_FILE"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrTerminal is returned by Store.Update when the job already reached a
// terminal status.
var ErrTerminal = errors.New("jobs: job is terminal")

// Format is the artifact format of an export.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

// ParseFormat accepts csv, json and excel (case-insensitive). xlsx and xls
// are aliases of excel.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "excel", "xlsx", "xls":
		return FormatExcel, nil
	}
	return "", fmt.Errorf("jobs: unknown format %q: %w", s, errs.ErrValidation)
}

// Extension is the artifact file extension, without the dot.
func (f Format) Extension() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return string(f)
}

// ContentType is the MIME type the artifact is served with.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// Scope selects the records of an export: every record, or an explicit list
// of record ids. It encodes as the JSON string "all" or an array of ids.
type Scope struct {
	All bool
	IDs []string
}

// AllRecords is the scope covering the whole catalog.
func AllRecords() Scope { return Scope{All: true} }

// RecordIDs builds an explicit scope. Blank ids are dropped and duplicates
// removed, keeping first-seen order; an empty result is a validation error.
func RecordIDs(ids []string) (Scope, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return Scope{}, fmt.Errorf("jobs: scope needs at least one record id: %w", errs.ErrValidation)
	}
	return Scope{IDs: out}, nil
}

func (s Scope) String() string {
	if s.All {
		return "all"
	}
	return fmt.Sprintf("%d ids", len(s.IDs))
}

func (s Scope) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("all")
	}
	ids := s.IDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (s *Scope) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if !strings.EqualFold(str, "all") {
			return fmt.Errorf("jobs: scope %q: want \"all\" or a list of ids: %w", str, errs.ErrValidation)
		}
		*s = AllRecords()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return fmt.Errorf("jobs: scope: %v: %w", err, errs.ErrValidation)
	}
	sc, err := RecordIDs(ids)
	if err != nil {
		return err
	}
	*s = sc
	return nil
}

// Job is the persisted descriptor of one export.
type Job struct {
	ID     string `json:"id"`
	Format Format `json:"format"`
	Scope  Scope  `json:"scope"`
	Status Status `json:"status"`

	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Progress  float64 `json:"progress"`

	ArtifactPath string `json:"artifact_path,omitempty"`
	Error        string `json:"error,omitempty"`
	// Note carries non-error remarks, e.g. "fallback=csv".
	Note string `json:"note,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob returns a PENDING descriptor.
func NewJob(id string, format Format, scope Scope, now time.Time) Job {
	return Job{ID: id, Format: format, Scope: scope, Status: StatusPending, CreatedAt: now.UTC()}
}

// Finish moves j to a terminal status.
func (j *Job) Finish(status Status, now time.Time) {
	t := now.UTC()
	j.Status = status
	j.CompletedAt = &t
}
