package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"pimbridge/internal/storage"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the JSON path of the field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks c. Storage kinds are checked against the registered
// backends, so callers must link them (pimbridge/internal/storage/all).
func Validate(c Config) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch kinds := storage.Kinds(); {
	case c.Storage.Kind == "":
		errf("storage.kind", "is required")
	case !slices.Contains(kinds, c.Storage.Kind):
		errf("storage.kind", "unknown kind %q (registered: %s)", c.Storage.Kind, strings.Join(kinds, ", "))
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		errf("storage.dsn", "is required")
	}

	if c.JobsDir == "" {
		errf("jobs_dir", "is required")
	}
	if c.OutputDir == "" {
		errf("output_dir", "is required")
	}

	if c.Export.BatchSize < 0 {
		errf("export.batch_size", "must be positive, got %d", c.Export.BatchSize)
	} else if c.Export.BatchSize > 10000 {
		warnf("export.batch_size", "%d is large; catalog fetches may be slow", c.Export.BatchSize)
	}
	if c.Export.ProgressEvery < 0 {
		errf("export.progress_every", "must be positive, got %d", c.Export.ProgressEvery)
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	case "pushgateway":
		if c.Metrics.PushgatewayURL == "" {
			errf("metrics.pushgateway_url", "is required for the pushgateway backend")
		} else if u, err := url.Parse(c.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			errf("metrics.pushgateway_url", "invalid URL %q", c.Metrics.PushgatewayURL)
		}
	default:
		errf("metrics.backend", "unknown backend %q (want none, pushgateway or datadog)", c.Metrics.Backend)
	}
	if c.Metrics.Tags != "" && c.Metrics.Backend != "datadog" {
		warnf("metrics.tags", "only used by the datadog backend")
	}

	if !c.Spreadsheet.On() {
		warnf("spreadsheet.enabled", "excel exports will contain CSV content")
	}
	return out
}
