// Package setup installs the metrics backend selected by configuration.
package setup

import (
	"context"
	"time"

	"pimbridge/internal/config"
	"pimbridge/internal/metrics"
	"pimbridge/internal/metrics/datadog"
	"pimbridge/internal/metrics/prompush"
)

// Logger is the minimal logging interface. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Start installs the backend named by cfg.Backend as the process-wide
// metrics backend. The returned stop function flushes (pushgateway) or
// closes (datadog) it; call it once at shutdown.
//
// Backend init failures are logged and leave the nop backend in place, so
// metrics never prevent the service from starting.
func Start(ctx context.Context, cfg config.Metrics, logger Logger) (stop func()) {
	stop = func() {}

	switch cfg.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.JobName, cfg.PushgatewayURL)
		if err != nil {
			logger.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return stop
		}
		logger.Printf("metrics: backend=pushgateway url=%s job_name=%s", cfg.PushgatewayURL, cfg.JobName)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Printf("metrics: flush error: %v", err)
			}
		}

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.JobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return stop
		}
		logger.Printf("metrics: backend=datadog job_name=%s tags=%v", cfg.JobName, tags)
		metrics.SetBackend(b)
		// Close stops the periodic flush loop and then performs a final Flush.
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		logger.Printf("metrics: disabled")
	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", cfg.Backend)
	}
	return stop
}
