// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Metrics live in a private registry. Vectors are created on first use, keyed
// by metric name and the sorted label names of that first observation; later
// observations of the same name must use the same label names. Flush pushes
// the whole registry to the gateway (PUT semantics, grouped by job).
package prompush

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"pimbridge/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var invalidChar = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// pusher is the subset of *push.Pusher used by Flush.
type pusher interface {
	Push() error
}

// Backend implements metrics.Backend.
type Backend struct {
	reg    *prometheus.Registry
	pusher pusher

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewBackend returns a backend pushing to gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "pimbridge"
	}
	reg := prometheus.NewRegistry()
	return newBackend(reg, push.New(gatewayURL, clean(job)).Gatherer(reg)), nil
}

func newBackend(reg *prometheus.Registry, p pusher) *Backend {
	return &Backend{
		reg:        reg,
		pusher:     p,
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		labelNames: map[string][]string{},
	}
}

var _ metrics.Backend = (*Backend)(nil)

func sortedLabelNames(l metrics.Labels) []string {
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, clean(k))
	}
	sort.Strings(names)
	return names
}

func promLabels(names []string, l metrics.Labels) prometheus.Labels {
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		out[n] = ""
	}
	for k, v := range l {
		out[clean(k)] = v
	}
	return out
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	name = clean(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	vec, ok := b.counters[name]
	if !ok {
		names := sortedLabelNames(labels)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, names)
		if err := b.reg.Register(vec); err != nil {
			return
		}
		b.counters[name] = vec
		b.labelNames[name] = names
	}
	c, err := vec.GetMetricWith(promLabels(b.labelNames[name], labels))
	if err != nil {
		return
	}
	c.Add(delta)
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	name = clean(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	vec, ok := b.histograms[name]
	if !ok {
		names := sortedLabelNames(labels)
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, names)
		if err := b.reg.Register(vec); err != nil {
			return
		}
		b.histograms[name] = vec
		b.labelNames[name] = names
	}
	h, err := vec.GetMetricWith(promLabels(b.labelNames[name], labels))
	if err != nil {
		return
	}
	h.Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
