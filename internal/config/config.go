// Package config loads the JSON configuration shared by the pimbridge
// binaries and validates it.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"pimbridge/internal/storage"
)

// Config is the root of the configuration file.
type Config struct {
	// ListenAddr is the HTTP listen address of the service.
	ListenAddr string `json:"listen_addr"`

	// Storage selects the catalog/mapping backend. DSN is expanded with
	// os.ExpandEnv so credentials can come from the environment.
	Storage storage.Config `json:"storage"`

	// JobsDir holds one JSON descriptor per export job.
	JobsDir string `json:"jobs_dir"`
	// OutputDir holds export artifacts.
	OutputDir string `json:"output_dir"`

	Export      Export      `json:"export"`
	Spreadsheet Spreadsheet `json:"spreadsheet"`
	Metrics     Metrics     `json:"metrics"`
}

// Export tunes the export worker.
type Export struct {
	BatchSize     int `json:"batch_size"`
	ProgressEvery int `json:"progress_every"`
}

// Spreadsheet toggles native spreadsheet generation. When disabled, excel
// exports fall back to CSV content.
type Spreadsheet struct {
	Enabled *bool `json:"enabled"`
}

// On reports whether spreadsheet generation is enabled (default true).
func (s Spreadsheet) On() bool { return s.Enabled == nil || *s.Enabled }

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is one of "none", "pushgateway", "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	JobName        string `json:"job_name"`
	// Tags is a comma separated list of extra Datadog tags (k:v,...).
	Tags string `json:"tags"`
}

const (
	DefaultListenAddr    = ":8080"
	DefaultJobsDir       = "var/jobs"
	DefaultOutputDir     = "var/exports"
	DefaultBatchSize     = 100
	DefaultProgressEvery = 10
	DefaultJobName       = "pimbridge"
)

// Default returns a configuration that runs on a local SQLite file.
func Default() Config {
	c := Config{Storage: storage.Config{Kind: "sqlite", DSN: "var/pimbridge.db"}}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.JobsDir == "" {
		c.JobsDir = DefaultJobsDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Export.BatchSize == 0 {
		c.Export.BatchSize = DefaultBatchSize
	}
	if c.Export.ProgressEvery == 0 {
		c.Export.ProgressEvery = DefaultProgressEvery
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.JobName == "" {
		c.Metrics.JobName = DefaultJobName
	}
}

// Load reads the file at path, applies defaults and expands environment
// variables in the storage DSN.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	c.Storage.DSN = os.ExpandEnv(c.Storage.DSN)
	c.applyDefaults()
	return c, nil
}
