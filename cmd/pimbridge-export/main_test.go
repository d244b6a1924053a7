package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pimbridge/internal/config"
	"pimbridge/internal/metrics/setup"
	"pimbridge/internal/storage"
)

const catalogCSV = "id,sku,attribute,value,uom\n1,SKU-1,color,red,\n1,SKU-1,weight,5,kg\n2,SKU-2,color,blue,\n"

const catalogJSON = `{"records": [{"id": 1, "identifier": "SKU-1", "values": [{"attribute": "color", "value": "red"}]}, {"id": 2, "identifier": "SKU-2", "values": []}]}`

const optionsCSV = "attribute_code,code,label\ncolor,red,Red\ncolor,blue,Blue\n"

func newDeps(t *testing.T) (appDeps, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"catalog.csv": catalogCSV, "catalog.json": catalogJSON, "options.csv": optionsCSV} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	cfg := config.Default()
	cfg.Storage = storage.Config{Kind: "sqlite", DSN: filepath.Join(dir, "pim.db")}
	cfg.JobsDir = filepath.Join(dir, "jobs")
	cfg.OutputDir = filepath.Join(dir, "out")

	return appDeps{
		loadConfig:  func(string) (config.Config, error) { return cfg, nil },
		openRepo:    storage.Open,
		openFile:    func(p string) (io.ReadCloser, error) { return os.Open(p) },
		initMetrics: func(context.Context, config.Metrics, setup.Logger) func() { return func() {} },
	}, dir
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		wantCode int
	}{
		{name: "unknown_flag", args: []string{"-nope"}, wantSub: "flag provided but not defined", wantCode: 2},
		{name: "options_without_import", args: []string{"-options-csv", "o.csv"}, wantSub: "-options-csv requires -import", wantCode: 2},
		{name: "import_without_input", args: []string{"-import"}, wantSub: "-import needs", wantCode: 2},
		{name: "blank_ids", args: []string{"-ids", " , "}, wantSub: "-ids:", wantCode: 2},
		{name: "bad_format", args: []string{"-format", "pdf"}, wantSub: "-format:", wantCode: 2},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{})
			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_ImportThenExport(t *testing.T) {
	t.Parallel()
	deps, dir := newDeps(t)
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	code := runMain(ctx, []string{
		"-config", "c.json", "-import",
		"-catalog", filepath.Join(dir, "catalog.csv"),
		"-options-csv", filepath.Join(dir, "options.csv"),
	}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("import exit code=%d; stderr=%q", code, stderr.String())
	}
	if stdout.String() != "ok\n" {
		t.Fatalf("import stdout=%q", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = runMain(ctx, []string{"-config", "c.json", "-format", "csv", "-ids", "2"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("export exit code=%d; stderr=%q", code, stderr.String())
	}
	path := strings.TrimSpace(stdout.String())
	if filepath.Dir(path) != filepath.Join(dir, "out") {
		t.Fatalf("artifact path=%q", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 || lines[0] != "identifier" || lines[1] != "SKU-2" {
		t.Fatalf("artifact=%q", body)
	}
}

func TestRunMain_ExportFromJSONCatalog(t *testing.T) {
	t.Parallel()
	deps, dir := newDeps(t)
	outDir := filepath.Join(dir, "elsewhere")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{
		"-config", "c.json", "-format", "json", "-out", outDir,
		"-catalog", filepath.Join(dir, "catalog.json"),
	}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d; stderr=%q", code, stderr.String())
	}
	path := strings.TrimSpace(stdout.String())
	if filepath.Dir(path) != outDir || filepath.Ext(path) != ".json" {
		t.Fatalf("artifact path=%q", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(body), "SKU-1") || !strings.Contains(string(body), "SKU-2") {
		t.Fatalf("artifact=%s", body)
	}
}
