// Command pimbridge-export runs one export job to completion and prints the
// artifact path. It can also seed the configured store from catalog files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pimbridge/internal/catalog"
	"pimbridge/internal/config"
	"pimbridge/internal/coordinator"
	"pimbridge/internal/export"
	"pimbridge/internal/jobs"
	"pimbridge/internal/mapping"
	"pimbridge/internal/metrics/setup"
	"pimbridge/internal/storage"

	_ "pimbridge/internal/storage/all"
)

type printfLogger interface {
	Printf(format string, v ...any)
}

type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	openFile    func(path string) (io.ReadCloser, error)
	initMetrics func(ctx context.Context, cfg config.Metrics, logger setup.Logger) func()
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		openRepo:    storage.Open,
		openFile:    func(p string) (io.ReadCloser, error) { return os.Open(p) },
		initMetrics: setup.Start,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

type options struct {
	cfgPath     string
	validate    bool
	format      string
	ids         string
	catalogPath string
	optionsCSV  string
	importOnly  bool
	outDir      string
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("pimbridge-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cfgPath, "config", "", "service config JSON path (defaults apply when empty)")
	fs.BoolVar(&o.validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&o.format, "format", "csv", "export format: csv, json or excel")
	fs.StringVar(&o.ids, "ids", "", "comma separated record ids (all records when empty)")
	fs.StringVar(&o.catalogPath, "catalog", "", "export records read from this file (.json, otherwise long-format CSV) instead of the store")
	fs.StringVar(&o.optionsCSV, "options-csv", "", "destination options CSV (attribute_code,code,label); requires -import")
	fs.BoolVar(&o.importOnly, "import", false, "write -catalog and -options-csv into the store and exit")
	fs.StringVar(&o.outDir, "out", "", "artifact directory (overrides output_dir)")
	fs.BoolVar(&o.verbose, "v", false, "enable verbose logs")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.optionsCSV != "" && !o.importOnly {
		return o, usageError("-options-csv requires -import")
	}
	if o.importOnly && o.catalogPath == "" && o.optionsCSV == "" {
		return o, usageError("-import needs -catalog or -options-csv")
	}
	return o, nil
}

// usageError is a flag combination the flag package cannot reject itself.
type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

func scopeOf(ids string) (jobs.Scope, error) {
	if strings.TrimSpace(ids) == "" {
		return jobs.AllRecords(), nil
	}
	return jobs.RecordIDs(strings.Split(ids, ","))
}

// runMain returns 0 on success, 1 on runtime errors or a failed job and 2 on
// usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}
	scope, err := scopeOf(o.ids)
	if err != nil {
		fmt.Fprintf(stderr, "usage: -ids: %v\n", err)
		return 2
	}
	if _, err := jobs.ParseFormat(o.format); err != nil {
		fmt.Fprintf(stderr, "usage: -format: %v\n", err)
		return 2
	}

	cfg := config.Default()
	if o.cfgPath != "" {
		if cfg, err = deps.loadConfig(o.cfgPath); err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
	}
	if o.outDir != "" {
		cfg.OutputDir = o.outDir
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		return 1
	}
	if o.validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)
	var compLog printfLogger
	if o.verbose {
		compLog = logger
	}

	stopMetrics := deps.initMetrics(ctx, cfg.Metrics, logger)
	defer stopMetrics()

	repo, err := deps.openRepo(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "open storage: %v\n", err)
		return 1
	}
	defer repo.Close()

	var src catalog.Store = repo
	var mem *catalog.MemStore
	if o.catalogPath != "" {
		if mem, err = loadCatalog(ctx, deps, o.catalogPath, logger); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		src = mem
	}

	if o.importOnly {
		if err := importInto(ctx, deps, repo, mem, o.optionsCSV, logger); err != nil {
			fmt.Fprintf(stderr, "import: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	store := jobs.NewMemStore()
	worker := &export.Worker{
		Jobs:          store,
		Catalog:       src,
		Mappings:      mapping.NewResolver(repo, compLog),
		Spreadsheet:   spreadsheetWriter(cfg.Spreadsheet),
		Logger:        compLog,
		OutputDir:     cfg.OutputDir,
		BatchSize:     cfg.Export.BatchSize,
		ProgressEvery: cfg.Export.ProgressEvery,
	}
	coord := coordinator.New(store, worker, compLog)

	start := time.Now()
	id, err := coord.CreateJob(ctx, o.format, scope)
	if err != nil {
		fmt.Fprintf(stderr, "create job: %v\n", err)
		return 1
	}

	// Cancelling ctx (SIGINT) cancels the job; Wait returns once it is recorded.
	stopCancel := context.AfterFunc(ctx, func() {
		if _, err := coord.Cancel(context.WithoutCancel(ctx), id); err != nil {
			logger.Printf("cancel job=%s: %v", id, err)
		}
	})
	coord.Wait()
	stopCancel()

	st, err := coord.Status(context.WithoutCancel(ctx), id)
	if err != nil {
		fmt.Fprintf(stderr, "status: %v\n", err)
		return 1
	}
	if st.State != coordinator.StateCompleted {
		fmt.Fprintf(stderr, "export %s %s: %s\n", id, st.State, firstNonEmpty(st.Error, st.Message))
		return 1
	}
	art, err := coord.Artifact(ctx, id)
	if err != nil {
		fmt.Fprintf(stderr, "artifact: %v\n", err)
		return 1
	}
	if o.verbose {
		logger.Printf("export %s: %d record(s) in %s", id, st.Total, time.Since(start).Truncate(time.Millisecond))
	}
	fmt.Fprintln(stdout, art.Path)
	return 0
}

// loadCatalog reads a catalog file into memory. Files ending in .json are
// read with catalog.LoadJSON, anything else as long-format CSV.
func loadCatalog(ctx context.Context, deps appDeps, path string, logger printfLogger) (*catalog.MemStore, error) {
	f, err := deps.openFile(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	mem := catalog.NewMemStore()
	var n int
	if strings.EqualFold(filepath.Ext(path), ".json") {
		n, err = catalog.LoadJSON(ctx, f, mem, func(pos int, err error) {
			logger.Printf("catalog json record %d: %v", pos, err)
		})
	} else {
		n, err = catalog.LoadCSV(ctx, f, mem, catalog.CSVOptions{}, func(line int, err error) {
			logger.Printf("catalog csv line %d: %v", line, err)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	logger.Printf("catalog: %d value(s) loaded from %s", n, path)
	return mem, nil
}

// importInto copies every record of mem (when set) into repo and replaces
// the destination options listed in optionsPath.
func importInto(ctx context.Context, deps appDeps, repo storage.Repository, mem *catalog.MemStore, optionsPath string, logger printfLogger) error {
	if mem != nil {
		total, err := mem.CountRecords(ctx)
		if err != nil {
			return err
		}
		var ids []string
		if total > 0 {
			if ids, err = mem.ListRecordIDs(ctx, 0, total); err != nil {
				return err
			}
		}
		recs, err := mem.FetchRecords(ctx, ids)
		if err != nil {
			return err
		}
		if err := repo.PutRecords(ctx, recs); err != nil {
			return err
		}
		logger.Printf("import: %d record(s)", len(recs))
	}

	if optionsPath == "" {
		return nil
	}
	f, err := deps.openFile(optionsPath)
	if err != nil {
		return fmt.Errorf("open options csv: %w", err)
	}
	defer f.Close()
	byAttr, err := catalog.LoadOptionsCSV(ctx, f, catalog.CSVOptions{}, func(line int, err error) {
		logger.Printf("options csv line %d: %v", line, err)
	})
	if err != nil {
		return err
	}
	for attr, opts := range byAttr {
		if err := repo.PutOptions(ctx, attr, opts); err != nil {
			return err
		}
	}
	logger.Printf("import: options for %d attribute(s)", len(byAttr))
	return nil
}

func spreadsheetWriter(s config.Spreadsheet) export.SpreadsheetWriter {
	if s.On() {
		return export.ExcelWriter{}
	}
	return export.Unsupported{}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
