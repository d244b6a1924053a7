// Command pimbridge serves the mapping and export API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pimbridge/internal/config"
	"pimbridge/internal/coordinator"
	"pimbridge/internal/export"
	"pimbridge/internal/httpapi"
	"pimbridge/internal/jobs"
	"pimbridge/internal/mapping"
	"pimbridge/internal/metrics/setup"
	"pimbridge/internal/storage"

	// config selects the backend; every backend is linked in.
	_ "pimbridge/internal/storage/all"
)

const shutdownTimeout = 30 * time.Second

type printfLogger interface {
	Printf(format string, v ...any)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	initMetrics func(ctx context.Context, cfg config.Metrics, logger setup.Logger) func()
	serve       func(ctx context.Context, srv *http.Server) error
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		openRepo:    storage.Open,
		initMetrics: setup.Start,
		serve:       serve,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain returns the process exit code: 0 on success, 1 on runtime or
// configuration errors and 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("pimbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "service config JSON path (defaults apply when empty)")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	listen := fs.String("listen", "", "listen address (overrides listen_addr)")
	verbose := fs.Bool("v", false, "enable verbose logs")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *cfgPath != "" {
		c, err := deps.loadConfig(*cfgPath)
		if err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		cfg = c
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)
	// Component logs are only wired in verbose mode.
	var compLog printfLogger
	if *verbose {
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

	jobStore, err := jobs.NewFileStore(cfg.JobsDir)
	if err != nil {
		fmt.Fprintf(stderr, "open job store: %v\n", err)
		return 1
	}

	resolver := mapping.NewResolver(repo, compLog)
	worker := &export.Worker{
		Jobs:          jobStore,
		Catalog:       repo,
		Mappings:      resolver,
		Spreadsheet:   spreadsheetWriter(cfg.Spreadsheet),
		Logger:        compLog,
		OutputDir:     cfg.OutputDir,
		BatchSize:     cfg.Export.BatchSize,
		ProgressEvery: cfg.Export.ProgressEvery,
	}
	coord := coordinator.New(jobStore, worker, compLog)

	n, err := coord.RecoverInterrupted(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "recover jobs: %v\n", err)
		return 1
	}
	if n > 0 {
		logger.Printf("startup: marked %d interrupted job(s) failed", n)
	}

	api := &httpapi.Server{
		Coordinator: coord,
		Mappings:    resolver,
		Vocabulary:  repo,
		Logger:      compLog,
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Printf("listening on %s storage=%s", cfg.ListenAddr, cfg.Storage.Kind)
	serveErr := deps.serve(ctx, srv)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: export workers: %v", err)
	}

	if serveErr != nil {
		fmt.Fprintf(stderr, "serve: %v\n", serveErr)
		return 1
	}
	return 0
}

func spreadsheetWriter(s config.Spreadsheet) export.SpreadsheetWriter {
	if s.On() {
		return export.ExcelWriter{}
	}
	return export.Unsupported{}
}

// serve runs srv until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
