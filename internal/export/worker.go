package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"pimbridge/internal/catalog"
	"pimbridge/internal/errs"
	"pimbridge/internal/jobs"
	"pimbridge/internal/mapping"
	"pimbridge/internal/metrics"
)

const (
	DefaultBatchSize     = 100
	DefaultProgressEvery = 10

	// maxRunningProgress caps the fraction reported before COMPLETED, so only
	// a completed job ever reads 1.
	maxRunningProgress = 0.99

	// NoteCSVFallback marks a spreadsheet job whose artifact holds CSV content.
	NoteCSVFallback = "fallback=csv"
)

// Logger is the minimal logging interface used by the worker.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Snapshotter loads the mapping snapshot a job resolves against.
// *mapping.Resolver implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*mapping.Index, error)
}

// errCancelled stops a run that observed its job in CANCELLED.
var errCancelled = errors.New("export: job cancelled")

// Worker runs export jobs. One Worker may run many jobs concurrently; all
// per-job state lives in Run.
type Worker struct {
	Jobs        jobs.Store
	Catalog     catalog.Store
	Mappings    Snapshotter
	Spreadsheet SpreadsheetWriter
	Logger      Logger

	// OutputDir receives export_<id>.<ext> artifacts.
	OutputDir string

	// BatchSize is the number of records fetched per catalog call.
	BatchSize int
	// ProgressEvery is the number of records between progress writes.
	ProgressEvery int

	now func() time.Time
}

func (w *Worker) logf(format string, v ...any) {
	if w.Logger == nil {
		log.New(discardWriter{}, "", 0).Printf(format, v...)
		return
	}
	w.Logger.Printf(format, v...)
}

func (w *Worker) clock() time.Time {
	if w.now == nil {
		return time.Now().UTC()
	}
	return w.now().UTC()
}

func (w *Worker) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

func (w *Worker) progressEvery() int {
	if w.ProgressEvery > 0 {
		return w.ProgressEvery
	}
	return DefaultProgressEvery
}

// ArtifactPath is where the artifact of job id in format f is written.
func ArtifactPath(dir, id string, f jobs.Format) string {
	return filepath.Join(dir, fmt.Sprintf("export_%s.%s", id, f.Extension()))
}

// Run drives job id from PENDING to a terminal status.
//
// Failures are recorded on the job (FAILED plus its message) and also
// returned. A cancelled job returns nil. Run never retries.
func (w *Worker) Run(ctx context.Context, id string) error {
	err := w.run(ctx, id)
	switch {
	case err == nil:
		metrics.RecordJob("completed")
		w.logf("export: job=%s status=%s", id, jobs.StatusCompleted)
		return nil
	case errors.Is(err, errCancelled):
		metrics.RecordJob("cancelled")
		w.logf("export: job=%s status=%s", id, jobs.StatusCancelled)
		return nil
	case errors.Is(err, jobs.ErrTerminal):
		// Someone else finished the job (cancelled before we claimed it, or a
		// duplicate dispatch).
		w.logf("export: job=%s already terminal; nothing to do", id)
		return nil
	}

	metrics.RecordJob("failed")
	w.logf("export: job=%s status=%s err=%v", id, jobs.StatusFailed, err)
	_, uerr := w.Jobs.Update(context.WithoutCancel(ctx), id, func(j *jobs.Job) error {
		j.Error = err.Error()
		j.Finish(jobs.StatusFailed, w.clock())
		return nil
	})
	if uerr != nil && !errors.Is(uerr, jobs.ErrTerminal) {
		w.logf("export: job=%s record failure: %v", id, uerr)
	}
	return err
}

func (w *Worker) run(ctx context.Context, id string) error {
	job, err := w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		if j.Status != jobs.StatusPending {
			return fmt.Errorf("export: job %s is %s, not %s: %w", j.ID, j.Status, jobs.StatusPending, errs.ErrPreconditionFailed)
		}
		t := w.clock()
		j.Status = jobs.StatusProcessing
		j.StartedAt = &t
		return nil
	})
	if err != nil {
		return err
	}

	total, err := w.countScope(ctx, job.Scope)
	if err != nil {
		return err
	}
	if _, err := w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		j.Total = total
		return nil
	}); err != nil {
		return w.terminalAsCancel(ctx, id, err)
	}
	w.logf("export: job=%s stage=processing format=%s scope=%s total=%d", id, job.Format, job.Scope, total)

	ix, err := w.Mappings.Snapshot(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	grid, err := w.collect(ctx, id, job.Scope, total, ix)
	metrics.RecordStep("collect", stepStatus(err), time.Since(start))
	if err != nil {
		return err
	}

	start = time.Now()
	path, note, err := w.generate(ctx, id, job.Format, total, grid)
	metrics.RecordStep("generate", stepStatus(err), time.Since(start))
	if err != nil {
		return err
	}

	_, err = w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		j.ArtifactPath = path
		j.Note = note
		j.Processed = j.Total
		j.Progress = 1
		j.Finish(jobs.StatusCompleted, w.clock())
		return nil
	})
	if err != nil {
		return w.terminalAsCancel(ctx, id, err)
	}
	return nil
}

func stepStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errCancelled):
		return "cancelled"
	}
	return "error"
}

func (w *Worker) countScope(ctx context.Context, sc jobs.Scope) (int, error) {
	if !sc.All {
		return len(sc.IDs), nil
	}
	n, err := w.Catalog.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: count records: %v: %w", err, errs.ErrTransientIO)
	}
	return n, nil
}

// collect fetches every scoped record batch by batch. The job descriptor is
// re-read before each batch; a CANCELLED descriptor stops the run and drops
// everything collected so far.
func (w *Worker) collect(ctx context.Context, id string, sc jobs.Scope, total int, ix Resolver) (Grid, error) {
	if _, err := w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		j.Status = jobs.StatusCollecting
		return nil
	}); err != nil {
		return Grid{}, w.terminalAsCancel(ctx, id, err)
	}

	acc := NewAccumulator(ix)
	batch := w.batchSize()
	every := w.progressEvery()
	processed := 0

	for offset := 0; ; offset += batch {
		if err := w.checkCancelled(ctx, id); err != nil {
			return Grid{}, err
		}

		ids, err := w.batchIDs(ctx, sc, offset, batch)
		if err != nil {
			return Grid{}, err
		}
		if len(ids) == 0 {
			break
		}

		recs, err := w.Catalog.FetchRecords(ctx, ids)
		if err != nil {
			return Grid{}, fmt.Errorf("export: fetch records at offset %d: %v: %w", offset, err, errs.ErrTransientIO)
		}
		metrics.RecordBatch()
		metrics.RecordRecords("collected", len(recs))

		for _, rec := range recs {
			acc.Add(rec)
			processed++
			if processed%every == 0 {
				if err := w.saveProgress(ctx, id, processed, total); err != nil {
					return Grid{}, err
				}
			}
		}

		// Unknown ids are skipped by the catalog but still count as processed.
		processed = offset + len(ids)
		if err := w.saveProgress(ctx, id, processed, total); err != nil {
			return Grid{}, err
		}
		w.logf("export: job=%s stage=collecting processed=%d total=%d", id, processed, total)

		if len(ids) < batch {
			break
		}
	}

	// Last boundary before the artifact is touched.
	if err := w.checkCancelled(ctx, id); err != nil {
		return Grid{}, err
	}
	w.logf("export: job=%s stage=collected rows=%d columns=%d resolved=%d unresolved=%d",
		id, acc.Len(), len(acc.columns), acc.resolvedValues, acc.unresolvedValues)
	return acc.Grid(), nil
}

func (w *Worker) batchIDs(ctx context.Context, sc jobs.Scope, offset, limit int) ([]string, error) {
	if !sc.All {
		if offset >= len(sc.IDs) {
			return nil, nil
		}
		end := offset + limit
		if end > len(sc.IDs) {
			end = len(sc.IDs)
		}
		return sc.IDs[offset:end], nil
	}
	ids, err := w.Catalog.ListRecordIDs(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("export: list record ids at offset %d: %v: %w", offset, err, errs.ErrTransientIO)
	}
	return ids, nil
}

// generate writes the artifact. It returns the artifact path and the job note.
func (w *Worker) generate(ctx context.Context, id string, f jobs.Format, total int, g Grid) (string, string, error) {
	if _, err := w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		j.Status = jobs.StatusGenerating
		j.Processed = 0
		j.Progress = 0
		return nil
	}); err != nil {
		return "", "", w.terminalAsCancel(ctx, id, err)
	}

	if err := os.MkdirAll(w.OutputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("export: output dir: %v: %w", err, errs.ErrTransientIO)
	}
	path := ArtifactPath(w.OutputDir, id, f)

	write, note := w.serializer(f)
	if note != "" {
		w.logf("export: job=%s spreadsheet writer unavailable; writing csv to %s", id, path)
	}

	every := w.progressEvery()
	onRow := func(written int) error {
		if written%every != 0 && written != len(g.Rows) {
			return nil
		}
		return w.saveProgress(ctx, id, written, total)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("export: create %s: %v: %w", path, err, errs.ErrTransientIO)
	}
	if err := write(out, g, onRow); err != nil {
		out.Close()
		if errors.Is(err, errCancelled) {
			return "", "", err
		}
		return "", "", fmt.Errorf("export: write %s: %v: %w", path, err, errs.ErrTransientIO)
	}
	if err := out.Close(); err != nil {
		return "", "", fmt.Errorf("export: close %s: %v: %w", path, err, errs.ErrTransientIO)
	}
	metrics.RecordRecords("written", len(g.Rows))
	w.logf("export: job=%s stage=generated path=%s rows=%d", id, path, len(g.Rows))
	return path, note, nil
}

type serializeFunc func(io.Writer, Grid, RowFunc) error

func (w *Worker) serializer(f jobs.Format) (serializeFunc, string) {
	switch f {
	case jobs.FormatJSON:
		return WriteJSON, ""
	case jobs.FormatExcel:
		if w.Spreadsheet != nil && w.Spreadsheet.Supported() {
			return w.Spreadsheet.WriteGrid, ""
		}
		return WriteCSV, NoteCSVFallback
	}
	return WriteCSV, ""
}

// saveProgress persists processed/total. Progress stays below 1 until the
// job completes.
func (w *Worker) saveProgress(ctx context.Context, id string, processed, total int) error {
	_, err := w.Jobs.Update(ctx, id, func(j *jobs.Job) error {
		j.Processed = processed
		j.Progress = fraction(processed, total)
		return nil
	})
	if err != nil {
		return w.terminalAsCancel(ctx, id, err)
	}
	return nil
}

func fraction(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(processed) / float64(total)
	if p > maxRunningProgress {
		p = maxRunningProgress
	}
	return p
}

// checkCancelled re-reads the descriptor and stops the run when it has been
// cancelled. It also stops on ctx cancellation.
func (w *Worker) checkCancelled(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("export: interrupted: %w", err)
	}
	j, err := w.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == jobs.StatusCancelled {
		return errCancelled
	}
	return nil
}

// terminalAsCancel maps a refused update on a CANCELLED job to errCancelled.
func (w *Worker) terminalAsCancel(ctx context.Context, id string, err error) error {
	if !errors.Is(err, jobs.ErrTerminal) {
		return err
	}
	j, gerr := w.Jobs.Get(ctx, id)
	if gerr == nil && j.Status == jobs.StatusCancelled {
		return errCancelled
	}
	return err
}
