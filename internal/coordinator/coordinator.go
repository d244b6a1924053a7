// Package coordinator creates export jobs, dispatches them to a background
// worker and answers status, cancel and download requests.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pimbridge/internal/errs"
	"pimbridge/internal/export"
	"pimbridge/internal/jobs"

	"github.com/google/uuid"
)

// Runner executes one job to completion. *export.Worker implements it.
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Logger is the minimal logging interface. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Public states of the status view.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// StatusView is the stable, public shape of a job's status.
type StatusView struct {
	JobID       string    `json:"jobId"`
	Format      string    `json:"format"`
	State       string    `json:"state"`
	Progress    float64   `json:"progress"`
	Processed   int       `json:"processed"`
	Total       int       `json:"total"`
	Message     string    `json:"message"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Artifact describes a completed job's file.
type Artifact struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	Jobs   jobs.Store
	Runner Runner
	Logger Logger

	// DownloadPrefix is joined with "/<id>/download" to build download URLs.
	DownloadPrefix string

	newID func() string
	now   func() time.Time

	// base is the parent of every worker context; it outlives requests.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Coordinator. Workers run under a context detached from the
// request that created them; Shutdown cancels it.
func New(store jobs.Store, runner Runner, logger Logger) *Coordinator {
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		Jobs:           store,
		Runner:         runner,
		Logger:         logger,
		DownloadPrefix: "/api/exports",
		newID:          uuid.NewString,
		now:            time.Now,
		base:           base,
		cancel:         cancel,
	}
}

func (c *Coordinator) logf(format string, v ...any) {
	if c.Logger == nil {
		log.New(discardWriter{}, "", 0).Printf(format, v...)
		return
	}
	c.Logger.Printf(format, v...)
}

// CreateJob validates format, persists a PENDING job and starts its worker.
// Validation errors wrap errs.ErrValidation; worker failures are never
// returned here and only show up in Status.
func (c *Coordinator) CreateJob(ctx context.Context, format string, scope jobs.Scope) (string, error) {
	f, err := jobs.ParseFormat(format)
	if err != nil {
		return "", err
	}
	if !scope.All {
		if scope, err = jobs.RecordIDs(scope.IDs); err != nil {
			return "", err
		}
	}

	id := c.newID()
	if err := c.Jobs.Create(ctx, jobs.NewJob(id, f, scope, c.now())); err != nil {
		return "", fmt.Errorf("coordinator: create job: %w", err)
	}
	c.logf("coordinator: job=%s created format=%s scope=%s", id, f, scope)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Runner.Run(c.base, id); err != nil {
			c.logf("coordinator: job=%s worker: %v", id, err)
		}
	}()
	return id, nil
}

// Status returns the status view of job id.
func (c *Coordinator) Status(ctx context.Context, id string) (StatusView, error) {
	j, err := c.Jobs.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return c.view(j), nil
}

// Cancel marks job id cancelled unless it is already terminal, then returns
// its status. The running worker stops at its next batch boundary.
func (c *Coordinator) Cancel(ctx context.Context, id string) (StatusView, error) {
	j, changed, err := c.Jobs.Cancel(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if changed {
		c.logf("coordinator: job=%s cancel requested", id)
	}
	return c.view(j), nil
}

// List returns the status views of the most recent jobs.
func (c *Coordinator) List(ctx context.Context, limit int) ([]StatusView, error) {
	js, err := c.Jobs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(js))
	for _, j := range js {
		out = append(out, c.view(j))
	}
	return out, nil
}

// Artifact locates the file of a completed job. It fails with errs.ErrNotReady
// before completion and errs.ErrNotFound when the job or file is missing.
func (c *Coordinator) Artifact(ctx context.Context, id string) (Artifact, error) {
	j, err := c.Jobs.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if j.Status != jobs.StatusCompleted {
		return Artifact{}, fmt.Errorf("coordinator: job %s is %s: %w", id, j.Status, errs.ErrNotReady)
	}
	st, err := os.Stat(j.ArtifactPath)
	if err != nil || st.IsDir() {
		return Artifact{}, fmt.Errorf("coordinator: artifact of job %s: %w", id, errs.ErrNotFound)
	}

	ct := j.Format.ContentType()
	if j.Note == export.NoteCSVFallback {
		ct = jobs.FormatCSV.ContentType()
	}
	return Artifact{
		Path:        j.ArtifactPath,
		Filename:    filepath.Base(j.ArtifactPath),
		ContentType: ct,
		Size:        st.Size(),
		ModTime:     st.ModTime(),
	}, nil
}

// InterruptedMessage is the error recorded on jobs that were still running when the
// previous process stopped.
const InterruptedMessage = "interrupted by service restart"

// RecoverInterrupted marks every non-terminal job FAILED. Call it once at
// startup, before accepting requests: no worker of this process can own
// them yet.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) (int, error) {
	js, err := c.Jobs.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("coordinator: list jobs: %w", err)
	}
	var n int
	for _, j := range js {
		if j.Status.Terminal() {
			continue
		}
		_, err := c.Jobs.Update(ctx, j.ID, func(j *jobs.Job) error {
			j.Error = InterruptedMessage
			j.Finish(jobs.StatusFailed, c.now())
			return nil
		})
		if errors.Is(err, jobs.ErrTerminal) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("coordinator: recover job %s: %w", j.ID, err)
		}
		c.logf("coordinator: job=%s status=%s marked failed: %s", j.ID, j.Status, InterruptedMessage)
		n++
	}
	return n, nil
}

// Wait blocks until every dispatched worker has returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Shutdown waits for running workers until ctx is done, then cancels them
// and waits for them to record their failure.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Coordinator) view(j jobs.Job) StatusView {
	v := StatusView{
		JobID:     j.ID,
		Format:    string(j.Format),
		Progress:  j.Progress,
		Processed: j.Processed,
		Total:     j.Total,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
	switch j.Status {
	case jobs.StatusPending:
		v.State, v.Message = StatePending, "Export queued"
	case jobs.StatusProcessing:
		v.State, v.Message = StateProcessing, "Preparing export"
	case jobs.StatusCollecting:
		v.State = StateProcessing
		v.Message = fmt.Sprintf("Collecting data (%d/%d)", j.Processed, j.Total)
	case jobs.StatusGenerating:
		v.State = StateProcessing
		v.Message = fmt.Sprintf("Generating %s file", j.Format)
	case jobs.StatusCompleted:
		v.State, v.Message = StateCompleted, "Export completed"
		if j.Note == export.NoteCSVFallback {
			v.Message = "Export completed (spreadsheet support unavailable, CSV content written)"
		}
		v.DownloadURL = fmt.Sprintf("%s/%s/download", c.DownloadPrefix, j.ID)
	case jobs.StatusFailed:
		v.State, v.Message = StateFailed, "Export failed: "+j.Error
	case jobs.StatusCancelled:
		v.State, v.Message = StateCancelled, "Export cancelled"
	default:
		v.State, v.Message = StateFailed, fmt.Sprintf("Unknown status %q", j.Status)
	}
	return v
}
