package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pimbridge/internal/catalog"
	"pimbridge/internal/errs"
	"pimbridge/internal/export"
	"pimbridge/internal/jobs"
	"pimbridge/internal/mapping"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner holds every job until release is closed.
type blockingRunner struct {
	started chan string
	release chan struct{}
	err     error
}

func (b *blockingRunner) Run(ctx context.Context, id string) error {
	b.started <- id
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.err
}

func newSeqCoordinator(store jobs.Store, r Runner) *Coordinator {
	c := New(store, r, nil)
	var n int64
	c.newID = func() string { return fmt.Sprintf("job-%d", atomic.AddInt64(&n, 1)) }
	return c
}

func TestCreateJob_ValidatesFormatAndScope(t *testing.T) {
	store := jobs.NewMemStore()
	c := newSeqCoordinator(store, &blockingRunner{})

	_, err := c.CreateJob(context.Background(), "pdf", jobs.AllRecords())
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = c.CreateJob(context.Background(), "csv", jobs.Scope{IDs: []string{" ", ""}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	list, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected requests must not create jobs")
}

func TestCreateJob_DispatchesAsync(t *testing.T) {
	r := &blockingRunner{started: make(chan string, 1), release: make(chan struct{}), err: errors.New("boom")}
	c := newSeqCoordinator(jobs.NewMemStore(), r)

	id, err := c.CreateJob(context.Background(), "xlsx", jobs.AllRecords())
	require.NoError(t, err, "worker failure must not surface from CreateJob")
	assert.Equal(t, "job-1", id)

	select {
	case got := <-r.started:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("worker not started")
	}

	v, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, v.State)
	assert.Equal(t, "excel", v.Format)

	close(r.release)
	c.Wait()
}

func TestStatus_UnknownJob(t *testing.T) {
	c := newSeqCoordinator(jobs.NewMemStore(), &blockingRunner{})
	_, err := c.Status(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
	_, err = c.Cancel(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
	_, err = c.Artifact(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestView_MapsEveryStatus(t *testing.T) {
	c := newSeqCoordinator(jobs.NewMemStore(), &blockingRunner{})
	tests := []struct {
		status jobs.Status
		state  string
		url    bool
	}{
		{jobs.StatusPending, StatePending, false},
		{jobs.StatusProcessing, StateProcessing, false},
		{jobs.StatusCollecting, StateProcessing, false},
		{jobs.StatusGenerating, StateProcessing, false},
		{jobs.StatusCompleted, StateCompleted, true},
		{jobs.StatusFailed, StateFailed, false},
		{jobs.StatusCancelled, StateCancelled, false},
	}
	for _, tc := range tests {
		v := c.view(jobs.Job{ID: "x", Status: tc.status, Error: "disk full", Processed: 3, Total: 9})
		assert.Equal(t, tc.state, v.State, tc.status)
		assert.NotEmpty(t, v.Message, tc.status)
		if tc.url {
			assert.Equal(t, "/api/exports/x/download", v.DownloadURL)
		} else {
			assert.Empty(t, v.DownloadURL, tc.status)
		}
	}
	assert.Contains(t, c.view(jobs.Job{Status: jobs.StatusFailed, Error: "disk full"}).Message, "disk full")
	assert.Contains(t, c.view(jobs.Job{Status: jobs.StatusCollecting, Processed: 3, Total: 9}).Message, "3/9")
}

func TestCancel_RunningJobThenNoop(t *testing.T) {
	r := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	c := newSeqCoordinator(jobs.NewMemStore(), r)

	id, err := c.CreateJob(context.Background(), "csv", jobs.AllRecords())
	require.NoError(t, err)
	<-r.started

	v, err := c.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, v.State)

	v, err = c.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, v.State)

	close(r.release)
	c.Wait()
}

func TestShutdown_CancelsStuckWorkers(t *testing.T) {
	r := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	c := newSeqCoordinator(jobs.NewMemStore(), r)
	_, err := c.CreateJob(context.Background(), "csv", jobs.AllRecords())
	require.NoError(t, err)
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)
}

// End to end through a real worker.
func newRealCoordinator(t *testing.T, sheet export.SpreadsheetWriter) (*Coordinator, *catalog.MemStore) {
	t.Helper()
	cat := catalog.NewMemStore()
	res := mapping.NewResolver(mapping.NewMemStore(), nil)
	ctx := context.Background()
	_, err := res.SaveAttributeMapping(ctx, mapping.AttributeMapping{OriginAttribute: "color", ExistingCode: "color"})
	require.NoError(t, err)
	_, err = res.SaveValueMapping(ctx, mapping.ValueMappingInput{OriginAttribute: "color", OriginValue: "red", ExistingCode: "red"})
	require.NoError(t, err)
	cat.Put(catalog.Record{ID: "1", Identifier: "A", Values: []catalog.AttributeValue{{Attribute: "color", Value: "red"}}})
	cat.Put(catalog.Record{ID: "2", Identifier: "B", Values: []catalog.AttributeValue{{Attribute: "color", Value: "green"}}})

	store, err := jobs.NewFileStore(filepath.Join(t.TempDir(), "jobs"))
	require.NoError(t, err)
	w := &export.Worker{
		Jobs:        store,
		Catalog:     cat,
		Mappings:    res,
		Spreadsheet: sheet,
		OutputDir:   filepath.Join(t.TempDir(), "out"),
	}
	return New(store, w, nil), cat
}

func TestEndToEnd_CompletedArtifact(t *testing.T) {
	c, _ := newRealCoordinator(t, export.ExcelWriter{})
	ctx := context.Background()

	id, err := c.CreateJob(ctx, "csv", jobs.Scope{IDs: []string{"1", "2", "1"}})
	require.NoError(t, err)
	c.Wait()

	v, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, v.State)
	assert.Equal(t, 1.0, v.Progress)
	assert.Equal(t, 2, v.Total)
	assert.Equal(t, "/api/exports/"+id+"/download", v.DownloadURL)

	a, err := c.Artifact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "export_"+id+".csv", a.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", a.ContentType)
	b, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "identifier,color\nA,red\nB,\n", string(b))

	// File removed behind our back: NotFound.
	require.NoError(t, os.Remove(a.Path))
	_, err = c.Artifact(ctx, id)
	assert.True(t, errs.IsNotFound(err))
}

func TestEndToEnd_SpreadsheetFallback(t *testing.T) {
	c, _ := newRealCoordinator(t, export.Unsupported{})
	ctx := context.Background()

	id, err := c.CreateJob(ctx, "xlsx", jobs.AllRecords())
	require.NoError(t, err)
	c.Wait()

	a, err := c.Artifact(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "export_"+id+".xlsx", a.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", a.ContentType)
	b, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, "identifier,color\nA,red\nB,\n", string(b))

	v, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, v.Message, "CSV")
}

func TestArtifact_NotReady(t *testing.T) {
	r := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	c := newSeqCoordinator(jobs.NewMemStore(), r)
	id, err := c.CreateJob(context.Background(), "json", jobs.AllRecords())
	require.NoError(t, err)
	<-r.started

	_, err = c.Artifact(context.Background(), id)
	assert.True(t, errs.IsNotReady(err))

	close(r.release)
	c.Wait()
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, st := range []jobs.Status{jobs.StatusPending, jobs.StatusCollecting, jobs.StatusCompleted} {
		j := jobs.NewJob(fmt.Sprintf("old-%d", i), jobs.FormatCSV, jobs.AllRecords(), now.Add(time.Duration(i)*time.Second))
		j.Status = st
		require.NoError(t, store.Create(ctx, j))
	}

	c := newSeqCoordinator(store, &blockingRunner{})
	n, err := c.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]string{"old-0": StateFailed, "old-1": StateFailed, "old-2": StateCompleted} {
		v, err := c.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, v.State, id)
	}
	v, err := c.Status(ctx, "old-1")
	require.NoError(t, err)
	assert.Equal(t, InterruptedMessage, v.Error)

	n, err = c.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
