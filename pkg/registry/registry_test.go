package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chembl/delayedjobs/pkg/jobstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := jobstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil)
}

func TestGetOrCreateDedup(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	params := map[string]any{"structure": "CCO"}

	job, created, err := reg.GetOrCreate(ctx, "SIMILARITY", params, "img:1", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, jobstore.StatusCreated, job.Status)

	again, created, err := reg.GetOrCreate(ctx, "SIMILARITY", params, "img:1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)

	all, err := reg.Store().ListByType(ctx, "SIMILARITY")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetByParams(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	params := map[string]any{"structure": "CCO", "threshold": "70"}

	job, _, err := reg.GetOrCreate(ctx, "SIMILARITY", params, "img:1", nil)
	require.NoError(t, err)

	// Same parameters in a different insertion order resolve to the row.
	got, err := reg.GetByParams(ctx, "SIMILARITY",
		map[string]any{"threshold": "70", "structure": "CCO"}, nil)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = reg.GetByParams(ctx, "SIMILARITY",
		map[string]any{"structure": "CCN", "threshold": "70"}, nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestUpdateProgressAppendsLog(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	job, _, err := reg.GetOrCreate(ctx, "TEST", map[string]any{"n": "1"}, "img", nil)
	require.NoError(t, err)

	updated, err := reg.UpdateProgress(ctx, job.ID, 10, "started\n", "starting")
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Progress)
	assert.Equal(t, "started\n", updated.StatusLog)
	assert.Equal(t, "starting", updated.StatusDescription)

	updated, err = reg.UpdateProgress(ctx, job.ID, 50, "halfway\n", "")
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Progress)
	assert.Equal(t, "started\nhalfway\n", updated.StatusLog)
	// Empty description leaves the previous one in place.
	assert.Equal(t, "starting", updated.StatusDescription)
}

func TestUpdateProgressValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	job, _, err := reg.GetOrCreate(ctx, "TEST", map[string]any{"n": "1"}, "img", nil)
	require.NoError(t, err)

	_, err = reg.UpdateProgress(ctx, job.ID, -1, "", "")
	assert.Error(t, err)
	_, err = reg.UpdateProgress(ctx, job.ID, 101, "", "")
	assert.Error(t, err)

	_, err = reg.UpdateProgress(ctx, "TEST-missing", 10, "", "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestUpdateRunStatusTimestamps(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.WithClock(func() time.Time { return now })

	job, _, err := reg.GetOrCreate(ctx, "TEST", map[string]any{"n": "1"}, "img", nil)
	require.NoError(t, err)

	running, err := reg.UpdateRunStatus(ctx, job.ID, jobstore.StatusRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	assert.Equal(t, now, *running.StartedAt)

	// Same status again is a no-op and does not move the timestamp.
	now = now.Add(time.Hour)
	again, err := reg.UpdateRunStatus(ctx, job.ID, jobstore.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, *running.StartedAt, *again.StartedAt)

	finished, err := reg.UpdateRunStatus(ctx, job.ID, jobstore.StatusFinished)
	require.NoError(t, err)
	require.NotNil(t, finished.FinishedAt)
	require.NotNil(t, finished.ExpiresAt)
	assert.Equal(t, finished.FinishedAt.Add(ExpiryTTL), *finished.ExpiresAt)
	assert.NotNil(t, finished.StartedAt)
}

func TestMapClusterStatus(t *testing.T) {
	tests := []struct {
		stat string
		want jobstore.Status
	}{
		{"RUN", jobstore.StatusRunning},
		{"PEND", jobstore.StatusQueued},
		{"EXIT", jobstore.StatusError},
		{"DONE", jobstore.StatusFinished},
		{"run", jobstore.StatusRunning},
		{" DONE ", jobstore.StatusFinished},
		{"SSUSP", jobstore.StatusUnknown},
		{"", jobstore.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.stat, func(t *testing.T) {
			assert.Equal(t, tt.want, MapClusterStatus(tt.stat))
		})
	}
}

func TestDeleteAllExpired(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	now := time.Now().UTC()

	expiredDir := filepath.Join(t.TempDir(), "expired-run")
	require.NoError(t, os.MkdirAll(expiredDir, 0755))

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &jobstore.Job{
		ID: "TEST-expired", Type: "TEST", Status: jobstore.StatusFinished,
		CreatedAt: past, ExpiresAt: &past, RunDirPath: expiredDir,
	}
	require.NoError(t, reg.Store().InsertJob(ctx, expired))
	require.NoError(t, reg.Store().AddOutputFile(ctx, jobstore.OutputFile{
		JobID: expired.ID, InternalPath: "/x/out", PublicURL: "http://x/out",
	}))

	alive := &jobstore.Job{
		ID: "TEST-alive", Type: "TEST", Status: jobstore.StatusFinished,
		CreatedAt: past, ExpiresAt: &future,
	}
	require.NoError(t, reg.Store().InsertJob(ctx, alive))

	count, err := reg.DeleteAllExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = reg.GetByID(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = reg.GetByID(ctx, alive.ID)
	assert.NoError(t, err)

	// Directory and file rows go with the job.
	_, statErr := os.Stat(expiredDir)
	assert.True(t, os.IsNotExist(statErr))
	outputs, err := reg.Store().ListOutputFiles(ctx, expired.ID)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestDeleteAllByType(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	for _, id := range []string{"MMV-1", "MMV-2"} {
		require.NoError(t, reg.Store().InsertJob(ctx, &jobstore.Job{
			ID: id, Type: "MMV", Status: jobstore.StatusCreated, CreatedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, reg.Store().InsertJob(ctx, &jobstore.Job{
		ID: "TEST-1", Type: "TEST", Status: jobstore.StatusCreated, CreatedAt: time.Now().UTC(),
	}))

	count, err := reg.DeleteAllByType(ctx, "MMV")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = reg.GetByID(ctx, "TEST-1")
	assert.NoError(t, err)
}

func TestListLSFJobIDsToCheck(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	now := time.Now().UTC()

	jobs := []struct {
		id     string
		status jobstore.Status
		lsfID  int64
		host   string
	}{
		{"TEST-q", jobstore.StatusQueued, 101, "clusterA"},
		{"TEST-r", jobstore.StatusRunning, 102, "clusterA"},
		{"TEST-f", jobstore.StatusFinished, 103, "clusterA"},
		{"TEST-e", jobstore.StatusError, 104, "clusterA"},
		{"TEST-other", jobstore.StatusRunning, 105, "clusterB"},
		{"TEST-dry", jobstore.StatusQueued, 0, "clusterA"},
	}
	for _, j := range jobs {
		require.NoError(t, reg.Store().InsertJob(ctx, &jobstore.Job{
			ID: j.id, Type: "TEST", Status: j.status, CreatedAt: now,
			LSFJobID: j.lsfID, LSFHost: j.host,
		}))
	}

	ids, err := reg.ListLSFJobIDsToCheck(ctx, "clusterA")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{101, 102}, ids)
}
