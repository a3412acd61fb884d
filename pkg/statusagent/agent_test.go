package statusagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/lockcache"
	"github.com/chembl/delayedjobs/pkg/registry"
)

func newTestAgent(t *testing.T) (*Agent, *registry.Registry) {
	t.Helper()

	store, err := jobstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store, nil)

	agent := New(Config{
		LSFUser:           "clusteruser",
		LSFHost:           "cluster.example.org",
		IDRSAFile:         "/etc/keys/id_rsa",
		WorkDir:           t.TempDir(),
		OutputsPublicBase: "https://example.org/delayed_jobs/outputs",
		IgnoreGlobs:       []string{"**/*.tmp"},
	}, reg, lockcache.NewLocker(lockcache.NewMemory()), nil)
	return agent, reg
}

func insertClusterJob(t *testing.T, reg *registry.Registry, id string, lsfID int64, status jobstore.Status, outputDir string) {
	t.Helper()
	require.NoError(t, reg.Store().InsertJob(context.Background(), &jobstore.Job{
		ID:            id,
		Type:          "TEST",
		Status:        status,
		CreatedAt:     time.Now().UTC(),
		LSFJobID:      lsfID,
		LSFHost:       "cluster.example.org",
		OutputDirPath: outputDir,
	}))
}

func TestExtractSentinelPayload(t *testing.T) {
	out := "Warning: Permanently added host\nSTART_REMOTE_SSH\n{\"RECORDS\":[]}\nFINISH_REMOTE_SSH\n"
	payload, err := extractSentinelPayload(out)
	require.NoError(t, err)
	assert.Equal(t, `{"RECORDS":[]}`, payload)

	_, err = extractSentinelPayload("no markers at all")
	assert.Error(t, err)
	_, err = extractSentinelPayload("START_REMOTE_SSH\ntruncated")
	assert.Error(t, err)
}

func TestParseBjobsOutput(t *testing.T) {
	records, err := parseBjobsOutput(`{
		"COMMAND": "bjobs",
		"RECORDS": [
			{"JOBID": "101", "STAT": "RUN", "START_TIME": "Feb 3 14:05", "FINISH_TIME": ""},
			{"JOBID": "102", "STAT": "DONE", "START_TIME": "Feb 3 14:05", "FINISH_TIME": "Feb 3 15:00"}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "101", records[0].JobID)
	assert.Equal(t, "RUN", records[0].Stat)
	assert.Equal(t, "Feb 3 15:00", records[1].FinishTime)

	_, err = parseBjobsOutput("not json")
	assert.Error(t, err)
}

func TestParseClusterTime(t *testing.T) {
	agent, _ := newTestAgent(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	agent.WithClock(func() time.Time { return now })

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"yearless", "Feb 3 14:05", time.Date(2026, 2, 3, 14, 5, 0, 0, time.UTC)},
		{"yearless with seconds", "Feb 3 14:05:30", time.Date(2026, 2, 3, 14, 5, 30, 0, time.UTC)},
		{"with year", "Feb 3 14:05:30 2025", time.Date(2025, 2, 3, 14, 5, 30, 0, time.UTC)},
		{"scheduler suffix", "Feb 3 14:05 L", time.Date(2026, 2, 3, 14, 5, 0, 0, time.UTC)},
		{"empty falls back to now", "", now},
		{"dash falls back to now", "-", now},
		{"garbage falls back to now", "whenever", now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agent.parseClusterTime(tt.raw))
		})
	}
}

func TestApplyRecordRunning(t *testing.T) {
	ctx := context.Background()
	agent, reg := newTestAgent(t)
	insertClusterJob(t, reg, "TEST-run", 101, jobstore.StatusQueued, "")

	rec := bjobsRecord{JobID: "101", Stat: "RUN", StartTime: "Feb 3 14:05"}
	agent.applyRecords(ctx, []bjobsRecord{rec})

	job, err := reg.GetByID(ctx, "TEST-run")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	// Re-applying the same record leaves the state untouched.
	started := *job.StartedAt
	agent.applyRecords(ctx, []bjobsRecord{rec})
	job, err = reg.GetByID(ctx, "TEST-run")
	require.NoError(t, err)
	assert.Equal(t, started, *job.StartedAt)
}

func TestApplyRecordErrorIncrementsOnce(t *testing.T) {
	ctx := context.Background()
	agent, reg := newTestAgent(t)
	insertClusterJob(t, reg, "TEST-err", 102, jobstore.StatusRunning, "")

	rec := bjobsRecord{JobID: "102", Stat: "EXIT",
		StartTime: "Feb 3 14:05", FinishTime: "Feb 3 15:00"}
	agent.applyRecords(ctx, []bjobsRecord{rec})
	agent.applyRecords(ctx, []bjobsRecord{rec})

	job, err := reg.GetByID(ctx, "TEST-err")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusError, job.Status)
	assert.Equal(t, 1, job.NumFailures)
	assert.NotNil(t, job.FinishedAt)
}

func TestApplyRecordFinishedRegistersOutputs(t *testing.T) {
	ctx := context.Background()
	agent, reg := newTestAgent(t)

	outputDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "result.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "nested", "part.csv"), []byte("a,b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "scratch.tmp"), []byte("x"), 0644))

	insertClusterJob(t, reg, "TEST-done", 103, jobstore.StatusRunning, outputDir)

	rec := bjobsRecord{JobID: "103", Stat: "DONE",
		StartTime: "Feb 3 14:05", FinishTime: "Feb 3 15:00"}
	agent.applyRecords(ctx, []bjobsRecord{rec})

	job, err := reg.GetByID(ctx, "TEST-done")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFinished, job.Status)
	require.NotNil(t, job.FinishedAt)
	require.NotNil(t, job.ExpiresAt)
	assert.Equal(t, job.FinishedAt.Add(registry.ExpiryTTL), *job.ExpiresAt)

	outputs, err := reg.Store().ListOutputFiles(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	urls := make([]string, 0, len(outputs))
	for _, f := range outputs {
		urls = append(urls, f.PublicURL)
	}
	assert.ElementsMatch(t, []string{
		"https://example.org/delayed_jobs/outputs/TEST-done/result.json",
		"https://example.org/delayed_jobs/outputs/TEST-done/nested/part.csv",
	}, urls)

	// Re-applying after completion duplicates nothing.
	agent.applyRecords(ctx, []bjobsRecord{rec})
	outputs, err = reg.Store().ListOutputFiles(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
}

func TestApplyRecordFinishedRetriedAfterScanFailure(t *testing.T) {
	ctx := context.Background()
	agent, reg := newTestAgent(t)

	// The output directory does not exist yet, so the first scan fails.
	outputDir := filepath.Join(t.TempDir(), "not_created_yet")
	insertClusterJob(t, reg, "TEST-late", 105, jobstore.StatusRunning, outputDir)

	rec := bjobsRecord{JobID: "105", Stat: "DONE",
		StartTime: "Feb 3 14:05", FinishTime: "Feb 3 15:00"}
	agent.applyRecords(ctx, []bjobsRecord{rec})

	// The failed scan must keep the job in the poll set.
	job, err := reg.GetByID(ctx, "TEST-late")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusRunning, job.Status)
	outputs, err := reg.Store().ListOutputFiles(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, outputs)

	ids, err := reg.ListLSFJobIDsToCheck(ctx, "cluster.example.org")
	require.NoError(t, err)
	assert.Contains(t, ids, int64(105))

	// Once the directory appears the next poll completes the transition.
	require.NoError(t, os.MkdirAll(outputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "result.json"), []byte("{}"), 0644))
	agent.applyRecords(ctx, []bjobsRecord{rec})

	job, err = reg.GetByID(ctx, "TEST-late")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFinished, job.Status)
	outputs, err = reg.Store().ListOutputFiles(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t,
		"https://example.org/delayed_jobs/outputs/TEST-late/result.json",
		outputs[0].PublicURL)
}

func TestApplyRecordUnknownJobSkipped(t *testing.T) {
	ctx := context.Background()
	agent, reg := newTestAgent(t)
	insertClusterJob(t, reg, "TEST-keep", 104, jobstore.StatusQueued, "")

	// A record for a cluster id the store does not track is ignored.
	agent.applyRecords(ctx, []bjobsRecord{
		{JobID: "999", Stat: "RUN"},
		{JobID: "garbage", Stat: "RUN"},
	})

	job, err := reg.GetByID(ctx, "TEST-keep")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusQueued, job.Status)
}

func TestRunReleasesLockBetweenPolls(t *testing.T) {
	agent, _ := newTestAgent(t)
	agent.cfg.SleepTime = 10 * time.Millisecond
	agent.cfg.LockValidity = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := agent.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held, lockErr := agent.locker.Held(context.Background(), agent.cfg.LSFHost)
	require.NoError(t, lockErr)
	assert.False(t, held)
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second, 2*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
}
