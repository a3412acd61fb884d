package statusagent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/registry"
)

// clusterTimeLayouts are the timestamp shapes bjobs emits, in order of
// preference. The trailing "L" some schedulers append is stripped before
// parsing.
var clusterTimeLayouts = []string{
	"Jan _2 15:04:05 2006",
	"Jan _2 15:04 2006",
	"Jan _2 15:04:05",
	"Jan _2 15:04",
}

// applyRecords folds one poll's cluster records into the store. Every
// transition here is idempotent; a record for a job the store no longer
// tracks, or whose status is unchanged, is skipped. Per-record failures
// are logged and do not abort the batch.
func (a *Agent) applyRecords(ctx context.Context, records []bjobsRecord) {
	for _, rec := range records {
		if err := a.applyRecord(ctx, rec); err != nil {
			a.log.Warn("failed to apply cluster record",
				zap.String("cluster_job_id", rec.JobID),
				zap.String("stat", rec.Stat),
				zap.Error(err))
		}
	}
}

func (a *Agent) applyRecord(ctx context.Context, rec bjobsRecord) error {
	lsfJobID, err := strconv.ParseInt(strings.TrimSpace(rec.JobID), 10, 64)
	if err != nil || lsfJobID <= 0 {
		a.log.Warn("unparseable cluster job id", zap.String("cluster_job_id", rec.JobID))
		return nil
	}

	job, err := a.reg.Store().GetJobByLSFID(ctx, a.cfg.LSFHost, lsfJobID)
	if errors.Is(err, jobstore.ErrNotExist) {
		// Deleted between listing and polling.
		return nil
	}
	if err != nil {
		return err
	}

	newStatus := registry.MapClusterStatus(rec.Stat)
	if job.Status == newStatus {
		return nil
	}

	job.Status = newStatus
	switch newStatus {
	case jobstore.StatusRunning:
		if job.StartedAt == nil {
			started := a.parseClusterTime(rec.StartTime)
			job.StartedAt = &started
		}
	case jobstore.StatusError:
		a.stampFinished(job, rec)
		job.NumFailures++
	case jobstore.StatusFinished:
		a.stampFinished(job, rec)
		expires := job.FinishedAt.Add(registry.ExpiryTTL)
		job.ExpiresAt = &expires
	}

	// Outputs are registered before the row turns FINISHED: a FINISHED job
	// drops out of the poll set, so a failed scan must leave the previous
	// status in place to be retried on the next poll. AddOutput upserts,
	// making the re-scan safe.
	if newStatus == jobstore.StatusFinished {
		if err := a.registerOutputs(ctx, job); err != nil {
			return fmt.Errorf("register outputs for %s: %w", job.ID, err)
		}
	}

	if err := a.reg.Store().UpdateJob(ctx, job); err != nil {
		return err
	}

	a.log.Info("job status advanced",
		zap.String("job_id", job.ID),
		zap.Int64("lsf_job_id", lsfJobID),
		zap.String("status", string(newStatus)))
	return nil
}

func (a *Agent) stampFinished(job *jobstore.Job, rec bjobsRecord) {
	if job.StartedAt == nil {
		started := a.parseClusterTime(rec.StartTime)
		job.StartedAt = &started
	}
	if job.FinishedAt == nil {
		finished := a.parseClusterTime(rec.FinishTime)
		job.FinishedAt = &finished
	}
}

// parseClusterTime parses a bjobs timestamp. The cluster omits the year,
// so the agent's current year is assumed. Unparseable values fall back to
// the current time, trading timestamp accuracy for an always-valid
// lifecycle record.
func (a *Agent) parseClusterTime(raw string) time.Time {
	now := a.now()
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "L"))
	if cleaned == "" || cleaned == "-" {
		return now
	}
	for _, layout := range clusterTimeLayouts {
		t, err := time.Parse(layout, cleaned)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
		}
		return t.UTC()
	}
	a.log.Debug("unparseable cluster timestamp", zap.String("raw", raw))
	return now
}
