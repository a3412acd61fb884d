// Package registry owns job identity and lifecycle on top of the job
// store: content-addressed getOrCreate, status transitions, progress
// appends, and the expiry sweep.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/jobstore"
)

const (
	// MaxRetries bounds how often dispatch is re-triggered for a job that
	// keeps ending in ERROR.
	MaxRetries = 6

	// ExpiryTTL is added to finishedAt when a job reaches FINISHED.
	ExpiryTTL = 7 * 24 * time.Hour
)

// ErrJobNotFound is returned by lookups for absent jobs.
var ErrJobNotFound = errors.New("job not found")

// Registry mediates all job-row mutations.
type Registry struct {
	store *jobstore.Store
	log   *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(store *jobstore.Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the registry clock. Test use only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Store() *jobstore.Store {
	return r.store
}

// GetOrCreate returns the existing job for the derived id untouched, or
// inserts a fresh CREATED row. The second result reports whether a row was
// created.
func (r *Registry) GetOrCreate(ctx context.Context, jobType string, params map[string]any, imageURL string, inputHashes map[string]string) (*jobstore.Job, bool, error) {
	id, err := JobID(jobType, params, inputHashes)
	if err != nil {
		return nil, false, err
	}

	existing, err := r.store.GetJob(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, jobstore.ErrNotExist) {
		return nil, false, err
	}

	rawParams, err := CanonicalJSON(params)
	if err != nil {
		return nil, false, err
	}

	job := &jobstore.Job{
		ID:             id,
		Type:           jobType,
		Status:         jobstore.StatusCreated,
		CreatedAt:      r.now(),
		RawParams:      rawParams,
		DockerImageURL: imageURL,
	}
	if err := r.store.InsertJob(ctx, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// GetByID loads a job, mapping absence to ErrJobNotFound.
func (r *Registry) GetByID(ctx context.Context, id string) (*jobstore.Job, error) {
	job, err := r.store.GetJob(ctx, id)
	if errors.Is(err, jobstore.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return job, err
}

// GetByParams loads a job by the identity its parameters derive to.
func (r *Registry) GetByParams(ctx context.Context, jobType string, params map[string]any, inputHashes map[string]string) (*jobstore.Job, error) {
	id, err := JobID(jobType, params, inputHashes)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateProgress appends to the job's status log (never overwrites), sets
// the status description verbatim when non-empty, and sets progress.
func (r *Registry) UpdateProgress(ctx context.Context, id string, progress int, statusLog, statusDescription string) (*jobstore.Job, error) {
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("progress %d out of range 0-100", progress)
	}
	job, err := r.store.AppendProgress(ctx, id, progress, statusLog, statusDescription)
	if errors.Is(err, jobstore.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return job, err
}

// UpdateRunStatus advances a job's status, stamping lifecycle timestamps:
// entering RUNNING sets startedAt, entering FINISHED sets finishedAt and
// expiresAt. Equal old and new status is a no-op.
func (r *Registry) UpdateRunStatus(ctx context.Context, id string, newStatus jobstore.Status) (*jobstore.Job, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == newStatus {
		return job, nil
	}

	now := r.now()
	job.Status = newStatus
	switch newStatus {
	case jobstore.StatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case jobstore.StatusFinished:
		if job.FinishedAt == nil {
			job.FinishedAt = &now
		}
		expires := job.FinishedAt.Add(ExpiryTTL)
		job.ExpiresAt = &expires
	}

	if err := r.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// AddOutput attaches an output file record to a finished or finishing job.
func (r *Registry) AddOutput(ctx context.Context, jobID, internalPath, publicURL string) error {
	return r.store.AddOutputFile(ctx, jobstore.OutputFile{
		JobID:        jobID,
		InternalPath: internalPath,
		PublicURL:    publicURL,
	})
}

// ListLSFJobIDsToCheck returns the cluster job ids of all jobs bound to
// host whose status is neither ERROR nor FINISHED.
func (r *Registry) ListLSFJobIDsToCheck(ctx context.Context, host string) ([]int64, error) {
	jobs, err := r.store.ListActiveByHost(ctx, host)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.LSFJobID)
	}
	return ids, nil
}

// DeleteAllExpired removes every job whose expiresAt is in the past,
// together with its run and output directories. Missing directories are
// not an error.
func (r *Registry) DeleteAllExpired(ctx context.Context) (int, error) {
	expired, err := r.store.ListExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	return r.deleteJobs(ctx, expired)
}

// DeleteAllByType removes every job of the given type and its directories.
func (r *Registry) DeleteAllByType(ctx context.Context, jobType string) (int, error) {
	jobs, err := r.store.ListByType(ctx, jobType)
	if err != nil {
		return 0, err
	}
	return r.deleteJobs(ctx, jobs)
}

func (r *Registry) deleteJobs(ctx context.Context, jobs []jobstore.Job) (int, error) {
	count := 0
	for i := range jobs {
		job := &jobs[i]
		r.removeJobDirs(job)
		if err := r.store.DeleteJob(ctx, job.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// removeJobDirs is best-effort: a directory that is already gone (or was
// never assigned) is fine.
func (r *Registry) removeJobDirs(job *jobstore.Job) {
	for _, dir := range []string{job.RunDirPath, job.OutputDirPath} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			r.log.Warn("failed to remove job directory",
				zap.String("job_id", job.ID),
				zap.String("dir", dir),
				zap.Error(err))
		}
	}
}

// MapClusterStatus translates the batch cluster's STAT field. Anything
// outside the known vocabulary maps to UNKNOWN and is refined by the next
// poll.
func MapClusterStatus(stat string) jobstore.Status {
	switch strings.TrimSpace(strings.ToUpper(stat)) {
	case "RUN":
		return jobstore.StatusRunning
	case "PEND":
		return jobstore.StatusQueued
	case "EXIT":
		return jobstore.StatusError
	case "DONE":
		return jobstore.StatusFinished
	default:
		return jobstore.StatusUnknown
	}
}
