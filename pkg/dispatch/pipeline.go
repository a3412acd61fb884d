// Package dispatch implements the submission pipeline: idempotent
// submission with caching and a retry budget, workspace preparation, and
// hand-off to the remote batch cluster.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/jobstore"
	"github.com/chembl/delayedjobs/pkg/registry"
	"github.com/chembl/delayedjobs/pkg/token"
)

// ignoreCacheField is the one meta-field the pipeline recognises in the
// submission form. Meta-fields are stripped before identity derivation so
// they never influence the job id.
const ignoreCacheField = "dl__ignore_cache"

// ErrUnknownJobType marks a submission for a type the deployment does not
// configure.
var ErrUnknownJobType = errors.New("unknown job type")

// Config is the narrow slice of run configuration dispatch needs.
type Config struct {
	JobsRunDir    string
	JobsOutputDir string

	LSFUser   string
	LSFHost   string
	IDRSAFile string

	// RunJobs gates the actual submit-script execution. When false the
	// workspace is fully prepared but nothing is handed to the cluster.
	RunJobs bool

	// StatusUpdateBase is the URL prefix of the progress endpoint; the
	// job id is appended as the final path segment.
	StatusUpdateBase string

	// SetDockerRegistryCredentials is rendered verbatim into the submit
	// script ahead of the container invocation. Empty means no login step.
	SetDockerRegistryCredentials string

	// JobTypes resolves a job type to its worker image and optional
	// requirements script.
	JobTypes map[string]JobType
}

// JobType describes one worker kind. The pipeline treats the image as an
// opaque URL; only the cluster resolves it.
type JobType struct {
	DockerImageURL     string
	RequirementsScript string
}

// Upload is one file from the submission form, already spooled to the
// server's temporary area by the HTTP layer.
type Upload struct {
	FieldKey string
	Filename string
	TempPath string
}

// Pipeline handles a user submission end to end.
type Pipeline struct {
	cfg    Config
	reg    *registry.Registry
	signer *token.Signer
	log    *zap.Logger
}

func NewPipeline(cfg Config, reg *registry.Registry, signer *token.Signer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, reg: reg, signer: signer, log: log}
}

// Submit runs the dedup/resubmit decision table and, when dispatch is
// chosen, the full dispatch sequence. It returns the job id in every
// non-error case, including pure cache hits.
func (p *Pipeline) Submit(ctx context.Context, jobType string, fields map[string]string, uploads []Upload) (string, error) {
	typeCfg, ok := p.cfg.JobTypes[jobType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	ignoreCache := parseIgnoreCache(fields[ignoreCacheField])
	params := make(map[string]any, len(fields))
	for k, v := range fields {
		if strings.HasPrefix(k, "dl__") {
			continue
		}
		params[k] = v
	}

	inputHashes, err := hashUploads(uploads)
	if err != nil {
		return "", err
	}

	job, created, err := p.reg.GetOrCreate(ctx, jobType, params, typeCfg.DockerImageURL, inputHashes)
	if err != nil {
		return "", err
	}
	if created {
		return job.ID, p.dispatch(ctx, job, typeCfg, uploads)
	}

	switch job.Status {
	case jobstore.StatusCreated, jobstore.StatusQueued, jobstore.StatusRunning, jobstore.StatusUnknown:
		// Already in flight (or about to be); hand back the same id.
		return job.ID, nil

	case jobstore.StatusError:
		if job.NumFailures > registry.MaxRetries {
			p.log.Info("retry budget exhausted, returning failed job",
				zap.String("job_id", job.ID),
				zap.Int("num_failures", job.NumFailures))
			return job.ID, nil
		}
		if err := p.resetForRedispatch(ctx, job); err != nil {
			return "", err
		}
		return job.ID, p.dispatch(ctx, job, typeCfg, uploads)

	case jobstore.StatusFinished:
		if !ignoreCache && p.outputsIntact(ctx, job) {
			return job.ID, nil
		}
		// Cache bypass, or the cached outputs were lost: start over with a
		// fresh row under the same id.
		if err := p.reg.Store().DeleteJob(ctx, job.ID); err != nil {
			return "", err
		}
		job, _, err = p.reg.GetOrCreate(ctx, jobType, params, typeCfg.DockerImageURL, inputHashes)
		if err != nil {
			return "", err
		}
		return job.ID, p.dispatch(ctx, job, typeCfg, uploads)

	default:
		return "", fmt.Errorf("job %s in unexpected state %s", job.ID, job.Status)
	}
}

// resetForRedispatch clears the previous execution's traces while keeping
// the failure count, which bounds the retry budget.
func (p *Pipeline) resetForRedispatch(ctx context.Context, job *jobstore.Job) error {
	job.Progress = 0
	job.StartedAt = nil
	job.FinishedAt = nil
	job.ExpiresAt = nil
	job.Status = jobstore.StatusCreated
	return p.reg.Store().UpdateJob(ctx, job)
}

// outputsIntact reports whether every recorded output file still exists on
// disk. A FINISHED job with lost outputs is treated as a miss.
func (p *Pipeline) outputsIntact(ctx context.Context, job *jobstore.Job) bool {
	outputs, err := p.reg.Store().ListOutputFiles(ctx, job.ID)
	if err != nil {
		p.log.Warn("failed to list cached outputs", zap.String("job_id", job.ID), zap.Error(err))
		return false
	}
	for _, f := range outputs {
		if _, err := os.Stat(f.InternalPath); err != nil {
			return false
		}
	}
	return true
}

func parseIgnoreCache(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
