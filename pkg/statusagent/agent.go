// Package statusagent runs the background poller that queries the remote
// batch cluster for in-flight jobs and advances their state.
//
// One agent runs per deployment replica; across replicas a short-TTL lock
// keyed by cluster host keeps polling exclusive. The lock is advisory: all
// transitions applied here are idempotent, so a collision costs only a
// duplicated bjobs call.
package statusagent

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/lockcache"
	"github.com/chembl/delayedjobs/pkg/registry"
)

// Config is the narrow slice of run configuration the agent needs.
type Config struct {
	LSFUser   string
	LSFHost   string
	IDRSAFile string

	// WorkDir holds the per-poll rendered status script and, on script
	// failure, its captured stdout/stderr.
	WorkDir string

	// OutputsPublicBase is the URL prefix for registered output files;
	// "<jobID>/<relPath>" is appended per file.
	OutputsPublicBase string

	// IgnoreGlobs are doublestar patterns (relative to a job's output
	// dir) excluded from output registration.
	IgnoreGlobs []string

	LockValidity time.Duration
	SleepTime    time.Duration
}

// Agent is the per-replica polling task.
type Agent struct {
	cfg    Config
	reg    *registry.Registry
	locker *lockcache.Locker
	log    *zap.Logger

	now func() time.Time
}

func New(cfg Config, reg *registry.Registry, locker *lockcache.Locker, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LockValidity <= 0 {
		cfg.LockValidity = 30 * time.Second
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = 5 * time.Second
	}
	return &Agent{cfg: cfg, reg: reg, locker: locker, log: log,
		now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the agent clock. Test use only.
func (a *Agent) WithClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

// Run loops until the context is cancelled. Poll errors are logged and the
// loop continues; they never propagate.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("status agent starting",
		zap.String("lsf_host", a.cfg.LSFHost),
		zap.String("lock_owner", a.locker.Owner()))

	for {
		acquired, err := a.locker.Acquire(ctx, a.cfg.LSFHost, a.cfg.LockValidity)
		if err != nil {
			a.log.Warn("lock cache unavailable", zap.Error(err))
			if !a.sleep(ctx, a.cfg.SleepTime) {
				return ctx.Err()
			}
			continue
		}
		if !acquired {
			// Another replica is polling this cluster; back off briefly
			// with jitter so replicas do not thunder on lock expiry.
			if !a.sleep(ctx, jitter(time.Second, 2*time.Second)) {
				return ctx.Err()
			}
			continue
		}

		if err := a.pollOnce(ctx); err != nil {
			a.log.Warn("status poll failed", zap.Error(err))
		}

		if err := a.locker.Release(ctx, a.cfg.LSFHost); err != nil {
			a.log.Warn("lock release failed", zap.Error(err))
		}
		if !a.sleep(ctx, a.cfg.SleepTime) {
			return ctx.Err()
		}
	}
}

// pollOnce queries the cluster for this host's in-flight jobs and applies
// any status transitions found.
func (a *Agent) pollOnce(ctx context.Context) error {
	ids, err := a.reg.ListLSFJobIDsToCheck(ctx, a.cfg.LSFHost)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	records, err := a.runStatusScript(ctx, ids)
	if err != nil {
		return err
	}
	a.applyRecords(ctx, records)
	return nil
}

// sleep blocks for d or until the context is cancelled. Returns false on
// cancellation.
func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
