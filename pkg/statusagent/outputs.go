package statusagent

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/chembl/delayedjobs/pkg/jobstore"
)

// registerOutputs walks a finished job's output directory and records every
// regular file, skipping paths matched by the configured ignore globs.
// Registration upserts, so re-running after a partial failure is safe.
func (a *Agent) registerOutputs(ctx context.Context, job *jobstore.Job) error {
	root := job.OutputDirPath
	if root == "" {
		return nil
	}

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if a.ignored(rel) {
			return nil
		}

		publicURL := a.cfg.OutputsPublicBase + "/" + job.ID + "/" + rel
		if err := a.reg.AddOutput(ctx, job.ID, path, publicURL); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	a.log.Info("registered job outputs",
		zap.String("job_id", job.ID),
		zap.Int("count", count))
	return nil
}

func (a *Agent) ignored(relPath string) bool {
	for _, glob := range a.cfg.IgnoreGlobs {
		if ok, err := doublestar.Match(glob, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
