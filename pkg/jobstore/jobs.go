package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, job_type, status, progress, status_log, status_description,
	created_at, started_at, finished_at, expires_at, raw_params, docker_image_url,
	run_dir_path, output_dir_path, num_failures, lsf_job_id, lsf_host, requirements_params`

// InsertJob stores a fresh job row. The id must not exist yet.
func (s *Store) InsertJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delayed_job (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		job.ID, job.Type, string(job.Status), job.Progress, job.StatusLog, job.StatusDescription,
		fmtTime(job.CreatedAt), timeToCol(job.StartedAt),
		timeToCol(job.FinishedAt), timeToCol(job.ExpiresAt), job.RawParams, job.DockerImageURL,
		job.RunDirPath, job.OutputDirPath, job.NumFailures, job.LSFJobID, job.LSFHost,
		job.RequirementsParams)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob persists the full job row.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE delayed_job SET
			job_type = $1, status = $2, progress = $3, status_log = $4,
			status_description = $5, created_at = $6, started_at = $7,
			finished_at = $8, expires_at = $9, raw_params = $10,
			docker_image_url = $11, run_dir_path = $12, output_dir_path = $13,
			num_failures = $14, lsf_job_id = $15, lsf_host = $16,
			requirements_params = $17
		 WHERE id = $18`,
		job.Type, string(job.Status), job.Progress, job.StatusLog,
		job.StatusDescription, fmtTime(job.CreatedAt),
		timeToCol(job.StartedAt), timeToCol(job.FinishedAt), timeToCol(job.ExpiresAt),
		job.RawParams, job.DockerImageURL, job.RunDirPath, job.OutputDirPath,
		job.NumFailures, job.LSFJobID, job.LSFHost, job.RequirementsParams, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotExist)
	}
	return nil
}

// GetJob loads one job by id. Returns ErrNotExist when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM delayed_job WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotExist)
		}
		return nil, err
	}
	return job, nil
}

// GetJobByLSFID loads the job assigned a given cluster job id on a host.
func (s *Store) GetJobByLSFID(ctx context.Context, host string, lsfJobID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM delayed_job WHERE lsf_host = $1 AND lsf_job_id = $2`,
		host, lsfJobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lsf job %d on %s: %w", lsfJobID, host, ErrNotExist)
		}
		return nil, err
	}
	return job, nil
}

// DeleteJob removes a job and its file rows in one transaction.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM input_file WHERE job_id = $1`,
		`DELETE FROM output_file WHERE job_id = $1`,
		`DELETE FROM delayed_job WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete job %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete of %s: %w", id, err)
	}
	return nil
}

// ListActiveByHost returns jobs bound to a cluster host whose status is
// neither ERROR nor FINISHED and that carry a cluster job id.
func (s *Store) ListActiveByHost(ctx context.Context, host string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM delayed_job
		 WHERE lsf_host = $1 AND status NOT IN ('ERROR', 'FINISHED') AND lsf_job_id > 0`,
		host)
	if err != nil {
		return nil, fmt.Errorf("list active jobs for %s: %w", host, err)
	}
	return collectJobs(rows)
}

// ListExpired returns jobs whose expires_at is set and before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM delayed_job
		 WHERE expires_at IS NOT NULL AND expires_at <> '' AND expires_at < $1`,
		fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListByType returns all jobs of one type.
func (s *Store) ListByType(ctx context.Context, jobType string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM delayed_job WHERE job_type = $1`, jobType)
	if err != nil {
		return nil, fmt.Errorf("list jobs of type %s: %w", jobType, err)
	}
	return collectJobs(rows)
}

// AppendProgress applies a progress update in one atomic statement. The
// log chunk is concatenated inside the UPDATE itself, so two concurrent
// updates serialise on the row and neither overwrites the other's append.
func (s *Store) AppendProgress(ctx context.Context, id string, progress int, logChunk, description string) (*Job, error) {
	var (
		res sql.Result
		err error
	)
	if description == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE delayed_job SET progress = $1, status_log = status_log || $2 WHERE id = $3`,
			progress, logChunk, id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE delayed_job SET progress = $1, status_log = status_log || $2,
				status_description = $3 WHERE id = $4`,
			progress, logChunk, description, id)
	}
	if err != nil {
		return nil, fmt.Errorf("apply progress update to %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotExist)
	}
	return s.GetJob(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		status     string
		createdAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
		expiresAt  sql.NullString
	)
	err := row.Scan(&job.ID, &job.Type, &status, &job.Progress, &job.StatusLog,
		&job.StatusDescription, &createdAt, &startedAt, &finishedAt, &expiresAt,
		&job.RawParams, &job.DockerImageURL, &job.RunDirPath, &job.OutputDirPath,
		&job.NumFailures, &job.LSFJobID, &job.LSFHost, &job.RequirementsParams)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", job.ID, err)
	}
	job.CreatedAt = created.UTC()

	if job.StartedAt, err = colToTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = colToTime(finishedAt); err != nil {
		return nil, err
	}
	if job.ExpiresAt, err = colToTime(expiresAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}
