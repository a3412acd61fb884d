package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddInputFile records an uploaded input file for a job. Re-recording the
// same form field replaces the previous path (resubmission path).
func (s *Store) AddInputFile(ctx context.Context, f InputFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO input_file (job_id, field_key, internal_path)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, field_key) DO UPDATE SET internal_path = excluded.internal_path`,
		f.JobID, f.FieldKey, f.InternalPath)
	if err != nil {
		return fmt.Errorf("record input file %s/%s: %w", f.JobID, f.FieldKey, err)
	}
	return nil
}

// AddOutputFile records a produced output file for a job. Re-registration
// of the same path is a no-op, which keeps cluster polling idempotent.
func (s *Store) AddOutputFile(ctx context.Context, f OutputFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO output_file (job_id, internal_path, public_url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (job_id, internal_path) DO UPDATE SET public_url = excluded.public_url`,
		f.JobID, f.InternalPath, f.PublicURL)
	if err != nil {
		return fmt.Errorf("record output file %s for %s: %w", f.InternalPath, f.JobID, err)
	}
	return nil
}

// GetInputFile resolves one input file by job and form field key.
func (s *Store) GetInputFile(ctx context.Context, jobID, fieldKey string) (*InputFile, error) {
	var f InputFile
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, field_key, internal_path FROM input_file
		 WHERE job_id = $1 AND field_key = $2`, jobID, fieldKey).
		Scan(&f.JobID, &f.FieldKey, &f.InternalPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("input file %s/%s: %w", jobID, fieldKey, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("load input file %s/%s: %w", jobID, fieldKey, err)
	}
	return &f, nil
}

// ListInputFiles returns a job's input file rows ordered by field key.
func (s *Store) ListInputFiles(ctx context.Context, jobID string) ([]InputFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, field_key, internal_path FROM input_file
		 WHERE job_id = $1 ORDER BY field_key`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list input files of %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []InputFile
	for rows.Next() {
		var f InputFile
		if err := rows.Scan(&f.JobID, &f.FieldKey, &f.InternalPath); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListOutputFiles returns a job's output file rows ordered by path.
func (s *Store) ListOutputFiles(ctx context.Context, jobID string) ([]OutputFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, internal_path, public_url FROM output_file
		 WHERE job_id = $1 ORDER BY internal_path`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list output files of %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutputFile
	for rows.Next() {
		var f OutputFile
		if err := rows.Scan(&f.JobID, &f.InternalPath, &f.PublicURL); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteOutputFiles removes all output rows of a job, returning the count.
func (s *Store) DeleteOutputFiles(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM output_file WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete output files of %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// DeleteInputFiles removes all input rows of a job.
func (s *Store) DeleteInputFiles(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM input_file WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete input files of %s: %w", jobID, err)
	}
	return nil
}
