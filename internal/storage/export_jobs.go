package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pnvr/internal/core"
)

const exportJobColumns = `id, convenio_id, ref, status, attempts, last_error, created_at, exported_at`

// CreateExportJob implements ports.ExportQueue
func (r *SQLiteRepository) CreateExportJob(ctx context.Context, convenioID int, ref string) (core.ExportJob, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO export_jobs (convenio_id, ref, status, created_at) VALUES (?, ?, ?, ?)`,
		convenioID, ref, core.ExportPending, now.Format(timeLayout))
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("create export job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("export job id: %w", err)
	}
	return core.ExportJob{
		ID:         id,
		ConvenioID: convenioID,
		Ref:        ref,
		Status:     core.ExportPending,
		CreatedAt:  now,
	}, nil
}

// GetExportJob implements ports.ExportQueue
func (r *SQLiteRepository) GetExportJob(ctx context.Context, id int64) (core.ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportJobColumns+` FROM export_jobs WHERE id = ?`, id)
	job, err := scanExportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job, core.ErrExportJobNotFound
	}
	return job, err
}

// PendingExportJobs implements ports.ExportQueue. Oldest jobs come first.
func (r *SQLiteRepository) PendingExportJobs(ctx context.Context, limit int) ([]core.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+exportJobColumns+` FROM export_jobs WHERE status = ? ORDER BY id LIMIT ?`,
		core.ExportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []core.ExportJob
	for rows.Next() {
		job, err := scanExportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkExported implements ports.ExportQueue
func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, attempts = attempts + 1, last_error = '', exported_at = ? WHERE id = ?`,
		core.ExportDone, r.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark export job %d exported: %w", id, err)
	}
	return requireOneRow(res, id)
}

// MarkExportFailed implements ports.ExportQueue. The job goes back to
// pending until it has used core.MaxExportTries attempts.
func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, id int64, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?`,
		reason, core.MaxExportTries, core.ExportFailed, core.ExportPending, id)
	if err != nil {
		return fmt.Errorf("mark export job %d failed: %w", id, err)
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("export job %d: %w", id, core.ErrExportJobNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExportJob(s rowScanner) (core.ExportJob, error) {
	var (
		job        core.ExportJob
		status     string
		createdAt  string
		exportedAt sql.NullString
	)
	if err := s.Scan(&job.ID, &job.ConvenioID, &job.Ref, &status, &job.Attempts,
		&job.LastError, &createdAt, &exportedAt); err != nil {
		return job, err
	}
	job.Status = core.ExportStatus(status)

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return job, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	job.CreatedAt = t
	if exportedAt.Valid {
		t, err := time.Parse(timeLayout, exportedAt.String)
		if err != nil {
			return job, fmt.Errorf("parse exported_at %q: %w", exportedAt.String, err)
		}
		job.ExportedAt = &t
	}
	return job, nil
}
