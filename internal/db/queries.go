package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"resync/internal/rsync"
)

// SyncRun queries

// CreateSyncRun creates a new sync run record
func (db *DB) CreateSyncRun(handle, source, dest string, jobID *int64, totalFiles uint64) (*SyncRun, error) {
	result, err := db.Exec(`
		INSERT INTO sync_runs (handle, source, dest, scheduled_job_id, status, started_at, total_files)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		handle, source, dest, jobID, SyncRunStatusRunning, time.Now(), totalFiles,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetSyncRun(id)
}

// GetSyncRun retrieves a sync run by ID
func (db *DB) GetSyncRun(id int64) (*SyncRun, error) {
	row := db.QueryRow(`
		SELECT id, handle, source, dest, scheduled_job_id, status, started_at, completed_at,
			total_files, files_transferred, bytes_transferred, error_message
		FROM sync_runs WHERE id = ?`, id)
	return scanSyncRun(row)
}

// GetSyncRunByHandle retrieves the most recent sync run for a job handle
func (db *DB) GetSyncRunByHandle(handle string) (*SyncRun, error) {
	row := db.QueryRow(`
		SELECT id, handle, source, dest, scheduled_job_id, status, started_at, completed_at,
			total_files, files_transferred, bytes_transferred, error_message
		FROM sync_runs WHERE handle = ? ORDER BY started_at DESC LIMIT 1`, handle)
	return scanSyncRun(row)
}

// ListSyncRuns returns sync runs with pagination
func (db *DB) ListSyncRuns(limit, offset int) ([]*SyncRun, error) {
	rows, err := db.Query(`
		SELECT id, handle, source, dest, scheduled_job_id, status, started_at, completed_at,
			total_files, files_transferred, bytes_transferred, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		r, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetLastRunForJob returns the most recent sync run for a scheduled job
func (db *DB) GetLastRunForJob(jobID int64) (*SyncRun, error) {
	row := db.QueryRow(`
		SELECT id, handle, source, dest, scheduled_job_id, status, started_at, completed_at,
			total_files, files_transferred, bytes_transferred, error_message
		FROM sync_runs WHERE scheduled_job_id = ? ORDER BY started_at DESC LIMIT 1`, jobID)
	return scanSyncRun(row)
}

// UpdateSyncRunProgress updates transfer counters
func (db *DB) UpdateSyncRunProgress(id int64, filesTransferred, bytesTransferred uint64) error {
	_, err := db.Exec(`
		UPDATE sync_runs SET files_transferred = ?, bytes_transferred = ?
		WHERE id = ?`,
		filesTransferred, bytesTransferred, id,
	)
	return err
}

// CompleteSyncRun marks a sync run as finished
func (db *DB) CompleteSyncRun(id int64, status SyncRunStatus, errorMessage *string) error {
	_, err := db.Exec(`
		UPDATE sync_runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		status, time.Now(), errorMessage, id,
	)
	return err
}

// PruneSyncRuns deletes finished runs older than the cutoff
func (db *DB) PruneSyncRuns(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM sync_runs WHERE status != ? AND started_at < ?`,
		SyncRunStatusRunning, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ScheduledJob queries

// CreateScheduledJob creates a new scheduled job
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return nil, err
	}

	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, source, dest, options, cron_expression, enabled, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.Name, job.Source, job.Dest, string(opts), job.CronExpression, job.Enabled, job.NextRunAt,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetScheduledJob(id)
}

// GetScheduledJob retrieves a scheduled job by ID
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`
		SELECT id, name, source, dest, options, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all scheduled jobs
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	rows, err := db.Query(`
		SELECT id, name, source, dest, options, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetEnabledJobs returns all enabled scheduled jobs
func (db *DB) GetEnabledJobs() ([]*ScheduledJob, error) {
	rows, err := db.Query(`
		SELECT id, name, source, dest, options, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobRunTimes records when a job last ran and when it runs next
func (db *DB) UpdateJobRunTimes(id int64, lastRunAt, nextRunAt *time.Time) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		lastRunAt, nextRunAt, id,
	)
	return err
}

// SetJobEnabled toggles a scheduled job
func (db *DB) SetJobEnabled(id int64, enabled bool) error {
	_, err := db.Exec(`UPDATE scheduled_jobs SET enabled = ? WHERE id = ?`, enabled, id)
	return err
}

// DeleteScheduledJob removes a scheduled job
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}

// Settings queries

// GetSetting returns a setting value, or empty string if not set
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting stores a setting value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(s scanner) (*SyncRun, error) {
	var r SyncRun
	err := s.Scan(
		&r.ID, &r.Handle, &r.Source, &r.Dest, &r.ScheduledJobID, &r.Status,
		&r.StartedAt, &r.CompletedAt, &r.TotalFiles, &r.FilesTransferred,
		&r.BytesTransferred, &r.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanScheduledJob(s scanner) (*ScheduledJob, error) {
	var j ScheduledJob
	var opts string
	err := s.Scan(
		&j.ID, &j.Name, &j.Source, &j.Dest, &opts, &j.CronExpression,
		&j.Enabled, &j.LastRunAt, &j.NextRunAt, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if opts != "" {
		if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
			j.Options = rsync.Options{}
		}
	}
	return &j, nil
}
