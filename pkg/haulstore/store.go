// Package haulstore persists jobs, timelines, and destination profiles in
// SQLite. All status transitions commit the job-row update and the timeline
// append in one transaction.
package haulstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3leaps/gohaul/pkg/haul"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is RFC3339 with fixed nanosecond padding so stored UTC values
// compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements haul.Store and haul.DestinationStore on SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ haul.Store            = (*Store)(nil)
	_ haul.DestinationStore = (*Store)(nil)
)

// Open connects to the database at path, creating the parent directory and
// initializing the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable, for readiness checks.
func (s *Store) Ping() error { return s.db.Ping() }

// DB returns the underlying connection, for CLI inspection commands.
func (s *Store) DB() *sql.DB { return s.db }

// ── jobs ──

const jobColumns = `id, owner_id, job_type, destination_id, status, source_ref, subset,
	download_handle, upload_handle, error_message, retry_count, next_retry_at, refunded,
	fetched_bytes, total_bytes, local_path, heartbeat_at, started_at, completed_at,
	created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, j *haul.Job, source haul.ChangeSource, metadata map[string]any) error {
	if j == nil || strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerID, j.JobType, nullStr(j.DestinationID), string(j.Status), j.SourceRef, j.Subset,
		j.DownloadHandle, j.UploadHandle, j.ErrorMessage, j.RetryCount, fmtTimePtr(j.NextRetryAt), boolInt(j.Refunded),
		j.FetchedBytes, j.TotalBytes, j.LocalPath, fmtTimePtr(j.HeartbeatAt), fmtTimePtr(j.StartedAt), fmtTimePtr(j.CompletedAt),
		fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return haul.E(haul.CodeJobAlreadyExists, "active job already exists for source %s", j.SourceRef)
		}
		return fmt.Errorf("insert job: %w", err)
	}

	// The initial entry uses the job's creation timestamp, not now, so
	// batch-created jobs keep their ordering.
	if err := insertEntry(ctx, tx, j.ID, nil, j.Status, source, "", metadata, j.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*haul.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *Store) GetJobByHandle(ctx context.Context, handle string) (*haul.Job, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, haul.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE download_handle = ? OR upload_handle = ?`,
		handle, handle)
	return scanJob(row)
}

func (s *Store) FindActiveBySource(ctx context.Context, ownerID, sourceRef string) (*haul.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE owner_id = ? AND source_ref = ? AND status NOT IN `+terminalSet+`
		 LIMIT 1`,
		ownerID, sourceRef)
	return scanJob(row)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, opts haul.ListOpts) ([]*haul.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ?
		 ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		ownerID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs by owner: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) ListStale(ctx context.Context, statuses []haul.Status, cutoff time.Time) ([]*haul.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, fmtTime(cutoff))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (`+placeholders+`)
		   AND COALESCE(heartbeat_at, started_at, created_at) < ?
		 ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) ApplyTransition(ctx context.Context, jobID string, seed haul.TransitionSeed) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, haul.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read current status: %w", err)
	}
	from := haul.Status(current)

	if seed.ExpectFrom != nil && from != *seed.ExpectFrom {
		return false, haul.ErrStatusChanged
	}

	// Same status with nothing to record is a no-op; repeated heartbeats and
	// redelivered failure notifications must not pile up history.
	if from == seed.To && seed.Error == "" && len(seed.Metadata) == 0 {
		return false, tx.Commit()
	}

	at := seed.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if err := insertEntry(ctx, tx, jobID, &from, seed.To, seed.Source, seed.Error, seed.Metadata, at); err != nil {
		return false, err
	}

	sets := []string{"status = ?", "updated_at = ?", "completed_at = ?"}
	args := []any{string(seed.To), fmtTime(time.Now().UTC())}
	if seed.To.Terminal() {
		args = append(args, fmtTime(at))
	} else {
		args = append(args, nil)
	}
	if seed.Error != "" {
		sets = append(sets, "error_message = ?")
		args = append(args, seed.Error)
	} else if seed.ClearError {
		sets = append(sets, "error_message = ''")
	}
	if seed.ClearDownloadHandle {
		sets = append(sets, "download_handle = ''")
	}
	if seed.ClearUploadHandle {
		sets = append(sets, "upload_handle = ''")
	}
	if seed.ClearNextRetry {
		sets = append(sets, "next_retry_at = NULL")
	}
	if seed.ResetProgress {
		sets = append(sets, "fetched_bytes = 0", "local_path = ''")
	}
	if seed.IncrementRetry {
		sets = append(sets, "retry_count = retry_count + 1")
	}
	args = append(args, jobID)

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

func (s *Store) SetHandles(ctx context.Context, jobID string, download, upload *string) error {
	sets := []string{"updated_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}
	if download != nil {
		sets = append(sets, "download_handle = ?")
		args = append(args, *download)
	}
	if upload != nil {
		sets = append(sets, "upload_handle = ?")
		args = append(args, *upload)
	}
	args = append(args, jobID)
	return s.execJobUpdate(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

func (s *Store) UpdateHeartbeat(ctx context.Context, jobID string, at time.Time) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, fetchedBytes int64) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET fetched_bytes = ?, updated_at = ? WHERE id = ?`,
		fetchedBytes, fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET started_at = COALESCE(started_at, ?), heartbeat_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(at), fmtTime(at), fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) SetRefunded(ctx context.Context, jobID string, refunded bool) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET refunded = ?, updated_at = ? WHERE id = ?`,
		boolInt(refunded), fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) SetLocalPath(ctx context.Context, jobID string, path string) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET local_path = ?, updated_at = ? WHERE id = ?`,
		path, fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) SetTotalBytes(ctx context.Context, jobID string, total int64) error {
	return s.execJobUpdate(ctx,
		`UPDATE jobs SET total_bytes = ?, updated_at = ? WHERE id = ?`,
		total, fmtTime(time.Now().UTC()), jobID)
}

func (s *Store) execJobUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows affected: %w", err)
	}
	if n == 0 {
		return haul.ErrNotFound
	}
	return nil
}

func (s *Store) Timeline(ctx context.Context, jobID string, page haul.TimelinePage) ([]*haul.TimelineEntry, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, job_id, from_status, to_status, source, error_message, metadata, changed_at
		 FROM job_timeline WHERE job_id = ?
		 ORDER BY changed_at, seq LIMIT ? OFFSET ?`,
		jobID, limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var out []*haul.TimelineEntry
	for rows.Next() {
		var (
			e        haul.TimelineEntry
			from     sql.NullString
			metadata string
			changed  string
		)
		if err := rows.Scan(&e.Seq, &e.JobID, &from, &e.ToStatus, &e.Source, &e.ErrorMessage, &metadata, &changed); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if from.Valid {
			st := haul.Status(from.String)
			e.FromStatus = &st
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("parse timeline metadata: %w", err)
			}
		}
		t, err := parseTime(changed)
		if err != nil {
			return nil, err
		}
		e.ChangedAt = t
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context) (map[haul.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[haul.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		out[haul.Status(status)] = n
	}
	return out, rows.Err()
}

// ── destinations ──

func (s *Store) PutDestination(ctx context.Context, d *haul.Destination) error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("destination id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations (id, owner_id, name, provider, bucket, prefix, region, endpoint, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, provider = excluded.provider, bucket = excluded.bucket,
		   prefix = excluded.prefix, region = excluded.region, endpoint = excluded.endpoint,
		   active = excluded.active`,
		d.ID, d.OwnerID, d.Name, d.Provider, d.Bucket, d.Prefix, d.Region, d.Endpoint,
		boolInt(d.Active), fmtTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("put destination: %w", err)
	}
	return nil
}

func (s *Store) GetDestination(ctx context.Context, id string) (*haul.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, provider, bucket, prefix, region, endpoint, active, created_at
		 FROM destinations WHERE id = ?`, id)
	return scanDestination(row)
}

func (s *Store) DefaultDestination(ctx context.Context, ownerID string) (*haul.Destination, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, provider, bucket, prefix, region, endpoint, active, created_at
		 FROM destinations WHERE owner_id = ? AND active = 1
		 ORDER BY created_at LIMIT 1`, ownerID)
	return scanDestination(row)
}

func (s *Store) ListDestinations(ctx context.Context, ownerID string) ([]*haul.Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, provider, bucket, prefix, region, endpoint, active, created_at
		 FROM destinations WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var out []*haul.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ── helpers ──

var terminalSet = func() string {
	quoted := make([]string, 0, 5)
	for _, s := range haul.TerminalStatuses() {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}()

func insertEntry(ctx context.Context, tx *sql.Tx, jobID string, from *haul.Status, to haul.Status, source haul.ChangeSource, errMsg string, metadata map[string]any, at time.Time) error {
	var metaStr string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal timeline metadata: %w", err)
		}
		metaStr = string(b)
	}
	var fromVal any
	if from != nil {
		fromVal = string(*from)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_timeline (job_id, from_status, to_status, source, error_message, metadata, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, fromVal, string(to), string(source), errMsg, metaStr, fmtTime(at))
	if err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*haul.Job, error) {
	var (
		j                             haul.Job
		destID                        sql.NullString
		nextRetry, heartbeat, started sql.NullString
		completed                     sql.NullString
		status, created, updated      string
		refunded                      int
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.JobType, &destID, &status, &j.SourceRef, &j.Subset,
		&j.DownloadHandle, &j.UploadHandle, &j.ErrorMessage, &j.RetryCount, &nextRetry, &refunded,
		&j.FetchedBytes, &j.TotalBytes, &j.LocalPath, &heartbeat, &started, &completed,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, haul.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = haul.Status(status)
	j.DestinationID = destID.String
	j.Refunded = refunded != 0
	if j.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}
	if j.HeartbeatAt, err = parseTimePtr(heartbeat); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*haul.Job, error) {
	var out []*haul.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanDestination(row rowScanner) (*haul.Destination, error) {
	var (
		d       haul.Destination
		active  int
		created string
	)
	err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Provider, &d.Bucket, &d.Prefix, &d.Region, &d.Endpoint, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, haul.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan destination: %w", err)
	}
	d.Active = active != 0
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &d, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept plain RFC3339 from rows written by external tooling.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
		}
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
