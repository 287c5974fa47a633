// Package state persists per-file content hashes and the append-only sync
// run log. The content hash, not the transport ETag, is ground truth for
// whether consumers should see a change.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/promptops/skillsync/internal/db"
)

// ErrArtifactNotFound is returned when a tracked artifact can't be found.
var ErrArtifactNotFound = errors.New("tracked artifact not found")

// RunStatus is the aggregate outcome of one sync run for one source.
type RunStatus string

const (
	// RunSuccess means every file was fetched or verified unchanged.
	RunSuccess RunStatus = "success"

	// RunPartial means some files succeeded and some failed.
	RunPartial RunStatus = "partial"

	// RunError means every file failed, or the source could not be processed.
	RunError RunStatus = "error"
)

// TrackedArtifact maps a source+path to its last-known content hash and
// cache location. Primary key is (SourceID, Path).
type TrackedArtifact struct {
	SourceID       string
	Path           string
	ContentHash    string
	ETag           string
	LocalCachePath string
	SizeBytes      int64
	SyncedAt       time.Time
}

// SyncRun is one audit record of a single sync invocation's outcome for one
// source. Rows are append-only and never mutated after insertion.
type SyncRun struct {
	ID             int64
	SourceID       string
	StartedAt      time.Time
	Status         RunStatus
	FilesFetched   int
	FilesUnchanged int
	FilesFailed    int
	ErrorDetail    string
	DurationMS     int64
}

// Store is the persistent content-hash state store.
type Store struct {
	db *sql.DB
}

// New creates a store backed by the given state store connection.
func New(conn *db.Connection) *Store {
	return &Store{db: conn.DB}
}

// GetArtifact returns the tracked artifact for (sourceID, path), or
// ErrArtifactNotFound.
func (s *Store) GetArtifact(ctx context.Context, sourceID, path string) (*TrackedArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, path, content_hash, etag, local_cache_path, size_bytes, synced_at
		FROM tracked_artifacts WHERE source_id = ? AND path = ?`, sourceID, path)

	var art TrackedArtifact
	err := row.Scan(
		&art.SourceID, &art.Path, &art.ContentHash, &art.ETag,
		&art.LocalCachePath, &art.SizeBytes, &art.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s/%s: %w", sourceID, path, ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact %s/%s: %w", sourceID, path, err)
	}
	return &art, nil
}

// GetHash returns the stored content hash for (sourceID, path), or
// ErrArtifactNotFound.
func (s *Store) GetHash(ctx context.Context, sourceID, path string) (string, error) {
	art, err := s.GetArtifact(ctx, sourceID, path)
	if err != nil {
		return "", err
	}
	return art.ContentHash, nil
}

// HasChanged reports whether currentHash differs from the stored hash.
// A never-seen path always reports changed.
func (s *Store) HasChanged(ctx context.Context, sourceID, path, currentHash string) (bool, error) {
	hash, err := s.GetHash(ctx, sourceID, path)
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return true, nil
		}
		return false, err
	}
	return hash != currentHash, nil
}

// RecordFile upserts the tracked artifact record for (art.SourceID, art.Path).
func (s *Store) RecordFile(ctx context.Context, art *TrackedArtifact) error {
	if art.SyncedAt.IsZero() {
		art.SyncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_artifacts (source_id, path, content_hash, etag, local_cache_path, size_bytes, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			etag = excluded.etag,
			local_cache_path = excluded.local_cache_path,
			size_bytes = excluded.size_bytes,
			synced_at = excluded.synced_at`,
		art.SourceID, art.Path, art.ContentHash, art.ETag,
		art.LocalCachePath, art.SizeBytes, art.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record file %s/%s: %w", art.SourceID, art.Path, err)
	}
	return nil
}

// ListArtifacts returns all tracked artifacts for a source, ordered by path.
func (s *Store) ListArtifacts(ctx context.Context, sourceID string) ([]TrackedArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, path, content_hash, etag, local_cache_path, size_bytes, synced_at
		FROM tracked_artifacts WHERE source_id = ? ORDER BY path ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for source %s: %w", sourceID, err)
	}
	defer rows.Close()

	var artifacts []TrackedArtifact
	for rows.Next() {
		var art TrackedArtifact
		err := rows.Scan(
			&art.SourceID, &art.Path, &art.ContentHash, &art.ETag,
			&art.LocalCachePath, &art.SizeBytes, &art.SyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, art)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list artifacts for source %s: %w", sourceID, err)
	}
	return artifacts, nil
}

// RecordSyncRun appends a sync run to the audit trail and returns its id.
func (s *Store) RecordSyncRun(ctx context.Context, run *SyncRun) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (source_id, started_at, status, files_fetched, files_unchanged, files_failed, error_detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.SourceID, run.StartedAt, string(run.Status),
		run.FilesFetched, run.FilesUnchanged, run.FilesFailed,
		run.ErrorDetail, run.DurationMS,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record sync run for source %s: %w", run.SourceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to record sync run for source %s: %w", run.SourceID, err)
	}
	run.ID = id
	return id, nil
}

// RecentRuns returns up to limit sync runs for a source, newest first.
func (s *Store) RecentRuns(ctx context.Context, sourceID string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, started_at, status, files_fetched, files_unchanged, files_failed, error_detail, duration_ms
		FROM sync_runs WHERE source_id = ? ORDER BY id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs for source %s: %w", sourceID, err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		var status string
		err := rows.Scan(
			&run.ID, &run.SourceID, &run.StartedAt, &status,
			&run.FilesFetched, &run.FilesUnchanged, &run.FilesFailed,
			&run.ErrorDetail, &run.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Status = RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync runs for source %s: %w", sourceID, err)
	}
	return runs, nil
}

// PurgeSource removes all tracked artifacts and sync runs for a source
// without touching the source row itself.
func (s *Store) PurgeSource(ctx context.Context, sourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to purge source %s: %w", sourceID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tracked_artifacts WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to purge artifacts for source %s: %w", sourceID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_runs WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to purge sync runs for source %s: %w", sourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to purge source %s: %w", sourceID, err)
	}
	return nil
}
