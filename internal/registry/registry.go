// Package registry manages the set of configured remote artifact sources.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/promptops/skillsync/internal/db"
)

// Registry provides CRUD operations over the persisted source set.
type Registry struct {
	db *sql.DB
}

// New creates a registry backed by the given state store connection.
func New(conn *db.Connection) *Registry {
	return &Registry{db: conn.DB}
}

// Register validates and persists a new source. A duplicate id is rejected
// with a ValidationError and nothing is persisted.
func (r *Registry) Register(ctx context.Context, src *Source) error {
	if src == nil {
		return &ValidationError{Field: "source", Reason: "cannot be nil"}
	}
	if err := src.Validate(); err != nil {
		return err
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sources WHERE id = ?)", src.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for existing source: %w", err)
	}
	if exists {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("source %q is already registered", src.ID)}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, url, subdirectory, priority, enabled, discovery, git_repo, git_ref, last_etag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.URL, src.Subdirectory, src.Priority, src.Enabled,
		src.Discovery, src.GitRepo, src.GitRef, src.LastETag,
	)
	if err != nil {
		return fmt.Errorf("failed to register source %s: %w", src.ID, err)
	}
	return nil
}

// Update applies a partial update to an existing source. The resulting
// configuration is re-validated before being persisted.
func (r *Registry) Update(ctx context.Context, id string, fields UpdateFields) error {
	src, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if fields.URL != nil {
		src.URL = *fields.URL
	}
	if fields.Subdirectory != nil {
		src.Subdirectory = *fields.Subdirectory
	}
	if fields.Priority != nil {
		src.Priority = *fields.Priority
	}
	if fields.Enabled != nil {
		src.Enabled = *fields.Enabled
	}
	if fields.Discovery != nil {
		src.Discovery = *fields.Discovery
	}
	if fields.GitRepo != nil {
		src.GitRepo = *fields.GitRepo
	}
	if fields.GitRef != nil {
		src.GitRef = *fields.GitRef
	}

	if err := src.Validate(); err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE sources
		SET url = ?, subdirectory = ?, priority = ?, enabled = ?, discovery = ?, git_repo = ?, git_ref = ?
		WHERE id = ?`,
		src.URL, src.Subdirectory, src.Priority, src.Enabled,
		src.Discovery, src.GitRepo, src.GitRef, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	return nil
}

// Remove deletes a source. Tracked artifacts and sync runs for the source are
// removed by cascade. Removing an unknown id returns ErrSourceNotFound.
func (r *Registry) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove source %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove source %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("source %s: %w", id, ErrSourceNotFound)
	}
	return nil
}

// Get returns a single source by id.
func (r *Registry) Get(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, url, subdirectory, priority, enabled, discovery, git_repo, git_ref, last_sync_time, last_etag
		FROM sources WHERE id = ?`, id)

	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, ErrSourceNotFound)
		}
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return src, nil
}

// List returns sources ordered by ascending priority, ties broken by lexical
// id order. When enabledOnly is set, disabled sources are omitted.
func (r *Registry) List(ctx context.Context, enabledOnly bool) ([]Source, error) {
	query := `
		SELECT id, url, subdirectory, priority, enabled, discovery, git_repo, git_ref, last_sync_time, last_etag
		FROM sources`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY priority ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// RecordSync updates the sync bookkeeping fields for a source after a sync
// pass. An empty etag leaves the stored manifest ETag untouched.
func (r *Registry) RecordSync(ctx context.Context, id string, manifestETag string, syncedAt time.Time) error {
	var err error
	if manifestETag != "" {
		_, err = r.db.ExecContext(ctx,
			"UPDATE sources SET last_sync_time = ?, last_etag = ? WHERE id = ?",
			syncedAt, manifestETag, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			"UPDATE sources SET last_sync_time = ? WHERE id = ?",
			syncedAt, id)
	}
	if err != nil {
		return fmt.Errorf("failed to record sync for source %s: %w", id, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSource.
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(s scanner) (*Source, error) {
	var src Source
	var lastSync sql.NullTime
	err := s.Scan(
		&src.ID, &src.URL, &src.Subdirectory, &src.Priority, &src.Enabled,
		&src.Discovery, &src.GitRepo, &src.GitRef, &lastSync, &src.LastETag,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		src.LastSyncTime = &t
	}
	return &src, nil
}
