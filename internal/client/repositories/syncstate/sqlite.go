// Package syncstate persists the device's download cursor per dictionary
// and the revisions its own uploads created.
package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/casesync/internal/client/models"
	"github.com/dmitrijs2005/casesync/internal/dbx"
)

type Repository interface {
	// Get returns a zero state for a dictionary never synced.
	Get(ctx context.Context, dictionary string) (*models.SyncState, error)
	Save(ctx context.Context, s *models.SyncState) error
	AddOwnRevision(ctx context.Context, dictionary string, revision int64) error
	ClearOwnRevisions(ctx context.Context, dictionary string) error
	// Reset forgets the cursor so the next download starts from scratch.
	Reset(ctx context.Context, dictionary string) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, dictionary string) (*models.SyncState, error) {
	s := &models.SyncState{Dictionary: dictionary}
	var syncedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT last_revision, start_after, last_put_revision, universe, synced_at
		FROM sync_state WHERE dictionary = ?
	`, dictionary).Scan(&s.LastRevision, &s.StartAfter, &s.LastPutRevision, &s.Universe, &syncedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		s.SyncedAt = &t
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT revision FROM own_revisions WHERE dictionary = ? ORDER BY revision
	`, dictionary)
	if err != nil {
		return nil, fmt.Errorf("failed to select own revisions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rev int64
		if err := rows.Scan(&rev); err != nil {
			return nil, err
		}
		s.OwnRevisions = append(s.OwnRevisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.SyncState) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (dictionary, last_revision, start_after, last_put_revision, universe, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dictionary) DO UPDATE SET
			last_revision = excluded.last_revision,
			start_after = excluded.start_after,
			last_put_revision = excluded.last_put_revision,
			universe = excluded.universe,
			synced_at = excluded.synced_at
	`, s.Dictionary, s.LastRevision, s.StartAfter, s.LastPutRevision, s.Universe, now)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	s.SyncedAt = &now
	return nil
}

func (r *SQLiteRepository) AddOwnRevision(ctx context.Context, dictionary string, revision int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO own_revisions (dictionary, revision) VALUES (?, ?) ON CONFLICT DO NOTHING
	`, dictionary, revision)
	if err != nil {
		return fmt.Errorf("failed to add own revision: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ClearOwnRevisions(ctx context.Context, dictionary string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM own_revisions WHERE dictionary = ?`, dictionary); err != nil {
		return fmt.Errorf("failed to clear own revisions: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Reset(ctx context.Context, dictionary string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_state WHERE dictionary = ?`, dictionary); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	return r.ClearOwnRevisions(ctx, dictionary)
}
