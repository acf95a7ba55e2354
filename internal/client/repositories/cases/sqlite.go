package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/client/models"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, dictionary string, c *wire.Case) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode case %s: %w", c.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cases (dictionary, id, body, deleted, dirty, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(dictionary, id) DO UPDATE SET
			body = excluded.body, deleted = excluded.deleted, dirty = 1, updated_at = excluded.updated_at
	`, dictionary, c.ID, string(body), c.Deleted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save case %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, dictionary string, c *wire.Case) (bool, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("failed to encode case %s: %w", c.ID, err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cases (dictionary, id, body, deleted, dirty, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(dictionary, id) DO UPDATE SET
			body = excluded.body, deleted = excluded.deleted, updated_at = excluded.updated_at
		WHERE cases.dirty = 0
	`, dictionary, c.ID, string(body), c.Deleted, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to apply case %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, dictionary, id string) (*models.LocalCase, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT body, dirty, updated_at FROM cases WHERE dictionary = ? AND id = ?
	`, dictionary, id)
	lc, err := scanCase(dictionary, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s: %w", id, err)
	}
	return lc, nil
}

func (r *SQLiteRepository) Dirty(ctx context.Context, dictionary string) ([]*models.LocalCase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT body, dirty, updated_at FROM cases WHERE dictionary = ? AND dirty = 1 ORDER BY id
	`, dictionary)
	if err != nil {
		return nil, fmt.Errorf("failed to select dirty cases: %w", err)
	}
	defer rows.Close()

	var result []*models.LocalCase
	for rows.Next() {
		lc, err := scanCase(dictionary, rows)
		if err != nil {
			return nil, err
		}
		result = append(result, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkClean(ctx context.Context, dictionary string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, dictionary)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE cases SET dirty = 0 WHERE dictionary = ? AND id IN (?` +
		strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark cases clean: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Counts(ctx context.Context, dictionary string) (models.Counts, error) {
	var c models.Counts
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(dirty), 0), COALESCE(SUM(deleted), 0)
		FROM cases WHERE dictionary = ?
	`, dictionary).Scan(&c.Total, &c.Dirty, &c.Deleted)
	if err != nil {
		return c, fmt.Errorf("failed to count cases: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, dictionary string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cases WHERE dictionary = ?`, dictionary); err != nil {
		return fmt.Errorf("failed to clear cases: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(dictionary string, s scanner) (*models.LocalCase, error) {
	var (
		body  string
		dirty bool
		at    time.Time
	)
	if err := s.Scan(&body, &dirty, &at); err != nil {
		return nil, err
	}
	c := &wire.Case{}
	if err := json.Unmarshal([]byte(body), c); err != nil {
		return nil, fmt.Errorf("failed to decode stored case: %w", err)
	}
	return &models.LocalCase{Dictionary: dictionary, Case: c, Dirty: dirty, UpdatedAt: at}, nil
}
