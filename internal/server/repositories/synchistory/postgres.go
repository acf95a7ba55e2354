package synchistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/models"
)

const entryColumns = `h.revision, h.device, h.username, h.dictionary_id, d.dictionary_name, h.direction, h.universe,
	h.last_case_revision, h.last_case_guid::text, h.committed, h.created_time`

const entryFrom = `cspro_sync_history h JOIN cspro_dictionaries d ON d.id = h.dictionary_id`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.SyncHistoryEntry) (int64, error) {
	query := `
		INSERT INTO cspro_sync_history (device, username, dictionary_id, direction, universe,
			last_case_revision, last_case_guid, committed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING revision, created_time
	`
	var lastCase sql.NullString
	if e.LastCaseID != "" {
		lastCase = sql.NullString{String: e.LastCaseID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query, e.Device, e.UserName, e.DictionaryID, string(e.Direction), e.Universe,
		e.LastCaseRevision, lastCase, e.Committed).Scan(&e.Revision, &e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return e.Revision, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, revision int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cspro_sync_history WHERE revision = $1`, revision); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteForDictionary removes every entry of dictID together with its
// binary entries.
func (r *PostgresRepository) DeleteForDictionary(ctx context.Context, dictID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cspro_sync_history WHERE dictionary_id = $1`, dictID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) MarkCommitted(ctx context.Context, revision int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE cspro_sync_history SET committed = true WHERE revision = $1`, revision)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.SyncHistoryEntry, error) {
	var (
		e         models.SyncHistoryEntry
		direction string
		lastCase  sql.NullString
	)
	err := s.Scan(&e.Revision, &e.Device, &e.UserName, &e.DictionaryID, &e.DictionaryName, &direction, &e.Universe,
		&e.LastCaseRevision, &lastCase, &e.Committed, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Direction = models.Direction(direction)
	e.LastCaseID = lastCase.String
	return &e, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.SyncHistoryEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Find(ctx context.Context, dictID, revision int64, device string) (*models.SyncHistoryEntry, error) {
	if device == "" {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE h.dictionary_id = $1 AND h.revision = $2`, entryColumns, entryFrom)
		return r.queryOne(ctx, query, dictID, revision)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE h.dictionary_id = $1 AND h.revision = $2 AND h.device = $3`, entryColumns, entryFrom)
	return r.queryOne(ctx, query, dictID, revision, device)
}

func (r *PostgresRepository) LastForDevice(ctx context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE h.dictionary_id = $1 AND h.device = $2 ORDER BY h.revision DESC LIMIT 1`,
		entryColumns, entryFrom)
	return r.queryOne(ctx, query, dictID, device)
}

func (r *PostgresRepository) LastGetForDevice(ctx context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE h.dictionary_id = $1 AND h.device = $2 AND h.direction = 'get' ORDER BY h.revision DESC LIMIT 1`,
		entryColumns, entryFrom)
	return r.queryOne(ctx, query, dictID, device)
}

func (r *PostgresRepository) MinGetRevisionSince(ctx context.Context, dictID int64, device string, lastCaseRevision int64) (int64, error) {
	query := `
		SELECT COALESCE(MIN(revision), 0)
		FROM cspro_sync_history
		WHERE dictionary_id = $1 AND device = $2 AND direction = 'get' AND last_case_revision >= $3
	`
	var rev int64
	if err := r.db.QueryRowContext(ctx, query, dictID, device, lastCaseRevision).Scan(&rev); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rev, nil
}

func (r *PostgresRepository) HighWaterMark(ctx context.Context, pendingTimeout time.Duration) (int64, error) {
	query := `
		SELECT COALESCE(
			(SELECT MIN(revision) - 1 FROM cspro_sync_history
			 WHERE NOT committed AND created_time > now() - $1 * interval '1 second'),
			(SELECT MAX(revision) FROM cspro_sync_history),
			0)
	`
	var rev int64
	if err := r.db.QueryRowContext(ctx, query, pendingTimeout.Seconds()).Scan(&rev); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rev, nil
}

func (r *PostgresRepository) List(ctx context.Context, dictID int64, f models.SyncFilter) ([]models.SyncHistoryEntry, error) {
	conds := []string{"h.dictionary_id = $1"}
	args := []any{dictID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Device != "" {
		add("h.device = $%d", f.Device)
	}
	if !f.From.IsZero() {
		add("h.created_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("h.created_time < $%d", f.To)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY h.revision DESC`, entryColumns, entryFrom, strings.Join(conds, " AND "))
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync history: %w", err)
	}
	defer rows.Close()

	var out []models.SyncHistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) AddBinaryEntries(ctx context.Context, revision int64, signatures []string) error {
	if len(signatures) == 0 {
		return nil
	}
	values := make([]string, len(signatures))
	args := make([]any, 0, len(signatures)+1)
	args = append(args, revision)
	for i, sig := range signatures {
		values[i] = fmt.Sprintf("($%d, $1)", i+2)
		args = append(args, sig)
	}
	query := `INSERT INTO cspro_binary_sync_history (binary_data_signature, sync_history_id) VALUES ` + strings.Join(values, ", ")
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ArchiveBinaryEntries(ctx context.Context, dictID int64, device string, minRevision int64) (int64, error) {
	insert := `
		INSERT INTO cspro_binary_sync_history_archive (binary_data_signature, sync_history_id)
		SELECT b.binary_data_signature, b.sync_history_id
		FROM cspro_binary_sync_history b
		JOIN cspro_sync_history s ON s.revision = b.sync_history_id
		WHERE s.dictionary_id = $1 AND s.device = $2 AND s.direction = 'get' AND b.sync_history_id >= $3
	`
	if _, err := r.db.ExecContext(ctx, insert, dictID, device, minRevision); err != nil {
		return 0, fmt.Errorf("failed to archive binary sync history: %w", err)
	}

	del := `
		DELETE FROM cspro_binary_sync_history b
		USING cspro_sync_history s
		WHERE s.revision = b.sync_history_id
		AND s.dictionary_id = $1 AND s.device = $2 AND s.direction = 'get' AND b.sync_history_id >= $3
	`
	res, err := r.db.ExecContext(ctx, del, dictID, device, minRevision)
	if err != nil {
		return 0, fmt.Errorf("failed to delete binary sync history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}
