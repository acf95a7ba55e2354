package binaryitems

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/casetables"
)

type PostgresRepository struct {
	db    dbx.DBTX
	table string
}

func NewPostgresRepository(db dbx.DBTX, dictionary string) *PostgresRepository {
	return &PostgresRepository{db: db, table: casetables.MustFor(dictionary).Binary}
}

func (r *PostgresRepository) Replace(ctx context.Context, caseIDs []string, items []models.CaseBinaryItem) error {
	if len(caseIDs) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE case_guid IN (%s)`, r.table, casetables.Placeholders(1, len(caseIDs)))
	if _, err := r.db.ExecContext(ctx, query, casetables.StringArgs(caseIDs)...); err != nil {
		return fmt.Errorf("failed to delete case binary items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	values := make([]string, len(items))
	args := make([]any, 0, len(items)*2)
	for i, it := range items {
		values[i] = "(" + casetables.Placeholders(i*2+1, 2) + ")"
		args = append(args, it.CaseID, it.Signature)
	}
	query = fmt.Sprintf(`INSERT INTO %s (case_guid, binary_data_signature) VALUES %s`, r.table, strings.Join(values, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert case binary items: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Any(ctx context.Context) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, r.table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Unsent(ctx context.Context, dictID int64, device string, caseIDs []string) ([]models.CaseBinaryItem, error) {
	if len(caseIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT b.case_guid::text, b.binary_data_signature
		FROM %s b
		WHERE b.case_guid IN (%s)
		AND NOT EXISTS (
			SELECT 1
			FROM cspro_binary_sync_history h
			JOIN cspro_sync_history s ON s.revision = h.sync_history_id
			WHERE h.binary_data_signature = b.binary_data_signature
			AND s.dictionary_id = $1
			AND s.device = $2
			AND s.direction = 'get'
		)
		ORDER BY 1, 2`, r.table, casetables.Placeholders(3, len(caseIDs)))

	args := append([]any{dictID, device}, casetables.StringArgs(caseIDs)...)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select unsent binary items: %w", err)
	}
	defer rows.Close()

	var out []models.CaseBinaryItem
	for rows.Next() {
		var it models.CaseBinaryItem
		if err := rows.Scan(&it.CaseID, &it.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan binary item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
