package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/casetables"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

const noteWidth = 9

type PostgresRepository struct {
	db    dbx.DBTX
	table string
}

func NewPostgresRepository(db dbx.DBTX, dictionary string) *PostgresRepository {
	return &PostgresRepository{db: db, table: casetables.MustFor(dictionary).Notes}
}

func (r *PostgresRepository) Replace(ctx context.Context, cases []*wire.Case) error {
	if len(cases) == 0 {
		return nil
	}

	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE case_guid IN (%s)`, r.table, casetables.Placeholders(1, len(ids)))
	if _, err := r.db.ExecContext(ctx, query, casetables.StringArgs(ids)...); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}

	var (
		values []string
		args   []any
	)
	for _, c := range cases {
		for _, n := range c.Notes {
			values = append(values, "("+casetables.Placeholders(len(args)+1, noteWidth)+")")
			modified := n.ModifiedTime
			if modified.IsZero() {
				modified = time.Now().UTC()
			}
			args = append(args, c.ID, n.Field.Name, n.Field.LevelKey,
				n.Field.RecordOccurrence, n.Field.ItemOccurrence, n.Field.SubitemOccurrence,
				n.Content, n.OperatorID, modified)
		}
	}
	if len(values) == 0 {
		return nil
	}

	query = fmt.Sprintf(`INSERT INTO %s (case_guid, field_name, level_key, record_occurrence, item_occurrence,
		subitem_occurrence, content, operator_id, modified_time) VALUES %s`, r.table, strings.Join(values, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert notes: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ForCases(ctx context.Context, ids []string) (map[string][]wire.Note, error) {
	out := make(map[string][]wire.Note)
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT case_guid::text, field_name, level_key, record_occurrence, item_occurrence,
		subitem_occurrence, content, operator_id, modified_time
		FROM %s WHERE case_guid IN (%s) ORDER BY case_guid, id`, r.table, casetables.Placeholders(1, len(ids)))

	rows, err := r.db.QueryContext(ctx, query, casetables.StringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			caseID string
			n      wire.Note
		)
		if err := rows.Scan(&caseID, &n.Field.Name, &n.Field.LevelKey, &n.Field.RecordOccurrence,
			&n.Field.ItemOccurrence, &n.Field.SubitemOccurrence, &n.Content, &n.OperatorID, &n.ModifiedTime); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		n.ModifiedTime = n.ModifiedTime.UTC()
		out[caseID] = append(out[caseID], n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
