package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/casetables"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

const caseColumns = `guid::text, caseids, label, questionnaire, revision, deleted, verified,
	partial_save_mode, partial_save_field_name, partial_save_level_key,
	partial_save_record_occurrence, partial_save_item_occurrence, partial_save_subitem_occurrence,
	clock, modified_time`

// columns written per upserted row
const upsertWidth = 14

type PostgresRepository struct {
	db     dbx.DBTX
	tables casetables.Tables
}

// NewPostgresRepository binds the repository to the tables of dictionary.
// The dictionary name must already be validated.
func NewPostgresRepository(db dbx.DBTX, dictionary string) *PostgresRepository {
	return &PostgresRepository{db: db, tables: casetables.MustFor(dictionary)}
}

func (r *PostgresRepository) Versions(ctx context.Context, ids []string) (map[string]models.CaseVersion, error) {
	out := make(map[string]models.CaseVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT guid::text, revision, clock FROM %s WHERE guid IN (%s)`,
		r.tables.Cases, casetables.Placeholders(1, len(ids)))

	rows, err := r.db.QueryContext(ctx, query, casetables.StringArgs(ids)...)
	if err != nil {
		return nil, queryErr("failed to select case versions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v     models.CaseVersion
			clock string
		)
		if err := rows.Scan(&v.ID, &v.Revision, &clock); err != nil {
			return nil, fmt.Errorf("failed to scan case version: %w", err)
		}
		if v.Clock, err = vectorclock.Parse(clock); err != nil {
			return nil, fmt.Errorf("stored clock of case %s: %w", v.ID, err)
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, cases []*wire.Case, revision int64) error {
	if len(cases) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, `INSERT INTO %s (guid, caseids, label, questionnaire, revision, deleted, verified,
		partial_save_mode, partial_save_field_name, partial_save_level_key,
		partial_save_record_occurrence, partial_save_item_occurrence, partial_save_subitem_occurrence,
		clock, modified_time) VALUES `, r.tables.Cases)

	args := make([]any, 0, len(cases)*upsertWidth)
	for i, c := range cases {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(casetables.Placeholders(i*upsertWidth+1, upsertWidth))
		b.WriteString(", now())")
		args = append(args, rowArgs(c, revision)...)
	}

	b.WriteString(` ON CONFLICT (guid) DO UPDATE SET
		caseids = EXCLUDED.caseids,
		label = EXCLUDED.label,
		questionnaire = EXCLUDED.questionnaire,
		revision = EXCLUDED.revision,
		deleted = EXCLUDED.deleted,
		verified = EXCLUDED.verified,
		partial_save_mode = EXCLUDED.partial_save_mode,
		partial_save_field_name = EXCLUDED.partial_save_field_name,
		partial_save_level_key = EXCLUDED.partial_save_level_key,
		partial_save_record_occurrence = EXCLUDED.partial_save_record_occurrence,
		partial_save_item_occurrence = EXCLUDED.partial_save_item_occurrence,
		partial_save_subitem_occurrence = EXCLUDED.partial_save_subitem_occurrence,
		clock = EXCLUDED.clock,
		modified_time = EXCLUDED.modified_time`)

	if _, err := r.db.ExecContext(ctx, b.String(), args...); err != nil {
		return queryErr("db error", err)
	}
	return nil
}

func rowArgs(c *wire.Case, revision int64) []any {
	var (
		mode, field, levelKey sql.NullString
		rec, item, sub        sql.NullInt64
	)
	if ps := c.PartialSave; ps != nil {
		mode = sql.NullString{String: ps.Mode, Valid: true}
		if f := ps.Field; f != nil {
			field = sql.NullString{String: f.Name, Valid: true}
			levelKey = sql.NullString{String: f.LevelKey, Valid: true}
			rec = sql.NullInt64{Int64: int64(f.RecordOccurrence), Valid: true}
			item = sql.NullInt64{Int64: int64(f.ItemOccurrence), Valid: true}
			sub = sql.NullInt64{Int64: int64(f.SubitemOccurrence), Valid: true}
		}
	}
	return []any{
		c.ID, c.CaseIDs, c.Label, c.Payload(), revision, c.Deleted, c.Verified,
		mode, field, levelKey, rec, item, sub,
		c.Clock.String(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (*wire.Case, error) {
	var (
		c                     wire.Case
		mode, field, levelKey sql.NullString
		rec, item, sub        sql.NullInt64
		clock                 string
		modified              time.Time
	)
	err := s.Scan(&c.ID, &c.CaseIDs, &c.Label, &c.Questionnaire, &c.Revision, &c.Deleted, &c.Verified,
		&mode, &field, &levelKey, &rec, &item, &sub, &clock, &modified)
	if err != nil {
		return nil, err
	}

	if mode.Valid {
		c.PartialSave = &wire.PartialSave{Mode: mode.String}
		// devices expect no field at all when the name is unknown
		if field.Valid {
			c.PartialSave.Field = &wire.FieldRef{
				Name:              field.String,
				LevelKey:          levelKey.String,
				RecordOccurrence:  int(rec.Int64),
				ItemOccurrence:    int(item.Int64),
				SubitemOccurrence: int(sub.Int64),
			}
		}
	}

	if c.Clock, err = vectorclock.Parse(clock); err != nil {
		return nil, fmt.Errorf("stored clock of case %s: %w", c.ID, err)
	}
	modified = modified.UTC()
	c.LastModified = &modified
	c.Notes = []wire.Note{}
	return &c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*wire.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE guid = $1`, caseColumns, r.tables.Cases)
	c, err := scanCase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, queryErr("db error", err)
	}
	return c, nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string, clock vectorclock.Clock, revision int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted = true, clock = $2, revision = $3, modified_time = now() WHERE guid = $1`, r.tables.Cases)
	res, err := r.db.ExecContext(ctx, query, id, clock.String(), revision)
	if err != nil {
		return queryErr("db error", err)
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

// where renders the filter as a condition with positional arguments.
func where(f models.CaseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.StartAfter != "" {
		rev := arg(f.LastRevision)
		conds = append(conds, fmt.Sprintf("((revision = %s AND guid > %s) OR revision > %s)", rev, arg(f.StartAfter), rev))
	} else {
		conds = append(conds, "revision > "+arg(f.LastRevision))
	}
	conds = append(conds, "revision <= "+arg(f.MaxRevision))

	if f.Universe != "" {
		conds = append(conds, "starts_with(caseids, "+arg(f.Universe)+")")
	}
	if len(f.ExcludeRevisions) > 0 {
		ph := make([]string, len(f.ExcludeRevisions))
		for i, rev := range f.ExcludeRevisions {
			ph[i] = arg(rev)
		}
		conds = append(conds, "revision NOT IN ("+strings.Join(ph, ", ")+")")
	}
	return strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) Count(ctx context.Context, f models.CaseFilter) (int64, error) {
	cond, args := where(f)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, r.tables.Cases, cond)

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, queryErr("db error", err)
	}
	return n, nil
}

func (r *PostgresRepository) ChunkMaxRevision(ctx context.Context, f models.CaseFilter, limit int) (int64, error) {
	cond, args := where(f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT COALESCE(MAX(revision), 0) FROM (SELECT revision FROM %s WHERE %s ORDER BY revision, guid LIMIT $%d) AS chunk`,
		r.tables.Cases, cond, len(args))

	var rev int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&rev); err != nil {
		return 0, queryErr("db error", err)
	}
	return rev, nil
}

func (r *PostgresRepository) Scan(ctx context.Context, f models.CaseFilter, limit int) ([]*wire.Case, error) {
	cond, args := where(f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY revision, guid LIMIT $%d`,
		caseColumns, r.tables.Cases, cond, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryErr("failed to select cases", err)
	}
	defer rows.Close()

	var out []*wire.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// queryErr wraps a driver error. A missing case table means the
// dictionary was dropped under us.
func queryErr(msg string, err error) error {
	if dbx.IsUndefinedTable(err) {
		return fmt.Errorf("%w: dictionary tables are gone", common.ErrorNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
