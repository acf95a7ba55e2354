package dictionaries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/casetables"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, d *models.Dictionary) (*models.Dictionary, error) {
	query := `
		INSERT INTO cspro_dictionaries (dictionary_name, dictionary_label, dictionary_full_content)
		VALUES ($1, $2, $3)
		RETURNING id, created_time, modified_time
	`
	err := r.db.QueryRowContext(ctx, query, d.Name, d.Label, d.Content).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *models.Dictionary) error {
	query := `
		UPDATE cspro_dictionaries
		SET dictionary_label = $2, dictionary_full_content = $3, modified_time = now()
		WHERE dictionary_name = $1
	`
	res, err := r.db.ExecContext(ctx, query, d.Name, d.Label, d.Content)
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

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*models.Dictionary, error) {
	query := `
		SELECT id, dictionary_name, dictionary_label, dictionary_full_content, created_time, modified_time
		FROM cspro_dictionaries
		WHERE dictionary_name = $1
	`
	d := &models.Dictionary{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&d.ID, &d.Name, &d.Label, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Dictionary, error) {
	query := `
		SELECT id, dictionary_name, dictionary_label, created_time, modified_time
		FROM cspro_dictionaries
		ORDER BY dictionary_name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select dictionaries: %w", err)
	}
	defer rows.Close()

	var out []models.Dictionary
	for rows.Next() {
		var d models.Dictionary
		if err := rows.Scan(&d.ID, &d.Name, &d.Label, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dictionary: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cspro_dictionaries WHERE dictionary_name = $1`, name)
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

func (r *PostgresRepository) exec(ctx context.Context, stmts []string) error {
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateCaseTables(ctx context.Context, name string) error {
	t, err := casetables.For(name)
	if err != nil {
		return err
	}
	return r.exec(ctx, t.Create())
}

func (r *PostgresRepository) DropCaseTables(ctx context.Context, name string) error {
	t, err := casetables.For(name)
	if err != nil {
		return err
	}
	return r.exec(ctx, t.Drop())
}

func (r *PostgresRepository) TruncateCaseTables(ctx context.Context, name string) error {
	t, err := casetables.For(name)
	if err != nil {
		return err
	}
	return r.exec(ctx, []string{t.Truncate()})
}

func (r *PostgresRepository) CountCases(ctx context.Context, name string) (int64, error) {
	t, err := casetables.For(name)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE NOT deleted`, t.Cases)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
