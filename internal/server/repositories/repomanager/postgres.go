// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/migrations"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/binaryitems"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/cases"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/dictionaries"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/notes"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/synchistory"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Dictionaries(db dbx.DBTX) dictionaries.Repository {
	return dictionaries.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SyncHistory(db dbx.DBTX) synchistory.Repository {
	return synchistory.NewPostgresRepository(db)
}

// Cases returns the case repository of dictionary. It panics on a name that
// would not pass casetables.ValidName.
func (m *PostgresRepositoryManager) Cases(db dbx.DBTX, dictionary string) cases.Repository {
	return cases.NewPostgresRepository(db, dictionary)
}

func (m *PostgresRepositoryManager) Notes(db dbx.DBTX, dictionary string) notes.Repository {
	return notes.NewPostgresRepository(db, dictionary)
}

func (m *PostgresRepositoryManager) BinaryItems(db dbx.DBTX, dictionary string) binaryitems.Repository {
	return binaryitems.NewPostgresRepository(db, dictionary)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) (RepositoryManager, error) {
	return &PostgresRepositoryManager{}, nil
}
