package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/client/migrations"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/attachments"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/cases"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/syncstate"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Store is the device's local database and its repositories.
type Store struct {
	DB          *sql.DB
	Metadata    metadata.Repository
	Cases       cases.Repository
	Attachments attachments.Repository
	SyncState   syncstate.Repository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return newStore(db, db), nil
}

func newStore(db *sql.DB, q dbx.DBTX) *Store {
	return &Store{
		DB:          db,
		Metadata:    metadata.NewSQLiteRepository(q),
		Cases:       cases.NewSQLiteRepository(q),
		Attachments: attachments.NewSQLiteRepository(q),
		SyncState:   syncstate.NewSQLiteRepository(q),
	}
}

// InTx runs fn with repositories bound to one transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return dbx.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, newStore(s.DB, tx))
	})
}

func (s *Store) Close() error {
	return s.DB.Close()
}
