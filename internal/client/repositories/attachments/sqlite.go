// Package attachments keeps binary case content on the device, keyed by
// content signature. The repository doubles as the frame Sink for
// downloads and the frame Source for uploads.
package attachments

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
)

type Repository interface {
	binframe.Sink
	binframe.Source
	Has(ctx context.Context, signature string) (bool, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Put reads the whole attachment into memory; device attachments are
// photos and signatures, not bulk data.
func (r *SQLiteRepository) Put(ctx context.Context, signature string, rd io.Reader, size int64) error {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.CopyN(buf, rd, size); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attachments (signature, content) VALUES (?, ?)
		ON CONFLICT(signature) DO UPDATE SET content = excluded.content
	`, signature, buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to store attachment %s: %w", signature, err)
	}
	return nil
}

func (r *SQLiteRepository) Open(ctx context.Context, signature string) (io.ReadCloser, int64, error) {
	var content []byte
	err := r.db.QueryRowContext(ctx, `SELECT content FROM attachments WHERE signature = ?`, signature).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, common.ErrorNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read attachment %s: %w", signature, err)
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

func (r *SQLiteRepository) Has(ctx context.Context, signature string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attachments WHERE signature = ?`, signature).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up attachment %s: %w", signature, err)
	}
	return n > 0, nil
}
