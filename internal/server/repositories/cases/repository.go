// Package cases is the revision-stamped case table of one dictionary.
package cases

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// Repository reads and writes the cases of one dictionary.
type Repository interface {
	// Versions returns the stored clock of every id that exists.
	Versions(ctx context.Context, ids []string) (map[string]models.CaseVersion, error)
	// Upsert writes cases in one statement, stamping them with revision.
	Upsert(ctx context.Context, cases []*wire.Case, revision int64) error
	// Get returns common.ErrorNotFound for unknown ids.
	Get(ctx context.Context, id string) (*wire.Case, error)
	MarkDeleted(ctx context.Context, id string, clock vectorclock.Clock, revision int64) error

	// Count returns the number of rows matching f.
	Count(ctx context.Context, f models.CaseFilter) (int64, error)
	// ChunkMaxRevision returns the highest revision among the first limit
	// rows matching f, 0 when none match.
	ChunkMaxRevision(ctx context.Context, f models.CaseFilter, limit int) (int64, error)
	// Scan returns up to limit rows matching f ordered by (revision, id).
	Scan(ctx context.Context, f models.CaseFilter, limit int) ([]*wire.Case, error)
}
