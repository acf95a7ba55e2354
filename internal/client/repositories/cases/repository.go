// Package cases stores the device's copy of the case data, one row per
// (dictionary, case id), with a dirty flag for local edits awaiting upload.
package cases

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/client/models"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

type Repository interface {
	// Save writes a local edit and marks the case dirty.
	Save(ctx context.Context, dictionary string, c *wire.Case) error
	// ApplyRemote stores a case received from the server. A dirty local
	// copy is kept and false is returned.
	ApplyRemote(ctx context.Context, dictionary string, c *wire.Case) (bool, error)
	// Get returns common.ErrorNotFound for unknown cases.
	Get(ctx context.Context, dictionary, id string) (*models.LocalCase, error)
	Dirty(ctx context.Context, dictionary string) ([]*models.LocalCase, error)
	MarkClean(ctx context.Context, dictionary string, ids []string) error
	Counts(ctx context.Context, dictionary string) (models.Counts, error)
	Clear(ctx context.Context, dictionary string) error
}
