// Package dictionaries declares the registry of case dictionaries and owns
// the lifecycle of their per-dictionary tables.
package dictionaries

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

// Repository stores dictionary descriptors.
type Repository interface {
	// Create inserts a descriptor and returns it with its id.
	// An existing name yields common.ErrAlreadyExists.
	Create(ctx context.Context, d *models.Dictionary) (*models.Dictionary, error)
	// Update replaces label and content of an existing dictionary.
	Update(ctx context.Context, d *models.Dictionary) error
	// GetByName returns common.ErrorNotFound for unknown names.
	GetByName(ctx context.Context, name string) (*models.Dictionary, error)
	List(ctx context.Context) ([]models.Dictionary, error)
	Delete(ctx context.Context, name string) error

	CreateCaseTables(ctx context.Context, name string) error
	DropCaseTables(ctx context.Context, name string) error
	TruncateCaseTables(ctx context.Context, name string) error
	CountCases(ctx context.Context, name string) (int64, error)
}
