// Package binaryitems keeps the mutable association between cases and the
// immutable attachments they reference.
package binaryitems

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

type Repository interface {
	// Replace deletes the associations of caseIDs and inserts items.
	Replace(ctx context.Context, caseIDs []string, items []models.CaseBinaryItem) error
	// Any reports whether the dictionary has at least one association.
	Any(ctx context.Context) (bool, error)
	// Unsent returns associations of caseIDs whose attachment was not yet
	// sent to device by a get of dictionary dictID.
	Unsent(ctx context.Context, dictID int64, device string, caseIDs []string) ([]models.CaseBinaryItem, error)
}
