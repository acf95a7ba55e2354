// Package notes stores operator notes of the cases of one dictionary.
package notes

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/wire"
)

type Repository interface {
	// Replace deletes every note of the given cases and inserts their
	// current notes.
	Replace(ctx context.Context, cases []*wire.Case) error
	// ForCases returns notes keyed by case id, ordered by case id.
	ForCases(ctx context.Context, ids []string) (map[string][]wire.Note, error)
}
