// Package synchistory is the append-only ledger of device syncs and of the
// attachments sent with them.
package synchistory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

type Repository interface {
	// Create appends an entry and returns its revision.
	Create(ctx context.Context, e *models.SyncHistoryEntry) (int64, error)
	Delete(ctx context.Context, revision int64) error
	MarkCommitted(ctx context.Context, revision int64) error
	DeleteForDictionary(ctx context.Context, dictID int64) (int64, error)

	// Find returns the entry with revision in dictID, restricted to device
	// when it is not empty. Unknown entries yield common.ErrorNotFound.
	Find(ctx context.Context, dictID, revision int64, device string) (*models.SyncHistoryEntry, error)
	// LastForDevice returns the newest entry of device in either direction.
	LastForDevice(ctx context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error)
	// LastGetForDevice returns the newest get entry of device.
	LastGetForDevice(ctx context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error)
	// MinGetRevisionSince returns the oldest get of device whose cursor is at
	// or past lastCaseRevision, 0 when there is none.
	MinGetRevisionSince(ctx context.Context, dictID int64, device string, lastCaseRevision int64) (int64, error)
	// HighWaterMark returns the highest revision below every pending put
	// younger than pendingTimeout, 0 for an empty ledger.
	HighWaterMark(ctx context.Context, pendingTimeout time.Duration) (int64, error)
	List(ctx context.Context, dictID int64, f models.SyncFilter) ([]models.SyncHistoryEntry, error)

	AddBinaryEntries(ctx context.Context, revision int64, signatures []string) error
	// ArchiveBinaryEntries moves the binary entries of gets of device with
	// revision >= minRevision to the archive table.
	ArchiveBinaryEntries(ctx context.Context, dictID int64, device string, minRevision int64) (int64, error)
}
