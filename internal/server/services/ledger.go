package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// Ledger is the sync history shared by all dictionaries. Put entries double
// as the revision of the cases they write, so their lifecycle is
// allocate -> commit, or allocate -> abandon.
type Ledger struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	pendingTimeout time.Duration
}

func NewLedger(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *Ledger {
	return &Ledger{db: db, repomanager: m, pendingTimeout: cfg.PendingUploadTimeout}
}

// CheckRevision tells whether revision is a sync the device is allowed to
// continue from. Zero means the device has no token and always passes.
// On mismatch the device's newest entry is returned, nil when it has none.
func (l *Ledger) CheckRevision(ctx context.Context, dictID int64, device string, revision int64) (bool, *models.SyncHistoryEntry, error) {
	if revision <= 0 {
		return true, nil, nil
	}

	repo := l.repomanager.SyncHistory(l.db)
	_, err := repo.Find(ctx, dictID, revision, device)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return false, nil, err
	}

	last, err := repo.LastForDevice(ctx, dictID, device)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return false, last, nil
}

// BeginPut allocates the revision of an upload. The entry stays
// uncommitted, and therefore invisible to downloads, until Commit runs in
// the upload transaction.
func (l *Ledger) BeginPut(ctx context.Context, dictID int64, device, userName string) (int64, error) {
	rev, err := l.repomanager.SyncHistory(l.db).Create(ctx, &models.SyncHistoryEntry{
		Device:       device,
		UserName:     userName,
		DictionaryID: dictID,
		Direction:    models.DirectionPut,
	})
	if err != nil {
		return 0, fmt.Errorf("error allocating revision: %w", err)
	}
	return rev, nil
}

// Commit records the attachments received with revision and marks it
// committed. tx must be the upload transaction.
func (l *Ledger) Commit(ctx context.Context, tx dbx.DBTX, revision int64, signatures []string) error {
	repo := l.repomanager.SyncHistory(tx)
	if err := repo.AddBinaryEntries(ctx, revision, signatures); err != nil {
		return err
	}
	return repo.MarkCommitted(ctx, revision)
}

// Abandon removes an allocated revision after its transaction rolled back,
// so the ledger has no entry for a batch that was never written. It runs
// even when ctx is already cancelled.
func (l *Ledger) Abandon(ctx context.Context, revision int64) error {
	if revision <= 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := l.repomanager.SyncHistory(l.db).Delete(ctx, revision); err != nil {
		return fmt.Errorf("error deleting revision %d: %w", revision, err)
	}
	return nil
}

// HighWaterMark is the newest revision a download may expose.
func (l *Ledger) HighWaterMark(ctx context.Context) (int64, error) {
	return l.repomanager.SyncHistory(l.db).HighWaterMark(ctx, l.pendingTimeout)
}

// RecordGet appends a committed get entry and the attachments sent with it.
func (l *Ledger) RecordGet(ctx context.Context, e *models.SyncHistoryEntry, signatures []string) (int64, error) {
	e.Direction = models.DirectionGet
	e.Committed = true

	var rev int64
	err := dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := l.repomanager.SyncHistory(tx)
		var err error
		if rev, err = repo.Create(ctx, e); err != nil {
			return err
		}
		return repo.AddBinaryEntries(ctx, rev, signatures)
	})
	if err != nil {
		return 0, fmt.Errorf("error recording download: %w", err)
	}
	return rev, nil
}

// ArchiveStale moves the attachment history of the device's gets to the
// archive when the cursor it presents is not the one its last get ended
// at. Archived attachments are sent again.
//
// It reports how many rows were archived.
func (l *Ledger) ArchiveStale(ctx context.Context, dictID int64, device string, lastRevision int64, startAfter, universe string) (int64, error) {
	repo := l.repomanager.SyncHistory(l.db)

	if lastRevision > 0 {
		last, err := repo.LastGetForDevice(ctx, dictID, device)
		switch {
		case err == nil:
			if last.LastCaseRevision == lastRevision &&
				(startAfter == "" || strings.EqualFold(last.LastCaseID, startAfter)) &&
				universeCovers(universe, last.Universe) {
				return 0, nil
			}
		case !errors.Is(err, common.ErrorNotFound):
			return 0, err
		}
	}

	minRev, err := repo.MinGetRevisionSince(ctx, dictID, device, lastRevision)
	if err != nil {
		return 0, err
	}
	if minRev == 0 {
		return 0, nil
	}

	var n int64
	err = dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = l.repomanager.SyncHistory(tx).ArchiveBinaryEntries(ctx, dictID, device, minRev)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("error archiving binary sync history: %w", err)
	}
	return n, nil
}

// History lists the entries of one dictionary, newest first.
func (l *Ledger) History(ctx context.Context, dictID int64, f models.SyncFilter) ([]wire.SyncEntry, error) {
	entries, err := l.repomanager.SyncHistory(l.db).List(ctx, dictID, f)
	if err != nil {
		return nil, err
	}
	out := make([]wire.SyncEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.SyncEntry{
			Revision:         e.Revision,
			Device:           e.Device,
			UserName:         e.UserName,
			Direction:        string(e.Direction),
			Universe:         e.Universe,
			LastCaseRevision: e.LastCaseRevision,
			LastCaseID:       e.LastCaseID,
			Committed:        e.Committed,
			DateTime:         formatTime(e.CreatedAt),
		})
	}
	return out, nil
}

// SyncInfo renders e as the body of a failed upload precondition.
func SyncInfo(e *models.SyncHistoryEntry) wire.SyncInfo {
	return wire.SyncInfo{
		RevisionNumber: e.Revision,
		Device:         e.Device,
		Dictionary:     e.DictionaryName,
		Universe:       e.Universe,
		Direction:      string(e.Direction),
		DateTime:       formatTime(e.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// universeCovers reports whether current is the same as or narrower than
// last.
func universeCovers(current, last string) bool {
	return current == last || strings.HasPrefix(current, last)
}
