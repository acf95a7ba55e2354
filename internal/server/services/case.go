package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// CaseService holds the single case operations of the admin surface.
type CaseService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	ledger       *Ledger
	upload       *UploadService
	serverDevice string
	deps         SyncDeps
}

func NewCaseService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, upload *UploadService, deps SyncDeps) *CaseService {
	return &CaseService{
		db:           db,
		repomanager:  m,
		ledger:       NewLedger(db, m, cfg),
		upload:       upload,
		serverDevice: cfg.ServerDeviceID,
		deps:         deps,
	}
}

// Get returns a case with its notes.
func (s *CaseService) Get(ctx context.Context, dictionary, id string) (*wire.Case, error) {
	sc, err := s.deps.Schemas.Get(ctx, dictionary)
	if err != nil {
		return nil, err
	}
	id = strings.ToLower(id)
	c, err := s.repomanager.Cases(s.db, sc.Name).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.repomanager.Notes(s.db, sc.Name).ForCases(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.Notes = notes[id]
	if c.Notes == nil {
		c.Notes = []wire.Note{}
	}
	return c, nil
}

// Update replaces an existing case. The body goes through the upload
// pipeline, so it is reconciled like any device upload.
func (s *CaseService) Update(ctx context.Context, dictionary, id string, req *UploadRequest) (*UploadResult, error) {
	if _, err := s.Get(ctx, dictionary, id); err != nil {
		return nil, err
	}
	req.Dictionary = dictionary
	return s.upload.Upload(ctx, req)
}

// Delete soft deletes a case under a new put revision and bumps the server's
// clock entry so devices see the deletion as a newer version.
func (s *CaseService) Delete(ctx context.Context, dictionary, id, userName string) (int64, error) {
	sc, err := s.deps.Schemas.Get(ctx, dictionary)
	if err != nil {
		return 0, err
	}
	id = strings.ToLower(id)

	rev, err := s.ledger.BeginPut(ctx, sc.DictionaryID, s.serverDevice, userName)
	if err != nil {
		return 0, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Cases(tx, sc.Name)
		c, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		clock := c.Clock.Clone().Increment(s.serverDevice)
		if err := repo.MarkDeleted(ctx, id, clock, rev); err != nil {
			return err
		}
		return s.ledger.Commit(ctx, tx, rev, nil)
	})
	if err != nil {
		if aerr := s.ledger.Abandon(ctx, rev); aerr != nil {
			s.deps.Logger.Error(ctx, "failed to remove abandoned revision", "revision", rev, "error", aerr)
		}
		return 0, fmt.Errorf("error deleting case %s: %w", id, err)
	}
	return rev, nil
}
