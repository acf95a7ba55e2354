package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// DictionaryService is the registry of case dictionaries. Every mutation
// invalidates the cached schema of the dictionary it touches.
type DictionaryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	schemas     *schema.Cache
	ledger      *Ledger
	logger      logging.Logger
}

func NewDictionaryService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, schemas *schema.Cache, logger logging.Logger) *DictionaryService {
	return &DictionaryService{
		db:          db,
		repomanager: m,
		schemas:     schemas,
		ledger:      NewLedger(db, m, cfg),
		logger:      logger,
	}
}

// Load reads a dictionary by name. It is the LoadFunc of the schema cache.
func (s *DictionaryService) Load(ctx context.Context, name string) (*models.Dictionary, error) {
	return s.repomanager.Dictionaries(s.db).GetByName(ctx, name)
}

func (s *DictionaryService) List(ctx context.Context) ([]wire.DictionaryInfo, error) {
	repo := s.repomanager.Dictionaries(s.db)
	dicts, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]wire.DictionaryInfo, 0, len(dicts))
	for _, d := range dicts {
		n, err := repo.CountCases(ctx, d.Name)
		if err != nil {
			return nil, fmt.Errorf("error counting cases of %s: %w", d.Name, err)
		}
		out = append(out, wire.DictionaryInfo{Name: d.Name, Label: d.Label, CaseCount: n})
	}
	return out, nil
}

// Register stores a dictionary descriptor. A new name also gets its case
// tables; an existing one has label and content replaced. It reports
// whether the dictionary was created.
func (s *DictionaryService) Register(ctx context.Context, content []byte) (*models.Dictionary, bool, error) {
	desc, err := schema.Parse(content)
	if err != nil {
		return nil, false, err
	}
	d := &models.Dictionary{Name: desc.Name, Label: desc.Label, Content: string(content)}

	created := false
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Dictionaries(tx)
		if _, err := repo.GetByName(ctx, d.Name); err == nil {
			return repo.Update(ctx, d)
		} else if !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		if _, err := repo.Create(ctx, d); err != nil {
			return err
		}
		created = true
		return repo.CreateCaseTables(ctx, d.Name)
	})
	if err != nil {
		return nil, false, err
	}

	s.invalidate(ctx, d.Name)
	return d, created, nil
}

func (s *DictionaryService) Get(ctx context.Context, name string) (*models.Dictionary, error) {
	return s.Load(ctx, name)
}

// Delete drops a dictionary with its tables and sync history. With dataOnly
// the registration stays and only cases and history are removed.
func (s *DictionaryService) Delete(ctx context.Context, name string, dataOnly bool) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Dictionaries(tx)
		d, err := repo.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if dataOnly {
			if err := repo.TruncateCaseTables(ctx, d.Name); err != nil {
				return err
			}
			_, err := s.repomanager.SyncHistory(tx).DeleteForDictionary(ctx, d.ID)
			return err
		}
		if err := repo.DropCaseTables(ctx, d.Name); err != nil {
			return err
		}
		return repo.Delete(ctx, d.Name)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, name)
	return nil
}

// History lists the sync history of a dictionary, newest first.
func (s *DictionaryService) History(ctx context.Context, name string, f models.SyncFilter) ([]wire.SyncEntry, error) {
	sc, err := s.schemas.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, sc.DictionaryID, f)
}

func (s *DictionaryService) invalidate(ctx context.Context, name string) {
	if err := s.schemas.Invalidate(ctx, name); err != nil {
		s.logger.Warn(ctx, "failed to invalidate schema cache", "dictionary", name, "error", err)
	}
}
