package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/casejson"
	"github.com/dmitrijs2005/casesync/internal/client/client"
	"github.com/dmitrijs2005/casesync/internal/client/models"
	"github.com/dmitrijs2005/casesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

// Options tune a SyncService.
type Options struct {
	// Device is this device's id, used in case clocks.
	Device string
	// PageSize caps the cases of one download page, 0 for no cap.
	PageSize int
	// Universe restricts downloads to case ids with this prefix.
	Universe string
}

// Report summarizes one sync run.
type Report struct {
	Dictionary     string
	Uploaded       int
	UploadRevision int64
	Pages          int
	Downloaded     int
	// Applied counts downloaded cases written locally; Kept counts those
	// skipped because a local edit is pending.
	Applied      int
	Kept         int
	Attachments  int
	LastRevision int64
	// Resynced is set when the server rejected the device's cursor and
	// the run started over.
	Resynced bool
}

// Status is the local view of one dictionary.
type Status struct {
	Dictionary string
	Counts     models.Counts
	State      *models.SyncState
}

type SyncService struct {
	client client.Client
	store  *client.Store
	opts   Options
	logger logging.Logger
}

func NewSyncService(c client.Client, s *client.Store, opts Options, l logging.Logger) *SyncService {
	return &SyncService{client: c, store: s, opts: opts, logger: l.With("module", "sync")}
}

// Sync uploads local edits and then downloads everything new. When the
// server identity differs from the one seen last time, the dictionary's
// cursor is dropped first.
func (s *SyncService) Sync(ctx context.Context, dictionary string) (*Report, error) {
	switched, err := s.checkServer(ctx, dictionary)
	if err != nil {
		return &Report{Dictionary: dictionary}, err
	}
	up, err := s.Upload(ctx, dictionary)
	if err != nil {
		return up, err
	}
	down, err := s.Download(ctx, dictionary)
	if down != nil {
		down.Uploaded, down.UploadRevision = up.Uploaded, up.UploadRevision
		down.Resynced = down.Resynced || up.Resynced || switched
	}
	return down, err
}

// checkServer compares the server's device id with the stored one.
// Revisions of another server mean nothing here.
func (s *SyncService) checkServer(ctx context.Context, dictionary string) (bool, error) {
	info, err := s.client.ServerInfo(ctx)
	if err != nil {
		return false, err
	}
	known, err := s.store.Metadata.Get(ctx, metadata.KeyServerDevice)
	if err != nil {
		return false, err
	}
	if string(known) == info.DeviceID {
		return false, nil
	}

	switched := len(known) > 0
	err = s.store.InTx(ctx, func(ctx context.Context, tx *client.Store) error {
		if switched {
			if err := tx.SyncState.Reset(ctx, dictionary); err != nil {
				return err
			}
		}
		return tx.Metadata.Set(ctx, metadata.KeyServerDevice, []byte(info.DeviceID))
	})
	if err != nil {
		return false, err
	}
	if switched {
		s.logger.Warn(ctx, "server identity changed, downloading from scratch",
			"dictionary", dictionary, "from", string(known), "to", info.DeviceID)
	}
	return switched, nil
}

// Upload sends every dirty case in one batch, framed with the local
// attachments they reference.
func (s *SyncService) Upload(ctx context.Context, dictionary string) (*Report, error) {
	rep := &Report{Dictionary: dictionary}
	log := s.logger.With("dictionary", dictionary)

	dirty, err := s.store.Cases.Dirty(ctx, dictionary)
	if err != nil {
		return rep, err
	}
	if len(dirty) == 0 {
		log.Debug(ctx, "nothing to upload")
		return rep, nil
	}
	state, err := s.store.SyncState.Get(ctx, dictionary)
	if err != nil {
		return rep, err
	}

	cases := make([]*wire.Case, len(dirty))
	ids := make([]string, len(dirty))
	for i, lc := range dirty {
		cases[i], ids[i] = lc.Case, lc.Case.ID
	}
	items, err := s.attachments(ctx, cases)
	if err != nil {
		return rep, err
	}

	params := client.UploadParams{
		IfRevisionExists: state.LastPutRevision,
		Cases:            cases,
		Attachments:      items,
		Source:           s.store.Attachments,
	}
	res, err := s.client.Upload(ctx, dictionary, params)
	if err != nil {
		return rep, err
	}
	if res.PreconditionFailed {
		args := []any{"token", state.LastPutRevision}
		if res.LastSync != nil {
			args = append(args, "server_last_revision", res.LastSync.RevisionNumber)
		}
		log.Warn(ctx, "server does not know the upload token, starting over", args...)
		rep.Resynced = true

		params.IfRevisionExists = 0
		if res, err = s.client.Upload(ctx, dictionary, params); err != nil {
			return rep, err
		}
		if res.PreconditionFailed {
			return rep, fmt.Errorf("%w: upload without a token was rejected", ErrProtocol)
		}
		// the server lost our history, so download everything again
		state.LastRevision, state.StartAfter = 0, ""
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx *client.Store) error {
		if err := tx.Cases.MarkClean(ctx, dictionary, ids); err != nil {
			return err
		}
		if err := tx.SyncState.AddOwnRevision(ctx, dictionary, res.Revision); err != nil {
			return err
		}
		state.LastPutRevision = res.Revision
		return tx.SyncState.Save(ctx, state)
	})
	if err != nil {
		return rep, err
	}

	rep.Uploaded, rep.UploadRevision, rep.Attachments = len(cases), res.Revision, len(items)
	log.Info(ctx, "uploaded", "cases", len(cases), "attachments", len(items), "revision", res.Revision)
	return rep, nil
}

// attachments lists the attachments referenced by cases that exist
// locally, one record per signature.
func (s *SyncService) attachments(ctx context.Context, cases []*wire.Case) ([]binframe.Descriptor, error) {
	var items []binframe.Descriptor
	seen := make(map[string]struct{})
	for _, c := range cases {
		list, err := casejson.Attachments(c.Questionnaire)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, err)
		}
		for _, a := range list {
			if _, dup := seen[a.Signature]; dup {
				continue
			}
			ok, err := s.store.Attachments.Has(ctx, a.Signature)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			seen[a.Signature] = struct{}{}
			items = append(items, binframe.Descriptor{Signature: a.Signature, CaseID: c.ID, Metadata: a.Metadata})
		}
	}
	return items, nil
}

// Download pulls pages until the server reports the range complete. The
// cursor is saved after every page, so an interrupted run resumes where
// it stopped.
func (s *SyncService) Download(ctx context.Context, dictionary string) (*Report, error) {
	rep := &Report{Dictionary: dictionary}
	log := s.logger.With("dictionary", dictionary)

	state, err := s.store.SyncState.Get(ctx, dictionary)
	if err != nil {
		return rep, err
	}
	if state.Universe != s.opts.Universe {
		log.Info(ctx, "universe changed, downloading from scratch", "from", state.Universe, "to", s.opts.Universe)
		state = s.freshState(state)
	}

	for {
		page, err := s.client.Download(ctx, dictionary, client.DownloadParams{
			LastRevision:     state.LastRevision,
			StartAfter:       state.StartAfter,
			RangeCount:       s.opts.PageSize,
			Universe:         state.Universe,
			ExcludeRevisions: state.OwnRevisions,
		}, s.store.Attachments)
		if errors.Is(err, client.ErrPreconditionFailed) && !rep.Resynced {
			log.Warn(ctx, "device is ahead of the server, downloading from scratch", "revision", state.LastRevision)
			rep.Resynced = true
			state = s.freshState(state)
			continue
		}
		if err != nil {
			return rep, err
		}

		rep.Pages++
		if err := s.apply(ctx, state, page, rep); err != nil {
			return rep, err
		}
		log.Debug(ctx, "page applied", "cases", len(page.Cases), "sent", page.Sent, "total", page.Total)

		if !page.Partial {
			break
		}
		if len(page.Cases) == 0 {
			return rep, fmt.Errorf("%w: empty partial page", ErrProtocol)
		}
	}

	rep.LastRevision = state.LastRevision
	log.Info(ctx, "downloaded", "cases", rep.Downloaded, "pages", rep.Pages, "revision", rep.LastRevision)
	return rep, nil
}

func (s *SyncService) freshState(old *models.SyncState) *models.SyncState {
	return &models.SyncState{
		Dictionary:      old.Dictionary,
		LastPutRevision: old.LastPutRevision,
		Universe:        s.opts.Universe,
	}
}

func (s *SyncService) apply(ctx context.Context, state *models.SyncState, page *client.DownloadPage, rep *Report) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx *client.Store) error {
		for _, c := range page.Cases {
			applied, err := tx.Cases.ApplyRemote(ctx, state.Dictionary, c)
			if err != nil {
				return err
			}
			if applied {
				rep.Applied++
			} else {
				rep.Kept++
			}
		}
		rep.Downloaded += len(page.Cases)
		rep.Attachments += len(page.Attachments)

		if page.Partial {
			state.LastRevision = page.ChunkMaxRevision
			if n := len(page.Cases); n > 0 {
				state.StartAfter = page.Cases[n-1].ID
			}
		} else {
			state.LastRevision, state.StartAfter = page.MaxRevision, ""
			state.OwnRevisions = nil
			if err := tx.SyncState.ClearOwnRevisions(ctx, state.Dictionary); err != nil {
				return err
			}
		}
		return tx.SyncState.Save(ctx, state)
	})
}

// Import reads a JSON array of cases and stores them as local edits. Each
// case's clock is merged with the stored copy and advanced for this
// device.
func (s *SyncService) Import(ctx context.Context, dictionary string, r io.Reader) (int, error) {
	p := casejson.NewParser(r)
	now := time.Now().UTC()
	n := 0
	err := s.store.InTx(ctx, func(ctx context.Context, tx *client.Store) error {
		for {
			c, err := p.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			c.ID = strings.ToLower(strings.TrimSpace(c.ID))
			if c.ID == "" {
				return fmt.Errorf("%w: case without id", common.ErrValidation)
			}

			clock := c.Clock
			prev, err := tx.Cases.Get(ctx, dictionary, c.ID)
			switch {
			case err == nil:
				clock = vectorclock.Merge(prev.Case.Clock, clock)
			case !errors.Is(err, common.ErrorNotFound):
				return err
			}
			if clock == nil {
				clock = vectorclock.Clock{}
			}
			c.Clock = clock.Increment(s.opts.Device)
			c.LastModified = &now

			if err := tx.Cases.Save(ctx, dictionary, c); err != nil {
				return err
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddAttachment stores content under its MD5 signature and returns it.
func (s *SyncService) AddAttachment(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	sig := hex.EncodeToString(sum[:])
	if err := s.store.Attachments.Put(ctx, sig, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return sig, nil
}

func (s *SyncService) Status(ctx context.Context, dictionary string) (*Status, error) {
	counts, err := s.store.Cases.Counts(ctx, dictionary)
	if err != nil {
		return nil, err
	}
	state, err := s.store.SyncState.Get(ctx, dictionary)
	if err != nil {
		return nil, err
	}
	return &Status{Dictionary: dictionary, Counts: counts, State: state}, nil
}
