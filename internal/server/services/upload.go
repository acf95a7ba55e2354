package services

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/casejson"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/events"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/cases"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UploadChunkSize is the number of cases written per statement batch.
const UploadChunkSize = 500

type UploadStatus int

const (
	UploadStatusOK UploadStatus = iota
	// UploadStatusPreconditionFailed: the device presented a revision the
	// ledger does not know. Nothing was written and no revision allocated.
	UploadStatusPreconditionFailed
)

type UploadRequest struct {
	Dictionary string
	Device     string
	UserName   string
	// IfRevisionExists is the device's last sync token, 0 for none.
	IfRevisionExists int64
	// Body is the decompressed request body, plain or framed.
	Body io.Reader
}

type UploadResult struct {
	Status UploadStatus
	// LastSync is the device's newest ledger entry when the precondition
	// failed, nil if it has none.
	LastSync *models.SyncHistoryEntry

	Revision        int64
	Received        int
	Written         int
	Dropped         int
	Attachments     int
	AttachmentBytes int64
}

type UploadService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	ledger       *Ledger
	serverDevice string
	deps         SyncDeps
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, deps SyncDeps) *UploadService {
	return &UploadService{
		db:           db,
		repomanager:  m,
		ledger:       NewLedger(db, m, cfg),
		serverDevice: cfg.ServerDeviceID,
		deps:         deps,
	}
}

// Upload ingests one batch of cases under a single new revision. Either
// every case of the body is reconciled and written, or nothing is and the
// allocated revision is removed again.
func (s *UploadService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	ctx, span := tracer().Start(ctx, "sync.upload")
	defer span.End()
	span.SetAttributes(attribute.String("dictionary", req.Dictionary), attribute.String("device", req.Device))

	start := time.Now()
	res, err := s.upload(ctx, req)

	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Status == UploadStatusPreconditionFailed:
		outcome = metrics.OutcomePrecondition
	default:
		span.SetAttributes(attribute.Int64("revision", res.Revision), attribute.Int("cases", res.Written))
		s.deps.Metrics.AddCases(directionPut, res.Written)
		s.deps.Metrics.AddAttachmentBytes(directionPut, res.AttachmentBytes)
	}
	s.deps.Metrics.ObserveSync(directionPut, outcome, time.Since(start))
	return res, err
}

func (s *UploadService) upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	sc, err := s.deps.Schemas.Get(ctx, req.Dictionary)
	if err != nil {
		return nil, err
	}

	body := bufio.NewReaderSize(req.Body, 64*1024)
	prefix, err := body.Peek(len(binframe.Signature))
	if len(prefix) == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty upload", common.ErrInvalidRequest)
		}
		return nil, err
	}
	framed := binframe.IsFramed(prefix)

	ok, last, err := s.ledger.CheckRevision(ctx, sc.DictionaryID, req.Device, req.IfRevisionExists)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &UploadResult{Status: UploadStatusPreconditionFailed, LastSync: last}, nil
	}

	rev, err := s.ledger.BeginPut(ctx, sc.DictionaryID, req.Device, req.UserName)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{Status: UploadStatusOK, Revision: rev}
	if err := s.ingest(ctx, sc, body, framed, res); err != nil {
		if aerr := s.ledger.Abandon(ctx, rev); aerr != nil {
			s.deps.Logger.Error(ctx, "failed to remove abandoned revision", "revision", rev, "error", aerr)
		}
		return nil, err
	}

	s.publish(ctx, sc.Name, req.Device, res)
	return res, nil
}

func (s *UploadService) ingest(ctx context.Context, sc *schema.Schema, body *bufio.Reader, framed bool, res *UploadResult) error {
	var (
		casesJSON  io.Reader = body
		signatures []string
	)

	if framed {
		spool, err := os.CreateTemp("", "casesync-upload-*.json")
		if err != nil {
			return err
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()

		sink := &countingSink{Sink: s.deps.Blobs.Bucket(sc.Name)}
		dec, err := binframe.Decode(ctx, body, spool, sink)
		if err != nil {
			return err
		}
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return err
		}
		casesJSON = spool
		signatures = dec.Signatures
		res.Attachments = sink.count
		res.AttachmentBytes = sink.bytes
	}

	trackBinary := framed || sc.HasBinaryItems()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		parser := casejson.NewParser(casesJSON)
		chunk := make([]*wire.Case, 0, UploadChunkSize)
		base := make(baseline)
		for {
			c, err := parser.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			chunk = append(chunk, c)
			if len(chunk) == UploadChunkSize {
				if err := s.flush(ctx, tx, sc, chunk, base, trackBinary, res); err != nil {
					return err
				}
				chunk = chunk[:0]
			}
		}
		if err := s.flush(ctx, tx, sc, chunk, base, trackBinary, res); err != nil {
			return err
		}
		return s.ledger.Commit(ctx, tx, res.Revision, signatures)
	})
}

// baseline holds the version each case id had before the upload began; a
// nil entry means there was no row. Later chunks reconcile against it, not
// against what earlier chunks of the same upload wrote.
type baseline map[string]*models.CaseVersion

// load fetches the versions of ids not seen before and returns the
// persisted view of ids.
func (b baseline) load(ctx context.Context, repo cases.Repository, ids []string) (map[string]models.CaseVersion, error) {
	var missing []string
	for _, id := range ids {
		if _, seen := b[id]; !seen {
			b[id] = nil
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		found, err := repo.Versions(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, v := range found {
			b[id] = &v
		}
	}

	out := make(map[string]models.CaseVersion, len(ids))
	for _, id := range ids {
		if v := b[id]; v != nil {
			out[id] = *v
		}
	}
	return out, nil
}

// flush validates, reconciles and writes one chunk.
func (s *UploadService) flush(ctx context.Context, tx dbx.DBTX, sc *schema.Schema, chunk []*wire.Case, base baseline, trackBinary bool, res *UploadResult) error {
	if len(chunk) == 0 {
		return nil
	}
	res.Received += len(chunk)

	ids := make([]string, len(chunk))
	for i, c := range chunk {
		if err := sc.Validate(c); err != nil {
			return err
		}
		c.ID = strings.ToLower(c.ID)
		ids[i] = c.ID
	}

	casesRepo := s.repomanager.Cases(tx, sc.Name)
	persisted, err := base.load(ctx, casesRepo, ids)
	if err != nil {
		return err
	}

	write, dropped := Reconcile(chunk, persisted, s.serverDevice)
	res.Dropped += dropped
	if len(write) == 0 {
		return nil
	}

	if err := casesRepo.Upsert(ctx, write, res.Revision); err != nil {
		return err
	}
	if err := s.repomanager.Notes(tx, sc.Name).Replace(ctx, write); err != nil {
		return err
	}

	if trackBinary {
		written := make([]string, len(write))
		var items []models.CaseBinaryItem
		for i, c := range write {
			written[i] = c.ID
			sigs, err := casejson.Signatures(c.Payload())
			if err != nil {
				return fmt.Errorf("case %s: %w", c.ID, err)
			}
			for _, sig := range sigs {
				items = append(items, models.CaseBinaryItem{CaseID: c.ID, Signature: sig})
			}
		}
		if err := s.repomanager.BinaryItems(tx, sc.Name).Replace(ctx, written, items); err != nil {
			return err
		}
	}

	res.Written += len(write)
	return nil
}

// publish runs after commit; a failure only costs the notification.
func (s *UploadService) publish(ctx context.Context, dictionary, device string, res *UploadResult) {
	err := s.deps.Events.PublishCasesChanged(ctx, &events.CasesChanged{
		Dictionary: dictionary,
		Revision:   res.Revision,
		Device:     device,
		Cases:      res.Written,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.deps.Logger.Warn(ctx, "failed to publish cases changed", "revision", res.Revision, "error", err)
	}
}

type countingSink struct {
	binframe.Sink
	count int
	bytes int64
}

func (c *countingSink) Put(ctx context.Context, sig string, r io.Reader, size int64) error {
	if err := c.Sink.Put(ctx, sig, r, size); err != nil {
		return err
	}
	c.count++
	c.bytes += size
	return nil
}
