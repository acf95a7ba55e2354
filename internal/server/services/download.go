package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/casejson"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/blobstore"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/notes"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DownloadBatchSize bounds the rows read per query.
const DownloadBatchSize = 10000

const streamChunk = 8 * 1024

type DownloadRequest struct {
	Dictionary string
	Device     string
	UserName   string
	// LastRevision and StartAfter form the cursor of the previous page.
	LastRevision int64
	StartAfter   string
	// RangeCount caps the cases sent, 0 for no cap.
	RangeCount       int
	Universe         string
	ExcludeRevisions []int64
}

// Download is a prepared response. Its case JSON is spooled to a temporary
// file; Close removes it.
type Download struct {
	// PreconditionFailed: the device is ahead of the server. Only
	// MaxRevision is set.
	PreconditionFailed bool
	MaxRevision        int64

	// Binary responses are frames carrying Attachments after the cases.
	Binary bool
	Sent   int
	Total  int64
	// ChunkMaxRevision and LastCaseID are the cursor the device continues
	// from. On a complete page they are MaxRevision and "".
	ChunkMaxRevision int64
	LastCaseID       string
	// Truncated is set when the attachment budget cut the page short.
	Truncated       bool
	Attachments     []binframe.Descriptor
	AttachmentBytes int64

	spool   *os.File
	jsonLen int64
	bucket  blobstore.Bucket
}

// Partial reports whether more matching cases remain.
func (d *Download) Partial() bool {
	return int64(d.Sent) < d.Total
}

// WriteTo streams the response body. It stops between chunks once ctx is
// done, which is how a client disconnect ends the copy.
func (d *Download) WriteTo(ctx context.Context, w io.Writer) error {
	if d.spool == nil {
		return nil
	}
	if _, err := d.spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if d.Binary {
		return binframe.Encode(ctx, w, d.spool, d.jsonLen, d.Attachments, d.bucket)
	}

	buf := make([]byte, streamChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.spool.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *Download) Close() error {
	if d.spool == nil {
		return nil
	}
	name := d.spool.Name()
	err := d.spool.Close()
	os.Remove(name)
	d.spool = nil
	return err
}

type DownloadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ledger      *Ledger
	budget      int64
	deps        SyncDeps
}

func NewDownloadService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, deps SyncDeps) *DownloadService {
	return &DownloadService{
		db:          db,
		repomanager: m,
		ledger:      NewLedger(db, m, cfg),
		budget:      cfg.MaxSyncDownloadPacketSize,
		deps:        deps,
	}
}

// Prepare selects the page of cases after the request cursor, records the
// get in the ledger and returns the response ready to stream. The caller
// must Close it.
func (s *DownloadService) Prepare(ctx context.Context, req *DownloadRequest) (*Download, error) {
	ctx, span := tracer().Start(ctx, "sync.download")
	defer span.End()
	span.SetAttributes(attribute.String("dictionary", req.Dictionary), attribute.String("device", req.Device))

	start := time.Now()
	d, err := s.prepare(ctx, req)

	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case d.PreconditionFailed:
		outcome = metrics.OutcomePrecondition
	default:
		if d.Partial() {
			outcome = metrics.OutcomePartial
		}
		span.SetAttributes(attribute.Int("cases", d.Sent), attribute.Int64("chunk_max_revision", d.ChunkMaxRevision))
		s.deps.Metrics.AddCases(directionGet, d.Sent)
		s.deps.Metrics.AddAttachmentBytes(directionGet, d.AttachmentBytes)
	}
	s.deps.Metrics.ObserveSync(directionGet, outcome, time.Since(start))
	return d, err
}

func (s *DownloadService) prepare(ctx context.Context, req *DownloadRequest) (*Download, error) {
	if req.RangeCount < 0 {
		return nil, common.ErrInvalidRequest
	}

	sc, err := s.deps.Schemas.Get(ctx, req.Dictionary)
	if err != nil {
		return nil, err
	}

	maxRev, err := s.ledger.HighWaterMark(ctx)
	if err != nil {
		return nil, err
	}
	if req.LastRevision > maxRev {
		return &Download{PreconditionFailed: true, MaxRevision: maxRev}, nil
	}

	filter := models.CaseFilter{
		LastRevision:     req.LastRevision,
		StartAfter:       req.StartAfter,
		MaxRevision:      maxRev,
		Universe:         req.Universe,
		ExcludeRevisions: req.ExcludeRevisions,
	}
	casesRepo := s.repomanager.Cases(s.db, sc.Name)

	total, err := casesRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	chunkMax := maxRev
	if req.RangeCount > 0 {
		m, err := casesRepo.ChunkMaxRevision(ctx, filter, req.RangeCount)
		if err != nil {
			return nil, err
		}
		if m > 0 {
			chunkMax = m
		}
	}

	d := &Download{
		MaxRevision:      maxRev,
		Binary:           sc.HasBinaryItems(),
		Total:            total,
		ChunkMaxRevision: chunkMax,
	}

	if d.Binary {
		d.bucket = s.deps.Blobs.Bucket(sc.Name)
		n, err := s.ledger.ArchiveStale(ctx, sc.DictionaryID, req.Device, req.LastRevision, req.StartAfter, req.Universe)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			s.deps.Logger.Info(ctx, "archived binary sync history", "device", req.Device, "rows", n)
		}
	}

	if d.spool, err = os.CreateTemp("", "casesync-download-*.json"); err != nil {
		return nil, err
	}

	filter.MaxRevision = chunkMax
	if err := s.collect(ctx, sc, req, filter, d); err != nil {
		d.Close()
		return nil, err
	}

	if !d.Partial() {
		// a complete page leaves the device at the high-water mark
		d.ChunkMaxRevision, d.LastCaseID = d.MaxRevision, ""
	}

	sigs := make([]string, len(d.Attachments))
	for i, a := range d.Attachments {
		sigs[i] = a.Signature
	}
	_, err = s.ledger.RecordGet(ctx, &models.SyncHistoryEntry{
		Device:           req.Device,
		UserName:         req.UserName,
		DictionaryID:     sc.DictionaryID,
		Universe:         req.Universe,
		LastCaseRevision: d.ChunkMaxRevision,
		LastCaseID:       d.LastCaseID,
	}, sigs)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// collect scans the window batch by batch, advancing the (revision, id)
// cursor past the last row of each batch, and spools the case array.
func (s *DownloadService) collect(ctx context.Context, sc *schema.Schema, req *DownloadRequest, cursor models.CaseFilter, d *Download) error {
	casesRepo := s.repomanager.Cases(s.db, sc.Name)
	notesRepo := s.repomanager.Notes(s.db, sc.Name)

	limit := DownloadBatchSize
	if req.RangeCount > 0 && req.RangeCount < limit {
		limit = req.RangeCount
	}

	w := &countingWriter{w: d.spool}
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}

	sent := make(map[string]struct{})
	for {
		rows, err := casesRepo.Scan(ctx, cursor, limit)
		if err != nil {
			return err
		}
		fetched := len(rows)
		if fetched > 0 {
			last := rows[fetched-1]
			cursor.LastRevision, cursor.StartAfter = last.Revision, last.ID
		}

		if d.Binary && fetched > 0 {
			n, err := s.attachments(ctx, sc, req.Device, rows, sent, d)
			if err != nil {
				return err
			}
			rows = rows[:n]
		}

		if len(rows) > 0 {
			if err := s.attachNotes(ctx, notesRepo, rows); err != nil {
				return err
			}
			for _, c := range rows {
				b, err := json.Marshal(c)
				if err != nil {
					return err
				}
				if d.Sent > 0 {
					if _, err := io.WriteString(w, ","); err != nil {
						return err
					}
				}
				if _, err := w.Write(b); err != nil {
					return err
				}
				d.Sent++
			}
			last := rows[len(rows)-1]
			d.ChunkMaxRevision, d.LastCaseID = last.Revision, last.ID
		}

		if len(rows) < limit || d.Truncated {
			break
		}
		if req.RangeCount > 0 {
			if d.Sent >= req.RangeCount {
				break
			}
			limit = min(req.RangeCount-d.Sent, DownloadBatchSize)
		}
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return err
	}
	d.jsonLen = w.n
	return nil
}

// attachments adds the unsent attachments of rows to d until the byte
// budget is exceeded. It returns how many rows fit; the row that crosses
// the budget is still included.
func (s *DownloadService) attachments(ctx context.Context, sc *schema.Schema, device string, rows []*wire.Case, sent map[string]struct{}, d *Download) (int, error) {
	ids := make([]string, len(rows))
	for i, c := range rows {
		ids[i] = c.ID
	}
	unsent, err := s.repomanager.BinaryItems(s.db, sc.Name).Unsent(ctx, sc.DictionaryID, device, ids)
	if err != nil {
		return 0, err
	}
	byCase := make(map[string][]string)
	for _, it := range unsent {
		byCase[it.CaseID] = append(byCase[it.CaseID], it.Signature)
	}

	for i, c := range rows {
		sigs := byCase[c.ID]
		if len(sigs) == 0 {
			continue
		}
		meta := metadataOf(c)
		for _, sig := range sigs {
			if _, dup := sent[sig]; dup {
				continue
			}
			size, err := d.bucket.Size(ctx, sig)
			if errors.Is(err, common.ErrorNotFound) {
				s.deps.Logger.Error(ctx, "attachment content missing", "dictionary", sc.Name, "signature", sig)
				continue
			}
			if err != nil {
				return 0, err
			}
			sent[sig] = struct{}{}
			d.Attachments = append(d.Attachments, binframe.Descriptor{
				Signature: sig,
				Length:    size,
				CaseID:    c.ID,
				Metadata:  meta[sig],
			})
			d.AttachmentBytes += size
		}
		if d.AttachmentBytes > s.budget {
			d.Truncated = true
			return i + 1, nil
		}
	}
	return len(rows), nil
}

func metadataOf(c *wire.Case) map[string]json.RawMessage {
	items, err := casejson.Attachments(c.Payload())
	if err != nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(items))
	for _, it := range items {
		out[it.Signature] = it.Metadata
	}
	return out
}

func (s *DownloadService) attachNotes(ctx context.Context, repo notes.Repository, rows []*wire.Case) error {
	ids := make([]string, len(rows))
	for i, c := range rows {
		ids[i] = c.ID
	}
	byCase, err := repo.ForCases(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range rows {
		if n, ok := byCase[c.ID]; ok {
			c.Notes = n
		} else {
			c.Notes = []wire.Note{}
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
