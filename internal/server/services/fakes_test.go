package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/dbx"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/server/blobstore"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/events"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/binaryitems"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/cases"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/dictionaries"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/notes"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/synchistory"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/users"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const householdDict = `{
	"name": "HOUSEHOLD_DICT",
	"labels": [{"text": "Household questionnaire"}],
	"levels": [{
		"ids": {"items": [{"name": "HH_NUMBER", "contentType": "numeric", "length": 4}]},
		"records": [{"name": "PERSON", "items": [{"name": "NAME", "contentType": "alpha", "length": 30}]}]
	}]
}`

const photoDict = `{
	"name": "PHOTO_DICT",
	"labels": [{"text": "Photos"}],
	"levels": [{
		"ids": {"items": [{"name": "HH_NUMBER", "contentType": "numeric", "length": 4}]},
		"records": [{"name": "PERSON", "items": [{"name": "PHOTO", "contentType": "image"}]}]
	}]
}`

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// newTxDB returns a real database only used for BEGIN/COMMIT; the fakes
// below ignore the handle they are bound to.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- repository manager ---

type fakeRepoManager struct {
	repomanager.RepositoryManager

	users   *fakeUsersRepo
	tokens  *fakeRefreshRepo
	dicts   *fakeDictRepo
	history *fakeHistoryRepo
	cases   *fakeCasesRepo
	notes   *fakeNotesRepo
	binary  *fakeBinaryRepo
}

func newFakeRepoManager() *fakeRepoManager {
	h := newFakeHistoryRepo()
	return &fakeRepoManager{
		users:   &fakeUsersRepo{byName: map[string]*models.User{}},
		tokens:  &fakeRefreshRepo{byToken: map[string]*models.RefreshToken{}},
		dicts:   &fakeDictRepo{byName: map[string]*models.Dictionary{}, tables: map[string]bool{}},
		history: h,
		cases:   &fakeCasesRepo{byID: map[string]*wire.Case{}},
		notes:   &fakeNotesRepo{byCase: map[string][]wire.Note{}},
		binary:  &fakeBinaryRepo{byCase: map[string][]string{}, history: h},
	}
}

func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }
func (m *fakeRepoManager) Dictionaries(dbx.DBTX) dictionaries.Repository   { return m.dicts }
func (m *fakeRepoManager) SyncHistory(dbx.DBTX) synchistory.Repository     { return m.history }
func (m *fakeRepoManager) Cases(dbx.DBTX, string) cases.Repository         { return m.cases }
func (m *fakeRepoManager) Notes(dbx.DBTX, string) notes.Repository         { return m.notes }
func (m *fakeRepoManager) BinaryItems(dbx.DBTX, string) binaryitems.Repository {
	return m.binary
}

// --- users / tokens ---

type fakeUsersRepo struct {
	users.Repository
	byName    map[string]*models.User
	nextID    int
	getErr    error
	createErr error
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	cp := *u
	cp.ID = fmt.Sprintf("u%d", f.nextID)
	f.byName[cp.UserName] = &cp
	return &cp, nil
}

func (f *fakeUsersRepo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

type fakeRefreshRepo struct {
	refreshtokens.Repository
	byToken    map[string]*models.RefreshToken
	consumeErr error
	createErr  error
	purged     int64
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, token string, expiresAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.byToken[token] = &models.RefreshToken{UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeRefreshRepo) Consume(_ context.Context, token string) (*models.RefreshToken, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	t, ok := f.byToken[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.byToken, token)
	return t, nil
}

func (f *fakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, t := range f.byToken {
		if t.ExpiresAt.Before(now) {
			delete(f.byToken, k)
			n++
		}
	}
	f.purged += n
	return n, nil
}

// --- dictionaries ---

type fakeDictRepo struct {
	dictionaries.Repository
	byName    map[string]*models.Dictionary
	tables    map[string]bool
	truncated []string
	nextID    int64
	counts    map[string]int64
}

func (f *fakeDictRepo) Create(_ context.Context, d *models.Dictionary) (*models.Dictionary, error) {
	if _, ok := f.byName[d.Name]; ok {
		return nil, common.ErrAlreadyExists
	}
	f.nextID++
	d.ID = f.nextID
	cp := *d
	f.byName[d.Name] = &cp
	return d, nil
}

func (f *fakeDictRepo) Update(_ context.Context, d *models.Dictionary) error {
	cur, ok := f.byName[d.Name]
	if !ok {
		return common.ErrorNotFound
	}
	cur.Label, cur.Content = d.Label, d.Content
	d.ID = cur.ID
	return nil
}

func (f *fakeDictRepo) GetByName(_ context.Context, name string) (*models.Dictionary, error) {
	d, ok := f.byName[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDictRepo) List(context.Context) ([]models.Dictionary, error) {
	var out []models.Dictionary
	for _, d := range f.byName {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeDictRepo) Delete(_ context.Context, name string) error {
	if _, ok := f.byName[name]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byName, name)
	return nil
}

func (f *fakeDictRepo) CreateCaseTables(_ context.Context, name string) error {
	f.tables[name] = true
	return nil
}

func (f *fakeDictRepo) DropCaseTables(_ context.Context, name string) error {
	delete(f.tables, name)
	return nil
}

func (f *fakeDictRepo) TruncateCaseTables(_ context.Context, name string) error {
	f.truncated = append(f.truncated, name)
	return nil
}

func (f *fakeDictRepo) CountCases(_ context.Context, name string) (int64, error) {
	return f.counts[name], nil
}

// register stores dictionary content and returns its id.
func (f *fakeDictRepo) register(t *testing.T, content string) int64 {
	t.Helper()
	desc, err := schema.Parse([]byte(content))
	require.NoError(t, err)
	d, err := f.Create(context.Background(), &models.Dictionary{Name: desc.Name, Label: desc.Label, Content: content})
	require.NoError(t, err)
	return d.ID
}

// --- sync history ---

type fakeHistoryRepo struct {
	synchistory.Repository
	entries  map[int64]*models.SyncHistoryEntry
	binary   map[int64][]string
	archived map[int64][]string
	next     int64

	createErr error
	deleteErr error
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{
		entries:  map[int64]*models.SyncHistoryEntry{},
		binary:   map[int64][]string{},
		archived: map[int64][]string{},
	}
}

func (f *fakeHistoryRepo) Create(_ context.Context, e *models.SyncHistoryEntry) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.next++
	e.Revision = f.next
	e.CreatedAt = time.Now()
	cp := *e
	f.entries[cp.Revision] = &cp
	return cp.Revision, nil
}

func (f *fakeHistoryRepo) Delete(_ context.Context, revision int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.entries, revision)
	delete(f.binary, revision)
	return nil
}

func (f *fakeHistoryRepo) MarkCommitted(_ context.Context, revision int64) error {
	e, ok := f.entries[revision]
	if !ok {
		return common.ErrorNotFound
	}
	e.Committed = true
	return nil
}

func (f *fakeHistoryRepo) DeleteForDictionary(_ context.Context, dictID int64) (int64, error) {
	var n int64
	for rev, e := range f.entries {
		if e.DictionaryID == dictID {
			delete(f.entries, rev)
			delete(f.binary, rev)
			n++
		}
	}
	return n, nil
}

// sorted returns the entries of dictID matching keep in revision order.
func (f *fakeHistoryRepo) sorted(dictID int64, keep func(*models.SyncHistoryEntry) bool) []*models.SyncHistoryEntry {
	var out []*models.SyncHistoryEntry
	for _, e := range f.entries {
		if e.DictionaryID == dictID && keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out
}

func (f *fakeHistoryRepo) Find(_ context.Context, dictID, revision int64, device string) (*models.SyncHistoryEntry, error) {
	e, ok := f.entries[revision]
	if !ok || e.DictionaryID != dictID || (device != "" && e.Device != device) {
		return nil, common.ErrorNotFound
	}
	return e, nil
}

func (f *fakeHistoryRepo) last(dictID int64, keep func(*models.SyncHistoryEntry) bool) (*models.SyncHistoryEntry, error) {
	es := f.sorted(dictID, keep)
	if len(es) == 0 {
		return nil, common.ErrorNotFound
	}
	cp := *es[len(es)-1]
	return &cp, nil
}

func (f *fakeHistoryRepo) LastForDevice(_ context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error) {
	return f.last(dictID, func(e *models.SyncHistoryEntry) bool { return e.Device == device })
}

func (f *fakeHistoryRepo) LastGetForDevice(_ context.Context, dictID int64, device string) (*models.SyncHistoryEntry, error) {
	return f.last(dictID, func(e *models.SyncHistoryEntry) bool {
		return e.Device == device && e.Direction == models.DirectionGet
	})
}

func (f *fakeHistoryRepo) MinGetRevisionSince(_ context.Context, dictID int64, device string, lastCaseRevision int64) (int64, error) {
	es := f.sorted(dictID, func(e *models.SyncHistoryEntry) bool {
		return e.Device == device && e.Direction == models.DirectionGet && e.LastCaseRevision >= lastCaseRevision
	})
	if len(es) == 0 {
		return 0, nil
	}
	return es[0].Revision, nil
}

func (f *fakeHistoryRepo) HighWaterMark(context.Context, time.Duration) (int64, error) {
	var maxRev, minPending int64
	for rev, e := range f.entries {
		maxRev = max(maxRev, rev)
		if !e.Committed && (minPending == 0 || rev < minPending) {
			minPending = rev
		}
	}
	if minPending > 0 {
		return minPending - 1, nil
	}
	return maxRev, nil
}

func (f *fakeHistoryRepo) List(_ context.Context, dictID int64, sf models.SyncFilter) ([]models.SyncHistoryEntry, error) {
	es := f.sorted(dictID, func(e *models.SyncHistoryEntry) bool {
		return sf.Device == "" || e.Device == sf.Device
	})
	out := make([]models.SyncHistoryEntry, 0, len(es))
	for i := len(es) - 1; i >= 0; i-- {
		out = append(out, *es[i])
	}
	return out, nil
}

func (f *fakeHistoryRepo) AddBinaryEntries(_ context.Context, revision int64, signatures []string) error {
	if len(signatures) > 0 {
		f.binary[revision] = append(f.binary[revision], signatures...)
	}
	return nil
}

func (f *fakeHistoryRepo) ArchiveBinaryEntries(_ context.Context, dictID int64, device string, minRevision int64) (int64, error) {
	var n int64
	for rev, sigs := range f.binary {
		e := f.entries[rev]
		if e == nil || e.DictionaryID != dictID || e.Device != device || e.Direction != models.DirectionGet || rev < minRevision {
			continue
		}
		f.archived[rev] = append(f.archived[rev], sigs...)
		delete(f.binary, rev)
		n += int64(len(sigs))
	}
	return n, nil
}

// sentTo reports whether a get of device already carried sig.
func (f *fakeHistoryRepo) sentTo(dictID int64, device, sig string) bool {
	for rev, sigs := range f.binary {
		e := f.entries[rev]
		if e != nil && e.DictionaryID == dictID && e.Device == device && e.Direction == models.DirectionGet && slices.Contains(sigs, sig) {
			return true
		}
	}
	return false
}

// --- cases ---

type fakeCasesRepo struct {
	cases.Repository
	byID      map[string]*wire.Case
	upsertErr error
	upserts   int
}

func (f *fakeCasesRepo) Versions(_ context.Context, ids []string) (map[string]models.CaseVersion, error) {
	out := map[string]models.CaseVersion{}
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out[id] = models.CaseVersion{ID: id, Revision: c.Revision, Clock: c.Clock.Clone()}
		}
	}
	return out, nil
}

func (f *fakeCasesRepo) Upsert(_ context.Context, cs []*wire.Case, revision int64) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	for _, c := range cs {
		cp := *c
		cp.Clock = c.Clock.Clone()
		cp.Questionnaire = c.Payload()
		cp.Data = nil
		cp.Notes = nil
		cp.Revision = revision
		f.byID[c.ID] = &cp
	}
	return nil
}

func (f *fakeCasesRepo) Get(_ context.Context, id string) (*wire.Case, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	cp.Clock = c.Clock.Clone()
	return &cp, nil
}

func (f *fakeCasesRepo) MarkDeleted(_ context.Context, id string, clock vectorclock.Clock, revision int64) error {
	c, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.Deleted = true
	c.Clock = clock
	c.Revision = revision
	return nil
}

func (f *fakeCasesRepo) matching(cf models.CaseFilter) []*wire.Case {
	var out []*wire.Case
	for _, c := range f.byID {
		after := c.Revision > cf.LastRevision ||
			(c.Revision == cf.LastRevision && cf.StartAfter != "" && c.ID > cf.StartAfter)
		if !after || c.Revision > cf.MaxRevision {
			continue
		}
		if !strings.HasPrefix(c.CaseIDs, cf.Universe) || slices.Contains(cf.ExcludeRevisions, c.Revision) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revision != out[j].Revision {
			return out[i].Revision < out[j].Revision
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeCasesRepo) Count(_ context.Context, cf models.CaseFilter) (int64, error) {
	return int64(len(f.matching(cf))), nil
}

func (f *fakeCasesRepo) ChunkMaxRevision(_ context.Context, cf models.CaseFilter, limit int) (int64, error) {
	m := f.matching(cf)
	if len(m) == 0 {
		return 0, nil
	}
	if limit > len(m) {
		limit = len(m)
	}
	return m[limit-1].Revision, nil
}

func (f *fakeCasesRepo) Scan(_ context.Context, cf models.CaseFilter, limit int) ([]*wire.Case, error) {
	m := f.matching(cf)
	if limit < len(m) {
		m = m[:limit]
	}
	out := make([]*wire.Case, len(m))
	for i, c := range m {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

// --- notes ---

type fakeNotesRepo struct {
	notes.Repository
	byCase map[string][]wire.Note
}

func (f *fakeNotesRepo) Replace(_ context.Context, cs []*wire.Case) error {
	for _, c := range cs {
		delete(f.byCase, c.ID)
		if len(c.Notes) > 0 {
			f.byCase[c.ID] = append([]wire.Note(nil), c.Notes...)
		}
	}
	return nil
}

func (f *fakeNotesRepo) ForCases(_ context.Context, ids []string) (map[string][]wire.Note, error) {
	out := map[string][]wire.Note{}
	for _, id := range ids {
		if n, ok := f.byCase[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

// --- binary items ---

type fakeBinaryRepo struct {
	binaryitems.Repository
	byCase  map[string][]string
	history *fakeHistoryRepo
}

func (f *fakeBinaryRepo) Replace(_ context.Context, caseIDs []string, items []models.CaseBinaryItem) error {
	for _, id := range caseIDs {
		delete(f.byCase, id)
	}
	for _, it := range items {
		f.byCase[it.CaseID] = append(f.byCase[it.CaseID], it.Signature)
	}
	return nil
}

func (f *fakeBinaryRepo) Any(context.Context) (bool, error) {
	return len(f.byCase) > 0, nil
}

func (f *fakeBinaryRepo) Unsent(_ context.Context, dictID int64, device string, caseIDs []string) ([]models.CaseBinaryItem, error) {
	ids := slices.Clone(caseIDs)
	sort.Strings(ids)
	var out []models.CaseBinaryItem
	for _, id := range ids {
		sigs := slices.Clone(f.byCase[id])
		sort.Strings(sigs)
		for _, sig := range sigs {
			if !f.history.sentTo(dictID, device, sig) {
				out = append(out, models.CaseBinaryItem{CaseID: id, Signature: sig})
			}
		}
	}
	return out, nil
}

// --- blobs ---

type memBucket struct {
	blobs map[string][]byte
}

func (b *memBucket) Open(_ context.Context, sig string) (io.ReadCloser, int64, error) {
	data, ok := b.blobs[sig]
	if !ok {
		return nil, 0, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *memBucket) Put(_ context.Context, sig string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.blobs[sig] = data
	return nil
}

func (b *memBucket) Size(_ context.Context, sig string) (int64, error) {
	data, ok := b.blobs[sig]
	if !ok {
		return 0, common.ErrorNotFound
	}
	return int64(len(data)), nil
}

type memStore struct {
	buckets map[string]*memBucket
}

func newMemStore() *memStore {
	return &memStore{buckets: map[string]*memBucket{}}
}

func (s *memStore) Bucket(dictionary string) blobstore.Bucket {
	b, ok := s.buckets[dictionary]
	if !ok {
		b = &memBucket{blobs: map[string][]byte{}}
		s.buckets[dictionary] = b
	}
	return b
}

// --- events ---

type recordingPublisher struct {
	events []*events.CasesChanged
	err    error
}

func (p *recordingPublisher) PublishCasesChanged(_ context.Context, e *events.CasesChanged) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// --- wiring ---

type syncFixture struct {
	db      *sql.DB
	cfg     *config.Config
	rm      *fakeRepoManager
	blobs   *memStore
	events  *recordingPublisher
	metrics *metrics.Metrics
	deps    SyncDeps
}

func newSyncFixture(t *testing.T, dicts ...string) *syncFixture {
	t.Helper()
	f := &syncFixture{
		db:      newTxDB(t),
		cfg:     testConfig(),
		rm:      newFakeRepoManager(),
		blobs:   newMemStore(),
		events:  &recordingPublisher{},
		metrics: metrics.New(),
	}
	for _, d := range dicts {
		f.rm.dicts.register(t, d)
	}
	load := func(ctx context.Context, name string) (*models.Dictionary, error) {
		return f.rm.dicts.GetByName(ctx, name)
	}
	f.deps = SyncDeps{
		Schemas: schema.NewCache(schema.NewMemoryStore(), load, time.Minute),
		Blobs:   f.blobs,
		Events:  f.events,
		Metrics: f.metrics,
		Logger:  testLogger(),
	}
	return f
}

func (f *syncFixture) upload() *UploadService {
	return NewUploadService(f.db, f.rm, f.cfg, f.deps)
}

func (f *syncFixture) download() *DownloadService {
	return NewDownloadService(f.db, f.rm, f.cfg, f.deps)
}

// scrape returns the exposition text of the fixture's metrics.
func (f *syncFixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
