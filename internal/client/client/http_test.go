package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/vectorclock"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tab1", 5*time.Second, discardLogger())
}

func writeStatus(w http.ResponseWriter, code int, kind, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(wire.Status{Code: code, Error: kind, Description: desc})
}

type memSink struct {
	data map[string]string
}

func (s *memSink) Put(_ context.Context, sig string, r io.Reader, size int64) error {
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	s.data[sig] = string(b)
	return nil
}

func (s *memSink) Open(_ context.Context, sig string) (io.ReadCloser, int64, error) {
	v, ok := s.data[sig]
	if !ok {
		return nil, 0, common.ErrorNotFound
	}
	return io.NopCloser(strings.NewReader(v)), int64(len(v)), nil
}

func TestLoginAndServerInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		if r.PostForm.Get("password") != "secret" {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "bad credentials")
			return
		}
		_ = json.NewEncoder(w).Encode(wire.Token{AccessToken: "a1", RefreshToken: "r1", TokenType: "Bearer", ExpiresIn: 3600})
	})
	mux.HandleFunc("/api/server", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tab1", r.Header.Get(common.HeaderDevice))
		_ = json.NewEncoder(w).Encode(wire.ServerInfo{DeviceID: "server", APIVersion: "2"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	info, err := c.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "server", info.DeviceID)

	_, err = c.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad credentials", apiErr.Description)

	tok, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	access, refresh := c.tokens()
	assert.Equal(t, "a1", access)
	assert.Equal(t, "r1", refresh)
}

func TestSend_RefreshesExpiredToken(t *testing.T) {
	var dictCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dictionaries", func(w http.ResponseWriter, r *http.Request) {
		dictCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeStatus(w, http.StatusUnauthorized, "token_expired", "token expired")
			return
		}
		_ = json.NewEncoder(w).Encode([]wire.DictionaryInfo{{Name: "HH", Label: "Households", CaseCount: 3}})
	})
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(wire.Token{AccessToken: "fresh", RefreshToken: "r2"})
	})
	c := newTestClient(t, mux)
	c.SetTokens(&wire.Token{AccessToken: "stale", RefreshToken: "r1"})
	var saved *wire.Token
	c.OnTokens = func(_ context.Context, tk *wire.Token) error {
		saved = tk
		return nil
	}

	list, err := c.Dictionaries(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3), list[0].CaseCount)
	assert.Equal(t, int32(2), dictCalls.Load())
	assert.Equal(t, int32(1), refreshCalls.Load())
	require.NotNil(t, saved)
	assert.Equal(t, "r2", saved.RefreshToken)
}

func TestSend_NoRefreshForOtherUnauthorized(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dictionaries", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusUnauthorized, "unauthorized", "invalid token")
	})
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	c := newTestClient(t, mux)
	c.SetTokens(&wire.Token{AccessToken: "bad", RefreshToken: "r1"})

	_, err := c.Dictionaries(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, refreshCalls.Load())
}

func TestDownload_JSONPage(t *testing.T) {
	page := []*wire.Case{
		{ID: "c1", CaseIDs: "001", Label: "one", Questionnaire: `{"ID":"001"}`, Clock: vectorclock.New("tab2", 1)},
		{ID: "c2", CaseIDs: "002", Label: "two", Deleted: true, Clock: vectorclock.New("server", 1)},
	}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dictionaries/HH/cases", r.URL.Path)
		assert.Equal(t, "5", r.Header.Get(common.HeaderIfRevisionExists))
		assert.Equal(t, "c0", r.Header.Get(common.HeaderStartAfter))
		assert.Equal(t, "2", r.Header.Get(common.HeaderRangeCount))
		assert.Equal(t, "7,9", r.Header.Get(common.HeaderExcludeRevisions))
		assert.Equal(t, "01", r.Header.Get(common.HeaderUniverse))
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))

		w.Header().Set("ETag", "12")
		w.Header().Set(common.HeaderChunkMaxRevision, "8")
		w.Header().Set(common.HeaderRangeCount, "2/5")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPartialContent)
		_ = json.NewEncoder(w).Encode(page)
	})
	c := newTestClient(t, h)
	c.SetTokens(&wire.Token{AccessToken: "a1"})

	got, err := c.Download(context.Background(), "HH", DownloadParams{
		LastRevision: 5, StartAfter: "c0", RangeCount: 2, Universe: "01", ExcludeRevisions: []int64{7, 9},
	}, nil)
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Equal(t, int64(12), got.MaxRevision)
	assert.Equal(t, int64(8), got.ChunkMaxRevision)
	assert.Equal(t, 2, got.Sent)
	assert.Equal(t, 5, got.Total)
	require.Len(t, got.Cases, 2)
	assert.Equal(t, `{"ID":"001"}`, got.Cases[0].Questionnaire)
	assert.Equal(t, int64(1), got.Cases[0].Clock.Get("tab2"))
	assert.True(t, got.Cases[1].Deleted)
}

func TestDownload_BinaryPage(t *testing.T) {
	src := &memSink{data: map[string]string{"sig1": "jpeg"}}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		js := `[{"id":"c1","caseids":"001","label":"","level-1":"{}","clock":[]}]`
		w.Header().Set("ETag", "3")
		w.Header().Set(common.HeaderChunkMaxRevision, "3")
		w.Header().Set(common.HeaderRangeCount, "1/1")
		w.Header().Set("Content-Type", "application/octet-stream")
		require.NoError(t, binframe.Encode(r.Context(), w, strings.NewReader(js), int64(len(js)),
			[]binframe.Descriptor{{Signature: "sig1", CaseID: "c1"}}, src))
	})
	c := newTestClient(t, h)
	sink := &memSink{data: map[string]string{}}

	got, err := c.Download(context.Background(), "HH", DownloadParams{}, sink)
	require.NoError(t, err)
	assert.False(t, got.Partial)
	require.Len(t, got.Cases, 1)
	assert.Equal(t, []string{"sig1"}, got.Attachments)
	assert.Equal(t, "jpeg", sink.data["sig1"])
}

func TestDownload_Errors(t *testing.T) {
	tests := []struct {
		name string
		code int
		kind string
		want error
	}{
		{"precondition", http.StatusPreconditionFailed, "precondition_failed", ErrPreconditionFailed},
		{"unknown dictionary", http.StatusNotFound, "not_found", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeStatus(w, tt.code, tt.kind, "x")
			}))
			_, err := c.Download(context.Background(), "HH", DownloadParams{}, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDownload_BadHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(common.HeaderRangeCount, "two")
		_, _ = io.WriteString(w, "[]")
	}))
	_, err := c.Download(context.Background(), "HH", DownloadParams{}, nil)
	assert.ErrorContains(t, err, "bad range count")
}

func readGzip(t *testing.T, r *http.Request) []byte {
	t.Helper()
	assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
	zr, err := gzip.NewReader(r.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return data
}

func TestUpload_JSON(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "4", r.Header.Get(common.HeaderIfRevisionExists))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var got []map[string]any
		require.NoError(t, json.Unmarshal(readGzip(t, r), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "c1", got[0]["id"])

		w.Header().Set(common.HeaderCurrentRevision, "9")
		writeStatus(w, http.StatusOK, "", "Success")
	})
	c := newTestClient(t, h)

	res, err := c.Upload(context.Background(), "HH", UploadParams{
		IfRevisionExists: 4,
		Cases:            []*wire.Case{{ID: "c1", Clock: vectorclock.New("tab1", 1)}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Revision)
	assert.False(t, res.PreconditionFailed)
}

func TestUpload_Framed(t *testing.T) {
	src := &memSink{data: map[string]string{"sig1": "png!"}}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get(common.HeaderIfRevisionExists))
		sink := &memSink{data: map[string]string{}}
		var js bytes.Buffer
		_, err := binframe.Decode(r.Context(), bytes.NewReader(readGzip(t, r)), &js, sink)
		require.NoError(t, err)
		assert.Equal(t, "png!", sink.data["sig1"])
		assert.Equal(t, "[]", js.String())
		w.Header().Set(common.HeaderCurrentRevision, "2")
		writeStatus(w, http.StatusOK, "", "Success")
	})
	c := newTestClient(t, h)

	res, err := c.Upload(context.Background(), "HH", UploadParams{
		Attachments: []binframe.Descriptor{{Signature: "sig1"}},
		Source:      src,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revision)
}

func TestUpload_PreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *wire.SyncInfo
	}{
		{"no previous sync", `{}`, nil},
		{"last sync", `{"revisionNumber":3,"device":"tab1","dictionary":"HH","direction":"put"}`,
			&wire.SyncInfo{RevisionNumber: 3, Device: "tab1", Dictionary: "HH", Direction: "put"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPreconditionFailed)
				_, _ = io.WriteString(w, tt.body)
			}))
			res, err := c.Upload(context.Background(), "HH", UploadParams{IfRevisionExists: 99})
			require.NoError(t, err)
			assert.True(t, res.PreconditionFailed)
			assert.Equal(t, tt.want, res.LastSync)
		})
	}
}

func TestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewHTTPClient(srv.URL, "tab1", time.Second, discardLogger())

	_, err := c.ServerInfo(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestRangeCountAndRevision(t *testing.T) {
	s, tot, err := rangeCount("3/10")
	require.NoError(t, err)
	assert.Equal(t, 3, s)
	assert.Equal(t, 10, tot)

	_, _, err = rangeCount("3")
	assert.Error(t, err)

	r, err := revision(`"42"`)
	require.NoError(t, err)
	assert.Equal(t, int64(42), r)

	_, err = revision("x")
	assert.Error(t, err)
}
