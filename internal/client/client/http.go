package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/casejson"
	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
	contentTypeForm   = "application/x-www-form-urlencoded"

	kindTokenExpired = "token_expired"
	maxErrorBody     = 64 << 10
)

type HTTPClient struct {
	baseURL string
	device  string
	http    *http.Client
	logger  logging.Logger

	mu      sync.Mutex
	access  string
	refresh string

	// OnTokens, when set, is called with every pair obtained by a refresh.
	OnTokens func(ctx context.Context, t *wire.Token) error
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the server at baseURL acting as
// device. timeout bounds the wait for response headers; bodies may
// stream for longer.
func NewHTTPClient(baseURL, device string, timeout time.Duration, l logging.Logger) *HTTPClient {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		device:  device,
		http:    &http.Client{Transport: tr},
		logger:  l.With("module", "client", "device", device),
	}
}

func (c *HTTPClient) SetTokens(t *wire.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil {
		c.access, c.refresh = "", ""
		return
	}
	c.access, c.refresh = t.AccessToken, t.RefreshToken
}

func (c *HTTPClient) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

type request struct {
	method string
	path   string
	header http.Header
	body   []byte
	auth   bool
}

func (c *HTTPClient) roundTrip(ctx context.Context, r *request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.header {
		req.Header[k] = v
	}
	req.Header.Set(common.HeaderDevice, c.device)
	if r.auth {
		if access, _ := c.tokens(); access != "" {
			req.Header.Set(common.AccessTokenHeaderName, "Bearer "+access)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logger.Debug(ctx, "request", "method", r.method, "path", r.path,
		"status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// send performs r, refreshing the access token once if it expired.
func (c *HTTPClient) send(ctx context.Context, r *request) (*http.Response, error) {
	resp, err := c.roundTrip(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !r.auth {
		return resp, nil
	}

	apiErr := decodeError(resp)
	if _, refresh := c.tokens(); apiErr.Kind != kindTokenExpired || refresh == "" {
		return nil, apiErr
	}
	if err := c.refreshTokens(ctx); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, r)
}

func decodeError(resp *http.Response) *APIError {
	defer resp.Body.Close()
	e := &APIError{StatusCode: resp.StatusCode}
	var st wire.Status
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(data, &st) == nil {
		e.Kind, e.Description = st.Error, st.Description
	}
	if e.Description == "" {
		e.Description = http.StatusText(resp.StatusCode)
	}
	return e
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) ServerInfo(ctx context.Context) (*wire.ServerInfo, error) {
	resp, err := c.send(ctx, &request{method: http.MethodGet, path: "/api/server"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var info wire.ServerInfo
	if err := decodeJSON(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (*wire.Token, error) {
	t, err := c.token(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	})
	if err != nil {
		return nil, err
	}
	c.SetTokens(t)
	return t, nil
}

func (c *HTTPClient) refreshTokens(ctx context.Context) error {
	_, refresh := c.tokens()
	t, err := c.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	})
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	c.SetTokens(t)
	c.logger.Debug(ctx, "access token refreshed")
	if c.OnTokens != nil {
		return c.OnTokens(ctx, t)
	}
	return nil
}

func (c *HTTPClient) token(ctx context.Context, form url.Values) (*wire.Token, error) {
	resp, err := c.send(ctx, &request{
		method: http.MethodPost,
		path:   "/api/token",
		header: http.Header{"Content-Type": {contentTypeForm}},
		body:   []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var t wire.Token
	if err := decodeJSON(resp, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) Dictionaries(ctx context.Context) ([]wire.DictionaryInfo, error) {
	resp, err := c.send(ctx, &request{method: http.MethodGet, path: "/api/dictionaries", auth: true})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var list []wire.DictionaryInfo
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func casesPath(dictionary string) string {
	return "/api/dictionaries/" + url.PathEscape(dictionary) + "/cases"
}

func (c *HTTPClient) Download(ctx context.Context, dictionary string, p DownloadParams, sink binframe.Sink) (*DownloadPage, error) {
	h := http.Header{}
	if p.LastRevision > 0 {
		h.Set(common.HeaderIfRevisionExists, strconv.FormatInt(p.LastRevision, 10))
	}
	if p.StartAfter != "" {
		h.Set(common.HeaderStartAfter, p.StartAfter)
	}
	if p.RangeCount > 0 {
		h.Set(common.HeaderRangeCount, strconv.Itoa(p.RangeCount))
	}
	if p.Universe != "" {
		h.Set(common.HeaderUniverse, p.Universe)
	}
	if len(p.ExcludeRevisions) > 0 {
		revs := make([]string, len(p.ExcludeRevisions))
		for i, r := range p.ExcludeRevisions {
			revs[i] = strconv.FormatInt(r, 10)
		}
		h.Set(common.HeaderExcludeRevisions, strings.Join(revs, ","))
	}

	resp, err := c.send(ctx, &request{method: http.MethodGet, path: casesPath(dictionary), header: h, auth: true})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, decodeError(resp)
	}
	defer resp.Body.Close()

	page := &DownloadPage{Partial: resp.StatusCode == http.StatusPartialContent}
	if page.MaxRevision, err = revision(resp.Header.Get("ETag")); err != nil {
		return nil, err
	}
	if page.ChunkMaxRevision, err = revision(resp.Header.Get(common.HeaderChunkMaxRevision)); err != nil {
		return nil, err
	}
	if page.Sent, page.Total, err = rangeCount(resp.Header.Get(common.HeaderRangeCount)); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if strings.HasPrefix(resp.Header.Get("Content-Type"), contentTypeBinary) {
		if sink == nil {
			sink = discardSink{}
		}
		var js bytes.Buffer
		dec, err := binframe.Decode(ctx, resp.Body, &js, sink)
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		page.Attachments = dec.Signatures
		body = &js
	}

	parser := casejson.NewParser(body)
	for {
		cs, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode cases: %w", err)
		}
		page.Cases = append(page.Cases, cs)
	}
	return page, nil
}

func (c *HTTPClient) Upload(ctx context.Context, dictionary string, p UploadParams) (*UploadResult, error) {
	cases := p.Cases
	if cases == nil {
		cases = []*wire.Case{}
	}
	js, err := json.Marshal(cases)
	if err != nil {
		return nil, err
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	contentType := contentTypeJSON
	if len(p.Attachments) > 0 {
		contentType = contentTypeBinary
		err = binframe.Encode(ctx, zw, bytes.NewReader(js), int64(len(js)), p.Attachments, p.Source)
	} else {
		_, err = zw.Write(js)
	}
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	h := http.Header{
		"Content-Type":     {contentType},
		"Content-Encoding": {"gzip"},
	}
	if p.IfRevisionExists > 0 {
		h.Set(common.HeaderIfRevisionExists, strconv.FormatInt(p.IfRevisionExists, 10))
	}

	resp, err := c.send(ctx, &request{method: http.MethodPost, path: casesPath(dictionary), header: h, body: gz.Bytes(), auth: true})
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		resp.Body.Close()
		rev, err := revision(resp.Header.Get(common.HeaderCurrentRevision))
		if err != nil {
			return nil, err
		}
		return &UploadResult{Revision: rev}, nil
	case http.StatusPreconditionFailed:
		var info wire.SyncInfo
		if err := decodeJSON(resp, &info); err != nil {
			return nil, err
		}
		res := &UploadResult{PreconditionFailed: true}
		if info.Device != "" || info.RevisionNumber != 0 {
			res.LastSync = &info
		}
		return res, nil
	}
	return nil, decodeError(resp)
}

func revision(v string) (int64, error) {
	v = strings.Trim(strings.TrimSpace(v), `"`)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad revision %q: %w", v, err)
	}
	return n, nil
}

// rangeCount parses "sent/total".
func rangeCount(v string) (int, int, error) {
	if v == "" {
		return 0, 0, nil
	}
	s, t, ok := strings.Cut(v, "/")
	sent, err1 := strconv.Atoi(s)
	total, err2 := strconv.Atoi(t)
	if !ok || err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("bad range count %q", v)
	}
	return sent, total, nil
}

type discardSink struct{}

func (discardSink) Put(_ context.Context, _ string, r io.Reader, size int64) error {
	_, err := io.CopyN(io.Discard, r, size)
	return err
}
