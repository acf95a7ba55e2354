package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/client/client"
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/stretchr/testify/require"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newStore(t *testing.T) *client.Store {
	t.Helper()
	s, err := client.OpenStore(context.Background(), filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeClient embeds the interface; unused methods panic.
type fakeClient struct {
	client.Client

	tokens *wire.Token

	serverID   string
	loginFn    func(ctx context.Context, user, pass string) (*wire.Token, error)
	downloadFn func(ctx context.Context, dict string, p client.DownloadParams, sink binframe.Sink) (*client.DownloadPage, error)
	uploadFn   func(ctx context.Context, dict string, p client.UploadParams) (*client.UploadResult, error)

	downloads []client.DownloadParams
	uploads   []client.UploadParams
}

func (f *fakeClient) ServerInfo(context.Context) (*wire.ServerInfo, error) {
	if f.serverID == "" {
		return &wire.ServerInfo{DeviceID: "server"}, nil
	}
	return &wire.ServerInfo{DeviceID: f.serverID}, nil
}

func (f *fakeClient) Login(ctx context.Context, user, pass string) (*wire.Token, error) {
	return f.loginFn(ctx, user, pass)
}

func (f *fakeClient) SetTokens(t *wire.Token) { f.tokens = t }

func (f *fakeClient) Download(ctx context.Context, dict string, p client.DownloadParams, sink binframe.Sink) (*client.DownloadPage, error) {
	f.downloads = append(f.downloads, p)
	return f.downloadFn(ctx, dict, p, sink)
}

func (f *fakeClient) Upload(ctx context.Context, dict string, p client.UploadParams) (*client.UploadResult, error) {
	f.uploads = append(f.uploads, p)
	return f.uploadFn(ctx, dict, p)
}
