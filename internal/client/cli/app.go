package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/casesync/internal/client/client"
	"github.com/dmitrijs2005/casesync/internal/client/config"
	"github.com/dmitrijs2005/casesync/internal/client/services"
	"github.com/dmitrijs2005/casesync/internal/filex"
	"github.com/dmitrijs2005/casesync/internal/logging"
)

// App is everything one command needs: the local store, the server
// client and the services built on them.
type App struct {
	config *config.Config
	logger logging.Logger
	store  *client.Store
	client *client.HTTPClient
	auth   *services.AuthService
	sync   *services.SyncService

	// user is empty until a token pair is stored.
	user    string
	closers []io.Closer
}

// NewApp opens the local store and restores the stored session. Logs go
// to logOut.
func NewApp(ctx context.Context, c *config.Config, logOut io.Writer) (*App, error) {
	logger, logCloser, err := logging.New(logging.Options{Level: c.LogLevel, Output: logOut})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app := &App{config: c, logger: logger, closers: []io.Closer{logCloser}}

	if err := filex.EnsureParentDir(c.DatabaseDSN); err != nil {
		app.Close()
		return nil, err
	}
	store, err := client.OpenStore(ctx, c.DatabaseDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	app.store = store
	app.closers = append(app.closers, store)

	app.client = client.NewHTTPClient(c.ServerURL, c.Device, c.RequestTimeout, logger)
	app.auth = services.NewAuthService(app.client, store)
	app.client.OnTokens = app.auth.SaveTokens
	app.sync = services.NewSyncService(app.client, store, services.Options{
		Device:   c.Device,
		PageSize: c.PageSize,
		Universe: c.Universe,
	}, logger)

	app.user, err = app.auth.Restore(ctx)
	if err != nil && !errors.Is(err, services.ErrNotLoggedIn) {
		app.Close()
		return nil, err
	}
	return app, nil
}

// requireLogin fails commands that talk to protected endpoints before a
// token was obtained.
func (a *App) requireLogin() error {
	if a.user == "" {
		return fmt.Errorf("%w: run 'casesync token' first", services.ErrNotLoggedIn)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
