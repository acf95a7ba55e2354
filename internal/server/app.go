// Package server wires the sync server together: storage, caches, event
// publishing, tracing and the HTTP and gRPC endpoints. It also handles
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/server/blobstore"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/events"
	"github.com/dmitrijs2005/casesync/internal/server/httpapi"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/server/services"
	"github.com/dmitrijs2005/casesync/internal/server/tracing"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/casesync/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	router  *gin.Engine
	closers []io.Closer
	tracer  *tracing.Provider
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, logFile, err := logging.New(logging.Options{Level: c.LogLevel, File: c.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app := &App{config: c, logger: logger, closers: []io.Closer{logFile}}

	if err := app.init(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	tp, err := tracing.New(ctx, tracing.Config{
		Exporter:     c.TracingExporter,
		OTLPEndpoint: c.OTLPEndpoint,
		ServiceName:  "casesync",
	})
	if err != nil {
		return fmt.Errorf("tracing init error: %w", err)
	}
	app.tracer = tp

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open error: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db)

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := app.blobStore(ctx)
	if err != nil {
		return fmt.Errorf("blob store init error: %w", err)
	}

	load := func(ctx context.Context, name string) (*models.Dictionary, error) {
		return rm.Dictionaries(db).GetByName(ctx, name)
	}
	deps := services.SyncDeps{
		Schemas: schema.NewCache(app.schemaStore(), load, c.SchemaCacheTTL),
		Blobs:   blobs,
		Events:  app.publisher(),
		Metrics: metrics.New(),
		Logger:  app.logger,
	}

	users := services.NewUserService(db, rm, c)
	created, err := users.EnsureAdmin(ctx)
	if err != nil {
		return fmt.Errorf("admin bootstrap error: %w", err)
	}
	if created {
		app.logger.Info(ctx, "Admin user created", "user", c.AdminUser)
	}
	if n, err := users.PurgeExpiredTokens(ctx); err != nil {
		app.logger.Warn(ctx, "refresh token purge failed", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "expired refresh tokens purged", "count", n)
	}

	uploads := services.NewUploadService(db, rm, c, deps)
	h := httpapi.NewHandler(httpapi.Services{
		Users:        users,
		Dictionaries: services.NewDictionaryService(db, rm, c, deps.Schemas, app.logger),
		Cases:        services.NewCaseService(db, rm, c, uploads, deps),
		Uploads:      uploads,
		Downloads:    services.NewDownloadService(db, rm, c, deps),
	}, deps.Metrics, c, app.logger)

	gin.SetMode(gin.ReleaseMode)
	app.router = httpapi.NewRouter(h)
	return nil
}

func (app *App) blobStore(ctx context.Context) (blobstore.Store, error) {
	c := app.config
	o := blobstore.S3Options{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	}
	switch c.BlobBackend {
	case config.BlobBackendFile, "":
		return blobstore.NewFileStore(c.FilesFolder), nil
	case config.BlobBackendS3:
		return blobstore.NewS3Store(ctx, o)
	case config.BlobBackendMinio:
		return blobstore.NewMinioStore(ctx, o)
	}
	return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
}

func (app *App) schemaStore() schema.Store {
	if app.config.RedisAddr == "" {
		return schema.NewMemoryStore()
	}
	rdb := redis.NewClient(&redis.Options{Addr: app.config.RedisAddr})
	app.closers = append(app.closers, rdb)
	return schema.NewRedisStore(rdb)
}

func (app *App) publisher() events.Publisher {
	if len(app.config.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	p := events.NewKafkaPublisher(app.config.KafkaBrokers, app.config.KafkaTopic)
	app.closers = append(app.closers, p)
	return p
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.EndpointAddrGRPC, app.db, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.router, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(context.Background())
	app.logger.Info(ctx, "App stopped")
}

// close flushes spans and releases connections in reverse order of
// creation.
func (app *App) close(ctx context.Context) {
	if app.tracer != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.tracer.Shutdown(sctx); err != nil {
			app.logger.Warn(ctx, "tracer shutdown", "error", err)
		}
	}
	var errs []error
	for i := len(app.closers) - 1; i > 0; i-- {
		errs = append(errs, app.closers[i].Close())
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn(ctx, "shutdown", "error", err)
	}
	// The log file goes last.
	_ = app.closers[0].Close()
}
