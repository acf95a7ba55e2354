// Package httpapi exposes the sync server over HTTP with gin.
//
// Routes:
//
//	GET    /api/server
//	POST   /api/token
//	POST   /api/users
//	GET    /api/dictionaries
//	POST   /api/dictionaries
//	GET    /api/dictionaries/:dict
//	DELETE /api/dictionaries/:dict
//	GET    /api/dictionaries/:dict/syncs
//	GET    /api/dictionaries/:dict/cases          download
//	POST   /api/dictionaries/:dict/cases          upload
//	PUT    /api/dictionaries/:dict/cases          upload
//	GET    /api/dictionaries/:dict/cases/:id
//	PUT    /api/dictionaries/:dict/cases/:id
//	DELETE /api/dictionaries/:dict/cases/:id
//	GET    /metrics
//
// Everything below /api/dictionaries and /api/users needs a bearer access
// token.
package httpapi

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/server/config"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/dmitrijs2005/casesync/internal/server/services"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/gin-gonic/gin"
)

// APIVersion is reported by the server info endpoint.
const APIVersion = "2"

type Users interface {
	Login(ctx context.Context, userName, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	CreateUser(ctx context.Context, userName, password string) (*models.User, error)
}

type Dictionaries interface {
	List(ctx context.Context) ([]wire.DictionaryInfo, error)
	Register(ctx context.Context, content []byte) (*models.Dictionary, bool, error)
	Get(ctx context.Context, name string) (*models.Dictionary, error)
	Delete(ctx context.Context, name string, dataOnly bool) error
	History(ctx context.Context, name string, f models.SyncFilter) ([]wire.SyncEntry, error)
}

type Cases interface {
	Get(ctx context.Context, dictionary, id string) (*wire.Case, error)
	Update(ctx context.Context, dictionary, id string, req *services.UploadRequest) (*services.UploadResult, error)
	Delete(ctx context.Context, dictionary, id, userName string) (int64, error)
}

type Uploader interface {
	Upload(ctx context.Context, req *services.UploadRequest) (*services.UploadResult, error)
}

type Downloader interface {
	Prepare(ctx context.Context, req *services.DownloadRequest) (*services.Download, error)
}

var (
	_ Users        = (*services.UserService)(nil)
	_ Dictionaries = (*services.DictionaryService)(nil)
	_ Cases        = (*services.CaseService)(nil)
	_ Uploader     = (*services.UploadService)(nil)
	_ Downloader   = (*services.DownloadService)(nil)
)

// Services groups the collaborators of a Handler.
type Services struct {
	Users        Users
	Dictionaries Dictionaries
	Cases        Cases
	Uploads      Uploader
	Downloads    Downloader
}

type Handler struct {
	svc          Services
	metrics      *metrics.Metrics
	jwtSecret    []byte
	serverDevice string
	logger       logging.Logger
}

func NewHandler(svc Services, m *metrics.Metrics, cfg *config.Config, l logging.Logger) *Handler {
	return &Handler{
		svc:          svc,
		metrics:      m,
		jwtSecret:    []byte(cfg.SecretKey),
		serverDevice: cfg.ServerDeviceID,
		logger:       l.With("module", "httpapi"),
	}
}

func (h *Handler) RegisterRoute(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/server", h.serverInfo)
	api.POST("/token", h.token)

	authed := api.Group("", h.authenticate)
	authed.POST("/users", h.createUser)

	dicts := authed.Group("/dictionaries")
	dicts.GET("", h.listDictionaries)
	dicts.POST("", h.registerDictionary)
	dicts.GET("/:dict", h.getDictionary)
	dicts.DELETE("/:dict", h.deleteDictionary)
	dicts.GET("/:dict/syncs", h.syncHistory)
	dicts.GET("/:dict/cases", h.download)
	dicts.POST("/:dict/cases", h.upload)
	dicts.PUT("/:dict/cases", h.upload)
	dicts.GET("/:dict/cases/:id", h.getCase)
	dicts.PUT("/:dict/cases/:id", h.updateCase)
	dicts.DELETE("/:dict/cases/:id", h.deleteCase)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

func (h *Handler) serverInfo(c *gin.Context) {
	c.JSON(200, wire.ServerInfo{DeviceID: h.serverDevice, APIVersion: APIVersion})
}
