package services

import (
	"github.com/dmitrijs2005/casesync/internal/logging"
	"github.com/dmitrijs2005/casesync/internal/server/blobstore"
	"github.com/dmitrijs2005/casesync/internal/server/events"
	"github.com/dmitrijs2005/casesync/internal/server/metrics"
	"github.com/dmitrijs2005/casesync/internal/server/schema"
	"github.com/dmitrijs2005/casesync/internal/server/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Sync directions as used in metric labels.
const (
	directionPut = "put"
	directionGet = "get"
)

// SyncDeps are the collaborators shared by the upload and download
// pipelines.
type SyncDeps struct {
	Schemas *schema.Cache
	Blobs   blobstore.Store
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

func tracer() trace.Tracer {
	return otel.Tracer(tracing.TracerName)
}
