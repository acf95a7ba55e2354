package client

import (
	"context"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/wire"
)

type Client interface {
	ServerInfo(ctx context.Context) (*wire.ServerInfo, error)
	Login(ctx context.Context, username, password string) (*wire.Token, error)
	SetTokens(t *wire.Token)
	Dictionaries(ctx context.Context) ([]wire.DictionaryInfo, error)
	Download(ctx context.Context, dictionary string, p DownloadParams, sink binframe.Sink) (*DownloadPage, error)
	Upload(ctx context.Context, dictionary string, p UploadParams) (*UploadResult, error)
}

// DownloadParams is the device cursor sent with a download.
type DownloadParams struct {
	LastRevision     int64
	StartAfter       string
	RangeCount       int
	Universe         string
	ExcludeRevisions []int64
}

// DownloadPage is one page of a download. MaxRevision is the server's
// high-water mark; ChunkMaxRevision is the revision of the last case sent.
type DownloadPage struct {
	Cases            []*wire.Case
	MaxRevision      int64
	ChunkMaxRevision int64
	Sent             int
	Total            int
	Partial          bool
	Attachments      []string
}

// UploadParams describes one upload batch. Attachments, when present,
// are framed after the case array and read from Source.
type UploadParams struct {
	IfRevisionExists int64
	Cases            []*wire.Case
	Attachments      []binframe.Descriptor
	Source           binframe.Source
}

// UploadResult carries the new revision, or the device's last sync when
// the server rejected the precondition. LastSync is nil when the server
// knows no sync for the device.
type UploadResult struct {
	Revision           int64
	PreconditionFailed bool
	LastSync           *wire.SyncInfo
}
