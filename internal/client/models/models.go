// Package models defines the device side data kept in the local store.
package models

import (
	"time"

	"github.com/dmitrijs2005/casesync/internal/wire"
)

// LocalCase is a case held on the device. Dirty cases were edited locally
// and have not been accepted by the server yet.
type LocalCase struct {
	Dictionary string
	Case       *wire.Case
	Dirty      bool
	UpdatedAt  time.Time
}

// SyncState is the device's cursor into a dictionary's revision stream.
//
// LastRevision is the server revision the device has fully applied.
// StartAfter is non-empty while a paged download is in progress and names
// the last case id received at LastRevision. LastPutRevision is the
// revision of the device's last accepted upload.
type SyncState struct {
	Dictionary      string
	LastRevision    int64
	StartAfter      string
	LastPutRevision int64
	Universe        string
	SyncedAt        *time.Time
	// OwnRevisions lists revisions created by this device's uploads since
	// the last complete download.
	OwnRevisions []int64
}

// Counts summarizes the local cases of a dictionary.
type Counts struct {
	Total   int64
	Dirty   int64
	Deleted int64
}
