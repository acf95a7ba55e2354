package models

import "time"

// Direction of a sync as seen from the device.
type Direction string

const (
	DirectionGet Direction = "get"
	DirectionPut Direction = "put"
)

// SyncHistoryEntry is one row of the sync ledger. Revision doubles as the
// revision stamped on every case written by a put.
type SyncHistoryEntry struct {
	Revision         int64
	Device           string
	UserName         string
	DictionaryID     int64
	DictionaryName   string
	Direction        Direction
	Universe         string
	LastCaseRevision int64
	LastCaseID       string
	Committed        bool
	CreatedAt        time.Time
}

// SyncFilter narrows a sync history listing. Zero values mean no filter.
type SyncFilter struct {
	Device string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}
