package models

import "github.com/dmitrijs2005/casesync/internal/vectorclock"

// CaseVersion is the part of a stored case needed to reconcile an upload.
type CaseVersion struct {
	ID       string
	Revision int64
	Clock    vectorclock.Clock
}

// CaseBinaryItem associates an attachment signature with a case.
type CaseBinaryItem struct {
	CaseID    string
	Signature string
}

// CaseFilter selects the cases of a download window in (revision, id)
// order.
//
// Rows match when they come after the cursor (LastRevision, StartAfter),
// revision <= MaxRevision, the case id list starts with Universe and
// revision is not in ExcludeRevisions. An empty StartAfter means the whole
// of LastRevision was already seen.
type CaseFilter struct {
	LastRevision     int64
	StartAfter       string
	MaxRevision      int64
	Universe         string
	ExcludeRevisions []int64
}
