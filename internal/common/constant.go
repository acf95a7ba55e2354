// Package common contains shared constants and sentinel errors used across
// casesync components.
package common

// Protocol headers exchanged between devices and the sync server.
const (
	HeaderDevice           = "x-csw-device"
	HeaderIfRevisionExists = "x-csw-if-revision-exists"
	HeaderStartAfter       = "x-csw-case-range-start-after"
	HeaderRangeCount       = "x-csw-case-range-count"
	HeaderUniverse         = "x-csw-universe"
	HeaderExcludeRevisions = "x-csw-exclude-revisions"
	HeaderChunkMaxRevision = "x-csw-chunk-max-revision"
	HeaderCurrentRevision  = "x-csw-current-revision"
)

// AccessTokenHeaderName is the HTTP header carrying the bearer access token.
const AccessTokenHeaderName = "Authorization"
