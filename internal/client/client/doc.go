// Package client talks to the sync server over HTTP and opens the device's
// local SQLite store.
//
// HTTPClient attaches the bearer access token to every call. When the
// server answers 401 token_expired and a refresh token is known, the
// client exchanges it once, reports the new pair through the OnTokens
// callback and replays the request.
//
// Downloads are parsed incrementally. Binary framed pages hand attachment
// bytes to a binframe.Sink as they arrive; the case array is then parsed
// with casejson.
package client
