// Package cli implements the casesync device command line.
//
// Each run opens the local SQLite store, restores the stored token pair and
// executes one command against the sync server:
//
//   - token: sign in and keep the token pair for later runs
//   - upload: import case files as local edits and push pending edits
//   - download: pull every page of changes since the last sync
//   - sync: upload then download
//   - attach: store a binary attachment under its signature
//   - status: server identity plus local counts and sync cursor
//
// Settings come from defaults, an optional JSON file and flags, in that
// order. See package config.
package cli
