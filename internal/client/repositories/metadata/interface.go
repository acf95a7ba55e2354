// Package metadata is a small key/value store for device settings that
// outlive a run: credentials and the server identity.
package metadata

import (
	"context"
)

// Well known keys.
const (
	KeyUserName     = "username"
	KeyToken        = "token"
	KeyServerDevice = "server_device"
)

type Repository interface {
	// Get returns (nil, nil) for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
