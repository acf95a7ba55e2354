// Package blobstore keeps attachment content addressed by signature, one
// namespace per dictionary. Content is immutable: writing an existing
// signature again replaces it with identical bytes.
package blobstore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/casesync/internal/binframe"
	"github.com/dmitrijs2005/casesync/internal/common"
)

// Bucket is the attachment namespace of one dictionary.
type Bucket interface {
	binframe.Source
	binframe.Sink
	// Size returns the content length of sig without reading it.
	Size(ctx context.Context, sig string) (int64, error)
}

// Store hands out per-dictionary buckets.
type Store interface {
	Bucket(dictionary string) Bucket
}

func checkSignature(sig string) error {
	if !binframe.ValidSignature(sig) {
		return fmt.Errorf("%w: invalid attachment signature %q", common.ErrInvalidRequest, sig)
	}
	return nil
}

func notFound(sig string) error {
	return fmt.Errorf("attachment %s: %w", sig, common.ErrorNotFound)
}

func objectKey(dictionary, sig string) string {
	return dictionary + "/" + sig
}
