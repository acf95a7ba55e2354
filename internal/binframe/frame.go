// Package binframe encodes and decodes the binary sync frame: a JSON case
// array followed by raw attachment records, so media travels without
// base64 or JSON escaping.
//
// Layout, all integers int32 little-endian:
//
//	"cssync" | version | len(json) | json
//	repeated until end of stream:
//	    len(descriptor) | descriptor json | len(content) | content
//
// A record whose content length field is missing (stream ends right after
// the descriptor) or equals -1 carries no content. A length of 0 is an
// empty attachment.
package binframe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"

	"github.com/dmitrijs2005/casesync/internal/common"
)

const (
	// Signature opens every frame.
	Signature = "cssync"
	// Version is the only frame version understood.
	Version int32 = 1

	noContent int32 = -1
	copyChunk       = 8 * 1024
)

var signaturePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,128}$`)

// Descriptor is the small JSON header of one attachment record.
type Descriptor struct {
	Signature string          `json:"signature"`
	Length    int64           `json:"length"`
	CaseID    string          `json:"caseid"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Source opens attachment content for encoding.
type Source interface {
	Open(ctx context.Context, signature string) (io.ReadCloser, int64, error)
}

// Sink stores attachment content read from a frame. Implementations must
// consume exactly size bytes from r.
type Sink interface {
	Put(ctx context.Context, signature string, r io.Reader, size int64) error
}

// IsFramed reports whether prefix starts with the frame signature.
func IsFramed(prefix []byte) bool {
	return bytes.HasPrefix(prefix, []byte(Signature))
}

// ValidSignature reports whether s is usable as a content address.
func ValidSignature(s string) bool {
	return signaturePattern.MatchString(s)
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrFormat, fmt.Sprintf(format, args...))
}

func writeInt(w io.Writer, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := w.Write(b[:])
	return err
}

// readInt reads one int32. It returns io.EOF only when no byte was read.
func readInt(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func checkLen(n int64) error {
	if n < 0 || n > math.MaxInt32 {
		return fmt.Errorf("length %d does not fit the frame", n)
	}
	return nil
}

// copyN copies exactly n bytes in fixed-size chunks, checking ctx between
// chunks.
func copyN(ctx context.Context, dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	var written int64
	for written < n {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk := int64(len(buf))
		if left := n - written; left < chunk {
			chunk = left
		}
		m, err := io.ReadFull(src, buf[:chunk])
		if m > 0 {
			if _, werr := dst.Write(buf[:m]); werr != nil {
				return written, werr
			}
			written += int64(m)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return written, err
		}
	}
	return written, nil
}
