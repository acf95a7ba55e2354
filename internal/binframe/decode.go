package binframe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// Decoded summarizes a decoded frame.
type Decoded struct {
	Version int32
	// JSONLength is the number of case JSON bytes copied out.
	JSONLength int64
	// Signatures lists attachment signatures in frame order, without
	// duplicates, including records that carried no content.
	Signatures []string
}

// Decode reads a frame from r. The case JSON block is copied to jsonDst and
// every attachment with content is handed to sink keyed by its signature.
// Malformed input yields an error wrapping common.ErrFormat.
func Decode(ctx context.Context, r io.Reader, jsonDst io.Writer, sink Sink) (*Decoded, error) {
	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, formatErr("missing signature")
	}
	if !IsFramed(sig) {
		return nil, formatErr("bad signature %q", sig)
	}

	version, err := readInt(r)
	if err != nil {
		return nil, formatErr("missing version")
	}
	if version != Version {
		return nil, formatErr("unsupported version %d", version)
	}

	jsonLen, err := readInt(r)
	if err != nil {
		return nil, formatErr("missing json length")
	}
	if jsonLen < 0 {
		return nil, formatErr("negative json length %d", jsonLen)
	}

	buf := make([]byte, copyChunk)
	if _, err := copyN(ctx, jsonDst, r, int64(jsonLen), buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, formatErr("truncated json block")
		}
		return nil, err
	}

	out := &Decoded{Version: version, JSONLength: int64(jsonLen)}
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		descLen, err := readInt(r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, formatErr("truncated record header")
		}
		if descLen == 0 {
			continue
		}
		if descLen < 0 {
			return nil, formatErr("negative descriptor length %d", descLen)
		}

		raw := make([]byte, descLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, formatErr("truncated descriptor")
		}
		var d Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, formatErr("bad descriptor: %v", err)
		}
		if !ValidSignature(d.Signature) {
			return nil, formatErr("bad attachment signature %q", d.Signature)
		}
		if _, ok := seen[d.Signature]; !ok {
			seen[d.Signature] = struct{}{}
			out.Signatures = append(out.Signatures, d.Signature)
		}

		contentLen, err := readInt(r)
		if errors.Is(err, io.EOF) {
			// descriptor was the last thing in the stream
			return out, nil
		}
		if err != nil {
			return nil, formatErr("truncated content length")
		}
		if contentLen == noContent {
			continue
		}
		if contentLen < 0 {
			return nil, formatErr("negative content length %d", contentLen)
		}

		lr := &io.LimitedReader{R: r, N: int64(contentLen)}
		if err := sink.Put(ctx, d.Signature, lr, int64(contentLen)); err != nil {
			if lr.N > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return nil, formatErr("truncated attachment %s", d.Signature)
			}
			return nil, err
		}
		if lr.N > 0 {
			// the sink stopped early; keep the stream aligned
			if _, err := io.Copy(io.Discard, lr); err != nil {
				return nil, err
			}
			if lr.N > 0 {
				return nil, formatErr("truncated attachment %s", d.Signature)
			}
		}
	}
}
