package httpapi

import (
	"bufio"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/common"
)

// requestBody undoes the Content-Encoding of an upload. deflate is the
// zlib wrapped stream (RFC 1950) that devices send.
func requestBody(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip body: %v", common.ErrInvalidRequest, err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("%w: deflate body: %v", common.ErrInvalidRequest, err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported content encoding %q", common.ErrInvalidRequest, encoding)
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// asArray wraps a body holding a single JSON object into a one element
// array. Any other body is returned as is.
func asArray(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			return br
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
			continue
		case '{':
			return io.MultiReader(strings.NewReader("["), br, strings.NewReader("]"))
		}
		return br
	}
}
