package resilience

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is sent on every upstream request. The transport's
// automatic handling is disabled, so whatever is advertised here must be
// decodable by DecodeBody.
const AcceptEncoding = "gzip, deflate, br, zstd"

// DecodeBody wraps body with a decoder matching the Content-Encoding header
// value. Identity and empty encodings return body untouched. Closing the
// returned reader closes body.
func DecodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &decodedBody{Reader: zr.IOReadCloser(), closers: []io.Closer{zr.IOReadCloser(), body}}, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", contentEncoding)
	}
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
