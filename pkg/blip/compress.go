package blip

import (
	"bytes"
	"compress/gzip"
	"io"
)

// Compressor is the body (de)compression capability a Connection uses for
// FlagCompressed messages. The wire format only specifies that a
// compressed body is a single gzip-compatible stream; which library
// produces and consumes that stream is left to the host, the same way
// pkg/scheduler leaves the concrete timer/actor framework external to this
// package. gzipCompressor below is the stdlib-backed default.
type Compressor interface {
	Compress(body []byte) ([]byte, error)
	Decompress(body []byte) ([]byte, error)
}

// DefaultCompressor is the gzip-backed Compressor used wherever no
// connection-specific one is configured, including MessageBuilder's
// CompressIfWorthwhile, which is built independently of any Connection.
var DefaultCompressor Compressor = gzipCompressor{}

type gzipCompressor struct{}

func (gzipCompressor) Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(body []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(gz)
}
