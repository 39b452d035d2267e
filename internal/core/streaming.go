package core

// streaming.go provides the reader chain used to stream a deposited file:
//
//	file -> CountingReader (raw bytes, for progress) -> decoder (UTF-8 text)
//
// The decoder is chosen from the FormatProfile encoding. UTF-8 input has a
// leading BOM removed and invalid sequences replaced with U+FFFD; Latin-1
// input is transcoded byte for byte.

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader tracks how many bytes have been read from the source.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// decoderFor returns the x/text decoder that yields UTF-8 for enc.
func decoderFor(enc Encoding) *encoding.Decoder {
	if enc == EncodingLatin1 {
		return charmap.ISO8859_1.NewDecoder()
	}
	return unicode.UTF8BOM.NewDecoder()
}

// DecodeReader converts r from enc to UTF-8 on the fly.
func DecodeReader(r io.Reader, enc Encoding) io.Reader {
	return transform.NewReader(r, decoderFor(enc))
}

// WrapForStreaming counts raw bytes and decodes them according to enc.
// The counter is returned separately for byte progress.
func WrapForStreaming(r io.Reader, enc Encoding) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	return DecodeReader(counter, enc), counter
}
