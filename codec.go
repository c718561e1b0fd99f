package contentdrop

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrCorruptPayload is returned when a stored body cannot be gunzipped.
// Callers use it to distinguish a corrupt record from an I/O failure.
var ErrCorruptPayload = errors.New("corrupt gzip payload")

// Compress gzips buf. The writer targets an in-memory buffer, so a
// failure here is a programming error and panics.
func Compress(buf []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(buf))
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(buf); err != nil {
		panic(fmt.Sprintf("contentdrop: gzip write: %v", err))
	}
	if err := gz.Close(); err != nil {
		panic(fmt.Sprintf("contentdrop: gzip close: %v", err))
	}
	return out.Bytes()
}

// Decompress gunzips buf. All failures wrap ErrCorruptPayload.
func Decompress(buf []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return out, nil
}
