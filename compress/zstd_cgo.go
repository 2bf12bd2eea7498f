//go:build nobuild

package compress

import (
	"github.com/valyala/gozstd"
)

// Compress compresses the header blob using cgo-backed Zstandard.
func (c ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return gozstd.CompressLevel(nil, data, 3), nil
}

// Decompress restores a header blob compressed by Compress.
func (c ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return gozstd.Decompress(nil, data)
}
