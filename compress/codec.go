package compress

import (
	"fmt"

	"github.com/arloliu/byteseries/format"
)

// Compressor provides compression for the opaque user header stored in a
// byteseries file's preamble.
//
// The header is a single blob written once at create time, so these codecs
// trade per-call setup cost for ratio rather than chasing per-line throughput.
type Compressor interface {
	// Compress compresses the input data and returns the compressed result.
	//
	// Memory management:
	//   - Returned slice is newly allocated and owned by the caller
	//   - Input slice is not modified
	//   - Internal buffers may be reused for efficiency
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses a Compressor: given the bytes a matching Compressor
// produced, it returns the original header blob unchanged.
//
// The decompressor validates the data format it's given and returns an
// error if the input is corrupted or was compressed with an incompatible
// algorithm; it must not be called with anything other than the exact
// output of the matching Compressor.
//
// Example:
//
//	decompressor := NewZstdCompressor()
//	header, err := decompressor.Decompress(storedBytes)
//	if err != nil {
//	    return fmt.Errorf("header decompression failed: %w", err)
//	}
type Decompressor interface {
	// Decompress returns the original bytes for data previously produced by
	// a Compressor of the same algorithm.
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
//
// The four built-in codecs (None, Zstd, S2, LZ4) each implement Codec, so
// CreateCodec and GetCodec can return a single value capable of handling
// both directions of a header's round trip.
type Codec interface {
	Compressor
	Decompressor
}

// CompressionStats reports the outcome of compressing one header blob: its
// algorithm, sizes before and after, and how long each direction took.
type CompressionStats struct {
	// Algorithm identifies the compression algorithm used
	Algorithm format.CompressionType

	// OriginalSize is the size of input data before compression
	OriginalSize int64

	// CompressedSize is the size of data after compression
	CompressedSize int64

	// Ratio is the ratio of compressed size to original size (< 1.0 for compression)
	Ratio float64

	// CompressionTimeNs is the time taken to compress the data, in nanoseconds
	CompressionTimeNs int64

	// DecompressionTimeNs is the time, in nanoseconds, taken to decompress the data (if applicable)
	DecompressionTimeNs int64
}

// CompressionRatio returns compressed size / original size. Values below
// 1.0 mean the header shrank; 1.0 means no benefit; above 1.0 means the
// compressed form grew (possible for small or already-dense headers).
func (s CompressionStats) CompressionRatio() float64 {
	if s.OriginalSize == 0 {
		return 0.0
	}

	return float64(s.CompressedSize) / float64(s.OriginalSize)
}

// SpaceSavings returns the space saved as a percentage (0-100 for a header
// that shrank; negative if compression made it larger).
func (s CompressionStats) SpaceSavings() float64 {
	return (1.0 - s.CompressionRatio()) * 100.0
}

// CreateCodec builds a new Codec instance for compressionType, to be used
// when compressing or decompressing a header blob. target names the caller
// for error messages (e.g. "header compression").
func CreateCodec(compressionType format.CompressionType, target string) (Codec, error) {
	switch compressionType {
	case format.CompressionNone:
		return NewNoOpCompressor(), nil
	case format.CompressionZstd:
		return NewZstdCompressor(), nil
	case format.CompressionS2:
		return NewS2Compressor(), nil
	case format.CompressionLZ4:
		return NewLZ4Compressor(), nil
	default:
		return nil, fmt.Errorf("invalid %s compression: %s", target, compressionType)
	}
}

var builtinCodecs = map[format.CompressionType]Codec{
	format.CompressionNone: NewNoOpCompressor(),
	format.CompressionZstd: NewZstdCompressor(),
	format.CompressionS2:   NewS2Compressor(),
	format.CompressionLZ4:  NewLZ4Compressor(),
}

// GetCodec returns the shared built-in Codec for compressionType, reused
// across callers rather than constructed fresh each time.
func GetCodec(compressionType format.CompressionType) (Codec, error) {
	if codec, ok := builtinCodecs[compressionType]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
}
