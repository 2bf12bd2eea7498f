// Package compress provides the codecs used to compress the optional user
// header blob stored in a byteseries file's preamble.
//
// A header is supplied once, at Create time, and compressed exactly once
// before being written after the preamble text; it is decompressed exactly
// once, at Open, and handed back to the caller as the original bytes. This
// is a one-shot, whole-blob operation, not a per-line or per-value hot path:
// there is no streaming interface and no partial decompression. Payload
// lines, the preamble text itself, and the index sidecar are never touched
// by this package.
//
// # Selecting a codec
//
//	s, err := series.Create(basePath,
//	    series.WithPayloadSize(8),
//	    series.WithHeader(headerBytes),
//	    series.WithHeaderCompression(format.CompressionZstd),
//	)
//
// The chosen format.CompressionType is recorded by name on the preamble's
// "Header compression:" text line, so Open reads back the same codec automatically; there is no
// equivalent WithHeaderCompression effect at Open time.
//
// # Codecs
//
//   - None (format.CompressionNone): stores the header unchanged. Use when
//     the header is already small or incompressible.
//   - Zstd (format.CompressionZstd): best ratio, via klauspost/compress/zstd.
//     Suited to larger, repetitive headers such as embedded schemas or JSON
//     metadata blobs.
//   - S2 (format.CompressionS2): klauspost/compress/s2, a fast
//     Snappy-compatible codec; a reasonable middle ground when header size
//     is moderate and Create/Open latency matters more than ratio.
//   - LZ4 (format.CompressionLZ4): pierrec/lz4/v4, fast to decompress, useful
//     when headers are opened far more often than they are created.
//
// A representative case is a 4 KiB header built from a handful of repeated
// field-name patterns (e.g. a serialized schema): Zstd and S2 both compress
// it to a small fraction of its original size, and a full Create-then-Open
// round trip reproduces the original bytes exactly.
//
// # Architecture
//
// Three interfaces tie the codecs together:
//
//	type Compressor interface {
//	    Compress(data []byte) ([]byte, error)
//	}
//
//	type Decompressor interface {
//	    Decompress(data []byte) ([]byte, error)
//	}
//
//	type Codec interface {
//	    Compressor
//	    Decompressor
//	}
//
// CreateCodec(compressionType, target) builds a new Codec instance for that
// type, using target only to name the caller in its error message; GetCodec
// returns the shared built-in Codec for the type instead of constructing one.
//
// # Concurrency
//
// Codec implementations are safe for concurrent use. The pooled Zstd and
// LZ4 codecs reuse their underlying encoder/decoder state via sync.Pool
// rather than allocating fresh state per call.
package compress
