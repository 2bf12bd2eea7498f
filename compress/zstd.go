package compress

// ZstdCompressor compresses the user header with klauspost/compress/zstd,
// trading more CPU at Create/Open time for the best ratio of the four
// codecs. Best suited to larger, repetitive headers (embedded schemas,
// JSON metadata) that are created once and opened many times.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a Zstd header codec with default settings.
//
//	compressor := NewZstdCompressor()
//	compressed, err := compressor.Compress(header)
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
