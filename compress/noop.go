package compress

// NoOpCompressor stores the user header unchanged, for headers that are
// already small or incompressible, or when CPU at Create/Open time matters
// more than the few bytes a compressed header would save.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor creates a codec that passes header bytes through as-is.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns data unchanged.
//
// The returned slice shares the same underlying memory as data; callers
// should not modify data afterward if they still hold the returned slice.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data unchanged.
//
// The returned slice shares the same underlying memory as data; callers
// should not modify data afterward if they still hold the returned slice.
func (c NoOpCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}
