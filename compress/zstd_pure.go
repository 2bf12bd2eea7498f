package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdDecoderPool holds warmed-up decoders. klauspost/compress/zstd documents
// that a decoder allocates nothing once warm, so a header Open benefits from
// reusing one across calls instead of constructing a fresh decoder each time.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("zstd: failed to construct pooled decoder: %v", err))
		}
		return decoder
	},
}

// zstdEncoderPool mirrors zstdDecoderPool for the compression side.
var zstdEncoderPool = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderCRC(false),
		)
		if err != nil {
			panic(fmt.Sprintf("zstd: failed to construct pooled encoder: %v", err))
		}
		return encoder
	},
}

// Compress compresses the header blob with a pooled Zstd encoder.
func (c ZstdCompressor) Compress(data []byte) ([]byte, error) {
	encoder := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(encoder)

	// EncodeAll is stateless, so the pooled encoder can be shared safely.
	compressed := encoder.EncodeAll(data, nil)

	return compressed, nil
}

// Decompress restores a header blob previously compressed with Zstd, using
// a pooled decoder. Returns an error if data is corrupt or not Zstd output.
func (c ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	// DecodeAll is stateless; the decoder stays reusable even on error.
	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}

	return decompressed, nil
}
