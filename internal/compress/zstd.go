package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor provides Zstandard compression. It gives the best ratio
// of the B000 codecs and is the default for archived caches.
type ZstdCompressor struct {
	level zstd.EncoderLevel
}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a zstd codec. level follows the zstd command
// line levels (1..22); 0 selects the default.
func NewZstdCompressor(level int) ZstdCompressor {
	if level <= 0 {
		return ZstdCompressor{level: zstd.SpeedDefault}
	}
	return ZstdCompressor{level: zstd.EncoderLevelFromZstd(level)}
}

// zstdDecoderPool pools decoders; a klauspost decoder runs without
// allocations after warmup.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

// zstdEncoderPools holds one encoder pool per level
var zstdEncoderPools sync.Map // zstd.EncoderLevel -> *sync.Pool

func encoderPool(level zstd.EncoderLevel) *sync.Pool {
	if p, ok := zstdEncoderPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p, _ := zstdEncoderPools.LoadOrStore(level, &sync.Pool{
		New: func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderCRC(false),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
			}
			return encoder
		},
	})
	return p.(*sync.Pool)
}

// Compress compresses data with a pooled encoder
func (c ZstdCompressor) Compress(data []byte) ([]byte, error) {
	pool := encoderPool(c.level)
	encoder := pool.Get().(*zstd.Encoder)
	defer pool.Put(encoder)

	// EncodeAll is stateless, safe to use with a pooled encoder
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses data with a pooled decoder
func (c ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return decompressed, nil
}
