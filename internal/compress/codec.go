// Package compress provides the byte-level codecs used for binary array
// payloads: zlib inside mzML, and zlib, zstd, s2 or lz4 inside B000.
package compress

import (
	"errors"
	"fmt"
	"strings"
)

// Type identifies a payload codec. The numeric values are stored in B000
// files and must not change.
type Type uint8

const (
	None Type = iota
	Zlib
	Zstd
	S2
	LZ4
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType converts a codec name into a Type
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return None, nil
	case "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	case "lz4":
		return LZ4, nil
	}
	return None, fmt.Errorf("unknown compression %q", s)
}

// ErrIncompressible is returned by codecs that cannot represent data
// that does not shrink; callers store such data uncompressed.
var ErrIncompressible = errors.New("compress: data is incompressible")

// Compressor compresses a complete payload.
//
// The returned slice is newly allocated and owned by the caller, the
// input is not modified.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses Compressor. Implementations are safe for
// concurrent use.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions
type Codec interface {
	Compressor
	Decompressor
}

// CreateCodec returns a codec for t. level is only used by zstd and zlib,
// 0 selects the default level.
func CreateCodec(t Type, level int) (Codec, error) {
	switch t {
	case None:
		return NewNoOpCompressor(), nil
	case Zlib:
		return NewZlibCompressor(level), nil
	case Zstd:
		return NewZstdCompressor(level), nil
	case S2:
		return NewS2Compressor(), nil
	case LZ4:
		return NewLZ4Compressor(), nil
	default:
		return nil, fmt.Errorf("invalid compression: %s", t)
	}
}

var builtinCodecs = map[Type]Codec{
	None: NewNoOpCompressor(),
	Zlib: NewZlibCompressor(0),
	Zstd: NewZstdCompressor(0),
	S2:   NewS2Compressor(),
	LZ4:  NewLZ4Compressor(),
}

// GetCodec returns the built-in codec with default settings for t
func GetCodec(t Type) (Codec, error) {
	if codec, ok := builtinCodecs[t]; ok {
		return codec, nil
	}
	return nil, fmt.Errorf("unsupported compression type: %s", t)
}
