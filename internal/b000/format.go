// Package b000 implements B000, a compact binary container for spectra
// and chromatograms. A B000 file holds the same information as an mzML
// file, but arrays are stored as raw little endian numbers, optionally
// compressed per array, and every record can be read on its own.
//
// Wire format (version 1, all integers little endian):
//
//	header (64 bytes)
//	  magic          [4]byte "B000"
//	  version        uint16
//	  flags          uint16   codec, shuffle and float32 options used
//	  recordCount    uint32
//	  spectrumCount  uint32
//	  metaOffset     uint64
//	  recordsOffset  uint64
//	  indexOffset    uint64
//	  indexLength    uint64
//	  reserved       [16]byte
//	metadata frame
//	record frames, one per spectrum or chromatogram
//	index frame
//
// A frame is a uint32 body length, the body, and the xxhash64 of the body
// as uint64. Strings are a uvarint length followed by the bytes.
//
// Record body:
//
//	kind uint8, flags uint8, index uint32, defaultArrayLength uint32, id string
//	arrayCount uint16
//	arrayCount array headers (16 bytes each)
//	  kind uint8, type uint8, stored type uint8, codec uint8, hints uint8,
//	  reserved [3]byte, element count uint32, payload length uint32
//	payloads
//	record params, then the params of each array
//
// Params are a uvarint count followed by, per param: scope uint8, kind
// uint8, group uint16, sub uint16, cvRef, accession and name strings, a
// typed value, then type, unitCvRef, unitAccession and unitName strings.
// Values are tagged: 0 empty, 1 zigzag varint, 2 float64 bits, 3 string.
//
// Index body: uvarint count, then per record kind uint8, id string,
// offset uint64 and frame length uint32.
//
// Readers reject other magics and versions. A damaged index is rebuilt by
// walking the record frames from recordsOffset.
package b000

import (
	"errors"

	"github.com/524D/mzbin/internal/compress"
)

const (
	magic      = "B000"
	version    = uint16(1)
	headerSize = 64

	arrayHeaderSize = 16
	frameOverhead   = 4 + 8

	// upper bounds when reading, a corrupt length must not allocate
	// gigabytes
	maxFrameBody  = 1 << 30
	maxArrayCount = 1 << 12
	maxParams     = 1 << 20
)

// Array hint bits
const (
	hintZlib     = 1 << 0
	hintNumpress = 3 << 1 // two bits
	hintShuffle  = 1 << 3
)

// Value tags
const (
	valueEmpty uint8 = iota
	valueInt
	valueFloat
	valueString
)

// Header flag bits
const (
	flagCodecMask = 0x0f
	flagShuffle   = 1 << 4
	flagFloat32   = 1 << 5
)

var errBodyShort = errors.New("record body ends early")

// Options control how records are stored
type Options struct {
	// Codec compresses each array payload. Payloads that do not shrink
	// are stored uncompressed.
	Codec compress.Type
	// Level is the compression level for zlib and zstd, 0 for default
	Level int
	// Shuffle transposes the bytes of the values before compression,
	// which usually helps for floating point data.
	Shuffle bool
	// Float32 stores 64-bit float arrays with 32-bit precision
	Float32 bool
}

func (o Options) flags() uint16 {
	f := uint16(o.Codec) & flagCodecMask
	if o.Shuffle {
		f |= flagShuffle
	}
	if o.Float32 {
		f |= flagFloat32
	}
	return f
}

// OptionsFromFlags returns the options recorded in the header flags
func OptionsFromFlags(f uint16) Options {
	return Options{
		Codec:   compress.Type(f & flagCodecMask),
		Shuffle: f&flagShuffle != 0,
		Float32: f&flagFloat32 != 0,
	}
}
