// Package bincodec converts the text of an mzML <binary> element to
// numbers and back: base64, optional zlib, then either MS-Numpress or
// raw little endian values.
package bincodec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/spectra"
)

var zlibCodec = compress.NewZlibCompressor(0)

// Decode decodes base64 text into values. declared is the number of
// values the array claims to hold, or -1 when unknown.
func Decode(text []byte, typ spectra.NumericType, enc spectra.Encoding, declared int) ([]float64, error) {
	// the slack keeps the buffer from filling up before the decoder reports EOF
	data := make([]byte, base64.StdEncoding.DecodedLen(len(text))+3)
	b64 := base64.NewDecoder(base64.StdEncoding, &spaceSkipper{text: text})
	n := 0
	for n < len(data) {
		m, err := b64.Read(data[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", spectra.ErrInvalidEncoding, err)
		}
	}
	data = data[:n]
	var err error

	if enc.Zlib && len(data) > 0 {
		data, err = zlibCodec.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", spectra.ErrDecompression, err)
		}
	}

	var values []float64
	switch enc.Numpress {
	case spectra.NumpressNone:
		values, err = Values(data, typ)
	case spectra.NumpressLinear:
		values, err = DecodeLinear(data)
	case spectra.NumpressSlof:
		values, err = DecodeSlof(data)
	case spectra.NumpressPic:
		values, err = DecodePic(data)
	default:
		return nil, fmt.Errorf("%w: numpress scheme %d", spectra.ErrUnsupportedCompression, enc.Numpress)
	}
	if err != nil {
		if enc.Numpress != spectra.NumpressNone && len(data) == 0 {
			// Some writers emit an empty payload for empty numpress arrays
			return []float64{}, nil
		}
		return nil, fmt.Errorf("%w: %v", spectra.ErrInvalidEncoding, err)
	}
	if declared >= 0 && len(values) != declared {
		kind := spectra.ErrInvalidEncoding
		if enc.Zlib {
			kind = spectra.ErrDecompression
		}
		return nil, fmt.Errorf("%w: array holds %d values, %d declared", kind, len(values), declared)
	}
	return values, nil
}

// Encode is the inverse of Decode. Only spectra.NumpressNone reproduces
// values exactly; the numpress schemes lose precision within the bounds
// documented for them.
func Encode(values []float64, typ spectra.NumericType, enc spectra.Encoding) ([]byte, error) {
	var data []byte
	var err error
	switch enc.Numpress {
	case spectra.NumpressNone:
		data = AppendRaw(make([]byte, 0, len(values)*typ.Size()), values, typ)
	case spectra.NumpressLinear:
		data, err = EncodeLinear(values, OptimalLinearFixedPoint(values))
	case spectra.NumpressSlof:
		data, err = EncodeSlof(values, OptimalSlofFixedPoint(values))
	case spectra.NumpressPic:
		data, err = EncodePic(values)
	default:
		return nil, fmt.Errorf("%w: numpress scheme %d", spectra.ErrUnsupportedCompression, enc.Numpress)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", spectra.ErrInvalidEncoding, err)
	}
	if enc.Zlib {
		if data, err = zlibCodec.Compress(data); err != nil {
			return nil, err
		}
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out, nil
}

// Values converts little endian raw bytes to values
func Values(data []byte, typ spectra.NumericType) ([]float64, error) {
	size := typ.Size()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %s", len(data), typ)
	}
	cnt := len(data) / size
	values := make([]float64, cnt)
	switch typ {
	case spectra.Float64:
		for i := 0; i < cnt; i++ {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
	case spectra.Float32:
		for i := 0; i < cnt; i++ {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case spectra.Int32:
		for i := 0; i < cnt; i++ {
			values[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		}
	case spectra.Int64:
		for i := 0; i < cnt; i++ {
			values[i] = float64(int64(binary.LittleEndian.Uint64(data[i*8:])))
		}
	default:
		return nil, fmt.Errorf("unknown numeric type %d", typ)
	}
	return values, nil
}

// AppendRaw appends values to dst as little endian typ
func AppendRaw(dst []byte, values []float64, typ spectra.NumericType) []byte {
	switch typ {
	case spectra.Float32:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)))
		}
	case spectra.Int32:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(v)))
		}
	case spectra.Int64:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(int64(v)))
		}
	default:
		for _, v := range values {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		}
	}
	return dst
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

// spaceSkipper reads text without the white space that pretty printers
// insert into <binary> elements
type spaceSkipper struct {
	text []byte
}

func (s *spaceSkipper) Read(p []byte) (int, error) {
	if len(s.text) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && len(s.text) > 0 {
		i := 0
		for i < len(s.text) && i < len(p)-n && !isSpace(s.text[i]) {
			i++
		}
		n += copy(p[n:], s.text[:i])
		s.text = s.text[i:]
		for len(s.text) > 0 && isSpace(s.text[0]) {
			s.text = s.text[1:]
		}
	}
	return n, nil
}
