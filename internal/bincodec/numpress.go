package bincodec

import (
	"encoding/binary"
	"errors"
	"math"
)

// MS-Numpress encoders and decoders, byte compatible with the reference
// implementation.
//
// Precision of a decode(encode(x)) round trip:
//   - linear: |x' - x| <= 0.5/fp, fp = OptimalLinearFixedPoint(x)
//   - slof:   |log(x'+1) - log(x+1)| <= 0.5/fp, i.e. a relative error
//     on x+1 of at most exp(0.5/fp)-1
//   - pic:    x' is x rounded to the nearest integer

var (
	errNumpressCorrupt  = errors.New("numpress: corrupt input data")
	errNumpressOverflow = errors.New("numpress: value out of range")
)

// OptimalLinearFixedPoint returns the largest fixed point that keeps all
// linear prediction residuals within 32 bits.
func OptimalLinearFixedPoint(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	maxDouble := math.Max(1, math.Abs(data[0]))
	if len(data) > 1 {
		maxDouble = math.Max(maxDouble, math.Abs(data[1]))
	}
	for i := 2; i < len(data); i++ {
		extrapol := data[i-1] + (data[i-1] - data[i-2])
		diff := data[i] - extrapol
		maxDouble = math.Max(maxDouble, math.Ceil(math.Abs(diff)+1))
	}
	return math.Floor(0x7FFFFFFF / maxDouble)
}

// OptimalSlofFixedPoint returns the largest fixed point for which
// log(x+1)*fp fits in 16 bits.
func OptimalSlofFixedPoint(data []float64) float64 {
	maxDouble := 1.0
	for _, x := range data {
		maxDouble = math.Max(maxDouble, math.Log(x+1))
	}
	return math.Floor(0xFFFF / maxDouble)
}

func encodeFixedPoint(dst []byte, fp float64) {
	binary.BigEndian.PutUint64(dst, math.Float64bits(fp))
}

func decodeFixedPoint(src []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(src))
}

// halfBytes collects 4-bit values and packs them high nibble first
type halfBytes struct {
	out     []byte
	pending bool
}

func (h *halfBytes) put(nib byte) {
	if h.pending {
		h.out[len(h.out)-1] |= nib & 0xf
	} else {
		h.out = append(h.out, nib<<4)
	}
	h.pending = !h.pending
}

// encodeInt writes x as a count nibble followed by the significant
// nibbles of x, least significant first. Counts 0..8 give the number of
// leading zero nibbles, 9..15 the number of leading 0xf nibbles plus 8.
func (h *halfBytes) encodeInt(x uint32) {
	const mask = 0xf0000000
	var l uint
	switch x & mask {
	case 0:
		l = 8
		for i := uint(0); i < 8; i++ {
			if x&(mask>>(4*i)) != 0 {
				l = i
				break
			}
		}
		h.put(byte(l))
	case mask:
		l = 7
		for i := uint(0); i < 8; i++ {
			m := uint32(mask) >> (4 * i)
			if x&m != m {
				l = i
				break
			}
		}
		h.put(byte(l + 8))
	default:
		l = 0
		h.put(0)
	}
	for i := l; i < 8; i++ {
		h.put(byte(x >> (4 * (i - l))))
	}
}

// nibbleReader reads the half bytes written by halfBytes
type nibbleReader struct {
	data []byte
	pos  int
	half bool
}

func (r *nibbleReader) next() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errNumpressCorrupt
	}
	var nib byte
	if !r.half {
		nib = r.data[r.pos] >> 4
	} else {
		nib = r.data[r.pos] & 0xf
		r.pos++
	}
	r.half = !r.half
	return nib, nil
}

// atPadding reports whether only the zero padding nibble of the final
// byte is left.
func (r *nibbleReader) atPadding() bool {
	return r.pos == len(r.data)-1 && r.half && r.data[r.pos]&0xf == 0
}

func (r *nibbleReader) done() bool {
	return r.pos >= len(r.data) || r.atPadding()
}

func (r *nibbleReader) decodeInt() (uint32, error) {
	head, err := r.next()
	if err != nil {
		return 0, err
	}
	var res uint32
	n := uint(head)
	if head > 8 {
		n = uint(head) - 8
		for i := uint(0); i < n; i++ {
			res |= uint32(0xf0000000) >> (4 * i)
		}
	}
	if n > 8 {
		return 0, errNumpressCorrupt
	}
	for i := n; i < 8; i++ {
		hb, err := r.next()
		if err != nil {
			return 0, err
		}
		res |= uint32(hb) << ((i - n) * 4)
	}
	return res, nil
}

func fixedInt(x, fp float64, lower, upper float64) (int64, error) {
	v := math.Floor(x*fp + 0.5)
	if math.IsNaN(v) || v > upper || v < lower {
		return 0, errNumpressOverflow
	}
	return int64(v), nil
}

// EncodeLinear applies linear prediction to data. The first two values
// are stored as unsigned 32-bit fixed point integers, so they must not be
// negative; the rest are stored as the residual of a linear extrapolation
// from the two previous values.
func EncodeLinear(data []float64, fp float64) ([]byte, error) {
	out := make([]byte, 8, 16+len(data)*5/2)
	encodeFixedPoint(out, fp)
	if len(data) == 0 {
		return out, nil
	}
	var ints [3]int64
	var err error
	if ints[1], err = fixedInt(data[0], fp, 0, math.MaxUint32); err != nil {
		return nil, err
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(ints[1]))
	if len(data) == 1 {
		return out, nil
	}
	if ints[2], err = fixedInt(data[1], fp, 0, math.MaxUint32); err != nil {
		return nil, err
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(ints[2]))

	h := halfBytes{out: out}
	for i := 2; i < len(data); i++ {
		ints[0] = ints[1]
		ints[1] = ints[2]
		if ints[2], err = fixedInt(data[i], fp, -(1 << 62), 1<<62); err != nil {
			return nil, err
		}
		extrapol := ints[1] + (ints[1] - ints[0])
		diff := ints[2] - extrapol
		if diff > math.MaxInt32 || diff < math.MinInt32 {
			return nil, errNumpressOverflow
		}
		h.encodeInt(uint32(int32(diff)))
	}
	return h.out, nil
}

// DecodeLinear reverses EncodeLinear
func DecodeLinear(data []byte) ([]float64, error) {
	if len(data) == 8 {
		return []float64{}, nil
	}
	if len(data) < 12 {
		return nil, errNumpressCorrupt
	}
	fp := decodeFixedPoint(data)
	if fp == 0 || math.IsNaN(fp) || math.IsInf(fp, 0) {
		return nil, errNumpressCorrupt
	}
	var ints [3]int64
	ints[1] = int64(binary.LittleEndian.Uint32(data[8:]))
	result := []float64{float64(ints[1]) / fp}
	if len(data) == 12 {
		return result, nil
	}
	if len(data) < 16 {
		return nil, errNumpressCorrupt
	}
	ints[2] = int64(binary.LittleEndian.Uint32(data[12:]))
	result = append(result, float64(ints[2])/fp)

	r := nibbleReader{data: data, pos: 16}
	for !r.done() {
		ints[0] = ints[1]
		ints[1] = ints[2]
		buff, err := r.decodeInt()
		if err != nil {
			return nil, err
		}
		extrapol := ints[1] + (ints[1] - ints[0])
		y := extrapol + int64(int32(buff))
		result = append(result, float64(y)/fp)
		ints[2] = y
	}
	return result, nil
}

// EncodeSlof stores log(x+1) as 16-bit fixed point values
func EncodeSlof(data []float64, fp float64) ([]byte, error) {
	out := make([]byte, 8, 8+2*len(data))
	encodeFixedPoint(out, fp)
	for _, x := range data {
		v := math.Log(x+1)*fp + 0.5
		if math.IsNaN(v) || v < 0 || v > math.MaxUint16+0.5 {
			return nil, errNumpressOverflow
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(v))
	}
	return out, nil
}

// DecodeSlof reverses EncodeSlof
func DecodeSlof(data []byte) ([]float64, error) {
	if len(data) < 8 || len(data)%2 != 0 {
		return nil, errNumpressCorrupt
	}
	fp := decodeFixedPoint(data)
	if fp == 0 || math.IsNaN(fp) {
		return nil, errNumpressCorrupt
	}
	result := make([]float64, 0, (len(data)-8)/2)
	for i := 8; i < len(data); i += 2 {
		x := binary.LittleEndian.Uint16(data[i:])
		result = append(result, math.Exp(float64(x)/fp)-1)
	}
	return result, nil
}

// EncodePic rounds non-negative values to integers and stores them with
// the variable length integer encoding of EncodeLinear.
func EncodePic(data []float64) ([]byte, error) {
	h := halfBytes{out: make([]byte, 0, len(data)*5/2)}
	for _, x := range data {
		v := math.Floor(x + 0.5)
		if math.IsNaN(v) || v < 0 || v > math.MaxUint32 {
			return nil, errNumpressOverflow
		}
		h.encodeInt(uint32(v))
	}
	return h.out, nil
}

// DecodePic reverses EncodePic
func DecodePic(data []byte) ([]float64, error) {
	result := make([]float64, 0, len(data))
	r := nibbleReader{data: data}
	for !r.done() {
		count, err := r.decodeInt()
		if err != nil {
			return nil, err
		}
		result = append(result, float64(count))
	}
	return result, nil
}
