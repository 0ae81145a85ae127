package b000

import (
	"errors"
	"fmt"
	"math"

	"github.com/524D/mzbin/internal/bincodec"
	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/spectra"
)

// storedType returns the type the values of arr are written with. Arrays
// whose values do not fit their declared type exactly are widened to
// float64, so decoding gives back the same values.
func storedType(arr *spectra.BinaryArray, opts *Options) spectra.NumericType {
	switch arr.Type {
	case spectra.Float64:
		if opts.Float32 {
			return spectra.Float32
		}
		return spectra.Float64
	case spectra.Float32:
		for _, v := range arr.Values {
			if float64(float32(v)) != v && !math.IsNaN(v) {
				return spectra.Float64
			}
		}
	case spectra.Int32, spectra.Int64:
		lo, hi := float64(math.MinInt32), float64(math.MaxInt32)
		if arr.Type == spectra.Int64 {
			lo, hi = -(1 << 53), 1<<53
		}
		for _, v := range arr.Values {
			if v != math.Trunc(v) || v < lo || v > hi {
				return spectra.Float64
			}
		}
	}
	return arr.Type
}

// shuffle groups byte i of every value together
func shuffle(data []byte, size int) []byte {
	n := len(data) / size
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			out[j*n+i] = data[i*size+j]
		}
	}
	return out
}

func unshuffle(data []byte, size int) []byte {
	n := len(data) / size
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < size; j++ {
			out[i*size+j] = data[j*n+i]
		}
	}
	return out
}

// encodeRecord returns the body of the frame of rec
func encodeRecord(rec *spectra.Record, opts *Options, codec compress.Compressor) ([]byte, error) {
	if len(rec.Arrays) > maxArrayCount {
		return nil, fmt.Errorf("%s %q: %d arrays", rec.Kind, rec.ID, len(rec.Arrays))
	}
	if rec.Index < 0 || int64(rec.Index) > math.MaxUint32 || rec.DefaultArrayLength < 0 || int64(rec.DefaultArrayLength) > math.MaxUint32 {
		return nil, fmt.Errorf("%s %q: index or array length out of range", rec.Kind, rec.ID)
	}
	w := &wbuf{b: make([]byte, 0, 256)}
	w.u8(uint8(rec.Kind))
	w.u8(0)
	w.u32(uint32(rec.Index))
	w.u32(uint32(rec.DefaultArrayLength))
	w.str(rec.ID)
	w.u16(uint16(len(rec.Arrays)))

	payloads := make([][]byte, len(rec.Arrays))
	for i := range rec.Arrays {
		arr := &rec.Arrays[i]
		st := storedType(arr, opts)
		raw := bincodec.AppendRaw(make([]byte, 0, len(arr.Values)*st.Size()), arr.Values, st)
		hints := uint8(arr.Encoding.Numpress&3) << 1
		if arr.Encoding.Zlib {
			hints |= hintZlib
		}
		if opts.Shuffle && st.Size() > 1 {
			raw = shuffle(raw, st.Size())
			hints |= hintShuffle
		}
		c := opts.Codec
		payload := raw
		if c != compress.None && len(raw) > 0 {
			compressed, err := codec.Compress(raw)
			switch {
			case errors.Is(err, compress.ErrIncompressible):
				c = compress.None
			case err != nil:
				return nil, fmt.Errorf("%s %q %s array: %w", rec.Kind, rec.ID, arr.Kind, err)
			case len(compressed) >= len(raw):
				c = compress.None
			default:
				payload = compressed
			}
		} else {
			c = compress.None
		}
		if int64(len(arr.Values)) > math.MaxUint32 || len(payload) > maxFrameBody {
			return nil, fmt.Errorf("%s %q %s array too large", rec.Kind, rec.ID, arr.Kind)
		}
		payloads[i] = payload

		w.u8(uint8(arr.Kind))
		w.u8(uint8(arr.Type))
		w.u8(uint8(st))
		w.u8(uint8(c))
		w.u8(hints)
		w.u8(0)
		w.u16(0)
		w.u32(uint32(len(arr.Values)))
		w.u32(uint32(len(payload)))
	}
	for _, p := range payloads {
		w.b = append(w.b, p...)
	}
	putParams(w, rec.Params)
	for i := range rec.Arrays {
		putParams(w, rec.Arrays[i].Params)
	}
	return w.b, nil
}

type arrayHeader struct {
	kind, typ, stored, codec, hints uint8
	count, length                   uint32
}

// decodeRecord parses a frame body. offset is used in errors.
func decodeRecord(body []byte, offset int64) (*spectra.Record, error) {
	r := &rbuf{b: body}
	rec := &spectra.Record{
		Kind: spectra.RecordKind(r.u8()),
	}
	r.u8()
	rec.Index = int(r.u32())
	rec.DefaultArrayLength = int(r.u32())
	rec.ID = r.str()
	n := int(r.u16())
	if r.err == nil && (n > maxArrayCount || rec.Kind > spectra.ChromatogramRecord) {
		return nil, spectra.Errorf(spectra.ErrFormatMismatch, offset, "record", "record kind %d with %d arrays", rec.Kind, n)
	}
	headers := make([]arrayHeader, n)
	for i := range headers {
		h := &headers[i]
		h.kind, h.typ, h.stored, h.codec, h.hints = r.u8(), r.u8(), r.u8(), r.u8(), r.u8()
		r.take(3)
		h.count, h.length = r.u32(), r.u32()
	}
	if r.err != nil {
		return nil, spectra.Errorf(spectra.ErrTruncatedRecord, offset, rec.ID, "%v", r.err)
	}
	if n > 0 {
		rec.Arrays = make([]spectra.BinaryArray, n)
	}
	for i, h := range headers {
		payload := r.take(int(h.length))
		if r.err != nil {
			return nil, spectra.Errorf(spectra.ErrTruncatedRecord, offset, rec.ID,
				"payload of array %d (%d bytes) past end of record", i, h.length)
		}
		arr, err := decodeArray(&h, payload)
		if err != nil {
			return nil, &spectra.ParseError{Err: spectra.ErrDecompression, Offset: offset, Element: rec.ID, Cause: err}
		}
		rec.Arrays[i] = arr
	}
	rec.Params = getParams(r)
	for i := range rec.Arrays {
		rec.Arrays[i].Params = getParams(r)
	}
	if r.err != nil {
		return nil, spectra.Errorf(spectra.ErrTruncatedRecord, offset, rec.ID, "%v", r.err)
	}
	return rec, nil
}

func decodeArray(h *arrayHeader, payload []byte) (spectra.BinaryArray, error) {
	arr := spectra.BinaryArray{
		Kind: spectra.ArrayKind(h.kind),
		Type: spectra.NumericType(h.typ),
		Encoding: spectra.Encoding{
			Numpress: spectra.Numpress(h.hints&hintNumpress) >> 1,
			Zlib:     h.hints&hintZlib != 0,
		},
	}
	st := spectra.NumericType(h.stored)
	if st > spectra.Int64 || arr.Type > spectra.Int64 {
		return arr, fmt.Errorf("unknown numeric type %d/%d", h.typ, h.stored)
	}
	codec, err := compress.GetCodec(compress.Type(h.codec))
	if err != nil {
		return arr, err
	}
	raw, err := codec.Decompress(payload)
	if err != nil {
		return arr, err
	}
	if uint64(len(raw)) != uint64(h.count)*uint64(st.Size()) {
		return arr, fmt.Errorf("%d bytes for %d values of %s", len(raw), h.count, st)
	}
	if h.hints&hintShuffle != 0 {
		raw = unshuffle(raw, st.Size())
	}
	arr.Values, err = bincodec.Values(raw, st)
	return arr, err
}
