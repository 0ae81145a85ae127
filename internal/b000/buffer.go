package b000

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/spectra"
)

// wbuf appends little endian values to a byte slice
type wbuf struct {
	b []byte
}

func (w *wbuf) u8(v uint8)   { w.b = append(w.b, v) }
func (w *wbuf) u16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *wbuf) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *wbuf) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *wbuf) uvarint(v uint64) { w.b = binary.AppendUvarint(w.b, v) }
func (w *wbuf) varint(v int64)   { w.b = binary.AppendVarint(w.b, v) }

func (w *wbuf) str(s string) {
	w.uvarint(uint64(len(s)))
	w.b = append(w.b, s...)
}

// rbuf reads values written by wbuf. The first error sticks, later reads
// return zero values.
type rbuf struct {
	b   []byte
	err error
}

func (r *rbuf) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.b = nil
}

func (r *rbuf) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.b) {
		r.fail(errBodyShort)
		return nil
	}
	p := r.b[:n:n]
	r.b = r.b[n:]
	return p
}

func (r *rbuf) u8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *rbuf) u16() uint16 {
	if p := r.take(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (r *rbuf) u32() uint32 {
	if p := r.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (r *rbuf) u64() uint64 {
	if p := r.take(8); p != nil {
		return binary.LittleEndian.Uint64(p)
	}
	return 0
}

func (r *rbuf) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.fail(errBodyShort)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *rbuf) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.b)
	if n <= 0 {
		r.fail(errBodyShort)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *rbuf) str() string {
	n := r.uvarint()
	if n > uint64(len(r.b)) {
		r.fail(errBodyShort)
		return ""
	}
	return string(r.take(int(n)))
}

// count reads a uvarint element count and checks it against max
func (r *rbuf) count(max int, what string) int {
	n := r.uvarint()
	if n > uint64(max) {
		r.fail(fmt.Errorf("%d %s exceeds the limit of %d", n, what, max))
		return 0
	}
	return int(n)
}

func putValue(w *wbuf, s string) {
	if s == "" {
		w.u8(valueEmpty)
		return
	}
	// Numbers are stored binary only if formatting them gives back the
	// exact text
	if i, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(i, 10) == s {
		w.u8(valueInt)
		w.varint(i)
		return
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'g', -1, 64) == s {
		w.u8(valueFloat)
		w.u64(math.Float64bits(f))
		return
	}
	w.u8(valueString)
	w.str(s)
}

func getValue(r *rbuf) string {
	switch tag := r.u8(); tag {
	case valueEmpty:
		return ""
	case valueInt:
		return strconv.FormatInt(r.varint(), 10)
	case valueFloat:
		return strconv.FormatFloat(math.Float64frombits(r.u64()), 'g', -1, 64)
	case valueString:
		return r.str()
	default:
		r.fail(fmt.Errorf("unknown value tag %d", tag))
		return ""
	}
}

func putParams(w *wbuf, params []spectra.Param) {
	w.uvarint(uint64(len(params)))
	for i := range params {
		p := &params[i]
		w.u8(uint8(p.Scope))
		w.u8(uint8(p.Kind))
		w.u16(p.Group)
		w.u16(p.Sub)
		w.str(p.CVRef)
		w.str(p.Accession)
		w.str(p.Name)
		putValue(w, p.Value)
		w.str(p.Type)
		w.str(p.UnitCVRef)
		w.str(p.UnitAccession)
		w.str(p.UnitName)
	}
}

// getParams reads a param list. Scopes and kinds this version does not
// know are kept as they are.
func getParams(r *rbuf) []spectra.Param {
	n := r.count(maxParams, "params")
	if n == 0 {
		return nil
	}
	params := make([]spectra.Param, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		p := spectra.Param{
			Scope: spectra.Scope(r.u8()),
			Kind:  spectra.ParamKind(r.u8()),
			Group: r.u16(),
			Sub:   r.u16(),
		}
		p.CVRef = r.str()
		p.Accession = r.str()
		p.Name = r.str()
		p.Value = getValue(r)
		p.Type = r.str()
		p.UnitCVRef = r.str()
		p.UnitAccession = r.str()
		p.UnitName = r.str()
		if p.Kind == spectra.CVParam {
			p.Field = cv.FieldOf(p.Accession)
		}
		params = append(params, p)
	}
	return params
}

func putHeader(w *wbuf, h *spectra.Header) {
	w.str(h.Version)
	w.str(h.ID)
	w.str(h.Accession)
	w.uvarint(uint64(len(h.CVs)))
	for _, c := range h.CVs {
		w.str(c.ID)
		w.str(c.FullName)
		w.str(c.Version)
		w.str(c.URI)
	}
	w.uvarint(uint64(len(h.ParamGroups)))
	for _, g := range h.ParamGroups {
		w.str(g.ID)
		putParams(w, g.Params)
	}
	w.uvarint(uint64(len(h.Software)))
	for _, sw := range h.Software {
		w.str(sw.ID)
		w.str(sw.Version)
		putParams(w, sw.Params)
	}
	w.uvarint(uint64(len(h.Sections)))
	for _, s := range h.Sections {
		w.str(s.Name)
		w.str(s.XML)
	}
	run := &h.Run
	w.str(run.ID)
	w.str(run.DefaultInstrumentConfigurationRef)
	w.str(run.DefaultSourceFileRef)
	w.str(run.SampleRef)
	w.str(run.StartTimeStamp)
	w.str(run.SpectrumDataProcessingRef)
	w.str(run.ChromatogramDataProcessingRef)
	putParams(w, run.Params)
}

func getHeader(r *rbuf) spectra.Header {
	var h spectra.Header
	h.Version = r.str()
	h.ID = r.str()
	h.Accession = r.str()
	if n := r.count(maxParams, "cvs"); n > 0 {
		h.CVs = make([]spectra.CV, n)
		for i := range h.CVs {
			h.CVs[i] = spectra.CV{ID: r.str(), FullName: r.str(), Version: r.str(), URI: r.str()}
		}
	}
	if n := r.count(maxParams, "param groups"); n > 0 {
		h.ParamGroups = make([]spectra.ParamGroup, n)
		for i := range h.ParamGroups {
			h.ParamGroups[i].ID = r.str()
			h.ParamGroups[i].Params = getParams(r)
		}
	}
	if n := r.count(maxParams, "software"); n > 0 {
		h.Software = make([]spectra.Software, n)
		for i := range h.Software {
			h.Software[i] = spectra.Software{ID: r.str(), Version: r.str()}
			h.Software[i].Params = getParams(r)
		}
	}
	if n := r.count(maxParams, "sections"); n > 0 {
		h.Sections = make([]spectra.Section, n)
		for i := range h.Sections {
			h.Sections[i] = spectra.Section{Name: r.str(), XML: r.str()}
		}
	}
	run := &h.Run
	run.ID = r.str()
	run.DefaultInstrumentConfigurationRef = r.str()
	run.DefaultSourceFileRef = r.str()
	run.SampleRef = r.str()
	run.StartTimeStamp = r.str()
	run.SpectrumDataProcessingRef = r.str()
	run.ChromatogramDataProcessingRef = r.str()
	run.Params = getParams(r)
	return h
}
