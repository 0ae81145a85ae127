package mzml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/524D/mzbin/internal/bincodec"
	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/spectra"
)

// ReadOptions control what the Reader decodes
type ReadOptions struct {
	// SkipArrays leaves the binary arrays undecoded, which is all an
	// index scan needs.
	SkipArrays bool
}

// frame is an open element. group and sub number repeated elements
// (scans, precursors, selected ions) within the current record.
type frame struct {
	state state
	name  string
	start int64
	group uint16
	sub   uint16
}

// counters number the repeated elements of the current record
type counters struct {
	scans, windows, precursors, ions, products uint16
}

type arrayState struct {
	arr         spectra.BinaryArray
	declared    int
	unsupported string
	start       int64
}

// Reader is a streaming mzML reader. Records are returned one at a time;
// memory use is bounded by the size of the largest record.
//
//	r := mzml.NewReader(f, mzml.ReadOptions{})
//	for r.Next() {
//		rec := r.Record()
//	}
//	if err := r.Err(); err != nil {
//		...
//	}
type Reader struct {
	z      *Tokenizer
	opts   ReadOptions
	frames []frame

	header     spectra.Header
	headerDone bool
	sawMzML    bool
	done       bool
	fragment   bool

	cur     *spectra.Record
	cnt     counters
	arr     *arrayState
	text    bytes.Buffer
	capture *bytes.Buffer

	rec       *spectra.Record
	spanStart int64
	spanEnd   int64
	ordinals  [2]int
	err       error
}

// NewReader returns a reader for a complete mzML or indexedmzML document
func NewReader(r io.Reader, opts ReadOptions) *Reader {
	return &Reader{z: NewTokenizer(r, 0), opts: opts}
}

// newFragmentReader reads a single record from r, which starts at offset
// base of the file. The enclosing mzML, run and list elements are
// assumed, not parsed.
func newFragmentReader(r io.Reader, base int64, kind spectra.RecordKind, opts ReadOptions) *Reader {
	rd := &Reader{
		z:          NewTokenizer(r, base),
		opts:       opts,
		headerDone: true,
		sawMzML:    true,
		fragment:   true,
	}
	st := stSpectrumList
	if kind == spectra.ChromatogramRecord {
		st = stChromatogramList
	}
	rd.frames = []frame{{state: st, name: listName(kind), start: -1}}
	return rd
}

// Read reads a complete mzML document
func Read(reader io.Reader) (*spectra.Document, error) {
	var doc spectra.Document
	r := NewReader(reader, ReadOptions{})
	for r.Next() {
		doc.Add(r.Record())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	doc.Header = *r.Header()
	return &doc, nil
}

// Next advances to the next spectrum or chromatogram. It returns false at
// the end of the document or on error; check Err.
func (r *Reader) Next() bool {
	r.rec = nil
	for r.err == nil && !r.done {
		complete, err := r.step()
		if err != nil {
			r.err = err
			return false
		}
		if complete {
			if r.fragment {
				r.done = true
			}
			return true
		}
	}
	return false
}

// Record returns the record read by the last call of Next
func (r *Reader) Record() *spectra.Record {
	return r.rec
}

// Span returns the offsets of the first byte of the start tag and the
// byte after the end tag of the current record.
func (r *Reader) Span() (int64, int64) {
	return r.spanStart, r.spanEnd
}

// Header returns the file metadata. It is complete once the first record
// has been read, or once Next returned false.
func (r *Reader) Header() *spectra.Header {
	return &r.header
}

// ReadHeader reads up to the first spectrum or chromatogram list and
// returns the file metadata. Records can be read with Next afterwards.
func (r *Reader) ReadHeader() (*spectra.Header, error) {
	for r.err == nil && !r.done && !r.headerDone {
		if _, err := r.step(); err != nil {
			r.err = err
		}
	}
	return &r.header, r.err
}

// Err returns the first error encountered
func (r *Reader) Err() error {
	return r.err
}

func structuralError(offset int64, element string, format string, a ...any) error {
	return spectra.Errorf(spectra.ErrStructural, offset, element, format, a...)
}

func (r *Reader) top() *frame {
	if len(r.frames) == 0 {
		return nil
	}
	return &r.frames[len(r.frames)-1]
}

func (r *Reader) topState() state {
	if f := r.top(); f != nil {
		return f.state
	}
	return stDocument
}

// step processes one token. It returns true when a record was completed.
func (r *Reader) step() (bool, error) {
	tok, err := r.z.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
			switch {
			case !r.sawMzML:
				return false, structuralError(r.z.Offset(), "mzML", "no mzML element found")
			case r.fragment:
				return false, structuralError(r.z.Offset(), "", "no record found")
			case len(r.frames) > 0:
				return false, structuralError(r.z.Offset(), r.top().name, "document ends inside element")
			}
			return false, nil
		}
		return false, err
	}

	switch tok.Kind {
	case Text:
		switch r.topState() {
		case stBinary:
			if !r.opts.SkipArrays {
				r.text.Write(tok.Text)
			}
		case stCapture:
			writeToken(r.capture, &tok)
		}
		return false, nil

	case StartTag, SelfClosingTag:
		if r.topState() == stCapture {
			writeToken(r.capture, &tok)
			if tok.Kind == StartTag {
				r.frames = append(r.frames, frame{state: stCapture, name: tok.Name, start: tok.Start})
			}
			return false, nil
		}
		if err := r.start(&tok); err != nil {
			return false, err
		}
		if tok.Kind == SelfClosingTag {
			return r.end(&tok)
		}
		return false, nil

	default:
		return r.end(&tok)
	}
}

// param converts cvParam, userParam and referenceableParamGroupRef tokens
func param(tok *Token, scope spectra.Scope) (spectra.Param, bool) {
	p := spectra.Param{Scope: scope}
	switch tok.Name {
	case "cvParam":
		p.Kind = spectra.CVParam
	case "userParam":
		p.Kind = spectra.UserParam
	case "referenceableParamGroupRef":
		p.Kind = spectra.GroupRef
		p.Name, _ = tok.AttrValue("ref")
		return p, true
	default:
		return p, false
	}
	for _, a := range tok.Attr {
		switch a.Name.Local {
		case "cvRef":
			p.CVRef = a.Value
		case "accession":
			p.Accession = a.Value
		case "name":
			p.Name = a.Value
		case "value":
			p.Value = a.Value
		case "type":
			p.Type = a.Value
		case "unitCvRef":
			p.UnitCVRef = a.Value
		case "unitAccession":
			p.UnitAccession = a.Value
		case "unitName":
			p.UnitName = a.Value
		}
	}
	if p.Kind == spectra.CVParam {
		p.Field = cv.FieldOf(p.Accession)
	}
	return p, true
}

// attrParams stores the attributes of tok as Attr params, except the ones
// listed in skip.
func attrParams(dst []spectra.Param, tok *Token, scope spectra.Scope, group, sub uint16, skip ...string) []spectra.Param {
next:
	for _, a := range tok.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		for _, s := range skip {
			if a.Name.Local == s {
				continue next
			}
		}
		dst = append(dst, spectra.Param{
			Scope: scope,
			Kind:  spectra.Attr,
			Group: group,
			Sub:   sub,
			Name:  qualified(a.Name),
			Value: a.Value,
		})
	}
	return dst
}

// start handles a start tag and pushes a frame for it
func (r *Reader) start(tok *Token) error {
	parent := r.top()
	pst := r.topState()
	name := tok.Name
	next := stSkip
	var group, sub uint16
	if parent != nil {
		group, sub = parent.group, parent.sub
	}

	switch pst {
	case stDocument:
		switch name {
		case "indexedmzML":
			next = stIndexed
		case "mzML":
			next = r.startMzML(tok)
		default:
			return structuralError(tok.Start, name, "document is not mzML")
		}
	case stIndexed:
		if name == "mzML" {
			next = r.startMzML(tok)
		}
	case stMzML:
		next = r.startPreamble(tok)
	case stCVList:
		if name == "cv" {
			var c spectra.CV
			c.ID, _ = tok.AttrValue("id")
			c.FullName, _ = tok.AttrValue("fullName")
			c.Version, _ = tok.AttrValue("version")
			c.URI, _ = tok.AttrValue("URI")
			r.header.CVs = append(r.header.CVs, c)
			next = stLeaf
		}
	case stParamGroupList:
		if name == "referenceableParamGroup" {
			id, _ := tok.AttrValue("id")
			r.header.ParamGroups = append(r.header.ParamGroups, spectra.ParamGroup{ID: id})
			next = stParamGroup
		}
	case stParamGroup:
		if p, ok := param(tok, spectra.ScopeRecord); ok {
			g := &r.header.ParamGroups[len(r.header.ParamGroups)-1]
			g.Params = append(g.Params, p)
			next = stLeaf
		}
	case stSoftwareList:
		if name == "software" {
			var sw spectra.Software
			sw.ID, _ = tok.AttrValue("id")
			sw.Version, _ = tok.AttrValue("version")
			r.header.Software = append(r.header.Software, sw)
			next = stSoftware
		}
	case stSoftware:
		if p, ok := param(tok, spectra.ScopeRecord); ok {
			sw := &r.header.Software[len(r.header.Software)-1]
			sw.Params = append(sw.Params, p)
			next = stLeaf
		}
	case stRun:
		switch name {
		case "spectrumList":
			next = stSpectrumList
			r.header.Run.SpectrumDataProcessingRef, _ = tok.AttrValue("defaultDataProcessingRef")
			r.headerDone = true
		case "chromatogramList":
			next = stChromatogramList
			r.header.Run.ChromatogramDataProcessingRef, _ = tok.AttrValue("defaultDataProcessingRef")
			r.headerDone = true
		default:
			if p, ok := param(tok, spectra.ScopeRecord); ok {
				r.header.Run.Params = append(r.header.Run.Params, p)
				next = stLeaf
			}
		}
	case stSpectrumList:
		if name == "spectrum" {
			next = r.startRecord(tok, spectra.SpectrumRecord)
		}
	case stChromatogramList:
		if name == "chromatogram" {
			next = r.startRecord(tok, spectra.ChromatogramRecord)
		}
	case stRecord:
		switch name {
		case "scanList":
			next = stScanList
		case "precursorList":
			next = stPrecursorList
		case "productList":
			next = stProductList
		case "precursor":
			// chromatograms have a single precursor without a list
			next, group = r.startPrecursor(tok)
		case "product":
			next, group = stProduct, r.cnt.products
			r.cnt.products++
		case "binaryDataArrayList":
			next = stArrayList
		}
	case stScanList:
		if name == "scan" {
			next, group = stScan, r.cnt.scans
			r.cnt.scans++
			r.cnt.windows = 0
			r.cur.Params = attrParams(r.cur.Params, tok, spectra.ScopeScan, group, 0)
		}
	case stScan:
		if name == "scanWindowList" {
			next = stScanWindowList
		}
	case stScanWindowList:
		if name == "scanWindow" {
			next, sub = stScanWindow, r.cnt.windows
			r.cnt.windows++
		}
	case stPrecursorList:
		if name == "precursor" {
			next, group = r.startPrecursor(tok)
		}
	case stPrecursor:
		switch name {
		case "isolationWindow":
			next = stIsolationWindow
		case "selectedIonList":
			next = stSelectedIonList
		case "activation":
			next = stActivation
		}
	case stSelectedIonList:
		if name == "selectedIon" {
			next, sub = stSelectedIon, r.cnt.ions
			r.cnt.ions++
		}
	case stProductList:
		if name == "product" {
			next, group = stProduct, r.cnt.products
			r.cnt.products++
		}
	case stProduct:
		if name == "isolationWindow" {
			next = stProductIsolationWindow
		}
	case stArrayList:
		if name == "binaryDataArray" {
			next = r.startArray(tok)
		}
	case stArray:
		if name == "binary" {
			next = stBinary
			r.text.Reset()
		} else if p, ok := param(tok, spectra.ScopeArray); ok {
			r.arrayParam(p)
			next = stLeaf
		}
	}

	// Parameters of the elements inside a record
	if next == stSkip {
		if scope, ok := paramScopes[pst]; ok {
			if p, ok := param(tok, scope); ok {
				p.Group, p.Sub = group, sub
				r.cur.Params = append(r.cur.Params, p)
				next = stLeaf
			}
		}
	}

	if next == stSkip && structural[name] && pst != stSkip {
		return structuralError(tok.Start, name, "unexpected <%s> in <%s>", name, parentName(parent))
	}
	r.frames = append(r.frames, frame{state: next, name: name, start: tok.Start, group: group, sub: sub})
	return nil
}

func parentName(f *frame) string {
	if f == nil {
		return "document"
	}
	return f.name
}

func (r *Reader) startMzML(tok *Token) state {
	r.sawMzML = true
	r.header.Version, _ = tok.AttrValue("version")
	r.header.ID, _ = tok.AttrValue("id")
	r.header.Accession, _ = tok.AttrValue("accession")
	return stMzML
}

// startPreamble handles the children of mzML
func (r *Reader) startPreamble(tok *Token) state {
	switch tok.Name {
	case "cvList":
		return stCVList
	case "referenceableParamGroupList":
		return stParamGroupList
	case "softwareList":
		return stSoftwareList
	case "run":
		h := &r.header.Run
		h.ID, _ = tok.AttrValue("id")
		h.DefaultInstrumentConfigurationRef, _ = tok.AttrValue("defaultInstrumentConfigurationRef")
		h.DefaultSourceFileRef, _ = tok.AttrValue("defaultSourceFileRef")
		h.SampleRef, _ = tok.AttrValue("sampleRef")
		h.StartTimeStamp, _ = tok.AttrValue("startTimeStamp")
		return stRun
	}
	if structural[tok.Name] {
		return stSkip
	}
	r.capture = &bytes.Buffer{}
	writeToken(r.capture, tok)
	return stCapture
}

func (r *Reader) startRecord(tok *Token, kind spectra.RecordKind) state {
	rec := &spectra.Record{Kind: kind, Index: r.ordinals[kind]}
	for _, a := range tok.Attr {
		switch a.Name.Local {
		case "id":
			rec.ID = a.Value
		case "index":
			if i, err := strconv.Atoi(a.Value); err == nil {
				rec.Index = i
			}
		case "defaultArrayLength":
			if n, err := strconv.Atoi(a.Value); err == nil {
				rec.DefaultArrayLength = n
			}
		}
	}
	rec.Params = attrParams(rec.Params, tok, spectra.ScopeRecord, 0, 0, "id", "index", "defaultArrayLength")
	r.cur = rec
	r.cnt = counters{}
	r.spanStart = tok.Start
	return stRecord
}

func (r *Reader) startPrecursor(tok *Token) (state, uint16) {
	g := r.cnt.precursors
	r.cnt.precursors++
	r.cnt.ions = 0
	r.cur.Params = attrParams(r.cur.Params, tok, spectra.ScopePrecursor, g, 0)
	return stPrecursor, g
}

func (r *Reader) startArray(tok *Token) state {
	a := &arrayState{
		arr:      spectra.BinaryArray{Type: spectra.Float32},
		declared: -1,
		start:    tok.Start,
	}
	if s, ok := tok.AttrValue("arrayLength"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			a.declared = n
		}
	}
	a.arr.Params = attrParams(nil, tok, spectra.ScopeArray, 0, 0, "arrayLength", "encodedLength")
	r.arr = a
	return stArray
}

// arrayParam interprets a parameter of a binaryDataArray. Data type and
// compression terms are folded into the array, the rest is kept.
func (r *Reader) arrayParam(p spectra.Param) {
	a := r.arr
	if p.Kind != spectra.CVParam {
		a.arr.Params = append(a.arr.Params, p)
		return
	}
	switch p.Field {
	case cv.FieldFloat32:
		a.arr.Type = spectra.Float32
	case cv.FieldFloat64:
		a.arr.Type = spectra.Float64
	case cv.FieldInt32:
		a.arr.Type = spectra.Int32
	case cv.FieldInt64:
		a.arr.Type = spectra.Int64
	case cv.FieldNoCompression:
	case cv.FieldZlib:
		a.arr.Encoding.Zlib = true
	case cv.FieldNumpressLinear:
		a.arr.Encoding.Numpress = spectra.NumpressLinear
	case cv.FieldNumpressPic:
		a.arr.Encoding.Numpress = spectra.NumpressPic
	case cv.FieldNumpressSlof:
		a.arr.Encoding.Numpress = spectra.NumpressSlof
	case cv.FieldNumpressLinearZlib:
		a.arr.Encoding = spectra.Encoding{Numpress: spectra.NumpressLinear, Zlib: true}
	case cv.FieldNumpressPicZlib:
		a.arr.Encoding = spectra.Encoding{Numpress: spectra.NumpressPic, Zlib: true}
	case cv.FieldNumpressSlofZlib:
		a.arr.Encoding = spectra.Encoding{Numpress: spectra.NumpressSlof, Zlib: true}
	case cv.FieldUnsupportedCompression:
		a.unsupported = p.Accession
	case cv.FieldUnknown:
		if strings.HasSuffix(strings.ToLower(p.Name), "compression") {
			a.unsupported = p.Accession
			return
		}
		a.arr.Params = append(a.arr.Params, p)
	default:
		switch p.Field {
		case cv.FieldMZArray:
			a.arr.Kind = spectra.KindMZ
		case cv.FieldIntensityArray:
			a.arr.Kind = spectra.KindIntensity
		case cv.FieldTimeArray:
			a.arr.Kind = spectra.KindTime
		}
		a.arr.Params = append(a.arr.Params, p)
	}
}

// end handles an end tag, or the end of a self-closing tag
func (r *Reader) end(tok *Token) (bool, error) {
	f := r.top()
	if f == nil || f.name != tok.Name {
		return false, structuralError(tok.Start, tok.Name, "unexpected </%s> in <%s>", tok.Name, parentName(f))
	}
	r.frames = r.frames[:len(r.frames)-1]

	switch f.state {
	case stCapture:
		if tok.Kind == EndTag {
			writeToken(r.capture, tok)
		}
		if r.topState() != stCapture {
			r.header.Sections = append(r.header.Sections, spectra.Section{Name: f.name, XML: r.capture.String()})
			r.capture = nil
		}
	case stBinary:
		// text is decoded when the array ends
	case stArray:
		return false, r.endArray()
	case stRecord:
		return true, r.endRecord(tok.End)
	case stRun, stSpectrumList, stChromatogramList:
		r.headerDone = true
	case stMzML:
		r.headerDone = true
		r.done = true
	}
	return false, nil
}

func (r *Reader) endArray() error {
	a := r.arr
	r.arr = nil
	// arrays are not decoded while scanning, the record fails when it is read
	if r.opts.SkipArrays {
		return nil
	}
	if a.unsupported != "" {
		return &spectra.ParseError{
			Err:     spectra.ErrUnsupportedCompression,
			Offset:  a.start,
			Element: "binaryDataArray",
			Cause:   fmt.Errorf("compression %s", a.unsupported),
		}
	}
	declared := a.declared
	if declared < 0 {
		declared = r.cur.DefaultArrayLength
	}
	values, err := bincodec.Decode(r.text.Bytes(), a.arr.Type, a.arr.Encoding, declared)
	r.text.Reset()
	if err != nil {
		return &spectra.ParseError{Err: err, Offset: a.start, Element: "binaryDataArray"}
	}
	// Empty arrays are not part of the model
	if len(values) == 0 {
		return nil
	}
	a.arr.Values = values
	r.cur.Arrays = append(r.cur.Arrays, a.arr)
	return nil
}

func (r *Reader) endRecord(end int64) error {
	rec := r.cur
	r.cur = nil
	r.spanEnd = end
	mz, intens := rec.Array(spectra.KindMZ), rec.Array(spectra.KindIntensity)
	if !r.opts.SkipArrays && mz != nil && intens != nil && len(mz.Values) != len(intens.Values) {
		return structuralError(r.spanStart, recordName(rec.Kind),
			"%s %q: %d m/z values, %d intensities", rec.Kind, rec.ID, len(mz.Values), len(intens.Values))
	}
	r.ordinals[rec.Kind]++
	r.rec = rec
	return nil
}
