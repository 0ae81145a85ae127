package mzml

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"github.com/524D/mzbin/internal/bincodec"
	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/spectra"
)

// WriteOptions control mzML output
type WriteOptions struct {
	// Encodings overrides the array encoding per array kind. Arrays of
	// kinds that are not listed keep the encoding they were read with.
	Encodings map[spectra.ArrayKind]spectra.Encoding
	// NoIndex writes plain mzML, without indexList and checksum
	NoIndex bool
}

// Encoding returns the encoding used for arr
func (o *WriteOptions) Encoding(arr *spectra.BinaryArray) spectra.Encoding {
	if e, ok := o.Encodings[arr.Kind]; ok {
		return e
	}
	return arr.Encoding
}

// ErrRecordOrder is returned when records are not written spectra first,
// or when the number of records differs from the announced count.
var ErrRecordOrder = errors.New("mzML: records out of order or count mismatch")

// countingWriter tracks the output offset and the checksum of everything
// written. Errors are sticky.
type countingWriter struct {
	w   *bufio.Writer
	sha hash.Hash
	n   int64
	err error
}

func (c *countingWriter) WriteString(s string) {
	if c.err != nil {
		return
	}
	var n int
	n, c.err = c.w.WriteString(s)
	c.sha.Write([]byte(s[:n]))
	c.n += int64(n)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	var n int
	n, c.err = c.w.Write(p)
	c.sha.Write(p[:n])
	c.n += int64(n)
	return n, c.err
}

type written struct {
	kind   spectra.RecordKind
	id     string
	offset int64
}

// Writer writes an mzML document record by record. Spectra must be
// written before chromatograms.
type Writer struct {
	out     *countingWriter
	opts    WriteOptions
	counts  [2]int
	done    [2]int // records written per kind
	index   []written
	kind    spectra.RecordKind
	dpRef   string // chromatogramList defaultDataProcessingRef
	scratch strings.Builder
}

// NewWriter writes the document header and prepares for spectrumCount
// spectra followed by chromatogramCount chromatograms.
func NewWriter(w io.Writer, h *spectra.Header, spectrumCount, chromatogramCount int, opts WriteOptions) (*Writer, error) {
	wr := &Writer{
		out:    &countingWriter{w: bufio.NewWriterSize(w, 1<<16), sha: sha1.New()},
		opts:   opts,
		counts: [2]int{spectrumCount, chromatogramCount},
	}
	wr.dpRef = h.Run.ChromatogramDataProcessingRef
	wr.writeHeader(h)
	if spectrumCount > 0 {
		wr.openList(spectra.SpectrumRecord, h.Run.SpectrumDataProcessingRef)
	} else if chromatogramCount > 0 {
		wr.openList(spectra.ChromatogramRecord, h.Run.ChromatogramDataProcessingRef)
	}
	return wr, wr.out.err
}

// Write writes doc as mzML
func Write(w io.Writer, doc *spectra.Document, opts WriteOptions) error {
	wr, err := NewWriter(w, &doc.Header, len(doc.Spectra), len(doc.Chromatograms), opts)
	if err != nil {
		return err
	}
	for _, rec := range doc.Spectra {
		if err := wr.WriteRecord(rec); err != nil {
			return err
		}
	}
	for _, rec := range doc.Chromatograms {
		if err := wr.WriteRecord(rec); err != nil {
			return err
		}
	}
	return wr.Close()
}

func (w *Writer) str(s string) {
	w.out.WriteString(s)
}

func (w *Writer) attr(name, value string) {
	w.str(" ")
	w.str(name)
	w.str(`="`)
	w.scratch.Reset()
	xml.EscapeText(&w.scratch, []byte(value))
	w.str(w.scratch.String())
	w.str(`"`)
}

func (w *Writer) indent(depth int) {
	w.str("\n")
	w.str(strings.Repeat("  ", depth))
}

func (w *Writer) writeHeader(h *spectra.Header) {
	w.str(`<?xml version="1.0" encoding="utf-8"?>`)
	depth := 0
	if !w.opts.NoIndex {
		w.str("\n<indexedmzML")
		w.attr("xmlns", nsMzML)
		w.attr("xmlns:xsi", nsXSI)
		w.attr("xsi:schemaLocation", schemaIdx)
		w.str(">")
		depth = 1
	}
	w.indent(depth)
	w.str("<mzML")
	w.attr("xmlns", nsMzML)
	w.attr("xmlns:xsi", nsXSI)
	w.attr("xsi:schemaLocation", schemaMzML)
	if h.Accession != "" {
		w.attr("accession", h.Accession)
	}
	if h.ID != "" {
		w.attr("id", h.ID)
	}
	version := h.Version
	if version == "" {
		version = mzMLVersion
	}
	w.attr("version", version)
	w.str(">")
	depth++

	w.indent(depth)
	w.str("<cvList")
	w.attr("count", strconv.Itoa(len(h.CVs)))
	w.str(">")
	for _, c := range h.CVs {
		w.indent(depth + 1)
		w.str("<cv")
		w.attr("id", c.ID)
		w.attr("fullName", c.FullName)
		if c.Version != "" {
			w.attr("version", c.Version)
		}
		w.attr("URI", c.URI)
		w.str("/>")
	}
	w.indent(depth)
	w.str("</cvList>")

	// Preamble sections in schema order; sections we do not know go last
	w.section(h, "fileDescription", depth)
	if len(h.ParamGroups) > 0 {
		w.indent(depth)
		w.str("<referenceableParamGroupList")
		w.attr("count", strconv.Itoa(len(h.ParamGroups)))
		w.str(">")
		for _, g := range h.ParamGroups {
			w.indent(depth + 1)
			w.str("<referenceableParamGroup")
			w.attr("id", g.ID)
			w.str(">")
			w.params(g.Params, depth+2)
			w.indent(depth + 1)
			w.str("</referenceableParamGroup>")
		}
		w.indent(depth)
		w.str("</referenceableParamGroupList>")
	}
	w.section(h, "sampleList", depth)
	w.indent(depth)
	w.str("<softwareList")
	w.attr("count", strconv.Itoa(len(h.Software)))
	w.str(">")
	for _, sw := range h.Software {
		w.indent(depth + 1)
		w.str("<software")
		w.attr("id", sw.ID)
		w.attr("version", sw.Version)
		w.str(">")
		w.params(sw.Params, depth+2)
		w.indent(depth + 1)
		w.str("</software>")
	}
	w.indent(depth)
	w.str("</softwareList>")
	w.section(h, "scanSettingsList", depth)
	w.section(h, "instrumentConfigurationList", depth)
	w.section(h, "dataProcessingList", depth)
	for _, s := range h.Sections {
		if !knownSections[s.Name] {
			w.indent(depth)
			w.str(s.XML)
		}
	}

	r := &h.Run
	w.indent(depth)
	w.str("<run")
	w.attr("id", r.ID)
	w.attr("defaultInstrumentConfigurationRef", r.DefaultInstrumentConfigurationRef)
	if r.DefaultSourceFileRef != "" {
		w.attr("defaultSourceFileRef", r.DefaultSourceFileRef)
	}
	if r.SampleRef != "" {
		w.attr("sampleRef", r.SampleRef)
	}
	if r.StartTimeStamp != "" {
		w.attr("startTimeStamp", r.StartTimeStamp)
	}
	w.str(">")
	w.params(r.Params, depth+1)
}

var knownSections = map[string]bool{
	"fileDescription":             true,
	"sampleList":                  true,
	"scanSettingsList":            true,
	"instrumentConfigurationList": true,
	"dataProcessingList":          true,
}

func (w *Writer) section(h *spectra.Header, name string, depth int) {
	if s := h.Section(name); s != nil {
		w.indent(depth)
		w.str(s.XML)
	}
}

// depth of the elements inside run
func (w *Writer) runDepth() int {
	if w.opts.NoIndex {
		return 2
	}
	return 3
}

func (w *Writer) openList(kind spectra.RecordKind, dpRef string) {
	w.kind = kind
	w.indent(w.runDepth())
	w.str("<" + listName(kind))
	w.attr("count", strconv.Itoa(w.counts[kind]))
	if dpRef != "" {
		w.attr("defaultDataProcessingRef", dpRef)
	}
	w.str(">")
}

func (w *Writer) closeList() {
	w.indent(w.runDepth())
	w.str("</" + listName(w.kind) + ">")
}

// WriteRecord writes one spectrum or chromatogram
func (w *Writer) WriteRecord(rec *spectra.Record) error {
	if rec.Kind != w.kind {
		if rec.Kind != spectra.ChromatogramRecord || w.done[spectra.SpectrumRecord] != w.counts[spectra.SpectrumRecord] {
			return fmt.Errorf("%w: %s %q", ErrRecordOrder, rec.Kind, rec.ID)
		}
		if w.counts[spectra.SpectrumRecord] > 0 {
			w.closeList()
		}
		w.openList(spectra.ChromatogramRecord, w.dpRef)
	}
	if w.done[rec.Kind] >= w.counts[rec.Kind] {
		return fmt.Errorf("%w: more than %d %s records", ErrRecordOrder, w.counts[rec.Kind], rec.Kind)
	}

	depth := w.runDepth() + 1
	w.indent(depth)
	w.index = append(w.index, written{kind: rec.Kind, id: rec.ID, offset: w.out.n})
	w.done[rec.Kind]++
	name := recordName(rec.Kind)
	w.str("<" + name)
	w.attr("index", strconv.Itoa(rec.Index))
	w.attr("id", rec.ID)
	w.attr("defaultArrayLength", strconv.Itoa(rec.DefaultArrayLength))
	w.attrs(rec.Params, spectra.ScopeRecord, 0, 0)
	w.str(">")

	sc := scopeParams(rec.Params)
	w.params(sc.get(spectra.ScopeRecord, 0, 0), depth+1)
	if rec.Kind == spectra.SpectrumRecord {
		w.scanList(rec, &sc, depth+1)
		w.precursors(rec, &sc, depth+1, true)
		w.products(rec, &sc, depth+1, true)
	} else {
		w.precursors(rec, &sc, depth+1, false)
		w.products(rec, &sc, depth+1, false)
	}
	if err := w.arrays(rec, depth+1); err != nil {
		return err
	}
	w.indent(depth)
	w.str("</" + name + ">")
	return w.out.err
}

// scoped groups the params of a record by element
type scoped struct {
	byKey map[scopeKey][]spectra.Param
	// number of groups, and of subs per group, per scope
	groups map[spectra.Scope]int
	subs   map[scopeKey]int
}

type scopeKey struct {
	scope spectra.Scope
	group uint16
	sub   uint16
}

func scopeParams(params []spectra.Param) scoped {
	sc := scoped{
		byKey:  map[scopeKey][]spectra.Param{},
		groups: map[spectra.Scope]int{},
		subs:   map[scopeKey]int{},
	}
	for _, p := range params {
		k := scopeKey{p.Scope, p.Group, p.Sub}
		sc.byKey[k] = append(sc.byKey[k], p)
		family := familyOf(p.Scope)
		if int(p.Group)+1 > sc.groups[family] {
			sc.groups[family] = int(p.Group) + 1
		}
		sk := scopeKey{scope: p.Scope, group: p.Group}
		if int(p.Sub)+1 > sc.subs[sk] {
			sc.subs[sk] = int(p.Sub) + 1
		}
	}
	return sc
}

// familyOf maps nested scopes to the repeated element that contains them
func familyOf(s spectra.Scope) spectra.Scope {
	switch s {
	case spectra.ScopeScanWindow:
		return spectra.ScopeScan
	case spectra.ScopeIsolationWindow, spectra.ScopeSelectedIon, spectra.ScopeActivation:
		return spectra.ScopePrecursor
	case spectra.ScopeProductIsolationWindow:
		return spectra.ScopeProduct
	}
	return s
}

func (sc *scoped) get(scope spectra.Scope, group, sub uint16) []spectra.Param {
	return sc.byKey[scopeKey{scope, group, sub}]
}

// elem writes an element holding the params of scope/group/sub. Empty
// elements are only written when force is set.
func (w *Writer) elem(name string, sc *scoped, scope spectra.Scope, group, sub uint16, depth int, force bool) {
	params := sc.get(scope, group, sub)
	if len(params) == 0 && !force {
		return
	}
	w.indent(depth)
	w.str("<" + name)
	w.attrs(params, scope, group, sub)
	if !hasElements(params) {
		w.str("/>")
		return
	}
	w.str(">")
	w.params(params, depth+1)
	w.indent(depth)
	w.str("</" + name + ">")
}

func hasElements(params []spectra.Param) bool {
	for _, p := range params {
		if p.Kind != spectra.Attr {
			return true
		}
	}
	return false
}

func (w *Writer) scanList(rec *spectra.Record, sc *scoped, depth int) {
	scans := sc.groups[spectra.ScopeScan]
	if scans == 0 && len(sc.get(spectra.ScopeScanList, 0, 0)) == 0 {
		return
	}
	w.indent(depth)
	w.str("<scanList")
	w.attr("count", strconv.Itoa(scans))
	w.str(">")
	w.params(sc.get(spectra.ScopeScanList, 0, 0), depth+1)
	for g := 0; g < scans; g++ {
		group := uint16(g)
		params := sc.get(spectra.ScopeScan, group, 0)
		windows := sc.subs[scopeKey{scope: spectra.ScopeScanWindow, group: group}]
		w.indent(depth + 1)
		w.str("<scan")
		w.attrs(params, spectra.ScopeScan, group, 0)
		if !hasElements(params) && windows == 0 {
			w.str("/>")
			continue
		}
		w.str(">")
		w.params(params, depth+2)
		if windows > 0 {
			w.indent(depth + 2)
			w.str("<scanWindowList")
			w.attr("count", strconv.Itoa(windows))
			w.str(">")
			for s := 0; s < windows; s++ {
				w.elem("scanWindow", sc, spectra.ScopeScanWindow, group, uint16(s), depth+3, true)
			}
			w.indent(depth + 2)
			w.str("</scanWindowList>")
		}
		w.indent(depth + 1)
		w.str("</scan>")
	}
	w.indent(depth)
	w.str("</scanList>")
}

func (w *Writer) precursors(rec *spectra.Record, sc *scoped, depth int, list bool) {
	n := sc.groups[spectra.ScopePrecursor]
	if n == 0 {
		return
	}
	if list {
		w.indent(depth)
		w.str("<precursorList")
		w.attr("count", strconv.Itoa(n))
		w.str(">")
		depth++
	}
	for g := 0; g < n; g++ {
		group := uint16(g)
		w.indent(depth)
		w.str("<precursor")
		w.attrs(sc.get(spectra.ScopePrecursor, group, 0), spectra.ScopePrecursor, group, 0)
		w.str(">")
		w.params(sc.get(spectra.ScopePrecursor, group, 0), depth+1)
		w.elem("isolationWindow", sc, spectra.ScopeIsolationWindow, group, 0, depth+1, false)
		if ions := sc.subs[scopeKey{scope: spectra.ScopeSelectedIon, group: group}]; ions > 0 {
			w.indent(depth + 1)
			w.str("<selectedIonList")
			w.attr("count", strconv.Itoa(ions))
			w.str(">")
			for s := 0; s < ions; s++ {
				w.elem("selectedIon", sc, spectra.ScopeSelectedIon, group, uint16(s), depth+2, true)
			}
			w.indent(depth + 1)
			w.str("</selectedIonList>")
		}
		w.elem("activation", sc, spectra.ScopeActivation, group, 0, depth+1, true)
		w.indent(depth)
		w.str("</precursor>")
	}
	if list {
		w.indent(depth - 1)
		w.str("</precursorList>")
	}
}

func (w *Writer) products(rec *spectra.Record, sc *scoped, depth int, list bool) {
	n := sc.groups[spectra.ScopeProduct]
	if n == 0 {
		return
	}
	if list {
		w.indent(depth)
		w.str("<productList")
		w.attr("count", strconv.Itoa(n))
		w.str(">")
		depth++
	}
	for g := 0; g < n; g++ {
		group := uint16(g)
		w.indent(depth)
		w.str("<product>")
		w.params(sc.get(spectra.ScopeProduct, group, 0), depth+1)
		w.elem("isolationWindow", sc, spectra.ScopeProductIsolationWindow, group, 0, depth+1, false)
		w.indent(depth)
		w.str("</product>")
	}
	if list {
		w.indent(depth - 1)
		w.str("</productList>")
	}
}

func (w *Writer) arrays(rec *spectra.Record, depth int) error {
	if len(rec.Arrays) == 0 {
		return nil
	}
	w.indent(depth)
	w.str("<binaryDataArrayList")
	w.attr("count", strconv.Itoa(len(rec.Arrays)))
	w.str(">")
	for i := range rec.Arrays {
		arr := &rec.Arrays[i]
		enc := w.opts.Encoding(arr)
		text, err := bincodec.Encode(arr.Values, arr.Type, enc)
		if err != nil {
			return fmt.Errorf("%s %q %s array: %w", rec.Kind, rec.ID, arr.Kind, err)
		}
		w.indent(depth + 1)
		w.str("<binaryDataArray")
		w.attr("encodedLength", strconv.Itoa(len(text)))
		if len(arr.Values) != rec.DefaultArrayLength {
			w.attr("arrayLength", strconv.Itoa(len(arr.Values)))
		}
		w.attrs(arr.Params, spectra.ScopeArray, 0, 0)
		w.str(">")
		w.params(arr.Params, depth+2)
		if !hasKindParam(arr) {
			if f := kindField(arr.Kind); f != cv.FieldUnknown {
				w.cvParam(f, "", depth+2)
			}
		}
		w.cvParam(typeField(arr.Type), "", depth+2)
		for _, f := range compressionFields(enc) {
			w.cvParam(f, "", depth+2)
		}
		w.indent(depth + 2)
		w.str("<binary>")
		w.out.Write(text)
		w.str("</binary>")
		w.indent(depth + 1)
		w.str("</binaryDataArray>")
	}
	w.indent(depth)
	w.str("</binaryDataArrayList>")
	return nil
}

func hasKindParam(arr *spectra.BinaryArray) bool {
	for _, p := range arr.Params {
		if p.Kind == spectra.CVParam && p.Field.IsArrayKind() {
			return true
		}
	}
	return false
}

func kindField(k spectra.ArrayKind) cv.Field {
	switch k {
	case spectra.KindMZ:
		return cv.FieldMZArray
	case spectra.KindIntensity:
		return cv.FieldIntensityArray
	case spectra.KindTime:
		return cv.FieldTimeArray
	}
	return cv.FieldUnknown
}

func typeField(t spectra.NumericType) cv.Field {
	switch t {
	case spectra.Float32:
		return cv.FieldFloat32
	case spectra.Int32:
		return cv.FieldInt32
	case spectra.Int64:
		return cv.FieldInt64
	}
	return cv.FieldFloat64
}

func compressionFields(e spectra.Encoding) []cv.Field {
	switch e.Numpress {
	case spectra.NumpressLinear:
		if e.Zlib {
			return []cv.Field{cv.FieldNumpressLinearZlib}
		}
		return []cv.Field{cv.FieldNumpressLinear}
	case spectra.NumpressSlof:
		if e.Zlib {
			return []cv.Field{cv.FieldNumpressSlofZlib}
		}
		return []cv.Field{cv.FieldNumpressSlof}
	case spectra.NumpressPic:
		if e.Zlib {
			return []cv.Field{cv.FieldNumpressPicZlib}
		}
		return []cv.Field{cv.FieldNumpressPic}
	}
	if e.Zlib {
		return []cv.Field{cv.FieldZlib}
	}
	return []cv.Field{cv.FieldNoCompression}
}

// attrs writes the Attr params of scope/group/sub as attributes
func (w *Writer) attrs(params []spectra.Param, scope spectra.Scope, group, sub uint16) {
	for _, p := range params {
		if p.Kind == spectra.Attr && p.Scope == scope && p.Group == group && p.Sub == sub {
			w.attr(p.Name, p.Value)
		}
	}
}

func (w *Writer) cvParam(f cv.Field, value string, depth int) {
	acc, name := cv.Accession(f)
	w.param(&spectra.Param{Kind: spectra.CVParam, CVRef: cv.Prefix(acc), Accession: acc, Name: name, Value: value}, depth)
}

// params writes all params that are elements, in their original order
func (w *Writer) params(params []spectra.Param, depth int) {
	for i := range params {
		if params[i].Kind != spectra.Attr {
			w.param(&params[i], depth)
		}
	}
}

func (w *Writer) param(p *spectra.Param, depth int) {
	w.indent(depth)
	switch p.Kind {
	case spectra.GroupRef:
		w.str("<referenceableParamGroupRef")
		w.attr("ref", p.Name)
		w.str("/>")
		return
	case spectra.UserParam:
		w.str("<userParam")
		w.attr("name", p.Name)
		if p.Type != "" {
			w.attr("type", p.Type)
		}
		w.attr("value", p.Value)
	default:
		w.str("<cvParam")
		ref := p.CVRef
		if ref == "" {
			ref = cv.Prefix(p.Accession)
		}
		w.attr("cvRef", ref)
		w.attr("accession", p.Accession)
		w.attr("name", p.Name)
		w.attr("value", p.Value)
	}
	if p.UnitAccession != "" {
		ref := p.UnitCVRef
		if ref == "" {
			ref = cv.Prefix(p.UnitAccession)
		}
		w.attr("unitCvRef", ref)
		w.attr("unitAccession", p.UnitAccession)
		w.attr("unitName", p.UnitName)
	}
	w.str("/>")
}

// Close finishes the document, writing the index and checksum unless
// NoIndex is set, and flushes the output.
func (w *Writer) Close() error {
	for kind, n := range w.counts {
		if got := w.done[kind]; got != n {
			return fmt.Errorf("%w: %d of %d %s records written", ErrRecordOrder, got, n, spectra.RecordKind(kind))
		}
	}
	if w.counts[0] > 0 || w.counts[1] > 0 {
		w.closeList()
	}
	depth := w.runDepth() - 1
	w.indent(depth)
	w.str("</run>")
	w.indent(depth - 1)
	w.str("</mzML>")
	if !w.opts.NoIndex {
		w.writeIndex()
	}
	w.str("\n")
	if w.out.err != nil {
		return w.out.err
	}
	return w.out.w.Flush()
}

func (w *Writer) writeIndex() {
	lists := 0
	for _, n := range w.counts {
		if n > 0 {
			lists++
		}
	}
	w.indent(1)
	indexOffset := w.out.n
	w.str("<indexList")
	w.attr("count", strconv.Itoa(lists))
	w.str(">")
	for kind, n := range w.counts {
		if n == 0 {
			continue
		}
		w.indent(2)
		w.str("<index")
		w.attr("name", indexName(spectra.RecordKind(kind)))
		w.str(">")
		for _, e := range w.index {
			if e.kind != spectra.RecordKind(kind) {
				continue
			}
			w.indent(3)
			w.str("<offset")
			w.attr("idRef", e.id)
			w.str(">")
			w.str(strconv.FormatInt(e.offset, 10))
			w.str("</offset>")
		}
		w.indent(2)
		w.str("</index>")
	}
	w.indent(1)
	w.str("</indexList>")
	w.indent(1)
	w.str("<indexListOffset>")
	w.str(strconv.FormatInt(indexOffset, 10))
	w.str("</indexListOffset>")
	w.indent(1)
	w.str("<fileChecksum>")
	sum := hex.EncodeToString(w.out.sha.Sum(nil))
	w.str(sum)
	w.str("</fileChecksum>")
	w.str("\n</indexedmzML>")
}

func indexName(kind spectra.RecordKind) string {
	if kind == spectra.ChromatogramRecord {
		return indexChroms
	}
	return indexSpectra
}
