// Package spectra holds the in-memory model shared by the mzML and B000
// codecs: a Document with its spectra, chromatograms and file metadata.
package spectra

import (
	"encoding/xml"
	"strings"
)

// RecordKind tells spectra and chromatograms apart
type RecordKind uint8

const (
	SpectrumRecord RecordKind = iota
	ChromatogramRecord
)

func (k RecordKind) String() string {
	switch k {
	case SpectrumRecord:
		return "spectrum"
	case ChromatogramRecord:
		return "chromatogram"
	default:
		return "unknown"
	}
}

// ArrayKind is the semantic kind of a binary array
type ArrayKind uint8

const (
	KindOther ArrayKind = iota
	KindMZ
	KindIntensity
	KindTime
)

func (k ArrayKind) String() string {
	switch k {
	case KindMZ:
		return "mz"
	case KindIntensity:
		return "intensity"
	case KindTime:
		return "time"
	default:
		return "other"
	}
}

// NumericType is the element type of a binary array as stored on disk
type NumericType uint8

const (
	Float64 NumericType = iota
	Float32
	Int32
	Int64
)

// Size returns the width in bytes of one element
func (t NumericType) Size() int {
	switch t {
	case Float32, Int32:
		return 4
	default:
		return 8
	}
}

func (t NumericType) String() string {
	switch t {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Numpress is one of the MS-Numpress numeric compression schemes
type Numpress uint8

const (
	NumpressNone Numpress = iota
	NumpressLinear
	NumpressSlof
	NumpressPic
)

func (n Numpress) String() string {
	switch n {
	case NumpressNone:
		return "none"
	case NumpressLinear:
		return "linear"
	case NumpressSlof:
		return "slof"
	case NumpressPic:
		return "pic"
	default:
		return "unknown"
	}
}

// Encoding describes how an array is compressed inside mzML. It is a
// round-trip hint only, the values of an array do not depend on it.
type Encoding struct {
	Numpress Numpress
	Zlib     bool
}

func (e Encoding) String() string {
	switch {
	case e.Numpress == NumpressNone && e.Zlib:
		return "zlib"
	case e.Numpress == NumpressNone:
		return "none"
	case e.Zlib:
		return e.Numpress.String() + "-zlib"
	default:
		return e.Numpress.String()
	}
}

// ParseEncoding is the inverse of Encoding.String
func ParseEncoding(s string) (Encoding, bool) {
	var e Encoding
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "zlib" {
		return Encoding{Zlib: true}, true
	}
	if base, ok := strings.CutSuffix(s, "-zlib"); ok {
		e.Zlib = true
		s = base
	}
	switch s {
	case "none", "":
		if e.Zlib {
			return e, false
		}
	case "linear":
		e.Numpress = NumpressLinear
	case "slof":
		e.Numpress = NumpressSlof
	case "pic":
		e.Numpress = NumpressPic
	default:
		return e, false
	}
	return e, true
}

// BinaryArray is one decoded binary data array.
// Values always hold float64; integer arrays are exact up to 2^53.
type BinaryArray struct {
	Kind     ArrayKind
	Type     NumericType
	Values   []float64
	Encoding Encoding
	// Params of the binaryDataArray other than data type and compression,
	// including the term that names the array kind.
	Params []Param `json:",omitempty"`
}

// Record is a spectrum or a chromatogram
type Record struct {
	Kind               RecordKind
	ID                 string
	Index              int // position in the source file
	DefaultArrayLength int
	Params             []Param       `json:",omitempty"`
	Arrays             []BinaryArray `json:",omitempty"`
}

// Array returns the first array of kind k, or nil
func (r *Record) Array(k ArrayKind) *BinaryArray {
	for i := range r.Arrays {
		if r.Arrays[i].Kind == k {
			return &r.Arrays[i]
		}
	}
	return nil
}

// Document is a complete mzML or B000 file
type Document struct {
	Header        Header
	Spectra       []*Record
	Chromatograms []*Record
}

// Records returns the spectra or the chromatograms of d
func (d *Document) Records(kind RecordKind) []*Record {
	if kind == ChromatogramRecord {
		return d.Chromatograms
	}
	return d.Spectra
}

// Add appends rec to the list matching its kind
func (d *Document) Add(rec *Record) {
	if rec.Kind == ChromatogramRecord {
		d.Chromatograms = append(d.Chromatograms, rec)
	} else {
		d.Spectra = append(d.Spectra, rec)
	}
}

// Header holds the file level metadata that precedes the spectra
type Header struct {
	Version     string
	ID          string
	Accession   string
	CVs         []CV
	ParamGroups []ParamGroup
	Software    []Software
	// Sections holds preamble elements that are carried as raw XML,
	// e.g. fileDescription and instrumentConfigurationList.
	Sections []Section
	Run      Run
}

// CV is an entry in the cvList
type CV struct {
	ID       string
	FullName string
	Version  string
	URI      string
}

// ParamGroup is a referenceableParamGroup
type ParamGroup struct {
	ID     string
	Params []Param
}

// Software is an entry in the softwareList
type Software struct {
	ID      string
	Version string
	Params  []Param
}

// Section is a complete preamble element, stored verbatim
type Section struct {
	Name string
	XML  string
}

// Run holds the attributes of the run element and of its lists
type Run struct {
	ID                                string
	DefaultInstrumentConfigurationRef string
	DefaultSourceFileRef              string
	SampleRef                         string
	StartTimeStamp                    string
	SpectrumDataProcessingRef         string
	ChromatogramDataProcessingRef     string
	Params                            []Param
}

// Section returns the section called name, or nil
func (h *Header) Section(name string) *Section {
	for i := range h.Sections {
		if h.Sections[i].Name == name {
			return &h.Sections[i]
		}
	}
	return nil
}

// Analyzers returns the CV accessions of the mass analyzers of all
// instrument configurations
func (h *Header) Analyzers() ([]string, error) {
	type analyzer struct {
		CvPar []struct {
			Accession string `xml:"accession,attr"`
		} `xml:"cvParam"`
	}
	type instrumentConfiguration struct {
		Analyzer []analyzer `xml:"componentList>analyzer"`
	}
	type instrumentConfigurationList struct {
		Conf []instrumentConfiguration `xml:"instrumentConfiguration"`
	}

	s := h.Section("instrumentConfigurationList")
	if s == nil {
		return nil, nil
	}
	var list instrumentConfigurationList
	if err := xml.Unmarshal([]byte(s.XML), &list); err != nil {
		return nil, err
	}
	var instr []string
	for _, conf := range list.Conf {
		for _, a := range conf.Analyzer {
			for _, p := range a.CvPar {
				instr = append(instr, p.Accession)
			}
		}
	}
	return instr, nil
}

// AppendSoftware adds an entry to the software list, unless one with the
// same id is present.
func (h *Header) AppendSoftware(id, version string) {
	for _, sw := range h.Software {
		if sw.ID == id {
			return
		}
	}
	h.Software = append(h.Software, Software{ID: id, Version: version})
}
