// Package mzml reads and writes mzML files. Reading is a single streaming
// pass over the XML tokens; spectra and chromatograms are returned one at
// a time and can also be located through an offset index.
package mzml

import "github.com/524D/mzbin/internal/spectra"

// Namespaces and schema locations written to mzML output
const (
	nsMzML       = "http://psi.hupo.org/ms/mzml"
	nsXSI        = "http://www.w3.org/2001/XMLSchema-instance"
	schemaMzML   = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.0.xsd"
	schemaIdx    = "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.2_idx.xsd"
	mzMLVersion  = "1.1.0"
	indexSpectra = "spectrum"
	indexChroms  = "chromatogram"
)

// state of the reader, one per open element
type state uint8

const (
	stDocument state = iota
	stIndexed
	stMzML
	stCVList
	stParamGroupList
	stParamGroup
	stSoftwareList
	stSoftware
	stCapture // preamble section kept as raw XML
	stRun
	stSpectrumList
	stChromatogramList
	stRecord
	stScanList
	stScan
	stScanWindowList
	stScanWindow
	stPrecursorList
	stPrecursor
	stIsolationWindow
	stSelectedIonList
	stSelectedIon
	stActivation
	stProductList
	stProduct
	stProductIsolationWindow
	stArrayList
	stArray
	stBinary
	stLeaf // cvParam and friends
	stSkip // element we do not interpret
)

// structural holds the elements that may only appear at one place.
// Finding one of them elsewhere is a structural error, other unknown
// elements are skipped.
var structural = map[string]bool{
	"mzML":                true,
	"run":                 true,
	"spectrumList":        true,
	"chromatogramList":    true,
	"spectrum":            true,
	"chromatogram":        true,
	"binaryDataArrayList": true,
	"binaryDataArray":     true,
	"binary":              true,
}

// paramScopes maps the states that carry parameters to their scope
var paramScopes = map[state]spectra.Scope{
	stRecord:                 spectra.ScopeRecord,
	stScanList:               spectra.ScopeScanList,
	stScan:                   spectra.ScopeScan,
	stScanWindow:             spectra.ScopeScanWindow,
	stPrecursor:              spectra.ScopePrecursor,
	stIsolationWindow:        spectra.ScopeIsolationWindow,
	stSelectedIon:            spectra.ScopeSelectedIon,
	stActivation:             spectra.ScopeActivation,
	stProduct:                spectra.ScopeProduct,
	stProductIsolationWindow: spectra.ScopeProductIsolationWindow,
}

func listName(kind spectra.RecordKind) string {
	if kind == spectra.ChromatogramRecord {
		return "chromatogramList"
	}
	return "spectrumList"
}

func recordName(kind spectra.RecordKind) string {
	if kind == spectra.ChromatogramRecord {
		return "chromatogram"
	}
	return "spectrum"
}
