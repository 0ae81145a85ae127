// Package cv resolves PSI-MS controlled vocabulary accessions to the
// semantic fields the mzML reader and the B000 codec understand.
//
// The table is static on purpose: accessions that are not listed resolve
// to FieldUnknown and are carried through as opaque parameters.
package cv

// Field is the semantic meaning of a CV accession
type Field uint16

const (
	FieldUnknown Field = iota

	// Binary data array kinds
	FieldMZArray
	FieldIntensityArray
	FieldTimeArray

	// Binary data types
	FieldFloat32
	FieldFloat64
	FieldInt32
	FieldInt64

	// Binary data compression
	FieldNoCompression
	FieldZlib
	FieldNumpressLinear
	FieldNumpressPic
	FieldNumpressSlof
	FieldNumpressLinearZlib
	FieldNumpressPicZlib
	FieldNumpressSlofZlib
	// Compression schemes that are defined in the vocabulary but that
	// this package cannot decode
	FieldUnsupportedCompression

	// Spectrum and scan scalars
	FieldMSLevel
	FieldScanStartTime
	FieldSelectedIonMZ
	FieldIsolationTargetMZ
	FieldIsolationLowerOffset
	FieldIsolationUpperOffset
	FieldTotalIonCurrent
	FieldPositiveScan
	FieldNegativeScan
	FieldChargeState
	FieldPeakIntensity
	FieldBasePeakMZ
	FieldBasePeakIntensity
	FieldLowestMZ
	FieldHighestMZ
	FieldScanWindowLower
	FieldScanWindowUpper
	FieldCentroid
	FieldProfile
	FieldMS1Spectrum
	FieldMSnSpectrum
	FieldIonInjectionTime
	FieldCollisionEnergy
	FieldFilterString

	// Chromatogram types
	FieldTICChromatogram
	FieldSRMChromatogram
	FieldSICChromatogram
	FieldBasePeakChromatogram

	// Units
	FieldUnitSecond
	FieldUnitMinute
	FieldUnitMillisecond
	FieldUnitMZ
	FieldUnitCounts
)

// Term describes a known accession
type Term struct {
	Field Field
	Name  string
}

// Common accessions
const (
	AccMZArray        = "MS:1000514"
	AccIntensityArray = "MS:1000515"
	AccTimeArray      = "MS:1000595"
	AccFloat32        = "MS:1000521"
	AccFloat64        = "MS:1000523"
	AccInt32          = "MS:1000519"
	AccInt64          = "MS:1000522"
	AccNoCompression  = "MS:1000576"
	AccZlib           = "MS:1000574"
	AccMSLevel        = "MS:1000511"
	AccScanStartTime  = "MS:1000016"
	AccSelectedIonMZ  = "MS:1000744"
	AccTIC            = "MS:1000285"
	AccUnitSecond     = "UO:0000010"
	AccUnitMinute     = "UO:0000031"
	AccUnitMZ         = "MS:1000040"
	AccUnitCounts     = "MS:1000131"
)

var terms = map[string]Term{
	AccMZArray:        {FieldMZArray, "m/z array"},
	AccIntensityArray: {FieldIntensityArray, "intensity array"},
	AccTimeArray:      {FieldTimeArray, "time array"},

	AccFloat32: {FieldFloat32, "32-bit float"},
	AccFloat64: {FieldFloat64, "64-bit float"},
	AccInt32:   {FieldInt32, "32-bit integer"},
	AccInt64:   {FieldInt64, "64-bit integer"},

	AccNoCompression: {FieldNoCompression, "no compression"},
	AccZlib:          {FieldZlib, "zlib compression"},
	"MS:1002312":     {FieldNumpressLinear, "MS-Numpress linear prediction compression"},
	"MS:1002313":     {FieldNumpressPic, "MS-Numpress positive integer compression"},
	"MS:1002314":     {FieldNumpressSlof, "MS-Numpress short logged float compression"},
	"MS:1002746":     {FieldNumpressLinearZlib, "MS-Numpress linear prediction compression followed by zlib compression"},
	"MS:1002747":     {FieldNumpressPicZlib, "MS-Numpress positive integer compression followed by zlib compression"},
	"MS:1002748":     {FieldNumpressSlofZlib, "MS-Numpress short logged float compression followed by zlib compression"},
	"MS:1003088":     {FieldUnsupportedCompression, "truncation, delta prediction and zlib compression"},
	"MS:1003089":     {FieldUnsupportedCompression, "truncation, linear prediction and zlib compression"},
	"MS:1003090":     {FieldUnsupportedCompression, "delta prediction and zlib compression"},
	"MS:1003091":     {FieldUnsupportedCompression, "linear prediction and zlib compression"},

	AccMSLevel:       {FieldMSLevel, "ms level"},
	AccScanStartTime: {FieldScanStartTime, "scan start time"},
	AccSelectedIonMZ: {FieldSelectedIonMZ, "selected ion m/z"},
	"MS:1000827":     {FieldIsolationTargetMZ, "isolation window target m/z"},
	"MS:1000828":     {FieldIsolationLowerOffset, "isolation window lower offset"},
	"MS:1000829":     {FieldIsolationUpperOffset, "isolation window upper offset"},
	AccTIC:           {FieldTotalIonCurrent, "total ion current"},
	"MS:1000130":     {FieldPositiveScan, "positive scan"},
	"MS:1000129":     {FieldNegativeScan, "negative scan"},
	"MS:1000041":     {FieldChargeState, "charge state"},
	"MS:1000042":     {FieldPeakIntensity, "peak intensity"},
	"MS:1000504":     {FieldBasePeakMZ, "base peak m/z"},
	"MS:1000505":     {FieldBasePeakIntensity, "base peak intensity"},
	"MS:1000528":     {FieldLowestMZ, "lowest observed m/z"},
	"MS:1000527":     {FieldHighestMZ, "highest observed m/z"},
	"MS:1000501":     {FieldScanWindowLower, "scan window lower limit"},
	"MS:1000500":     {FieldScanWindowUpper, "scan window upper limit"},
	"MS:1000127":     {FieldCentroid, "centroid spectrum"},
	"MS:1000128":     {FieldProfile, "profile spectrum"},
	"MS:1000579":     {FieldMS1Spectrum, "MS1 spectrum"},
	"MS:1000580":     {FieldMSnSpectrum, "MSn spectrum"},
	"MS:1000927":     {FieldIonInjectionTime, "ion injection time"},
	"MS:1000045":     {FieldCollisionEnergy, "collision energy"},
	"MS:1000512":     {FieldFilterString, "filter string"},

	"MS:1000235": {FieldTICChromatogram, "total ion current chromatogram"},
	"MS:1001473": {FieldSRMChromatogram, "selected reaction monitoring chromatogram"},
	"MS:1000627": {FieldSICChromatogram, "selected ion current chromatogram"},
	"MS:1000628": {FieldBasePeakChromatogram, "basepeak chromatogram"},

	AccUnitSecond: {FieldUnitSecond, "second"},
	AccUnitMinute: {FieldUnitMinute, "minute"},
	// Obsolete minute term, still found in older files
	"MS:1000038":  {FieldUnitMinute, "minute"},
	"UO:0000028":  {FieldUnitMillisecond, "millisecond"},
	AccUnitMZ:     {FieldUnitMZ, "m/z"},
	AccUnitCounts: {FieldUnitCounts, "number of detector counts"},
}

// accessions is the reverse of terms; the first accession listed for a
// field is the preferred one when writing.
var accessions = map[Field]string{
	FieldMZArray:            AccMZArray,
	FieldIntensityArray:     AccIntensityArray,
	FieldTimeArray:          AccTimeArray,
	FieldFloat32:            AccFloat32,
	FieldFloat64:            AccFloat64,
	FieldInt32:              AccInt32,
	FieldInt64:              AccInt64,
	FieldNoCompression:      AccNoCompression,
	FieldZlib:               AccZlib,
	FieldNumpressLinear:     "MS:1002312",
	FieldNumpressPic:        "MS:1002313",
	FieldNumpressSlof:       "MS:1002314",
	FieldNumpressLinearZlib: "MS:1002746",
	FieldNumpressPicZlib:    "MS:1002747",
	FieldNumpressSlofZlib:   "MS:1002748",
	FieldUnitSecond:         AccUnitSecond,
	FieldUnitMinute:         AccUnitMinute,
	FieldUnitMZ:             AccUnitMZ,
	FieldUnitCounts:         AccUnitCounts,

	FieldTICChromatogram:      "MS:1000235",
	FieldSRMChromatogram:      "MS:1001473",
	FieldSICChromatogram:      "MS:1000627",
	FieldBasePeakChromatogram: "MS:1000628",
}

// Lookup resolves an accession. Unknown accessions return a Term with
// FieldUnknown and ok == false.
func Lookup(accession string) (Term, bool) {
	t, ok := terms[accession]
	return t, ok
}

// FieldOf is Lookup without the ok flag
func FieldOf(accession string) Field {
	return terms[accession].Field
}

// Accession returns the preferred accession and name for f
func Accession(f Field) (accession string, name string) {
	acc, ok := accessions[f]
	if !ok {
		return "", ""
	}
	return acc, terms[acc].Name
}

// Prefix returns the CV reference ("MS", "UO") of an accession
func Prefix(accession string) string {
	for i := 0; i < len(accession); i++ {
		if accession[i] == ':' {
			return accession[:i]
		}
	}
	return ""
}

// IsCompression reports whether f is one of the binary compression terms
func (f Field) IsCompression() bool {
	return f >= FieldNoCompression && f <= FieldUnsupportedCompression
}

// IsDataType reports whether f is one of the binary data type terms
func (f Field) IsDataType() bool {
	return f >= FieldFloat32 && f <= FieldInt64
}

// IsArrayKind reports whether f names a binary data array kind
func (f Field) IsArrayKind() bool {
	return f >= FieldMZArray && f <= FieldTimeArray
}

// IsChromatogramType reports whether f is one of the chromatogram types
func (f Field) IsChromatogramType() bool {
	return f >= FieldTICChromatogram && f <= FieldBasePeakChromatogram
}
