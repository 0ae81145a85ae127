package spectra

import (
	"math"
	"strconv"

	"github.com/524D/mzbin/internal/cv"
)

// Scope is the element that carried a parameter
type Scope uint8

const (
	ScopeRecord Scope = iota
	ScopeScanList
	ScopeScan
	ScopeScanWindow
	ScopePrecursor
	ScopeIsolationWindow
	ScopeSelectedIon
	ScopeActivation
	ScopeProduct
	ScopeProductIsolationWindow
	ScopeArray
	numScopes
)

var scopeNames = [...]string{
	ScopeRecord:                 "record",
	ScopeScanList:               "scanList",
	ScopeScan:                   "scan",
	ScopeScanWindow:             "scanWindow",
	ScopePrecursor:              "precursor",
	ScopeIsolationWindow:        "isolationWindow",
	ScopeSelectedIon:            "selectedIon",
	ScopeActivation:             "activation",
	ScopeProduct:                "product",
	ScopeProductIsolationWindow: "productIsolationWindow",
	ScopeArray:                  "binaryDataArray",
}

func (s Scope) String() string {
	if s < numScopes {
		return scopeNames[s]
	}
	return "unknown"
}

// Valid reports whether s is a known scope
func (s Scope) Valid() bool { return s < numScopes }

// ParamKind is the element type of a parameter
type ParamKind uint8

const (
	CVParam ParamKind = iota
	UserParam
	GroupRef // referenceableParamGroupRef, Name holds the ref
	Attr     // attribute of the scope element, Name holds the attribute name
	numParamKinds
)

// Valid reports whether k is a known kind
func (k ParamKind) Valid() bool { return k < numParamKinds }

// Param is a cvParam, userParam, group reference or element attribute.
// Group and Sub number repeated elements, e.g. the second scan of a
// spectrum has Group 1, and its first scan window has Sub 0.
type Param struct {
	Scope         Scope
	Kind          ParamKind
	Group         uint16
	Sub           uint16
	Field         cv.Field `json:"-"`
	CVRef         string   `json:",omitempty"`
	Accession     string   `json:",omitempty"`
	Name          string   `json:",omitempty"`
	Value         string   `json:",omitempty"`
	Type          string   `json:",omitempty"`
	UnitCVRef     string   `json:",omitempty"`
	UnitAccession string   `json:",omitempty"`
	UnitName      string   `json:",omitempty"`
}

// NewCVParam returns a resolved cvParam
func NewCVParam(scope Scope, accession, name, value string) Param {
	return Param{
		Scope:     scope,
		Kind:      CVParam,
		Field:     cv.FieldOf(accession),
		CVRef:     cv.Prefix(accession),
		Accession: accession,
		Name:      name,
		Value:     value,
	}
}

// WithUnit sets the unit of p from a unit accession
func (p Param) WithUnit(accession, name string) Param {
	p.UnitCVRef = cv.Prefix(accession)
	p.UnitAccession = accession
	p.UnitName = name
	return p
}

// Float returns the value of p as float64
func (p *Param) Float() (float64, error) {
	return strconv.ParseFloat(p.Value, 64)
}

// Find returns the first cvParam with field f, or nil. Params of the
// record come first, then those of the referenceable param groups it
// refers to; groups is normally Header.ParamGroups.
func (r *Record) Find(f cv.Field, groups ...ParamGroup) *Param {
	return r.find(groups, func(p *Param) bool { return p.Field == f })
}

func (r *Record) find(groups []ParamGroup, match func(*Param) bool) *Param {
	for i := range r.Params {
		if r.Params[i].Kind == CVParam && match(&r.Params[i]) {
			return &r.Params[i]
		}
	}
	for _, ref := range r.Params {
		if ref.Kind != GroupRef {
			continue
		}
		for _, g := range groups {
			if g.ID != ref.Name {
				continue
			}
			for i := range g.Params {
				if g.Params[i].Kind == CVParam && match(&g.Params[i]) {
					return &g.Params[i]
				}
			}
		}
	}
	return nil
}

// Has reports whether r carries a cvParam with field f
func (r *Record) Has(f cv.Field, groups ...ParamGroup) bool {
	return r.Find(f, groups...) != nil
}

// Attr returns the attribute name of the element scope/group/sub
func (r *Record) Attr(scope Scope, group uint16, name string) (string, bool) {
	for _, p := range r.Params {
		if p.Kind == Attr && p.Scope == scope && p.Group == group && p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// RetentionTime returns the scan start time in seconds, converting
// from minutes when the unit says so.
func (r *Record) RetentionTime(groups ...ParamGroup) (float64, bool) {
	p := r.Find(cv.FieldScanStartTime, groups...)
	if p == nil {
		return 0, false
	}
	rt, err := p.Float()
	if err != nil {
		return 0, false
	}
	if cv.FieldOf(p.UnitAccession) == cv.FieldUnitMinute {
		rt *= 60
	}
	return rt, true
}

// MSLevel returns the MS level, 1 if not specified
func (r *Record) MSLevel(groups ...ParamGroup) int {
	p := r.Find(cv.FieldMSLevel, groups...)
	if p == nil {
		return 1
	}
	l, err := strconv.Atoi(p.Value)
	if err != nil {
		return 1
	}
	return l
}

// PrecursorMZ returns the m/z of the first selected ion, or the
// isolation window target if no selected ion is given.
func (r *Record) PrecursorMZ(groups ...ParamGroup) (float64, bool) {
	p := r.Find(cv.FieldSelectedIonMZ, groups...)
	if p == nil {
		p = r.Find(cv.FieldIsolationTargetMZ, groups...)
	}
	if p == nil {
		return 0, false
	}
	mz, err := p.Float()
	return mz, err == nil
}

// TotalIonCurrent returns the total ion current, or NaN if not found
func (r *Record) TotalIonCurrent(groups ...ParamGroup) float64 {
	p := r.Find(cv.FieldTotalIonCurrent, groups...)
	if p == nil {
		return math.NaN()
	}
	tic, err := p.Float()
	if err != nil {
		return math.NaN()
	}
	return tic
}

// Polarity returns +1, -1 or 0 when unknown
func (r *Record) Polarity(groups ...ParamGroup) int {
	switch {
	case r.Has(cv.FieldPositiveScan, groups...):
		return 1
	case r.Has(cv.FieldNegativeScan, groups...):
		return -1
	}
	return 0
}

// Centroid returns true if the spectrum contains centroid peaks
func (r *Record) Centroid(groups ...ParamGroup) bool {
	return r.Has(cv.FieldCentroid, groups...)
}

// ChromatogramType returns the chromatogram type term
func (r *Record) ChromatogramType(groups ...ParamGroup) (cv.Field, bool) {
	if p := r.find(groups, func(p *Param) bool { return p.Field.IsChromatogramType() }); p != nil {
		return p.Field, true
	}
	return cv.FieldUnknown, false
}
