package msfile

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/spectra"
)

// Report holds statistics over all records of a file
type Report struct {
	Summary
	Software  []string `json:"software,omitempty"`
	Analyzers []string `json:"analyzers,omitempty"`
	// Levels counts spectra per MS level
	Levels   map[int]int `json:"levels"`
	Centroid int         `json:"centroidSpectra"`
	Peaks    int         `json:"peaks"`
	MZMin    float64     `json:"mzMin"`
	MZMax    float64     `json:"mzMax"`
	RTMin    float64     `json:"rtMinSeconds"`
	RTMax    float64     `json:"rtMaxSeconds"`
	// TotalTIC is the sum of the total ion current of all spectra,
	// computed from the intensities where no TIC term is present
	TotalTIC float64 `json:"totalTIC"`
	MaxTIC   float64 `json:"maxTIC"`
	// Encodings counts arrays per mzML array encoding
	Encodings map[string]int `json:"encodings"`
	// ChromatogramTypes counts chromatograms by their type term
	ChromatogramTypes map[string]int `json:"chromatogramTypes,omitempty"`
}

// Inspect reads every record and returns statistics about the file
func (h *Handle) Inspect(ctx context.Context) (*Report, error) {
	rep := &Report{
		Summary:   h.Summary(),
		Levels:    map[int]int{},
		Encodings: map[string]int{},
	}
	for _, sw := range h.header.Software {
		rep.Software = append(rep.Software, sw.ID+" "+sw.Version)
	}
	// analyzers are informational, an unparsable section is not an error
	rep.Analyzers, _ = h.header.Analyzers()

	groups := h.header.ParamGroups
	var mzMin, mzMax, rts, tics []float64
	err := h.each(ctx, h.ordered(), func(rec *spectra.Record) error {
		for i := range rec.Arrays {
			rep.Encodings[rec.Arrays[i].Encoding.String()]++
		}
		if rec.Kind == spectra.ChromatogramRecord {
			if f, ok := rec.ChromatogramType(groups...); ok {
				if rep.ChromatogramTypes == nil {
					rep.ChromatogramTypes = map[string]int{}
				}
				_, name := cv.Accession(f)
				rep.ChromatogramTypes[name]++
			}
			return nil
		}
		rep.Levels[rec.MSLevel(groups...)]++
		if rec.Centroid(groups...) {
			rep.Centroid++
		}
		if mz := rec.Array(spectra.KindMZ); mz != nil && len(mz.Values) > 0 {
			rep.Peaks += len(mz.Values)
			mzMin = append(mzMin, floats.Min(mz.Values))
			mzMax = append(mzMax, floats.Max(mz.Values))
		}
		if rt, ok := rec.RetentionTime(groups...); ok {
			rts = append(rts, rt)
		}
		tic := rec.TotalIonCurrent(groups...)
		if math.IsNaN(tic) {
			tic = 0
			if in := rec.Array(spectra.KindIntensity); in != nil {
				tic = floats.Sum(in.Values)
			}
		}
		tics = append(tics, tic)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(mzMin) > 0 {
		rep.MZMin = floats.Min(mzMin)
		rep.MZMax = floats.Max(mzMax)
	}
	if len(rts) > 0 {
		rep.RTMin = floats.Min(rts)
		rep.RTMax = floats.Max(rts)
	}
	if len(tics) > 0 {
		rep.TotalTIC = floats.Sum(tics)
		rep.MaxTIC = floats.Max(tics)
	}
	return rep, nil
}

// SortedLevels returns the MS levels of the report in increasing order
func (r *Report) SortedLevels() []int {
	levels := make([]int, 0, len(r.Levels))
	for l := range r.Levels {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}
