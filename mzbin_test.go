package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/msfile"
	"github.com/524D/mzbin/internal/mzml"
	"github.com/524D/mzbin/internal/spectra"
)

func TestParseItems(t *testing.T) {
	// Test case 1: Range
	from, to, single, err := parseItems("2-5", 10)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if from != 2 || to != 5 || single {
		t.Errorf("Expected 2-5, got: %d-%d single %v", from, to, single)
	}

	// Test case 2: Single item
	from, to, single, err = parseItems("7", 10)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if from != 7 || to != 8 || !single {
		t.Errorf("Expected 7-8 single, got: %d-%d single %v", from, to, single)
	}

	// Test case 3: Range clamped to number of records
	from, to, _, err = parseItems("0-100", 10)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if from != 0 || to != 10 {
		t.Errorf("Expected 0-10, got: %d-%d", from, to)
	}

	// Test case 4: Open ends
	from, to, _, err = parseItems("-3", 10)
	if err != nil || from != 0 || to != 3 {
		t.Errorf("Expected 0-3, got: %d-%d, %v", from, to, err)
	}
	from, to, _, err = parseItems("4-", 10)
	if err != nil || from != 4 || to != 10 {
		t.Errorf("Expected 4-10, got: %d-%d, %v", from, to, err)
	}

	// Test case 5: Single item past the end selects nothing
	from, to, _, err = parseItems("12", 10)
	if err != nil || from != to {
		t.Errorf("Expected empty range, got: %d-%d, %v", from, to, err)
	}

	// Test case 6: Invalid ranges
	for _, r := range []string{"5-2", "a", "", "1:2", "-"} {
		_, _, _, err = parseItems(r, 10)
		if !errors.Is(err, ErrRangeSpec) {
			t.Errorf("%q: expected error: %v, got: %v", r, ErrRangeSpec, err)
		}
	}
}

func TestParseArrayEncodings(t *testing.T) {
	enc, err := parseArrayEncodings("mz:linear-zlib,intensity:slof")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := map[spectra.ArrayKind]spectra.Encoding{
		spectra.KindMZ:        {Numpress: spectra.NumpressLinear, Zlib: true},
		spectra.KindIntensity: {Numpress: spectra.NumpressSlof},
	}
	if diff := cmp.Diff(want, enc); diff != "" {
		t.Errorf("encodings mismatch (-want +got):\n%s", diff)
	}

	enc, err = parseArrayEncodings("zlib")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(enc) != 3 || !enc[spectra.KindTime].Zlib {
		t.Errorf("Expected zlib for all kinds, got: %v", enc)
	}

	for _, s := range []string{"mz:gzip", "charge:zlib", "fast"} {
		if _, err := parseArrayEncodings(s); err == nil {
			t.Errorf("%q: expected error, got nil", s)
		}
	}
}

func TestOutputName(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		input, out string
		target     msfile.Format
		want       string
	}{
		{filepath.Join(dir, "a.mzML"), "", msfile.FormatB000, filepath.Join(dir, "a.b000")},
		{filepath.Join(dir, "a.b000"), "", msfile.FormatMzML, filepath.Join(dir, "a.mzML")},
		{filepath.Join(dir, "a.mzML"), "", msfile.FormatMzML, filepath.Join(dir, "a-out.mzML")},
		{"a.mzML", dir, msfile.FormatB000, filepath.Join(dir, "a.b000")},
		{"a.mzML", "x.bin", msfile.FormatB000, "x.bin"},
	}
	for _, tt := range tests {
		if got := outputName(tt.input, tt.out, tt.target); got != tt.want {
			t.Errorf("outputName(%q, %q): expected %q, got %q", tt.input, tt.out, tt.want, got)
		}
	}
}

// testParams returns the default parameters for args
func testParams(args ...string) params {
	str := func(s string) *string { return &s }
	boolean := func(b bool) *bool { return &b }
	integer := func(i int) *int { return &i }
	return params{
		to:        str(""),
		out:       str(""),
		arrays:    str(""),
		codec:     str("zstd"),
		level:     integer(0),
		shuffle:   boolean(false),
		float32:   boolean(false),
		overwrite: boolean(false),
		inspect:   boolean(false),
		show:      str(""),
		spectrum:  str(""),
		items:     str("0-100"),
		binary:    boolean(false),
		workers:   integer(2),
		verbosity: infoSilent,
		args:      args,
	}
}

func writeTestMzML(t *testing.T, dir string) string {
	t.Helper()
	doc := &spectra.Document{Header: spectra.Header{
		Version: "1.1.0",
		CVs:     []spectra.CV{{ID: "MS", FullName: "PSI-MS", URI: "https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo"}},
		Run:     spectra.Run{ID: "run", DefaultInstrumentConfigurationRef: "IC1"},
	}}
	for i := 0; i < 4; i++ {
		doc.Add(&spectra.Record{
			ID:                 "scan=" + strconv.Itoa(i+1),
			Index:              i,
			DefaultArrayLength: 3,
			Params: []spectra.Param{
				spectra.NewCVParam(spectra.ScopeRecord, cv.AccMSLevel, "ms level", "1"),
			},
			Arrays: []spectra.BinaryArray{
				{Kind: spectra.KindMZ, Type: spectra.Float64, Values: []float64{100.25, 200.5 + float64(i), 300.125}},
				{Kind: spectra.KindIntensity, Type: spectra.Float32, Values: []float64{10, 20, float64(30 * i)}},
			},
		})
	}
	var buf bytes.Buffer
	if err := mzml.Write(&buf, doc, mzml.WriteOptions{}); err != nil {
		t.Fatalf("Error writing mzML: %v", err)
	}
	name := filepath.Join(dir, "test.mzML")
	if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Error writing mzML: %v", err)
	}
	return name
}

// JSONCompare compares two JSON documents, floats with a relative
// tolerance
func JSONCompare(t testing.TB, expected, actual io.Reader) {
	alwaysEqual := cmp.Comparer(func(_, _ interface{}) bool { return true })

	opts := cmp.Options{
		cmp.FilterValues(func(x, y float64) bool {
			return math.IsNaN(x) && math.IsNaN(y)
		}, alwaysEqual),
		cmp.FilterValues(func(x, y float64) bool {
			return !math.IsNaN(x) && !math.IsNaN(y)
		}, cmp.Comparer(func(x, y float64) bool {
			delta := math.Abs(x - y)
			mean := math.Abs(x+y) / 2.0
			return delta == 0 || delta/mean < 0.00001
		})),
	}

	var in1 any
	var in2 any

	dec := json.NewDecoder(expected)
	err := dec.Decode(&in1)
	if err != nil {
		t.Fatalf("Error decoding expected JSON: %v", err)
	}
	dec = json.NewDecoder(actual)
	err = dec.Decode(&in2)
	if err != nil {
		t.Fatalf("Error decoding actual JSON: %v", err)
	}

	if diff := cmp.Diff(in1, in2, opts); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input := writeTestMzML(t, dir)
	ctx := context.Background()

	// Convert to B000 next to the input
	par := testParams(input)
	*par.to = "b000"
	if err := sanatizeParams(&par); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := run(ctx, io.Discard, par); err != nil {
		t.Fatalf("Error converting: %v", err)
	}
	output := filepath.Join(dir, "test.b000")
	fi, err := os.Stat(output)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}

	// Existing output is kept
	if err := run(ctx, io.Discard, par); err != nil {
		t.Fatalf("Error converting: %v", err)
	}
	if fi2, _ := os.Stat(output); !fi2.ModTime().Equal(fi.ModTime()) {
		t.Errorf("Expected %s not to be overwritten", output)
	}

	// Both files show the same spectra
	var want, got bytes.Buffer
	for _, tt := range []struct {
		file string
		buf  *bytes.Buffer
	}{{input, &want}, {output, &got}} {
		par := testParams(tt.file)
		*par.show = "spectrum"
		*par.items = "1-3"
		*par.binary = true
		if err := sanatizeParams(&par); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if err := run(ctx, tt.buf, par); err != nil {
			t.Fatalf("Error showing %s: %v", tt.file, err)
		}
	}
	shown := bytes.Clone(got.Bytes())
	JSONCompare(t, &want, &got)

	var recs []spectra.Record
	if err := json.Unmarshal(shown, &recs); err != nil {
		t.Fatalf("Error decoding JSON: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "scan=2" || recs[1].Arrays[0].Values[1] != 202.5 || recs[0].Arrays[0].Values[1] != 201.5 {
		t.Errorf("Unexpected spectra: %+v", recs)
	}

	// Summary
	par = testParams(output)
	var sum bytes.Buffer
	if err := run(ctx, &sum, par); err != nil {
		t.Fatalf("Error showing summary: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(sum.Bytes(), &raw); err != nil {
		t.Fatalf("Error decoding JSON: %v", err)
	}
	if raw["format"] != "b000" || raw["spectrumCount"] != 4.0 {
		t.Errorf("Unexpected summary: %v", raw)
	}
}

func TestRunDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTestMzML(t, dir)
	outDir := filepath.Join(dir, "out")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	par := testParams(dir)
	*par.to = "b000"
	*par.out = outDir
	*par.codec = "lz4"
	*par.shuffle = true
	if err := sanatizeParams(&par); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := run(context.Background(), io.Discard, par); err != nil {
		t.Fatalf("Error converting directory: %v", err)
	}
	h, err := msfile.Open(filepath.Join(outDir, "test.b000"))
	if err != nil {
		t.Fatalf("Error opening output: %v", err)
	}
	defer h.Close()
	if n := h.Summary().SpectrumCount; n != 4 {
		t.Errorf("Expected 4 spectra, got: %d", n)
	}
	if sw := h.Header().Software; len(sw) == 0 || sw[len(sw)-1].ID != progName {
		t.Errorf("Expected %s in software list, got: %v", progName, sw)
	}
}

func TestSanatizeParams(t *testing.T) {
	tests := []struct {
		name string
		set  func(par *params)
	}{
		{"format", func(par *params) { *par.to = "mgf" }},
		{"codec", func(par *params) { *par.codec = "brotli" }},
		{"arrays", func(par *params) { *par.arrays = "mz:slow" }},
		{"show", func(par *params) { *par.show = "everything" }},
		{"items", func(par *params) { *par.items = "9-1" }},
		{"workers", func(par *params) { *par.workers = 0 }},
		{"args", func(par *params) { par.args = nil }},
	}
	for _, tt := range tests {
		par := testParams("x.mzML")
		tt.set(&par)
		if err := sanatizeParams(&par); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}
