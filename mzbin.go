// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/524D/mzbin/internal/b000"
	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/msfile"
	"github.com/524D/mzbin/internal/mzml"
	"github.com/524D/mzbin/internal/spectra"
)

// Program name and version, appended to software list of converted files
const progName = "mzbin"

var progVersion = `Unknown`

const (
	infoDefault = iota
	infoSilent
	infoVerbose
)

// ErrRangeSpec is returned for an invalid -items value
var ErrRangeSpec = errors.New("invalid range specification")

// Command line parameters
type params struct {
	to        *string // target format, empty if not converting
	out       *string // output file or directory
	arrays    *string // mzML array encodings
	codec     *string // B000 payload compression
	level     *int    // compression level
	shuffle   *bool
	float32   *bool
	overwrite *bool
	inspect   *bool
	show      *string // what to print as JSON
	spectrum  *string // id of a spectrum to print
	items     *string // range of records for -show spectrum/chromatogram
	binary    *bool   // print array values
	workers   *int
	verbosity int // Verbosity of progress messages (infoDefault...)
	args      []string

	target    msfile.Format
	encodings map[spectra.ArrayKind]spectra.Encoding
	b000Opts  b000.Options
}

// showWhat lists the values of -show
var showWhat = []string{"general", "run", "spectra", "chromatograms", "spectrum", "chromatogram"}

// Parse string like "5" or "10-20" into a half open range of record
// ordinals, clamped to n. A single number selects one record.
func parseItems(r string, n int) (int, int, bool, error) {
	re := regexp.MustCompile(`^\s*(\d*)(-(\d*))?\s*$`)
	m := re.FindStringSubmatch(r)
	if m == nil || (m[1] == "" && m[3] == "") {
		return 0, 0, false, ErrRangeSpec
	}
	from := 0
	if m[1] != "" {
		from, _ = strconv.Atoi(m[1])
	}
	if m[2] == "" {
		if from >= n {
			return n, n, true, nil
		}
		return from, from + 1, true, nil
	}
	to := n
	if m[3] != "" {
		to, _ = strconv.Atoi(m[3])
	}
	if from > to {
		return 0, 0, false, ErrRangeSpec
	}
	return min(from, n), min(to, n), false, nil
}

var arrayKinds = map[string]spectra.ArrayKind{
	"mz":        spectra.KindMZ,
	"intensity": spectra.KindIntensity,
	"time":      spectra.KindTime,
}

// Parse a list like "mz:linear-zlib,intensity:slof". A bare encoding
// applies to the m/z, intensity and time arrays.
func parseArrayEncodings(s string) (map[spectra.ArrayKind]spectra.Encoding, error) {
	if s == "" {
		return nil, nil
	}
	enc := make(map[spectra.ArrayKind]spectra.Encoding)
	for _, item := range strings.Split(s, ",") {
		kindName, encName, found := strings.Cut(item, ":")
		if !found {
			e, ok := spectra.ParseEncoding(item)
			if !ok {
				return nil, fmt.Errorf("invalid array encoding %q", item)
			}
			for _, k := range arrayKinds {
				enc[k] = e
			}
			continue
		}
		k, ok := arrayKinds[strings.ToLower(strings.TrimSpace(kindName))]
		if !ok {
			return nil, fmt.Errorf("invalid array kind %q, use mz, intensity or time", kindName)
		}
		e, ok := spectra.ParseEncoding(encName)
		if !ok {
			return nil, fmt.Errorf("invalid array encoding %q", encName)
		}
		enc[k] = e
	}
	return enc, nil
}

// outputName returns the name of the converted file for input. out may
// be empty, a file name or an existing directory.
func outputName(input, out string, target msfile.Format) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := stem + target.Extension()
	if out == "" {
		out = filepath.Dir(input)
	} else if fi, err := os.Stat(out); err != nil || !fi.IsDir() {
		return out
	}
	name = filepath.Join(out, name)
	if filepath.Clean(name) == filepath.Clean(input) {
		name = filepath.Join(out, stem+"-out"+target.Extension())
	}
	return name
}

// sanatizeParams checks the parameters and fills in derived values
func sanatizeParams(par *params) error {
	if len(par.args) != 1 {
		return errors.New("last argument must be the name of an mzML or B000 file, or a directory")
	}
	var err error
	if *par.to != "" {
		if par.target, err = msfile.ParseFormat(*par.to); err != nil {
			return err
		}
	}
	if par.encodings, err = parseArrayEncodings(*par.arrays); err != nil {
		return err
	}
	codec, err := compress.ParseType(*par.codec)
	if err != nil {
		return err
	}
	par.b000Opts = b000.Options{
		Codec:   codec,
		Level:   *par.level,
		Shuffle: *par.shuffle,
		Float32: *par.float32,
	}
	if _, err := compress.CreateCodec(codec, *par.level); err != nil {
		return err
	}
	if *par.workers < 1 {
		return fmt.Errorf("invalid number of workers %d", *par.workers)
	}
	if *par.show != "" {
		valid := false
		for _, w := range showWhat {
			valid = valid || w == *par.show
		}
		if !valid {
			return fmt.Errorf("invalid value %q for -show, use one of %s", *par.show, strings.Join(showWhat, ", "))
		}
	}
	if _, _, _, err := parseItems(*par.items, 0); err != nil {
		return fmt.Errorf("invalid value %q for -items", *par.items)
	}
	return nil
}

func openFile(name string, par params) (*msfile.Handle, error) {
	return msfile.Open(name, msfile.WithWorkers(*par.workers))
}

// convertFile converts input to the target format. Existing output is
// skipped unless -overwrite is given.
func convertFile(ctx context.Context, input string, par params) error {
	output := outputName(input, *par.out, par.target)
	if _, err := os.Stat(output); err == nil && !*par.overwrite {
		if par.verbosity != infoSilent {
			log.Printf("%s exists, skipping (use -overwrite to replace it)", output)
		}
		return nil
	}
	h, err := openFile(input, par)
	if err != nil {
		return err
	}
	defer h.Close()
	sum := h.Summary()
	if par.verbosity == infoVerbose {
		log.Printf("Read %s: %s, %d spectra, %d chromatograms, index %s",
			input, sum.Format, sum.SpectrumCount, sum.ChromatogramCount, sum.IndexSource)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	err = h.Convert(ctx, f, par.target, msfile.ConvertOptions{
		MzML:            mzml.WriteOptions{Encodings: par.encodings},
		B000:            par.b000Opts,
		Software:        progName,
		SoftwareVersion: progVersion,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(output)
		return err
	}
	if par.verbosity != infoSilent {
		fi, err := os.Stat(output)
		if err != nil {
			return err
		}
		log.Printf("Converted %s to %s (%d -> %d bytes)", input, output, sum.FileSize, fi.Size())
	}
	return nil
}

// convertDir converts all files in dir that are not in the target format
func convertDir(ctx context.Context, dir string, par params) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".mzml" && ext != ".b000") || ext == strings.ToLower(par.target.Extension()) {
			continue
		}
		if err := convertFile(ctx, filepath.Join(dir, e.Name()), par); err != nil {
			return err
		}
		n++
	}
	if n == 0 && par.verbosity != infoSilent {
		log.Printf("WARNING: no files to convert in %s", dir)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// recordOut drops the array values unless they were asked for
func recordOut(rec *spectra.Record, binary bool) *spectra.Record {
	if binary {
		return rec
	}
	r := *rec
	r.Arrays = make([]spectra.BinaryArray, len(rec.Arrays))
	for i, arr := range rec.Arrays {
		arr.Values = nil
		r.Arrays[i] = arr
	}
	return &r
}

// show prints the part of the file selected by -show, -spectrum or
// -inspect as JSON
func show(ctx context.Context, w io.Writer, h *msfile.Handle, par params) error {
	if *par.spectrum != "" {
		rec, err := h.ReadSpectrum(*par.spectrum)
		if err != nil {
			return err
		}
		return printJSON(w, recordOut(rec, *par.binary))
	}
	if *par.inspect {
		rep, err := h.Inspect(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, rep)
	}

	hdr := h.Header()
	switch *par.show {
	case "general":
		return printJSON(w, struct {
			msfile.Summary
			Version     string
			ID          string `json:",omitempty"`
			CVs         []spectra.CV
			ParamGroups []spectra.ParamGroup `json:",omitempty"`
			Software    []spectra.Software
			Sections    []spectra.Section `json:",omitempty"`
		}{h.Summary(), hdr.Version, hdr.ID, hdr.CVs, hdr.ParamGroups, hdr.Software, hdr.Sections})
	case "run":
		return printJSON(w, hdr.Run)
	case "spectra", "chromatograms":
		kind := spectra.SpectrumRecord
		if *par.show == "chromatograms" {
			kind = spectra.ChromatogramRecord
		}
		return printJSON(w, h.Index().Entries(kind))
	default:
		kind := spectra.SpectrumRecord
		if *par.show == "chromatogram" {
			kind = spectra.ChromatogramRecord
		}
		from, to, single, err := parseItems(*par.items, h.Index().Len(kind))
		if err != nil {
			return err
		}
		recs, err := h.ReadRange(ctx, kind, from, to)
		if err != nil {
			return err
		}
		if single {
			if len(recs) == 0 {
				return fmt.Errorf("%w: %s %s", spectra.ErrNotFound, kind, *par.items)
			}
			return printJSON(w, recordOut(recs[0], *par.binary))
		}
		out := make([]*spectra.Record, len(recs))
		for i, rec := range recs {
			out[i] = recordOut(rec, *par.binary)
		}
		return printJSON(w, out)
	}
}

func run(ctx context.Context, w io.Writer, par params) error {
	input := par.args[0]
	fi, err := os.Stat(input)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if *par.to == "" {
			return fmt.Errorf("%s is a directory, use -to to convert the files in it", input)
		}
		return convertDir(ctx, input, par)
	}
	if *par.to != "" {
		return convertFile(ctx, input, par)
	}

	h, err := openFile(input, par)
	if err != nil {
		return err
	}
	defer h.Close()
	if *par.show == "" && *par.spectrum == "" && !*par.inspect {
		return printJSON(w, h.Summary())
	}
	return show(ctx, w, h, par)
}

func usage() {
	exeName := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr,
		`USAGE:
  %s [options] <file|directory>

  This program converts mass spectrometry data between mzML and the
  compact binary format B000, and shows the contents of either.
  Without options, a summary of the file is printed as JSON.

OPTIONS:
`, exeName)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr,
		`
USAGE EXAMPLES:
  %s -to b000 -codec zstd -shuffle yeast.mzML
    Convert yeast.mzML to yeast.b000, compressing arrays with zstd.

  %s -to mzml -arrays mz:linear-zlib,intensity:slof yeast.b000
    Convert back to mzML, with numpress compressed arrays.

  %s -to b000 -o cache data/
    Convert all mzML files in directory data into directory cache.

  %s -show spectrum -items 0-10 -binary yeast.b000
    Print the first ten spectra including their peaks.
`, exeName, exeName, exeName, exeName)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	var par params

	par.to = flag.String("to", "",
		"convert to `format` mzml or b000")
	par.out = flag.String("o", "",
		"output `filename` or directory. Default is the input name with the\nextension of the target format")
	par.arrays = flag.String("arrays", "",
		"mzML array `encodings`"+`, e.g. "zlib" or "mz:linear-zlib,intensity:slof".
Valid encodings: none, zlib, linear, slof, pic, each numpress scheme
optionally followed by -zlib. Default is the encoding of the input.`)
	par.codec = flag.String("codec", "zstd",
		"B000 array compression `codec`: none, zlib, zstd, s2 or lz4")
	par.level = flag.Int("level", 0,
		"compression level for zlib and zstd, 0 for the default")
	par.shuffle = flag.Bool("shuffle", false,
		"shuffle bytes of B000 array values before compression")
	par.float32 = flag.Bool("float32", false,
		"store 64-bit float arrays with 32-bit precision in B000")
	par.overwrite = flag.Bool("overwrite", false,
		"replace existing output files")
	par.inspect = flag.Bool("inspect", false,
		"print statistics over all records as JSON")
	par.show = flag.String("show", "",
		"print `part` of the file as JSON: "+strings.Join(showWhat, ", "))
	par.spectrum = flag.String("spectrum", "",
		"print the spectrum with this `id` as JSON")
	par.items = flag.String("items", "0-100",
		"`range` of records for -show spectrum and chromatogram, e.g. 5 or 0-10\n(end is exclusive)")
	par.binary = flag.Bool("binary", false,
		"include array values when printing records")
	par.workers = flag.Int("workers", runtime.GOMAXPROCS(0),
		"number of records decoded in parallel")
	version := flag.Bool("version", false,
		`Show software version`)
	verbose := flag.Bool("verbose", false,
		`Print more verbose progress information`)
	quiet := flag.Bool("quiet", false,
		`Don't print any output except for errors`)
	flag.Usage = usage
	flag.Parse()
	if *version {
		if progVersion == `Unknown` {
			progVersion = `Unknown
Please build this program with script 'build.sh' so that the git version is shown here.`
		}
		fmt.Fprintf(os.Stderr, "%s version %s\n", progName, progVersion)
		return
	}
	if *verbose {
		par.verbosity = infoVerbose
	}
	if *quiet {
		par.verbosity = infoSilent
	}
	par.args = flag.Args()

	if err := sanatizeParams(&par); err != nil {
		fmt.Fprintf(os.Stderr, "%v\nType %s --help for usage\n", err, filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	if err := run(context.Background(), os.Stdout, par); err != nil {
		log.Fatalf("%v", err)
	}
}
