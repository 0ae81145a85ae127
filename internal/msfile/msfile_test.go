package msfile

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbin/internal/b000"
	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/mzml"
	"github.com/524D/mzbin/internal/spectra"
)

// testDocument returns n spectra, alternating MS1 and MS2, and a TIC
// chromatogram
func testDocument(n int) *spectra.Document {
	rnd := rand.New(rand.NewSource(int64(n)))
	doc := &spectra.Document{Header: spectra.Header{
		Version:  "1.1.0",
		CVs:      []spectra.CV{{ID: "MS", FullName: "PSI-MS", URI: "https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo"}, {ID: "UO", FullName: "Unit Ontology", URI: "http://ontologies.berkeleybop.org/uo.obo"}},
		Software: []spectra.Software{{ID: "acquisition", Version: "3.1"}},
		Run:      spectra.Run{ID: "run", DefaultInstrumentConfigurationRef: "IC1"},
	}}
	times := make([]float64, n)
	tics := make([]float64, n)
	for i := 0; i < n; i++ {
		peaks := 5 + rnd.Intn(40)
		mz := make([]float64, peaks)
		intens := make([]float64, peaks)
		for j := range mz {
			mz[j] = 150 + rnd.Float64()*1500
			intens[j] = float64(rnd.Intn(100000))
		}
		sort.Float64s(mz)
		times[i] = float64(i) * 2.5
		level := 1 + i%2
		rec := &spectra.Record{
			Kind:               spectra.SpectrumRecord,
			ID:                 "scan=" + strconv.Itoa(i+1),
			Index:              i,
			DefaultArrayLength: peaks,
			Params: []spectra.Param{
				spectra.NewCVParam(spectra.ScopeRecord, cv.AccMSLevel, "ms level", strconv.Itoa(level)),
				spectra.NewCVParam(spectra.ScopeRecord, "MS:1000127", "centroid spectrum", ""),
				spectra.NewCVParam(spectra.ScopeScan, cv.AccScanStartTime, "scan start time", strconv.FormatFloat(times[i], 'f', -1, 64)).WithUnit(cv.AccUnitSecond, "second"),
			},
			Arrays: []spectra.BinaryArray{
				{Kind: spectra.KindMZ, Type: spectra.Float64, Values: mz},
				{Kind: spectra.KindIntensity, Type: spectra.Float32, Values: intens},
			},
		}
		if level == 2 {
			rec.Params = append(rec.Params,
				spectra.Param{Scope: spectra.ScopePrecursor, Kind: spectra.Attr, Name: "spectrumRef", Value: "scan=" + strconv.Itoa(i)},
				spectra.NewCVParam(spectra.ScopeSelectedIon, cv.AccSelectedIonMZ, "selected ion m/z", "445.3").WithUnit(cv.AccUnitMZ, "m/z"),
				spectra.NewCVParam(spectra.ScopeActivation, "MS:1000133", "collision-induced dissociation", ""),
			)
		}
		for _, v := range intens {
			tics[i] += v
		}
		doc.Add(rec)
	}
	doc.Add(&spectra.Record{
		Kind:               spectra.ChromatogramRecord,
		ID:                 "TIC",
		DefaultArrayLength: n,
		Params:             []spectra.Param{spectra.NewCVParam(spectra.ScopeRecord, "MS:1000235", "total ion current chromatogram", "")},
		Arrays: []spectra.BinaryArray{
			{Kind: spectra.KindTime, Type: spectra.Float64, Values: times},
			{Kind: spectra.KindIntensity, Type: spectra.Float64, Values: tics},
		},
	})
	return doc
}

// writeMzML writes doc to a file and returns its name and the document
// as read back by the sequential reader
func writeMzML(t *testing.T, doc *spectra.Document, opts mzml.WriteOptions) (string, *spectra.Document) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, mzml.Write(&buf, doc, opts))
	name := filepath.Join(t.TempDir(), "test.mzML")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0o644))
	want, err := mzml.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return name, want
}

func openFile(t *testing.T, name string, opts ...Option) *Handle {
	t.Helper()
	h, err := Open(name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func convertFile(t *testing.T, h *Handle, target Format, opts ConvertOptions) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "out"+target.Extension())
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, h.Convert(context.Background(), f, target, opts))
	return name
}

func TestOpen(t *testing.T) {
	doc := testDocument(12)
	for _, noIndex := range []bool{false, true} {
		name, want := writeMzML(t, doc, mzml.WriteOptions{NoIndex: noIndex})
		h := openFile(t, name)
		s := h.Summary()
		require.Equal(t, FormatMzML, s.Format)
		require.Equal(t, 12, s.SpectrumCount)
		require.Equal(t, 1, s.ChromatogramCount)
		fi, err := os.Stat(name)
		require.NoError(t, err)
		require.Equal(t, fi.Size(), s.FileSize)
		if noIndex {
			require.Equal(t, mzml.IndexScanned, s.IndexSource)
		} else {
			require.Equal(t, mzml.IndexEmbedded, s.IndexSource)
		}
		require.Equal(t, want.Header, *h.Header())

		rec, err := h.ReadSpectrum("scan=7")
		require.NoError(t, err)
		require.Equal(t, want.Spectra[6], rec)
		again, err := h.ReadSpectrum("scan=7")
		require.NoError(t, err)
		require.Same(t, rec, again)
		tic, err := h.ReadChromatogram("TIC")
		require.NoError(t, err)
		require.Equal(t, want.Chromatograms[0], tic)

		_, err = h.ReadSpectrum("scan=13")
		require.ErrorIs(t, err, spectra.ErrNotFound)
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	name := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(name, []byte("m/z\tintensity\n100.1\t5\n"), 0o644))
	_, err := Open(name)
	require.ErrorIs(t, err, spectra.ErrFormatMismatch)

	_, err = Open(name, WithWorkers(0))
	require.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "missing.mzML"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDocumentEqualsSequential(t *testing.T) {
	name, want := writeMzML(t, testDocument(40), mzml.WriteOptions{})
	for _, workers := range []int{1, 3, 16} {
		h := openFile(t, name, WithWorkers(workers), WithCacheSize(0))
		got, err := h.Document(context.Background())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%d workers: mismatch (-want +got):\n%s", workers, diff)
		}
	}
}

func TestConvert(t *testing.T) {
	name, want := writeMzML(t, testDocument(20), mzml.WriteOptions{})
	h := openFile(t, name)

	for _, opts := range []b000.Options{
		{},
		{Codec: compress.Zstd, Shuffle: true},
		{Codec: compress.LZ4},
	} {
		bin := convertFile(t, h, FormatB000, ConvertOptions{B000: opts})
		hb := openFile(t, bin, WithWorkers(4))
		require.Equal(t, FormatB000, hb.Format())
		require.Equal(t, h.Summary().SpectrumCount, hb.Summary().SpectrumCount)
		got, err := hb.Document(context.Background())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("B000 %+v: mismatch (-want +got):\n%s", opts, diff)
		}

		// and back
		back := convertFile(t, hb, FormatMzML, ConvertOptions{})
		data, err := os.ReadFile(back)
		require.NoError(t, err)
		got, err = mzml.Read(bytes.NewReader(data))
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mzML from B000 %+v: mismatch (-want +got):\n%s", opts, diff)
		}
	}
}

func TestConvertSoftware(t *testing.T) {
	name, want := writeMzML(t, testDocument(2), mzml.WriteOptions{})
	h := openFile(t, name)
	out := convertFile(t, h, FormatB000, ConvertOptions{Software: "mzbin", SoftwareVersion: "1.0"})
	hb := openFile(t, out)
	require.Equal(t, append(want.Header.Software, spectra.Software{ID: "mzbin", Version: "1.0"}), hb.Header().Software)
	// the source header is unchanged
	require.Equal(t, want.Header.Software, h.Header().Software)

	var notSeekable bytes.Buffer
	require.Error(t, h.Convert(context.Background(), &notSeekable, FormatB000, ConvertOptions{}))
}

func TestReadRange(t *testing.T) {
	name, want := writeMzML(t, testDocument(10), mzml.WriteOptions{})
	h := openFile(t, name, WithWorkers(2))
	got, err := h.ReadRange(context.Background(), spectra.SpectrumRecord, 3, 8)
	require.NoError(t, err)
	require.Equal(t, want.Spectra[3:8], got)

	_, err = h.ReadRange(context.Background(), spectra.SpectrumRecord, 8, 11)
	require.ErrorIs(t, err, spectra.ErrNotFound)
}

func TestCancel(t *testing.T) {
	name, _ := writeMzML(t, testDocument(30), mzml.WriteOptions{})
	h := openFile(t, name, WithWorkers(4))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Document(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStale(t *testing.T) {
	name, _ := writeMzML(t, testDocument(3), mzml.WriteOptions{})
	h := openFile(t, name)
	require.False(t, h.Stale())
	_, err := h.ReadSpectrum("scan=1")
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(name, later, later))
	require.True(t, h.Stale())
	_, err = h.ReadSpectrum("scan=1")
	require.ErrorIs(t, err, ErrStale)
	_, err = h.Document(context.Background())
	require.ErrorIs(t, err, ErrStale)
}

func TestTruncatedB000(t *testing.T) {
	doc := testDocument(5)
	doc.Chromatograms = nil
	data, err := b000.Marshal(doc, b000.Options{Codec: compress.S2})
	require.NoError(t, err)
	d, err := b000.Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	cut := d.Index().All()[3].Offset

	name := filepath.Join(t.TempDir(), "cut.b000")
	require.NoError(t, os.WriteFile(name, data[:cut], 0o644))
	h := openFile(t, name)
	s := h.Summary()
	require.Equal(t, mzml.IndexScanned, s.IndexSource)
	require.Equal(t, 5, s.SpectrumCount)

	rec, err := h.ReadSpectrum("scan=3")
	require.NoError(t, err)
	require.Equal(t, doc.Spectra[2], rec)
	_, err = h.Document(context.Background())
	require.ErrorIs(t, err, spectra.ErrTruncatedRecord)
}

func TestInspect(t *testing.T) {
	doc := testDocument(8)
	name, want := writeMzML(t, doc, mzml.WriteOptions{Encodings: map[spectra.ArrayKind]spectra.Encoding{
		spectra.KindMZ: {Zlib: true},
	}})
	h := openFile(t, name)
	rep, err := h.Inspect(context.Background())
	require.NoError(t, err)

	require.Equal(t, map[int]int{1: 4, 2: 4}, rep.Levels)
	require.Equal(t, []int{1, 2}, rep.SortedLevels())
	require.Equal(t, 8, rep.Centroid)
	require.Equal(t, []string{"acquisition 3.1"}, rep.Software)
	require.Equal(t, map[string]int{"zlib": 8, "none": 10}, rep.Encodings)
	require.Equal(t, map[string]int{"total ion current chromatogram": 1}, rep.ChromatogramTypes)
	require.Equal(t, 0.0, rep.RTMin)
	require.Equal(t, 17.5, rep.RTMax)

	var peaks int
	var total float64
	mzMin, mzMax := want.Spectra[0].Arrays[0].Values[0], 0.0
	for _, rec := range want.Spectra {
		mz := rec.Array(spectra.KindMZ).Values
		peaks += len(mz)
		mzMin = min(mzMin, mz[0])
		mzMax = max(mzMax, mz[len(mz)-1])
		for _, v := range rec.Array(spectra.KindIntensity).Values {
			total += v
		}
	}
	require.Equal(t, peaks, rep.Peaks)
	require.Equal(t, mzMin, rep.MZMin)
	require.Equal(t, mzMax, rep.MZMax)
	require.InDelta(t, total, rep.TotalTIC, 1e-6*total)
}

func TestSniff(t *testing.T) {
	for _, tt := range []struct {
		prefix string
		want   Format
		ok     bool
	}{
		{"B000\x01\x00", FormatB000, true},
		{`<?xml version="1.0"?><indexedmzML xmlns="http://psi.hupo.org/ms/mzml">`, FormatMzML, true},
		{"\ufeff<?xml version=\"1.0\"?>\n<mzML>", FormatMzML, true},
		{"<mzIdentML>", 0, false},
		{"", 0, false},
	} {
		f, err := sniff([]byte(tt.prefix))
		if !tt.ok {
			require.ErrorIs(t, err, spectra.ErrFormatMismatch, tt.prefix)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, f)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("mzML")
	require.NoError(t, err)
	require.Equal(t, FormatMzML, f)
	f, err = ParseFormat("B000")
	require.NoError(t, err)
	require.Equal(t, FormatB000, f)
	_, err = ParseFormat("mgf")
	require.Error(t, err)
}
