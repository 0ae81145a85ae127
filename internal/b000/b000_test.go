package b000

import (
	"bytes"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/cv"
	"github.com/524D/mzbin/internal/spectra"
)

// testDocument returns a document with n spectra and one chromatogram,
// using all numeric types and a few opaque params.
func testDocument(n int) *spectra.Document {
	rnd := rand.New(rand.NewSource(int64(n)))
	doc := &spectra.Document{Header: spectra.Header{
		Version: "1.1.0",
		ID:      "test",
		CVs: []spectra.CV{
			{ID: "MS", FullName: "PSI-MS", Version: "4.1.0", URI: "https://raw.githubusercontent.com/HUPO-PSI/psi-ms-CV/master/psi-ms.obo"},
			{ID: "UO", FullName: "Unit Ontology", URI: "http://ontologies.berkeleybop.org/uo.obo"},
		},
		ParamGroups: []spectra.ParamGroup{{ID: "CommonMS1SpectrumParams", Params: []spectra.Param{
			spectra.NewCVParam(spectra.ScopeRecord, "MS:1000130", "positive scan", ""),
		}}},
		Software: []spectra.Software{{ID: "mzbin", Version: "1.0"}},
		Sections: []spectra.Section{{Name: "fileDescription", XML: "<fileDescription>\n  <fileContent/>\n</fileDescription>"}},
		Run: spectra.Run{
			ID:                                "run1",
			DefaultInstrumentConfigurationRef: "IC1",
			StartTimeStamp:                    "2024-05-01T10:00:00Z",
			SpectrumDataProcessingRef:         "dp",
		},
	}}
	for i := 0; i < n; i++ {
		peaks := 1 + rnd.Intn(200)
		mz := make([]float64, peaks)
		intens := make([]float64, peaks)
		charge := make([]float64, peaks)
		for j := range mz {
			mz[j] = 100 + float64(j)*7.5 + rnd.Float64()
			intens[j] = float64(float32(rnd.ExpFloat64() * 1e5))
			charge[j] = float64(rnd.Intn(5))
		}
		doc.Add(&spectra.Record{
			Kind:               spectra.SpectrumRecord,
			ID:                 "controllerType=0 controllerNumber=1 scan=" + strconv.Itoa(i+1),
			Index:              i,
			DefaultArrayLength: peaks,
			Params: []spectra.Param{
				{Scope: spectra.ScopeRecord, Kind: spectra.GroupRef, Name: "CommonMS1SpectrumParams"},
				spectra.NewCVParam(spectra.ScopeRecord, cv.AccMSLevel, "ms level", strconv.Itoa(1+i%2)),
				spectra.NewCVParam(spectra.ScopeRecord, cv.AccTIC, "total ion current", "1.5e+07"),
				spectra.NewCVParam(spectra.ScopeScan, cv.AccScanStartTime, "scan start time", strconv.FormatFloat(float64(i)*0.37, 'f', -1, 64)).WithUnit(cv.AccUnitMinute, "minute"),
				spectra.NewCVParam(spectra.ScopeScan, "MS:1000512", "filter string", "FTMS + p NSI Full ms [350.00-1800.00]"),
				{Scope: spectra.ScopeScan, Kind: spectra.Attr, Name: "instrumentConfigurationRef", Value: "IC1"},
				{Scope: spectra.ScopeScanWindow, Kind: spectra.CVParam, Sub: 1, CVRef: "MS", Accession: "MS:9999999", Name: "future term", Value: "-0"},
				{Scope: spectra.ScopeRecord, Kind: spectra.UserParam, Name: "note", Type: "xsd:string", Value: "0012"},
			},
			Arrays: []spectra.BinaryArray{
				{Kind: spectra.KindMZ, Type: spectra.Float64, Values: mz, Params: []spectra.Param{
					spectra.NewCVParam(spectra.ScopeArray, cv.AccMZArray, "m/z array", "").WithUnit(cv.AccUnitMZ, "m/z"),
				}},
				{Kind: spectra.KindIntensity, Type: spectra.Float32, Values: intens, Encoding: spectra.Encoding{Zlib: true}},
				{Kind: spectra.KindOther, Type: spectra.Int32, Values: charge, Encoding: spectra.Encoding{Numpress: spectra.NumpressPic}, Params: []spectra.Param{
					spectra.NewCVParam(spectra.ScopeArray, "MS:1000516", "charge array", ""),
				}},
			},
		})
	}
	doc.Add(&spectra.Record{
		Kind:               spectra.ChromatogramRecord,
		ID:                 "TIC",
		DefaultArrayLength: 3,
		Params:             []spectra.Param{spectra.NewCVParam(spectra.ScopeRecord, "MS:1000235", "total ion current chromatogram", "")},
		Arrays: []spectra.BinaryArray{
			{Kind: spectra.KindTime, Type: spectra.Float64, Values: []float64{0, 0.5, 1}},
			{Kind: spectra.KindIntensity, Type: spectra.Int64, Values: []float64{1 << 40, 2, -3}},
		},
	})
	return doc
}

func TestRoundTrip(t *testing.T) {
	doc := testDocument(25)
	for _, c := range []compress.Type{compress.None, compress.Zlib, compress.Zstd, compress.S2, compress.LZ4} {
		for _, shuffle := range []bool{false, true} {
			opts := Options{Codec: c, Shuffle: shuffle}
			t.Run(c.String()+map[bool]string{false: "", true: "+shuffle"}[shuffle], func(t *testing.T) {
				data, err := Marshal(doc, opts)
				require.NoError(t, err)
				got, err := Unmarshal(data)
				require.NoError(t, err)
				if diff := cmp.Diff(doc, got); diff != "" {
					t.Errorf("round trip mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestRoundTripWidensInexactValues(t *testing.T) {
	doc := testDocument(1)
	// not representable as float32 or int32
	doc.Spectra[0].Arrays[1].Values[0] = 0.1
	doc.Spectra[0].Arrays[2].Values[0] = 2.5
	data, err := Marshal(doc, Options{})
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFloat32Option(t *testing.T) {
	doc := testDocument(3)
	data, err := Marshal(doc, Options{Codec: compress.Zstd, Float32: true})
	require.NoError(t, err)
	d, err := Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.True(t, OptionsFromFlags(d.FileHeader().Flags).Float32)
	got, err := d.Document()
	require.NoError(t, err)
	for i, rec := range got.Spectra {
		want := doc.Spectra[i].Array(spectra.KindMZ)
		arr := rec.Array(spectra.KindMZ)
		require.Equal(t, spectra.Float64, arr.Type)
		for j, v := range arr.Values {
			require.Equal(t, float64(float32(want.Values[j])), v)
		}
	}
}

func TestParamValues(t *testing.T) {
	values := []string{"", "0", "-17", "0012", "+5", "1.5e+07", "1.5E7", "3.25", "-0", "NaN", "Inf", "1e400", "text", "9223372036854775808"}
	for _, v := range values {
		w := &wbuf{}
		putValue(w, v)
		r := &rbuf{b: w.b}
		require.Equal(t, v, getValue(r), "value %q", v)
		require.NoError(t, r.err)
		require.Empty(t, r.b)
	}
}

func TestShuffle(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	s := shuffle(data, 4)
	require.Equal(t, []byte{1, 5, 9, 2, 6, 10, 3, 7, 11, 4, 8, 12}, s)
	require.Equal(t, data, unshuffle(s, 4))
}

func TestIncompressibleStoredRaw(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	values := make([]float64, 512)
	for i := range values {
		values[i] = math.Float64frombits(rnd.Uint64() &^ (0x7ff << 52))
	}
	rec := &spectra.Record{ID: "noise", DefaultArrayLength: len(values), Arrays: []spectra.BinaryArray{
		{Kind: spectra.KindIntensity, Type: spectra.Float64, Values: values},
	}}
	opts := Options{Codec: compress.LZ4}
	codec, err := compress.CreateCodec(opts.Codec, 0)
	require.NoError(t, err)
	body, err := encodeRecord(rec, &opts, codec)
	require.NoError(t, err)
	got, err := decodeRecord(body, 0)
	require.NoError(t, err)
	require.Equal(t, values, got.Arrays[0].Values)
}
