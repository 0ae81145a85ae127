package mzml

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbin/internal/spectra"
)

func TestEmbeddedIndexEqualsScan(t *testing.T) {
	out := writeString(t, peakDocument(20, 3), WriteOptions{})
	embedded, err := ReadIndex(strings.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	scanned, err := ScanIndex(strings.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 20, embedded.Len(spectra.SpectrumRecord))
	require.True(t, embedded.Equal(scanned))
	for _, e := range scanned.All() {
		require.Positive(t, e.Length)
	}
}

func TestBuildIndex(t *testing.T) {
	out := writeString(t, peakDocument(10, 4), WriteOptions{})
	want, err := ReadIndex(strings.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	// the offset of scan=1 pointing one byte too far
	re := regexp.MustCompile(`(<offset idRef="scan=1">)(\d+)(</offset>)`)
	m := re.FindStringSubmatch(out)
	require.NotNil(t, m)
	off, err := strconv.Atoi(m[2])
	require.NoError(t, err)
	badOffset := re.ReplaceAllString(out, "${1}"+strconv.Itoa(off+1)+"${3}")

	tests := []struct {
		name   string
		file   string
		source string
	}{
		{"conforming", out, IndexEmbedded},
		{"truncated index", out[:strings.Index(out, "<indexList")+40], IndexScanned},
		{"bad offset", badOffset, IndexScanned},
		{"bad indexListOffset", strings.Replace(out, "<indexListOffset>", "<indexListOffset>1", 1), IndexScanned},
		{"plain mzML", writeString(t, peakDocument(10, 4), WriteOptions{NoIndex: true}), IndexScanned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.file)
			idx, source, err := BuildIndex(r, int64(len(tt.file)))
			require.NoError(t, err)
			require.Equal(t, tt.source, source)
			if tt.name == "plain mzML" {
				// offsets differ without the indexedmzML wrapper
				require.Equal(t, want.Len(spectra.SpectrumRecord), idx.Len(spectra.SpectrumRecord))
				return
			}
			require.True(t, want.Equal(idx), "index differs from the conforming one")
		})
	}

	_, err = ReadIndex(strings.NewReader(badOffset), int64(len(badOffset)))
	require.ErrorIs(t, err, spectra.ErrIndexCorrupt)
}

func TestRandomAccessEqualsSequential(t *testing.T) {
	doc := peakDocument(15, 5)
	for _, noIndex := range []bool{false, true} {
		out := writeString(t, doc, WriteOptions{NoIndex: noIndex})
		seq, err := readString(t, out)
		require.NoError(t, err)
		r := strings.NewReader(out)
		idx, _, err := BuildIndex(r, int64(len(out)))
		require.NoError(t, err)
		for i, e := range idx.Entries(spectra.SpectrumRecord) {
			rec, err := ReadRecordAt(r, int64(len(out)), e)
			require.NoError(t, err)
			if diff := cmp.Diff(seq.Spectra[i], rec); diff != "" {
				t.Errorf("%s (noIndex %v) mismatch (-sequential +random):\n%s", e.ID, noIndex, diff)
			}
		}
	}
}

func TestReadRecordAtErrors(t *testing.T) {
	// Same length as the original, so offsets stay valid
	file := strings.Replace(twoSpectra, "AAAAAAAAJEAAAAAAAAA0QA==", "@@@@AAAAJEAAAAAAAAA0QA==", 1)
	r := strings.NewReader(file)
	size := int64(len(file))
	idx, err := ScanIndex(strings.NewReader(file))
	require.NoError(t, err)

	s1, err := idx.Locate(spectra.SpectrumRecord, "S1")
	require.NoError(t, err)
	_, err = ReadRecordAt(r, size, s1)
	require.ErrorIs(t, err, spectra.ErrInvalidEncoding)

	// A bad record does not affect the others
	s2, err := idx.Locate(spectra.SpectrumRecord, "S2")
	require.NoError(t, err)
	rec, err := ReadRecordAt(r, size, s2)
	require.NoError(t, err)
	require.Equal(t, "S2", rec.ID)

	shifted := s2
	shifted.Offset++
	shifted.Length = 0
	_, err = ReadRecordAt(r, size, shifted)
	require.ErrorIs(t, err, spectra.ErrIndexCorrupt)

	wrongKind := s2
	wrongKind.Kind = spectra.ChromatogramRecord
	_, err = ReadRecordAt(r, size, wrongKind)
	require.ErrorIs(t, err, spectra.ErrIndexCorrupt)

	_, err = idx.Locate(spectra.SpectrumRecord, "S3")
	require.ErrorIs(t, err, spectra.ErrNotFound)
}

func TestIndexUnsupportedCompression(t *testing.T) {
	split := strings.Index(twoSpectra, `id="S2"`)
	file := twoSpectra[:split] + strings.Replace(twoSpectra[split:],
		`accession="MS:1000576" name="no compression"`,
		`accession="MS:1003089" name="truncation, linear prediction and zlib compression"`, 1)
	r := strings.NewReader(file)
	size := int64(len(file))

	// Only the record with the unsupported array fails
	idx, source, err := BuildIndex(r, size)
	require.NoError(t, err)
	require.Equal(t, IndexScanned, source)
	require.Equal(t, 2, idx.Len(spectra.SpectrumRecord))

	s1, err := idx.Locate(spectra.SpectrumRecord, "S1")
	require.NoError(t, err)
	rec, err := ReadRecordAt(r, size, s1)
	require.NoError(t, err)
	require.Equal(t, []float64{100, 200}, rec.Array(spectra.KindMZ).Values)

	s2, err := idx.Locate(spectra.SpectrumRecord, "S2")
	require.NoError(t, err)
	_, err = ReadRecordAt(r, size, s2)
	require.ErrorIs(t, err, spectra.ErrUnsupportedCompression)
}
