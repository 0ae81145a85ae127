package mzml

import (
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"

	"github.com/524D/mzbin/internal/spectra"
)

// ErrNoIndex means the file has no indexList. It is not a corruption,
// plain mzML files are simply not indexed.
var ErrNoIndex = errors.New("mzML: no embedded index")

// Where an index came from
const (
	IndexEmbedded = "embedded"
	IndexScanned  = "scan"
)

// tailSize is how much of the end of the file is searched for
// indexListOffset
const tailSize = 4096

var reIndexListOffset = regexp.MustCompile(`<indexListOffset>\s*(\d+)\s*</indexListOffset>`)

func corrupt(offset int64, element string, format string, a ...any) error {
	return spectra.Errorf(spectra.ErrIndexCorrupt, offset, element, format, a...)
}

// ReadIndex reads the index stored at the end of an indexedmzML file.
// Every offset is checked to point at the start tag of the record it
// names.
func ReadIndex(r io.ReaderAt, size int64) (*spectra.Index, error) {
	tailStart := size - tailSize
	if tailStart < 0 {
		tailStart = 0
	}
	tail := make([]byte, size-tailStart)
	if _, err := r.ReadAt(tail, tailStart); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	m := reIndexListOffset.FindAllSubmatch(tail, -1)
	if m == nil {
		return nil, ErrNoIndex
	}
	listOffset, err := strconv.ParseInt(string(m[len(m)-1][1]), 10, 64)
	if err != nil || listOffset >= size {
		return nil, corrupt(tailStart, "indexListOffset", "offset %s beyond end of file (%d bytes)", m[len(m)-1][1], size)
	}

	idx, err := parseIndexList(io.NewSectionReader(r, listOffset, size-listOffset), listOffset)
	if err != nil {
		return nil, err
	}
	for _, e := range idx.All() {
		if _, err := checkStartTag(r, size, e); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func parseIndexList(r io.Reader, base int64) (*spectra.Index, error) {
	z := NewTokenizer(r, base)
	tok, err := z.Next()
	if err != nil || tok.Kind != StartTag || tok.Name != "indexList" {
		return nil, corrupt(base, "indexList", "indexListOffset does not point at <indexList>")
	}
	idx := spectra.NewIndex()
	var (
		kind    spectra.RecordKind
		inIndex bool
		entry   *spectra.IndexEntry
		text    []byte
	)
	for {
		tok, err := z.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", spectra.ErrIndexCorrupt, err)
		}
		switch tok.Kind {
		case StartTag, SelfClosingTag:
			switch tok.Name {
			case "index":
				name, _ := tok.AttrValue("name")
				switch name {
				case indexSpectra:
					kind = spectra.SpectrumRecord
				case indexChroms:
					kind = spectra.ChromatogramRecord
				default:
					return nil, corrupt(tok.Start, "index", "unknown index name %q", name)
				}
				inIndex = tok.Kind == StartTag
			case "offset":
				if !inIndex {
					return nil, corrupt(tok.Start, "offset", "offset outside index")
				}
				id, _ := tok.AttrValue("idRef")
				entry = &spectra.IndexEntry{Kind: kind, ID: id}
				text = text[:0]
			}
		case Text:
			if entry != nil {
				text = append(text, tok.Text...)
			}
		case EndTag:
			switch tok.Name {
			case "offset":
				if entry == nil {
					break
				}
				off, err := strconv.ParseInt(string(trimSpace(text)), 10, 64)
				if err != nil {
					return nil, corrupt(tok.Start, "offset", "bad offset %q for %q", text, entry.ID)
				}
				entry.Offset = off
				if err := idx.Add(*entry); err != nil {
					return nil, err
				}
				entry = nil
			case "index":
				inIndex = false
			case "indexList":
				return idx, nil
			}
		}
	}
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && isSpace(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && isSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// checkStartTag verifies that e.Offset is the start of the record e
// describes, and returns the start tag
func checkStartTag(r io.ReaderAt, size int64, e spectra.IndexEntry) (Token, error) {
	if e.Offset < 0 || e.Offset >= size || e.Offset+e.Length > size {
		return Token{}, corrupt(e.Offset, recordName(e.Kind), "%s %q: offset outside file", e.Kind, e.ID)
	}
	z := NewTokenizer(io.NewSectionReader(r, e.Offset, size-e.Offset), e.Offset)
	tok, err := z.Next()
	if err != nil || tok.Kind != StartTag || tok.Name != recordName(e.Kind) {
		return Token{}, corrupt(e.Offset, recordName(e.Kind), "%s %q: offset does not point at a start tag", e.Kind, e.ID)
	}
	if id, _ := tok.AttrValue("id"); id != e.ID {
		return Token{}, corrupt(e.Offset, recordName(e.Kind), "offset of %s %q points at %q", e.Kind, e.ID, id)
	}
	return tok, nil
}

// ScanIndex builds an index by reading the whole document. Array
// payloads are not decoded.
func ScanIndex(r io.Reader) (*spectra.Index, error) {
	rd := NewReader(r, ReadOptions{SkipArrays: true})
	idx := spectra.NewIndex()
	for rd.Next() {
		rec := rd.Record()
		start, end := rd.Span()
		err := idx.Add(spectra.IndexEntry{Kind: rec.Kind, ID: rec.ID, Offset: start, Length: end - start})
		if err != nil {
			return nil, err
		}
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// BuildIndex returns the embedded index of the file if it is valid, and
// otherwise scans the file. The second result tells which of the two was
// used.
func BuildIndex(r io.ReaderAt, size int64) (*spectra.Index, string, error) {
	idx, err := ReadIndex(r, size)
	if err == nil {
		return idx, IndexEmbedded, nil
	}
	if !errors.Is(err, ErrNoIndex) {
		if !errors.Is(err, spectra.ErrIndexCorrupt) {
			return nil, "", err
		}
		log.Printf("WARNING: %v, rebuilding index by scanning the file", err)
	}
	idx, err = ScanIndex(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, "", err
	}
	return idx, IndexScanned, nil
}

// ReadRecordAt parses the single record that e points at
func ReadRecordAt(r io.ReaderAt, size int64, e spectra.IndexEntry) (*spectra.Record, error) {
	tag, err := checkStartTag(r, size, e)
	if err != nil {
		return nil, err
	}
	n := size - e.Offset
	if e.Length > 0 {
		n = e.Length
	}
	rd := newFragmentReader(io.NewSectionReader(r, e.Offset, n), e.Offset, e.Kind, ReadOptions{})
	if !rd.Next() {
		if err := rd.Err(); err != nil {
			return nil, err
		}
		return nil, corrupt(e.Offset, recordName(e.Kind), "%s %q: no record at offset", e.Kind, e.ID)
	}
	rec := rd.Record()
	if _, ok := tag.AttrValue("index"); !ok {
		rec.Index = e.Ordinal
	}
	return rec, nil
}
