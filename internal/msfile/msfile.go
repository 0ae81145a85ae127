// Package msfile opens mzML and B000 files for random access, and
// converts between the two formats.
package msfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/524D/mzbin/internal/b000"
	"github.com/524D/mzbin/internal/mzml"
	"github.com/524D/mzbin/internal/spectra"
)

// ErrStale is returned by lookups when the file changed after Open
var ErrStale = errors.New("msfile: file changed since it was opened")

// sniffSize is the number of leading bytes used to detect the format
const sniffSize = 4096

// Format is a file format
type Format uint8

const (
	FormatMzML Format = iota
	FormatB000
)

func (f Format) String() string {
	if f == FormatB000 {
		return "b000"
	}
	return "mzml"
}

// MarshalText implements encoding.TextMarshaler
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFormat parses a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "mzml":
		return FormatMzML, nil
	case "b000":
		return FormatB000, nil
	}
	return 0, fmt.Errorf("unknown format %q, use mzml or b000", s)
}

// Extension returns the usual file name extension of f
func (f Format) Extension() string {
	if f == FormatB000 {
		return ".b000"
	}
	return ".mzML"
}

type config struct {
	workers   int
	cacheSize int
}

// Option configures a Handle
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(c *config) error { return f(c) }

// WithWorkers sets the number of goroutines that decode records in bulk
// operations. The default is GOMAXPROCS.
func WithWorkers(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 1 {
			return fmt.Errorf("msfile: invalid worker count %d", n)
		}
		c.workers = n
		return nil
	})
}

// WithCacheSize sets how many records ReadSpectrum and ReadChromatogram
// keep. 0 disables the cache.
func WithCacheSize(n int) Option {
	return optionFunc(func(c *config) error {
		if n < 0 {
			return fmt.Errorf("msfile: invalid cache size %d", n)
		}
		c.cacheSize = n
		return nil
	})
}

type cacheKey struct {
	kind spectra.RecordKind
	id   string
}

// Handle is an open mzML or B000 file. All methods are safe for
// concurrent use. Records returned by a Handle may be shared and must
// not be modified.
type Handle struct {
	path    string
	f       *os.File
	size    int64
	modTime time.Time
	format  Format
	workers int

	header      *spectra.Header
	index       *spectra.Index
	indexSource string
	dec         *b000.Decoder // B000 only

	cache *lru.Cache[cacheKey, *spectra.Record]
}

// Open opens path, detects its format and loads its index. An mzML file
// without a usable index is scanned once.
func Open(path string, opts ...Option) (*Handle, error) {
	cfg := config{workers: runtime.GOMAXPROCS(0), cacheSize: 256}
	for _, o := range opts {
		if err := o.apply(&cfg); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	h, err := open(f, path, &cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func open(f *os.File, path string, cfg *config) (*Handle, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	h := &Handle{
		path:    path,
		f:       f,
		size:    fi.Size(),
		modTime: fi.ModTime(),
		workers: cfg.workers,
	}
	prefix := make([]byte, min(h.size, sniffSize))
	if _, err := f.ReadAt(prefix, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	h.format, err = sniff(prefix)
	if err != nil {
		return nil, err
	}

	switch h.format {
	case FormatB000:
		h.dec, err = b000.Open(f, h.size)
		if err != nil {
			return nil, err
		}
		h.header = h.dec.Header()
		h.index = h.dec.Index()
		h.indexSource = mzml.IndexEmbedded
		if h.dec.Recovered() {
			h.indexSource = mzml.IndexScanned
		}
	default:
		h.index, h.indexSource, err = mzml.BuildIndex(f, h.size)
		if err != nil {
			return nil, err
		}
		r := mzml.NewReader(io.NewSectionReader(f, 0, h.size), mzml.ReadOptions{SkipArrays: true})
		if h.header, err = r.ReadHeader(); err != nil {
			return nil, err
		}
	}

	if cfg.cacheSize > 0 {
		h.cache, err = lru.New[cacheKey, *spectra.Record](cfg.cacheSize)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// sniff detects the format from the first bytes of a file
func sniff(prefix []byte) (Format, error) {
	if b000.Sniff(prefix) {
		return FormatB000, nil
	}
	if bytes.Contains(prefix, []byte("<mzML")) || bytes.Contains(prefix, []byte("<indexedmzML")) {
		return FormatMzML, nil
	}
	return 0, fmt.Errorf("%w: neither mzML nor B000", spectra.ErrFormatMismatch)
}

// Close closes the file
func (h *Handle) Close() error {
	return h.f.Close()
}

// Path returns the name the handle was opened with
func (h *Handle) Path() string {
	return h.path
}

// Format returns the detected file format
func (h *Handle) Format() Format {
	return h.format
}

// Header returns the file metadata
func (h *Handle) Header() *spectra.Header {
	return h.header
}

// Index returns the record index
func (h *Handle) Index() *spectra.Index {
	return h.index
}

// Stale reports whether the size or modification time of the file
// changed since Open
func (h *Handle) Stale() bool {
	fi, err := os.Stat(h.path)
	if err != nil {
		return true
	}
	return fi.Size() != h.size || !fi.ModTime().Equal(h.modTime)
}

// ReadSpectrum returns the spectrum with the given id
func (h *Handle) ReadSpectrum(id string) (*spectra.Record, error) {
	return h.lookup(spectra.SpectrumRecord, id)
}

// ReadChromatogram returns the chromatogram with the given id
func (h *Handle) ReadChromatogram(id string) (*spectra.Record, error) {
	return h.lookup(spectra.ChromatogramRecord, id)
}

func (h *Handle) lookup(kind spectra.RecordKind, id string) (*spectra.Record, error) {
	if h.Stale() {
		return nil, ErrStale
	}
	key := cacheKey{kind, id}
	if h.cache != nil {
		if rec, ok := h.cache.Get(key); ok {
			return rec, nil
		}
	}
	e, err := h.index.Locate(kind, id)
	if err != nil {
		return nil, err
	}
	rec, err := h.readEntry(e)
	if err != nil {
		return nil, err
	}
	if h.cache != nil {
		h.cache.Add(key, rec)
	}
	return rec, nil
}

// readEntry decodes the record e points at
func (h *Handle) readEntry(e spectra.IndexEntry) (*spectra.Record, error) {
	if h.dec != nil {
		return h.dec.ReadEntry(e)
	}
	return mzml.ReadRecordAt(h.f, h.size, e)
}

// Summary describes an open file
type Summary struct {
	Path              string `json:"path"`
	Format            Format `json:"format"`
	FileSize          int64  `json:"fileSize"`
	SpectrumCount     int    `json:"spectrumCount"`
	ChromatogramCount int    `json:"chromatogramCount"`
	// IndexSource is "embedded" or "scan"
	IndexSource string `json:"indexSource"`
}

// Summary returns the format, size and record counts of the file
func (h *Handle) Summary() Summary {
	s := Summary{
		Path:              h.path,
		Format:            h.format,
		FileSize:          h.size,
		SpectrumCount:     h.index.Len(spectra.SpectrumRecord),
		ChromatogramCount: h.index.Len(spectra.ChromatogramRecord),
		IndexSource:       h.indexSource,
	}
	if h.dec != nil {
		// the header still counts records a recovered index lost
		fh := h.dec.FileHeader()
		s.SpectrumCount = int(fh.SpectrumCount)
		s.ChromatogramCount = int(fh.ChromatogramCount())
	}
	return s
}

// checkComplete returns ErrTruncatedRecord if records of a B000 file
// could not be found
func (h *Handle) checkComplete() error {
	if h.dec == nil {
		return nil
	}
	if found := len(h.index.All()); found < h.dec.Len() {
		return spectra.Errorf(spectra.ErrTruncatedRecord, -1, "record",
			"%d of %d records are missing", h.dec.Len()-found, h.dec.Len())
	}
	return nil
}
