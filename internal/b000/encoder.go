package b000

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/524D/mzbin/internal/compress"
	"github.com/524D/mzbin/internal/spectra"
)

// ErrClosed is returned when writing to a closed Encoder
var ErrClosed = errors.New("b000: encoder closed")

// Encoder writes a B000 file record by record. The header is written
// last, so the output must be seekable.
type Encoder struct {
	ws     io.WriteSeeker
	w      *bufio.Writer
	base   int64 // offset of the header in ws
	off    int64 // bytes written after base
	opts   Options
	codec  compress.Codec
	header Header
	index  *spectra.Index
	closed bool
}

// NewEncoder writes the metadata of h and returns an encoder for the
// records that follow.
func NewEncoder(ws io.WriteSeeker, h *spectra.Header, opts Options) (*Encoder, error) {
	codec, err := compress.CreateCodec(opts.Codec, opts.Level)
	if err != nil {
		return nil, err
	}
	base, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	e := &Encoder{
		ws:    ws,
		w:     bufio.NewWriterSize(ws, 1<<16),
		base:  base,
		opts:  opts,
		codec: codec,
		index: spectra.NewIndex(),
		header: Header{
			Version: version,
			Flags:   opts.flags(),
		},
	}
	// Placeholder, Close writes the real header
	if err := e.write(make([]byte, headerSize)); err != nil {
		return nil, err
	}
	e.header.MetaOffset = uint64(e.off)
	meta := &wbuf{}
	putHeader(meta, h)
	if _, err := e.writeFrame(meta.b); err != nil {
		return nil, err
	}
	e.header.RecordsOffset = uint64(e.off)
	return e, nil
}

func (e *Encoder) write(p []byte) error {
	n, err := e.w.Write(p)
	e.off += int64(n)
	return err
}

// writeFrame writes body with its length and checksum, and returns the
// size of the frame
func (e *Encoder) writeFrame(body []byte) (int64, error) {
	if len(body) > maxFrameBody {
		return 0, fmt.Errorf("b000: frame of %d bytes exceeds the limit", len(body))
	}
	var w wbuf
	w.u32(uint32(len(body)))
	if err := e.write(w.b); err != nil {
		return 0, err
	}
	if err := e.write(body); err != nil {
		return 0, err
	}
	w.b = w.b[:0]
	w.u64(xxhash.Sum64(body))
	if err := e.write(w.b); err != nil {
		return 0, err
	}
	return int64(len(body)) + frameOverhead, nil
}

// Write appends one record
func (e *Encoder) Write(rec *spectra.Record) error {
	if e.closed {
		return ErrClosed
	}
	if e.header.RecordCount == math.MaxUint32 {
		return fmt.Errorf("b000: too many records")
	}
	body, err := encodeRecord(rec, &e.opts, e.codec)
	if err != nil {
		return err
	}
	entry := spectra.IndexEntry{Kind: rec.Kind, ID: rec.ID, Offset: e.off}
	if entry.Length, err = e.writeFrame(body); err != nil {
		return err
	}
	if err := e.index.Add(entry); err != nil {
		return err
	}
	e.header.RecordCount++
	if rec.Kind == spectra.SpectrumRecord {
		e.header.SpectrumCount++
	}
	return nil
}

// Close writes the index and the header. The underlying writer is not
// closed.
func (e *Encoder) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true

	e.header.IndexOffset = uint64(e.off)
	w := &wbuf{}
	all := e.index.All()
	w.uvarint(uint64(len(all)))
	for _, x := range all {
		w.u8(uint8(x.Kind))
		w.str(x.ID)
		w.u64(uint64(x.Offset))
		w.u32(uint32(x.Length))
	}
	n, err := e.writeFrame(w.b)
	if err != nil {
		return err
	}
	e.header.IndexLength = uint64(n)
	if err := e.w.Flush(); err != nil {
		return err
	}

	if _, err := e.ws.Seek(e.base, io.SeekStart); err != nil {
		return err
	}
	if _, err := e.ws.Write(e.header.Bytes()); err != nil {
		return err
	}
	_, err = e.ws.Seek(e.base+e.off, io.SeekStart)
	return err
}

// Index returns the index of the records written so far. Offsets are
// relative to the start of the B000 data.
func (e *Encoder) Index() *spectra.Index {
	return e.index
}

// Marshal encodes doc as B000. Spectra are written before chromatograms.
func Marshal(doc *spectra.Document, opts Options) ([]byte, error) {
	var buf seekBuffer
	e, err := NewEncoder(&buf, &doc.Header, opts)
	if err != nil {
		return nil, err
	}
	for _, rec := range doc.Spectra {
		if err := e.Write(rec); err != nil {
			return nil, err
		}
	}
	for _, rec := range doc.Chromatograms {
		if err := e.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// seekBuffer is an in-memory io.WriteSeeker
type seekBuffer struct {
	b   []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.b) {
		s.b = append(s.b, make([]byte, end-len(s.b))...)
	}
	copy(s.b[s.pos:], p)
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(s.pos) + offset
	case io.SeekEnd:
		pos = int64(len(s.b)) + offset
	default:
		return 0, fmt.Errorf("seekBuffer: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seekBuffer: negative position %d", pos)
	}
	s.pos = int(pos)
	return pos, nil
}
