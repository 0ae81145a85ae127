package b000

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cespare/xxhash/v2"

	"github.com/524D/mzbin/internal/spectra"
)

// scanPrefix is how much of a record body is read to find its id when the
// index has to be rebuilt
const scanPrefix = 4096

// Decoder gives random access to the records of a B000 file. It is safe
// for concurrent use if the underlying io.ReaderAt is.
type Decoder struct {
	r         io.ReaderAt
	size      int64
	header    Header
	meta      spectra.Header
	index     *spectra.Index
	recovered bool
}

// Open reads the header, the metadata and the index of a B000 file of
// size bytes. A damaged index is rebuilt from the records; records that
// cannot be found that way report ErrTruncatedRecord.
func Open(r io.ReaderAt, size int64) (*Decoder, error) {
	d := &Decoder{r: r, size: size}
	if size < headerSize {
		return nil, fmt.Errorf("%w: file too small for a B000 header (%d bytes)", spectra.ErrFormatMismatch, size)
	}
	buf := make([]byte, headerSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	if err := d.header.Parse(buf); err != nil {
		return nil, err
	}

	body, err := d.readFrame(int64(d.header.MetaOffset), "metadata")
	if err != nil {
		return nil, err
	}
	rb := &rbuf{b: body}
	d.meta = getHeader(rb)
	if rb.err != nil {
		return nil, spectra.Errorf(spectra.ErrFormatMismatch, int64(d.header.MetaOffset), "metadata", "%v", rb.err)
	}

	if err := d.readIndex(); err != nil {
		log.Printf("WARNING: %v, rebuilding B000 index from the records", err)
		d.scan()
		d.recovered = true
	}
	return d, nil
}

// readFrame returns the verified body of the frame at off
func (d *Decoder) readFrame(off int64, what string) ([]byte, error) {
	var lenBuf [4]byte
	if off < 0 || off+4 > d.size {
		return nil, spectra.Errorf(spectra.ErrTruncatedRecord, off, what, "frame starts past end of file (%d bytes)", d.size)
	}
	if _, err := d.r.ReadAt(lenBuf[:], off); err != nil {
		return nil, err
	}
	n := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	if n > maxFrameBody || off+4+n+8 > d.size {
		return nil, spectra.Errorf(spectra.ErrTruncatedRecord, off, what,
			"%d byte frame exceeds the remaining %d bytes", n, d.size-off-4)
	}
	buf := make([]byte, n+8)
	if _, err := d.r.ReadAt(buf, off+4); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body := buf[:n]
	if sum := binary.LittleEndian.Uint64(buf[n:]); sum != xxhash.Sum64(body) {
		return nil, spectra.Errorf(spectra.ErrChecksum, off, what, "stored %016x, computed %016x", sum, xxhash.Sum64(body))
	}
	return body, nil
}

func (d *Decoder) readIndex() error {
	h := &d.header
	if h.IndexOffset < h.RecordsOffset || h.IndexOffset+h.IndexLength > uint64(d.size) || h.IndexLength < frameOverhead {
		return spectra.Errorf(spectra.ErrIndexCorrupt, int64(h.IndexOffset), "index",
			"index of %d bytes at %d does not fit in %d byte file", h.IndexLength, h.IndexOffset, d.size)
	}
	body, err := d.readFrame(int64(h.IndexOffset), "index")
	if err != nil {
		return err
	}
	r := &rbuf{b: body}
	n := r.count(int(h.RecordCount), "index entries")
	if r.err == nil && n != int(h.RecordCount) {
		return spectra.Errorf(spectra.ErrIndexCorrupt, int64(h.IndexOffset), "index", "%d entries for %d records", n, h.RecordCount)
	}
	idx := spectra.NewIndex()
	for i := 0; i < n && r.err == nil; i++ {
		e := spectra.IndexEntry{Kind: spectra.RecordKind(r.u8()), ID: r.str()}
		e.Offset = int64(r.u64())
		e.Length = int64(r.u32())
		if r.err != nil {
			break
		}
		if e.Offset < int64(h.RecordsOffset) || e.Offset+e.Length > int64(h.IndexOffset) {
			return spectra.Errorf(spectra.ErrIndexCorrupt, int64(h.IndexOffset), "index", "record %q outside the record section", e.ID)
		}
		if err := idx.Add(e); err != nil {
			return err
		}
	}
	if r.err != nil {
		return spectra.Errorf(spectra.ErrIndexCorrupt, int64(h.IndexOffset), "index", "%v", r.err)
	}
	d.index = idx
	return nil
}

// scan rebuilds the index by walking the record frames. It stops at the
// first frame that does not fit in the file.
func (d *Decoder) scan() {
	d.index = spectra.NewIndex()
	off := int64(d.header.RecordsOffset)
	var lenBuf [4]byte
	for i := uint32(0); i < d.header.RecordCount; i++ {
		if off+4 > d.size {
			return
		}
		if _, err := d.r.ReadAt(lenBuf[:], off); err != nil {
			return
		}
		n := int64(binary.LittleEndian.Uint32(lenBuf[:]))
		if n > maxFrameBody || off+4+n+8 > d.size {
			return
		}
		prefix := make([]byte, min(n, scanPrefix))
		if _, err := d.r.ReadAt(prefix, off+4); err != nil && !errors.Is(err, io.EOF) {
			return
		}
		r := &rbuf{b: prefix}
		kind := spectra.RecordKind(r.u8())
		r.u8()
		r.u32()
		r.u32()
		id := r.str()
		if r.err != nil || kind > spectra.ChromatogramRecord {
			return
		}
		if err := d.index.Add(spectra.IndexEntry{Kind: kind, ID: id, Offset: off, Length: n + frameOverhead}); err != nil {
			return
		}
		off += n + frameOverhead
	}
}

// Len returns the number of records the header declares
func (d *Decoder) Len() int {
	return int(d.header.RecordCount)
}

// FileHeader returns the fixed B000 header
func (d *Decoder) FileHeader() Header {
	return d.header
}

// Header returns the file metadata
func (d *Decoder) Header() *spectra.Header {
	return &d.meta
}

// Index returns the record index
func (d *Decoder) Index() *spectra.Index {
	return d.index
}

// Recovered reports whether the index was rebuilt by scanning
func (d *Decoder) Recovered() bool {
	return d.recovered
}

// Record returns record i in file order
func (d *Decoder) Record(i int) (*spectra.Record, error) {
	if i < 0 || i >= d.Len() {
		return nil, fmt.Errorf("%w: record %d of %d", spectra.ErrNotFound, i, d.Len())
	}
	all := d.index.All()
	if i >= len(all) {
		return nil, spectra.Errorf(spectra.ErrTruncatedRecord, -1, "record",
			"record %d of %d is missing, only %d found", i, d.Len(), len(all))
	}
	return d.ReadEntry(all[i])
}

// Locate returns the record with the given kind and id
func (d *Decoder) Locate(kind spectra.RecordKind, id string) (*spectra.Record, error) {
	e, err := d.index.Locate(kind, id)
	if err != nil {
		return nil, err
	}
	return d.ReadEntry(e)
}

// ReadEntry reads the record that e points at
func (d *Decoder) ReadEntry(e spectra.IndexEntry) (*spectra.Record, error) {
	body, err := d.readFrame(e.Offset, e.ID)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(body, e.Offset)
	if err != nil {
		return nil, err
	}
	if rec.Kind != e.Kind || rec.ID != e.ID {
		return nil, spectra.Errorf(spectra.ErrIndexCorrupt, e.Offset, e.ID, "found %s %q", rec.Kind, rec.ID)
	}
	return rec, nil
}

// Document decodes all records
func (d *Decoder) Document() (*spectra.Document, error) {
	doc := &spectra.Document{Header: d.meta}
	for i := 0; i < d.Len(); i++ {
		rec, err := d.Record(i)
		if err != nil {
			return nil, err
		}
		doc.Add(rec)
	}
	return doc, nil
}

// Unmarshal decodes a complete B000 file
func Unmarshal(data []byte) (*spectra.Document, error) {
	d, err := Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return d.Document()
}

// Sniff reports whether data starts like a B000 file
func Sniff(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}
