package b000

import (
	"encoding/binary"
	"fmt"

	"github.com/524D/mzbin/internal/spectra"
)

// Header is the fixed-size section at the start of a B000 file
type Header struct {
	Version       uint16 // byte offset 4-5
	Flags         uint16 // byte offset 6-7
	RecordCount   uint32 // byte offset 8-11
	SpectrumCount uint32 // byte offset 12-15
	// MetaOffset is the offset of the metadata frame, it directly
	// follows the header.
	MetaOffset    uint64 // byte offset 16-23
	RecordsOffset uint64 // byte offset 24-31
	IndexOffset   uint64 // byte offset 32-39
	IndexLength   uint64 // byte offset 40-47
}

// ChromatogramCount is the number of records that are not spectra
func (h *Header) ChromatogramCount() uint32 {
	return h.RecordCount - h.SpectrumCount
}

// Parse parses the header from the first headerSize bytes of data
func (h *Header) Parse(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: file too small for a B000 header (%d bytes)", spectra.ErrFormatMismatch, len(data))
	}
	if string(data[0:4]) != magic {
		return fmt.Errorf("%w: invalid magic %q", spectra.ErrFormatMismatch, data[0:4])
	}
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	if h.Version != version {
		return fmt.Errorf("%w: unsupported B000 version %d", spectra.ErrFormatMismatch, h.Version)
	}
	h.Flags = binary.LittleEndian.Uint16(data[6:8])
	h.RecordCount = binary.LittleEndian.Uint32(data[8:12])
	h.SpectrumCount = binary.LittleEndian.Uint32(data[12:16])
	h.MetaOffset = binary.LittleEndian.Uint64(data[16:24])
	h.RecordsOffset = binary.LittleEndian.Uint64(data[24:32])
	h.IndexOffset = binary.LittleEndian.Uint64(data[32:40])
	h.IndexLength = binary.LittleEndian.Uint64(data[40:48])
	if h.SpectrumCount > h.RecordCount {
		return fmt.Errorf("%w: %d spectra in %d records", spectra.ErrFormatMismatch, h.SpectrumCount, h.RecordCount)
	}
	return nil
}

// Bytes serializes the header
func (h *Header) Bytes() []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint32(b[8:12], h.RecordCount)
	binary.LittleEndian.PutUint32(b[12:16], h.SpectrumCount)
	binary.LittleEndian.PutUint64(b[16:24], h.MetaOffset)
	binary.LittleEndian.PutUint64(b[24:32], h.RecordsOffset)
	binary.LittleEndian.PutUint64(b[32:40], h.IndexOffset)
	binary.LittleEndian.PutUint64(b[40:48], h.IndexLength)
	return b
}
