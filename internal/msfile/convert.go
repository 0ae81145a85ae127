package msfile

import (
	"context"
	"fmt"
	"io"

	"github.com/524D/mzbin/internal/b000"
	"github.com/524D/mzbin/internal/mzml"
	"github.com/524D/mzbin/internal/spectra"
)

// ConvertOptions control Convert
type ConvertOptions struct {
	MzML mzml.WriteOptions // used when writing mzML
	B000 b000.Options      // used when writing B000
	// Software, if set, is added to the software list of the output
	Software        string
	SoftwareVersion string
}

// Convert writes the whole file to w in format target. B000 output needs
// an io.WriteSeeker.
func (h *Handle) Convert(ctx context.Context, w io.Writer, target Format, opts ConvertOptions) error {
	if err := h.checkComplete(); err != nil {
		return err
	}
	header := *h.header
	if opts.Software != "" {
		header.Software = append([]spectra.Software(nil), header.Software...)
		header.AppendSoftware(opts.Software, opts.SoftwareVersion)
	}

	switch target {
	case FormatB000:
		ws, ok := w.(io.WriteSeeker)
		if !ok {
			return fmt.Errorf("msfile: B000 output must be seekable")
		}
		enc, err := b000.NewEncoder(ws, &header, opts.B000)
		if err != nil {
			return err
		}
		if err := h.each(ctx, h.ordered(), enc.Write); err != nil {
			return err
		}
		return enc.Close()
	default:
		mw, err := mzml.NewWriter(w, &header,
			h.index.Len(spectra.SpectrumRecord), h.index.Len(spectra.ChromatogramRecord), opts.MzML)
		if err != nil {
			return err
		}
		if err := h.each(ctx, h.ordered(), mw.WriteRecord); err != nil {
			return err
		}
		return mw.Close()
	}
}
