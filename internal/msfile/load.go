package msfile

import (
	"context"
	"fmt"
	"sync"

	"github.com/524D/mzbin/internal/spectra"
)

// each decodes the records of entries with the handle's workers and calls
// fn for them in the order of entries. The first error stops all workers
// and is returned.
func (h *Handle) each(ctx context.Context, entries []spectra.IndexEntry, fn func(*spectra.Record) error) error {
	if h.Stale() {
		return ErrStale
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		i   int
		rec *spectra.Record
		err error
	}
	// window bounds the records that are decoded but not yet passed to fn
	window := make(chan struct{}, 4*h.workers)
	jobs := make(chan int, h.workers)
	results := make(chan result, h.workers)

	var wg sync.WaitGroup
	wg.Add(h.workers)
	for w := 0; w < h.workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				rec, err := h.readEntry(entries[i])
				select {
				case results <- result{i, rec, err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range entries {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	pending := make(map[int]*spectra.Record)
	next := 0
	for r := range results {
		if firstErr != nil {
			continue
		}
		if r.err != nil {
			firstErr = r.err
			cancel()
			continue
		}
		pending[r.i] = r.rec
		for rec, ok := pending[next]; ok; rec, ok = pending[next] {
			delete(pending, next)
			next++
			<-window
			if err := fn(rec); err != nil {
				firstErr = err
				cancel()
				break
			}
		}
	}
	if firstErr == nil && next < len(entries) {
		// only the parent context can stop the workers early
		firstErr = ctx.Err()
	}
	return firstErr
}

// ordered returns all index entries, spectra first
func (h *Handle) ordered() []spectra.IndexEntry {
	return append(h.index.Entries(spectra.SpectrumRecord), h.index.Entries(spectra.ChromatogramRecord)...)
}

// Document decodes the whole file
func (h *Handle) Document(ctx context.Context) (*spectra.Document, error) {
	if err := h.checkComplete(); err != nil {
		return nil, err
	}
	doc := &spectra.Document{Header: *h.header}
	err := h.each(ctx, h.ordered(), func(rec *spectra.Record) error {
		doc.Add(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ReadRange returns the records of kind with ordinals from up to, but
// not including, to
func (h *Handle) ReadRange(ctx context.Context, kind spectra.RecordKind, from, to int) ([]*spectra.Record, error) {
	entries := h.index.Entries(kind)
	if from < 0 || to > len(entries) || from > to {
		return nil, fmt.Errorf("%w: %s range %d-%d of %d", spectra.ErrNotFound, kind, from, to, len(entries))
	}
	recs := make([]*spectra.Record, 0, to-from)
	err := h.each(ctx, entries[from:to], func(rec *spectra.Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}
