package spectra

import "fmt"

// IndexEntry locates one record in a file. Length 0 means the record
// runs up to its end tag.
type IndexEntry struct {
	Kind    RecordKind
	ID      string
	Ordinal int
	Offset  int64
	Length  int64
}

// Index maps record identifiers to file offsets. Entries are kept in file
// order; lookups by id go through a map into that slice.
type Index struct {
	entries []IndexEntry
	byID    [2]map[string]int
	counts  [2]int
}

// NewIndex returns an empty index
func NewIndex() *Index {
	return &Index{byID: [2]map[string]int{{}, {}}}
}

// Add appends e. The ordinal of e is its position among the entries of
// the same kind; identifiers must be unique per kind.
func (x *Index) Add(e IndexEntry) error {
	if e.Kind > ChromatogramRecord {
		return fmt.Errorf("%w: unknown record kind %d", ErrIndexCorrupt, e.Kind)
	}
	if _, dup := x.byID[e.Kind][e.ID]; dup {
		return fmt.Errorf("%w: duplicate %s id %q", ErrIndexCorrupt, e.Kind, e.ID)
	}
	e.Ordinal = x.counts[e.Kind]
	x.counts[e.Kind]++
	x.byID[e.Kind][e.ID] = len(x.entries)
	x.entries = append(x.entries, e)
	return nil
}

// Locate returns the entry for id
func (x *Index) Locate(kind RecordKind, id string) (IndexEntry, error) {
	if kind <= ChromatogramRecord {
		if i, ok := x.byID[kind][id]; ok {
			return x.entries[i], nil
		}
	}
	return IndexEntry{}, fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// Len returns the number of entries of kind
func (x *Index) Len(kind RecordKind) int {
	if kind > ChromatogramRecord {
		return 0
	}
	return x.counts[kind]
}

// Entries returns the entries of kind in file order
func (x *Index) Entries(kind RecordKind) []IndexEntry {
	list := make([]IndexEntry, 0, x.Len(kind))
	for _, e := range x.entries {
		if e.Kind == kind {
			list = append(list, e)
		}
	}
	return list
}

// All returns all entries in the order they were added
func (x *Index) All() []IndexEntry {
	return x.entries
}

// Equal compares two indexes. Lengths are only compared when both are
// known, an embedded mzML index does not record them.
func (x *Index) Equal(y *Index) bool {
	if len(x.entries) != len(y.entries) {
		return false
	}
	for i, a := range x.entries {
		b := y.entries[i]
		if a.Kind != b.Kind || a.ID != b.ID || a.Ordinal != b.Ordinal || a.Offset != b.Offset {
			return false
		}
		if a.Length != 0 && b.Length != 0 && a.Length != b.Length {
			return false
		}
	}
	return true
}
