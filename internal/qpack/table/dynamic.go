package table

import (
	"errors"
	"fmt"
)

// EntryOverhead is the per-entry accounting overhead added to name and value length.
const EntryOverhead = 32

var (
	ErrTableFull     = errors.New("entry does not fit in the dynamic table")
	ErrEntryNotFound = errors.New("table entry not found")
	ErrEntryPinned   = errors.New("eviction blocked by a referenced entry")
	ErrInvalidIndex  = errors.New("invalid relative index")
)

type IndexError struct {
	Index  uint64
	Static bool
}

func (e *IndexError) Error() string {
	if e.Static {
		return fmt.Sprintf("static table has no entry %d", e.Index)
	}
	return fmt.Sprintf("dynamic table has no entry with absolute index %d", e.Index)
}

func (e *IndexError) Unwrap() error {
	return ErrEntryNotFound
}

type Entry struct {
	AbsoluteIndex uint64
	Name          string
	Value         string

	refs int
}

func EntrySize(name, value string) uint64 {
	return uint64(len(name)) + uint64(len(value)) + EntryOverhead
}

func (e *Entry) Size() uint64 {
	return EntrySize(e.Name, e.Value)
}

// Dynamic is one side's mirror of the dynamic table. Absolute indices start
// at 1 and equal the insert count right after the entry was added, so a
// header block referencing entry i needs an insert count of at least i.
//
// Entries can be pinned while unacknowledged header blocks reference them;
// insertions that would evict a pinned entry are refused.
type Dynamic struct {
	entries     []*Entry // oldest first
	size        uint64
	capacity    uint64
	insertCount uint64
}

func NewDynamic(capacity uint64) *Dynamic {
	return &Dynamic{capacity: capacity}
}

func (t *Dynamic) Capacity() uint64 {
	return t.capacity
}

func (t *Dynamic) Size() uint64 {
	return t.size
}

func (t *Dynamic) Len() int {
	return len(t.entries)
}

func (t *Dynamic) InsertCount() uint64 {
	return t.insertCount
}

// Evicted is the number of entries dropped so far; the oldest live entry has
// absolute index Evicted()+1.
func (t *Dynamic) Evicted() uint64 {
	return t.insertCount - uint64(len(t.entries))
}

// Fits reports whether an entry of the given size could be inserted now
// without evicting a pinned entry.
func (t *Dynamic) Fits(size uint64) bool {
	_, err := t.evictionsFor(size)
	return err == nil
}

// Insert appends a new entry, evicting the oldest entries to make room, and
// returns its absolute index. The table is left untouched on error.
func (t *Dynamic) Insert(name, value string) (uint64, error) {
	size := EntrySize(name, value)
	n, err := t.evictionsFor(size)
	if err != nil {
		return 0, err
	}
	t.evict(n)

	t.insertCount++
	t.entries = append(t.entries, &Entry{AbsoluteIndex: t.insertCount, Name: name, Value: value})
	t.size += size
	return t.insertCount, nil
}

// Duplicate re-inserts a copy of a live entry.
func (t *Dynamic) Duplicate(abs uint64) (uint64, error) {
	e, err := t.Lookup(abs)
	if err != nil {
		return 0, err
	}
	return t.Insert(e.Name, e.Value)
}

// SetCapacity changes the capacity and evicts the oldest entries until the
// table fits. Pins are not consulted; callers that pin check CanShrink first.
func (t *Dynamic) SetCapacity(capacity uint64) {
	t.capacity = capacity
	n := 0
	for freed := uint64(0); t.size-freed > capacity; n++ {
		freed += t.entries[n].Size()
	}
	t.evict(n)
}

// CanShrink reports whether the table could shrink to capacity without
// evicting a pinned entry.
func (t *Dynamic) CanShrink(capacity uint64) bool {
	freed := uint64(0)
	for _, e := range t.entries {
		if t.size-freed <= capacity {
			return true
		}
		if e.refs > 0 {
			return false
		}
		freed += e.Size()
	}
	return t.size-freed <= capacity
}

func (t *Dynamic) Lookup(abs uint64) (Entry, error) {
	e := t.entry(abs)
	if e == nil {
		return Entry{}, &IndexError{Index: abs}
	}
	return *e, nil
}

// Find returns the newest entry matching name and value, falling back to the
// newest entry matching only the name.
func (t *Dynamic) Find(name, value string) (abs uint64, exact, found bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Name != name {
			continue
		}
		if e.Value == value {
			return e.AbsoluteIndex, true, true
		}
		if !found {
			abs, found = e.AbsoluteIndex, true
		}
	}
	return abs, false, found
}

// EvictedWithin reports whether entry abs would be evicted by inserting
// another `bytes` worth of entries.
func (t *Dynamic) EvictedWithin(abs, bytes uint64) bool {
	if t.entry(abs) == nil {
		return true
	}
	room := t.capacity - t.size
	for _, e := range t.entries {
		room += e.Size()
		if e.AbsoluteIndex == abs {
			break
		}
	}
	return room <= bytes
}

func (t *Dynamic) Pin(abs uint64) {
	if e := t.entry(abs); e != nil {
		e.refs++
	}
}

func (t *Dynamic) Unpin(abs uint64) {
	if e := t.entry(abs); e != nil && e.refs > 0 {
		e.refs--
	}
}

func (t *Dynamic) Pinned(abs uint64) bool {
	e := t.entry(abs)
	return e != nil && e.refs > 0
}

func (t *Dynamic) entry(abs uint64) *Entry {
	if abs == 0 || abs > t.insertCount || abs <= t.Evicted() {
		return nil
	}
	return t.entries[abs-t.Evicted()-1]
}

// evictionsFor returns how many of the oldest entries must go before an
// entry of the given size fits.
func (t *Dynamic) evictionsFor(size uint64) (int, error) {
	if size > t.capacity {
		return 0, fmt.Errorf("%w: entry size %d exceeds capacity %d", ErrTableFull, size, t.capacity)
	}
	n := 0
	for freed := uint64(0); t.size-freed+size > t.capacity; n++ {
		e := t.entries[n]
		if e.refs > 0 {
			return 0, fmt.Errorf("%w: entry %d", ErrEntryPinned, e.AbsoluteIndex)
		}
		freed += e.Size()
	}
	return n, nil
}

func (t *Dynamic) evict(n int) {
	for _, e := range t.entries[:n] {
		t.size -= e.Size()
	}
	clear(t.entries[:n])
	t.entries = t.entries[n:]
}
