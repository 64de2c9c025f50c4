package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTable(t *testing.T) {
	assert.Equal(t, uint64(99), StaticLen())

	e, err := LookupStatic(25)
	require.NoError(t, err)
	assert.Equal(t, StaticEntry{":status", "200"}, e)

	_, err = LookupStatic(99)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	idx, exact, found := FindStatic(":method", "GET")
	assert.Equal(t, uint64(17), idx)
	assert.True(t, exact)
	assert.True(t, found)

	idx, exact, found = FindStatic(":authority", "example.com")
	assert.Equal(t, uint64(0), idx)
	assert.False(t, exact)
	assert.True(t, found)

	idx, exact, found = FindStatic("content-type", "text/xml")
	assert.Equal(t, uint64(44), idx, "first entry with the name")
	assert.False(t, exact)
	assert.True(t, found)

	_, _, found = FindStatic("x-custom", "")
	assert.False(t, found)
}

func TestInsertAndLookup(t *testing.T) {
	tbl := NewDynamic(256)

	abs, err := tbl.Insert("one", "foo")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), abs)

	abs, err = tbl.Insert("two", "bar")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), abs)

	assert.Equal(t, uint64(2), tbl.InsertCount())
	assert.Equal(t, uint64(76), tbl.Size())

	e, err := tbl.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, "one", e.Name)
	assert.Equal(t, "foo", e.Value)
	assert.Equal(t, uint64(38), e.Size())

	_, err = tbl.Lookup(0)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = tbl.Lookup(3)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestInsertEvictsOldest(t *testing.T) {
	// room for exactly two 38-byte entries
	tbl := NewDynamic(80)

	for _, name := range []string{"aaa", "bbb", "ccc"} {
		_, err := tbl.Insert(name, "xyz")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint64(1), tbl.Evicted())
	_, err := tbl.Lookup(1)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	e, err := tbl.Lookup(3)
	require.NoError(t, err)
	assert.Equal(t, "ccc", e.Name)
}

func TestInsertTooLarge(t *testing.T) {
	tbl := NewDynamic(40)
	_, err := tbl.Insert("name", "value-that-is-too-long")
	assert.ErrorIs(t, err, ErrTableFull)
	assert.Equal(t, uint64(0), tbl.InsertCount())

	tbl = NewDynamic(0)
	_, err = tbl.Insert("", "")
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestPinnedEntryBlocksEviction(t *testing.T) {
	tbl := NewDynamic(80)
	_, err := tbl.Insert("aaa", "xyz")
	require.NoError(t, err)
	_, err = tbl.Insert("bbb", "xyz")
	require.NoError(t, err)

	tbl.Pin(1)
	assert.True(t, tbl.Pinned(1))
	assert.False(t, tbl.Fits(38))
	assert.False(t, tbl.CanShrink(40))

	_, err = tbl.Insert("ccc", "xyz")
	assert.ErrorIs(t, err, ErrEntryPinned)
	assert.Equal(t, uint64(2), tbl.InsertCount(), "failed insert leaves the table untouched")

	tbl.Unpin(1)
	assert.True(t, tbl.Fits(38))
	_, err = tbl.Insert("ccc", "xyz")
	assert.NoError(t, err)
}

func TestDuplicate(t *testing.T) {
	tbl := NewDynamic(80)
	_, err := tbl.Insert("aaa", "xyz")
	require.NoError(t, err)
	_, err = tbl.Insert("bbb", "xyz")
	require.NoError(t, err)

	// duplicating the oldest entry evicts the original
	abs, err := tbl.Duplicate(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), abs)

	e, err := tbl.Lookup(3)
	require.NoError(t, err)
	assert.Equal(t, "aaa", e.Name)

	_, err = tbl.Duplicate(1)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = tbl.Duplicate(9)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSetCapacity(t *testing.T) {
	tbl := NewDynamic(256)
	for _, name := range []string{"aaa", "bbb", "ccc"} {
		_, err := tbl.Insert(name, "xyz")
		require.NoError(t, err)
	}

	tbl.SetCapacity(256)
	assert.Equal(t, 3, tbl.Len(), "same capacity is a no-op")

	tbl.SetCapacity(80)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint64(76), tbl.Size())

	tbl.SetCapacity(0)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, uint64(3), tbl.InsertCount(), "insert count survives eviction")
}

func TestFind(t *testing.T) {
	tbl := NewDynamic(256)
	_, _ = tbl.Insert("x-a", "1")
	_, _ = tbl.Insert("x-a", "2")
	_, _ = tbl.Insert("x-b", "1")

	abs, exact, found := tbl.Find("x-a", "1")
	assert.Equal(t, uint64(1), abs)
	assert.True(t, exact)
	assert.True(t, found)

	abs, exact, found = tbl.Find("x-a", "3")
	assert.Equal(t, uint64(2), abs, "newest name match")
	assert.False(t, exact)
	assert.True(t, found)

	_, _, found = tbl.Find("x-c", "1")
	assert.False(t, found)
}

func TestEvictedWithin(t *testing.T) {
	tbl := NewDynamic(160)
	_, _ = tbl.Insert("aaa", "xyz")
	_, _ = tbl.Insert("bbb", "xyz")

	// 84 bytes free; entry 1 goes after 84+38 bytes, entry 2 after 84+76.
	assert.False(t, tbl.EvictedWithin(1, 121))
	assert.True(t, tbl.EvictedWithin(1, 122))
	assert.False(t, tbl.EvictedWithin(2, 159))
	assert.True(t, tbl.EvictedWithin(2, 160))
	assert.True(t, tbl.EvictedWithin(7, 0))
}

func TestAbsoluteIndex(t *testing.T) {
	cases := []struct {
		name                     string
		limit, base, index, want uint64
		postBase                 bool
	}{
		{"encoder stream newest", 5, 5, 0, 5, false},
		{"encoder stream oldest", 5, 5, 4, 1, false},
		{"pre-base", 2, 2, 1, 1, false},
		{"post-base first", 2, 0, 0, 1, true},
		{"post-base second", 2, 0, 1, 2, true},
		{"base above required insert count", 3, 5, 2, 3, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			abs, err := AbsoluteIndex(c.limit, c.base, c.index, c.postBase)
			require.NoError(t, err)
			assert.Equal(t, c.want, abs)

			index, postBase := RelativeIndex(c.base, abs)
			assert.Equal(t, c.index, index)
			assert.Equal(t, c.postBase, postBase)
		})
	}
}

func TestAbsoluteIndexInvalid(t *testing.T) {
	_, err := AbsoluteIndex(0, 0, 0, false)
	assert.ErrorIs(t, err, ErrInvalidIndex, "empty table")

	_, err = AbsoluteIndex(5, 5, 5, false)
	assert.ErrorIs(t, err, ErrInvalidIndex, "index reaches below entry 1")

	_, err = AbsoluteIndex(2, 0, 2, true)
	assert.ErrorIs(t, err, ErrInvalidIndex, "post-base beyond required insert count")

	_, err = AbsoluteIndex(3, 5, 0, false)
	assert.ErrorIs(t, err, ErrInvalidIndex, "pre-base beyond required insert count")

	_, err = AbsoluteIndex(^uint64(0), ^uint64(0), 0, true)
	assert.ErrorIs(t, err, ErrInvalidIndex, "overflow")
}
