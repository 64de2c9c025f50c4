package wire

import (
	"errors"
	"fmt"
)

var ErrInvalidPrefix = errors.New("invalid header block prefix")

// MaxEntries is the largest number of entries a table of maxCapacity bytes
// can hold; it scales the Required Insert Count encoding.
func MaxEntries(maxCapacity uint64) uint64 {
	return maxCapacity / 32
}

// AppendPrefix appends the header block prefix for the given Required Insert
// Count and Base.
func AppendPrefix(b []byte, requiredInsertCount, base, maxEntries uint64) []byte {
	if requiredInsertCount == 0 {
		return append(b, 0x00, 0x00)
	}
	b = AppendInt(b, 0x00, 8, requiredInsertCount%(2*maxEntries)+1)
	if base >= requiredInsertCount {
		return AppendInt(b, 0x00, 7, base-requiredInsertCount)
	}
	return AppendInt(b, 0x80, 7, requiredInsertCount-base-1)
}

// ParsePrefix decodes the header block prefix. totalInserts is the decoder's
// current insert count, used to undo the modular Required Insert Count encoding.
func ParsePrefix(p []byte, maxEntries, totalInserts uint64) (requiredInsertCount, base uint64, n int, err error) {
	encoded, n, err := ReadInt(p, 8)
	if err != nil {
		return 0, 0, 0, err
	}
	if requiredInsertCount, err = decodeRequiredInsertCount(encoded, maxEntries, totalInserts); err != nil {
		return 0, 0, 0, err
	}

	if n >= len(p) {
		return 0, 0, 0, ErrNeedMore
	}
	negative := p[n]&0x80 != 0
	delta, m, err := ReadInt(p[n:], 7)
	if err != nil {
		return 0, 0, 0, err
	}
	n += m

	switch {
	case requiredInsertCount == 0:
		base = 0
	case negative:
		if delta >= requiredInsertCount {
			return 0, 0, 0, fmt.Errorf("%w: delta base %d with required insert count %d", ErrInvalidPrefix, delta, requiredInsertCount)
		}
		base = requiredInsertCount - delta - 1
	default:
		base = requiredInsertCount + delta
		if base < requiredInsertCount || base > MaxInt {
			return 0, 0, 0, fmt.Errorf("%w: base overflow", ErrInvalidPrefix)
		}
	}
	return requiredInsertCount, base, n, nil
}

func decodeRequiredInsertCount(encoded, maxEntries, totalInserts uint64) (uint64, error) {
	if encoded == 0 {
		return 0, nil
	}
	fullRange := 2 * maxEntries
	if encoded > fullRange {
		return 0, fmt.Errorf("%w: encoded insert count %d exceeds %d", ErrInvalidPrefix, encoded, fullRange)
	}
	maxValue := totalInserts + maxEntries
	maxWrapped := (maxValue / fullRange) * fullRange
	ric := maxWrapped + encoded - 1
	if ric > maxValue {
		if ric <= fullRange {
			return 0, fmt.Errorf("%w: required insert count %d out of range", ErrInvalidPrefix, ric)
		}
		ric -= fullRange
	}
	if ric == 0 {
		return 0, fmt.Errorf("%w: zero required insert count", ErrInvalidPrefix)
	}
	return ric, nil
}

type FieldLineType uint8

const (
	Indexed FieldLineType = iota + 1
	IndexedPostBase
	LiteralNameRef
	LiteralPostBaseNameRef
	LiteralLiteralName
)

// FieldLine is one field line representation inside a header block.
//
//	Indexed                 1Txxxxxx  Static, Index
//	IndexedPostBase         0001xxxx  Index
//	LiteralNameRef          01NTxxxx  NeverIndexed, Static, Index, Value
//	LiteralPostBaseNameRef  0000Nxxx  NeverIndexed, Index, Value
//	LiteralLiteralName      001NHxxx  NeverIndexed, Name, Value
type FieldLine struct {
	Type         FieldLineType
	Static       bool
	NeverIndexed bool
	Index        uint64
	Name         string
	Value        string
}

// PostBase reports whether Index is a post-base index.
func (f FieldLine) PostBase() bool {
	return f.Type == IndexedPostBase || f.Type == LiteralPostBaseNameRef
}

// HasReference reports whether the representation refers to a table entry.
func (f FieldLine) HasReference() bool {
	return f.Type != LiteralLiteralName
}

func (f FieldLine) Append(b []byte) []byte {
	var n byte
	if f.NeverIndexed {
		n = 1
	}
	switch f.Type {
	case Indexed:
		first := byte(0x80)
		if f.Static {
			first |= 0x40
		}
		return AppendInt(b, first, 6, f.Index)
	case IndexedPostBase:
		return AppendInt(b, 0x10, 4, f.Index)
	case LiteralNameRef:
		first := 0x40 | n<<5
		if f.Static {
			first |= 0x10
		}
		b = AppendInt(b, first, 4, f.Index)
		return AppendString(b, 0x00, 7, f.Value)
	case LiteralPostBaseNameRef:
		b = AppendInt(b, n<<3, 3, f.Index)
		return AppendString(b, 0x00, 7, f.Value)
	case LiteralLiteralName:
		b = AppendString(b, 0x20|n<<4, 3, f.Name)
		return AppendString(b, 0x00, 7, f.Value)
	}
	panic(fmt.Sprintf("wire: cannot encode field line type %d", f.Type))
}

// ParseFieldLine parses one field line representation. Header blocks arrive
// whole, so callers treat ErrNeedMore as a malformed block.
func ParseFieldLine(p []byte) (FieldLine, int, error) {
	var f FieldLine
	if len(p) == 0 {
		return f, 0, ErrNeedMore
	}

	var n int
	var err error
	b := p[0]
	switch {
	case b&0x80 != 0:
		f.Type = Indexed
		f.Static = b&0x40 != 0
		f.Index, n, err = ReadInt(p, 6)
		return f, n, err
	case b&0x40 != 0:
		f.Type = LiteralNameRef
		f.NeverIndexed = b&0x20 != 0
		f.Static = b&0x10 != 0
		f.Index, n, err = ReadInt(p, 4)
	case b&0x20 != 0:
		f.Type = LiteralLiteralName
		f.NeverIndexed = b&0x10 != 0
		f.Name, n, err = ReadString(p, 3)
	case b&0x10 != 0:
		f.Type = IndexedPostBase
		f.Index, n, err = ReadInt(p, 4)
		return f, n, err
	default:
		f.Type = LiteralPostBaseNameRef
		f.NeverIndexed = b&0x08 != 0
		f.Index, n, err = ReadInt(p, 3)
	}
	if err != nil {
		return f, 0, err
	}

	v, m, err := ReadString(p[n:], 7)
	if err != nil {
		return f, 0, err
	}
	f.Value = v
	return f, n + m, nil
}
