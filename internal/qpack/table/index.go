package table

import "fmt"

// AbsoluteIndex translates an index found on the wire into an absolute index.
//
// On the encoder stream base is the receiver's current insert count and
// postBase is always false. In a header block base is the block's Base and
// postBase selects the post-base representations. limit is the largest
// absolute index the reference may name: the insert count on the encoder
// stream, the Required Insert Count inside a header block.
func AbsoluteIndex(limit, base, index uint64, postBase bool) (uint64, error) {
	var abs uint64
	if postBase {
		abs = base + index + 1
		if abs <= base {
			return 0, fmt.Errorf("%w: post-base index %d overflows base %d", ErrInvalidIndex, index, base)
		}
	} else {
		if index >= base {
			return 0, fmt.Errorf("%w: relative index %d with base %d", ErrInvalidIndex, index, base)
		}
		abs = base - index
	}
	if abs > limit {
		return 0, fmt.Errorf("%w: absolute index %d beyond %d", ErrInvalidIndex, abs, limit)
	}
	return abs, nil
}

// RelativeIndex is the inverse of AbsoluteIndex for a given base.
func RelativeIndex(base, abs uint64) (index uint64, postBase bool) {
	if abs > base {
		return abs - base - 1, true
	}
	return base - abs, false
}
