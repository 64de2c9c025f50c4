// Package wire holds the QPACK byte-level codecs: prefixed integers and
// string literals (RFC 7541, section 5), encoder and decoder stream
// instructions, and header block representations (RFC 9204, section 4).
package wire

import (
	"errors"
	"fmt"

	"qpackd/internal/huffman"
)

// MaxInt is the largest integer accepted on the wire (a QUIC varint).
const MaxInt = 1<<62 - 1

// MaxStringLength bounds a single string literal.
const MaxStringLength = 1 << 20

var (
	// ErrNeedMore means the input ends inside a representation. On the
	// control streams it asks for more bytes; inside a header block it is
	// a structural error.
	ErrNeedMore = errors.New("need more bytes")

	ErrIntegerOverflow = errors.New("prefixed integer overflow")
	ErrStringTooLong   = errors.New("string literal too long")
)

// AppendInt appends v as an integer with an n-bit prefix. first carries the
// flag bits above the prefix; its low n bits must be zero.
func AppendInt(b []byte, first byte, n uint8, v uint64) []byte {
	mask := uint64(1)<<n - 1
	if v < mask {
		return append(b, first|byte(v))
	}
	b = append(b, first|byte(mask))
	v -= mask
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// ReadInt reads an integer with an n-bit prefix from p and returns it along
// with the number of bytes consumed.
func ReadInt(p []byte, n uint8) (uint64, int, error) {
	if len(p) == 0 {
		return 0, 0, ErrNeedMore
	}
	mask := uint64(1)<<n - 1
	v := uint64(p[0]) & mask
	if v < mask {
		return v, 1, nil
	}
	var m uint
	for i := 1; i < len(p); i++ {
		b := p[i]
		if m > 56 {
			return 0, 0, ErrIntegerOverflow
		}
		v += uint64(b&0x7f) << m
		if v > MaxInt {
			return 0, 0, ErrIntegerOverflow
		}
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		m += 7
	}
	return 0, 0, ErrNeedMore
}

// AppendString appends s as a string literal whose length has an n-bit
// prefix. The Huffman flag is the bit just above the prefix; Huffman coding
// is used only when it is strictly shorter.
func AppendString(b []byte, first byte, n uint8, s string) []byte {
	if huffman.Shorter(s) {
		b = AppendInt(b, first|1<<n, n, huffman.EncodedLen(s))
		return huffman.AppendEncoded(b, s)
	}
	b = AppendInt(b, first, n, uint64(len(s)))
	return append(b, s...)
}

// ReadString reads a string literal with an n-bit length prefix.
func ReadString(p []byte, n uint8) (string, int, error) {
	if len(p) == 0 {
		return "", 0, ErrNeedMore
	}
	huff := p[0]&(1<<n) != 0
	length, off, err := ReadInt(p, n)
	if err != nil {
		return "", 0, err
	}
	if length > MaxStringLength {
		return "", 0, fmt.Errorf("%w: %d bytes", ErrStringTooLong, length)
	}
	end := off + int(length)
	if end > len(p) {
		return "", 0, ErrNeedMore
	}
	if !huff {
		return string(p[off:end]), end, nil
	}
	s, err := huffman.Decode(p[off:end], huffman.AnyLength)
	if err != nil {
		return "", 0, err
	}
	return s, end, nil
}
