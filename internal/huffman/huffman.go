// Package huffman implements the string-literal Huffman code shared by HPACK
// and QPACK (RFC 7541, Appendix B). The functions are pure and safe for
// concurrent use.
package huffman

import (
	"errors"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// AnyLength disables the decoded-length check in Decode.
const AnyLength = -1

var ErrMalformedLiteral = errors.New("malformed huffman literal")

// EncodedLen is the number of bytes Encode would produce for s.
func EncodedLen(s string) uint64 {
	return hpack.HuffmanEncodeLength(s)
}

// Shorter reports whether Huffman coding s saves at least one byte.
func Shorter(s string) bool {
	return EncodedLen(s) < uint64(len(s))
}

// Encode returns s bit-packed and padded with 1-bits up to the byte boundary.
func Encode(s string) []byte {
	return AppendEncoded(make([]byte, 0, EncodedLen(s)), s)
}

func AppendEncoded(dst []byte, s string) []byte {
	return hpack.AppendHuffmanString(dst, s)
}

// Decode decodes p. Padding longer than seven bits, padding that is not
// all ones, an embedded EOS symbol, or an output length different from
// expectedLen (unless AnyLength) yield ErrMalformedLiteral.
func Decode(p []byte, expectedLen int) (string, error) {
	s, err := hpack.HuffmanDecodeToString(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedLiteral, err)
	}
	if expectedLen != AnyLength && len(s) != expectedLen {
		return "", fmt.Errorf("%w: decoded %d bytes, expected %d", ErrMalformedLiteral, len(s), expectedLen)
	}
	return s, nil
}
