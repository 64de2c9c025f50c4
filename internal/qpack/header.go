// Package qpack implements the QPACK header compression engine (RFC 9204):
// an Encoder and a Decoder that each keep their own mirror of the dynamic
// table in sync through the encoder and decoder streams.
//
// Neither type is safe for concurrent use.
package qpack

import (
	"fmt"

	"qpackd/internal/qpack/table"
)

// MaxFieldSize is the largest len(Name)+len(Value) the encoder accepts.
const MaxFieldSize = 4095

type HeaderField struct {
	Name  string
	Value string

	// NeverIndexed fields are never inserted into the dynamic table and keep
	// the never-indexed flag on the wire.
	NeverIndexed bool
}

func (hf HeaderField) Size() uint64 {
	return table.EntrySize(hf.Name, hf.Value)
}

func (hf HeaderField) String() string {
	return fmt.Sprintf("%s: %s", hf.Name, hf.Value)
}

func validateHeaders(headers []HeaderField) error {
	for i, hf := range headers {
		if n := len(hf.Name) + len(hf.Value); n > MaxFieldSize {
			return fmt.Errorf("%w: field %d (%.32q) is %d bytes, limit is %d", ErrInvalidHeader, i, hf.Name, n, MaxFieldSize)
		}
	}
	return nil
}
