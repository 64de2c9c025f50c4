package qpack

import (
	"errors"
	"fmt"

	"qpackd/internal/huffman"
	"qpackd/internal/qpack/table"
)

var (
	ErrInvalidHeader       = errors.New("invalid header")
	ErrInvalidSettings     = errors.New("invalid settings")
	ErrStreamBlocked       = errors.New("stream blocked")
	ErrDecompressionFailed = errors.New("decompression failed")
	ErrEncoderStream       = errors.New("encoder stream error")
	ErrDecoderStream       = errors.New("decoder stream error")
	ErrNoSuchBlock         = errors.New("no pending header block for stream")
	ErrStreamPending       = errors.New("stream already has a pending header block")

	ErrTableFull        = table.ErrTableFull
	ErrEntryNotFound    = table.ErrEntryNotFound
	ErrMalformedLiteral = huffman.ErrMalformedLiteral
)

// BlockedError is returned when a header block needs more dynamic table
// insertions than the decoder has received. It matches ErrStreamBlocked.
type BlockedError struct {
	StreamID            uint64
	RequiredInsertCount uint64
	InsertCount         uint64
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("stream %d blocked: required insert count %d, insert count %d",
		e.StreamID, e.RequiredInsertCount, e.InsertCount)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrStreamBlocked
}
