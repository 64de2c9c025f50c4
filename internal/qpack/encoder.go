package qpack

import (
	"errors"
	"fmt"

	"qpackd/internal/logging"
	"qpackd/internal/qpack/table"
	"qpackd/internal/qpack/wire"
)

// headerBlock is an encoded header block the decoder has not acknowledged yet.
type headerBlock struct {
	seqNo               uint64
	requiredInsertCount uint64
	refs                []uint64
}

type Encoder struct {
	Logger logging.Logger

	table              *table.Dynamic
	history            *history
	maxTableCapacity   uint64
	maxBlockedStreams  uint64
	knownReceivedCount uint64

	// outstanding header blocks with dynamic references, per stream, oldest first
	streams map[uint64][]*headerBlock

	buf []byte // partial decoder stream instruction
}

// NewEncoder returns an encoder with no dynamic table. Call ApplySettings
// once the peer's settings are known.
func NewEncoder() *Encoder {
	return &Encoder{
		Logger:  logging.Nop,
		table:   table.NewDynamic(0),
		history: newHistory(0),
		streams: make(map[uint64][]*headerBlock),
	}
}

// Configure records the limits advertised by the peer decoder. The table
// capacity itself only changes through SetCapacity or ApplySettings.
func (e *Encoder) Configure(maxTableCapacity, maxBlockedStreams uint64) error {
	if e.table.Capacity() > maxTableCapacity {
		return fmt.Errorf("%w: table capacity %d exceeds maximum %d", ErrInvalidSettings, e.table.Capacity(), maxTableCapacity)
	}
	e.maxTableCapacity = maxTableCapacity
	e.maxBlockedStreams = maxBlockedStreams
	return nil
}

// ApplySettings configures the encoder with the peer's settings and uses the
// whole allowed table. It returns the encoder stream bytes announcing the
// capacity, or nothing if the capacity does not change.
func (e *Encoder) ApplySettings(maxTableCapacity, maxBlockedStreams uint64) ([]byte, error) {
	if !e.table.CanShrink(maxTableCapacity) {
		return nil, fmt.Errorf("%w: cannot shrink table to %d while entries are referenced", ErrInvalidSettings, maxTableCapacity)
	}
	e.maxTableCapacity = maxTableCapacity
	e.maxBlockedStreams = maxBlockedStreams
	e.Logger.Log(logging.LogLevelInfo, "Encoder settings: max table capacity %d, max blocked streams %d", maxTableCapacity, maxBlockedStreams)
	return e.SetCapacity(maxTableCapacity)
}

// SetCapacity changes the dynamic table capacity and returns the Set Dynamic
// Table Capacity instruction for the encoder stream.
func (e *Encoder) SetCapacity(capacity uint64) ([]byte, error) {
	if capacity > e.maxTableCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds maximum %d", ErrInvalidSettings, capacity, e.maxTableCapacity)
	}
	if capacity == e.table.Capacity() {
		return nil, nil
	}
	if !e.table.CanShrink(capacity) {
		return nil, fmt.Errorf("%w: cannot shrink table to %d while entries are referenced", ErrInvalidSettings, capacity)
	}
	e.setCapacity(capacity)
	ins := wire.EncoderInstruction{Type: wire.SetCapacity, Capacity: capacity}
	e.Logger.Log(logging.LogLevelDebug, "Encoder stream: %v %d", ins.Type, capacity)
	return ins.Append(nil), nil
}

func (e *Encoder) setCapacity(capacity uint64) {
	e.table.SetCapacity(capacity)
	e.history.resize(int(capacity / table.EntryOverhead))
}

// blockState tracks one header block while it is being encoded.
type blockState struct {
	streamID            uint64
	base                uint64
	requiredInsertCount uint64
	risky               bool
	refs                []uint64
}

// Encode encodes headers for a stream. control must reach the peer's decoder
// on the encoder stream before or together with block. On error nothing is
// emitted and the encoder state is unchanged.
func (e *Encoder) Encode(streamID, seqNo uint64, headers []HeaderField) (control, block []byte, err error) {
	if err := validateHeaders(headers); err != nil {
		return nil, nil, err
	}

	st := &blockState{streamID: streamID, base: e.table.InsertCount()}
	var lines []byte
	for _, hf := range headers {
		control, lines = e.encodeField(st, control, lines, hf)
	}

	block = wire.AppendPrefix(make([]byte, 0, len(lines)+4), st.requiredInsertCount, st.base, wire.MaxEntries(e.maxTableCapacity))
	block = append(block, lines...)

	if st.requiredInsertCount > 0 {
		e.streams[streamID] = append(e.streams[streamID], &headerBlock{
			seqNo:               seqNo,
			requiredInsertCount: st.requiredInsertCount,
			refs:                st.refs,
		})
	}
	e.Logger.Log(logging.LogLevelDebug, "Encoded %d fields for stream %d (seq %d): %d control bytes, %d block bytes, required insert count %d",
		len(headers), streamID, seqNo, len(control), len(block), st.requiredInsertCount)
	return control, block, nil
}

func (e *Encoder) encodeField(st *blockState, control, lines []byte, hf HeaderField) ([]byte, []byte) {
	staticIdx, staticExact, staticName := table.FindStatic(hf.Name, hf.Value)
	if staticExact && !hf.NeverIndexed {
		return control, wire.FieldLine{Type: wire.Indexed, Static: true, Index: staticIdx}.Append(lines)
	}

	literal := func() []byte {
		line := wire.FieldLine{Type: wire.LiteralLiteralName, NeverIndexed: hf.NeverIndexed, Name: hf.Name, Value: hf.Value}
		if staticName {
			line = wire.FieldLine{Type: wire.LiteralNameRef, Static: true, NeverIndexed: hf.NeverIndexed, Index: staticIdx, Value: hf.Value}
		} else if abs, _, found := e.table.Find(hf.Name, hf.Value); found && e.canReference(st, abs) {
			line = e.nameRef(st, abs, hf)
		}
		return line.Append(lines)
	}
	if hf.NeverIndexed {
		return control, literal()
	}

	seen := e.history.seen(hf)
	e.history.add(hf)

	if abs, exact, _ := e.table.Find(hf.Name, hf.Value); exact {
		if e.draining(abs) && e.table.Fits(hf.Size()) {
			ins := wire.EncoderInstruction{Type: wire.Duplicate, Index: e.insertIndex(abs)}
			dup, err := e.table.Duplicate(abs)
			if err == nil {
				e.Logger.Log(logging.LogLevelDebug, "Encoder stream: %v of entry %d as %d", ins.Type, abs, dup)
				control = ins.Append(control)
				abs = dup
			}
		}
		if e.canReference(st, abs) {
			return control, e.indexed(st, abs).Append(lines)
		}
		return control, literal()
	}

	if !seen || !e.table.Fits(hf.Size()) {
		return control, literal()
	}

	ins := e.insertInstruction(hf)
	abs, err := e.table.Insert(hf.Name, hf.Value)
	if err != nil {
		return control, literal()
	}
	e.Logger.Log(logging.LogLevelDebug, "Encoder stream: %v %q as entry %d", ins.Type, hf.Name, abs)
	control = ins.Append(control)
	if e.canReference(st, abs) {
		return control, e.indexed(st, abs).Append(lines)
	}
	return control, literal()
}

// insertInstruction picks the cheapest way to insert hf. It must be called
// before the insertion so dynamic name references resolve against the
// current insert count.
func (e *Encoder) insertInstruction(hf HeaderField) wire.EncoderInstruction {
	if idx, _, found := table.FindStatic(hf.Name, hf.Value); found {
		return wire.EncoderInstruction{Type: wire.InsertWithNameRef, Static: true, Index: idx, Value: hf.Value}
	}
	if abs, _, found := e.table.Find(hf.Name, hf.Value); found {
		return wire.EncoderInstruction{Type: wire.InsertWithNameRef, Index: e.insertIndex(abs), Value: hf.Value}
	}
	return wire.EncoderInstruction{Type: wire.InsertWithLiteralName, Name: hf.Name, Value: hf.Value}
}

// insertIndex is the encoder stream's relative index of abs.
func (e *Encoder) insertIndex(abs uint64) uint64 {
	idx, _ := table.RelativeIndex(e.table.InsertCount(), abs)
	return idx
}

// draining reports whether an entry is close enough to eviction that
// referencing it would soon block further insertions.
func (e *Encoder) draining(abs uint64) bool {
	return e.table.EvictedWithin(abs, e.table.Capacity()/4)
}

// canReference reports whether the block may reference entry abs without
// exceeding the peer's blocked stream limit.
func (e *Encoder) canReference(st *blockState, abs uint64) bool {
	if abs <= e.knownReceivedCount || st.risky {
		return true
	}
	if e.streamRisky(st.streamID) || uint64(e.BlockedStreams()) < e.maxBlockedStreams {
		st.risky = true
		return true
	}
	return false
}

func (e *Encoder) reference(st *blockState, abs uint64) (index uint64, postBase bool) {
	e.table.Pin(abs)
	st.refs = append(st.refs, abs)
	st.requiredInsertCount = max(st.requiredInsertCount, abs)
	return table.RelativeIndex(st.base, abs)
}

func (e *Encoder) indexed(st *blockState, abs uint64) wire.FieldLine {
	idx, postBase := e.reference(st, abs)
	if postBase {
		return wire.FieldLine{Type: wire.IndexedPostBase, Index: idx}
	}
	return wire.FieldLine{Type: wire.Indexed, Index: idx}
}

func (e *Encoder) nameRef(st *blockState, abs uint64, hf HeaderField) wire.FieldLine {
	idx, postBase := e.reference(st, abs)
	if postBase {
		return wire.FieldLine{Type: wire.LiteralPostBaseNameRef, NeverIndexed: hf.NeverIndexed, Index: idx, Value: hf.Value}
	}
	return wire.FieldLine{Type: wire.LiteralNameRef, NeverIndexed: hf.NeverIndexed, Index: idx, Value: hf.Value}
}

func (e *Encoder) streamRisky(streamID uint64) bool {
	for _, b := range e.streams[streamID] {
		if b.requiredInsertCount > e.knownReceivedCount {
			return true
		}
	}
	return false
}

// BlockedStreams is the number of streams whose outstanding header blocks
// may be blocked at the decoder.
func (e *Encoder) BlockedStreams() int {
	n := 0
	for id := range e.streams {
		if e.streamRisky(id) {
			n++
		}
	}
	return n
}

// FeedDecoder applies decoder stream bytes. Incomplete instructions are kept
// until the rest arrives.
func (e *Encoder) FeedDecoder(p []byte) error {
	e.buf = append(e.buf, p...)
	for len(e.buf) > 0 {
		ins, n, err := wire.ParseDecoderInstruction(e.buf)
		if errors.Is(err, wire.ErrNeedMore) {
			return nil
		}
		if err == nil {
			err = e.applyDecoderInstruction(ins)
		}
		if err != nil {
			e.buf = nil
			e.Logger.Log(logging.LogLevelWarn, "Decoder stream error: %v", err)
			return fmt.Errorf("%w: %w", ErrDecoderStream, err)
		}
		e.buf = e.buf[n:]
	}
	e.buf = nil
	return nil
}

func (e *Encoder) applyDecoderInstruction(ins wire.DecoderInstruction) error {
	switch ins.Type {
	case wire.HeaderAck:
		blocks := e.streams[ins.StreamID]
		if len(blocks) == 0 {
			return fmt.Errorf("acknowledgement for stream %d without an outstanding header block", ins.StreamID)
		}
		b := blocks[0]
		if len(blocks) == 1 {
			delete(e.streams, ins.StreamID)
		} else {
			e.streams[ins.StreamID] = blocks[1:]
		}
		e.release(b)
		e.knownReceivedCount = max(e.knownReceivedCount, b.requiredInsertCount)
		e.Logger.Log(logging.LogLevelDebug, "Decoder stream: %v stream %d (seq %d), known received count %d",
			ins.Type, ins.StreamID, b.seqNo, e.knownReceivedCount)
	case wire.StreamCancel:
		for _, b := range e.streams[ins.StreamID] {
			e.release(b)
		}
		delete(e.streams, ins.StreamID)
		e.Logger.Log(logging.LogLevelDebug, "Decoder stream: %v stream %d", ins.Type, ins.StreamID)
	case wire.InsertCountIncrement:
		if ins.Increment == 0 {
			return fmt.Errorf("zero insert count increment")
		}
		if ins.Increment > e.table.InsertCount()-e.knownReceivedCount {
			return fmt.Errorf("insert count increment %d beyond %d inserts", ins.Increment, e.table.InsertCount())
		}
		e.knownReceivedCount += ins.Increment
		e.Logger.Log(logging.LogLevelDebug, "Decoder stream: %v %d, known received count %d", ins.Type, ins.Increment, e.knownReceivedCount)
	}
	return nil
}

func (e *Encoder) release(b *headerBlock) {
	for _, abs := range b.refs {
		e.table.Unpin(abs)
	}
}

type EncoderStats struct {
	MaxTableCapacity   uint64 `json:"max_table_capacity"`
	MaxBlockedStreams  uint64 `json:"max_blocked_streams"`
	TableCapacity      uint64 `json:"table_capacity"`
	TableSize          uint64 `json:"table_size"`
	Entries            int    `json:"entries"`
	InsertCount        uint64 `json:"insert_count"`
	KnownReceivedCount uint64 `json:"known_received_count"`
	OutstandingBlocks  int    `json:"outstanding_blocks"`
	BlockedStreams     int    `json:"blocked_streams"`
}

func (e *Encoder) Stats() EncoderStats {
	outstanding := 0
	for _, blocks := range e.streams {
		outstanding += len(blocks)
	}
	return EncoderStats{
		MaxTableCapacity:   e.maxTableCapacity,
		MaxBlockedStreams:  e.maxBlockedStreams,
		TableCapacity:      e.table.Capacity(),
		TableSize:          e.table.Size(),
		Entries:            e.table.Len(),
		InsertCount:        e.table.InsertCount(),
		KnownReceivedCount: e.knownReceivedCount,
		OutstandingBlocks:  outstanding,
		BlockedStreams:     e.BlockedStreams(),
	}
}
