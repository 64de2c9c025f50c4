package qpack

import (
	"errors"
	"fmt"
	"slices"

	"qpackd/internal/logging"
	"qpackd/internal/qpack/table"
	"qpackd/internal/qpack/wire"
)

// pendingBlock is a header block waiting for more dynamic table insertions.
type pendingBlock struct {
	lines               []byte
	requiredInsertCount uint64
	base                uint64
	reported            bool // returned from FeedEncoder as unblocked
}

type Decoder struct {
	Logger logging.Logger

	table             *table.Dynamic
	maxTableCapacity  uint64
	maxBlockedStreams uint64

	// insert count the encoder has been told about through acknowledgements
	// and increments
	knownReceivedCount uint64

	pending map[uint64]*pendingBlock

	buf []byte // partial encoder stream instruction
}

// NewDecoder returns a decoder advertising the given settings. The dynamic
// table starts at its maximum capacity.
func NewDecoder(maxTableCapacity, maxBlockedStreams uint64) *Decoder {
	return &Decoder{
		Logger:            logging.Nop,
		table:             table.NewDynamic(maxTableCapacity),
		maxTableCapacity:  maxTableCapacity,
		maxBlockedStreams: maxBlockedStreams,
		pending:           make(map[uint64]*pendingBlock),
	}
}

// Configure changes the advertised settings. A table that has not seen any
// insertion is resized to the new maximum; a used table only shrinks.
func (d *Decoder) Configure(maxTableCapacity, maxBlockedStreams uint64) {
	d.maxTableCapacity = maxTableCapacity
	d.maxBlockedStreams = maxBlockedStreams
	if d.table.InsertCount() == 0 || d.table.Capacity() > maxTableCapacity {
		d.table.SetCapacity(maxTableCapacity)
	}
}

// FeedEncoder applies encoder stream bytes and returns the ids of streams,
// in ascending order, whose pending header blocks can now be resumed.
// Incomplete instructions are kept until the rest arrives. On error the
// instructions before the bad one stay applied and the streams they
// unblocked are still returned.
func (d *Decoder) FeedEncoder(p []byte) ([]uint64, error) {
	err := d.feedEncoder(p)
	return d.unblocked(), err
}

// FeedControl is FeedEncoder.
func (d *Decoder) FeedControl(p []byte) ([]uint64, error) {
	return d.FeedEncoder(p)
}

func (d *Decoder) feedEncoder(p []byte) error {
	d.buf = append(d.buf, p...)
	for len(d.buf) > 0 {
		ins, n, err := wire.ParseEncoderInstruction(d.buf)
		if errors.Is(err, wire.ErrNeedMore) {
			return nil
		}
		if err == nil {
			err = d.applyEncoderInstruction(ins)
		}
		if err != nil {
			d.buf = nil
			d.Logger.Log(logging.LogLevelWarn, "Encoder stream error: %v", err)
			return fmt.Errorf("%w: %w", ErrEncoderStream, err)
		}
		d.buf = d.buf[n:]
	}
	d.buf = nil
	return nil
}

func (d *Decoder) applyEncoderInstruction(ins wire.EncoderInstruction) error {
	switch ins.Type {
	case wire.SetCapacity:
		if ins.Capacity > d.maxTableCapacity {
			return fmt.Errorf("capacity %d exceeds maximum %d", ins.Capacity, d.maxTableCapacity)
		}
		d.table.SetCapacity(ins.Capacity)
		d.Logger.Log(logging.LogLevelDebug, "Encoder stream: %v %d", ins.Type, ins.Capacity)
		return nil
	case wire.InsertWithNameRef:
		var name string
		if ins.Static {
			e, err := table.LookupStatic(ins.Index)
			if err != nil {
				return err
			}
			name = e.Name
		} else {
			e, err := d.lookupRelative(ins.Index)
			if err != nil {
				return err
			}
			name = e.Name
		}
		return d.insert(ins.Type, name, ins.Value)
	case wire.InsertWithLiteralName:
		return d.insert(ins.Type, ins.Name, ins.Value)
	case wire.Duplicate:
		e, err := d.lookupRelative(ins.Index)
		if err != nil {
			return err
		}
		return d.insert(ins.Type, e.Name, e.Value)
	}
	return nil
}

func (d *Decoder) insert(t wire.EncoderInstructionType, name, value string) error {
	abs, err := d.table.Insert(name, value)
	if err != nil {
		return err
	}
	d.Logger.Log(logging.LogLevelDebug, "Encoder stream: %v %q as entry %d", t, name, abs)
	return nil
}

// lookupRelative resolves an encoder stream index against the current insert count.
func (d *Decoder) lookupRelative(index uint64) (table.Entry, error) {
	ic := d.table.InsertCount()
	abs, err := table.AbsoluteIndex(ic, ic, index, false)
	if err != nil {
		return table.Entry{}, fmt.Errorf("%w: %w", ErrEntryNotFound, err)
	}
	return d.table.Lookup(abs)
}

func (d *Decoder) unblocked() []uint64 {
	var ids []uint64
	for id, pb := range d.pending {
		if !pb.reported && pb.requiredInsertCount <= d.table.InsertCount() {
			pb.reported = true
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if ids == nil {
		ids = []uint64{}
	}
	for _, id := range ids {
		d.Logger.Log(logging.LogLevelInfo, "Stream %d unblocked at insert count %d", id, d.table.InsertCount())
	}
	return ids
}

// FeedHeader decodes a complete header block. It returns the decoder stream
// bytes to send back (Section Acknowledgment and Insert Count Increment) and
// the header list.
//
// A block that needs insertions the decoder has not received yet is kept and
// a *BlockedError is returned; call ResumeHeader once FeedEncoder reports the
// stream as unblocked.
func (d *Decoder) FeedHeader(streamID uint64, data []byte) (control []byte, headers []HeaderField, err error) {
	if _, ok := d.pending[streamID]; ok {
		return nil, nil, fmt.Errorf("%w: stream %d", ErrStreamPending, streamID)
	}

	ric, base, n, err := wire.ParsePrefix(data, wire.MaxEntries(d.maxTableCapacity), d.table.InsertCount())
	if err != nil {
		return nil, nil, d.decompressionFailed(streamID, err)
	}

	if ric > d.table.InsertCount() {
		if uint64(d.BlockedStreams()) >= d.maxBlockedStreams {
			d.Logger.Log(logging.LogLevelWarn, "Stream %d blocks beyond the limit of %d blocked streams", streamID, d.maxBlockedStreams)
		}
		d.pending[streamID] = &pendingBlock{
			lines:               slices.Clone(data[n:]),
			requiredInsertCount: ric,
			base:                base,
		}
		d.Logger.Log(logging.LogLevelInfo, "Stream %d blocked: required insert count %d, insert count %d", streamID, ric, d.table.InsertCount())
		return nil, nil, d.blocked(streamID, ric)
	}

	return d.decode(streamID, data[n:], ric, base)
}

// ResumeHeader decodes the pending header block of a stream.
func (d *Decoder) ResumeHeader(streamID uint64) (control []byte, headers []HeaderField, err error) {
	pb, ok := d.pending[streamID]
	if !ok {
		return nil, nil, fmt.Errorf("%w %d", ErrNoSuchBlock, streamID)
	}
	if pb.requiredInsertCount > d.table.InsertCount() {
		return nil, nil, d.blocked(streamID, pb.requiredInsertCount)
	}
	delete(d.pending, streamID)
	return d.decode(streamID, pb.lines, pb.requiredInsertCount, pb.base)
}

func (d *Decoder) decode(streamID uint64, p []byte, ric, base uint64) ([]byte, []HeaderField, error) {
	headers := make([]HeaderField, 0, 8)
	var maxRef uint64
	for len(p) > 0 {
		line, n, err := wire.ParseFieldLine(p)
		if err != nil {
			return nil, nil, d.decompressionFailed(streamID, err)
		}
		p = p[n:]

		hf := HeaderField{Name: line.Name, Value: line.Value, NeverIndexed: line.NeverIndexed}
		if line.HasReference() {
			var e table.StaticEntry
			if line.Static {
				if e, err = table.LookupStatic(line.Index); err != nil {
					return nil, nil, d.decompressionFailed(streamID, err)
				}
			} else {
				abs, err := table.AbsoluteIndex(ric, base, line.Index, line.PostBase())
				if err != nil {
					return nil, nil, d.decompressionFailed(streamID, err)
				}
				entry, err := d.table.Lookup(abs)
				if err != nil {
					return nil, nil, d.decompressionFailed(streamID, err)
				}
				e = table.StaticEntry{Name: entry.Name, Value: entry.Value}
				maxRef = max(maxRef, abs)
			}
			hf.Name = e.Name
			if line.Type == wire.Indexed || line.Type == wire.IndexedPostBase {
				hf.Value = e.Value
			}
		}
		headers = append(headers, hf)
	}
	if maxRef != ric {
		return nil, nil, d.decompressionFailed(streamID, fmt.Errorf("required insert count %d, largest reference %d", ric, maxRef))
	}

	var control []byte
	if ric > 0 {
		control = wire.DecoderInstruction{Type: wire.HeaderAck, StreamID: streamID}.Append(control)
		d.knownReceivedCount = max(d.knownReceivedCount, ric)
	}
	if ic := d.table.InsertCount(); ic > d.knownReceivedCount {
		control = wire.DecoderInstruction{Type: wire.InsertCountIncrement, Increment: ic - d.knownReceivedCount}.Append(control)
		d.knownReceivedCount = ic
	}
	d.Logger.Log(logging.LogLevelDebug, "Decoded %d fields for stream %d, required insert count %d", len(headers), streamID, ric)
	return control, headers, nil
}

// CancelStream drops any pending header block of the stream and returns the
// Stream Cancellation instruction for the decoder stream.
func (d *Decoder) CancelStream(streamID uint64) []byte {
	if _, ok := d.pending[streamID]; ok {
		delete(d.pending, streamID)
		d.Logger.Log(logging.LogLevelInfo, "Dropped pending header block of stream %d", streamID)
	}
	return wire.DecoderInstruction{Type: wire.StreamCancel, StreamID: streamID}.Append(nil)
}

// Close releases every pending header block.
func (d *Decoder) Close() {
	if len(d.pending) > 0 {
		d.Logger.Log(logging.LogLevelInfo, "Decoder closed with %d pending header blocks", len(d.pending))
	}
	clear(d.pending)
	d.buf = nil
}

// BlockedStreams is the number of pending header blocks still waiting for
// insertions.
func (d *Decoder) BlockedStreams() int {
	n := 0
	for _, pb := range d.pending {
		if pb.requiredInsertCount > d.table.InsertCount() {
			n++
		}
	}
	return n
}

func (d *Decoder) blocked(streamID, ric uint64) error {
	return &BlockedError{StreamID: streamID, RequiredInsertCount: ric, InsertCount: d.table.InsertCount()}
}

func (d *Decoder) decompressionFailed(streamID uint64, err error) error {
	d.Logger.Log(logging.LogLevelWarn, "Header block for stream %d rejected: %v", streamID, err)
	return fmt.Errorf("%w: stream %d: %w", ErrDecompressionFailed, streamID, err)
}

type DecoderStats struct {
	MaxTableCapacity   uint64 `json:"max_table_capacity"`
	MaxBlockedStreams  uint64 `json:"max_blocked_streams"`
	TableCapacity      uint64 `json:"table_capacity"`
	TableSize          uint64 `json:"table_size"`
	Entries            int    `json:"entries"`
	InsertCount        uint64 `json:"insert_count"`
	KnownReceivedCount uint64 `json:"known_received_count"`
	PendingBlocks      int    `json:"pending_blocks"`
	BlockedStreams     int    `json:"blocked_streams"`
}

func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		MaxTableCapacity:   d.maxTableCapacity,
		MaxBlockedStreams:  d.maxBlockedStreams,
		TableCapacity:      d.table.Capacity(),
		TableSize:          d.table.Size(),
		Entries:            d.table.Len(),
		InsertCount:        d.table.InsertCount(),
		KnownReceivedCount: d.knownReceivedCount,
		PendingBlocks:      len(d.pending),
		BlockedStreams:     d.BlockedStreams(),
	}
}
