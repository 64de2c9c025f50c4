package wire

import "fmt"

type EncoderInstructionType uint8

const (
	SetCapacity EncoderInstructionType = iota + 1
	InsertWithNameRef
	InsertWithLiteralName
	Duplicate
)

func (t EncoderInstructionType) String() string {
	switch t {
	case SetCapacity:
		return "SetDynamicTableCapacity"
	case InsertWithNameRef:
		return "InsertWithNameReference"
	case InsertWithLiteralName:
		return "InsertWithLiteralName"
	case Duplicate:
		return "Duplicate"
	}
	return fmt.Sprintf("EncoderInstructionType(%d)", uint8(t))
}

// EncoderInstruction is one instruction on the encoder stream.
//
//	SetCapacity            001xxxxx  Capacity
//	InsertWithNameRef      1Txxxxxx  Static, Index, Value
//	InsertWithLiteralName  01Hxxxxx  Name, Value
//	Duplicate              000xxxxx  Index
//
// Index is relative to the receiver's insert count for dynamic references.
type EncoderInstruction struct {
	Type     EncoderInstructionType
	Capacity uint64
	Static   bool
	Index    uint64
	Name     string
	Value    string
}

func (ins EncoderInstruction) Append(b []byte) []byte {
	switch ins.Type {
	case SetCapacity:
		return AppendInt(b, 0x20, 5, ins.Capacity)
	case InsertWithNameRef:
		first := byte(0x80)
		if ins.Static {
			first |= 0x40
		}
		b = AppendInt(b, first, 6, ins.Index)
		return AppendString(b, 0x00, 7, ins.Value)
	case InsertWithLiteralName:
		b = AppendString(b, 0x40, 5, ins.Name)
		return AppendString(b, 0x00, 7, ins.Value)
	case Duplicate:
		return AppendInt(b, 0x00, 5, ins.Index)
	}
	panic(fmt.Sprintf("wire: cannot encode %v", ins.Type))
}

// ParseEncoderInstruction parses the first instruction in p. ErrNeedMore
// means p ends inside the instruction; any other error is a stream error.
func ParseEncoderInstruction(p []byte) (EncoderInstruction, int, error) {
	var ins EncoderInstruction
	if len(p) == 0 {
		return ins, 0, ErrNeedMore
	}

	var n int
	var err error
	switch b := p[0]; {
	case b&0x80 != 0:
		ins.Type = InsertWithNameRef
		ins.Static = b&0x40 != 0
		if ins.Index, n, err = ReadInt(p, 6); err != nil {
			return ins, 0, err
		}
		v, m, err := ReadString(p[n:], 7)
		if err != nil {
			return ins, 0, err
		}
		ins.Value = v
		n += m
	case b&0x40 != 0:
		ins.Type = InsertWithLiteralName
		name, m, err := ReadString(p, 5)
		if err != nil {
			return ins, 0, err
		}
		v, k, err := ReadString(p[m:], 7)
		if err != nil {
			return ins, 0, err
		}
		ins.Name, ins.Value = name, v
		n = m + k
	case b&0x20 != 0:
		ins.Type = SetCapacity
		if ins.Capacity, n, err = ReadInt(p, 5); err != nil {
			return ins, 0, err
		}
	default:
		ins.Type = Duplicate
		if ins.Index, n, err = ReadInt(p, 5); err != nil {
			return ins, 0, err
		}
	}
	return ins, n, nil
}

type DecoderInstructionType uint8

const (
	HeaderAck DecoderInstructionType = iota + 1
	StreamCancel
	InsertCountIncrement
)

func (t DecoderInstructionType) String() string {
	switch t {
	case HeaderAck:
		return "SectionAcknowledgment"
	case StreamCancel:
		return "StreamCancellation"
	case InsertCountIncrement:
		return "InsertCountIncrement"
	}
	return fmt.Sprintf("DecoderInstructionType(%d)", uint8(t))
}

// DecoderInstruction is one instruction on the decoder stream.
//
//	HeaderAck             1xxxxxxx  StreamID
//	StreamCancel          01xxxxxx  StreamID
//	InsertCountIncrement  00xxxxxx  Increment
type DecoderInstruction struct {
	Type      DecoderInstructionType
	StreamID  uint64
	Increment uint64
}

func (ins DecoderInstruction) Append(b []byte) []byte {
	switch ins.Type {
	case HeaderAck:
		return AppendInt(b, 0x80, 7, ins.StreamID)
	case StreamCancel:
		return AppendInt(b, 0x40, 6, ins.StreamID)
	case InsertCountIncrement:
		return AppendInt(b, 0x00, 6, ins.Increment)
	}
	panic(fmt.Sprintf("wire: cannot encode %v", ins.Type))
}

// ParseDecoderInstruction parses the first instruction in p, with the same
// ErrNeedMore convention as ParseEncoderInstruction.
func ParseDecoderInstruction(p []byte) (DecoderInstruction, int, error) {
	var ins DecoderInstruction
	if len(p) == 0 {
		return ins, 0, ErrNeedMore
	}

	var n int
	var err error
	switch b := p[0]; {
	case b&0x80 != 0:
		ins.Type = HeaderAck
		ins.StreamID, n, err = ReadInt(p, 7)
	case b&0x40 != 0:
		ins.Type = StreamCancel
		ins.StreamID, n, err = ReadInt(p, 6)
	default:
		ins.Type = InsertCountIncrement
		ins.Increment, n, err = ReadInt(p, 6)
	}
	if err != nil {
		return ins, 0, err
	}
	return ins, n, nil
}
