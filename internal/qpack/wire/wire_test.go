package wire

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tested_hpack "github.com/tatsuhiro-t/go-http2-hpack"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestPrefixedInteger(t *testing.T) {
	cases := []struct {
		name string
		n    uint8
		v    uint64
		hex  string
	}{
		{"fits in prefix", 5, 10, "0a"},
		{"continuation", 5, 1337, "1f9a0a"},
		{"eight bit prefix", 8, 42, "2a"},
		{"prefix boundary", 5, 31, "1f00"},
		{"one below boundary", 5, 30, "1e"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := AppendInt(nil, 0, c.n, c.v)
			assert.Equal(t, c.hex, hex.EncodeToString(b))

			v, n, err := ReadInt(b, c.n)
			require.NoError(t, err)
			assert.Equal(t, c.v, v)
			assert.Equal(t, len(b), n)
		})
	}
}

func TestPrefixedIntegerKeepsFlagBits(t *testing.T) {
	b := AppendInt(nil, 0xe0, 5, 2)
	assert.Equal(t, []byte{0xe2}, b)

	v, _, err := ReadInt(b, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestPrefixedIntegerErrors(t *testing.T) {
	_, _, err := ReadInt(nil, 5)
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, err = ReadInt([]byte{0x1f, 0x9a}, 5)
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, err = ReadInt(append([]byte{0xff}, bytes.Repeat([]byte{0xff}, 10)...), 8)
	assert.ErrorIs(t, err, ErrIntegerOverflow)
}

func TestStringLiteral(t *testing.T) {
	b := AppendString(nil, 0, 7, "foo")
	assert.Equal(t, "8294e7", hex.EncodeToString(b), "huffman is shorter")

	b = AppendString(nil, 0, 7, "two")
	assert.Equal(t, "0374776f", hex.EncodeToString(b), "huffman is not shorter")

	b = AppendString(nil, 0x20, 3, "one")
	assert.Equal(t, "2a3d45", hex.EncodeToString(b), "flag sits above a 3-bit prefix")

	for _, n := range []uint8{3, 5, 7} {
		for _, s := range []string{"", "one", "two", "x-echo-user-agent", "Sun, 21 Jul 2019 21:31:26 GMT"} {
			got, m, err := ReadString(AppendString(nil, 0, n, s), n)
			require.NoError(t, err)
			assert.Equal(t, s, got)
			assert.Equal(t, len(AppendString(nil, 0, n, s)), m)
		}
	}
}

func TestStringLiteralErrors(t *testing.T) {
	_, _, err := ReadString([]byte{0x05, 'a', 'b'}, 7)
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, err = ReadString(AppendInt(nil, 0, 7, MaxStringLength+1), 7)
	assert.ErrorIs(t, err, ErrStringTooLong)

	// huffman flag with invalid padding
	_, _, err = ReadString([]byte{0x81, 0x1e}, 7)
	assert.Error(t, err)
}

func TestEncoderInstructions(t *testing.T) {
	cases := []struct {
		name string
		ins  EncoderInstruction
		hex  string
	}{
		{"set capacity", EncoderInstruction{Type: SetCapacity, Capacity: 256}, "3fe101"},
		{"insert literal name huffman", EncoderInstruction{Type: InsertWithLiteralName, Name: "one", Value: "foo"}, "623d458294e7"},
		{"insert literal name raw", EncoderInstruction{Type: InsertWithLiteralName, Name: "two", Value: "bar"}, "4374776f03626172"},
		{"insert static name ref", EncoderInstruction{Type: InsertWithNameRef, Static: true, Index: 6, Value: "x"}, "c60178"},
		{"insert dynamic name ref", EncoderInstruction{Type: InsertWithNameRef, Index: 1, Value: "x"}, "810178"},
		{"duplicate", EncoderInstruction{Type: Duplicate, Index: 3}, "03"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := c.ins.Append(nil)
			assert.Equal(t, c.hex, hex.EncodeToString(b))

			ins, n, err := ParseEncoderInstruction(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, c.ins, ins)
		})
	}
}

func TestEncoderInstructionPartial(t *testing.T) {
	b := mustHex(t, "623d458294e7")
	for i := 0; i < len(b); i++ {
		_, _, err := ParseEncoderInstruction(b[:i])
		assert.ErrorIs(t, err, ErrNeedMore, "prefix of %d bytes", i)
	}
}

func TestDecoderInstructions(t *testing.T) {
	cases := []struct {
		name string
		ins  DecoderInstruction
		hex  string
	}{
		{"header ack", DecoderInstruction{Type: HeaderAck, StreamID: 0}, "80"},
		{"header ack large stream", DecoderInstruction{Type: HeaderAck, StreamID: 200}, "ff49"},
		{"stream cancel", DecoderInstruction{Type: StreamCancel, StreamID: 5}, "45"},
		{"insert count increment", DecoderInstruction{Type: InsertCountIncrement, Increment: 2}, "02"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := c.ins.Append(nil)
			assert.Equal(t, c.hex, hex.EncodeToString(b))

			ins, n, err := ParseDecoderInstruction(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, c.ins, ins)
		})
	}

	_, _, err := ParseDecoderInstruction([]byte{0xff})
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestPrefix(t *testing.T) {
	b := AppendPrefix(nil, 0, 0, 8)
	assert.Equal(t, "0000", hex.EncodeToString(b))

	b = AppendPrefix(nil, 2, 0, 8)
	assert.Equal(t, "0381", hex.EncodeToString(b), "base below required insert count")

	b = AppendPrefix(nil, 2, 2, 8)
	assert.Equal(t, "0300", hex.EncodeToString(b))

	ric, base, n, err := ParsePrefix(mustHex(t, "0381"), 8, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ric)
	assert.Equal(t, uint64(0), base)
	assert.Equal(t, 2, n)

	ric, base, _, err = ParsePrefix(mustHex(t, "0482"), 8, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ric, "required insert count ahead of the decoder")
	assert.Equal(t, uint64(0), base)
}

func TestPrefixWraparound(t *testing.T) {
	for _, inserts := range []uint64{20, 33, 100} {
		for ric := inserts - 7; ric <= inserts; ric++ {
			b := AppendPrefix(nil, ric, ric+1, 8)
			got, base, _, err := ParsePrefix(b, 8, inserts)
			require.NoError(t, err)
			assert.Equal(t, ric, got)
			assert.Equal(t, ric+1, base)
		}
	}
}

func TestPrefixErrors(t *testing.T) {
	_, _, _, err := ParsePrefix(nil, 8, 0)
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, _, err = ParsePrefix([]byte("123"), 8, 0)
	assert.ErrorIs(t, err, ErrInvalidPrefix, "encoded insert count beyond the full range")

	_, _, _, err = ParsePrefix(mustHex(t, "0382"), 8, 2)
	assert.ErrorIs(t, err, ErrInvalidPrefix, "negative base")

	_, _, _, err = ParsePrefix(mustHex(t, "0100"), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPrefix, "no dynamic table")

	_, _, _, err = ParsePrefix(mustHex(t, "03"), 8, 2)
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestFieldLines(t *testing.T) {
	cases := []struct {
		name string
		line FieldLine
		hex  string
	}{
		{"indexed static", FieldLine{Type: Indexed, Static: true, Index: 25}, "d9"},
		{"indexed dynamic", FieldLine{Type: Indexed, Index: 1}, "81"},
		{"indexed post-base", FieldLine{Type: IndexedPostBase, Index: 1}, "11"},
		{"literal static name ref", FieldLine{Type: LiteralNameRef, Static: true, Index: 1, Value: "/"}, "51012f"},
		{"literal never indexed", FieldLine{Type: LiteralNameRef, Static: true, NeverIndexed: true, Index: 1, Value: "/"}, "71012f"},
		{"literal post-base name ref", FieldLine{Type: LiteralPostBaseNameRef, Index: 0, Value: "/"}, "00012f"},
		{"literal literal name", FieldLine{Type: LiteralLiteralName, Name: "one", Value: "foo"}, "2a3d458294e7"},
		{"literal literal name raw", FieldLine{Type: LiteralLiteralName, Name: "two", Value: "bar"}, "2374776f03626172"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := c.line.Append(nil)
			assert.Equal(t, c.hex, hex.EncodeToString(b))

			line, n, err := ParseFieldLine(b)
			require.NoError(t, err)
			assert.Equal(t, len(b), n)
			assert.Equal(t, c.line, line)
		})
	}
}

func TestParseBlockedBlock(t *testing.T) {
	p := mustHex(t, "0482d9101112")
	ric, base, n, err := ParsePrefix(p, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ric)
	assert.Equal(t, uint64(0), base)

	var abs []uint64
	for p = p[n:]; len(p) > 0; {
		line, m, err := ParseFieldLine(p)
		require.NoError(t, err)
		p = p[m:]
		if line.Static {
			assert.Equal(t, uint64(25), line.Index)
			continue
		}
		require.True(t, line.PostBase())
		abs = append(abs, base+line.Index+1)
	}
	assert.Equal(t, []uint64{1, 2, 3}, abs)
}

// HPACK shares the string literal format and Huffman code with QPACK.
func TestStringLiteralHPACKInterop(t *testing.T) {
	headers := []*tested_hpack.Header{
		tested_hpack.NewHeader("x-echo-user-agent", "aioquic", false),
	}

	enc := tested_hpack.NewEncoder(4096)
	encoded := &bytes.Buffer{}
	enc.Encode(encoded, headers)

	b := encoded.Bytes()
	t.Logf("Encoded headers as hex: 0x%s", hex.EncodeToString(b))

	// skip dynamic table size updates
	for len(b) > 0 && b[0]&0xe0 == 0x20 {
		_, n, err := ReadInt(b, 5)
		require.NoError(t, err)
		b = b[n:]
	}
	require.NotEmpty(t, b)
	assert.Zero(t, b[0]&0x8f, "literal with a new name")

	name, n, err := ReadString(b[1:], 7)
	require.NoError(t, err)
	value, _, err := ReadString(b[1+n:], 7)
	require.NoError(t, err)
	assert.Equal(t, "x-echo-user-agent", name)
	assert.Equal(t, "aioquic", value)

	// literal header field without indexing, new name
	block := []byte{0x00}
	block = AppendString(block, 0, 7, "x-echo-host")
	block = AppendString(block, 0, 7, "fb.mvfst.net:4433")

	dec := tested_hpack.NewDecoder()
	header, nread, err := dec.Decode(block, true)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, len(block), nread)
	assert.Equal(t, "x-echo-host", header.Name)
	assert.Equal(t, "fb.mvfst.net:4433", header.Value)
}
