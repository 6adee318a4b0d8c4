package las

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	in := &Frame{
		SequenceID:       42,
		ReturnSequenceID: 7,
		Type:             MsgHealthRequest,
		Timestamp:        123456,
		InstrumentID:     0xFF,
		Body:             []byte{0xDE, 0xAD},
	}
	data := Encode(in)

	if data[0] != stx || data[len(data)-1] != etx {
		t.Fatalf("missing delimiters: % x", data)
	}
	if got := binary.BigEndian.Uint16(data[1:3]); int(got) != len(data) {
		t.Fatalf("length field %d, frame %d", got, len(data))
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.SequenceID != in.SequenceID || out.ReturnSequenceID != in.ReturnSequenceID ||
		out.Type != in.Type || out.Timestamp != in.Timestamp || out.InstrumentID != in.InstrumentID {
		t.Fatalf("header mismatch: %+v", out)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("body mismatch: % x", out.Body)
	}
}

func TestFrameEmptyBody(t *testing.T) {
	data := Encode(&Frame{SequenceID: 1, Type: MsgInitComplete})
	if len(data) != headerLen+trailerLen {
		t.Fatalf("expected %d bytes, got %d", headerLen+trailerLen, len(data))
	}
	if _, err := Decode(data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data := Encode(&Frame{SequenceID: 9, Type: MsgHandshake, Body: []byte{1, 2, 3}})
	data[headerLen] ^= 0x01 // flip one body bit

	_, err := Decode(data)
	if !errors.Is(err, errChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	data := Encode(&Frame{SequenceID: 9, Type: MsgHandshake})
	binary.BigEndian.PutUint16(data[1:3], uint16(len(data)+4))

	_, err := Decode(data)
	if !errors.Is(err, errLengthField) {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	_, err := Decode([]byte{stx, 0, 5, 0, 1, etx})
	if !errors.Is(err, errShortFrame) {
		t.Fatalf("expected short-frame error, got %v", err)
	}
}

func TestChecksum(t *testing.T) {
	// 0x01+0x02+0xFF = 0x102; mod 256 = 0x02.
	sum := Checksum([]byte{0x01, 0x02, 0xFF})
	if sum != [2]byte{'0', '2'} {
		t.Fatalf("got %s", string(sum[:]))
	}
	sum = Checksum(nil)
	if sum != [2]byte{'0', '0'} {
		t.Fatalf("empty sum: %s", string(sum[:]))
	}
}

func TestTimestampEpoch(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.Local)
	if got := TimestampAt(epoch); got != 0 {
		t.Fatalf("epoch should encode as 0, got %d", got)
	}
	if got := TimestampAt(epoch.Add(90 * time.Second)); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
	if got := TimestampAt(epoch.Add(-time.Hour)); got != 0 {
		t.Fatalf("pre-epoch should clamp to 0, got %d", got)
	}
}

func TestExtractFrame(t *testing.T) {
	f1 := Encode(&Frame{SequenceID: 1, Type: MsgHandshake})
	f2 := Encode(&Frame{SequenceID: 2, Type: MsgHealthRequest})

	// Garbage prefix, two frames, one partial tail.
	buf := append([]byte{0x00, 0x55}, f1...)
	buf = append(buf, f2...)
	buf = append(buf, f1[:6]...)

	frame, rest, ok := ExtractFrame(buf)
	if !ok || !bytes.Equal(frame, f1) {
		t.Fatalf("first extract failed: ok=%v", ok)
	}
	frame, rest, ok = ExtractFrame(rest)
	if !ok || !bytes.Equal(frame, f2) {
		t.Fatalf("second extract failed: ok=%v", ok)
	}
	_, rest, ok = ExtractFrame(rest)
	if ok {
		t.Fatal("partial tail produced a frame")
	}
	if len(rest) != 6 {
		t.Fatalf("partial tail lost: %d bytes", len(rest))
	}
}

func TestExtractFrameBodyWithControlBytes(t *testing.T) {
	// A handshake body opens with protocol version 0x0330, so the frame
	// carries an ETX byte well before the real trailer. The scanner must
	// follow the length field, not the first 0x03 it sees.
	body := EncodeHandshake(Handshake{ProtocolVersion: 0x0330, Serial: "LASCLIENT"})
	if !bytes.Contains(body, []byte{etx}) {
		t.Fatalf("handshake body lost its 0x03 byte: % x", body)
	}
	data := Encode(&Frame{SequenceID: 100, Type: MsgHandshake, Body: body})

	frame, rest, ok := ExtractFrame(append(data, stx, 0x00))
	if !ok || !bytes.Equal(frame, data) {
		t.Fatalf("frame cut short: got %d of %d bytes", len(frame), len(data))
	}
	if len(rest) != 2 {
		t.Fatalf("trailing bytes lost: %d", len(rest))
	}

	f, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	hs, err := DecodeHandshake(f.Body)
	if err != nil || hs.ProtocolVersion != 0x0330 {
		t.Fatalf("handshake mangled: %+v %v", hs, err)
	}
}

func TestExtractFrameResyncsAfterBadLength(t *testing.T) {
	good := Encode(&Frame{SequenceID: 3, Type: MsgHealthRequest})
	// An STX whose length field is smaller than any legal frame.
	buf := append([]byte{stx, 0x00, 0x03, 0x41}, good...)

	junk, rest, ok := ExtractFrame(buf)
	if !ok {
		t.Fatal("bad-length run not surrendered")
	}
	if _, err := Decode(junk); err == nil {
		t.Fatal("junk run decoded cleanly")
	}

	frame, _, ok := ExtractFrame(rest)
	if !ok || !bytes.Equal(frame, good) {
		t.Fatalf("scanner did not resync: ok=%v", ok)
	}
}

func TestEncodeCapsOversizedBody(t *testing.T) {
	data := Encode(&Frame{SequenceID: 1, Type: MsgHandshake, Body: make([]byte, 70000)})
	if len(data) != 0xFFFF {
		t.Fatalf("expected %d bytes, got %d", 0xFFFF, len(data))
	}
	if got := binary.BigEndian.Uint16(data[1:3]); int(got) != len(data) {
		t.Fatalf("length field %d, frame %d", got, len(data))
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Body) != maxBodyLen {
		t.Fatalf("body length %d, want %d", len(f.Body), maxBodyLen)
	}
}

func TestPeekSequenceID(t *testing.T) {
	data := Encode(&Frame{SequenceID: 0x1234, Type: MsgHandshake})
	if got := PeekSequenceID(data); got != 0x1234 {
		t.Fatalf("got 0x%04X", got)
	}
	if got := PeekSequenceID([]byte{stx, 0, 1}); got != 0 {
		t.Fatalf("truncated peek should be 0, got %d", got)
	}
}

func TestSequenceCounterWraps(t *testing.T) {
	c := NewSequenceCounter()
	if got := c.Next(); got != 1 {
		t.Fatalf("first id %d", got)
	}
	if got := c.Next(); got != 2 {
		t.Fatalf("second id %d", got)
	}

	c.next = 0xFFFF
	if got := c.Next(); got != 0xFFFF {
		t.Fatalf("expected 0xFFFF, got %d", got)
	}
	if got := c.Next(); got != 1 {
		t.Fatalf("wrap should return to 1, got %d", got)
	}
}
