// Package las implements the lab-automation wire protocol: a binary framed
// format with an ASCII-hex checksum, a process-wide sequence counter, and a
// per-connection request/response session.
package las

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	stx = 0x02
	etx = 0x03

	// headerLen covers STX through instrument id; trailerLen the checksum + ETX.
	headerLen  = 20
	trailerLen = 3

	// minFrameLen is the shortest run the decoder accepts as a frame.
	// Anything shorter is malformed.
	minFrameLen = 18

	// maxBodyLen keeps the total frame length within the u16 length field.
	maxBodyLen = 0xFFFF - headerLen - trailerLen
)

// Message types on the LAS wire.
const (
	MsgAck                  = 0x0000
	MsgHandshake            = 0x0001
	MsgHealthRequest        = 0x0201
	MsgHealthResponse       = 0x0202
	MsgTestInventoryRequest = 0x0203
	MsgTestInventoryReply   = 0x0204
	MsgOnboardRequest       = 0x0207
	MsgOnboardReply         = 0x0208
	MsgConsumableRequest    = 0x020B
	MsgConsumableReply      = 0x020C
	MsgInitComplete         = 0x020D
)

// ACK body return codes.
const (
	AckOK             = 0x00
	NackNotUnderstood = 0x01
	NackUnsupported   = 0x03
)

// Frame is one decoded LAS message envelope.
type Frame struct {
	SequenceID       uint16
	ReturnSequenceID uint16
	Type             uint16
	Timestamp        uint64
	InstrumentID     uint8
	Body             []byte
}

var (
	errShortFrame   = errors.New("frame too short")
	errNoDelimiters = errors.New("frame missing STX/ETX")
	errLengthField  = errors.New("frame length field mismatch")
	errChecksum     = errors.New("frame checksum mismatch")
)

// Checksum sums data modulo 256 and renders it as two uppercase hex bytes.
func Checksum(data []byte) [2]byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	var out [2]byte
	const digits = "0123456789ABCDEF"
	out[0] = digits[sum>>4]
	out[1] = digits[sum&0x0F]
	return out
}

// wireEpoch is the instrument's timestamp origin: 2000-01-01 00:00:00 in
// local time. Not standard, but it is what the modeled instrument sends.
func wireEpoch() time.Time {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.Local)
}

// TimestampAt encodes t as seconds since the wire epoch.
func TimestampAt(t time.Time) uint64 {
	d := t.Unix() - wireEpoch().Unix()
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// Encode serializes the frame, computing length and checksum. Bodies
// longer than the length field can express are truncated.
func Encode(f *Frame) []byte {
	body := f.Body
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen]
	}
	total := headerLen + len(body) + trailerLen
	buf := make([]byte, total)

	buf[0] = stx
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	binary.BigEndian.PutUint16(buf[3:5], f.SequenceID)
	binary.BigEndian.PutUint16(buf[5:7], f.ReturnSequenceID)
	binary.BigEndian.PutUint16(buf[7:9], f.Type)
	binary.BigEndian.PutUint16(buf[9:11], 0) // reserved
	binary.BigEndian.PutUint64(buf[11:19], f.Timestamp)
	buf[19] = f.InstrumentID
	copy(buf[headerLen:], body)

	sum := Checksum(buf[1 : total-trailerLen])
	buf[total-3] = sum[0]
	buf[total-2] = sum[1]
	buf[total-1] = etx
	return buf
}

// Decode parses one frame extracted from the stream (STX through ETX
// inclusive). The length field and checksum are both verified.
func Decode(frame []byte) (*Frame, error) {
	if len(frame) < minFrameLen {
		return nil, errShortFrame
	}
	if frame[0] != stx || frame[len(frame)-1] != etx {
		return nil, errNoDelimiters
	}
	if len(frame) < headerLen+trailerLen {
		return nil, errShortFrame
	}

	msgLen := binary.BigEndian.Uint16(frame[1:3])
	if int(msgLen) != len(frame) {
		return nil, fmt.Errorf("%w: field %d, frame %d", errLengthField, msgLen, len(frame))
	}

	bodyEnd := len(frame) - trailerLen
	want := Checksum(frame[1:bodyEnd])
	if frame[bodyEnd] != want[0] || frame[bodyEnd+1] != want[1] {
		return nil, fmt.Errorf("%w: expected %s, got %s",
			errChecksum, string(want[:]), string(frame[bodyEnd:bodyEnd+2]))
	}

	return &Frame{
		SequenceID:       binary.BigEndian.Uint16(frame[3:5]),
		ReturnSequenceID: binary.BigEndian.Uint16(frame[5:7]),
		Type:             binary.BigEndian.Uint16(frame[7:9]),
		Timestamp:        binary.BigEndian.Uint64(frame[11:19]),
		InstrumentID:     frame[19],
		Body:             append([]byte(nil), frame[headerLen:bodyEnd]...),
	}, nil
}

// PeekSequenceID pulls the sequence id out of a possibly malformed frame so
// a NACK can still address it. Returns 0 when even that much is missing.
func PeekSequenceID(frame []byte) uint16 {
	if len(frame) < 5 {
		return 0
	}
	return binary.BigEndian.Uint16(frame[3:5])
}

// ExtractFrame scans buf for the next frame. It locates the STX, reads the
// message_length field, and waits until that many bytes have arrived; the
// timestamp and body are free to contain 0x02/0x03 bytes. It returns the
// frame, the remaining buffer, and whether a complete frame was found.
// Bytes before the STX are discarded. A run whose length field is shorter
// than a legal frame is still surrendered (at least one byte) so the
// decoder can reject it and the scanner resyncs behind it.
func ExtractFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.IndexByte(buf, stx)
	if start < 0 {
		return nil, nil, false
	}
	b := buf[start:]
	if len(b) < 3 {
		return nil, b, false
	}

	total := int(binary.BigEndian.Uint16(b[1:3]))
	if total < headerLen+trailerLen {
		n := max(total, 1)
		n = min(n, len(b))
		return b[:n], b[n:], true
	}
	if len(b) < total {
		return nil, b, false
	}
	// ETX presence is the decoder's problem; a frame that ends on the
	// wrong byte is delivered, rejected, and NACKed like any other.
	return b[:total], b[total:], true
}
