package las

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/clinsim/atellica-sim/internal/core"
)

var errTruncatedBody = errors.New("truncated message body")

// Handshake is the body exchanged in both directions on connection setup.
type Handshake struct {
	ProtocolVersion   uint16
	InstrumentType    uint16
	CapabilityVersion uint16
	SoftwareVersion   uint16
	InstrumentID      uint8
	Serial            string
}

// EncodeHandshake serializes a handshake body.
func EncodeHandshake(h Handshake) []byte {
	serial := []byte(h.Serial)
	if len(serial) > 255 {
		serial = serial[:255]
	}
	buf := make([]byte, 10+len(serial))
	binary.BigEndian.PutUint16(buf[0:2], h.ProtocolVersion)
	binary.BigEndian.PutUint16(buf[2:4], h.InstrumentType)
	binary.BigEndian.PutUint16(buf[4:6], h.CapabilityVersion)
	binary.BigEndian.PutUint16(buf[6:8], h.SoftwareVersion)
	buf[8] = h.InstrumentID
	buf[9] = uint8(len(serial))
	copy(buf[10:], serial)
	return buf
}

// DecodeHandshake parses a handshake body.
func DecodeHandshake(body []byte) (Handshake, error) {
	if len(body) < 10 {
		return Handshake{}, errTruncatedBody
	}
	serialLen := int(body[9])
	if len(body) < 10+serialLen {
		return Handshake{}, fmt.Errorf("%w: serial", errTruncatedBody)
	}
	return Handshake{
		ProtocolVersion:   binary.BigEndian.Uint16(body[0:2]),
		InstrumentType:    binary.BigEndian.Uint16(body[2:4]),
		CapabilityVersion: binary.BigEndian.Uint16(body[4:6]),
		SoftwareVersion:   binary.BigEndian.Uint16(body[6:8]),
		InstrumentID:      body[8],
		Serial:            string(body[10 : 10+serialLen]),
	}, nil
}

// EncodeHealth serializes an instrument-health response body. The two
// per-position arrays are interleaved, one pair per interface position.
func EncodeHealth(h core.HealthSnapshot) []byte {
	n := int(h.InterfacePositions)
	buf := make([]byte, 0, 4+2*n+8)
	buf = append(buf,
		h.AutomationInterfaceStatus,
		h.InstrumentProcessStatus,
		h.LISConnectionStatus,
		h.InterfacePositions,
	)
	for i := 0; i < n; i++ {
		remote := uint8(core.StatusGreen)
		if i < len(h.RemoteControlStatus) {
			remote = h.RemoteControlStatus[i]
		}
		lock := uint8(2)
		if i < len(h.LockOwnership) {
			lock = h.LockOwnership[i]
		}
		buf = append(buf, remote, lock)
	}
	buf = binary.BigEndian.AppendUint16(buf, h.ProcessingBacklog)
	buf = binary.BigEndian.AppendUint16(buf, h.SampleAcquisitionDelay)
	buf = binary.BigEndian.AppendUint16(buf, h.OnBoardTubeCount)
	buf = binary.BigEndian.AppendUint16(buf, h.CompletedTubeCount)
	return buf
}

// DecodeHealth parses an instrument-health response body.
func DecodeHealth(body []byte) (core.HealthSnapshot, error) {
	if len(body) < 4 {
		return core.HealthSnapshot{}, errTruncatedBody
	}
	n := int(body[3])
	if len(body) < 4+2*n+8 {
		return core.HealthSnapshot{}, fmt.Errorf("%w: interface positions", errTruncatedBody)
	}
	h := core.HealthSnapshot{
		AutomationInterfaceStatus: body[0],
		InstrumentProcessStatus:   body[1],
		LISConnectionStatus:       body[2],
		InterfacePositions:        body[3],
		RemoteControlStatus:       make([]uint8, n),
		LockOwnership:             make([]uint8, n),
	}
	off := 4
	for i := 0; i < n; i++ {
		h.RemoteControlStatus[i] = body[off]
		h.LockOwnership[i] = body[off+1]
		off += 2
	}
	h.ProcessingBacklog = binary.BigEndian.Uint16(body[off : off+2])
	h.SampleAcquisitionDelay = binary.BigEndian.Uint16(body[off+2 : off+4])
	h.OnBoardTubeCount = binary.BigEndian.Uint16(body[off+4 : off+6])
	h.CompletedTubeCount = binary.BigEndian.Uint16(body[off+6 : off+8])
	return h, nil
}

// EncodeTestInventory serializes a test-inventory response body.
func EncodeTestInventory(tests []core.TestItem) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(tests)))
	for _, t := range tests {
		name := []byte(t.Name)
		if len(name) > 255 {
			name = name[:255]
		}
		buf = append(buf, uint8(len(name)))
		buf = append(buf, name...)
		buf = binary.BigEndian.AppendUint16(buf, t.Count)
		buf = binary.BigEndian.AppendUint16(buf, t.Status)
	}
	return buf
}

// DecodeTestInventory parses a test-inventory response body.
func DecodeTestInventory(body []byte) ([]core.TestItem, error) {
	if len(body) < 2 {
		return nil, errTruncatedBody
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	tests := make([]core.TestItem, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		if off >= len(body) {
			return nil, fmt.Errorf("%w: test %d", errTruncatedBody, i)
		}
		nameLen := int(body[off])
		off++
		if len(body) < off+nameLen+4 {
			return nil, fmt.Errorf("%w: test %d", errTruncatedBody, i)
		}
		tests = append(tests, core.TestItem{
			Name:   string(body[off : off+nameLen]),
			Count:  binary.BigEndian.Uint16(body[off+nameLen : off+nameLen+2]),
			Status: binary.BigEndian.Uint16(body[off+nameLen+2 : off+nameLen+4]),
		})
		off += nameLen + 4
	}
	return tests, nil
}

// EncodeOnboardSamples serializes an onboard-sample-info response body. The
// trailing removed-sample count is always zero; the simulator never unloads.
func EncodeOnboardSamples(ids []string) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(ids)))
	for _, id := range ids {
		b := []byte(id)
		if len(b) > 255 {
			b = b[:255]
		}
		buf = append(buf, uint8(len(b)))
		buf = append(buf, b...)
	}
	buf = binary.BigEndian.AppendUint16(buf, 0)
	return buf
}

// DecodeOnboardSamples parses an onboard-sample-info response body.
func DecodeOnboardSamples(body []byte) (ids []string, removed uint16, err error) {
	if len(body) < 2 {
		return nil, 0, errTruncatedBody
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	ids = make([]string, 0, count)
	off := 2
	for i := 0; i < count; i++ {
		if off >= len(body) {
			return nil, 0, fmt.Errorf("%w: sample %d", errTruncatedBody, i)
		}
		idLen := int(body[off])
		off++
		if len(body) < off+idLen {
			return nil, 0, fmt.Errorf("%w: sample %d", errTruncatedBody, i)
		}
		ids = append(ids, string(body[off:off+idLen]))
		off += idLen
	}
	if len(body) < off+2 {
		return nil, 0, fmt.Errorf("%w: removed count", errTruncatedBody)
	}
	return ids, binary.BigEndian.Uint16(body[off : off+2]), nil
}

// EncodeConsumables serializes a consumable-inventory response body.
func EncodeConsumables(modules []core.Module) []byte {
	buf := []byte{uint8(len(modules))}
	for _, m := range modules {
		id := []byte(m.ID)
		if len(id) > 255 {
			id = id[:255]
		}
		buf = append(buf, uint8(len(id)))
		buf = append(buf, id...)
		buf = append(buf, uint8(len(m.Consumables)))
		for _, c := range m.Consumables {
			buf = append(buf, c.ID, c.Status)
		}
	}
	return buf
}

// DecodeConsumables parses a consumable-inventory response body.
func DecodeConsumables(body []byte) ([]core.Module, error) {
	if len(body) < 1 {
		return nil, errTruncatedBody
	}
	count := int(body[0])
	modules := make([]core.Module, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		if off >= len(body) {
			return nil, fmt.Errorf("%w: module %d", errTruncatedBody, i)
		}
		idLen := int(body[off])
		off++
		if len(body) < off+idLen+1 {
			return nil, fmt.Errorf("%w: module %d", errTruncatedBody, i)
		}
		m := core.Module{ID: string(body[off : off+idLen])}
		off += idLen
		consumables := int(body[off])
		off++
		if len(body) < off+2*consumables {
			return nil, fmt.Errorf("%w: module %d consumables", errTruncatedBody, i)
		}
		for j := 0; j < consumables; j++ {
			m.Consumables = append(m.Consumables, core.Consumable{
				ID:     body[off],
				Status: body[off+1],
			})
			off += 2
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// KindName maps a message type to its journal/log label.
func KindName(msgType uint16) string {
	switch msgType {
	case MsgAck:
		return "ack"
	case MsgHandshake:
		return "handshake"
	case MsgHealthRequest:
		return "health_request"
	case MsgHealthResponse:
		return "health_response"
	case MsgTestInventoryRequest:
		return "test_inventory_request"
	case MsgTestInventoryReply:
		return "test_inventory_response"
	case MsgOnboardRequest:
		return "onboard_sample_request"
	case MsgOnboardReply:
		return "onboard_sample_response"
	case MsgConsumableRequest:
		return "consumable_inventory_request"
	case MsgConsumableReply:
		return "consumable_inventory_response"
	case MsgInitComplete:
		return "initialization_complete"
	}
	return fmt.Sprintf("unknown_0x%04x", msgType)
}
