package las

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

// Identity is the instrument identity announced in handshake replies.
type Identity struct {
	ProtocolVersion   uint16
	InstrumentType    uint16
	CapabilityVersion uint16
	SoftwareVersion   uint16
	InstrumentID      uint8
	Serial            string
}

// Session handles one LAS connection: stream framing, the handshake
// exchange, and request dispatch. Every inbound request frame is answered
// with its ACK or NACK before any domain response goes out.
type Session struct {
	conn     net.Conn
	remote   string
	store    *core.Store
	seq      *SequenceCounter
	identity Identity
	logger   *zap.Logger
	journal  *journal.Journal
	metrics  *metrics.Metrics

	writeMu sync.Mutex
	ready   bool
}

// NewSession wraps an accepted connection. journal and metrics may be nil.
func NewSession(conn net.Conn, store *core.Store, seq *SequenceCounter, identity Identity,
	logger *zap.Logger, jrnl *journal.Journal, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		conn:     conn,
		remote:   conn.RemoteAddr().String(),
		store:    store,
		seq:      seq,
		identity: identity,
		logger:   logger.With(zap.String("remote_addr", conn.RemoteAddr().String())),
		journal:  jrnl,
		metrics:  m,
	}
}

// Run reads the connection until EOF or error, processing each frame.
func (s *Session) Run() {
	defer s.conn.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := s.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				frame, rest, ok := ExtractFrame(buf)
				if !ok {
					// Bytes before a matched STX are noise; drop them.
					buf = append(buf[:0], rest...)
					break
				}
				s.handleFrame(frame)
				buf = append(buf[:0], rest...)
			}
		}
		if err != nil {
			s.logger.Info("las connection closed", zap.Error(err))
			return
		}
	}
}

func (s *Session) handleFrame(frame []byte) {
	f, err := Decode(frame)
	if err != nil {
		s.logger.Warn("malformed las frame",
			zap.Int("len", len(frame)),
			zap.Error(err),
		)
		s.observeInbound("malformed", PeekSequenceID(frame), "nack_malformed")
		s.sendAck(PeekSequenceID(frame), NackNotUnderstood)
		return
	}

	kind := KindName(f.Type)
	s.logger.Info("las frame received",
		zap.String("kind", kind),
		zap.Uint16("sequence_id", f.SequenceID),
	)

	switch f.Type {
	case MsgAck:
		// Peer acknowledgment of one of our messages. It is acknowledged
		// like any other inbound frame but draws no domain response.
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)

	case MsgHandshake:
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)
		s.handleHandshake(f)

	case MsgHealthRequest:
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)
		s.send(MsgHealthResponse, EncodeHealth(s.store.Health()), f.SequenceID)

	case MsgTestInventoryRequest:
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)
		s.send(MsgTestInventoryReply, EncodeTestInventory(s.store.TestInventory().Tests), f.SequenceID)

	case MsgOnboardRequest:
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)
		onboard := s.store.OnboardSamples()
		ids := make([]string, len(onboard))
		for i, smp := range onboard {
			ids[i] = smp.ID
		}
		s.send(MsgOnboardReply, EncodeOnboardSamples(ids), f.SequenceID)

	case MsgConsumableRequest:
		s.observeInbound(kind, f.SequenceID, "ack")
		s.sendAck(f.SequenceID, AckOK)
		s.send(MsgConsumableReply, EncodeConsumables(s.store.ConsumableInventory()), f.SequenceID)

	default:
		s.logger.Warn("unsupported las message type",
			zap.Uint16("type", f.Type),
			zap.Uint16("sequence_id", f.SequenceID),
		)
		s.observeInbound(kind, f.SequenceID, "nack_unsupported")
		s.sendAck(f.SequenceID, NackUnsupported)
	}
}

func (s *Session) handleHandshake(f *Frame) {
	peer, err := DecodeHandshake(f.Body)
	if err != nil {
		s.logger.Warn("handshake body rejected", zap.Error(err))
		return
	}
	s.logger.Info("handshake received",
		zap.Uint16("protocol_version", peer.ProtocolVersion),
		zap.Uint16("instrument_type", peer.InstrumentType),
		zap.String("serial", peer.Serial),
	)

	reply := Handshake{
		ProtocolVersion:   s.identity.ProtocolVersion,
		InstrumentType:    s.identity.InstrumentType,
		CapabilityVersion: s.identity.CapabilityVersion,
		SoftwareVersion:   s.identity.SoftwareVersion,
		InstrumentID:      s.identity.InstrumentID,
		Serial:            s.identity.Serial,
	}
	s.send(MsgHandshake, EncodeHandshake(reply), f.SequenceID)
	s.send(MsgInitComplete, nil, 0)
	s.ready = true
}

// sendAck emits the ACK (code 0x00) or NACK body for a received frame.
func (s *Session) sendAck(returnSeq uint16, code byte) {
	s.send(MsgAck, []byte{code}, returnSeq)
}

// send builds and writes one outbound message, consuming a sequence id.
// Writes on the shared socket are serialized.
func (s *Session) send(msgType uint16, body []byte, returnSeq uint16) {
	f := &Frame{
		SequenceID:       s.seq.Next(),
		ReturnSequenceID: returnSeq,
		Type:             msgType,
		Timestamp:        TimestampAt(time.Now()),
		InstrumentID:     s.identity.InstrumentID,
		Body:             body,
	}
	data := Encode(f)

	s.writeMu.Lock()
	_, err := s.conn.Write(data)
	s.writeMu.Unlock()

	kind := KindName(msgType)
	if err != nil {
		s.logger.Error("las write failed",
			zap.String("kind", kind),
			zap.Uint16("sequence_id", f.SequenceID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("las message sent",
		zap.String("kind", kind),
		zap.Uint16("sequence_id", f.SequenceID),
		zap.Uint16("return_sequence_id", returnSeq),
	)
	if s.journal != nil {
		s.journal.Record(journal.Event{
			Iface:      journal.IfaceLAS,
			Direction:  journal.DirOut,
			Kind:       kind,
			SequenceID: f.SequenceID,
			RemoteAddr: s.remote,
		})
	}
	if s.metrics != nil {
		s.metrics.LASResponses.WithLabelValues(kind).Inc()
	}
}

func (s *Session) observeInbound(kind string, seq uint16, disposition string) {
	if s.journal != nil {
		s.journal.Record(journal.Event{
			Iface:      journal.IfaceLAS,
			Direction:  journal.DirIn,
			Kind:       kind,
			SequenceID: seq,
			RemoteAddr: s.remote,
			Reason:     disposition,
		})
	}
	if s.metrics != nil {
		s.metrics.LASFrames.WithLabelValues(kind, disposition).Inc()
	}
}
