package lis

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

// txSequence numbers inbound transmissions across all sessions for the
// protocol journal.
var txSequence atomic.Uint32

// Session handles one LIS connection: it accumulates records, offers each
// order to the store, and acknowledges every complete transmission.
type Session struct {
	cl      *client
	remote  string
	store   *core.Store
	logger  *zap.Logger
	journal *journal.Journal
	metrics *metrics.Metrics

	acc Accumulator
}

// NewSession wraps an accepted connection already registered with the
// broadcaster. journal and metrics may be nil.
func NewSession(cl *client, store *core.Store, logger *zap.Logger,
	jrnl *journal.Journal, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	remote := cl.conn.RemoteAddr().String()
	return &Session{
		cl:      cl,
		remote:  remote,
		store:   store,
		logger:  logger.With(zap.String("remote_addr", remote)),
		journal: jrnl,
		metrics: m,
	}
}

// Run reads the connection until EOF or error. The ACK for a transmission
// is written before the next read.
func (s *Session) Run() {
	defer s.cl.conn.Close()

	tmp := make([]byte, 4096)
	for {
		n, err := s.cl.conn.Read(tmp)
		if n > 0 {
			for _, t := range s.acc.Feed(tmp[:n]) {
				s.handleTransmission(t)
			}
		}
		if err != nil {
			s.logger.Info("lis connection closed", zap.Error(err))
			return
		}
	}
}

func (s *Session) handleTransmission(t Transmission) {
	seq := uint16(txSequence.Add(1))
	s.logger.Info("lis transmission received",
		zap.Int("orders", len(t.Orders)),
	)
	if s.journal != nil {
		s.journal.Record(journal.Event{
			Iface:      journal.IfaceLIS,
			Direction:  journal.DirIn,
			Kind:       "order_transmission",
			SequenceID: seq,
			RemoteAddr: s.remote,
		})
	}
	if s.metrics != nil {
		s.metrics.LISTransmissions.Inc()
	}

	for _, o := range t.Orders {
		outcome := s.store.ReceiveSample(o.SampleID, o.Tests, t.Patient)
		s.logger.Info("order processed",
			zap.String("sample_id", o.SampleID),
			zap.String("outcome", outcome.String()),
		)
		if s.metrics != nil {
			s.metrics.SamplesReceived.WithLabelValues(outcome.String()).Inc()
		}
	}

	// One ACK per transmission, order-valid or not.
	if err := s.cl.write([]byte{ackByte}); err != nil {
		s.logger.Error("lis ack write failed", zap.Error(err))
		return
	}
	if s.journal != nil {
		s.journal.Record(journal.Event{
			Iface:      journal.IfaceLIS,
			Direction:  journal.DirOut,
			Kind:       "ack",
			SequenceID: seq,
			RemoteAddr: s.remote,
		})
	}
}
