package lis

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

// Server accepts LIS connections up to a cap and runs one Session per
// client. Completed samples are pushed to every live client.
type Server struct {
	addr       string
	instrument string
	maxConns   int
	store      *core.Store
	logger     *zap.Logger
	journal    *journal.Journal
	metrics    *metrics.Metrics

	broadcaster *Broadcaster
	ln          net.Listener
	closed      atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer builds a server. instrument is the sender name stamped on
// outbound header records.
func NewServer(addr, instrument string, maxConns int, store *core.Store,
	logger *zap.Logger, jrnl *journal.Journal, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:        addr,
		instrument:  instrument,
		maxConns:    maxConns,
		store:       store,
		logger:      logger,
		journal:     jrnl,
		metrics:     m,
		broadcaster: NewBroadcaster(logger),
		conns:       make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("lis server listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound address, useful when the port was 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Error("lis accept failed", zap.Error(err))
			}
			return
		}

		if s.maxConns > 0 && s.broadcaster.Len() >= s.maxConns {
			s.logger.Warn("lis connection limit reached, rejecting",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Int("max_connections", s.maxConns),
			)
			conn.Close()
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.LISConnections.Inc()
		}
		s.logger.Info("lis client connected",
			zap.String("remote_addr", conn.RemoteAddr().String()),
		)

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			cl := s.broadcaster.add(conn)
			NewSession(cl, s.store, s.logger, s.journal, s.metrics).Run()
			s.broadcaster.remove(cl)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.LISConnections.Dec()
			}
		}(conn)
	}
}

// PushResult sends the completed sample's result transmission to every
// connected client. Wire it to the store's result listener.
func (s *Server) PushResult(sampleID string, _ map[string]core.Result) {
	smp, ok := s.store.Sample(sampleID)
	if !ok {
		s.logger.Error("result for unknown sample", zap.String("sample_id", sampleID))
		return
	}

	data := BuildResultTransmission(smp, s.instrument, time.Now())
	sent := s.broadcaster.Broadcast(data)
	s.logger.Info("result transmission pushed",
		zap.String("sample_id", sampleID),
		zap.Int("clients", sent),
	)
	if s.journal != nil {
		s.journal.Record(journal.Event{
			Iface:     journal.IfaceLIS,
			Direction: journal.DirOut,
			Kind:      "result_transmission",
			Reason:    sampleID,
		})
	}
	if s.metrics != nil {
		s.metrics.ResultsGenerated.Inc()
		if sent > 0 {
			s.metrics.LISResultsSent.Add(float64(sent))
		}
	}
}

// Stop closes the listener and every live connection, then waits for the
// session goroutines to drain.
func (s *Server) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("lis server stopped")
}
