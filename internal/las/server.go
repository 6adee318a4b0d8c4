package las

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

// Server accepts LAS connections and runs one Session per client.
type Server struct {
	addr     string
	identity Identity
	store    *core.Store
	seq      *SequenceCounter
	logger   *zap.Logger
	journal  *journal.Journal
	metrics  *metrics.Metrics

	ln     net.Listener
	closed atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer builds a server. The sequence counter is shared with whoever
// else sends on this interface so ids stay globally ordered.
func NewServer(addr string, identity Identity, store *core.Store, seq *SequenceCounter,
	logger *zap.Logger, jrnl *journal.Journal, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		identity: identity,
		store:    store,
		seq:      seq,
		logger:   logger,
		journal:  jrnl,
		metrics:  m,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listen address and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("las server listening", zap.String("addr", ln.Addr().String()))

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
				s.logger.Error("las accept failed", zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.LASConnections.Inc()
		}
		s.logger.Info("las client connected",
			zap.String("remote_addr", conn.RemoteAddr().String()),
		)

		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			NewSession(conn, s.store, s.seq, s.identity, s.logger, s.journal, s.metrics).Run()

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.LASConnections.Dec()
			}
		}(conn)
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
	s.logger.Info("las server stopped")
}
