// Package operator provides the local HTTP control surface for the
// simulator. Used by test harnesses and local diagnostics to inspect
// state and to flip health fields mid-scenario.
package operator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

// Info represents the simulator's current status.
type Info struct {
	Serial         string    `json:"serial"`
	StartedAt      time.Time `json:"started_at"`
	Uptime         string    `json:"uptime"`
	GoVersion      string    `json:"go_version"`
	NumGoroutine   int       `json:"goroutines"`
	SampleCount    int       `json:"sample_count"`
	PendingResults int       `json:"pending_results"`
}

// Server provides the local HTTP operator endpoint.
type Server struct {
	addr      string
	serial    string
	store     *core.Store
	journal   *journal.Journal
	metrics   *metrics.Metrics
	logger    *zap.Logger
	startedAt time.Time

	httpServer *http.Server
}

// NewServer creates an operator server. journal and metrics may be nil.
func NewServer(addr, serial string, store *core.Store, jrnl *journal.Journal,
	m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:      addr,
		serial:    serial,
		store:     store,
		journal:   jrnl,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the operator API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleGetHealth)
	mux.HandleFunc("POST /api/health", s.handleSetHealth)
	mux.HandleFunc("POST /api/health/positions", s.handleSetPosition)
	mux.HandleFunc("GET /api/samples", s.handleSamples)
	mux.HandleFunc("GET /api/samples/{id}", s.handleSample)
	mux.HandleFunc("GET /api/inventory/tests", s.handleGetTests)
	mux.HandleFunc("POST /api/inventory/tests", s.handleSetTest)
	mux.HandleFunc("GET /api/inventory/consumables", s.handleGetConsumables)
	mux.HandleFunc("POST /api/inventory/consumables", s.handleSetConsumable)
	mux.HandleFunc("GET /api/journal", s.handleJournal)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("operator server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("operator server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("operator shutdown", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := Info{
		Serial:         s.serial,
		StartedAt:      s.startedAt,
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		GoVersion:      runtime.Version(),
		NumGoroutine:   runtime.NumGoroutine(),
		SampleCount:    len(s.store.Samples()),
		PendingResults: s.store.PendingCount(),
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Health())
}

// healthPatch carries partial health updates; absent fields are untouched.
type healthPatch struct {
	AutomationInterfaceStatus *uint8  `json:"automation_interface_status"`
	InstrumentProcessStatus   *uint8  `json:"instrument_process_status"`
	LISConnectionStatus       *uint8  `json:"lis_connection_status"`
	ProcessingBacklog         *uint16 `json:"processing_backlog"`
	SampleAcquisitionDelay    *uint16 `json:"sample_acquisition_delay"`
}

func (s *Server) handleSetHealth(w http.ResponseWriter, r *http.Request) {
	var p healthPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.AutomationInterfaceStatus != nil {
		s.store.SetAutomationInterfaceStatus(*p.AutomationInterfaceStatus)
	}
	if p.InstrumentProcessStatus != nil {
		s.store.SetInstrumentProcessStatus(*p.InstrumentProcessStatus)
	}
	if p.LISConnectionStatus != nil {
		s.store.SetLISConnectionStatus(*p.LISConnectionStatus)
	}
	if p.ProcessingBacklog != nil {
		s.store.SetProcessingBacklog(*p.ProcessingBacklog)
	}
	if p.SampleAcquisitionDelay != nil {
		s.store.SetSampleAcquisitionDelay(*p.SampleAcquisitionDelay)
	}
	writeJSON(w, http.StatusOK, s.store.Health())
}

type positionPatch struct {
	Index               int    `json:"index"`
	RemoteControlStatus *uint8 `json:"remote_control_status"`
	LockOwnership       *uint8 `json:"lock_ownership"`
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var p positionPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if p.RemoteControlStatus != nil {
		s.store.SetRemoteControlStatus(p.Index, *p.RemoteControlStatus)
	}
	if p.LockOwnership != nil {
		s.store.SetLockOwnership(p.Index, *p.LockOwnership)
	}
	writeJSON(w, http.StatusOK, s.store.Health())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Samples())
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	smp, ok := s.store.Sample(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("sample not found"))
		return
	}
	writeJSON(w, http.StatusOK, smp)
}

func (s *Server) handleGetTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.TestInventory())
}

type testPatch struct {
	Name   string  `json:"name"`
	Count  *uint16 `json:"count"`
	Status *uint16 `json:"status"`
}

func (s *Server) handleSetTest(w http.ResponseWriter, r *http.Request) {
	var p testPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.store.UpdateTestInventory(p.Name, p.Count, p.Status) {
		writeError(w, http.StatusNotFound, errors.New("test not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.store.TestInventory())
}

func (s *Server) handleGetConsumables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ConsumableInventory())
}

type consumablePatch struct {
	ModuleID     string `json:"module_id"`
	ConsumableID uint8  `json:"consumable_id"`
	Status       uint8  `json:"status"`
}

func (s *Server) handleSetConsumable(w http.ResponseWriter, r *http.Request) {
	var p consumablePatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.store.UpdateConsumable(p.ModuleID, p.ConsumableID, p.Status) {
		writeError(w, http.StatusNotFound, errors.New("consumable not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.store.ConsumableInventory())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []journal.Event{})
		return
	}
	f := journal.Filter{
		Iface: journal.Iface(r.URL.Query().Get("iface")),
		Kind:  r.URL.Query().Get("kind"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		f.Limit = n
	}
	writeJSON(w, http.StatusOK, s.journal.Query(f))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
