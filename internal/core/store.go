package core

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxFieldLen bounds opaque ASCII fields taken from the wire.
const maxFieldLen = 255

// Store is the thread-safe home of all mutable simulator state. Protocol
// sessions and the operator API hold it by reference and only ever see
// deep copies of its records.
type Store struct {
	mu     sync.Mutex
	logger *zap.Logger
	clock  func() time.Time

	resultDelay time.Duration

	samples map[string]*Sample
	// pending maps every received-but-not-completed sample to its fire time.
	pending map[string]time.Time

	health    HealthSnapshot
	inventory TestInventory
	modules   []Module

	listener ResultListener
}

// NewStore creates a store seeded from settings.
func NewStore(s Settings, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	health := s.Health
	health.RemoteControlStatus = append([]uint8(nil), health.RemoteControlStatus...)
	health.LockOwnership = append([]uint8(nil), health.LockOwnership...)

	// Both position arrays must span the configured interface positions.
	for len(health.RemoteControlStatus) < int(health.InterfacePositions) {
		health.RemoteControlStatus = append(health.RemoteControlStatus, StatusGreen)
	}
	for len(health.LockOwnership) < int(health.InterfacePositions) {
		health.LockOwnership = append(health.LockOwnership, 2)
	}

	return &Store{
		logger:      logger,
		clock:       time.Now,
		resultDelay: s.ResultDelay,
		samples:     make(map[string]*Sample),
		pending:     make(map[string]time.Time),
		health:      health,
		inventory:   copyInventory(s.Inventory),
		modules:     copyModules(s.Modules),
	}
}

func clip(s string) string {
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}

// ReceiveSample validates a new order against the test inventory and, when it
// survives, persists the sample and arms its pending result.
func (st *Store) ReceiveSample(sampleID string, tests []string, patient Patient) ReceiveOutcome {
	sampleID = clip(sampleID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.samples[sampleID]; ok {
		st.logger.Warn("sample already exists",
			zap.String("sample_id", sampleID),
		)
		return RejectedDuplicate
	}

	valid := make([]string, 0, len(tests))
	for _, code := range tests {
		code = clip(code)
		if st.hasTestLocked(code) {
			valid = append(valid, code)
		} else {
			st.logger.Warn("test not found in inventory",
				zap.String("sample_id", sampleID),
				zap.String("test", code),
			)
		}
	}
	if len(valid) == 0 {
		st.logger.Warn("no valid tests for sample",
			zap.String("sample_id", sampleID),
		)
		return RejectedNoValidTests
	}

	now := st.clock()
	st.samples[sampleID] = &Sample{
		ID:    sampleID,
		Tests: valid,
		Patient: Patient{
			ID:        clip(patient.ID),
			LastName:  clip(patient.LastName),
			FirstName: clip(patient.FirstName),
			DOB:       clip(patient.DOB),
			Gender:    clip(patient.Gender),
		},
		Received: now,
		Status:   StatusReceived,
	}
	st.health.OnBoardTubeCount++
	st.pending[sampleID] = now.Add(st.resultDelay)

	st.logger.Info("sample received",
		zap.String("sample_id", sampleID),
		zap.Strings("tests", valid),
		zap.Time("result_due", st.pending[sampleID]),
	)
	return Accepted
}

// Sample returns a deep copy of one sample.
func (st *Store) Sample(id string) (Sample, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.samples[id]
	if !ok {
		return Sample{}, false
	}
	return copySample(s), true
}

// Samples returns a snapshot of every sample, ordered by receive time.
func (st *Store) Samples() []Sample {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Sample, 0, len(st.samples))
	for _, s := range st.samples {
		out = append(out, copySample(s))
	}
	sortSamples(out)
	return out
}

// OnboardSamples returns a snapshot of samples still awaiting results.
func (st *Store) OnboardSamples() []Sample {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Sample, 0, len(st.samples))
	for _, s := range st.samples {
		if s.Status == StatusReceived {
			out = append(out, copySample(s))
		}
	}
	sortSamples(out)
	return out
}

// Health returns a deep copy of the health block.
func (st *Store) Health() HealthSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyHealth(st.health)
}

// SetAutomationInterfaceStatus updates the automation interface light (1 or 3).
func (st *Store) SetAutomationInterfaceStatus(v uint8) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.AutomationInterfaceStatus = v
	st.logger.Info("automation interface status updated", zap.Uint8("status", v))
}

// SetInstrumentProcessStatus updates the instrument process light (1..3).
func (st *Store) SetInstrumentProcessStatus(v uint8) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.InstrumentProcessStatus = v
	st.logger.Info("instrument process status updated", zap.Uint8("status", v))
}

// SetLISConnectionStatus updates the LIS connection flag (1 connected, 2 not).
func (st *Store) SetLISConnectionStatus(v uint8) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.LISConnectionStatus = v
	st.logger.Info("lis connection status updated", zap.Uint8("status", v))
}

// SetRemoteControlStatus updates one interface position. An out-of-bounds
// index is a no-op apart from a warning.
func (st *Store) SetRemoteControlStatus(index int, v uint8) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if index < 0 || index >= len(st.health.RemoteControlStatus) {
		st.logger.Warn("remote control index out of range", zap.Int("index", index))
		return
	}
	st.health.RemoteControlStatus[index] = v
	st.logger.Info("remote control status updated",
		zap.Int("index", index), zap.Uint8("status", v))
}

// SetLockOwnership updates one interface position's lock owner. An
// out-of-bounds index is a no-op apart from a warning.
func (st *Store) SetLockOwnership(index int, v uint8) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if index < 0 || index >= len(st.health.LockOwnership) {
		st.logger.Warn("lock ownership index out of range", zap.Int("index", index))
		return
	}
	st.health.LockOwnership[index] = v
	st.logger.Info("lock ownership updated",
		zap.Int("index", index), zap.Uint8("status", v))
}

// SetProcessingBacklog updates the health backlog field. Exposed for the
// operator API; nothing else writes it.
func (st *Store) SetProcessingBacklog(v uint16) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.ProcessingBacklog = v
}

// SetSampleAcquisitionDelay updates the health acquisition-delay field.
// Exposed for the operator API; nothing else writes it.
func (st *Store) SetSampleAcquisitionDelay(v uint16) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.SampleAcquisitionDelay = v
}

// OnboardCount reports samples awaiting results.
func (st *Store) OnboardCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return int(st.health.OnBoardTubeCount)
}

// CompletedCount reports samples completed since start.
func (st *Store) CompletedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return int(st.health.CompletedTubeCount)
}

// SubscribeResults registers the single result listener, replacing any
// previous registration.
func (st *Store) SubscribeResults(fn ResultListener) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.listener = fn
}

func copySample(s *Sample) Sample {
	out := *s
	out.Tests = append([]string(nil), s.Tests...)
	if s.Results != nil {
		out.Results = make(map[string]Result, len(s.Results))
		for k, v := range s.Results {
			out.Results[k] = v
		}
	}
	return out
}

func copyHealth(h HealthSnapshot) HealthSnapshot {
	out := h
	out.RemoteControlStatus = append([]uint8(nil), h.RemoteControlStatus...)
	out.LockOwnership = append([]uint8(nil), h.LockOwnership...)
	return out
}

func sortSamples(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		if !samples[i].Received.Equal(samples[j].Received) {
			return samples[i].Received.Before(samples[j].Received)
		}
		return samples[i].ID < samples[j].ID
	})
}
