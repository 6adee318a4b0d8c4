package core

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FireDue generates results for every pending sample whose fire time has
// passed, and returns how many fired. The registered listener is invoked
// once per sample, outside the store lock.
func (st *Store) FireDue(now time.Time) int {
	st.mu.Lock()
	due := make([]string, 0, len(st.pending))
	for id, at := range st.pending {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	st.mu.Unlock()

	for _, id := range due {
		st.generateResult(id)
	}
	return len(due)
}

// generateResult completes a single pending sample. Value synthesis runs
// outside the lock; so does the listener call.
func (st *Store) generateResult(sampleID string) {
	st.mu.Lock()
	if _, ok := st.pending[sampleID]; !ok {
		st.mu.Unlock()
		return
	}
	delete(st.pending, sampleID)
	s, ok := st.samples[sampleID]
	if !ok {
		st.mu.Unlock()
		return
	}
	tests := append([]string(nil), s.Tests...)
	st.mu.Unlock()

	results := make(map[string]Result, len(tests))
	for _, code := range tests {
		results[code] = synthesizeResult(code)
	}

	st.mu.Lock()
	s.Results = results
	s.Status = StatusCompleted
	s.Completed = st.clock()
	st.health.CompletedTubeCount++
	if st.health.OnBoardTubeCount > 0 {
		st.health.OnBoardTubeCount--
	}
	listener := st.listener
	st.mu.Unlock()

	st.logger.Info("results generated",
		zap.String("sample_id", sampleID),
		zap.Int("tests", len(results)),
	)

	if listener != nil {
		out := make(map[string]Result, len(results))
		for k, v := range results {
			out[k] = v
		}
		listener(sampleID, out)
	}
}

// PendingCount reports how many samples still await results.
func (st *Store) PendingCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.pending)
}

// synthesizeResult produces a synthetic value for one test code. Codes whose
// trailing digits form an even number get integer mg/dL values; odd numbers
// get two-decimal mmol/L values; codes without trailing digits get U/L.
func synthesizeResult(code string) Result {
	if n, ok := trailingDigits(code); ok {
		if n%2 == 0 {
			return Result{
				Value: strconv.Itoa(10 + rand.IntN(91)),
				Unit:  "mg/dL",
			}
		}
		return Result{
			Value: formatFixed(1.0 + rand.Float64()*9.0),
			Unit:  "mmol/L",
		}
	}
	return Result{
		Value: formatFixed(rand.Float64() * 100.0),
		Unit:  "U/L",
	}
}

func trailingDigits(code string) (int64, bool) {
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	if i == len(code) {
		return 0, false
	}
	n, err := strconv.ParseInt(code[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func formatFixed(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// Scheduler wakes once per scan interval and fires due results.
type Scheduler struct {
	store  *Store
	logger *zap.Logger
	cron   *cron.Cron
}

// NewScheduler creates the result scheduler. The interval must be positive;
// anything above a minute defeats the delivery bound, so it is clamped.
func NewScheduler(store *Store, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	s := &Scheduler{store: store, logger: logger, cron: cron.New()}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule result scan: %w", err)
	}
	return s, nil
}

// Start launches the scan loop.
func (s *Scheduler) Start() {
	s.logger.Info("result scheduler started")
	s.cron.Start()
}

// Stop halts the scan loop and waits for an in-flight tick to finish.
// Samples still pending stay in the received state.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("result scheduler stopped")
}

func (s *Scheduler) tick() {
	if n := s.store.FireDue(time.Now()); n > 0 {
		s.logger.Info("fired due results", zap.Int("count", n))
	}
}
