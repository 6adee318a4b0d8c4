// Package journal keeps an append-only record of protocol decisions on both
// wire interfaces. The operator API exposes it so a human can replay what the
// simulator said to whom, per interface, without grepping log files.
package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Iface names the wire interface an event belongs to.
type Iface string

const (
	IfaceLAS Iface = "las"
	IfaceLIS Iface = "lis"
)

// Direction of the traffic relative to the simulator.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Event is a single protocol decision.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Iface      Iface     `json:"iface"`
	Direction  Direction `json:"direction"`
	Kind       string    `json:"kind"`
	SequenceID uint16    `json:"sequence_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Filter selects events for Query. Zero values match everything.
type Filter struct {
	Iface Iface
	Kind  string
	Since time.Time
	Limit int
}

// Journal is an append-only ring of protocol events, optionally mirrored
// to a SQLite store.
type Journal struct {
	mu     sync.RWMutex
	events []Event
	maxLen int
	store  *sqlStore
}

// NewMemory creates an in-memory journal. maxLen <= 0 falls back to 1000.
func NewMemory(maxLen int) *Journal {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &Journal{
		events: make([]Event, 0, 256),
		maxLen: maxLen,
	}
}

// Open creates a journal persisted to a SQLite database at path, keeping the
// most recent maxLen events cached in memory.
func Open(path string, maxLen int) (*Journal, error) {
	j := NewMemory(maxLen)
	store, err := openStore(path)
	if err != nil {
		return nil, err
	}
	j.store = store

	recent, err := store.loadRecent(maxLen)
	if err == nil {
		j.events = recent
	}
	return j, nil
}

// Record appends an event, filling in ID and timestamp when absent.
func (j *Journal) Record(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	j.mu.Lock()
	j.events = append(j.events, evt)
	if len(j.events) > j.maxLen {
		j.events = j.events[len(j.events)-j.maxLen:]
	}
	store := j.store
	j.mu.Unlock()

	if store != nil {
		// Persistence failures do not block protocol traffic.
		_ = store.insert(evt)
	}
}

// Query returns cached events matching the filter, newest first.
func (j *Journal) Query(f Filter) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Event
	for i := len(j.events) - 1; i >= 0; i-- {
		e := j.events[i]
		if f.Iface != "" && e.Iface != f.Iface {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Count returns the number of cached events.
func (j *Journal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// Close releases the backing store, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	store := j.store
	j.store = nil
	j.mu.Unlock()

	if store != nil {
		return store.close()
	}
	return nil
}
