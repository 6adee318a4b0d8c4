package operator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/metrics"
)

func testServer(t *testing.T) (*Server, *core.Store) {
	t.Helper()
	store := core.NewStore(core.Settings{
		ResultDelay: time.Hour,
		Health: core.HealthSnapshot{
			AutomationInterfaceStatus: 1,
			InstrumentProcessStatus:   1,
			LISConnectionStatus:       1,
			InterfacePositions:        2,
			RemoteControlStatus:       []uint8{4, 5},
			LockOwnership:             []uint8{2, 2},
		},
		Inventory: core.TestInventory{
			Threshold: 10,
			Tests:     []core.TestItem{{Name: "TEST001", Count: 100, Status: 1}},
		},
		Modules: []core.Module{
			{ID: "MODULE001", Consumables: []core.Consumable{{ID: 1, Status: 1}}},
		},
	}, nil)
	jrnl := journal.NewMemory(100)
	s := NewServer("127.0.0.1:0", "ATELLICA", store, jrnl, metrics.New(store), nil)
	return s, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	if w := do(t, s.Handler(), "GET", "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, store := testServer(t)
	store.ReceiveSample("S001", []string{"TEST001"}, core.Patient{})

	w := do(t, s.Handler(), "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	var info Info
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Serial != "ATELLICA" || info.SampleCount != 1 || info.PendingResults != 1 {
		t.Fatalf("info: %+v", info)
	}
}

func TestHealthGetAndPatch(t *testing.T) {
	s, store := testServer(t)

	w := do(t, s.Handler(), "POST", "/api/health",
		`{"automation_interface_status": 3, "processing_backlog": 12}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d: %s", w.Code, w.Body.String())
	}

	h := store.Health()
	if h.AutomationInterfaceStatus != 3 || h.ProcessingBacklog != 12 {
		t.Fatalf("patch not applied: %+v", h)
	}
	// Untouched fields survive.
	if h.InstrumentProcessStatus != 1 {
		t.Fatalf("patch clobbered other fields: %+v", h)
	}

	w = do(t, s.Handler(), "GET", "/api/health", "")
	var got core.HealthSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.AutomationInterfaceStatus != 3 {
		t.Fatalf("get: %+v", got)
	}
}

func TestHealthPositionPatch(t *testing.T) {
	s, store := testServer(t)

	w := do(t, s.Handler(), "POST", "/api/health/positions",
		`{"index": 1, "remote_control_status": 1, "lock_ownership": 1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	h := store.Health()
	if h.RemoteControlStatus[1] != 1 || h.LockOwnership[1] != 1 {
		t.Fatalf("position not updated: %+v", h)
	}
}

func TestSampleEndpoints(t *testing.T) {
	s, store := testServer(t)
	store.ReceiveSample("S001", []string{"TEST001"}, core.Patient{ID: "PAT1"})

	w := do(t, s.Handler(), "GET", "/api/samples", "")
	var samples []core.Sample
	if err := json.Unmarshal(w.Body.Bytes(), &samples); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(samples) != 1 || samples[0].ID != "S001" {
		t.Fatalf("samples: %+v", samples)
	}

	w = do(t, s.Handler(), "GET", "/api/samples/S001", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if w = do(t, s.Handler(), "GET", "/api/samples/NOPE", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing sample code %d", w.Code)
	}
}

func TestInventoryEndpoints(t *testing.T) {
	s, store := testServer(t)

	w := do(t, s.Handler(), "POST", "/api/inventory/tests", `{"name": "TEST001", "count": 0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if inv := store.TestInventory(); inv.Tests[0].Status != core.StatusRed {
		t.Fatalf("status not derived: %+v", inv.Tests[0])
	}

	if w = do(t, s.Handler(), "POST", "/api/inventory/tests", `{"name": "NOPE", "count": 1}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown test code %d", w.Code)
	}

	w = do(t, s.Handler(), "POST", "/api/inventory/consumables",
		`{"module_id": "MODULE001", "consumable_id": 1, "status": 3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if mods := store.ConsumableInventory(); mods[0].Consumables[0].Status != 3 {
		t.Fatalf("consumable not updated: %+v", mods[0])
	}
}

func TestJournalEndpoint(t *testing.T) {
	s, _ := testServer(t)
	s.journal.Record(journal.Event{Iface: journal.IfaceLAS, Kind: "handshake"})
	s.journal.Record(journal.Event{Iface: journal.IfaceLIS, Kind: "ack"})

	w := do(t, s.Handler(), "GET", "/api/journal?iface=las", "")
	var events []journal.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "handshake" {
		t.Fatalf("events: %+v", events)
	}

	if w = do(t, s.Handler(), "GET", "/api/journal?limit=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	w := do(t, s.Handler(), "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "atellica_onboard_tubes") {
		t.Fatal("missing gauge in metrics output")
	}
}
