// Package core holds the simulated instrument state (samples, inventory,
// health) shared by both protocol engines. All mutation goes through Store.
package core

import "time"

// SampleStatus is the lifecycle state of a sample.
type SampleStatus string

const (
	StatusReceived  SampleStatus = "received"
	StatusCompleted SampleStatus = "completed"
)

// Traffic-light status values shared by health and inventory records.
const (
	StatusGreen  = 1
	StatusYellow = 2
	StatusRed    = 3
)

// Patient is the optional demographic block attached to a sample.
// All fields are opaque ASCII, capped at 255 bytes on intake.
type Patient struct {
	ID        string `json:"patient_id,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	DOB       string `json:"dob,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

// Result is one synthesized test result.
type Result struct {
	Value string `json:"value"`
	Unit  string `json:"unit"`
	Flags string `json:"flags"`
}

// Sample is a unit of lab work. Results is non-nil exactly when
// Status is completed, which is exactly when Completed is non-zero.
type Sample struct {
	ID        string            `json:"sample_id"`
	Tests     []string          `json:"tests"`
	Patient   Patient           `json:"patient,omitempty"`
	Received  time.Time         `json:"received_time"`
	Status    SampleStatus      `json:"status"`
	Results   map[string]Result `json:"results,omitempty"`
	Completed time.Time         `json:"completed_time,omitzero"`
}

// HealthSnapshot is a deep copy of the instrument health block.
type HealthSnapshot struct {
	AutomationInterfaceStatus uint8   `json:"automation_interface_status"`
	InstrumentProcessStatus   uint8   `json:"instrument_process_status"`
	LISConnectionStatus       uint8   `json:"lis_connection_status"`
	InterfacePositions        uint8   `json:"interface_positions"`
	RemoteControlStatus       []uint8 `json:"remote_control_status"`
	LockOwnership             []uint8 `json:"lock_ownership"`
	ProcessingBacklog         uint16  `json:"processing_backlog"`
	SampleAcquisitionDelay    uint16  `json:"sample_acquisition_delay"`
	OnBoardTubeCount          uint16  `json:"on_board_tube_count"`
	CompletedTubeCount        uint16  `json:"completed_tube_count"`
}

// TestItem is one assay in the reagent inventory.
type TestItem struct {
	Name   string `json:"name"`
	Count  uint16 `json:"count"`
	Status uint16 `json:"status"`
}

// TestInventory is the reagent inventory with its traffic-light threshold.
type TestInventory struct {
	Threshold uint16     `json:"threshold"`
	Tests     []TestItem `json:"tests"`
}

// Consumable is one fungible supply slot on a module.
type Consumable struct {
	ID     uint8 `json:"id"`
	Status uint8 `json:"status"`
}

// Module is one instrument module with its consumables.
type Module struct {
	ID          string       `json:"id"`
	Consumables []Consumable `json:"consumables"`
}

// ReceiveOutcome reports what ReceiveSample did.
type ReceiveOutcome int

const (
	Accepted ReceiveOutcome = iota
	RejectedDuplicate
	RejectedNoValidTests
)

func (o ReceiveOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedNoValidTests:
		return "rejected_no_valid_tests"
	}
	return "unknown"
}

// ResultListener receives each completed sample's results. Invoked outside
// the store lock, from the scheduler context; it must not call back into
// ReceiveSample and must not block long.
type ResultListener func(sampleID string, results map[string]Result)

// Settings seeds a Store. Built by main from the configuration file.
type Settings struct {
	ResultDelay time.Duration
	Health      HealthSnapshot
	Inventory   TestInventory
	Modules     []Module
}
