// Package config provides configuration loading for the simulator.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all simulator configuration.
type Config struct {
	Logger              LoggerConfig              `json:"logger" yaml:"logger"`
	LAS                 LASConfig                 `json:"las" yaml:"las"`
	LIS                 LISConfig                 `json:"lis" yaml:"lis"`
	Core                CoreConfig                `json:"core" yaml:"core"`
	TestInventory       TestInventoryConfig       `json:"test_inventory" yaml:"test_inventory"`
	ConsumableInventory ConsumableInventoryConfig `json:"consumable_inventory" yaml:"consumable_inventory"`
	Operator            OperatorConfig            `json:"operator" yaml:"operator"`
	Journal             JournalConfig             `json:"journal" yaml:"journal"`
}

// LoggerConfig controls the zap logger built in main.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// File, when set, receives log output in addition to stdout.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// LASConfig configures the lab-automation listener and handshake identity.
type LASConfig struct {
	Host              string `json:"host" yaml:"host"`
	Port              uint16 `json:"port" yaml:"port"`
	ProtocolVersion   Hex16  `json:"protocol_version" yaml:"protocol_version"`
	InstrumentType    Hex16  `json:"instrument_type" yaml:"instrument_type"`
	CapabilityVersion Hex16  `json:"capability_version" yaml:"capability_version"`
	SoftwareVersion   Hex16  `json:"software_version" yaml:"software_version"`
	InstrumentID      Hex8   `json:"instrument_id" yaml:"instrument_id"`
	InstrumentSerial  string `json:"instrument_serial" yaml:"instrument_serial"`

	// Reserved for initiating-side use; parsed but not enforced.
	KeepAliveInterval int `json:"keep_alive_interval" yaml:"keep_alive_interval"`
	AckTimeout        int `json:"ack_timeout" yaml:"ack_timeout"`
	ResponseTimeout   int `json:"response_timeout" yaml:"response_timeout"`
}

// LISConfig configures the LIS listener and result timing.
type LISConfig struct {
	Host string `json:"host" yaml:"host"`
	Port uint16 `json:"port" yaml:"port"`
	// ResultDelay is the sample-to-result delay in seconds.
	ResultDelay int `json:"result_delay" yaml:"result_delay"`
	// ScanInterval is how often the result scheduler scans for due samples, in seconds.
	ScanInterval   int `json:"scan_interval" yaml:"scan_interval"`
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
}

// CoreConfig seeds the initial health snapshot.
type CoreConfig struct {
	AutomationInterfaceStatus uint8    `json:"automation_interface_status" yaml:"automation_interface_status"`
	InstrumentProcessStatus   uint8    `json:"instrument_process_status" yaml:"instrument_process_status"`
	LISConnectionStatus       uint8    `json:"lis_connection_status" yaml:"lis_connection_status"`
	InterfacePositions        uint8    `json:"interface_positions" yaml:"interface_positions"`
	RemoteControlStatus       []uint8  `json:"remote_control_status" yaml:"remote_control_status"`
	LockOwnership             []uint8  `json:"lock_ownership" yaml:"lock_ownership"`
	ProcessingBacklog         uint16   `json:"processing_backlog" yaml:"processing_backlog"`
	SampleAcquisitionDelay    uint16   `json:"sample_acquisition_delay" yaml:"sample_acquisition_delay"`
	OnBoardTubeCount          uint16   `json:"on_board_tube_count" yaml:"on_board_tube_count"`
	CompletedTubeCount        uint16   `json:"completed_tube_count" yaml:"completed_tube_count"`
}

// TestInventoryConfig seeds the per-assay reagent inventory.
type TestInventoryConfig struct {
	Threshold uint16           `json:"threshold" yaml:"threshold"`
	Tests     []TestItemConfig `json:"tests" yaml:"tests"`
}

// TestItemConfig is one assay in the initial inventory.
type TestItemConfig struct {
	Name   string `json:"name" yaml:"name"`
	Count  uint16 `json:"count" yaml:"count"`
	Status uint16 `json:"status" yaml:"status"`
}

// ConsumableInventoryConfig seeds the per-module consumable inventory.
type ConsumableInventoryConfig struct {
	Modules []ModuleConfig `json:"modules" yaml:"modules"`
}

// ModuleConfig is one instrument module with its consumables.
type ModuleConfig struct {
	ID          string             `json:"id" yaml:"id"`
	Consumables []ConsumableConfig `json:"consumables" yaml:"consumables"`
}

// ConsumableConfig is one fungible supply slot.
type ConsumableConfig struct {
	ID     uint8 `json:"id" yaml:"id"`
	Status uint8 `json:"status" yaml:"status"`
}

// OperatorConfig configures the local operator HTTP API.
type OperatorConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// JournalConfig configures the protocol-event journal.
type JournalConfig struct {
	// Path of the SQLite database. Empty keeps the journal in memory only.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// MemoryLimit bounds the in-memory ring.
	MemoryLimit int `json:"memory_limit" yaml:"memory_limit"`
}

// Default returns configuration with the simulator's stock identity and inventory.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "info"},
		LAS: LASConfig{
			Host:              "0.0.0.0",
			Port:              10001,
			ProtocolVersion:   0x0330,
			InstrumentType:    0x0001,
			CapabilityVersion: 0x0104,
			SoftwareVersion:   0x0100,
			InstrumentID:      0xFF,
			InstrumentSerial:  "ATELLICA",
			KeepAliveInterval: 30,
			AckTimeout:        20,
			ResponseTimeout:   20,
		},
		LIS: LISConfig{
			Host:           "0.0.0.0",
			Port:           10002,
			ResultDelay:    1800,
			ScanInterval:   60,
			MaxConnections: 10,
		},
		Core: CoreConfig{
			AutomationInterfaceStatus: 1,
			InstrumentProcessStatus:   1,
			LISConnectionStatus:       1,
			InterfacePositions:        2,
			RemoteControlStatus:       []uint8{4, 5},
			LockOwnership:             []uint8{2, 2},
		},
		TestInventory: TestInventoryConfig{
			Threshold: 10,
			Tests: []TestItemConfig{
				{Name: "TEST001", Count: 100, Status: 1},
				{Name: "TEST002", Count: 50, Status: 1},
				{Name: "TEST003", Count: 5, Status: 2},
				{Name: "TEST004", Count: 0, Status: 3},
			},
		},
		ConsumableInventory: ConsumableInventoryConfig{
			Modules: []ModuleConfig{
				{
					ID: "MODULE001",
					Consumables: []ConsumableConfig{
						{ID: 1, Status: 1},
						{ID: 2, Status: 1},
						{ID: 3, Status: 1},
						{ID: 4, Status: 1},
						{ID: 5, Status: 2},
						{ID: 25, Status: 1},
						{ID: 26, Status: 1},
						{ID: 27, Status: 1},
					},
				},
			},
		},
		Operator: OperatorConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:10080",
		},
		Journal: JournalConfig{
			MemoryLimit: 1000,
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
// A missing file is seeded with the defaults so operators have something to edit.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			if saveErr := cfg.Save(path); saveErr != nil {
				return cfg, fmt.Errorf("seed config: %w", saveErr)
			}
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if isYAML(path) {
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return cfg, fmt.Errorf("parse config: %w", err)
				}
			} else {
				if err := json.Unmarshal(data, &cfg); err != nil {
					return cfg, fmt.Errorf("parse config: %w", err)
				}
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ATELLICA_LAS_HOST"); v != "" {
		cfg.LAS.Host = v
	}
	if v := os.Getenv("ATELLICA_LAS_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.LAS.Port = uint16(n)
		}
	}
	if v := os.Getenv("ATELLICA_LIS_HOST"); v != "" {
		cfg.LIS.Host = v
	}
	if v := os.Getenv("ATELLICA_LIS_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.LIS.Port = uint16(n)
		}
	}
	if v := os.Getenv("ATELLICA_RESULT_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LIS.ResultDelay = n
		}
	}
	if v := os.Getenv("ATELLICA_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ATELLICA_OPERATOR_ADDR"); v != "" {
		cfg.Operator.ListenAddr = v
	}
	if v := os.Getenv("ATELLICA_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Save writes configuration to a file, JSON or YAML by extension.
func (c Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// LASAddr returns the LAS listener bind address.
func (c Config) LASAddr() string {
	return fmt.Sprintf("%s:%d", c.LAS.Host, c.LAS.Port)
}

// LISAddr returns the LIS listener bind address.
func (c Config) LISAddr() string {
	return fmt.Sprintf("%s:%d", c.LIS.Host, c.LIS.Port)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
