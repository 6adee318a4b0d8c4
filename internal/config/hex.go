package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hex16 is a u16 that round-trips through config files as "0xNNNN".
// The original instrument config expresses protocol identifiers this way.
type Hex16 uint16

// Hex8 is a u8 that round-trips through config files as "0xNN".
type Hex8 uint8

func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}

// MarshalJSON renders the value as a hex string.
func (h Hex16) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%04X", uint16(h)))
}

// UnmarshalJSON accepts either a "0xNNNN" string or a plain number.
func (h *Hex16) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseHex(s, 16)
		if err != nil {
			return fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		*h = Hex16(v)
		return nil
	}
	var n uint16
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*h = Hex16(n)
	return nil
}

// MarshalYAML renders the value as a hex string.
func (h Hex16) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%04X", uint16(h)), nil
}

// UnmarshalYAML accepts either a "0xNNNN" string or a plain number.
func (h *Hex16) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := parseHex(s, 16)
		if err != nil {
			return fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		*h = Hex16(v)
		return nil
	}
	var n uint16
	if err := node.Decode(&n); err != nil {
		return err
	}
	*h = Hex16(n)
	return nil
}

// MarshalJSON renders the value as a hex string.
func (h Hex8) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%02X", uint8(h)))
}

// UnmarshalJSON accepts either a "0xNN" string or a plain number.
func (h *Hex8) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseHex(s, 8)
		if err != nil {
			return fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		*h = Hex8(v)
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*h = Hex8(n)
	return nil
}

// MarshalYAML renders the value as a hex string.
func (h Hex8) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%02X", uint8(h)), nil
}

// UnmarshalYAML accepts either a "0xNN" string or a plain number.
func (h *Hex8) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := parseHex(s, 8)
		if err != nil {
			return fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		*h = Hex8(v)
		return nil
	}
	var n uint8
	if err := node.Decode(&n); err != nil {
		return err
	}
	*h = Hex8(n)
	return nil
}
