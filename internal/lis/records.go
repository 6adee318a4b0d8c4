// Package lis implements the laboratory-information-system side: an
// ASTM-style record protocol over TCP with CR-delimited records, order
// intake, single-byte acknowledgments, and broadcast result push.
package lis

import (
	"strings"

	"github.com/clinsim/atellica-sim/internal/core"
)

const (
	cr      = '\r'
	ackByte = 0x06

	fieldSep     = "|"
	componentSep = "^"
	repeatSep    = "~"
)

// Record is one pipe-delimited wire record.
type Record struct {
	Type   byte
	fields []string
}

// parseRecord splits one CR-delimited line. Blank lines and lines that do
// not start with a record-type letter are rejected.
func parseRecord(line string) (Record, bool) {
	if line == "" {
		return Record{}, false
	}
	fields := strings.Split(line, fieldSep)
	t := strings.TrimSpace(fields[0])
	if len(t) != 1 || t[0] < 'A' || t[0] > 'Z' {
		return Record{}, false
	}
	return Record{Type: t[0], fields: fields}, true
}

// Field returns the i-th field (the record type is field 0), or "" when
// the record is too short.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Order is one parsed O record.
type Order struct {
	SampleID string
	Tests    []string
}

// Transmission is the H..L span of one inbound message.
type Transmission struct {
	Patient core.Patient
	Orders  []Order
}

// Accumulator buffers stream bytes and yields complete transmissions. It
// tokenizes on CR and windows records from an H through the next L;
// records outside a window are discarded.
type Accumulator struct {
	partial []byte
	open    bool
	current Transmission
}

// Feed appends data (decoded as ASCII, non-ASCII bytes replaced) and
// returns any transmissions completed by it.
func (a *Accumulator) Feed(data []byte) []Transmission {
	var done []Transmission
	for _, b := range data {
		if b >= 0x80 {
			b = '?'
		}
		if b != cr {
			a.partial = append(a.partial, b)
			continue
		}
		line := string(a.partial)
		a.partial = a.partial[:0]
		if t, ok := a.consumeLine(line); ok {
			done = append(done, t)
		}
	}
	return done
}

func (a *Accumulator) consumeLine(line string) (Transmission, bool) {
	rec, ok := parseRecord(line)
	if !ok {
		return Transmission{}, false
	}

	switch rec.Type {
	case 'H':
		// A fresh header abandons any half-read transmission.
		a.open = true
		a.current = Transmission{}
	case 'L':
		if !a.open {
			return Transmission{}, false
		}
		a.open = false
		t := a.current
		a.current = Transmission{}
		return t, true
	case 'P':
		if a.open {
			a.current.Patient = parsePatient(rec)
		}
	case 'O':
		if a.open {
			a.current.Orders = append(a.current.Orders, parseOrder(rec))
		}
	}
	return Transmission{}, false
}

func parsePatient(rec Record) core.Patient {
	name := strings.SplitN(rec.Field(2), componentSep, 3)
	p := core.Patient{
		ID:     rec.Field(1),
		DOB:    rec.Field(3),
		Gender: rec.Field(4),
	}
	if len(name) > 0 {
		p.LastName = name[0]
	}
	if len(name) > 1 {
		p.FirstName = name[1]
	}
	return p
}

func parseOrder(rec Record) Order {
	o := Order{SampleID: rec.Field(1)}
	for _, req := range strings.Split(rec.Field(2), repeatSep) {
		code, _, _ := strings.Cut(req, componentSep)
		if code != "" {
			o.Tests = append(o.Tests, code)
		}
	}
	return o
}
