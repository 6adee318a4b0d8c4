package lis

import (
	"strings"
	"time"

	"github.com/clinsim/atellica-sim/internal/core"
)

// reportingLab is the producer id stamped on R records.
const reportingLab = "ATL"

// BuildResultTransmission renders the outbound H/P/O/R/L records for one
// completed sample. One R record is emitted per ordered test, in order.
func BuildResultTransmission(s core.Sample, instrument string, now time.Time) []byte {
	stamp := now.Format("20060102150405")
	date := now.Format("20060102")
	clock := now.Format("150405")

	var b strings.Builder
	writeRecord(&b, "H", "LIS", instrument, stamp, "1", "1", "1")
	writeRecord(&b, "P",
		s.Patient.ID,
		s.Patient.LastName+componentSep+s.Patient.FirstName,
		s.Patient.DOB,
		s.Patient.Gender,
		"", "", "")
	writeRecord(&b, "O", s.ID, "", date, "", "", "", "", "", "F", "", "", "", "")
	for _, code := range s.Tests {
		r, ok := s.Results[code]
		if !ok {
			continue
		}
		writeRecord(&b, "R",
			code, "", r.Value, r.Unit, "", r.Flags, "",
			date, clock, reportingLab, "F", "", "", "")
	}
	writeRecord(&b, "L", "1", "1")
	return []byte(b.String())
}

func writeRecord(b *strings.Builder, fields ...string) {
	b.WriteString(strings.Join(fields, fieldSep))
	b.WriteByte(cr)
}
