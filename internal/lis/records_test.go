package lis

import "testing"

func TestAccumulatorSingleTransmission(t *testing.T) {
	var acc Accumulator
	wire := "H|LIS|ATELLICA|20240101120000|1|1|1\r" +
		"P|PAT1|Doe^John|19900101|M|||\r" +
		"O|S001|TEST001^~TEST003^||||||||||||\r" +
		"L|1|1\r"

	done := acc.Feed([]byte(wire))
	if len(done) != 1 {
		t.Fatalf("expected 1 transmission, got %d", len(done))
	}

	tx := done[0]
	if tx.Patient.ID != "PAT1" || tx.Patient.LastName != "Doe" || tx.Patient.FirstName != "John" {
		t.Fatalf("patient mismatch: %+v", tx.Patient)
	}
	if tx.Patient.DOB != "19900101" || tx.Patient.Gender != "M" {
		t.Fatalf("patient mismatch: %+v", tx.Patient)
	}
	if len(tx.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(tx.Orders))
	}
	o := tx.Orders[0]
	if o.SampleID != "S001" {
		t.Fatalf("sample id %q", o.SampleID)
	}
	if len(o.Tests) != 2 || o.Tests[0] != "TEST001" || o.Tests[1] != "TEST003" {
		t.Fatalf("tests mismatch: %v", o.Tests)
	}
}

func TestAccumulatorSplitFeeds(t *testing.T) {
	var acc Accumulator
	wire := "H|LIS\rO|S001|TEST001\rL|1|1\r"

	// One byte at a time; only the final CR completes the transmission.
	var done []Transmission
	for i := 0; i < len(wire); i++ {
		done = append(done, acc.Feed([]byte{wire[i]})...)
	}
	if len(done) != 1 || len(done[0].Orders) != 1 {
		t.Fatalf("split feed failed: %+v", done)
	}
}

func TestAccumulatorDiscardsRecordsOutsideTransmission(t *testing.T) {
	var acc Accumulator

	if done := acc.Feed([]byte("O|STRAY|TEST001\rL|1|1\r")); len(done) != 0 {
		t.Fatalf("stray records produced a transmission: %+v", done)
	}

	done := acc.Feed([]byte("H|LIS\rO|S001|TEST001\rL|1|1\r"))
	if len(done) != 1 || done[0].Orders[0].SampleID != "S001" {
		t.Fatalf("valid transmission lost after stray records: %+v", done)
	}
}

func TestAccumulatorRestartsOnNewHeader(t *testing.T) {
	var acc Accumulator

	done := acc.Feed([]byte("H|LIS\rO|OLD|TEST001\rH|LIS\rO|NEW|TEST001\rL|1|1\r"))
	if len(done) != 1 {
		t.Fatalf("expected 1 transmission, got %d", len(done))
	}
	if len(done[0].Orders) != 1 || done[0].Orders[0].SampleID != "NEW" {
		t.Fatalf("restart did not drop stale records: %+v", done[0].Orders)
	}
}

func TestAccumulatorMultipleOrders(t *testing.T) {
	var acc Accumulator

	done := acc.Feed([]byte("H|LIS\rO|S001|TEST001\rO|S002|TEST002^\rL|1|1\r"))
	if len(done) != 1 || len(done[0].Orders) != 2 {
		t.Fatalf("expected 2 orders: %+v", done)
	}
	if done[0].Orders[1].SampleID != "S002" || done[0].Orders[1].Tests[0] != "TEST002" {
		t.Fatalf("second order mismatch: %+v", done[0].Orders[1])
	}
}

func TestAccumulatorReplacesNonASCII(t *testing.T) {
	var acc Accumulator

	done := acc.Feed([]byte("H|LIS\rO|S\xFF1|TEST001\rL|1|1\r"))
	if len(done) != 1 {
		t.Fatalf("expected 1 transmission, got %d", len(done))
	}
	if done[0].Orders[0].SampleID != "S?1" {
		t.Fatalf("non-ASCII byte not replaced: %q", done[0].Orders[0].SampleID)
	}
}

func TestParseRecordRejectsJunk(t *testing.T) {
	if _, ok := parseRecord(""); ok {
		t.Fatal("empty line accepted")
	}
	if _, ok := parseRecord("||garbage"); ok {
		t.Fatal("typeless line accepted")
	}
	if _, ok := parseRecord("HX|bad"); ok {
		t.Fatal("multi-char type accepted")
	}

	rec, ok := parseRecord("Q|1|ALL")
	if !ok || rec.Type != 'Q' {
		t.Fatalf("valid record rejected: %+v", rec)
	}
	if rec.Field(2) != "ALL" || rec.Field(9) != "" {
		t.Fatalf("field access: %q %q", rec.Field(2), rec.Field(9))
	}
}
