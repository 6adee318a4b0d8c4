package lis

import (
	"net"
	"testing"
	"time"

	"github.com/clinsim/atellica-sim/internal/core"
)

func testStore(t *testing.T) *core.Store {
	t.Helper()
	return core.NewStore(core.Settings{
		ResultDelay: time.Hour,
		Health: core.HealthSnapshot{
			InterfacePositions:  2,
			RemoteControlStatus: []uint8{4, 5},
			LockOwnership:       []uint8{2, 2},
		},
		Inventory: core.TestInventory{
			Threshold: 10,
			Tests: []core.TestItem{
				{Name: "TEST001", Count: 100, Status: 1},
				{Name: "TEST003", Count: 5, Status: 2},
			},
		},
	}, nil)
}

func startSession(t *testing.T, store *core.Store) net.Conn {
	t.Helper()
	srv, cli := net.Pipe()
	c := &client{conn: srv}
	go NewSession(c, store, nil, nil, nil).Run()
	t.Cleanup(func() { cli.Close() })
	return cli
}

func readByte(t *testing.T, conn net.Conn) byte {
	t.Helper()
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[0]
}

func TestSessionOrderIntake(t *testing.T) {
	store := testStore(t)
	conn := startSession(t, store)

	wire := "H|LIS|ATELLICA|20240101120000|1|1|1\r" +
		"P|PAT1|Doe^John|19900101|M|||\r" +
		"O|S001|TEST001^~TEST003^||||||||||||\r" +
		"L|1|1\r"
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(wire)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if b := readByte(t, conn); b != ackByte {
		t.Fatalf("expected ACK 0x06, got 0x%02x", b)
	}

	smp, ok := store.Sample("S001")
	if !ok {
		t.Fatal("sample not created")
	}
	if smp.Status != core.StatusReceived {
		t.Fatalf("status %v", smp.Status)
	}
	if len(smp.Tests) != 2 || smp.Tests[0] != "TEST001" || smp.Tests[1] != "TEST003" {
		t.Fatalf("tests %v", smp.Tests)
	}
	if smp.Patient.LastName != "Doe" || smp.Patient.FirstName != "John" {
		t.Fatalf("patient %+v", smp.Patient)
	}
	if store.Health().OnBoardTubeCount != 1 {
		t.Fatalf("tube count %d", store.Health().OnBoardTubeCount)
	}
}

func TestSessionAcksTransmissionWithoutOrders(t *testing.T) {
	store := testStore(t)
	conn := startSession(t, store)

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("H|LIS\rL|1|1\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b := readByte(t, conn); b != ackByte {
		t.Fatalf("expected ACK for orderless transmission, got 0x%02x", b)
	}
	if got := len(store.Samples()); got != 0 {
		t.Fatalf("no sample expected, got %d", got)
	}
}

func TestSessionAcksInvalidOrder(t *testing.T) {
	store := testStore(t)
	conn := startSession(t, store)

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("H|LIS\rO|S001|BOGUS^\rL|1|1\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b := readByte(t, conn); b != ackByte {
		t.Fatalf("expected ACK despite rejected order, got 0x%02x", b)
	}
	if _, ok := store.Sample("S001"); ok {
		t.Fatal("rejected sample stored")
	}
}

func TestSessionMultipleTransmissions(t *testing.T) {
	store := testStore(t)
	conn := startSession(t, store)

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("H|LIS\rO|S001|TEST001\rL|1|1\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b := readByte(t, conn); b != ackByte {
		t.Fatalf("first ACK missing: 0x%02x", b)
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("H|LIS\rO|S002|TEST003\rL|1|1\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b := readByte(t, conn); b != ackByte {
		t.Fatalf("second ACK missing: 0x%02x", b)
	}
	if got := len(store.Samples()); got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	b := NewBroadcaster(nil)

	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	b.add(server1)
	b.add(server2)
	defer client1.Close()
	defer client2.Close()

	if b.Len() != 2 {
		t.Fatalf("len %d", b.Len())
	}

	payload := []byte("R|TEST001|\r")
	got := make(chan []byte, 2)
	for _, c := range []net.Conn{client1, client2} {
		go func(c net.Conn) {
			buf := make([]byte, len(payload))
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, err := c.Read(buf); err != nil {
				got <- nil
				return
			}
			got <- buf
		}(c)
	}

	if sent := b.Broadcast(payload); sent != 2 {
		t.Fatalf("sent %d", sent)
	}
	for i := 0; i < 2; i++ {
		if buf := <-got; string(buf) != string(payload) {
			t.Fatalf("client received %q", buf)
		}
	}
}

func TestBroadcastDropsDeadClients(t *testing.T) {
	b := NewBroadcaster(nil)

	srv, cli := net.Pipe()
	b.add(srv)
	cli.Close()
	srv.Close()

	if sent := b.Broadcast([]byte("x")); sent != 0 {
		t.Fatalf("sent %d to dead client", sent)
	}
	if b.Len() != 0 {
		t.Fatalf("dead client not removed, len %d", b.Len())
	}
}
