package core

import "testing"

func u16(v uint16) *uint16 { return &v }

func TestUpdateTestInventoryDerivesStatus(t *testing.T) {
	st := NewStore(testSettings(), nil)

	cases := []struct {
		count  uint16
		status uint16
	}{
		{0, StatusRed},
		{9, StatusYellow},
		{10, StatusGreen},
		{500, StatusGreen},
	}
	for _, c := range cases {
		if !st.UpdateTestInventory("TEST001", u16(c.count), nil) {
			t.Fatal("TEST001 not found")
		}
		inv := st.TestInventory()
		if inv.Tests[0].Count != c.count || inv.Tests[0].Status != c.status {
			t.Fatalf("count %d: got status %d, want %d", c.count, inv.Tests[0].Status, c.status)
		}
	}
}

func TestUpdateTestInventoryExplicitStatus(t *testing.T) {
	st := NewStore(testSettings(), nil)

	if !st.UpdateTestInventory("TEST002", u16(100), u16(StatusRed)) {
		t.Fatal("TEST002 not found")
	}
	inv := st.TestInventory()
	if inv.Tests[1].Status != StatusRed {
		t.Fatalf("explicit status ignored: %d", inv.Tests[1].Status)
	}
}

func TestUpdateTestInventoryUnknown(t *testing.T) {
	st := NewStore(testSettings(), nil)
	if st.UpdateTestInventory("NOPE", u16(1), nil) {
		t.Fatal("expected unknown test to be rejected")
	}
}

func TestUpdateConsumable(t *testing.T) {
	st := NewStore(testSettings(), nil)

	if !st.UpdateConsumable("MODULE001", 5, 3) {
		t.Fatal("consumable not found")
	}
	modules := st.ConsumableInventory()
	if modules[0].Consumables[1].Status != 3 {
		t.Fatalf("status not updated: %+v", modules[0].Consumables)
	}

	if st.UpdateConsumable("MODULE001", 99, 1) {
		t.Fatal("unknown consumable accepted")
	}
	if st.UpdateConsumable("MODULE999", 1, 1) {
		t.Fatal("unknown module accepted")
	}
}

func TestInventorySnapshotIsCopy(t *testing.T) {
	st := NewStore(testSettings(), nil)

	inv := st.TestInventory()
	inv.Tests[0].Count = 9999
	if st.TestInventory().Tests[0].Count == 9999 {
		t.Fatal("inventory snapshot shares memory with store")
	}

	modules := st.ConsumableInventory()
	modules[0].Consumables[0].Status = 99
	if st.ConsumableInventory()[0].Consumables[0].Status == 99 {
		t.Fatal("module snapshot shares memory with store")
	}
}
