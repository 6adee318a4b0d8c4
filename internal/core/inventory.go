package core

import "go.uber.org/zap"

// TestInventory returns a deep copy of the reagent inventory.
func (st *Store) TestInventory() TestInventory {
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyInventory(st.inventory)
}

// UpdateTestInventory updates one assay. When count is supplied the
// traffic-light status is derived from the threshold unless an explicit
// status is also supplied. Returns false if the assay is unknown.
func (st *Store) UpdateTestInventory(name string, count, status *uint16) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.inventory.Tests {
		t := &st.inventory.Tests[i]
		if t.Name != name {
			continue
		}
		if count != nil {
			t.Count = *count
			t.Status = deriveStatus(*count, st.inventory.Threshold)
		}
		if status != nil {
			t.Status = *status
		}
		st.logger.Info("test inventory updated",
			zap.String("test", name),
			zap.Uint16("count", t.Count),
			zap.Uint16("status", t.Status),
		)
		return true
	}

	st.logger.Warn("test not found in inventory", zap.String("test", name))
	return false
}

// ConsumableInventory returns a deep copy of the per-module consumables.
func (st *Store) ConsumableInventory() []Module {
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyModules(st.modules)
}

// UpdateConsumable sets the status of one consumable slot. Returns false
// when the module or slot is unknown.
func (st *Store) UpdateConsumable(moduleID string, consumableID uint8, status uint8) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i := range st.modules {
		if st.modules[i].ID != moduleID {
			continue
		}
		for j := range st.modules[i].Consumables {
			c := &st.modules[i].Consumables[j]
			if c.ID != consumableID {
				continue
			}
			c.Status = status
			st.logger.Info("consumable updated",
				zap.String("module", moduleID),
				zap.Uint8("consumable", consumableID),
				zap.Uint8("status", status),
			)
			return true
		}
		break
	}

	st.logger.Warn("consumable not found",
		zap.String("module", moduleID),
		zap.Uint8("consumable", consumableID),
	)
	return false
}

// deriveStatus maps a reagent count to its traffic light.
func deriveStatus(count, threshold uint16) uint16 {
	switch {
	case count == 0:
		return StatusRed
	case count < threshold:
		return StatusYellow
	default:
		return StatusGreen
	}
}

func (st *Store) hasTestLocked(code string) bool {
	for i := range st.inventory.Tests {
		if st.inventory.Tests[i].Name == code {
			return true
		}
	}
	return false
}

func copyInventory(inv TestInventory) TestInventory {
	out := inv
	out.Tests = append([]TestItem(nil), inv.Tests...)
	return out
}

func copyModules(modules []Module) []Module {
	out := make([]Module, len(modules))
	for i, m := range modules {
		out[i] = Module{
			ID:          m.ID,
			Consumables: append([]Consumable(nil), m.Consumables...),
		}
	}
	return out
}
