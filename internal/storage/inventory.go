package storage

import "fmt"

// Personal keys the inventory lives under.
const (
	KeyGold  = "gold"
	KeyItems = "items"
)

// Inventory is the player's holdings as the trade engine sees them: a gold
// count and stacks keyed by "class:id".
type Inventory struct {
	Gold  int64
	Items map[string]int64
}

// ItemKey builds the stack key for an item class and id.
func ItemKey(class string, id int) string {
	return fmt.Sprintf("%s:%d", class, id)
}

// LoadInventory reads a player's inventory. Missing keys read as empty, not
// as errors; a brand-new player simply owns nothing.
func LoadInventory(s Store, userID string) (*Inventory, error) {
	inv := &Inventory{Items: make(map[string]int64)}

	v, err := s.GetPersonal(userID, KeyGold)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if gold, ok := CoerceInt64(v); ok {
		inv.Gold = gold
	}

	v, err = s.GetPersonal(userID, KeyItems)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	switch items := v.(type) {
	case map[string]int64:
		for k, n := range items {
			inv.Items[k] = n
		}
	case map[string]any:
		for k, raw := range items {
			if n, ok := CoerceInt64(raw); ok {
				inv.Items[k] = n
			}
		}
	}
	return inv, nil
}

// SaveInventory writes both inventory keys. Zero stacks are dropped so the
// stored map never accumulates empty entries.
func SaveInventory(s Store, userID string, inv *Inventory) error {
	if err := s.SetPersonal(userID, KeyGold, inv.Gold); err != nil {
		return err
	}
	items := make(map[string]int64, len(inv.Items))
	for k, n := range inv.Items {
		if n > 0 {
			items[k] = n
		}
	}
	return s.SetPersonal(userID, KeyItems, items)
}

// CoerceInt64 normalizes the integer shapes that survive a msgpack
// round-trip through the store.
func CoerceInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
