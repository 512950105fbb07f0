package storage

import "testing"

func TestLoadInventoryEmptyForNewPlayer(t *testing.T) {
	inv, err := LoadInventory(NewMemory(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Gold != 0 || len(inv.Items) != 0 {
		t.Fatalf("new player inventory not empty: %+v", inv)
	}
}

func TestInventorySaveLoad(t *testing.T) {
	s := NewMemory()

	inv := &Inventory{Gold: 500, Items: map[string]int64{
		ItemKey("item", 10):   5,
		ItemKey("weapon", 3):  1,
		ItemKey("armor", 200): 0, // zero stacks must not persist
	}}
	if err := SaveInventory(s, "u-1", inv); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadInventory(s, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Gold != 500 {
		t.Fatalf("gold = %d, want 500", got.Gold)
	}
	if got.Items[ItemKey("item", 10)] != 5 || got.Items[ItemKey("weapon", 3)] != 1 {
		t.Fatalf("items wrong: %+v", got.Items)
	}
	if _, ok := got.Items[ItemKey("armor", 200)]; ok {
		t.Fatalf("zero stack was persisted")
	}
}

// Values that came back from the Postgres store arrive as loose msgpack
// shapes; loading must coerce them.
func TestLoadInventoryCoercesLooseShapes(t *testing.T) {
	s := NewMemory()
	if err := s.SetPersonal("u-1", KeyGold, float64(42)); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPersonal("u-1", KeyItems, map[string]any{"item:10": int64(3), "weapon:1": uint64(2)}); err != nil {
		t.Fatal(err)
	}

	inv, err := LoadInventory(s, "u-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inv.Gold != 42 {
		t.Fatalf("gold = %d, want 42", inv.Gold)
	}
	if inv.Items["item:10"] != 3 || inv.Items["weapon:1"] != 2 {
		t.Fatalf("items wrong: %+v", inv.Items)
	}
}

func TestMemoryGlobal(t *testing.T) {
	s := NewMemory()

	if _, err := s.GetGlobal("guild"); err != ErrNotFound {
		t.Fatalf("missing key: err = %v, want ErrNotFound", err)
	}
	if err := s.SetGlobal("guild", map[string]any{"g-1": "Knights"}, "server"); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetGlobal("guild")
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := v.(map[string]any); !ok || m["g-1"] != "Knights" {
		t.Fatalf("got %#v", v)
	}
}
