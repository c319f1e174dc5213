package domain

import (
	"reflect"
	"testing"
)

func TestParseDrMap(t *testing.T) {
	data := []byte(`{
		"prod": {"Foo": "dr1", "Bar": "dr2"},
		"test": {"Baz": "dr9"}
	}`)

	m, err := ParseDrMap(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := m.Partition(EnvProduction).Names(); !reflect.DeepEqual(got, []string{"Foo", "Bar"}) {
		t.Errorf("prod names = %v, want [Foo Bar]", got)
	}
	if id, ok := m.Partition(EnvProduction).Get("Bar"); !ok || id != "dr2" {
		t.Errorf("prod Bar = %q, %v", id, ok)
	}
	if id, ok := m.Partition(EnvTest).Get("Baz"); !ok || id != "dr9" {
		t.Errorf("test Baz = %q, %v", id, ok)
	}
	if _, ok := m.Partition(EnvTest).Get("Foo"); ok {
		t.Error("Foo should not exist in the test partition")
	}
}

func TestParseDrMap_Malformed(t *testing.T) {
	if _, err := ParseDrMap([]byte(`{"prod": ["not", "an", "object"]}`)); err == nil {
		t.Fatal("expected error for malformed partition")
	}
	if _, err := ParseDrMap([]byte(`{"prod": {"Foo": 42}}`)); err == nil {
		t.Fatal("expected error for non-string resource id")
	}
}

func TestPartition_MarshalPreservesOrder(t *testing.T) {
	m, err := ParseDrMap([]byte(`{"prod": {"Zebra": "z", "Apple": "a", "Mango": "m"}, "test": {}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := m.Prod.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"Zebra":"z","Apple":"a","Mango":"m"}`
	if string(out) != want {
		t.Errorf("marshal = %s, want %s", out, want)
	}
}

func TestDiffDrMaps_Identity(t *testing.T) {
	m, err := ParseDrMap([]byte(`{"prod": {"Foo": "a", "Bar": "b"}, "test": {"Baz": "c"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changes := DiffDrMaps(m, m); len(changes) != 0 {
		t.Errorf("diff of identical maps = %v, want empty", changes)
	}
}

func TestDiffDrMaps(t *testing.T) {
	old, _ := ParseDrMap([]byte(`{"prod": {"Foo": "a", "Bar": "b", "Old": "x"}, "test": {"Baz": "c"}}`))
	new_, _ := ParseDrMap([]byte(`{"prod": {"Foo": "a2", "New": "n", "Bar": "b"}, "test": {"Baz": "c"}}`))

	got := DiffDrMaps(old, new_)
	want := []MapChange{
		{Env: EnvProduction, Kind: ChangeUpdated, List: "Foo", OldID: "a", NewID: "a2"},
		{Env: EnvProduction, Kind: ChangeAdded, List: "New", NewID: "n"},
		{Env: EnvProduction, Kind: ChangeRemoved, List: "Old", OldID: "x"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("diff = %v, want %v", got, want)
	}
}

func TestDiffDrMaps_Ordering(t *testing.T) {
	// Additions and changes follow the new document's key order; removals
	// follow the old document's key order and come last.
	old, _ := ParseDrMap([]byte(`{"prod": {"R1": "1", "C1": "2", "R2": "3"}, "test": {}}`))
	new_, _ := ParseDrMap([]byte(`{"prod": {"A1": "4", "C1": "changed", "A2": "5"}, "test": {}}`))

	got := DiffDrMaps(old, new_)
	wantLists := []string{"A1", "C1", "A2", "R1", "R2"}
	if len(got) != len(wantLists) {
		t.Fatalf("got %d changes, want %d: %v", len(got), len(wantLists), got)
	}
	for i, name := range wantLists {
		if got[i].List != name {
			t.Errorf("change[%d].List = %s, want %s", i, got[i].List, name)
		}
	}
	if got[3].Kind != ChangeRemoved || got[4].Kind != ChangeRemoved {
		t.Error("removals must come after additions and changes")
	}
}

func TestDiffDrMaps_PartitionsIndependent(t *testing.T) {
	old, _ := ParseDrMap([]byte(`{"prod": {"Foo": "A"}, "test": {"Foo": "T"}}`))
	new_, _ := ParseDrMap([]byte(`{"prod": {"Foo": "B"}, "test": {"Foo": "T"}}`))

	got := DiffDrMaps(old, new_)
	if len(got) != 1 {
		t.Fatalf("got %d changes, want 1: %v", len(got), got)
	}
	c := got[0]
	if c.Env != EnvProduction || c.Kind != ChangeUpdated || c.List != "Foo" || c.OldID != "A" || c.NewID != "B" {
		t.Errorf("unexpected change: %+v", c)
	}
}

func TestEnvironment_Valid(t *testing.T) {
	if !EnvProduction.Valid() || !EnvTest.Valid() {
		t.Error("known environments must be valid")
	}
	if Environment("staging").Valid() {
		t.Error("unknown environment must be invalid")
	}
}
