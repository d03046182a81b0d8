package canonhash

import "testing"

func TestSumObjectDeterministicForSameValue(t *testing.T) {
	type wallet struct {
		Energy   int `json:"energy"`
		Material int `json:"material"`
	}
	a := wallet{Energy: 5, Material: 7}
	b := wallet{Energy: 5, Material: 7}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
}

func TestSumObjectChangesWhenValueChanges(t *testing.T) {
	ha, _, _ := SumObject(map[string]any{"hp": 100})
	hb, _, _ := SumObject(map[string]any{"hp": 99})
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestSumStringKnownLength(t *testing.T) {
	h := SumString("molt")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
}
