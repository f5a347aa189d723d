package domain

import "testing"

func TestVectorClockIncrementBumpsOwnCounter(t *testing.T) {
	c := VectorClock{"a": 1}
	c = c.Increment("a")
	if c["a"] != 2 {
		t.Fatalf("c[a] = %d, want 2", c["a"])
	}
	c = c.Increment("b")
	if c["b"] != 1 {
		t.Fatalf("c[b] = %d, want 1", c["b"])
	}
}

func TestVectorClockIncrementOnNilMapAllocates(t *testing.T) {
	var c VectorClock
	c = c.Increment("a")
	if c == nil || c["a"] != 1 {
		t.Fatalf("Increment on a nil clock = %v, want {a:1}", c)
	}
}

func TestVectorClockCloneIsIndependent(t *testing.T) {
	c := VectorClock{"a": 1}
	clone := c.Clone()
	clone["a"] = 99
	if c["a"] != 1 {
		t.Fatalf("mutating the clone affected the original: %v", c)
	}
}

func TestVectorClockCompareEqual(t *testing.T) {
	a := VectorClock{"x": 1, "y": 2}
	b := VectorClock{"x": 1, "y": 2}
	if got := a.Compare(b); got != ClockEqual {
		t.Fatalf("Compare() = %v, want ClockEqual", got)
	}
}

func TestVectorClockCompareBeforeAndAfterAreInverses(t *testing.T) {
	a := VectorClock{"x": 1}
	b := VectorClock{"x": 2}
	if got := a.Compare(b); got != ClockBefore {
		t.Fatalf("a.Compare(b) = %v, want ClockBefore", got)
	}
	if got := b.Compare(a); got != ClockAfter {
		t.Fatalf("b.Compare(a) = %v, want ClockAfter", got)
	}
}

func TestVectorClockCompareConcurrentWhenNeitherDominates(t *testing.T) {
	a := VectorClock{"x": 2, "y": 1}
	b := VectorClock{"x": 1, "y": 2}
	if got := a.Compare(b); got != ClockConcurrent {
		t.Fatalf("Compare() = %v, want ClockConcurrent", got)
	}
}

func TestVectorClockCompareHandlesDisjointKeys(t *testing.T) {
	a := VectorClock{"x": 1}
	b := VectorClock{"y": 1}
	// Neither clock has observed the other's key at all, which reads as
	// "missing" (zero) on both sides — each dominates the other's unseen
	// key, so the clocks are concurrent.
	if got := a.Compare(b); got != ClockConcurrent {
		t.Fatalf("Compare() = %v, want ClockConcurrent", got)
	}
}

func TestVectorClockMergeTakesElementwiseMax(t *testing.T) {
	a := VectorClock{"x": 1, "y": 5}
	b := VectorClock{"x": 3, "z": 2}
	merged := Merge(a, b)

	want := VectorClock{"x": 3, "y": 5, "z": 2}
	if len(merged) != len(want) {
		t.Fatalf("Merge() = %v, want %v", merged, want)
	}
	for k, v := range want {
		if merged[k] != v {
			t.Fatalf("merged[%s] = %d, want %d", k, merged[k], v)
		}
	}
}

func TestVectorClockMergeIsCommutative(t *testing.T) {
	a := VectorClock{"x": 1, "y": 5}
	b := VectorClock{"x": 3, "z": 2}

	ab, ba := Merge(a, b), Merge(b, a)
	if len(ab) != len(ba) {
		t.Fatalf("Merge(a,b) = %v, Merge(b,a) = %v", ab, ba)
	}
	for k, v := range ab {
		if ba[k] != v {
			t.Fatalf("Merge not commutative at key %s: %d != %d", k, v, ba[k])
		}
	}
}

func TestVectorClockMergeIsIdempotent(t *testing.T) {
	a := VectorClock{"x": 1, "y": 5}
	merged := Merge(a, a)
	if merged["x"] != 1 || merged["y"] != 5 {
		t.Fatalf("Merge(a,a) = %v, want a copy of a", merged)
	}
}
