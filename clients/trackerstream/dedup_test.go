package trackerstream

import "testing"

func TestDedupCache_AddAndRepeat(t *testing.T) {
	d := newDedupCache()

	if !d.add("sig1") {
		t.Error("first add should report new")
	}
	if d.add("sig1") {
		t.Error("second add should report seen")
	}
	if !d.add("sig2") {
		t.Error("distinct tx should report new")
	}
	if got := d.size(); got != 2 {
		t.Errorf("expected size 2, got %d", got)
	}
}

func TestDedupCache_Clear(t *testing.T) {
	d := newDedupCache()

	d.add("sig1")
	d.add("sig2")
	d.clear()

	if got := d.size(); got != 0 {
		t.Errorf("expected empty cache, got %d", got)
	}
	if !d.add("sig1") {
		t.Error("tx should be new again after clear")
	}
}
