package ids

import "testing"

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}

func TestNewGUID(t *testing.T) {
	a, b := NewGUID(), NewGUID()
	if a == b {
		t.Fatalf("expected distinct guids")
	}
	if !IsGUID(a) {
		t.Fatalf("expected %q to parse as guid", a)
	}
	if IsGUID("not-a-guid") {
		t.Fatalf("unexpected guid match")
	}
}
