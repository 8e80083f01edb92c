package util

import "testing"

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory[int](3)
	for i := 1; i <= 5; i++ {
		h.Append(i)
	}

	got := h.All()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("window %v, want [3 4 5]", got)
	}
	if h.Len() != 3 {
		t.Fatalf("len %d", h.Len())
	}
}

func TestHistoryLast(t *testing.T) {
	h := NewHistory[string](5)
	for _, s := range []string{"a", "b", "c"} {
		h.Append(s)
	}

	got := h.Last(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("last %v", got)
	}
	if got := h.Last(10); len(got) != 3 {
		t.Fatalf("overlong last %v", got)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory[int](2)
	h.Append(1)
	h.Clear()
	if h.Len() != 0 || len(h.All()) != 0 {
		t.Fatal("clear left entries behind")
	}
	h.Append(7)
	if got := h.All(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("append after clear %v", got)
	}
}
