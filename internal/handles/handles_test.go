package handles

import "testing"

func TestNextSkipsZero(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		h := Next()
		if h == 0 {
			t.Fatalf("Next returned zero")
		}
		if seen[h] {
			t.Fatalf("Next returned duplicate handle %d", h)
		}
		seen[h] = true
	}
}

func TestTableInsertGetDelete(t *testing.T) {
	tb := New[string]()
	h := Next()
	if !tb.Insert(h, "conn") {
		t.Fatalf("Insert failed on empty table")
	}
	v, ok := tb.Get(h)
	if !ok || v != "conn" {
		t.Fatalf("Get(%d) = %q, %v, want %q, true", h, v, ok, "conn")
	}
	tb.Delete(h)
	if _, ok := tb.Get(h); ok {
		t.Fatalf("Get after Delete should miss")
	}
	if tb.Len() != 0 {
		t.Fatalf("Len after Delete = %d, want 0", tb.Len())
	}
}

func TestTableInsertZeroHandleFails(t *testing.T) {
	tb := New[int]()
	if tb.Insert(0, 1) {
		t.Fatalf("Insert with zero handle should fail")
	}
}

func TestTableFull(t *testing.T) {
	tb := New[int]()
	for i := 0; i < TableSize; i++ {
		if !tb.Insert(Next(), i) {
			t.Fatalf("Insert %d failed before table full", i)
		}
	}
	if !tb.Full() {
		t.Fatalf("expected table full after %d inserts", TableSize)
	}
	if tb.Insert(Next(), 999) {
		t.Fatalf("Insert on full table should fail")
	}
}

func TestTableEachOrder(t *testing.T) {
	tb := New[int]()
	var hs []int64
	for i := 0; i < 5; i++ {
		h := Next()
		hs = append(hs, h)
		tb.Insert(h, i)
	}
	var visited []int64
	tb.Each(func(h int64, v int) {
		visited = append(visited, h)
	})
	if len(visited) != len(hs) {
		t.Fatalf("Each visited %d handles, want %d", len(visited), len(hs))
	}
	for i := range hs {
		if visited[i] != hs[i] {
			t.Fatalf("Each order[%d] = %d, want %d", i, visited[i], hs[i])
		}
	}
}
