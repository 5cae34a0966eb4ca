package pinmap

import (
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSetInsertRemove(t *testing.T) {
	const numEntries = 1000
	s := NewSet[string]()
	for i := range numEntries {
		if !s.Insert(strconv.Itoa(i)) {
			t.Fatalf("insert reported a duplicate for %d", i)
		}
	}
	for i := range numEntries {
		if s.Insert(strconv.Itoa(i)) {
			t.Fatalf("duplicate insert succeeded for %d", i)
		}
	}
	if sz := s.Size(); sz != numEntries {
		t.Fatalf("size = %d, want %d", sz, numEntries)
	}
	for i := range numEntries {
		if !s.Contains(strconv.Itoa(i)) {
			t.Fatalf("key not found for %d", i)
		}
	}
	if s.Contains("missing") {
		t.Fatal("key was not expected")
	}
	for i := range numEntries {
		if !s.Remove(strconv.Itoa(i)) {
			t.Fatalf("remove failed for %d", i)
		}
		if s.Remove(strconv.Itoa(i)) {
			t.Fatalf("double remove succeeded for %d", i)
		}
	}
	if !s.IsEmpty() {
		t.Fatal("set not empty after removals")
	}
}

func TestSetZeroValue(t *testing.T) {
	var s Set[int]
	if s.Contains(1) {
		t.Fatal("key was not expected")
	}
	if sz := s.Size(); sz != 0 {
		t.Fatalf("size = %d, want 0", sz)
	}
	s.Remove(1)
	s.Clear()
	if !s.Insert(1) {
		t.Fatal("insert failed on zero-value set")
	}
	if !s.Contains(1) {
		t.Fatal("key not found after insert")
	}
}

func TestSetClear(t *testing.T) {
	const numEntries = 1000
	s := NewSet[int]()
	for i := range numEntries {
		s.Insert(i)
	}
	s.Clear()
	if sz := s.Size(); sz != 0 {
		t.Fatalf("size = %d after clear, want 0", sz)
	}
	for i := range numEntries {
		if s.Contains(i) {
			t.Fatalf("key was not expected for %d", i)
		}
	}
}

func TestSetRange(t *testing.T) {
	const numEntries = 1000
	s := NewSet[int]()
	for i := range numEntries {
		s.Insert(i)
	}
	met := make(map[int]int, numEntries)
	s.Range(func(key int) bool {
		met[key] += 1
		return true
	})
	if len(met) != numEntries {
		t.Fatalf("met %d keys, want %d", len(met), numEntries)
	}
	for k, c := range met {
		if c != 1 {
			t.Fatalf("met key %d multiple times: %d", k, c)
		}
	}
	iters := 0
	s.Range(func(int) bool {
		iters++
		return false
	})
	if iters != 1 {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
}

func TestSetRetain(t *testing.T) {
	const numEntries = 1000
	s := NewSet[int]()
	for i := range numEntries {
		s.Insert(i)
	}
	s.Retain(func(key int) bool {
		return key%2 == 0
	})
	if sz := s.Size(); sz != numEntries/2 {
		t.Fatalf("size = %d, want %d", sz, numEntries/2)
	}
	for i := range numEntries {
		if got := s.Contains(i); got != (i%2 == 0) {
			t.Fatalf("unexpected membership for %d: %v", i, got)
		}
	}
}

func TestSetEqual(t *testing.T) {
	const numEntries = 100
	s1 := NewSet[int]()
	s2 := NewSet[int]()
	if !s1.Equal(s2) {
		t.Fatal("empty sets not equal")
	}
	for i := range numEntries {
		s1.Insert(i)
		s2.Insert(numEntries - 1 - i)
	}
	if !s1.Equal(s2) {
		t.Fatal("equal sets not equal")
	}
	s2.Remove(0)
	if s1.Equal(s2) {
		t.Fatal("sets of different sizes are equal")
	}
	s2.Insert(numEntries)
	if s1.Equal(s2) {
		t.Fatal("sets with different keys are equal")
	}
}

func TestSetClone(t *testing.T) {
	const numEntries = 1000
	s := NewSet[string]()
	for i := range numEntries {
		s.Insert(strconv.Itoa(i))
	}
	clone := s.Clone()
	if !s.Equal(clone) {
		t.Fatal("clone differs from the source")
	}
	clone.Insert("extra")
	if s.Contains("extra") {
		t.Fatal("clone mutation leaked into the source")
	}
}

func TestSetToSlice(t *testing.T) {
	const numEntries = 100
	s := NewSet[int]()
	for i := range numEntries {
		s.Insert(i)
	}
	keys := s.ToSlice()
	if len(keys) != numEntries {
		t.Fatalf("got %d keys, want %d", len(keys), numEntries)
	}
	slices.Sort(keys)
	for i := range numEntries {
		if keys[i] != i {
			t.Fatalf("keys do not match at %d: %v", i, keys[i])
		}
	}
}

func TestSetString(t *testing.T) {
	s := NewSet[int]()
	if got := s.String(); got != "set[]" {
		t.Fatalf("empty set renders as %q", got)
	}
	s.Insert(1)
	if got := s.String(); got != "set[1]" {
		t.Fatalf("single key renders as %q", got)
	}
	s.Insert(2)
	got := s.String()
	if !strings.HasPrefix(got, "set[") || !strings.HasSuffix(got, "]") {
		t.Fatalf("unexpected rendering: %q", got)
	}
}

func TestSetGrow(t *testing.T) {
	const numEntries = 10_000
	s := NewSet[int]()
	s.Grow(numEntries)
	for i := range numEntries {
		s.Insert(i)
	}
	if sz := s.Size(); sz != numEntries {
		t.Fatalf("size = %d, want %d", sz, numEntries)
	}
}

func TestSetFromSlice(t *testing.T) {
	src := []string{"a", "b", "c", "b"}
	s := FromSlice(src)
	if sz := s.Size(); sz != 3 {
		t.Fatalf("size = %d, want 3", sz)
	}
	for _, k := range src {
		if !s.Contains(k) {
			t.Fatalf("key not found for %v", k)
		}
	}
}

func TestSetExtendSlice(t *testing.T) {
	s := NewSet[int]()
	s.Insert(1)
	s.ExtendSlice([]int{1, 2, 3})
	if sz := s.Size(); sz != 3 {
		t.Fatalf("size = %d, want 3", sz)
	}
	s.ExtendSlice(nil)
	if sz := s.Size(); sz != 3 {
		t.Fatalf("size = %d after empty extend, want 3", sz)
	}
}

func TestCollectSet(t *testing.T) {
	const numEntries = 100
	src := NewSet[int]()
	for i := range numEntries {
		src.Insert(i)
	}
	s := CollectSet(src.All(), WithCapacity(numEntries))
	if !src.Equal(s) {
		t.Fatal("collected set differs from the source")
	}
}

func TestSetPinned(t *testing.T) {
	const numEntries = 1000
	s := NewSet[string]()
	ps := s.Pin()
	defer ps.Unpin()
	for i := range numEntries {
		if !ps.Insert(strconv.Itoa(i)) {
			t.Fatalf("insert reported a duplicate for %d", i)
		}
	}
	for i := range numEntries {
		if !ps.Contains(strconv.Itoa(i)) {
			t.Fatalf("key not found for %d", i)
		}
	}
	ref := ps.LoadRef("42")
	if ref == nil || *ref != "42" {
		t.Fatalf("reference not found: %v", ref)
	}
	if ps.LoadRef("missing") != nil {
		t.Fatal("reference was not expected")
	}
	if !ps.Remove("42") {
		t.Fatal("remove failed")
	}
	// the guard keeps the removed key's record readable
	if *ref != "42" {
		t.Fatalf("pinned reference changed: %v", *ref)
	}
	iters := 0
	ps.Range(func(string) bool {
		iters++
		return true
	})
	if iters != numEntries-1 {
		t.Fatalf("got unexpected number of iterations: %d", iters)
	}
}

func TestSetParallelInsertsAndRemoves(t *testing.T) {
	const numWorkers = 4
	const numIters = 10_000
	const numEntries = 100
	s := NewSet[int]()
	cdone := make(chan bool)
	var added, removed int64
	for range numWorkers {
		go func() {
			for i := range numIters {
				k := i % numEntries
				if i%2 == 0 {
					if s.Insert(k) {
						atomic.AddInt64(&added, 1)
					}
				} else {
					if s.Remove(k) {
						atomic.AddInt64(&removed, 1)
					}
				}
			}
			cdone <- true
		}()
	}
	for range numWorkers {
		<-cdone
	}
	// every successful insert is balanced by a successful remove or a
	// remaining key
	if got := added - removed; got != int64(s.Size()) {
		t.Fatalf("size = %d, want %d", s.Size(), got)
	}
}
