package pinmap

import (
	"fmt"
	"strings"
	"unsafe"
)

// Set is a concurrent set of comparable keys, backed by a Map with empty
// values. Every concurrency property of Map carries over: lock-free
// membership tests and inserts, guard-based reclamation and incremental
// resizing.
//
// The zero value is ready to use. Set must not be copied after first use.
type Set[K comparable] struct {
	m Map[K, struct{}]
}

// NewSet creates a new Set instance. The options apply to the underlying
// map.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithKeyHasher, etc.)
func NewSet[K comparable](options ...func(*MapConfig)) *Set[K] {
	s := &Set[K]{}
	s.m.withOptions(options...)
	return s
}

// Insert adds key to the set. It returns true when the key was newly
// added, false when it was already present.
func (s *Set[K]) Insert(key K) bool {
	_, loaded := s.m.LoadOrStore(key, struct{}{})
	return !loaded
}

// Remove deletes key from the set. It returns true when the key was
// present.
func (s *Set[K]) Remove(key K) bool {
	_, loaded := s.m.LoadAndDelete(key)
	return loaded
}

// Contains reports whether key is in the set.
func (s *Set[K]) Contains(key K) bool {
	_, ok := s.m.Load(key)
	return ok
}

// Size returns the number of keys in the set.
func (s *Set[K]) Size() int {
	return s.m.Size()
}

// IsEmpty reports whether the set holds no keys.
func (s *Set[K]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear removes all keys.
func (s *Set[K]) Clear() {
	s.m.Clear()
}

// Grow increases the set's capacity to accommodate sizeAdd additional
// keys.
func (s *Set[K]) Grow(sizeAdd int) {
	s.m.Grow(sizeAdd)
}

// Retain keeps only the keys for which fn returns true, with the same
// claim semantics as Map.Retain.
func (s *Set[K]) Retain(fn func(key K) bool) {
	s.m.Retain(func(key K, _ struct{}) bool {
		return fn(key)
	})
}

// Range iterates the keys with the same weak consistency as Map.Range.
func (s *Set[K]) Range(yield func(key K) bool) {
	s.m.Range(func(key K, _ struct{}) bool {
		return yield(key)
	})
}

// All returns an iterator function for use with range-over-func.
func (s *Set[K]) All() func(yield func(K) bool) {
	return s.Range
}

// Equal reports whether both sets hold exactly the same keys. The answer
// is weakly consistent under concurrent mutation.
func (s *Set[K]) Equal(other *Set[K]) bool {
	if s == other {
		return true
	}
	if other == nil || s.Size() != other.Size() {
		return false
	}
	eq := true
	s.Range(func(key K) bool {
		if !other.Contains(key) {
			eq = false
			return false
		}
		return true
	})
	return eq
}

// Clone returns a new set with the same configuration and keys.
func (s *Set[K]) Clone() *Set[K] {
	clone := &Set[K]{}
	s.m.CloneTo(&clone.m)
	return clone
}

// ToSlice collects the keys into a new slice in iteration order.
func (s *Set[K]) ToSlice() []K {
	a := make([]K, 0, s.Size())
	s.Range(func(key K) bool {
		a = append(a, key)
		return true
	})
	return a
}

// String implements fmt.Stringer.
func (s *Set[K]) String() string {
	var b strings.Builder
	b.WriteString("set[")
	first := true
	s.Range(func(key K) bool {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		_, _ = fmt.Fprintf(&b, "%v", key)
		return true
	})
	b.WriteByte(']')
	return b.String()
}

// PinnedSet is a view of a Set bound to one long-lived guard, with the
// same lifetime rules as Pinned.
type PinnedSet[K comparable] struct {
	p *Pinned[K, struct{}]
}

// Pin returns a view of the set whose operations all share a single guard.
func (s *Set[K]) Pin() *PinnedSet[K] {
	return &PinnedSet[K]{p: s.m.Pin()}
}

// Unpin releases the view's guard. References obtained from LoadRef become
// invalid.
func (ps *PinnedSet[K]) Unpin() {
	ps.p.Unpin()
}

// LoadRef returns a pointer to the set's own copy of key, or nil when the
// key is absent. The pointee stays valid until Unpin and must be treated
// as read-only.
func (ps *PinnedSet[K]) LoadRef(key K) *K {
	m := ps.p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	if n := m.findNode(t, hash, &key); n != nil {
		return &n.key
	}
	return nil
}

// Contains reports whether key is in the set.
func (ps *PinnedSet[K]) Contains(key K) bool {
	_, ok := ps.p.Load(key)
	return ok
}

// Insert adds key to the set, reporting whether it was newly added.
func (ps *PinnedSet[K]) Insert(key K) bool {
	_, loaded := ps.p.LoadOrStore(key, struct{}{})
	return !loaded
}

// Remove deletes key from the set, reporting whether it was present.
func (ps *PinnedSet[K]) Remove(key K) bool {
	_, loaded := ps.p.LoadAndDelete(key)
	return loaded
}

// Range iterates the keys under the view's guard.
func (ps *PinnedSet[K]) Range(yield func(key K) bool) {
	ps.p.Range(func(key K, _ struct{}) bool {
		return yield(key)
	})
}

// CollectSet builds a set from an iterator sequence of keys.
func CollectSet[K comparable](
	seq func(yield func(K) bool),
	options ...func(*MapConfig),
) *Set[K] {
	s := NewSet[K](options...)
	seq(func(key K) bool {
		s.Insert(key)
		return true
	})
	return s
}

// FromSlice builds a set holding all keys of src.
func FromSlice[K comparable](
	src []K,
	options ...func(*MapConfig),
) *Set[K] {
	s := NewSet[K](options...)
	s.ExtendSlice(src)
	return s
}

// ExtendSlice inserts every key of src. When the set is empty the table is
// grown for the whole batch up front; otherwise for half of it, on the
// expectation that part of the batch is already present.
func (s *Set[K]) ExtendSlice(src []K) {
	n := len(src)
	if n == 0 {
		return
	}
	if s.IsEmpty() {
		s.Grow(n)
	} else {
		s.Grow((n + 1) / 2)
	}
	for _, key := range src {
		s.Insert(key)
	}
}
