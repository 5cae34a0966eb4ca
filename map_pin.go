package pinmap

import "unsafe"

// Pinned is a view of a Map bound to one long-lived guard. Operations on
// the view run under that guard instead of taking one of their own, which
// removes the per-operation pin cost and lets LoadRef hand out direct
// references into the map.
//
// The guard is held until Unpin, and retired entries accumulate for as
// long as it lives. Use a view for a burst of operations, not as storage.
// A view must not be shared between goroutines and must not be used after
// Unpin.
type Pinned[K comparable, V any] struct {
	m *Map[K, V]
	g Guard
}

// Pin returns a view of the map whose operations all share a single guard.
//
//	p := m.Pin()
//	defer p.Unpin()
//	if v := p.LoadRef(key); v != nil {
//		...
//	}
func (m *Map[K, V]) Pin() *Pinned[K, V] {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	return &Pinned[K, V]{m: m, g: m.coll.Pin()}
}

// Unpin releases the view's guard. References obtained from LoadRef become
// invalid.
func (p *Pinned[K, V]) Unpin() {
	p.g.Unpin()
}

// LoadRef returns a pointer to the value stored for key, or nil when the
// key is absent. The pointee stays valid until Unpin; it must be treated
// as read-only, since concurrent readers may observe the same record.
func (p *Pinned[K, V]) LoadRef(key K) *V {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	if n := m.findNode(t, hash, &key); n != nil {
		return &n.value
	}
	return nil
}

// LoadKV returns pointers to the map's own copies of the key and value, or
// ok=false when the key is absent. Both pointees stay valid until Unpin and
// must be treated as read-only.
func (p *Pinned[K, V]) LoadKV(key K) (k *K, v *V, ok bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	if n := m.findNode(t, hash, &key); n != nil {
		return &n.key, &n.value, true
	}
	return nil, nil, false
}

// Load retrieves a value for the given key.
func (p *Pinned[K, V]) Load(key K) (value V, ok bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	if n := m.findNode(t, hash, &key); n != nil {
		return n.value, true
	}
	return *new(V), false
}

// Store inserts or updates a key-value pair.
func (p *Pinned[K, V]) Store(key K, value V) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	var nn *node[K, V]
	m.computeNode(t, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if nn == nil {
				nn = m.newNode(key, value)
			}
			return nn, value, e != nil
		},
	)
}

// LoadOrStore retrieves an existing value or stores a new one if the key
// doesn't exist.
func (p *Pinned[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if n := m.findNode(t, hash, &key); n != nil {
			return n.value, true
		}
	}

	var nn *node[K, V]
	return m.computeNode(t, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e != nil {
				return e, e.value, true
			}
			if nn == nil {
				nn = m.newNode(key, value)
			}
			return nn, value, false
		},
	)
}

// Swap stores a key-value pair and returns the previous value if any.
func (p *Pinned[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	var nn *node[K, V]
	return m.computeNode(t, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if nn == nil {
				nn = m.newNode(key, value)
			}
			if e != nil {
				return nn, e.value, true
			}
			return nn, *new(V), false
		},
	)
}

// LoadAndDelete retrieves the value for a key and deletes it from the map.
func (p *Pinned[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if m.findNode(t, hash, &key) == nil {
			return *new(V), false
		}
	}

	return m.computeNode(t, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e == nil {
				return nil, *new(V), false
			}
			return nil, e.value, true
		},
	)
}

// Delete removes a key-value pair.
func (p *Pinned[K, V]) Delete(key K) {
	p.LoadAndDelete(key)
}

// Range iterates the entries under the view's guard with the same weak
// consistency as Map.Range.
func (p *Pinned[K, V]) Range(yield func(key K, value V) bool) {
	m := p.m
	t := (*mapTable)(loadPtr(&m.table))
	m.rangeNodes(t, func(n *node[K, V]) bool {
		return yield(n.key, n.value)
	})
}

// Size returns the number of key-value pairs in the map.
func (p *Pinned[K, V]) Size() int {
	return p.m.Size()
}
