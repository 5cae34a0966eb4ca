package pinmap

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Map is a high-performance concurrent map implementation with lock-free
// reads and CAS-arbitrated writes over an open-addressed slot array.
//
// Core properties:
//   - No operation takes a lock; writers race with single CAS attempts and
//     readers never wait, except while a blocking-mode migration runs
//   - Zero-value ready with lazy initialization
//   - Guard-based reclamation; a replaced entry is recycled only once no
//     reader can still hold a reference to it
//   - Incremental cooperative resizing, with an optional blocking mode
//   - Custom hash and value comparison function support
//
// Usage recommendations:
//   - Direct declaration: var m Map[string, int]
//   - Pre-allocate capacity: NewMap(WithCapacity(1000))
//
// Notes:
//   - Map must not be copied after first use.
type Map[K comparable, V any] struct {
	_        noCopy
	table    unsafe.Pointer // *mapTable
	coll     *Collector
	keyHash  HashFunc
	valEqual EqualFunc
	seed     uintptr
	size     unsafeSlice[counterStripe]
	sizeMask int
	fe       unsafe.Pointer // *node[K, V], the per-map sealed-empty sentinel
	free     unsafe.Pointer // *node[K, V], free-list head
	freeLock uint32
	freeLen  int32
	initing  uint32
	growths  uint32
	purges   uint32
	minLen   int
	intKey   bool
	blocking bool
}

// NewMap creates a new Map instance. Direct initialization is also
// supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithKeyHasher, etc.)
func NewMap[K comparable, V any](
	options ...func(*MapConfig),
) *Map[K, V] {
	m := &Map[K, V]{}
	m.withOptions(options...)
	return m
}

// withOptions initializes the Map instance using variadic option
// parameters.
//
// Configuration priority (highest to lowest):
//   - Explicit With* functions (WithKeyHasher, WithValueEqual)
//   - Interface implementations (IHashFunc, IIntKey, IEqualFunc)
//   - Default built-in implementations (defaultHasher) - fallback
//
// Notes:
//   - This function is not thread-safe and should only be called before Map
//     is used
//   - If this function is not called, Map will use default configuration
func (m *Map[K, V]) withOptions(
	options ...func(*MapConfig),
) *Map[K, V] {
	var cfg MapConfig
	for _, o := range options {
		o(&cfg)
	}
	m.initFields(&cfg)
	if cfg.capacity > 0 {
		storePtr(&m.table, unsafe.Pointer(newMapTable(m.minLen)))
	}
	return m
}

func (m *Map[K, V]) initFields(cfg *MapConfig) {
	// parse interface
	if cfg.keyHash == nil {
		cfg.keyHash, cfg.intKey = parseKeyInterface[K]()
	}
	if cfg.valEqual == nil {
		cfg.valEqual = parseValueInterface[V]()
	}
	// perform initialization
	m.keyHash, m.valEqual, m.intKey = defaultHasher[K, V]()
	if cfg.keyHash != nil {
		m.keyHash = cfg.keyHash
		if cfg.intKey {
			m.intKey = true
		}
	}
	if cfg.valEqual != nil {
		m.valEqual = cfg.valEqual
	}

	m.seed = uintptr(rand.Uint64())
	m.minLen = calcTableLen(cfg.capacity)
	m.blocking = cfg.resizeMode == ResizeBlocking
	m.coll = cfg.coll
	if m.coll == nil {
		m.coll = NewCollector(0)
	}
	m.fe = unsafe.Pointer(&node[K, V]{meta: nodeFwd})
	sizeLen := calcSizeLen(runtime.GOMAXPROCS(0))
	m.size = makeUnsafeSlice(make([]counterStripe, sizeLen))
	m.sizeMask = sizeLen - 1
}

// slowInit may be called concurrently by multiple goroutines, so it
// requires synchronization with a "lock" mechanism. The release store of
// the table pointer publishes every staged field.
//
//go:noinline
func (m *Map[K, V]) slowInit() *mapTable {
	var spins int
	for {
		if t := (*mapTable)(loadPtr(&m.table)); t != nil {
			return t
		}
		if atomic.CompareAndSwapUint32(&m.initing, 0, 1) {
			t := (*mapTable)(loadPtr(&m.table))
			if t == nil {
				if m.coll == nil {
					var cfg MapConfig
					m.initFields(&cfg)
				}
				t = newMapTable(m.minLen)
				storePtr(&m.table, unsafe.Pointer(t))
			}
			atomic.StoreUint32(&m.initing, 0)
			return t
		}
		delay(&spins)
	}
}

// Load retrieves a value for the given key, compatible with `sync.Map`.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	if loadPtr(&m.table) == nil {
		return *new(V), false
	}
	s := m.coll.pin()
	// the root read must happen under the pin or a completed migration
	// could release the table mid-walk
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)
	if n := m.findNode(table, hash, &key); n != nil {
		value, ok = n.value, true
	}
	m.coll.unpin(s)
	return
}

// LoadOrStore retrieves an existing value or stores a new one if the key
// doesn't exist, compatible with `sync.Map`.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if n := m.findNode(table, hash, &key); n != nil {
			actual, loaded = n.value, true
			m.coll.unpin(s)
			return
		}
	}

	var nn *node[K, V]
	actual, loaded = m.computeNode(table, hash, &key,
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
	m.coll.unpin(s)
	return
}

// LoadOrStoreFn returns the existing value for the key if present.
// Otherwise, it computes the value using the provided function, stores it,
// and returns the computed value. The loaded result is true if the value
// was loaded, false if computed.
//
// newValueFn is invoked at most once per call, but the store it feeds can
// still lose the race to a concurrent writer, in which case that writer's
// value wins and the computed one is discarded.
func (m *Map[K, V]) LoadOrStoreFn(
	key K,
	newValueFn func() V,
) (actual V, loaded bool) {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	defer m.coll.unpin(s)
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if n := m.findNode(table, hash, &key); n != nil {
			return n.value, true
		}
	}

	var nn *node[K, V]
	return m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e != nil {
				return e, e.value, true
			}
			if nn == nil {
				nn = m.newNode(key, newValueFn())
			}
			return nn, nn.value, false
		},
	)
}

// LoadAndUpdate retrieves the value associated with the given key and
// updates it if the key exists.
//
// Returns:
//   - previous: The loaded value associated with the key (if it existed),
//     otherwise a zero-value of V.
//   - loaded: True if the key existed and the value was updated,
//     false otherwise.
func (m *Map[K, V]) LoadAndUpdate(key K, value V) (previous V, loaded bool) {
	if loadPtr(&m.table) == nil {
		return *new(V), false
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if m.findNode(table, hash, &key) == nil {
			m.coll.unpin(s)
			return *new(V), false
		}
	}

	var nn *node[K, V]
	previous, loaded = m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e == nil {
				return nil, *new(V), false
			}
			if nn == nil {
				nn = m.newNode(key, value)
			}
			return nn, e.value, true
		},
	)
	m.coll.unpin(s)
	return
}

// LoadAndDelete retrieves the value for a key and deletes it from the map,
// compatible with `sync.Map`.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	if loadPtr(&m.table) == nil {
		return *new(V), false
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if m.findNode(table, hash, &key) == nil {
			m.coll.unpin(s)
			return *new(V), false
		}
	}

	value, loaded = m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e == nil {
				return nil, *new(V), false
			}
			return nil, e.value, true
		},
	)
	m.coll.unpin(s)
	return
}

// Store inserts or updates a key-value pair, compatible with `sync.Map`.
func (m *Map[K, V]) Store(key K, value V) {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath && m.valEqual != nil {
		// skip the write entirely when the stored value already matches
		if n := m.findNode(table, hash, &key); n != nil &&
			m.valEqual(noescape(unsafe.Pointer(&n.value)),
				noescape(unsafe.Pointer(&value))) {
			m.coll.unpin(s)
			return
		}
	}

	var nn *node[K, V]
	m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if nn == nil {
				nn = m.newNode(key, value)
			}
			return nn, value, e != nil
		},
	)
	m.coll.unpin(s)
}

// Swap stores a key-value pair and returns the previous value if any,
// compatible with `sync.Map`.
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	var nn *node[K, V]
	previous, loaded = m.computeNode(table, hash, &key,
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
	m.coll.unpin(s)
	return
}

// Delete removes a key-value pair,
// compatible with `sync.Map`.
func (m *Map[K, V]) Delete(key K) {
	if loadPtr(&m.table) == nil {
		return
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if m.findNode(table, hash, &key) == nil {
			m.coll.unpin(s)
			return
		}
	}

	m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			return nil, *new(V), e != nil
		},
	)
	m.coll.unpin(s)
}

// CompareAndSwap atomically replaces an existing value with a new value
// if the existing value matches the expected value, compatible with
// `sync.Map`. It panics if the value type is not comparable and no
// WithValueEqual function was configured.
func (m *Map[K, V]) CompareAndSwap(key K, old V, new V) (swapped bool) {
	if loadPtr(&m.table) == nil {
		return false
	}
	if m.valEqual == nil {
		panic("pinmap: CompareAndSwap requires a comparable value type or WithValueEqual")
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if n := m.findNode(table, hash, &key); n == nil ||
			!m.valEqual(noescape(unsafe.Pointer(&n.value)),
				noescape(unsafe.Pointer(&old))) {
			m.coll.unpin(s)
			return false
		}
	}

	var nn *node[K, V]
	_, swapped = m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e != nil && m.valEqual(noescape(unsafe.Pointer(&e.value)),
				noescape(unsafe.Pointer(&old))) {
				if nn == nil {
					nn = m.newNode(key, new)
				}
				return nn, new, true
			}
			var zero V
			return e, zero, false
		},
	)
	m.coll.unpin(s)
	return
}

// CompareAndDelete atomically deletes an existing entry
// if its value matches the expected value, compatible with `sync.Map`.
// It panics if the value type is not comparable and no WithValueEqual
// function was configured.
func (m *Map[K, V]) CompareAndDelete(key K, old V) (deleted bool) {
	if loadPtr(&m.table) == nil {
		return false
	}
	if m.valEqual == nil {
		panic("pinmap: CompareAndDelete requires a comparable value type or WithValueEqual")
	}
	s := m.coll.pin()
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	if enableFastPath {
		if n := m.findNode(table, hash, &key); n == nil ||
			!m.valEqual(noescape(unsafe.Pointer(&n.value)),
				noescape(unsafe.Pointer(&old))) {
			m.coll.unpin(s)
			return false
		}
	}

	_, deleted = m.computeNode(table, hash, &key,
		func(e *node[K, V]) (*node[K, V], V, bool) {
			if e != nil && m.valEqual(noescape(unsafe.Pointer(&e.value)),
				noescape(unsafe.Pointer(&old))) {
				return nil, *new(V), true
			}
			return e, *new(V), false
		},
	)
	m.coll.unpin(s)
	return
}

// Compute performs a compute-style, atomic update for the given key.
//
// Callback signature:
//
//	fn := func(e *Entry[K, V]) {
//		// inspect e.Loaded()/e.Value(), then e.Update(v) or e.Delete()
//	}
//
// fn is called whether or not the key exists and can run more than once
// when writers contend for the same slot, so it must be side-effect free.
// Avoid calling other map methods inside fn.
//
// Returns:
//   - actual: The value left in the map, or the zero value after a delete
//     or when an absent key stays absent.
//   - loaded: True if the key existed before the callback, false otherwise.
func (m *Map[K, V]) Compute(
	key K,
	fn func(e *Entry[K, V]),
) (actual V, loaded bool) {
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	defer m.coll.unpin(s)
	table := (*mapTable)(loadPtr(&m.table))
	hash := m.keyHash(noescape(unsafe.Pointer(&key)), m.seed)

	return m.computeNode(table, hash, &key,
		func(n *node[K, V]) (*node[K, V], V, bool) {
			e := Entry[K, V]{key: key}
			if n != nil {
				e.value = n.value
				e.loaded = true
			}
			fn(&e)
			switch e.op {
			case updateOp:
				return m.newNode(key, e.value), e.value, n != nil
			case deleteOp:
				return nil, *new(V), n != nil
			default:
				if n != nil {
					return n, n.value, true
				}
				return nil, *new(V), false
			}
		},
	)
}

// Range compatible with `sync.Map`.
//
// Iteration is weakly consistent: entries present for the whole call are
// yielded exactly once, entries mutated while it runs may or may not be
// seen, and no key is ever yielded twice. The guard taken for the walk
// keeps every yielded pair valid until yield returns.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	if loadPtr(&m.table) == nil {
		return
	}
	g := m.coll.Pin()
	defer g.Unpin()
	t := (*mapTable)(loadPtr(&m.table))
	m.rangeNodes(t, func(n *node[K, V]) bool {
		return yield(n.key, n.value)
	})
}

// All returns an iterator function for use with range-over-func.
func (m *Map[K, V]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Keys returns an iterator over the keys, for use with range-over-func.
func (m *Map[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values returns an iterator over the values, for use with range-over-func.
func (m *Map[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// Size returns the number of key-value pairs in the map. The count is
// summed from a fixed set of stripes, so the cost does not grow with the
// number of entries.
func (m *Map[K, V]) Size() int {
	if loadPtr(&m.table) == nil {
		return 0
	}
	return m.sumSize()
}

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool {
	return m.Size() == 0
}

// Clear removes all entries, compatible with `sync.Map`.
//
// The table is rebuilt at its minimum size. Removed entries go through the
// collector like ordinary deletes, and operations arriving mid-rebuild
// treat it like any other migration.
func (m *Map[K, V]) Clear() {
	if loadPtr(&m.table) == nil {
		return
	}
	s := m.coll.pin()
	for {
		t := (*mapTable)(loadPtr(&m.table))
		if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil {
			m.waitRebuild(rs)
			continue
		}
		rs := &resizeState{hint: rebuildClearHint, table: t}
		if !atomic.CompareAndSwapPointer(&t.resize, nil, unsafe.Pointer(rs)) {
			continue
		}
		storePtr(&rs.next, unsafe.Pointer(newMapTable(m.minLen)))
		m.helpMigrate(rs, true)
		break
	}
	m.coll.unpin(s)
}

// Retain keeps only the entries for which fn returns true and removes the
// rest in a single pass over the table.
//
// The pass claims the table the way a rebuild does, so it excludes
// migrations but not other operations: reads and writes on distinct keys
// proceed, and a write racing the pass on one slot is settled by CAS. fn
// must not call back into the map. Entries still in flight from a
// migration that completed just before the claim can be missed, the same
// way Range can miss them.
func (m *Map[K, V]) Retain(fn func(key K, value V) bool) {
	if loadPtr(&m.table) == nil {
		return
	}
	s := m.coll.pin()
	for {
		t := (*mapTable)(loadPtr(&m.table))
		if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil {
			m.waitRebuild(rs)
			continue
		}
		rs := &resizeState{hint: rebuildSweepHint, table: t}
		if !atomic.CompareAndSwapPointer(&t.resize, nil, unsafe.Pointer(rs)) {
			continue
		}
		removed := 0
		for i := 0; i <= t.mask; i++ {
			slot := t.slots.At(i)
			for {
				p := loadPtr(slot)
				if p == nil {
					break
				}
				n := (*node[K, V])(p)
				if loadInt(&n.meta)&(nodeTomb|nodeFwd) != 0 {
					break
				}
				if fn(n.key, n.value) {
					break
				}
				ts := &node[K, V]{meta: nodeTomb, key: n.key}
				if atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(ts)) {
					removed++
					m.retireNode(n)
					break
				}
				// the slot changed underneath; re-evaluate its new content
			}
		}
		if removed != 0 {
			m.addSize(0, -removed)
		}
		// release the claim before waking the queued waiters
		storePtr(&t.resize, nil)
		rs.done.open()
		break
	}
	m.coll.unpin(s)
}

// waitRebuild rides out a rebuild observed on the root table: helping an
// incremental migration to completion, or waiting on its latch when there
// is nothing to help with.
func (m *Map[K, V]) waitRebuild(rs *resizeState) {
	if !m.blocking && rs.hint != rebuildSweepHint &&
		loadPtr(&rs.next) != nil {
		m.helpMigrate(rs, true)
		return
	}
	rs.done.wait()
}

// Grow increases the map's capacity to accommodate sizeAdd additional
// entries, rehashing ahead of need. This pre-allocation avoids repeated
// migrations while a batch of entries is inserted.
//
// Notes:
//   - If the current remaining capacity already covers sizeAdd, no growth
//     will be triggered.
func (m *Map[K, V]) Grow(sizeAdd int) {
	if sizeAdd <= 0 {
		return
	}
	if loadPtr(&m.table) == nil {
		m.slowInit()
	}
	s := m.coll.pin()
	for {
		t := (*mapTable)(loadPtr(&m.table))
		if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil {
			m.waitRebuild(rs)
			continue
		}
		newLen := calcTableLen(m.sumSize() + sizeAdd)
		if newLen <= t.mask+1 {
			break
		}
		rs := &resizeState{hint: rebuildGrowHint, table: t}
		if !atomic.CompareAndSwapPointer(&t.resize, nil, unsafe.Pointer(rs)) {
			continue
		}
		atomic.AddUint32(&m.growths, 1)
		storePtr(&rs.next, unsafe.Pointer(newMapTable(newLen)))
		m.helpMigrate(rs, true)
		break
	}
	m.coll.unpin(s)
}

// ToMap collect up to limit entries into a map[K]V, limit < 0 is no limit
func (m *Map[K, V]) ToMap(limit ...int) map[K]V {
	l := maxInt
	if len(limit) != 0 {
		l = limit[0]
		if l == 0 {
			return map[K]V{}
		}
		if l < 0 {
			l = maxInt
		}
	}

	a := make(map[K]V, min(m.Size(), l))
	m.Range(func(key K, value V) bool {
		a[key] = value
		l--
		return l > 0
	})
	return a
}

// CloneTo copies all key-value pairs from this map to the destination map.
// The destination map is cleared before copying.
//
// Parameters:
//   - clone: The destination map to copy into. Must not be nil.
//
// Notes:
//   - This operation is not atomic with respect to concurrent
//     modifications.
//   - A destination that was never used inherits the source configuration.
func (m *Map[K, V]) CloneTo(clone *Map[K, V]) {
	clone.Clear()
	if loadPtr(&m.table) == nil {
		return
	}

	if clone.coll == nil {
		cfg := MapConfig{
			keyHash:  m.keyHash,
			valEqual: m.valEqual,
			intKey:   m.intKey,
		}
		if m.blocking {
			cfg.resizeMode = ResizeBlocking
		}
		clone.initFields(&cfg)
		clone.seed = m.seed
		clone.minLen = m.minLen
	}
	if size := m.Size(); size != 0 {
		clone.Grow(size)
	}

	g := m.coll.Pin()
	defer g.Unpin()
	cg := clone.coll.Pin()
	defer cg.Unpin()

	t := (*mapTable)(loadPtr(&m.table))
	m.rangeNodes(t, func(n *node[K, V]) bool {
		ct := (*mapTable)(loadPtr(&clone.table))
		if ct == nil {
			ct = clone.slowInit()
		}
		hash := clone.keyHash(noescape(unsafe.Pointer(&n.key)), clone.seed)
		clone.computeNode(ct, hash, &n.key,
			func(*node[K, V]) (*node[K, V], V, bool) {
				return clone.newNode(n.key, n.value), n.value, false
			},
		)
		return true
	})
}

// Clone returns a new map with the same configuration and entries.
func (m *Map[K, V]) Clone() *Map[K, V] {
	clone := &Map[K, V]{}
	m.CloneTo(clone)
	return clone
}

// Equal reports whether both maps hold exactly the same key-value pairs.
// Values are compared with the map's equality function; it panics if the
// value type is not comparable and no WithValueEqual function was
// configured. The answer is weakly consistent under concurrent mutation.
func (m *Map[K, V]) Equal(other *Map[K, V]) bool {
	if m == other {
		return true
	}
	if other == nil || m.Size() != other.Size() {
		return false
	}
	if m.IsEmpty() {
		return true
	}
	if m.valEqual == nil {
		panic("pinmap: Equal requires a comparable value type or WithValueEqual")
	}
	eq := true
	m.Range(func(key K, value V) bool {
		v2, ok := other.Load(key)
		if !ok || !m.valEqual(noescape(unsafe.Pointer(&v2)),
			noescape(unsafe.Pointer(&value))) {
			eq = false
			return false
		}
		return true
	})
	return eq
}

// String implements fmt.Stringer, rendering like a built-in map.
func (m *Map[K, V]) String() string {
	var b strings.Builder
	b.WriteString("map[")
	first := true
	m.Range(func(key K, value V) bool {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		_, _ = fmt.Fprintf(&b, "%v:%v", key, value)
		return true
	})
	b.WriteByte(']')
	return b.String()
}

// Stats returns a point-in-time summary of the map internals: slot counts
// per table generation and rebuild totals. It is meant for tests and
// diagnostics; the numbers are approximate under concurrent use.
func (m *Map[K, V]) Stats() MapStats {
	stats := MapStats{
		Size:    m.Size(),
		Growths: atomic.LoadUint32(&m.growths),
		Purges:  atomic.LoadUint32(&m.purges),
	}
	if loadPtr(&m.table) == nil {
		return stats
	}
	g := m.coll.Pin()
	defer g.Unpin()
	for t := (*mapTable)(loadPtr(&m.table)); t != nil; t = t.nextTable() {
		if stats.RootSlots == 0 {
			stats.RootSlots = t.mask + 1
			stats.Used = int(loadInt(&t.used))
		}
		stats.Generations++
		for i := 0; i <= t.mask; i++ {
			p := loadPtr(t.slots.At(i))
			if p == nil {
				continue
			}
			n := (*node[K, V])(p)
			switch meta := loadInt(&n.meta); {
			case meta&nodeFwd != 0:
				stats.Frozen++
			case meta&nodeTomb != 0:
				stats.Tombstones++
			default:
				stats.Live++
			}
		}
	}
	return stats
}

// MapStats holds the snapshot reported by Map.Stats.
type MapStats struct {
	Size        int
	RootSlots   int    // slot count of the root table
	Used        int    // claimed slots in the root table
	Generations int    // tables in the migration chain, 1 when quiescent
	Live        int    // live entries across all generations
	Tombstones  int    // tombstoned slots across all generations
	Frozen      int    // migration-frozen slots across all generations
	Growths     uint32 // doubling rebuilds begun so far
	Purges      uint32 // same-size rebuilds that squeezed out tombstones
}

// Collect builds a map from an iterator sequence of key-value pairs.
//
// Usage:
//
//	m := pinmap.Collect(src.All(), pinmap.WithCapacity(1024))
func Collect[K comparable, V any](
	seq func(yield func(K, V) bool),
	options ...func(*MapConfig),
) *Map[K, V] {
	m := NewMap[K, V](options...)
	seq(func(key K, value V) bool {
		m.Store(key, value)
		return true
	})
	return m
}

// FromMap builds a map holding all entries of src.
func FromMap[K comparable, V any](
	src map[K]V,
	options ...func(*MapConfig),
) *Map[K, V] {
	m := NewMap[K, V](options...)
	m.ExtendMap(src)
	return m
}

// ExtendMap stores every entry of src, overwriting keys already present.
// When the map is empty the table is grown for the whole batch up front;
// otherwise it is grown for half of it, on the expectation that part of
// the batch overwrites existing keys.
func (m *Map[K, V]) ExtendMap(src map[K]V) {
	n := len(src)
	if n == 0 {
		return
	}
	if m.IsEmpty() {
		m.Grow(n)
	} else {
		m.Grow((n + 1) / 2)
	}
	for key, value := range src {
		m.Store(key, value)
	}
}
