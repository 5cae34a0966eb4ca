package pinmap

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Node kinds, stored in node.meta. A zero meta is a live entry.
const (
	// nodeTomb marks a record whose key was removed; the key stays bound to
	// the slot so rehashed lookups can stop early
	nodeTomb uintptr = 1 << 0
	// nodeFwd marks a migration wrapper; fwd holds the frozen record, or nil
	// for a sealed empty slot
	nodeFwd uintptr = 1 << 1
	// nodeLanded is set on a wrapper once its frozen entry has been
	// reinserted into the successor table
	nodeLanded uintptr = 1 << 2
	// nodeShared is set on an entry a wrapper references; such records stay
	// off the free list because the reference outlives their retirement
	nodeShared uintptr = 1 << 3
)

// node is one slot record. Entry contents never change after publication;
// updates replace the whole node, so a reader holding one sees a consistent
// key/value pair for as long as its guard lasts.
//
// Kinds:
//   - live entry: meta&(nodeTomb|nodeFwd) == 0, key and value set
//   - tombstone: meta&nodeTomb != 0, key set, value zero
//   - forward wrapper: meta&nodeFwd != 0, fwd holds the live entry or
//     tombstone the slot contained when its table began migrating
//   - sealed empty: meta&nodeFwd != 0 with fwd == nil; an empty slot claimed
//     by a migration so that late arrivals divert to the successor
//
// fwd doubles as the free-list link while a recycled entry awaits reuse.
type node[K comparable, V any] struct {
	meta  uintptr
	fwd   unsafe.Pointer // *node[K, V]
	key   K
	value V
}

// mapTable is one slot-array generation. Tables never shrink; they are
// replaced wholesale by a migration and retired through the collector.
type mapTable struct {
	used     uintptr // claimed slots, live or tombstoned; accessed atomically
	slots    unsafeSlice[unsafe.Pointer]
	mask     int
	probeCap int // most slots one probe sequence may visit
	growAt   int // used threshold that triggers a rebuild
	chunks   int32
	chunkSz  int
	resize   unsafe.Pointer // *resizeState, CAS-claimed by at most one rebuild
}

// resizeState coordinates one rebuild of a table: a migration into next, or
// an exclusive sweep (next stays nil). It remains reachable from the retired
// table so that late walkers can still find the successor.
type resizeState struct {
	hint      tableRebuildHint
	table     *mapTable
	next      unsafe.Pointer // *mapTable, set by the winner once allocated
	process   int32          // chunk claim cursor
	completed int32
	done      latch
}

func newMapTable(tableLen int) *mapTable {
	if tableLen <= 0 || tableLen > maxInt/pointerSize {
		panic("pinmap: table size overflow")
	}
	chunkSz := min(migrateChunkSz, tableLen)
	return &mapTable{
		slots:    makeUnsafeSlice(make([]unsafe.Pointer, tableLen)),
		mask:     tableLen - 1,
		probeCap: probeLimit(tableLen),
		growAt:   tableLen - tableLen>>2,
		chunks:   int32((tableLen + chunkSz - 1) / chunkSz),
		chunkSz:  chunkSz,
	}
}

// nextTable returns the successor once a migration on t has announced it,
// spinning out the short window between the claim and the allocation. It
// returns nil when no migration is underway; sweeps have no successor.
func (t *mapTable) nextTable() *mapTable {
	rs := (*resizeState)(loadPtr(&t.resize))
	if rs == nil || rs.hint == rebuildSweepHint {
		return nil
	}
	var spins int
	for {
		if next := (*mapTable)(loadPtr(&rs.next)); next != nil {
			return next
		}
		delay(&spins)
	}
}

// release severs a retired generation's outgoing references so the wrappers
// and frozen records it still points at become collectible.
func (t *mapTable) release() {
	for i := 0; i <= t.mask; i++ {
		storePtr(t.slots.At(i), nil)
	}
}

//go:nosplit
func (m *Map[K, V]) addSize(idx int, delta int) {
	atomic.AddUintptr(&m.size.At(idx&m.sizeMask).c, uintptr(delta))
}

func (m *Map[K, V]) sumSize() int {
	var sum uintptr
	for i := 0; i <= m.sizeMask; i++ {
		sum += loadInt(&m.size.At(i).c)
	}
	if int(sum) < 0 {
		// transient skew while a concurrent remove is mid-flight
		return 0
	}
	return int(sum)
}

func (m *Map[K, V]) noteUsed(t *mapTable) {
	if int(atomic.AddUintptr(&t.used, 1)) >= t.growAt &&
		loadPtr(&t.resize) == nil {
		m.triggerResize(t)
	}
}

// findNode walks key's probe sequence in t and the successor chain and
// returns its live entry, or nil when the key has no current binding.
// Callers must hold a pin on m's collector.
//
// Within one generation the walk stops at the first slot relevant to the
// key: its live entry, its tombstone, or a virgin empty. Tombstones of other
// keys are passed over; they are reused in place only by their own key and
// purged by the next migration. A slot frozen by a migration diverts the
// walk to the successor, after making sure a frozen live entry for this key
// has landed there first.
func (m *Map[K, V]) findNode(t *mapTable, hash uintptr, key *K) *node[K, V] {
	idx0 := h1(hash, m.intKey)
outer:
	for t != nil {
		if m.blocking {
			if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil &&
				rs.hint != rebuildSweepHint {
				rs.done.wait()
				t = (*mapTable)(loadPtr(&m.table))
				continue outer
			}
		}
		idx := int(idx0) & t.mask
		for probes, step := 1, 1; ; probes, step = probes+1, step+1 {
			p := loadPtr(t.slots.At(idx))
			if p == nil {
				return nil
			}
			n := (*node[K, V])(p)
			if meta := loadInt(&n.meta); meta&nodeFwd != 0 {
				f := (*node[K, V])(n.fwd)
				if f == nil || f.key == *key {
					if m.blocking {
						continue outer
					}
					if f != nil && loadInt(&f.meta)&nodeTomb == 0 {
						m.ensureLanded(n, t)
					}
					t = t.nextTable()
					continue outer
				}
			} else if n.key == *key {
				if meta&nodeTomb != 0 {
					// a tombstone binds its slot to the key; a live entry
					// for the key can only precede it, never follow
					return nil
				}
				return n
			}
			if probes >= t.probeCap {
				if next := t.nextTable(); next != nil {
					if m.blocking {
						continue outer
					}
					t = next
					continue outer
				}
				return nil
			}
			idx = (idx + step) & t.mask
		}
	}
	return nil
}

// computeNode runs one atomic read-modify-write cycle at key's slot. fn sees
// the current live entry (nil when the key is absent) and returns its
// replacement: the same node keeps the binding, nil removes it, any other
// node inserts or updates. fn can run several times under contention; only
// its final invocation commits. Callers must hold a pin on m's collector.
func (m *Map[K, V]) computeNode(
	t *mapTable,
	hash uintptr,
	key *K,
	fn func(e *node[K, V]) (*node[K, V], V, bool),
) (V, bool) {
	idx0 := h1(hash, m.intKey)
outer:
	for {
		if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil &&
			rs.hint != rebuildSweepHint {
			if m.blocking {
				rs.done.wait()
				t = (*mapTable)(loadPtr(&m.table))
				continue outer
			}
			if loadPtr(&rs.next) != nil {
				m.helpMigrate(rs, false)
			}
		}
		idx := int(idx0) & t.mask
		for probes, step := 1, 1; ; probes, step = probes+1, step+1 {
			slot := t.slots.At(idx)
		dispatch:
			p := loadPtr(slot)
			if p == nil {
				n, v, ok := fn(nil)
				if n == nil {
					return v, ok
				}
				if !atomic.CompareAndSwapPointer(slot, nil, unsafe.Pointer(n)) {
					goto dispatch
				}
				m.addSize(idx, 1)
				m.noteUsed(t)
				return v, ok
			}
			n := (*node[K, V])(p)
			if meta := loadInt(&n.meta); meta&nodeFwd != 0 {
				f := (*node[K, V])(n.fwd)
				if f == nil || f.key == *key {
					if m.blocking {
						continue outer
					}
					if f != nil && loadInt(&f.meta)&nodeTomb == 0 {
						m.ensureLanded(n, t)
					}
					t = t.nextTable()
					continue outer
				}
			} else if n.key == *key {
				if meta&nodeTomb != 0 {
					// the key's own tombstone is reusable in place
					nn, v, ok := fn(nil)
					if nn == nil {
						return v, ok
					}
					if !atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(nn)) {
						goto dispatch
					}
					m.addSize(idx, 1)
					return v, ok
				}
				nn, v, ok := fn(n)
				if nn == n {
					return v, ok
				}
				if nn == nil {
					ts := &node[K, V]{meta: nodeTomb, key: *key}
					if !atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(ts)) {
						goto dispatch
					}
					m.addSize(idx, -1)
					m.retireNode(n)
					return v, ok
				}
				if !atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(nn)) {
					goto dispatch
				}
				m.retireNode(n)
				return v, ok
			}
			if probes >= t.probeCap {
				if next := t.nextTable(); next != nil {
					if m.blocking {
						continue outer
					}
					t = next
					continue outer
				}
				if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil {
					// an exclusive sweep holds the table; rebuilds queue up
					// behind it
					rs.done.wait()
					t = (*mapTable)(loadPtr(&m.table))
					continue outer
				}
				if n, v, ok := fn(nil); n == nil {
					return v, ok
				}
				m.triggerResize(t)
				continue outer
			}
			idx = (idx + step) & t.mask
		}
	}
}

// ensureLanded guarantees the live entry frozen behind wrapper w has been
// reinserted into t's successor. Readers and writers call it for their own
// key's wrapper before consulting the successor, which keeps single-key
// operations linearizable across an incremental migration.
func (m *Map[K, V]) ensureLanded(w *node[K, V], t *mapTable) {
	if loadInt(&w.meta)&nodeLanded != 0 {
		return
	}
	m.landNode((*node[K, V])(w.fwd), t.nextTable())
	atomic.OrUintptr(&w.meta, nodeLanded)
}

// landNode publishes frozen entry f into table t unless any binding for its
// key already exists there; a newer write or another lander then supersedes
// this copy. The same record moves between generations, so either table
// resolves the key to the same node.
func (m *Map[K, V]) landNode(f *node[K, V], t *mapTable) {
	hash := m.keyHash(noescape(unsafe.Pointer(&f.key)), m.seed)
	idx0 := h1(hash, m.intKey)
outer:
	for {
		idx := int(idx0) & t.mask
		for probes, step := 1, 1; ; probes, step = probes+1, step+1 {
			slot := t.slots.At(idx)
		dispatch:
			p := loadPtr(slot)
			if p == nil {
				if !atomic.CompareAndSwapPointer(slot, nil, unsafe.Pointer(f)) {
					goto dispatch
				}
				m.noteUsed(t)
				return
			}
			n := (*node[K, V])(p)
			if meta := loadInt(&n.meta); meta&nodeFwd != 0 {
				f2 := (*node[K, V])(n.fwd)
				if f2 == nil {
					// t is migrating too; the key's fate continues in its
					// successor
					t = t.nextTable()
					continue outer
				}
				if f2.key == f.key {
					return
				}
			} else if n.key == f.key {
				return
			}
			if probes >= t.probeCap {
				next := t.nextTable()
				if next == nil {
					if rs := (*resizeState)(loadPtr(&t.resize)); rs != nil {
						rs.done.wait()
						continue outer
					}
					m.triggerResize(t)
					next = t.nextTable()
					if next == nil {
						continue outer
					}
				}
				t = next
				continue outer
			}
			idx = (idx + step) & t.mask
		}
	}
}

// triggerResize begins a rebuild of t when none is underway: a doubling
// grow, or a same-size rebuild when buried tombstones account for at least
// half of the claimed slots. In blocking mode the winner migrates everything
// before returning. Otherwise small tables migrate on the triggering
// goroutine and large ones hand the drive to a dedicated one, with
// concurrent writers helping chunk by chunk either way.
func (m *Map[K, V]) triggerResize(t *mapTable) {
	if loadPtr(&t.resize) != nil {
		return
	}
	tableLen := t.mask + 1
	hint := rebuildGrowHint
	newLen := tableLen << 1
	if size := m.sumSize(); size*2 <= int(loadInt(&t.used)) {
		hint = rebuildPurgeHint
		newLen = tableLen
	}
	if newLen <= 0 || newLen > maxInt/pointerSize {
		panic("pinmap: table size overflow")
	}
	rs := &resizeState{hint: hint, table: t}
	if !atomic.CompareAndSwapPointer(&t.resize, nil, unsafe.Pointer(rs)) {
		return
	}
	if hint == rebuildGrowHint {
		atomic.AddUint32(&m.growths, 1)
	} else {
		atomic.AddUint32(&m.purges, 1)
	}
	storePtr(&rs.next, unsafe.Pointer(newMapTable(newLen)))
	if m.blocking {
		m.helpMigrate(rs, true)
		return
	}
	if runtime.GOMAXPROCS(0) > 1 && tableLen*pointerSize >= asyncThreshold {
		go func() {
			g := m.coll.Pin()
			m.helpMigrate(rs, true)
			g.Unpin()
		}()
		return
	}
	m.helpMigrate(rs, true)
}

// helpMigrate claims chunks of rs until the migration is done when all is
// set, or at most one chunk otherwise. The claimer of the final chunk
// publishes the successor as the map root, opens the done latch and retires
// the drained table. Callers must hold a pin on m's collector.
func (m *Map[K, V]) helpMigrate(rs *resizeState, all bool) {
	t := rs.table
	next := (*mapTable)(loadPtr(&rs.next))
	if next == nil {
		if !all {
			return
		}
		var spins int
		for next == nil {
			delay(&spins)
			next = (*mapTable)(loadPtr(&rs.next))
		}
	}
	tableLen := t.mask + 1
	drop := rs.hint == rebuildClearHint
	for {
		process := atomic.AddInt32(&rs.process, 1)
		if process > t.chunks {
			if all {
				rs.done.wait()
			}
			return
		}
		start := int(process-1) * t.chunkSz
		end := min(start+t.chunkSz, tableLen)
		m.migrateRange(t, start, end, next, drop)
		if atomic.AddInt32(&rs.completed, 1) == t.chunks {
			storePtr(&m.table, unsafe.Pointer(next))
			rs.done.open()
			src := t
			m.coll.Retire(func() { src.release() })
			return
		}
		if !all {
			return
		}
	}
}

// migrateRange freezes the slots in [start, end) of t. Live entries land in
// next, or are dropped and retired when drop is set. Tombstones are sealed
// without carrying them over, which is the only way they leave a table.
func (m *Map[K, V]) migrateRange(t *mapTable, start, end int, next *mapTable, drop bool) {
	fe := (*node[K, V])(m.fe)
	removed := 0
	for i := start; i < end; i++ {
		slot := t.slots.At(i)
		for {
			p := loadPtr(slot)
			if p == nil {
				if atomic.CompareAndSwapPointer(slot, nil, unsafe.Pointer(fe)) {
					break
				}
				continue
			}
			n := (*node[K, V])(p)
			meta := loadInt(&n.meta)
			if meta&nodeFwd != 0 {
				// chunks are claimed exclusively, so this was frozen by a
				// prior pass over the same range
				if f := (*node[K, V])(n.fwd); f != nil &&
					loadInt(&f.meta)&nodeTomb == 0 {
					m.ensureLanded(n, t)
				}
				break
			}
			if meta&nodeTomb != 0 {
				w := &node[K, V]{meta: nodeFwd | nodeLanded, fwd: p}
				if atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(w)) {
					break
				}
				continue
			}
			// live entry: the wrapper reference outlives any retirement, so
			// flag the record pool-exempt before freezing
			atomic.OrUintptr(&n.meta, nodeShared)
			if drop {
				w := &node[K, V]{meta: nodeFwd | nodeLanded, fwd: p}
				if atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(w)) {
					removed++
					m.retireNode(n)
					break
				}
				continue
			}
			w := &node[K, V]{meta: nodeFwd, fwd: p}
			if atomic.CompareAndSwapPointer(slot, p, unsafe.Pointer(w)) {
				m.landNode(n, next)
				atomic.OrUintptr(&w.meta, nodeLanded)
				break
			}
		}
	}
	if removed != 0 {
		m.addSize(start, -removed)
	}
}

// rangeNodes yields live entries with weak consistency: every key bound for
// the whole walk is yielded exactly once; keys mutated concurrently may or
// may not appear. Callers must hold a pin on m's collector.
//
// Frozen entries are yielded from the generation that froze them. A later
// generation holds a key only after every earlier home of that key was
// sealed, so checking the earlier generations tells whether a record seen
// further down the chain was already covered.
func (m *Map[K, V]) rangeNodes(t *mapTable, yield func(n *node[K, V]) bool) {
	var tabs []*mapTable
	for ; t != nil; t = t.nextTable() {
		tabs = append(tabs, t)
		prior := tabs[:len(tabs)-1]
		for i := 0; i <= t.mask; i++ {
			p := loadPtr(t.slots.At(i))
			if p == nil {
				continue
			}
			n := (*node[K, V])(p)
			meta := loadInt(&n.meta)
			if meta&nodeFwd != 0 {
				f := (*node[K, V])(n.fwd)
				if f == nil || loadInt(&f.meta)&nodeTomb != 0 {
					continue
				}
				n = f
			} else if meta&nodeTomb != 0 {
				continue
			}
			if len(prior) != 0 && !m.firstBoundHere(prior, &n.key) {
				continue
			}
			if !yield(n) {
				return
			}
		}
	}
}

// firstBoundHere reports whether key never had a binding in any of the
// given earlier generations.
func (m *Map[K, V]) firstBoundHere(prior []*mapTable, key *K) bool {
	hash := m.keyHash(noescape(unsafe.Pointer(key)), m.seed)
	idx0 := h1(hash, m.intKey)
	for _, t := range prior {
		idx := int(idx0) & t.mask
		for probes, step := 1, 1; ; probes, step = probes+1, step+1 {
			p := loadPtr(t.slots.At(idx))
			if p == nil {
				break
			}
			n := (*node[K, V])(p)
			if meta := loadInt(&n.meta); meta&nodeFwd != 0 {
				f := (*node[K, V])(n.fwd)
				if f == nil {
					break
				}
				if f.key == *key {
					return false
				}
			} else if n.key == *key {
				return false
			}
			if probes >= t.probeCap {
				break
			}
			idx = (idx + step) & t.mask
		}
	}
	return true
}

// newNode returns a recycled record when one is available, else a fresh
// allocation. Only records certified quiescent by the collector enter the
// free list, so reuse cannot race a guarded reader.
func (m *Map[K, V]) newNode(key K, value V) *node[K, V] {
	if loadPtr(&m.free) != nil &&
		atomic.CompareAndSwapUint32(&m.freeLock, 0, 1) {
		// the lock serializes poppers; pushers stay lock-free
		n := (*node[K, V])(loadPtr(&m.free))
		for n != nil {
			if atomic.CompareAndSwapPointer(&m.free, unsafe.Pointer(n), loadPtr(&n.fwd)) {
				atomic.AddInt32(&m.freeLen, -1)
				atomic.StoreUint32(&m.freeLock, 0)
				n.meta = 0
				n.fwd = nil
				n.key = key
				n.value = value
				return n
			}
			n = (*node[K, V])(loadPtr(&m.free))
		}
		atomic.StoreUint32(&m.freeLock, 0)
	}
	return &node[K, V]{key: key, value: value}
}

// retireNode hands a replaced record to the collector; after the grace
// period it may rejoin the free list.
func (m *Map[K, V]) retireNode(n *node[K, V]) {
	m.coll.Retire(func() { m.recycleNode(n) })
}

func (m *Map[K, V]) recycleNode(n *node[K, V]) {
	if loadInt(&n.meta)&nodeShared != 0 {
		// a retired generation's wrapper still references it; GC owns it
		return
	}
	if atomic.LoadInt32(&m.freeLen) >= freeListCap {
		return
	}
	var zk K
	var zv V
	n.key = zk
	n.value = zv
	for {
		head := loadPtr(&m.free)
		storePtr(&n.fwd, head)
		if atomic.CompareAndSwapPointer(&m.free, head, unsafe.Pointer(n)) {
			atomic.AddInt32(&m.freeLen, 1)
			return
		}
	}
}
