package pinmap

import (
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/pinmap/internal/opt"
)

const (
	// collectorPins: fixed pin slots per collector; bounds the number of
	// simultaneously held guards. Must be a power of 2.
	collectorPins = 128
	// collectorBatch: default retirements buffered before a reclaim pass
	collectorBatch = 64
)

// pinSlot publishes one guard's pinned epoch. A zero epoch marks the slot
// free; epochs start at 1 and only grow.
type pinSlot struct {
	_ [0]atomic.Uint64
	_ [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		epoch uint64
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_ * opt.PaddingMult_]byte
	epoch uint64 // accessed atomically
}

// retiredRecord is one deferred drop on the collector's lock-free list.
type retiredRecord struct {
	epoch uint64
	drop  func()
	next  unsafe.Pointer // *retiredRecord
}

// Collector defers reclamation of records that were unlinked from a shared
// structure while unsynchronized readers may still hold references to them.
// Readers pin the current epoch before walking shared memory; a retired
// record is dropped only once no pin predating its retirement remains.
//
// Each Map owns a private Collector by default. One Collector can be shared
// across maps via WithCollector, trading isolation for fewer reclaim passes.
type Collector struct {
	_       [0]atomic.Uint64
	epoch   uint64 // global epoch, starts at 1; 0 only before first use
	pending int64  // retirements currently buffered
	retired unsafe.Pointer // *retiredRecord, lock-free push
	batch   int64
	reclaiming uint32 // single-flight bit for reclaim passes
	pinSeq     uintptr
	pins       [collectorPins]pinSlot
}

// NewCollector creates a collector that starts a reclaim pass after batch
// buffered retirements. A non-positive batch selects the default.
func NewCollector(batch int) *Collector {
	if batch <= 0 {
		batch = collectorBatch
	}
	return &Collector{epoch: 1, batch: int64(batch)}
}

// Guard holds one pinned epoch. Any reference read from a guarded structure
// remains valid until Unpin. A Guard must not be copied and is not safe for
// concurrent use.
type Guard struct {
	c    *Collector
	slot *pinSlot
}

// Pin blocks reclamation of records retired from now on until the returned
// guard is unpinned. Pins are cheap but not free; prefer one guard around a
// batch of reads over one per read.
//
// At most collectorPins guards can be held at once per collector; Pin spins
// while all slots are taken.
func (c *Collector) Pin() Guard {
	return Guard{c: c, slot: c.pin()}
}

// Unpin releases the guard. References obtained under it must not be used
// afterwards. Unpin never runs retirement callbacks itself; those run on a
// later reclaim pass.
func (g *Guard) Unpin() {
	if s := g.slot; s != nil {
		g.slot = nil
		g.c.unpin(s)
	}
}

func (c *Collector) currentEpoch() uint64 {
	e := atomic.LoadUint64(&c.epoch)
	if e == 0 {
		// zero-value collectors begin at 1; 0 marks free pin slots
		atomic.CompareAndSwapUint64(&c.epoch, 0, 1)
		e = atomic.LoadUint64(&c.epoch)
	}
	return e
}

// pin claims a free slot and publishes the current epoch into it. The
// publish is revalidated against the global epoch so a concurrent reclaim
// pass either sees the pin or forces a republish past the batch it frees.
func (c *Collector) pin() *pinSlot {
	s := c.claimSlot()
	for {
		e := c.currentEpoch()
		atomic.StoreUint64(&s.epoch, e)
		if atomic.LoadUint64(&c.epoch) == e {
			return s
		}
	}
}

func (c *Collector) unpin(s *pinSlot) {
	atomic.StoreUint64(&s.epoch, 0)
}

func (c *Collector) claimSlot() *pinSlot {
	i := int(atomic.AddUintptr(&c.pinSeq, 1))
	var spins int
	for {
		for j := 0; j < collectorPins; j++ {
			s := &c.pins[(i+j)&(collectorPins-1)]
			if atomic.LoadUint64(&s.epoch) == 0 &&
				atomic.CompareAndSwapUint64(&s.epoch, 0, c.currentEpoch()) {
				// the claimed epoch may already be stale; pin revalidates
				return s
			}
		}
		delay(&spins)
	}
}

// Retire schedules drop to run once every pin that could still observe the
// retired record is gone. The record must already be unreachable for new
// readers when Retire is called.
func (c *Collector) Retire(drop func()) {
	r := &retiredRecord{epoch: c.currentEpoch(), drop: drop}
	for {
		head := loadPtr(&c.retired)
		r.next = head
		if atomic.CompareAndSwapPointer(&c.retired, head, unsafe.Pointer(r)) {
			break
		}
	}
	batch := c.batch
	if batch == 0 {
		batch = collectorBatch
	}
	if atomic.AddInt64(&c.pending, 1) >= batch {
		c.reclaim()
	}
}

// reclaim advances the epoch and drops every buffered retirement older than
// the oldest active pin. At most one pass runs at a time; contenders leave
// the work to the pass already running.
func (c *Collector) reclaim() {
	if !atomic.CompareAndSwapUint32(&c.reclaiming, 0, 1) {
		return
	}
	atomic.AddUint64(&c.epoch, 1)
	head := (*retiredRecord)(atomic.SwapPointer(&c.retired, nil))
	safe := c.minPinned()
	var keep, keepTail *retiredRecord
	var dropped int64
	for r := head; r != nil; {
		next := (*retiredRecord)(r.next)
		if r.epoch < safe {
			r.drop()
			dropped++
		} else {
			r.next = unsafe.Pointer(keep)
			if keep == nil {
				keepTail = r
			}
			keep = r
		}
		r = next
	}
	if keep != nil {
		// push survivors back as one chunk
		for {
			h := loadPtr(&c.retired)
			keepTail.next = h
			if atomic.CompareAndSwapPointer(&c.retired, h, unsafe.Pointer(keep)) {
				break
			}
		}
	}
	atomic.AddInt64(&c.pending, -dropped)
	atomic.StoreUint32(&c.reclaiming, 0)
}

// minPinned returns the oldest epoch any active guard holds, or the current
// epoch when none is held.
func (c *Collector) minPinned() uint64 {
	mn := atomic.LoadUint64(&c.epoch)
	for i := 0; i < collectorPins; i++ {
		if e := atomic.LoadUint64(&c.pins[i].epoch); e != 0 && e < mn {
			mn = e
		}
	}
	return mn
}
