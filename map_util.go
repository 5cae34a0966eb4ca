package pinmap

import (
	"math/bits"
	"reflect"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/llxisdsh/pinmap/internal/opt"
)

// ============================================================================
// Private Constants
// ============================================================================

// cacheLineSize is the size of a cache line in bytes.
const cacheLineSize = opt.CacheLineSize_

// Probing and resizing configuration
const (
	// loadFactor: resize when claimed slots exceed this fraction of the table
	loadFactor = 0.75
	// minTableLen: minimum number of slots
	minTableLen = 4
	// defaultTableLen: slots allocated by deferred initialization
	defaultTableLen = 64
	// migrateChunkSz: slots a cooperating operation migrates per help step
	migrateChunkSz = 64
	// asyncThreshold: slot-array bytes above which a migration is driven by
	// its own goroutine instead of the triggering one
	asyncThreshold = 128 * 1024
	// freeListCap: per-map bound on recycled records
	freeListCap = 256

	pointerSize = int(unsafe.Sizeof(unsafe.Pointer(nil)))
)

const (
	intSize = 32 << (^uint(0) >> 63) // 32 or 64
	maxInt  = 1<<(intSize-1) - 1     // MaxInt32 or MaxInt64 depending on intSize.
)

// Feature flags for performance optimization
const (
	// enableFastPath: resolve read-dominated operations with a plain probe
	// before entering the write protocol
	enableFastPath = true
)

type tableRebuildHint uint8

const (
	rebuildGrowHint tableRebuildHint = iota
	rebuildPurgeHint
	rebuildClearHint
	rebuildSweepHint
)

type computeOp uint8

const (
	cancelOp computeOp = iota
	updateOp
	deleteOp
)

// ============================================================================
// Private struct definitions
// ============================================================================

// counterStripe represents a striped counter to reduce contention.
type counterStripe struct {
	_ [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		c uintptr
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_ * opt.PaddingMult_]byte
	c uintptr // Counter value, accessed atomically
}

// ============================================================================
// Utility Functions
// ============================================================================

// calcTableLen computes the slot count for a capacity hint.
// The return value is a power of 2 and never below minTableLen; a
// non-positive capacity selects the deferred-init default.
//
//go:nosplit
func calcTableLen(capacity int) int {
	if capacity <= 0 {
		return defaultTableLen
	}
	// ceil(capacity / loadFactor) with loadFactor = 3/4
	return max(nextPowOf2((capacity*4+2)/3), minTableLen)
}

// calcSizeLen computes the number of counter stripes.
// Stripes live on the map rather than the table so that counts stay exact
// while entries straddle generations during a migration.
//
//go:nosplit
func calcSizeLen(cpus int) int {
	return nextPowOf2(min(cpus, 64))
}

// probeLimit bounds the probe sequence for a table. Chains that would pass
// it force a resize instead of longer walks.
//
//go:nosplit
func probeLimit(tableLen int) int {
	return min(tableLen, max(8, 4*bits.Len(uint(tableLen-1))))
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal
// to n.
// Compatible with both 32-bit and 64-bit systems.
//
//go:nosplit
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	if intSize == 64 {
		v |= v >> 32
	}
	return v + 1
}

// noescape hides a pointer from escape analysis. noescape is
// the identity function, but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	//nolint:all
	//goland:noinspection ALL
	return unsafe.Pointer(x ^ 0)
}

//go:nosplit
//go:nocheckptr
func noEscape[T any](p *T) *T {
	return (*T)(noescape(unsafe.Pointer(p)))
}

// h1 derives the probe start from a hash value.
//
//go:nosplit
func h1(h uintptr, intKey bool) uintptr {
	if intKey {
		// Identity hashes place sequential keys in sequential slots.
		return h
	}
	// Fold the high bits in so the masked index sees the whole hash.
	return h ^ h>>16
}

// ============================================================================
// Slice Utilities
// ============================================================================

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

//go:nosplit
func (s unsafeSlice[T]) At(i int) *T {
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(*new(T))*uintptr(i)))
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	// time.Sleep with non-zero duration (≈Millisecond level) works
	// effectively as backoff under high concurrency.
	// The 500µs duration is derived from Facebook/folly's implementation:
	// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
	time.Sleep(500 * time.Microsecond)
	//runtime.Gosched()
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()

// ============================================================================
// Hash Utilities
// ============================================================================

type (
	// HashFunc is the function to hash a value of type K.
	HashFunc func(ptr unsafe.Pointer, seed uintptr) uintptr
	// EqualFunc is the function to compare two values of type V.
	EqualFunc func(ptr unsafe.Pointer, other unsafe.Pointer) bool
)

func defaultHasher[K comparable, V any]() (
	keyHash HashFunc,
	valEqual EqualFunc,
	intKey bool,
) {
	keyHash, valEqual = defaultHasherUsingBuiltIn[K, V]()

	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return hashUintptr, valEqual, true
	case uint64, int64:
		if intSize == 64 {
			return hashUint64, valEqual, true
		} else {
			return hashUint64On32Bit, valEqual, true
		}
	case uint32, int32:
		return hashUint32, valEqual, true
	case uint16, int16:
		return hashUint16, valEqual, true
	case uint8, int8:
		return hashUint8, valEqual, true
	case string:
		return hashString, valEqual, false
	case []byte:
		return hashString, valEqual, false
	default:
		// for types like integers
		kType := reflect.TypeFor[K]()
		if kType == nil {
			// Handle nil interface types
			return keyHash, valEqual, false
		}
		switch kType.Kind() {
		case reflect.Uint, reflect.Int, reflect.Uintptr:
			return hashUintptr, valEqual, true
		case reflect.Int64, reflect.Uint64:
			if intSize == 64 {
				return hashUint64, valEqual, true
			} else {
				return hashUint64On32Bit, valEqual, true
			}
		case reflect.Int32, reflect.Uint32:
			return hashUint32, valEqual, true
		case reflect.Int16, reflect.Uint16:
			return hashUint16, valEqual, true
		case reflect.Int8, reflect.Uint8:
			return hashUint8, valEqual, true
		case reflect.String:
			return hashString, valEqual, false
		case reflect.Slice:
			// Check if it's []byte
			if kType.Elem().Kind() == reflect.Uint8 {
				return hashString, valEqual, false
			}
			return keyHash, valEqual, false
		default:
			return keyHash, valEqual, false
		}
	}
}

//go:nosplit
func hashUintptr(ptr unsafe.Pointer, _ uintptr) uintptr {
	return *(*uintptr)(ptr)
}

//go:nosplit
func hashUint64On32Bit(ptr unsafe.Pointer, _ uintptr) uintptr {
	v := *(*uint64)(ptr)
	return uintptr(v) ^ uintptr(v>>32)
}

//go:nosplit
func hashUint64(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint64)(ptr))
}

//go:nosplit
func hashUint32(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint32)(ptr))
}

//go:nosplit
func hashUint16(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint16)(ptr))
}

//go:nosplit
func hashUint8(ptr unsafe.Pointer, _ uintptr) uintptr {
	return uintptr(*(*uint8)(ptr))
}

//go:nosplit
func hashString(ptr unsafe.Pointer, seed uintptr) uintptr {
	// The algorithm has good cache affinity
	type stringHeader struct {
		data unsafe.Pointer
		len  int
	}
	s := (*stringHeader)(ptr)
	if s.len <= 12 {
		for i := range s.len {
			seed = seed*31 + uintptr(*(*uint8)(unsafe.Add(s.data, i)))
		}
		return seed
	}
	// Fallback to the built-in hash function
	return builtInStringHasher(ptr, seed)
}

var builtInStringHasher, _ = defaultHasherUsingBuiltIn[string, struct{}]()

// defaultHasherUsingBuiltIn gets Go's built-in hash and equality functions
// for the specified types using reflection.
//
// This approach provides direct access to the type-specific functions without
// the overhead of switch statements, resulting in better performance.
//
// Notes:
//   - This implementation relies on Go's internal type representation
//   - It should be verified for compatibility with each Go version upgrade
func defaultHasherUsingBuiltIn[K comparable, V any]() (
	keyHash HashFunc,
	valEqual EqualFunc,
) {
	var m map[K]V
	mapType := iTypeOf(m).MapType()
	return mapType.Hasher, mapType.Elem.Equal
}

type (
	iTFlag   uint8
	iKind    uint8
	iNameOff int32
)

// TypeOff is the offset to a type from moduledata.types.  See resolveTypeOff in
// runtime.
type iTypeOff int32

type iType struct {
	Size_       uintptr
	PtrBytes    uintptr // number of (prefix) bytes in the type that can contain pointers
	Hash        uint32  // hash of type; avoids computation in hash tables
	TFlag       iTFlag  // extra type information flags
	Align_      uint8   // alignment of variable with this type
	FieldAlign_ uint8   // alignment of struct field with this type
	Kind_       iKind   // enumeration for C
	// function for comparing objects of this type
	// (ptr to object A, ptr to object B) -> ==?
	Equal func(unsafe.Pointer, unsafe.Pointer) bool
	// GCData stores the GC type data for the garbage collector.
	// Normally, GCData points to a bitmask that describes the
	// ptr/nonptr fields of the type. The bitmask will have at
	// least PtrBytes/ptrSize bits.
	// If the TFlagGCMaskOnDemand bit is set, GCData is instead a
	// **byte and the pointer to the bitmask is one dereference away.
	// The runtime will build the bitmask if needed.
	// (See runtime/type.go:getGCMask.)
	// Note: multiple types may have the same value of GCData,
	// including when TFlagGCMaskOnDemand is set. The types will, of course,
	// have the same pointer layout (but not necessarily the same size).
	GCData    *byte
	Str       iNameOff // string form
	PtrToThis iTypeOff // type for pointer to this type, may be zero
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

type iMapType struct {
	iType
	Key   *iType
	Elem  *iType
	Group *iType // internal type representing a slot group
	// function for hashing keys (ptr to key, seed) -> hash
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	// Types are either static (for compiler-created types) or
	// heap-allocated but always reachable (for reflection-created
	// types, held in the central map). So there is no need to
	// escape types. noescape here help avoid unnecessary escape
	// of v.
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}

// ============================================================================
// Atomic Utilities
// ============================================================================

// isTSO_ detects TSO architectures; on TSO, plain reads/writes are safe for
// pointers and native word-sized integers
const isTSO_ = !opt.Race_ &&
	(runtime.GOARCH == "amd64" ||
		runtime.GOARCH == "386" ||
		runtime.GOARCH == "s390x")

// loadPtr loads a pointer atomically on non-TSO architectures.
// On TSO architectures, it performs a plain pointer load.
//
//go:nosplit
func loadPtr(addr *unsafe.Pointer) unsafe.Pointer {
	if opt.Race_ {
		return atomic.LoadPointer(addr)
	} else {
		if isTSO_ {
			return *addr
		} else {
			return atomic.LoadPointer(addr)
		}
	}
}

// storePtr stores a pointer atomically on non-TSO architectures.
// On TSO architectures, it performs a plain pointer store.
//
//go:nosplit
func storePtr(addr *unsafe.Pointer, val unsafe.Pointer) {
	if opt.Race_ {
		atomic.StorePointer(addr, val)
	} else {
		if isTSO_ {
			*addr = val
		} else {
			atomic.StorePointer(addr, val)
		}
	}
}

// loadInt aligned integer load; plain on TSO when width matches,
// otherwise atomic
//
//go:nosplit
func loadInt[T ~uint32 | ~uint64 | ~uintptr](addr *T) T {
	if opt.Race_ {
		if unsafe.Sizeof(T(0)) == 4 {
			return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
		} else {
			return T(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
		}
	} else {
		if unsafe.Sizeof(T(0)) == 4 {
			if isTSO_ {
				return *addr
			} else {
				return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
			}
		} else {
			if isTSO_ && intSize == 64 {
				return *addr
			} else {
				return T(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
			}
		}
	}
}

// storeInt aligned integer store; plain on TSO when width matches,
// otherwise atomic
//
//go:nosplit
func storeInt[T ~uint32 | ~uint64 | ~uintptr](addr *T, val T) {
	if opt.Race_ {
		if unsafe.Sizeof(T(0)) == 4 {
			atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(val))
		} else {
			atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), uint64(val))
		}
	} else {
		if unsafe.Sizeof(T(0)) == 4 {
			if isTSO_ {
				*addr = val
			} else {
				atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(val))
			}
		} else {
			if isTSO_ && intSize == 64 {
				*addr = val
			} else {
				atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), uint64(val))
			}
		}
	}
}

// loadIntFast performs a non-atomic read, safe only for locations that are
// never written concurrently with the read.
//
//go:nosplit
func loadIntFast[T ~uint32 | ~uint64 | ~uintptr](addr *T) T {
	if opt.Race_ {
		return loadInt(addr)
	} else {
		return *addr
	}
}

// storeIntFast performs a non-atomic write, safe only for thread-private or
// not-yet-published memory locations.
//
//go:nosplit
func storeIntFast[T ~uint32 | ~uint64 | ~uintptr](addr *T, val T) {
	if opt.Race_ {
		storeInt(addr, val)
	} else {
		*addr = val
	}
}
