package pinmap

import (
	"unsafe"
)

// ============================================================================
// Configuration
// ============================================================================

// ResizeMode selects how a Map behaves while a table migration is underway.
type ResizeMode int

const (
	// ResizeIncremental lets operations proceed during a migration. Writers
	// help move a chunk of entries on their way in, readers walk through to
	// the new table, and the cost of the rebuild is spread over many
	// operations. This is the default.
	ResizeIncremental ResizeMode = iota

	// ResizeBlocking makes every operation wait until an in-flight migration
	// has fully completed before touching the table. The triggering writer
	// performs the whole migration itself. Latency concentrates in single
	// operations but never smears across the steady state.
	ResizeBlocking
)

// MapConfig defines configurable options for Map initialization.
// This structure contains all the configuration parameters that can be used
// to customize the behavior and performance characteristics of a Map
// instance.
type MapConfig struct {
	// keyHash specifies a custom hash function for keys.
	// If nil, the built-in hash function will be used.
	// Custom hash functions can improve performance for specific key types
	// or provide better hash distribution.
	keyHash HashFunc

	// valEqual specifies a custom equality function for values.
	// If nil, the built-in equality comparison will be used.
	// This is primarily used for compare-and-swap operations.
	// Note: Using Compare* methods with non-comparable value types
	// will panic if valEqual is nil.
	valEqual EqualFunc

	// coll specifies the collector that tracks guards and reclaims retired
	// records. If nil, the map creates a private one. Sharing a collector
	// between maps lets one Guard cover operations on all of them.
	coll *Collector

	// capacity provides an estimate of the expected number of entries.
	// This is used to pre-allocate the underlying hash table with appropriate
	// capacity, reducing the need for resizing during initial population.
	// If zero or negative, table allocation is deferred to the first write.
	// The actual capacity will be rounded up to the next power of 2.
	capacity int

	// resizeMode selects incremental or blocking migration behavior.
	resizeMode ResizeMode

	// intKey specifies the hash distribution optimization strategies to use.
	// These options control how hash values are converted to slot indices
	// in the h1 function. Different strategies work better for different
	// key patterns and distributions.
	// If true, linear distribution will be used (optimal for sequential keys).
	// If false, auto distribution will be used (recommended for most cases).
	intKey bool
}

// WithCapacity configures a new Map instance with capacity enough to hold
// cap entries. The capacity is treated as the minimal capacity, meaning
// that the underlying hash table will never shrink below it. If cap is zero
// or negative, the value is ignored and the first write allocates the
// smallest table.
func WithCapacity(cap int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = cap
	}
}

// WithResizeMode selects how operations behave during a table migration.
// The default is ResizeIncremental.
func WithResizeMode(mode ResizeMode) func(*MapConfig) {
	return func(c *MapConfig) {
		c.resizeMode = mode
	}
}

// WithCollector makes the map use the given collector instead of a private
// one. A Guard from a shared collector protects reads against every map
// attached to it, and retired records from all of them share batch and
// epoch accounting.
//
// Usage:
//
//	c := NewCollector(0)
//	users := NewMap[int64, User](WithCollector(c))
//	perms := NewMap[int64, Perm](WithCollector(c))
//	g := c.Pin()
//	defer g.Unpin()
func WithCollector(c *Collector) func(*MapConfig) {
	return func(cfg *MapConfig) {
		cfg.coll = c
	}
}

// WithKeyHasher sets a custom key hashing function for the map.
// This allows you to optimize hash distribution for specific key types
// or implement custom hashing strategies.
//
// Parameters:
//   - keyHash: custom hash function that takes a key and seed,
//     returns hash value. Pass nil to use the default built-in hasher
//   - intKey: optional hash distribution optimization strategies.
//     true:  use linear distribution (optimal for sequential keys)
//     false or omitted: auto-detection is used if this parameter is omitted.
//
// Usage:
//
//	// Basic custom hasher
//	m := NewMap[string, int](WithKeyHasher(myCustomHashFunc))
//
//	// Custom hasher with linear distribution for sequential keys
//	m := NewMap[int, string](WithKeyHasher(myIntHasher, true))
//
// Use cases:
//   - Optimize hash distribution for specific data patterns
//   - Implement case-insensitive string hashing
//   - Custom hashing for complex key types
//   - Performance tuning for known key distributions
func WithKeyHasher[K comparable](
	keyHash func(key K, seed uintptr) uintptr,
	intKey ...bool,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyHash != nil {
			c.keyHash = func(pointer unsafe.Pointer, u uintptr) uintptr {
				return keyHash(*(*K)(pointer), u)
			}
			if len(intKey) != 0 {
				c.intKey = intKey[0]
			}
		}
	}
}

// WithKeyHasherUnsafe sets a low-level unsafe key hashing function.
// This is the high-performance version that operates directly on memory
// pointers. Use this when you need maximum performance and are comfortable
// with unsafe operations.
//
// Parameters:
//   - hs: unsafe hash function that operates on raw unsafe.Pointer.
//     The pointer points to the key data in memory.
//     Pass nil to use the default built-in hasher
//   - intKey: optional hash distribution optimization strategies.
//     true:  use linear distribution (optimal for sequential keys)
//     false or omitted: auto-detection is used if this parameter is omitted.
//
// Notes:
//   - You must correctly cast unsafe.Pointer to the actual key type
//   - Incorrect pointer operations will cause crashes or memory corruption
//   - Only use if you understand Go's unsafe package
func WithKeyHasherUnsafe(
	hs HashFunc,
	intKey ...bool,
) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = hs
		if len(intKey) != 0 {
			c.intKey = intKey[0]
		}
	}
}

// WithValueEqual sets a custom value equality function for the map.
// This is essential for CompareAndSwap and CompareAndDelete operations
// when working with non-comparable value types or custom equality logic.
//
// Parameters:
//   - valEqual: custom equality function that compares two values
//     Pass nil to use the default built-in comparison (for comparable types)
//
// Usage:
//
//	// For custom structs with specific equality logic
//	eq := func(a, b MyStruct) bool {
//		return a.ID == b.ID && a.Name == b.Name
//	}
//	m := NewMap[string, MyStruct](WithValueEqual(eq))
//
// Use cases:
//   - Custom equality for structs (compare specific fields)
//   - Case-insensitive string comparison
//   - Floating-point comparison with tolerance
//   - Required for non-comparable types (slices, maps, functions)
func WithValueEqual[V any](
	valEqual func(val, val2 V) bool,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if valEqual != nil {
			c.valEqual = func(val unsafe.Pointer, val2 unsafe.Pointer) bool {
				return valEqual(*(*V)(val), *(*V)(val2))
			}
		}
	}
}

// WithValueEqualUnsafe sets a low-level unsafe value equality function.
// This is the high-performance version that operates directly on memory
// pointers.
//
// Notes:
//   - You must correctly cast unsafe.Pointer to the actual value type
//   - Both pointers must point to valid memory of the same type
//   - Only use if you understand Go's unsafe package
func WithValueEqualUnsafe(eq EqualFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valEqual = eq
	}
}

// WithBuiltInHasher returns a MapConfig option that explicitly sets the
// built-in hash function for the specified type.
//
// This option is useful when you want to explicitly use Go's built-in hasher
// instead of any optimized variants. It ensures that the map uses the same
// hashing strategy as Go's native map implementation.
//
// Usage:
//
//	m := NewMap[string, int](WithBuiltInHasher[string]())
func WithBuiltInHasher[T comparable]() func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = GetBuiltInHasher[T]()
	}
}

// GetBuiltInHasher returns Go's built-in hash function for the specified
// type. This function provides direct access to the same hash function that
// Go's built-in map uses internally.
//
// Usage:
//
//	hashFunc := GetBuiltInHasher[string]()
//	m := NewMap[string, int](WithKeyHasherUnsafe(hashFunc))
func GetBuiltInHasher[T comparable]() HashFunc {
	keyHash, _ := defaultHasherUsingBuiltIn[T, struct{}]()
	return keyHash
}

// IHashFunc defines a custom hash function interface for key types.
// Key types implementing this interface can provide their own hash
// computation, serving as an alternative to WithKeyHasher for type-specific
// optimization.
//
// This interface is automatically detected during Map initialization and
// takes precedence over the default built-in hasher but is overridden by
// explicit WithKeyHasher configuration.
//
// Usage:
//
//	type UserID struct {
//		ID int64
//		Tenant string
//	}
//
//	func (u *UserID) HashFunc(seed uintptr) uintptr {
//		return uintptr(u.ID) ^ seed
//	}
type IHashFunc interface {
	HashFunc(seed uintptr) uintptr
}

// IIntKey optional interface for key types to signal hash distribution
// optimization strategies.
//   - true:  use linear distribution (optimal for sequential keys)
//   - false or omitted: auto-detection is used if this parameter is omitted.
type IIntKey interface {
	IntKey() bool
}

// IEqualFunc defines a custom equality comparison interface for value types.
// Value types implementing this interface can provide their own equality
// logic, serving as an alternative to WithValueEqual for type-specific
// comparison.
//
// This interface is automatically detected during Map initialization and is
// essential for non-comparable value types or custom equality semantics.
// It takes precedence over the default built-in comparison but is overridden
// by explicit WithValueEqual configuration.
//
// Usage:
//
//	type UserProfile struct {
//		Name string
//		Tags []string // slice makes this non-comparable
//	}
//
//	func (u *UserProfile) EqualFunc(other UserProfile) bool {
//		return u.Name == other.Name && slices.Equal(u.Tags, other.Tags)
//	}
type IEqualFunc[T any] interface {
	EqualFunc(other T) bool
}

func parseKeyInterface[K comparable]() (keyHash HashFunc, intKey bool) {
	var k *K
	if _, ok := any(k).(IHashFunc); ok {
		keyHash = func(ptr unsafe.Pointer, seed uintptr) uintptr {
			return any((*K)(ptr)).(IHashFunc).HashFunc(seed)
		}

		if _, ok = any(k).(IIntKey); ok {
			intKey = any(*new(K)).(IIntKey).IntKey()
		}
	}
	return
}

func parseValueInterface[V any]() (valEqual EqualFunc) {
	var v *V
	if _, ok := any(v).(IEqualFunc[V]); ok {
		valEqual = func(ptr unsafe.Pointer, other unsafe.Pointer) bool {
			return any((*V)(ptr)).(IEqualFunc[V]).EqualFunc(*(*V)(other))
		}
	}
	return
}
