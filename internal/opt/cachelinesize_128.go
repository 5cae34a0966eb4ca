//go:build pinmap_cachelinesize_128

package opt

// CacheLineSize_ is force-set to 128 bytes via the pinmap_cachelinesize_128
// build tag.
// Use: go build -tags=pinmap_cachelinesize_128
const CacheLineSize_ = 128
