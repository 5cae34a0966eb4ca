//go:build pinmap_enable_padding

package opt

// PaddingMult_ scales the padding arrays of striped structures.
// Padding is force-enabled via the pinmap_enable_padding build tag.
// Use: go build -tags=pinmap_enable_padding
const PaddingMult_ = 1
