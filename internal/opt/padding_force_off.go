//go:build pinmap_disable_padding

package opt

// PaddingMult_ scales the padding arrays of striped structures.
// Padding is force-disabled via the pinmap_disable_padding build tag.
// Use: go build -tags=pinmap_disable_padding
const PaddingMult_ = 0
