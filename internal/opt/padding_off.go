//go:build (amd64 || 386 || arm || mips || mipsle || wasm) && !pinmap_disable_padding && !pinmap_enable_padding

package opt

// PaddingMult_ scales the padding arrays of striped structures.
// Padding is disabled by default for:
// - amd64
// - 32-bit architectures (386, arm, mips, mipsle, wasm)
const PaddingMult_ = 0
