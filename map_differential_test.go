package pinmap

import (
	"math/rand/v2"
	"testing"

	"github.com/llxisdsh/pb"
)

// Drives an operation stream against the map and a reference implementation
// side by side, comparing every result. Sequential on purpose: any
// interleaving ambiguity would make mismatches meaningless.
func TestMapMatchesReference(t *testing.T) {
	modes := []struct {
		name string
		mode ResizeMode
	}{
		{"incremental", ResizeIncremental},
		{"blocking", ResizeBlocking},
	}
	for _, c := range modes {
		t.Run(c.name, func(t *testing.T) {
			testMapMatchesReference(t, c.mode)
		})
	}
}

func testMapMatchesReference(t *testing.T, mode ResizeMode) {
	const numSteps = 200_000
	const keySpace = 512
	r := rand.New(rand.NewPCG(42, uint64(mode)))
	m := NewMap[int, int](WithResizeMode(mode))
	var ref pb.MapOf[int, int]

	for step := range numSteps {
		k := r.IntN(keySpace)
		switch r.IntN(8) {
		case 0, 1:
			v, ok := m.Load(k)
			rv, rok := ref.Load(k)
			if ok != rok || v != rv {
				t.Fatalf("step %d: load mismatch for %d: got %v, %v want %v, %v",
					step, k, v, ok, rv, rok)
			}
		case 2, 3:
			m.Store(k, step)
			ref.Store(k, step)
		case 4:
			v, loaded := m.LoadOrStore(k, step)
			rv, rloaded := ref.LoadOrStore(k, step)
			if loaded != rloaded || v != rv {
				t.Fatalf("step %d: load-or-store mismatch for %d: got %v, %v want %v, %v",
					step, k, v, loaded, rv, rloaded)
			}
		case 5:
			v, loaded := m.LoadAndDelete(k)
			rv, rloaded := ref.LoadAndDelete(k)
			if loaded != rloaded || v != rv {
				t.Fatalf("step %d: load-and-delete mismatch for %d: got %v, %v want %v, %v",
					step, k, v, loaded, rv, rloaded)
			}
		case 6:
			prev, loaded := m.Swap(k, step)
			rprev, rloaded := ref.Load(k)
			ref.Store(k, step)
			if loaded != rloaded || prev != rprev {
				t.Fatalf("step %d: swap mismatch for %d: got %v, %v want %v, %v",
					step, k, prev, loaded, rprev, rloaded)
			}
		case 7:
			m.Delete(k)
			ref.Delete(k)
		}
		if step%10_000 == 0 {
			if ms, rs := m.Size(), ref.Size(); ms != rs {
				t.Fatalf("step %d: size mismatch: %d vs %d", step, ms, rs)
			}
		}
		// periodically wipe both sides so churn runs through a fresh table
		if step == numSteps/2 {
			m.Clear()
			ref.Range(func(k int, _ int) bool {
				ref.Delete(k)
				return true
			})
		}
	}

	if ms, rs := m.Size(), ref.Size(); ms != rs {
		t.Fatalf("final size mismatch: %d vs %d", ms, rs)
	}
	ref.Range(func(k int, v int) bool {
		if mv, ok := m.Load(k); !ok || mv != v {
			t.Fatalf("entry %d missing or stale: got %v, %v want %v", k, mv, ok, v)
			return false
		}
		return true
	})
	m.Range(func(k int, v int) bool {
		if rv, ok := ref.Load(k); !ok || rv != v {
			t.Fatalf("spurious entry %d: got %v want %v, %v", k, v, rv, ok)
			return false
		}
		return true
	})
}
