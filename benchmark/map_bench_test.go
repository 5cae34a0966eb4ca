package benchmark

import (
	"runtime"
	"sync"
	"testing"

	"github.com/llxisdsh/pb"
	"github.com/llxisdsh/pinmap"
	"github.com/puzpuzpuz/xsync/v4"
)

const (
	countStore = 1_000_000
	countLoad  = countStore
)

// ------------------------------------------------------

func BenchmarkStore_pinmap_Map(b *testing.B) {
	b.ReportAllocs()
	m := pinmap.NewMap[int, int]()
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			m.Store(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkStore_pb_MapOf(b *testing.B) {
	b.ReportAllocs()
	var m pb.MapOf[int, int]
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			m.Store(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkStore_xsync_Map(b *testing.B) {
	b.ReportAllocs()
	m := xsync.NewMap[int, int]()
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			m.Store(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkStore_sync_Map(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			m.Store(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

// ------------------------------------------------------

func BenchmarkLoad_pinmap_Map(b *testing.B) {
	b.ReportAllocs()
	m := pinmap.NewMap[int, int](pinmap.WithCapacity(countLoad))
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.Load(i)
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkLoad_pinmap_Pinned(b *testing.B) {
	b.ReportAllocs()
	m := pinmap.NewMap[int, int](pinmap.WithCapacity(countLoad))
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		v := m.Pin()
		defer v.Unpin()
		i := 0
		for p.Next() {
			_ = v.LoadRef(i)
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkLoad_pb_MapOf(b *testing.B) {
	b.ReportAllocs()
	var m pb.MapOf[int, int]
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.Load(i)
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkLoad_xsync_Map(b *testing.B) {
	b.ReportAllocs()
	m := xsync.NewMap[int, int](xsync.WithPresize(countLoad))
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.Load(i)
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkLoad_sync_Map(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.Load(i)
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

// ------------------------------------------------------

func BenchmarkLoadOrStore_pinmap_Map(b *testing.B) {
	b.ReportAllocs()
	m := pinmap.NewMap[int, int]()
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.LoadOrStore(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkLoadOrStore_pb_MapOf(b *testing.B) {
	b.ReportAllocs()
	var m pb.MapOf[int, int]
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.LoadOrStore(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkLoadOrStore_xsync_Map(b *testing.B) {
	b.ReportAllocs()
	m := xsync.NewMap[int, int]()
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.LoadOrStore(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

func BenchmarkLoadOrStore_sync_Map(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			_, _ = m.LoadOrStore(i, i)
			i++
			if i >= countStore {
				i = 0
			}
		}
	})
}

// ------------------------------------------------------

// 90% reads, 10% writes over a shared working set.

func BenchmarkMixed_pinmap_Map(b *testing.B) {
	b.ReportAllocs()
	m := pinmap.NewMap[int, int](pinmap.WithCapacity(countLoad))
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			if i%10 == 0 {
				m.Store(i, i)
			} else {
				_, _ = m.Load(i)
			}
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkMixed_pb_MapOf(b *testing.B) {
	b.ReportAllocs()
	var m pb.MapOf[int, int]
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			if i%10 == 0 {
				m.Store(i, i)
			} else {
				_, _ = m.Load(i)
			}
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkMixed_xsync_Map(b *testing.B) {
	b.ReportAllocs()
	m := xsync.NewMap[int, int](xsync.WithPresize(countLoad))
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			if i%10 == 0 {
				m.Store(i, i)
			} else {
				_, _ = m.Load(i)
			}
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}

func BenchmarkMixed_sync_Map(b *testing.B) {
	b.ReportAllocs()
	var m sync.Map
	for i := range countLoad {
		m.Store(i, i)
	}
	runtime.GC()
	b.ResetTimer()
	b.RunParallel(func(p *testing.PB) {
		i := 0
		for p.Next() {
			if i%10 == 0 {
				m.Store(i, i)
			} else {
				_, _ = m.Load(i)
			}
			i++
			if i >= countLoad {
				i = 0
			}
		}
	})
}
