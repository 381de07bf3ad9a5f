package bus

import (
	"sync/atomic"
	"testing"

	"github.com/ivi39c/speaka-sub000/internal/core/auth"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
)

// counting listener keeps the delivery path from being optimized away
func makeListener(c *int64) Listener {
	return func(Event) error {
		atomic.AddInt64(c, 1)
		return nil
	}
}

func BenchmarkDispatchSingleListener(b *testing.B) {
	d := New(log.Nop())
	var c int64
	d.Listen(auth.EventStateChange, makeListener(&c))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Dispatch(auth.EventStateChange, nil)
	}
}

func BenchmarkDispatchManyListeners(b *testing.B) {
	d := New(log.Nop())
	var c int64
	for i := 0; i < 16; i++ {
		d.Listen(auth.EventStateChange, makeListener(&c))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = d.Dispatch(auth.EventStateChange, nil)
	}
}

func BenchmarkListenCancel(b *testing.B) {
	d := New(log.Nop())
	var c int64
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d.Listen(auth.EventLogin, makeListener(&c))()
	}
}
