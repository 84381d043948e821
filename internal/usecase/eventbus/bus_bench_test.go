package eventbus

import (
	"context"
	"log/slog"
	"testing"
)

const benchPayload = `{"jsonrpc":"2.0","method":"notifications/identityChange","params":{"role":"Coder"}}`

// BenchmarkBusPublish benchmarks the hot path: publishing to one subscriber
// that keeps up.
func BenchmarkBusPublish(b *testing.B) {
	bus := New(DefaultCapacity, slog.Default())
	defer bus.Close()
	sub := bus.Subscribe()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		bus.Publish(benchPayload)
		sub.Next()
	}
}

// BenchmarkBusPublishLagging benchmarks publishing when every subscriber is
// full, so each publish drops the oldest entry.
func BenchmarkBusPublishLagging(b *testing.B) {
	bus := New(16, slog.Default())
	defer bus.Close()
	for i := 0; i < 10; i++ {
		bus.Subscribe()
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		bus.Publish(benchPayload)
	}
}

// BenchmarkBusConcurrentRecv benchmarks parallel publishers against a single
// blocking reader.
func BenchmarkBusConcurrentRecv(b *testing.B) {
	bus := New(1024, slog.Default())
	defer bus.Close()
	sub := bus.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			if _, err := sub.Recv(ctx); err != nil {
				return
			}
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			bus.Publish(benchPayload)
		}
	})
}
