// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire_test

import (
	"context"
	"testing"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/ports"
)

func noop(context.Context, []byte) ([]byte, error)          { return nil, nil }
func echo(_ context.Context, data []byte) ([]byte, error) { return data, nil }

func BenchmarkRequest(b *testing.B) {
	var payload = []byte("--set\x00clock\x00label=fuzzy wuzzy was a bear\x00icon.drawing=on\x00\x00")

	b.Run("Memory-noop", func(b *testing.B) {
		c := benchClient(b, noop)
		runBench(b, c, payload)
	})
	b.Run("Memory-echo", func(b *testing.B) {
		c := benchClient(b, echo)
		runBench(b, c, payload)
	})
}

func benchClient(b *testing.B, h barwire.Handler) *barwire.Client {
	b.Helper()
	ns := ports.NewMemory()
	srv, err := barwire.Register(ns, "bench")
	if err != nil {
		b.Fatalf("Register: %v", err)
	}
	srv.Start(h)
	b.Cleanup(func() { srv.Stop() })
	return barwire.NewClient(ns, "bench")
}

func runBench(b *testing.B, c *barwire.Client, data []byte) {
	b.Helper()
	ctx := context.Background()

	for b.Loop() {
		_, err := c.Request(ctx, data)
		if err != nil {
			b.Fatal(err)
		}
	}
}
