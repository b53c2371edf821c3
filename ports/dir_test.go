// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build unix

package ports_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/ports"
	"github.com/google/go-cmp/cmp"
)

// shortTempDir returns a temporary directory with a path short enough to hold
// unix socket names on all platforms.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bw")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestDir(t *testing.T) {
	testNamespace(t, ports.NewDir(filepath.Join(shortTempDir(t), "ns")))
}

func TestDirInvalidNames(t *testing.T) {
	d := ports.NewDir(shortTempDir(t))
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00"} {
		if _, err := d.Register(name, 1); err == nil {
			t.Errorf("Register %q: got nil error, want error", name)
		}
		if _, err := d.Lookup(name); err == nil {
			t.Errorf("Lookup %q: got nil error, want error", name)
		}
	}
}

func TestDirStaleSocket(t *testing.T) {
	dir := shortTempDir(t)
	d := ports.NewDir(dir)

	// Leave a socket file behind with nothing listening on it.
	path := filepath.Join(dir, "stale")
	l, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	l.Close() // a unixgram conn does not unlink its socket on close

	if _, err := d.Lookup("stale"); !errors.Is(err, barwire.ErrNotFound) {
		t.Errorf("Lookup stale: got %v, want %v", err, barwire.ErrNotFound)
	}
	recv, err := d.Register("stale", 1)
	if err != nil {
		t.Fatalf("Register over stale socket: %v", err)
	}
	recv.Close()
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Errorf("Socket file after close: got %v, want not exist", err)
	}
}

func TestDirClosedReplyPort(t *testing.T) {
	d := ports.NewDir(shortTempDir(t))
	rsend, rrecv, err := d.NewReplyPort()
	if err != nil {
		t.Fatalf("NewReplyPort: %v", err)
	}
	defer rrecv.Close()

	if err := rsend.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := rsend.Close(); err != nil {
		t.Errorf("Close again: %v", err)
	}
	if err := rsend.Send(&barwire.Frame{Type: barwire.FrameReply}); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Send on closed reply port: got %v, want %v", err, net.ErrClosed)
	}

	// Recv on a cancelled context returns promptly.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rrecv.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Recv: got %v, want %v", err, context.Canceled)
	}
}

func TestDirRequest(t *testing.T) {
	ns := ports.NewDir(shortTempDir(t))
	srv, err := barwire.Register(ns, "daemon")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	var got []string
	srv.OnKill(func() {}).Start(func(_ context.Context, payload []byte) ([]byte, error) {
		got = append(got, string(payload))
		return append([]byte("ok:"), payload...), nil
	})

	c := barwire.NewClient(ns, "daemon")
	ctx := context.Background()
	for _, tc := range []struct{ input, want string }{
		{"--update\x00", "ok:--update"},
		{"--query\x00bar\x00", "ok:--query"}, // the reply is cut at its first NUL
	} {
		rsp, err := c.Request(ctx, []byte(tc.input))
		if err != nil {
			t.Fatalf("Request %q: %v", tc.input, err)
		}
		if string(rsp) != tc.want {
			t.Errorf("Request %q: got reply %q, want %q", tc.input, rsp, tc.want)
		}
	}
	if err := c.Notify(ctx, []byte("event\x00")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	// The sentinel stops the server; everything before it was handled.
	if err := c.Notify(ctx, barwire.Sentinel()); err != nil {
		t.Fatalf("Notify sentinel: %v", err)
	}
	if err := srv.Wait(); !errors.Is(err, barwire.ErrKilled) {
		t.Errorf("Wait: got %v, want %v", err, barwire.ErrKilled)
	}
	want := []string{"--update\x00", "--query\x00bar\x00", "event\x00"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Handler payloads (-want, +got):\n%s", diff)
	}

	// After the server is gone, requests fail after one retry.
	if _, err := c.Request(ctx, []byte("late\x00")); !errors.Is(err, barwire.ErrNotFound) {
		t.Errorf("Request after kill: got %v, want %v", err, barwire.ErrNotFound)
	}
}

func TestDirTooLarge(t *testing.T) {
	ns := ports.NewDir(shortTempDir(t))
	srv, err := barwire.Register(ns, "daemon")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv.Start(func(context.Context, []byte) ([]byte, error) { return nil, nil })
	defer srv.Stop()

	c := barwire.NewClient(ns, "daemon")
	big := make([]byte, barwire.MaxPayload+1)
	if _, err := c.Request(context.Background(), big); !errors.Is(err, barwire.ErrTooLarge) {
		t.Errorf("Request: got %v, want %v", err, barwire.ErrTooLarge)
	}
}
