// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bar_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/bar"
	"github.com/creachadair/barwire/env"
	"github.com/creachadair/barwire/fakebar"
	"github.com/creachadair/barwire/ports"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

const testHelper = "git.relay.sketchybar.test"

// setup starts a fake daemon and a bar connected to it.
func setup(t *testing.T, reply fakebar.ReplyFunc) (*ports.Memory, *fakebar.Daemon, *bar.Bar) {
	t.Helper()
	t.Cleanup(leaktest.Check(t)) // runs after the cleanups below

	ns := ports.NewMemory()
	d, err := fakebar.Start(ns, bar.DaemonName, reply)
	if err != nil {
		t.Fatalf("Start daemon: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	b := bar.New(ns, &bar.Options{Helper: testHelper})
	t.Cleanup(func() { b.Close() })
	return ns, d, b
}

func cmds(lines ...string) [][]string {
	var out [][]string
	for _, line := range lines {
		out = append(out, strings.Split(line, " "))
	}
	return out
}

func checkCommands(t *testing.T, d *fakebar.Daemon, want [][]string) {
	t.Helper()
	if diff := cmp.Diff(want, d.Commands()); diff != "" {
		t.Errorf("Commands (-want, +got):\n%s", diff)
	}
}

func TestCommands(t *testing.T) {
	_, d, b := setup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func()
		want [][]string
	}{
		{"Add", func() {
			if err := b.Add(ctx, "item", "clock", bar.Props{"position": "right"}); err != nil {
				t.Errorf("Add: %v", err)
			}
		}, cmds("--add item clock left", "--set clock position=right")},

		{"AddNoProps", func() {
			if err := b.Add(ctx, "space", "s1", nil); err != nil {
				t.Errorf("Add: %v", err)
			}
		}, cmds("--add space s1 left")},

		{"AddBracket", func() {
			if err := b.AddBracket(ctx, "group", []string{"b", "a", "c"}, nil); err != nil {
				t.Errorf("AddBracket: %v", err)
			}
		}, cmds("--add bracket group b a c")},

		{"Set", func() {
			b.Set(ctx, "clock", bar.Props{
				"label": "12:00",
				"icon":  bar.Props{"color": 0xffffffff, "drawing": false},
			})
		}, cmds("--set clock icon.color=0xffffffff icon.drawing=off label=12:00")},

		{"Bar", func() {
			b.Bar(ctx, bar.Props{"height": 32, "topmost": true})
		}, cmds("--bar height=32 topmost=on")},

		{"Default", func() {
			b.Default(ctx, bar.Props{"padding_left": 5})
		}, cmds("--default padding_left=5")},

		{"Update", func() { b.Update(ctx) }, cmds("--update")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d.Reset()
			tc.run()
			checkCommands(t, d, tc.want)
		})
	}
}

func TestCommandErrors(t *testing.T) {
	_, d, b := setup(t, nil)
	ctx := context.Background()

	if err := b.Add(ctx, "bogus", "x", nil); err == nil {
		t.Error("Add bogus kind: got nil error")
	}
	if err := b.Add(ctx, "bracket", "x", nil); err == nil {
		t.Error("Add bracket: got nil error")
	}
	if err := b.Add(ctx, "item", "", nil); err == nil {
		t.Error("Add empty name: got nil error")
	}
	if err := b.AddBracket(ctx, "x", nil, nil); err == nil {
		t.Error("AddBracket without members: got nil error")
	}
	if err := b.Subscribe(ctx, "x", "e", nil); err == nil {
		t.Error("Subscribe nil callback: got nil error")
	}
	if n := len(d.Requests()); n != 0 {
		t.Errorf("Invalid commands sent %d requests, want 0", n)
	}
}

func TestRequestEncoding(t *testing.T) {
	_, d, b := setup(t, nil)
	b.Update(context.Background())

	reqs := d.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Got %d requests, want 1", len(reqs))
	}
	// Each token is NUL-terminated, and the request as a whole has one more.
	if got, want := string(reqs[0].Raw), "--update\x00\x00"; got != want {
		t.Errorf("Raw request: got %q, want %q", got, want)
	}
}

func TestTransaction(t *testing.T) {
	_, d, b := setup(t, nil)
	ctx := context.Background()

	b.Begin()
	b.Begin() // nested Begin is a no-op
	if !b.InTransaction() {
		t.Fatal("InTransaction: got false after Begin")
	}
	if rsp := b.Set(ctx, "a", bar.Props{"label": "one"}); rsp != nil {
		t.Errorf("Set in transaction: got reply %q, want nil", rsp)
	}
	b.Set(ctx, "b", bar.Props{"label": "two"})
	if n := len(d.Requests()); n != 0 {
		t.Fatalf("Before Commit: %d requests sent, want 0", n)
	}
	b.Commit(ctx)
	if b.InTransaction() {
		t.Error("InTransaction: got true after Commit")
	}

	reqs := d.Requests()
	if len(reqs) != 1 {
		t.Fatalf("After Commit: %d requests sent, want 1", len(reqs))
	}
	want := "--set\x00a\x00label=one\x00--set\x00b\x00label=two\x00\x00"
	if got := string(reqs[0].Raw); got != want {
		t.Errorf("Transaction payload: got %q, want %q", got, want)
	}
	checkCommands(t, d, cmds("--set a label=one", "--set b label=two"))

	// Committing an empty transaction sends a bare terminator; committing
	// with no open transaction sends nothing.
	d.Reset()
	b.Begin()
	if rsp := b.Commit(ctx); rsp == nil {
		t.Error("Empty Commit: got nil reply, want non-nil")
	}
	if rsp := b.Commit(ctx); rsp != nil {
		t.Errorf("Commit without Begin: got %q, want nil", rsp)
	}
	if reqs := d.Requests(); len(reqs) != 1 || string(reqs[0].Raw) != "\x00" {
		t.Errorf("Empty transaction: got %v, want one request %q", reqs, "\x00")
	}
}

func TestQuery(t *testing.T) {
	_, d, b := setup(t, func(req fakebar.Request) []byte {
		last := req.Commands[len(req.Commands)-1]
		if last[0] == "--query" {
			return []byte(`{"name":"` + last[1] + `","geometry":{"drawing":"on"}}`)
		}
		return nil
	})
	ctx := context.Background()

	// Query commits an open transaction before it is sent.
	b.Begin()
	b.Set(ctx, "clock", bar.Props{"label": "x"})
	rsp := b.Query(ctx, "clock")

	checkCommands(t, d, cmds("--set clock label=x", "--query clock"))
	if n := len(d.Requests()); n != 2 {
		t.Errorf("Got %d requests, want 2", n)
	}

	want := map[string]any{"name": "clock", "geometry": map[string]any{"drawing": "on"}}
	if diff := cmp.Diff(any(want), rsp.Value()); diff != "" {
		t.Errorf("Reply value (-want, +got):\n%s", diff)
	}
	var info struct {
		Name string `json:"name"`
	}
	if err := rsp.Decode(&info); err != nil {
		t.Errorf("Decode: %v", err)
	} else if info.Name != "clock" {
		t.Errorf("Decode name: got %q, want clock", info.Name)
	}
}

func TestAnimate(t *testing.T) {
	_, d, b := setup(t, nil)
	ctx := context.Background()

	b.Animate(ctx, "tanh", 30, func() {
		b.Set(ctx, "clock", bar.Props{"y_offset": 10})
		b.Set(ctx, "clock", bar.Props{"y_offset": 0})
	})
	if n := len(d.Requests()); n != 1 {
		t.Errorf("Animate sent %d requests, want 1", n)
	}
	checkCommands(t, d, cmds("--animate tanh 30", "--set clock y_offset=10", "--set clock y_offset=0"))

	// A panic in the function is recovered and the transaction committed.
	d.Reset()
	b.Animate(ctx, "linear", 5, func() {
		b.Set(ctx, "clock", bar.Props{"width": 1.5})
		panic("oops")
	})
	checkCommands(t, d, cmds("--animate linear 5", "--set clock width=1.5"))
	if b.InTransaction() {
		t.Error("Transaction left open after a panic")
	}
}

func emit(t *testing.T, d *fakebar.Daemon, blob []byte) {
	t.Helper()
	if err := d.Emit(context.Background(), testHelper, blob); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}

func event(name, sender string, extra ...string) []byte {
	var eb env.Builder
	eb.Add(bar.EventItem, name).Add(bar.EventSender, sender)
	for i := 0; i+1 < len(extra); i += 2 {
		eb.Add(extra[i], extra[i+1])
	}
	return eb.Bytes()
}

func TestSubscribe(t *testing.T) {
	_, d, b := setup(t, nil)

	var μ sync.Mutex
	var got []bar.Event
	cb := func(ctx context.Context, ev bar.Event) {
		μ.Lock()
		got = append(got, ev)
		μ.Unlock()
		b.Set(ctx, ev.Name(), bar.Props{"label": "tick"})
		b.Set(ctx, ev.Name(), bar.Props{"drawing": true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Subscribe(ctx, "clock", "routine", cb); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	checkCommands(t, d, cmds(
		"--add event routine",
		"--set clock script= mach_helper="+testHelper,
		"--subscribe clock routine",
	))
	if n := len(d.Requests()); n != 2 {
		t.Errorf("Subscribe sent %d requests, want 2", n)
	}

	d.Reset()
	g := taskgroup.New(nil)
	g.Go(func() error { return b.Run(ctx) })

	emit(t, d, event("other", "routine"))                    // no subscriber
	emit(t, d, event("clock", "routine", "INFO", `{"n":1}`)) // subscribed

	wctx, wcancel := context.WithTimeout(ctx, 10*time.Second)
	defer wcancel()
	reqs, err := d.WaitFor(wctx, 2)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}

	// The update from Run, then one request for the whole callback.
	if diff := cmp.Diff(cmds("--update"), reqs[0].Commands); diff != "" {
		t.Errorf("First request (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff(cmds("--set clock label=tick", "--set clock drawing=on"), reqs[1].Commands); diff != "" {
		t.Errorf("Callback request (-want, +got):\n%s", diff)
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Errorf("Run: unexpected error: %v", err)
	}

	μ.Lock()
	defer μ.Unlock()
	if len(got) != 1 {
		t.Fatalf("Callback ran %d times, want 1", len(got))
	}
	want := bar.Event{"NAME": "clock", "SENDER": "routine", "INFO": map[string]any{"n": 1.0}}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("Event (-want, +got):\n%s", diff)
	}
}

func TestDispatch(t *testing.T) {
	_, d, b := setup(t, nil)
	ctx := context.Background()

	var calls []string
	b.Subscribe(ctx, "clock", "routine", func(context.Context, bar.Event) { calls = append(calls, "first") })
	b.Subscribe(ctx, "clock", "routine", func(context.Context, bar.Event) { calls = append(calls, "second") })
	b.Subscribe(ctx, "clock", "panic", func(ctx context.Context, ev bar.Event) {
		b.Set(ctx, "clock", bar.Props{"label": "before"})
		panic("callback failed")
	})
	d.Reset()

	if b.Dispatch(ctx, event("clock", "nothing")) {
		t.Error("Dispatch unsubscribed event: got true")
	}
	if !b.Dispatch(ctx, event("clock", "routine")) {
		t.Error("Dispatch subscribed event: got false")
	}
	if diff := cmp.Diff([]string{"second"}, calls); diff != "" {
		t.Errorf("Callbacks (-want, +got):\n%s", diff)
	}

	// A panicking callback still commits what it sent.
	if !b.Dispatch(ctx, event("clock", "panic")) {
		t.Error("Dispatch panicking callback: got false")
	}
	if b.InTransaction() {
		t.Error("Transaction left open after a panic")
	}
	checkCommands(t, d, cmds("--set clock label=before"))

	// The routine callback sent nothing, but its transaction still commits.
	if reqs := d.Requests(); len(reqs) != 2 || string(reqs[0].Raw) != "\x00" {
		t.Errorf("Requests: got %v, want an empty commit and one command", reqs)
	}
}

func TestHelperSentinel(t *testing.T) {
	_, d, b := setup(t, nil)

	killed := make(chan struct{})
	b.Server().OnKill(func() { close(killed) })

	g := taskgroup.New(nil)
	g.Go(func() error { return b.Run(context.Background()) })

	emit(t, d, barwire.Sentinel())
	<-killed
	if err := g.Wait(); !errors.Is(err, barwire.ErrKilled) {
		t.Errorf("Run: got %v, want %v", err, barwire.ErrKilled)
	}
}

func TestNoDaemon(t *testing.T) {
	ns := ports.NewMemory()
	b := bar.New(ns, &bar.Options{Helper: testHelper, Timeout: 50 * time.Millisecond})
	defer b.Close()

	if rsp := b.Query(context.Background(), "bar"); rsp != nil {
		t.Errorf("Query without daemon: got %q, want nil", rsp)
	}
}

func TestNoEvents(t *testing.T) {
	ns := ports.NewMemory()
	taken, err := ns.Register(testHelper, 1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer taken.Close()

	b := bar.New(ns, &bar.Options{Helper: testHelper})
	defer b.Close()
	if b.Events() {
		t.Error("Events: got true with the helper name taken")
	}
	if b.Server() != nil {
		t.Error("Server: got non-nil with the helper name taken")
	}
	if err := b.Run(context.Background()); !errors.Is(err, bar.ErrNoEvents) {
		t.Errorf("Run: got %v, want %v", err, bar.ErrNoEvents)
	}
}

func TestHelperName(t *testing.T) {
	if got, want := bar.HelperName(42), "git.relay.sketchybar42"; got != want {
		t.Errorf("HelperName(42): got %q, want %q", got, want)
	}
	b := bar.New(ports.NewMemory(), nil)
	defer b.Close()
	if !strings.HasPrefix(b.Helper(), "git.relay.sketchybar") {
		t.Errorf("Default helper: got %q", b.Helper())
	}
	if got := b.Client().Name(); got != bar.DaemonName {
		t.Errorf("Daemon name: got %q, want %q", got, bar.DaemonName)
	}
}
