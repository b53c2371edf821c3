// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package fakebar provides a fake status bar daemon, suitable for testing.
//
// A Daemon advertises a command endpoint in a namespace, records each request
// it receives split into commands, and answers with the text produced by a
// caller-provided ReplyFunc. It can also deliver events to a helper endpoint
// the way the real daemon does.
package fakebar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/tokens"
)

// A Request is one request received by a Daemon.
type Request struct {
	Raw      []byte     // the payload as received
	Commands [][]string // the tokens of the payload, grouped by command
}

// String renders the commands of r one per line.
func (r Request) String() string {
	lines := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		lines[i] = strings.Join(c, " ")
	}
	return strings.Join(lines, "\n")
}

// ParseRequest splits a request payload into commands. Each command begins
// with a token having the prefix "--". Tokens before the first command are
// reported as a command of their own. The terminating NUL of the payload is
// not reported as a token, so a payload consisting of only the terminator has
// no commands.
func ParseRequest(payload []byte) Request {
	toks := tokens.Split(payload)
	if n := len(toks); n != 0 && toks[n-1] == "" && isTerminated(payload) {
		toks = toks[:n-1]
	}
	var cmds [][]string
	for _, tok := range toks {
		if strings.HasPrefix(tok, "--") || len(cmds) == 0 {
			cmds = append(cmds, []string{tok})
			continue
		}
		last := len(cmds) - 1
		cmds[last] = append(cmds[last], tok)
	}
	return Request{Raw: payload, Commands: cmds}
}

// isTerminated reports whether payload ends with an empty token, either as a
// bare NUL or as a NUL following the NUL of the last token.
func isTerminated(payload []byte) bool {
	n := len(payload)
	return n == 1 || (n >= 2 && payload[n-2] == 0)
}

// A ReplyFunc computes the reply text for a request. A nil result is sent as
// an empty reply.
type ReplyFunc func(Request) []byte

// A Daemon is a fake status bar daemon.
type Daemon struct {
	ns    barwire.Namespace
	name  string
	reply ReplyFunc

	μ      sync.Mutex
	srv    *barwire.Server
	reqs   []Request
	notify chan struct{} // closed and replaced when a request arrives
	killed bool
}

// Start registers a daemon as name in ns and starts serving requests. If
// reply == nil, every request is answered with an empty reply.
func Start(ns barwire.Namespace, name string, reply ReplyFunc) (*Daemon, error) {
	if reply == nil {
		reply = func(Request) []byte { return nil }
	}
	d := &Daemon{ns: ns, name: name, reply: reply, notify: make(chan struct{})}
	if err := d.start(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daemon) start() error {
	srv, err := barwire.Register(d.ns, d.name)
	if err != nil {
		return err
	}
	srv.OnKill(func() {
		d.μ.Lock()
		defer d.μ.Unlock()
		d.killed = true
	})
	d.μ.Lock()
	d.srv = srv
	d.μ.Unlock()
	srv.Start(d.handle)
	return nil
}

func (d *Daemon) handle(ctx context.Context, payload []byte) ([]byte, error) {
	req := ParseRequest(bytes.Clone(payload))

	d.μ.Lock()
	d.reqs = append(d.reqs, req)
	close(d.notify)
	d.notify = make(chan struct{})
	d.μ.Unlock()

	return d.reply(req), nil
}

// Name reports the name under which d is advertised.
func (d *Daemon) Name() string { return d.name }

// Requests returns a copy of the requests received by d, in order.
func (d *Daemon) Requests() []Request {
	d.μ.Lock()
	defer d.μ.Unlock()
	return slices.Clone(d.reqs)
}

// Commands returns the commands of all the requests received by d, in order.
func (d *Daemon) Commands() [][]string {
	var out [][]string
	for _, r := range d.Requests() {
		out = append(out, r.Commands...)
	}
	return out
}

// Reset discards the requests recorded by d.
func (d *Daemon) Reset() {
	d.μ.Lock()
	defer d.μ.Unlock()
	d.reqs = nil
}

// WaitFor blocks until d has recorded at least n requests or ctx ends, and
// returns the requests recorded so far.
func (d *Daemon) WaitFor(ctx context.Context, n int) ([]Request, error) {
	for {
		d.μ.Lock()
		reqs, ready := slices.Clone(d.reqs), d.notify
		d.μ.Unlock()
		if len(reqs) >= n {
			return reqs, nil
		}
		select {
		case <-ctx.Done():
			return reqs, ctx.Err()
		case <-ready:
		}
	}
}

// Killed reports whether d has received a sentinel frame.
func (d *Daemon) Killed() bool {
	d.μ.Lock()
	defer d.μ.Unlock()
	return d.killed
}

// Stop withdraws the endpoint of d and waits for its server to exit.
func (d *Daemon) Stop() error {
	d.μ.Lock()
	srv := d.srv
	d.μ.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Stop()
}

// Wait blocks until the server of d exits.
func (d *Daemon) Wait() error {
	d.μ.Lock()
	srv := d.srv
	d.μ.Unlock()
	return srv.Wait()
}

// Restart stops d and registers a fresh endpoint under the same name, as when
// the real daemon is relaunched. Handles to the old endpoint become invalid.
// Recorded requests are preserved.
func (d *Daemon) Restart() error {
	if err := d.Stop(); err != nil && !errors.Is(err, barwire.ErrKilled) {
		return err
	}
	return d.start()
}

// Emit delivers an event to the helper endpoint advertised as helper, as the
// real daemon does for subscribed events. The blob is an environment blob as
// built by env.Builder. Emit does not wait for a reply.
func (d *Daemon) Emit(ctx context.Context, helper string, blob []byte) error {
	port, err := d.ns.Lookup(helper)
	if err != nil {
		return fmt.Errorf("emit to %q: %w", helper, err)
	}
	defer port.Close()
	_, err = barwire.Send(ctx, d.ns, port, 0, blob, false, 0)
	return err
}
