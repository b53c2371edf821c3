// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package bar drives a status bar daemon over a barwire namespace.
//
// A [Bar] holds the state a configuration program shares with the daemon: a
// client for the daemon's command endpoint, an optional pending transaction,
// the table of event callbacks, and the endpoint on which the daemon delivers
// events.
//
// # Commands
//
// Each command is encoded as a token buffer and sent as one request:
//
//	b := bar.New(ns, nil)
//	b.Bar(ctx, bar.Props{"height": 32, "color": 0xff1e1e2e})
//	b.Add(ctx, "item", "clock", bar.Props{"position": "right"})
//
// # Transactions
//
// Between Begin and Commit, commands are accumulated locally and sent to the
// daemon as a single request when the transaction commits. Event callbacks
// and Animate run inside a transaction automatically.
//
// # Events
//
// Subscribe registers a callback for an (item, event) pair and asks the daemon
// to deliver that event to this process. Call Run to serve events.
package bar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/tokens"
)

// DaemonName is the name under which the status bar daemon advertises its
// command endpoint.
const DaemonName = "git.felix.sketchybar"

// HelperName returns the name of the event endpoint for the given instance ID.
func HelperName(id int) string { return fmt.Sprintf("git.relay.sketchybar%d", id) }

// Options are optional settings for a Bar. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// The name of the daemon's command endpoint. Default: DaemonName.
	Daemon string

	// The name under which to advertise the event endpoint.
	// Default: HelperName(os.Getpid()).
	Helper string

	// Bound on the wait for each reply. Default: barwire.DefaultTimeout.
	Timeout time.Duration

	// Logger for operational messages. Default: discard.
	Logger *slog.Logger
}

func (o *Options) daemon() string {
	if o == nil || o.Daemon == "" {
		return DaemonName
	}
	return o.Daemon
}

func (o *Options) helper() string {
	if o == nil || o.Helper == "" {
		return HelperName(os.Getpid())
	}
	return o.Helper
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// A Bar is the process-scoped connection to a status bar daemon. Its methods
// are safe for concurrent use, but note that a transaction is shared by all
// callers: a command sent by any goroutine while a transaction is open joins
// that transaction.
type Bar struct {
	client *barwire.Client
	helper string
	log    *slog.Logger

	// server is nil if the event endpoint could not be registered.
	server *barwire.Server

	μ       sync.Mutex
	open    bool   // whether a transaction is open
	pending []byte // accumulated commands of the open transaction
	cbs     map[cbKey]Callback
}

// New constructs a Bar that sends commands to the daemon via ns, and
// registers the event endpoint in ns. If the event endpoint cannot be
// registered the failure is logged, and commands still work but events will
// not be delivered.
func New(ns barwire.Namespace, opts *Options) *Bar {
	b := &Bar{
		client: barwire.NewClient(ns, opts.daemon()),
		helper: opts.helper(),
		log:    opts.logger(),
		cbs:    make(map[cbKey]Callback),
	}
	if opts != nil && opts.Timeout > 0 {
		b.client.Timeout = opts.Timeout
	}
	srv, err := barwire.Register(ns, b.helper)
	if err != nil {
		b.log.Warn("event endpoint unavailable", "name", b.helper, "error", err)
	} else {
		b.server = srv.SetLogger(b.log)
	}
	return b
}

// Client returns the client b uses to reach the daemon.
func (b *Bar) Client() *barwire.Client { return b.client }

// Helper reports the name of the event endpoint of b.
func (b *Bar) Helper() string { return b.helper }

// Events reports whether b has a registered event endpoint.
func (b *Bar) Events() bool { return b.server != nil }

// Begin opens a transaction. If a transaction is already open, Begin does
// nothing.
func (b *Bar) Begin() {
	b.μ.Lock()
	defer b.μ.Unlock()
	if !b.open {
		b.open = true
		b.pending = nil
	}
}

// InTransaction reports whether a transaction is open.
func (b *Bar) InTransaction() bool {
	b.μ.Lock()
	defer b.μ.Unlock()
	return b.open
}

// Commit closes the open transaction and sends its accumulated commands to the
// daemon as a single request, returning the reply. If no transaction is open,
// Commit sends nothing and returns nil.
func (b *Bar) Commit(ctx context.Context) Reply {
	b.μ.Lock()
	if !b.open {
		b.μ.Unlock()
		return nil
	}
	msg := b.pending
	b.open, b.pending = false, nil
	b.μ.Unlock()

	return b.request(ctx, msg)
}

// Send sends the command in buf to the daemon. If a transaction is open, the
// command is appended to it instead and Send returns nil. Otherwise Send waits
// for and returns the reply.
//
// A failed send is logged and reported as a nil reply.
func (b *Bar) Send(ctx context.Context, buf *tokens.Buffer) Reply {
	if buf == nil || buf.Len() == 0 {
		return nil
	}
	b.μ.Lock()
	if b.open {
		b.pending = buf.AppendFlat(b.pending)
		b.μ.Unlock()
		return nil
	}
	b.μ.Unlock()
	return b.request(ctx, buf.Flatten())
}

// request sends msg, terminated as a whole with a NUL, as one request.
func (b *Bar) request(ctx context.Context, msg []byte) Reply {
	payload := append(msg[:len(msg):len(msg)], 0)
	rsp, err := b.client.Request(ctx, payload)
	if err != nil {
		b.log.Warn("command not delivered", "daemon", b.client.Name(), "error", err)
		return nil
	}
	return Reply(rsp)
}

// ErrNoEvents is reported by Run if the event endpoint is not registered.
var ErrNoEvents = errors.New("event endpoint is not registered")

// Run asks the daemon to update, then serves events until ctx ends or the
// event endpoint closes. Callbacks run one at a time on a single goroutine.
func (b *Bar) Run(ctx context.Context) error {
	b.Update(ctx)
	if b.server == nil {
		return ErrNoEvents
	}
	b.server.Start(b.Handler())
	stop := context.AfterFunc(ctx, func() { b.server.Stop() })
	defer stop()
	return b.server.Wait()
}

// Close withdraws the event endpoint of b, if any, and discards the cached
// daemon handle.
func (b *Bar) Close() error {
	b.client.Invalidate()
	if b.server != nil {
		return b.server.Stop()
	}
	return nil
}
