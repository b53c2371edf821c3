// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import (
	"context"
	"errors"
	"sync"
	"time"
)

// A Client sends requests to a named endpoint in a namespace.
//
// The client resolves the name lazily and caches the resulting send right for
// the life of the client. If a send fails, the client discards the cached
// right, resolves the name once more, and retries the send once. There are at
// most two attempts per call.
//
// A Client is safe for concurrent use, but serializes its calls: at most one
// round trip is in flight at a time.
type Client struct {
	ns   Namespace
	name string

	// Timeout bounds the wait for a reply. If zero, DefaultTimeout is used.
	// It must not be modified while a call is in progress.
	Timeout time.Duration

	μ     sync.Mutex
	port  Port   // cached send right, or nil
	nexto uint32 // next unused message ID
}

// NewClient constructs a client for the endpoint advertised as name in ns.
// No lookup is performed until the first call.
func NewClient(ns Namespace, name string) *Client {
	return &Client{ns: ns, name: name}
}

// Name reports the endpoint name the client sends to.
func (c *Client) Name() string { return c.name }

// Namespace reports the namespace the client resolves names in.
func (c *Client) Namespace() Namespace { return c.ns }

// Request sends payload as one frame and waits for the reply. The reply is
// empty (not nil) if the remote endpoint did not answer in time. An error
// reported by Request has concrete type *TransportError, except that an empty
// payload reports ErrNoData and a payload longer than MaxPayload reports
// ErrTooLarge. Neither is retried.
func (c *Client) Request(ctx context.Context, payload []byte) ([]byte, error) {
	return c.call(ctx, payload, true)
}

// Notify sends payload as one frame without waiting for a reply. It retries
// in the same way as Request.
func (c *Client) Notify(ctx context.Context, payload []byte) error {
	_, err := c.call(ctx, payload, false)
	return err
}

// Resolve looks up the endpoint name and caches the result, replacing any
// send right already cached.
func (c *Client) Resolve() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.invalidateLocked()
	_, err := c.portLocked()
	return err
}

// Invalidate discards the cached send right, if any. The next call will
// resolve the name again.
func (c *Client) Invalidate() {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.invalidateLocked()
}

func (c *Client) call(ctx context.Context, payload []byte, wantReply bool) (_ []byte, err error) {
	if len(payload) == 0 {
		return nil, ErrNoData
	} else if len(payload) > MaxPayload {
		return nil, ErrTooLarge
	}
	rootMetrics.requests.Add(1)
	defer func() {
		if err != nil {
			rootMetrics.requestsFailed.Add(1)
		}
	}()

	c.μ.Lock()
	defer c.μ.Unlock()
	c.nexto++
	id := c.nexto

	// First attempt: use the cached right, resolving it if necessary.
	port, err := c.portLocked()
	if err == nil {
		rsp, serr := Send(ctx, c.ns, port, id, payload, wantReply, c.Timeout)
		if serr == nil {
			return rsp, nil
		}
		err = serr
	}

	// The right may be stale (for example, the remote restarted). Discard it,
	// resolve the name again, and try exactly once more.
	rootMetrics.retries.Add(1)
	c.invalidateLocked()
	port, rerr := c.portLocked()
	if rerr != nil {
		return nil, &TransportError{Name: c.name, Err: errors.Join(err, rerr)}
	}
	rsp, err := Send(ctx, c.ns, port, id, payload, wantReply, c.Timeout)
	if err != nil {
		c.invalidateLocked()
		return nil, &TransportError{Name: c.name, Err: err}
	}
	return rsp, nil
}

// portLocked returns the cached send right, resolving the name if none is
// cached. The caller must hold c.μ.
func (c *Client) portLocked() (Port, error) {
	if c.port != nil {
		return c.port, nil
	}
	p, err := c.ns.Lookup(c.name)
	if err != nil {
		return nil, err
	}
	c.port = p
	return p, nil
}

func (c *Client) invalidateLocked() {
	if c.port != nil {
		c.port.Close()
		c.port = nil
	}
}
