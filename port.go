// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import (
	"context"
	"errors"
	"fmt"
)

// QueueLimitLarge is the inbound queue depth requested for server endpoints,
// so that bursts from a busy sender do not block it.
const QueueLimitLarge = 1024

// A Port is a send right for a remote receive endpoint.
//
// The methods of an implementation must be safe for concurrent use.
type Port interface {
	// Send delivers f to the endpoint. It does not wait for the frame to be
	// received. If f.Reply is set, the send right it holds is transferred to
	// the receiver alongside the frame; the caller retains its own reference
	// and remains responsible for closing it.
	//
	// Send must not retain f.Payload after it returns.
	Send(f *Frame) error

	// Close releases the send right. Further sends must report an error.
	Close() error
}

// A Receiver is the receive right for an endpoint.
//
// A Receiver is intended for use by a single goroutine.
type Receiver interface {
	// Recv blocks until a frame arrives, ctx ends, or the receiver closes.
	// The caller owns the resulting frame and must Release it.
	Recv(ctx context.Context) (*Frame, error)

	// Close releases the receive right and withdraws any name advertised
	// for it. Pending and future Recv calls report an error.
	Close() error
}

// A Namespace is a rendezvous service mapping names to endpoints.
type Namespace interface {
	// Lookup resolves name to a send right. If name is not advertised, Lookup
	// reports an error satisfying errors.Is(err, ErrNotFound).
	Lookup(name string) (Port, error)

	// Register allocates an endpoint with the given inbound queue depth and
	// advertises it under name. If name is already advertised by a live
	// endpoint, Register reports ErrNameInUse.
	Register(name string, qlimit int) (Receiver, error)

	// NewReplyPort allocates an unadvertised endpoint for a single exchange.
	// It returns a send right for the endpoint, suitable for Frame.Reply, and
	// its receive right. The caller must close both.
	NewReplyPort() (Port, Receiver, error)
}

var (
	// ErrNotFound is reported when a name is not present in a namespace.
	ErrNotFound = errors.New("name not found")

	// ErrNameInUse is reported when registering a name that is already
	// advertised by a live endpoint.
	ErrNameInUse = errors.New("name already in use")

	// ErrNoData is reported when a send is attempted without a port or with
	// an empty payload.
	ErrNoData = errors.New("no data to send")

	// ErrTooLarge is reported when a payload exceeds MaxPayload.
	ErrTooLarge = errors.New("payload too large")
)

// TransportError is the concrete type of errors reported when a frame could
// not be delivered, after any retry.
type TransportError struct {
	Name string // the endpoint name, if known
	Err  error  // the underlying failure
}

func (t *TransportError) Error() string {
	if t.Name == "" {
		return fmt.Sprintf("transport: %v", t.Err)
	}
	return fmt.Sprintf("transport to %q: %v", t.Name, t.Err)
}

// Unwrap reports the underlying error of t.
func (t *TransportError) Unwrap() error { return t.Err }

// RegistrationError is the concrete type of errors reported when a server
// endpoint could not be allocated or advertised.
type RegistrationError struct {
	Name string
	Err  error
}

func (r *RegistrationError) Error() string {
	return fmt.Sprintf("register %q: %v", r.Name, r.Err)
}

// Unwrap reports the underlying error of r.
func (r *RegistrationError) Unwrap() error { return r.Err }

// ProtocolError is the concrete type of errors reported for a malformed
// inbound frame.
type ProtocolError struct {
	Message string
}

func (p *ProtocolError) Error() string { return "protocol error: " + p.Message }
