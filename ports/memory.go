// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package ports provides implementations of the barwire.Namespace interface.
package ports

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/creachadair/barwire"
)

// Memory is an in-process namespace whose endpoints are bounded queues of
// frames. Frames are passed directly without encoding; each send delivers a
// private copy of the payload, so the sender keeps ownership of its buffer.
//
// A zero Memory is ready for use. Its methods are safe for concurrent use.
type Memory struct {
	μ       sync.Mutex
	names   map[string]*memEndpoint
	lookups int
}

// NewMemory constructs a new empty in-memory namespace.
func NewMemory() *Memory { return new(Memory) }

// Lookups reports the number of Lookup calls made on m.
func (m *Memory) Lookups() int {
	m.μ.Lock()
	defer m.μ.Unlock()
	return m.lookups
}

// Lookup implements a method of the [barwire.Namespace] interface.
func (m *Memory) Lookup(name string) (barwire.Port, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.lookups++
	ep, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", name, barwire.ErrNotFound)
	}
	return &memPort{ep: ep}, nil
}

// Register implements a method of the [barwire.Namespace] interface.
func (m *Memory) Register(name string, qlimit int) (barwire.Receiver, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if _, ok := m.names[name]; ok {
		return nil, barwire.ErrNameInUse
	}
	if m.names == nil {
		m.names = make(map[string]*memEndpoint)
	}
	ep := newMemEndpoint(qlimit)
	ep.withdraw = func() {
		m.μ.Lock()
		defer m.μ.Unlock()
		if m.names[name] == ep {
			delete(m.names, name)
		}
	}
	m.names[name] = ep
	return memReceiver{ep: ep}, nil
}

// NewReplyPort implements a method of the [barwire.Namespace] interface.
func (m *Memory) NewReplyPort() (barwire.Port, barwire.Receiver, error) {
	ep := newMemEndpoint(1)
	return &memPort{ep: ep}, memReceiver{ep: ep}, nil
}

type memEndpoint struct {
	q        chan *barwire.Frame
	done     chan struct{}
	once     sync.Once
	withdraw func()
}

func newMemEndpoint(qlimit int) *memEndpoint {
	return &memEndpoint{
		q:    make(chan *barwire.Frame, max(qlimit, 1)),
		done: make(chan struct{}),
	}
}

func (e *memEndpoint) close() {
	e.once.Do(func() {
		close(e.done)
		if e.withdraw != nil {
			e.withdraw()
		}
		// Release any rights carried by frames that were never received.
		for {
			select {
			case f := <-e.q:
				f.Release()
			default:
				return
			}
		}
	})
}

// memPort is a send right for a memEndpoint.
type memPort struct {
	ep     *memEndpoint
	μ      sync.Mutex
	closed bool
}

// Send implements a method of the [barwire.Port] interface. Like a kernel
// send without a timeout, it blocks while the queue is full.
func (p *memPort) Send(f *barwire.Frame) error {
	p.μ.Lock()
	closed := p.closed
	p.μ.Unlock()
	if closed {
		return net.ErrClosed
	}
	cp := &barwire.Frame{Type: f.Type, ID: f.ID, Payload: bytes.Clone(f.Payload)}
	if f.Reply != nil {
		rp, ok := f.Reply.(*memPort)
		if !ok {
			return fmt.Errorf("reply right of type %T cannot be transferred", f.Reply)
		}
		cp.Reply = &memPort{ep: rp.ep} // a new reference to the same endpoint
	}

	select {
	case <-p.ep.done:
		return net.ErrClosed // the receive right is gone (a dead name)
	default:
	}
	select {
	case p.ep.q <- cp:
		return nil
	case <-p.ep.done:
		return net.ErrClosed
	}
}

// Close implements a method of the [barwire.Port] interface.
func (p *memPort) Close() error {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.closed = true
	return nil
}

// memReceiver is the receive right for a memEndpoint.
type memReceiver struct{ ep *memEndpoint }

// Recv implements a method of the [barwire.Receiver] interface.
func (r memReceiver) Recv(ctx context.Context) (*barwire.Frame, error) {
	select {
	case <-r.ep.done:
		return nil, net.ErrClosed
	default:
	}
	select {
	case f := <-r.ep.q:
		return f, nil
	case <-r.ep.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements a method of the [barwire.Receiver] interface.
func (r memReceiver) Close() error { r.ep.close(); return nil }
