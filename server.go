// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/creachadair/taskgroup"
)

// A Handler processes the payload of an inbound message frame. Handlers are
// called one at a time, in arrival order, on the server's event loop.
//
// The payload is only valid until the handler returns; a handler that needs
// the data afterward must copy it. If the frame carried a reply right, the
// result is sent back as the reply. An error is logged and answered with an
// empty reply.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// A FrameHandler processes a frame of an implementation-defined type. Any
// error it reports is logged and the frame is discarded.
type FrameHandler func(context.Context, *Frame) error

// A FrameLogger logs a frame exchanged by a server.
type FrameLogger func(FrameInfo)

// A FrameInfo combines a frame and a flag indicating whether the frame was
// sent or received.
type FrameInfo struct {
	*Frame      // the frame being logged
	Sent   bool // whether the frame was sent (true) or received (false)
}

func (f FrameInfo) String() string {
	if f.Sent {
		return fmt.Sprintf("send %v", f.Frame)
	}
	return fmt.Sprintf("recv %v", f.Frame)
}

// A Server receives frames on an endpoint advertised in a namespace and
// dispatches them to a Handler.
//
// Call Register to allocate and advertise the endpoint, then Start to begin
// the event loop. The loop runs until Stop is called, the endpoint closes, or
// a sentinel frame arrives. Use Wait to wait for the loop to exit.
type Server struct {
	name string
	recv Receiver
	log  *slog.Logger

	tasks  *taskgroup.Group
	cancel context.CancelFunc

	μ      sync.Mutex
	err    error
	fmux   map[FrameType]FrameHandler
	flog   FrameLogger
	onExit func(error)
	kill   func()
}

// Register allocates an endpoint with a large inbound queue and advertises it
// as name in ns. An error reported by Register has concrete type
// *RegistrationError.
func Register(ns Namespace, name string) (*Server, error) {
	if name == "" {
		return nil, &RegistrationError{Name: name, Err: errors.New("empty name")}
	}
	recv, err := ns.Register(name, QueueLimitLarge)
	if err != nil {
		return nil, &RegistrationError{Name: name, Err: err}
	}
	return &Server{
		name: name,
		recv: recv,
		log:  slog.New(slog.DiscardHandler),
		kill: func() { os.Exit(0) },
	}, nil
}

// Name reports the name under which s is advertised.
func (s *Server) Name() string { return s.name }

// SetLogger sets the logger used for operational messages, and returns s to
// permit chaining. If log == nil, messages are discarded.
func (s *Server) SetLogger(log *slog.Logger) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s.log = log
	return s
}

// LogFrames registers a callback that will be invoked for each frame received
// or replied by s, including frames to be discarded. Passing nil disables
// frame logging. LogFrames returns s to permit chaining.
func (s *Server) LogFrames(log FrameLogger) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.flog = log
	return s
}

// OnExit registers a callback to be invoked when the event loop terminates,
// with the same error value that would be reported by Wait. If f == nil the
// callback is removed. OnExit returns s to permit chaining.
func (s *Server) OnExit(f func(error)) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onExit = f
	return s
}

// OnKill replaces the action taken when a sentinel frame arrives. By default
// the process exits with status 0. If the replacement returns, the event loop
// stops and Wait reports ErrKilled. OnKill returns s to permit chaining.
func (s *Server) OnKill(f func()) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	if f == nil {
		f = func() { os.Exit(0) }
	}
	s.kill = f
	return s
}

// HandleFrame registers a callback for inbound frames of the specified
// implementation-defined type. It panics if a reserved type is specified.
// Passing nil removes any handler for ftype. HandleFrame returns s to permit
// chaining.
func (s *Server) HandleFrame(ftype FrameType, h FrameHandler) *Server {
	if ftype <= maxReservedType {
		panic(fmt.Sprintf("cannot handle reserved frame type %d", ftype))
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.fmux == nil {
		s.fmux = make(map[FrameType]FrameHandler)
	}
	if h == nil {
		delete(s.fmux, ftype)
	} else {
		s.fmux[ftype] = h
	}
	return s
}

// ErrKilled is reported by Wait when the event loop stopped because of a
// sentinel frame and the kill action returned.
var ErrKilled = errors.New("server killed by sentinel frame")

// Start starts the event loop, dispatching message frames to h. Start does
// not block; call Wait to wait for the loop to exit. It panics if s is
// already started.
func (s *Server) Start(h Handler) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.tasks != nil {
		panic("server is already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.tasks = taskgroup.New(nil)
	s.tasks.Go(func() error {
		for {
			f, err := s.recv.Recv(ctx)
			if err != nil {
				s.fail(err)
				return nil
			}
			rootMetrics.framesRecv.Add(1)
			if err := s.dispatch(ctx, h, f); err != nil {
				s.fail(err)
				return nil
			}
		}
	})
	return s
}

// Stop closes the endpoint, withdrawing its name, and waits for the event
// loop to exit. It reports the same error as Wait.
func (s *Server) Stop() error {
	s.recv.Close()
	s.μ.Lock()
	cancel := s.cancel
	s.μ.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Wait()
}

// Wait blocks until the event loop exits and reports the error that caused
// it to stop. If s was not started, or stopped because its endpoint closed,
// Wait returns nil.
func (s *Server) Wait() error {
	s.μ.Lock()
	t := s.tasks
	s.μ.Unlock()
	if t == nil {
		return nil
	}
	t.Wait()

	s.μ.Lock()
	defer s.μ.Unlock()
	if treatErrorAsSuccess(s.err) {
		return nil
	}
	return s.err
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// fail records the status of the loop and closes the endpoint.
func (s *Server) fail(err error) {
	s.recv.Close()

	s.μ.Lock()
	defer s.μ.Unlock()
	s.err = err
	if s.onExit != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		s.onExit(err)
	}
}

// dispatch routes one inbound frame. Any error it reports stops the loop.
// The frame is released on every path.
func (s *Server) dispatch(ctx context.Context, h Handler, f *Frame) error {
	defer f.Release()

	s.μ.Lock()
	flog, log, kill := s.flog, s.log, s.kill
	fh, custom := s.fmux[f.Type]
	s.μ.Unlock()

	if flog != nil {
		flog(FrameInfo{Frame: f})
	}

	switch {
	case f.Type == FrameMessage:
		// handled below

	case custom:
		if err := callFrameHandler(ctx, fh, f); err != nil {
			log.Error("frame handler failed", "type", f.Type, "error", err)
		}
		return nil

	default:
		rootMetrics.framesDropped.Add(1)
		log.Debug("dropped frame", "type", f.Type, "id", f.ID)
		return nil
	}

	if f.Payload == nil {
		// No payload region; there is nothing to deliver.
		rootMetrics.framesDropped.Add(1)
		return nil
	}
	if isSentinel(f.Payload) {
		rootMetrics.kills.Add(1)
		log.Info("sentinel frame received, exiting", "name", s.name)
		kill()
		return ErrKilled
	}

	rootMetrics.handlerCalls.Add(1)
	data, err := callHandler(ctx, h, f.Payload)
	if err != nil {
		rootMetrics.handlerErrors.Add(1)
		log.Error("handler failed", "name", s.name, "id", f.ID, "error", err)
		data = nil
	} else if len(data) > MaxPayload {
		rootMetrics.handlerErrors.Add(1)
		log.Error("handler reply too large", "name", s.name, "id", f.ID, "size", len(data))
		data = nil
	}
	if f.Reply == nil {
		return nil
	}

	rsp := &Frame{Type: FrameReply, ID: f.ID, Payload: data}
	if flog != nil {
		flog(FrameInfo{Frame: rsp, Sent: true})
	}
	if err := f.Reply.Send(rsp); err != nil {
		// The sender may have given up waiting; that is not fatal.
		log.Debug("reply not delivered", "id", f.ID, "error", err)
	} else {
		rootMetrics.framesSent.Add(1)
	}
	return nil
}

func callHandler(ctx context.Context, h Handler, payload []byte) (_ []byte, err error) {
	// Ensure a panic out of the handler is turned into an error.
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("handler panicked (recovered): %v", x)
		}
	}()
	return h(ctx, payload)
}

func callFrameHandler(ctx context.Context, h FrameHandler, f *Frame) (err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("frame handler panicked (recovered): %v", x)
		}
	}()
	return h(ctx, f)
}
