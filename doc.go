// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package barwire implements the message transport between a status bar
// daemon and the programs that configure it.
//
// Endpoints are named in a [Namespace]. A process that serves requests
// registers an endpoint under a well-known name; a process that sends requests
// looks the name up to obtain a [Port], a send right for the endpoint. Each
// request is a single [Frame] carrying a byte payload and, optionally, a send
// right for a private reply endpoint on which the sender waits for the answer.
//
// The ports package provides implementations of Namespace: an in-process
// namespace for tests, and a namespace of unix datagram sockets in a
// directory.
//
// # Clients
//
// A [Client] sends requests to a named endpoint:
//
//	c := barwire.NewClient(ns, "git.felix.sketchybar")
//	rsp, err := c.Request(ctx, payload)
//
// The client resolves the name on first use and caches the result. If a send
// fails, the client discards the cached port, resolves the name again, and
// retries once. Errors reported by a client have concrete type
// [*TransportError]. A reply that does not arrive within the client's timeout
// is reported as an empty reply, not an error.
//
// # Servers
//
// A [Server] receives requests on a registered endpoint and passes each
// payload to a [Handler] on a single goroutine:
//
//	s, err := barwire.Register(ns, "git.relay.sketchybar42")
//	if err != nil {
//	   log.Fatalf("Register: %v", err)
//	}
//	s.Start(func(ctx context.Context, payload []byte) ([]byte, error) {
//	   return handle(payload), nil
//	})
//	if err := s.Wait(); err != nil {
//	   log.Fatalf("Server failed: %v", err)
//	}
//
// A payload of exactly two bytes beginning with 'k' is a sentinel. It is never
// passed to the handler; instead the server's kill action runs, which by
// default exits the process. Use [Server.OnKill] to replace it.
//
// # Metrics
//
// Clients and servers share a collection of counters, see [Metrics]:
//
//   - frames_received: counter of frames received
//   - frames_sent: counter of frames sent
//   - frames_dropped: counter of frames received and discarded
//   - requests: counter of client round trips initiated
//   - requests_failed: counter of client round trips reporting an error
//   - retries: counter of re-resolutions after a failed send
//   - reply_timeouts: counter of reply waits that ended without a reply
//   - handler_calls: counter of payloads passed to a server handler
//   - handler_errors: counter of handler calls reporting an error
//   - kills: counter of sentinel frames received
//
// It is safe for the caller to add entries to the metrics map.
package barwire
