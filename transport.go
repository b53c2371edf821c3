// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import (
	"bytes"
	"context"
	"time"
)

// DefaultTimeout is the default bound on how long a sender waits for a reply.
const DefaultTimeout = time.Second

// Send delivers payload to port as a single message frame with the given ID.
//
// If wantReply is false, Send returns (nil, nil) once the frame is sent.
//
// If wantReply is true, Send allocates a reply endpoint from ns for this call,
// attaches it to the frame, and waits up to timeout for the answer. The reply
// endpoint is released before Send returns on every path. If the wait times
// out, ctx ends, or the receive fails, the reply is treated as empty rather
// than as an error, since the send itself already succeeded: Send returns an
// empty non-nil slice and a nil error. Otherwise it returns a copy of the
// reply payload up to (not including) its first NUL byte.
//
// If port is nil or payload is empty, Send reports ErrNoData. If payload is
// longer than MaxPayload, Send reports ErrTooLarge. Any error in
// allocating the reply endpoint or sending the frame is reported as-is.
func Send(ctx context.Context, ns Namespace, port Port, id uint32, payload []byte, wantReply bool, timeout time.Duration) ([]byte, error) {
	if port == nil || len(payload) == 0 {
		return nil, ErrNoData
	} else if len(payload) > MaxPayload {
		return nil, ErrTooLarge
	}
	msg := &Frame{Type: FrameMessage, ID: id, Payload: payload}
	if !wantReply {
		if err := port.Send(msg); err != nil {
			return nil, err
		}
		rootMetrics.framesSent.Add(1)
		return nil, nil
	}

	rsend, rrecv, err := ns.NewReplyPort()
	if err != nil {
		return nil, err
	}
	defer rrecv.Close()
	defer rsend.Close()

	msg.Reply = rsend
	if err := port.Send(msg); err != nil {
		return nil, err
	}
	rootMetrics.framesSent.Add(1)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rsp, err := rrecv.Recv(rctx)
	if err != nil {
		rootMetrics.replyTimeout.Add(1)
		return []byte{}, nil
	}
	defer rsp.Release()
	rootMetrics.framesRecv.Add(1)
	if rsp.Type != FrameReply {
		rootMetrics.framesDropped.Add(1)
		return []byte{}, nil
	}
	return copyReply(rsp.Payload), nil
}

// copyReply returns a copy of the prefix of data before its first NUL.
func copyReply(data []byte) []byte {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return append([]byte{}, data...)
}
