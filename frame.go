// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// headerLen is the size in bytes of an encoded frame header:
// 2 magic, 1 version, 1 type, 4 message ID, 4 payload length.
const headerLen = 12

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = 256 << 10

// Frame is one complete message transfer between two endpoints.
type Frame struct {
	Type    FrameType
	ID      uint32 // message identifier, echoed in a reply
	Payload []byte

	// Reply, if non-nil, is a send right for the endpoint on which the sender
	// expects an answer. It is not part of the binary encoding; the namespace
	// carries it alongside the frame.
	//
	// A receiver that does not consume Reply must release it, see Release.
	Reply Port
}

// Release releases any kernel resources still held by f. It is safe to call
// Release more than once.
func (f *Frame) Release() {
	if f != nil && f.Reply != nil {
		f.Reply.Close()
		f.Reply = nil
	}
}

// Encode encodes the header and payload of f in binary format.
func (f *Frame) Encode() []byte {
	buf := make([]byte, headerLen, headerLen+len(f.Payload))
	buf[0], buf[1], buf[2], buf[3] = 'B', 'W', 0, byte(f.Type)
	binary.BigEndian.PutUint32(buf[4:], f.ID)
	binary.BigEndian.PutUint32(buf[8:], uint32(len(f.Payload)))
	return append(buf, f.Payload...)
}

// UnmarshalBinary decodes data into f. The payload of f is a copy, so the
// caller may reuse data once UnmarshalBinary returns. It implements
// encoding.BinaryUnmarshaler.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < headerLen {
		return &ProtocolError{Message: fmt.Sprintf("short frame header (%d bytes)", len(data))}
	}
	if m := string(data[:2]); m != "BW" {
		return &ProtocolError{Message: fmt.Sprintf("invalid frame magic %q", m)}
	} else if v := data[2]; v != 0 {
		return &ProtocolError{Message: fmt.Sprintf("unsupported frame version %d", v)}
	}
	plen := binary.BigEndian.Uint32(data[8:])
	if rest := len(data) - headerLen; uint64(plen) != uint64(rest) {
		return &ProtocolError{Message: fmt.Sprintf("payload length mismatch (header %d, got %d)", plen, rest)}
	}
	f.Type = FrameType(data[3])
	f.ID = binary.BigEndian.Uint32(data[4:])
	if plen > 0 {
		f.Payload = bytes.Clone(data[headerLen:])
	} else {
		f.Payload = nil
	}
	return nil
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	var pay string
	if len(f.Payload) > 32 {
		pay = fmt.Sprintf("%q ...", f.Payload[:32])
	} else {
		pay = fmt.Sprintf("%q", f.Payload)
	}
	return fmt.Sprintf("Frame(%v, ID=%d, reply=%v, %s)", f.Type, f.ID, f.Reply != nil, pay)
}

// FrameType describes the role of a frame.
//
// Frame type values from 0 to 127 inclusive are reserved by the protocol.
// Values from 128-255 are reserved for use by the implementation.
type FrameType byte

const (
	FrameMessage FrameType = 2 // A request or event delivered to an endpoint
	FrameReply   FrameType = 4 // The answer to a message that carried a reply right

	maxReservedType = 127
)

func (t FrameType) String() string {
	switch t {
	case FrameMessage:
		return "MESSAGE"
	case FrameReply:
		return "REPLY"
	default:
		return fmt.Sprintf("TYPE:%d", byte(t))
	}
}

// isSentinel reports whether payload is the reserved control frame that
// terminates a server: exactly two bytes, the first of which is 'k'.
func isSentinel(payload []byte) bool { return len(payload) == 2 && payload[0] == 'k' }

// Sentinel returns the payload of the reserved control frame.
func Sentinel() []byte { return []byte{'k', 0} }
