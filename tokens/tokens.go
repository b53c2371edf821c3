// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package tokens implements the token buffer used to encode commands.
//
// A command is an ordered list of string tokens. On the wire each token is
// followed by a single NUL byte, and the tokens are concatenated with no other
// separator:
//
//	--set\x00clock\x00label=12:00\x00
//
// A Buffer collects tokens in the reverse of their wire order, so that callers
// can push the innermost arguments first and the command name last:
//
//	var b tokens.Buffer
//	b.Push("label=12:00")
//	b.Push("clock")
//	b.Push("--set")
//	wire := b.Flatten() // "--set\x00clock\x00label=12:00\x00"
package tokens

import (
	"bytes"
	"slices"
	"strings"
)

// A Buffer is an ordered, growable sequence of tokens. The zero value is
// ready for use as an empty buffer. A Buffer must not be copied after first
// use; use Clone to duplicate it.
type Buffer struct {
	toks []string
	size int // total encoded length, including terminators
}

// New constructs a buffer holding the specified tokens, pushed in order.
func New(toks ...string) *Buffer {
	b := new(Buffer)
	for _, t := range toks {
		b.Push(t)
	}
	return b
}

// Push appends a copy of tok to b, and returns b to permit chaining. Because a
// token cannot contain NUL on the wire, tok is truncated at its first NUL.
func (b *Buffer) Push(tok string) *Buffer {
	if i := strings.IndexByte(tok, 0); i >= 0 {
		tok = tok[:i]
	}
	tok = strings.Clone(tok)
	b.toks = append(b.toks, tok)
	b.size += len(tok) + 1
	return b
}

// Pop removes the most recently pushed token from b. If b is empty, Pop does
// nothing.
func (b *Buffer) Pop() {
	if len(b.toks) == 0 {
		return
	}
	n := len(b.toks) - 1
	b.size -= len(b.toks[n]) + 1
	b.toks[n] = ""
	b.toks = b.toks[:n]
}

// Len reports the number of tokens in b.
func (b *Buffer) Len() int { return len(b.toks) }

// Size reports the length in bytes of the flattened encoding of b.
func (b *Buffer) Size() int { return b.size }

// Clone returns an independent copy of b with the same tokens in the same
// order.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{toks: slices.Clone(b.toks), size: b.size}
}

// Tokens returns a copy of the tokens of b in wire order, that is, from the
// most recently pushed to the first.
func (b *Buffer) Tokens() []string {
	out := slices.Clone(b.toks)
	slices.Reverse(out)
	return out
}

// Flatten returns the wire encoding of b: each token from the most recently
// pushed to the first, each followed by one NUL byte.
//
// If b is empty, Flatten returns nil, which is distinct from the encoding of a
// buffer holding a single empty token ("\x00").
func (b *Buffer) Flatten() []byte {
	if len(b.toks) == 0 {
		return nil
	}
	return b.AppendFlat(make([]byte, 0, b.size))
}

// AppendFlat appends the wire encoding of b to buf and returns the updated
// slice. If b is empty, buf is returned unmodified.
func (b *Buffer) AppendFlat(buf []byte) []byte {
	for i := len(b.toks) - 1; i >= 0; i-- {
		buf = append(buf, b.toks[i]...)
		buf = append(buf, 0)
	}
	return buf
}

// Reset discards all the tokens of b, leaving it empty. Resetting an empty
// buffer does nothing.
func (b *Buffer) Reset() {
	clear(b.toks)
	b.toks = b.toks[:0]
	b.size = 0
}

// String returns a human-friendly rendering of the tokens of b in wire order.
func (b *Buffer) String() string {
	return "[" + strings.Join(b.Tokens(), " ") + "]"
}

// Split parses a wire-encoded command buffer into its tokens, in wire order.
// A trailing fragment with no terminating NUL is reported as a final token.
// Split(nil) returns nil.
func Split(data []byte) []string {
	var out []string
	for len(data) != 0 {
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			out = append(out, string(data))
			break
		}
		out = append(out, string(data[:i]))
		data = data[i+1:]
	}
	return out
}
