// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package env parses and builds environment-style key/value blobs.
//
// A blob is a flat buffer of consecutive pairs, each encoded as a key and a
// value each followed by a NUL byte, terminated by an empty key:
//
//	NAME\x00clock\x00SENDER\x00routine\x00\x00
package env

import (
	"bytes"
	"iter"
	"strings"
)

// All returns an iterator over the key/value pairs of blob, in order. The
// sequence ends at the first empty key, or at a pair that is not completely
// terminated.
func All(blob []byte) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		s := scanner{rest: blob}
		for {
			key, val, ok := s.next()
			if !ok || !yield(key, val) {
				return
			}
		}
	}
}

// Get returns the value of the first pair in blob whose key equals key, or ""
// if there is no such pair.
func Get(blob []byte, key string) string {
	for k, v := range All(blob) {
		if k == key {
			return v
		}
	}
	return ""
}

// Lookup is like Get, but also reports whether the key was present.
func Lookup(blob []byte, key string) (string, bool) {
	for k, v := range All(blob) {
		if k == key {
			return v, true
		}
	}
	return "", false
}

// scanner reads pairs from the head of a blob.
type scanner struct {
	rest []byte
}

// field reads one NUL-terminated field from the head of s.
func (s *scanner) field() ([]byte, bool) {
	i := bytes.IndexByte(s.rest, 0)
	if i < 0 {
		return nil, false
	}
	out := s.rest[:i]
	s.rest = s.rest[i+1:]
	return out, true
}

func (s *scanner) next() (key, val string, ok bool) {
	k, ok := s.field()
	if !ok || len(k) == 0 {
		return "", "", false
	}
	v, ok := s.field()
	if !ok {
		return "", "", false
	}
	return string(k), string(v), true
}

// A Builder accumulates key/value pairs into a blob. The zero value is ready
// for use as an empty builder.
type Builder struct {
	buf []byte
}

// Add appends a pair to b, and returns b to permit chaining. A pair with an
// empty key would terminate the blob, so Add ignores it. Keys and values are
// truncated at their first NUL.
func (b *Builder) Add(key, value string) *Builder {
	key, value = cut(key), cut(value)
	if key == "" {
		return b
	}
	b.buf = append(b.buf, key...)
	b.buf = append(b.buf, 0)
	b.buf = append(b.buf, value...)
	b.buf = append(b.buf, 0)
	return b
}

// Bytes returns the encoded blob, including its terminating empty key. The
// result does not alias the internal state of b.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.buf)+1)
	copy(out, b.buf)
	return out
}

func cut(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}
