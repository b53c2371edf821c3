// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bar

import (
	"bytes"
	"encoding/json"
	"errors"
)

// A Reply is the text the daemon sent in answer to a request. A nil Reply
// means no request was sent, or the request failed; an empty non-nil Reply
// means the daemon answered with no text or did not answer in time.
type Reply []byte

// String returns the reply text.
func (r Reply) String() string { return string(r) }

// Value returns the decoded reply: the JSON value if the reply is a JSON
// object or array, or otherwise the reply text as a string. Value returns nil
// for an empty reply.
func (r Reply) Value() any {
	t := bytes.TrimSpace(r)
	if len(t) == 0 {
		return nil
	}
	if t[0] == '{' || t[0] == '[' {
		var v any
		if err := json.Unmarshal(t, &v); err == nil {
			return v
		}
	}
	return string(r)
}

// ErrEmptyReply is reported by Decode for an empty reply.
var ErrEmptyReply = errors.New("empty reply")

// Decode unmarshals the reply as JSON into v.
func (r Reply) Decode(v any) error {
	if len(bytes.TrimSpace(r)) == 0 {
		return ErrEmptyReply
	}
	return json.Unmarshal(r, v)
}
