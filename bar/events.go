// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bar

import (
	"context"
	"encoding/json"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/env"
)

// Keys of an event blob that identify the subscription it answers.
const (
	EventItem   = "NAME"
	EventSender = "SENDER"
)

// cbKey identifies a subscription.
type cbKey struct {
	name, event string
}

// A Callback handles one event delivered by the daemon. Callbacks run inside
// a transaction, so the commands they send are delivered as one request when
// the callback returns.
type Callback func(context.Context, Event)

// An Event is the decoded environment of a delivered event. Values that parse
// as JSON are stored decoded; all others are stored as strings.
type Event map[string]any

// Name reports the name of the item the event was delivered for.
func (e Event) Name() string { return e.str(EventItem) }

// Sender reports the name of the event.
func (e Event) Sender() string { return e.str(EventSender) }

// str returns the value of key as a string, or "" if key is not present
// or does not hold a string.
func (e Event) str(key string) string {
	s, _ := e[key].(string)
	return s
}

// ParseEvent decodes an event environment blob.
func ParseEvent(blob []byte) Event {
	ev := make(Event)
	for k, v := range env.All(blob) {
		ev[k] = decodeValue(v)
	}
	return ev
}

// decodeValue decodes structured values (objects and arrays) from JSON, and
// leaves everything else as a string. Scalars stay strings so that, for
// example, an item named "1" is not reported as a number.
func decodeValue(s string) any {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return s
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// Dispatch decodes an event blob and calls the callback subscribed to its
// item and event, if any. The callback runs inside a transaction that is
// committed when it returns, even if it panics. Dispatch reports whether a
// callback was found.
func (b *Bar) Dispatch(ctx context.Context, blob []byte) (found bool) {
	ev := ParseEvent(blob)
	key := cbKey{name: ev.Name(), event: ev.Sender()}

	b.μ.Lock()
	cb, ok := b.cbs[key]
	b.μ.Unlock()
	if !ok {
		b.log.Debug("no callback for event", "name", key.name, "event", key.event)
		return false
	}

	b.Begin()
	defer b.Commit(ctx)
	defer func() {
		if x := recover(); x != nil {
			b.log.Error("event callback panicked (recovered)",
				"name", key.name, "event", key.event, "panic", x)
		}
	}()
	found = true
	cb(ctx, ev)
	return found
}

// Handler returns a barwire.Handler that dispatches event blobs to the
// callbacks of b. Events are not answered.
func (b *Bar) Handler() barwire.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		b.Dispatch(ctx, payload)
		return nil, nil
	}
}

// Server returns the event endpoint server of b, or nil if the endpoint could
// not be registered.
func (b *Bar) Server() *barwire.Server { return b.server }
