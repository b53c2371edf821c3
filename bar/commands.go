// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package bar

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/creachadair/barwire/tokens"
)

// Command domains understood by the daemon.
const (
	cmdBar       = "--bar"
	cmdSet       = "--set"
	cmdAdd       = "--add"
	cmdAnimate   = "--animate"
	cmdDefault   = "--default"
	cmdSubscribe = "--subscribe"
	cmdUpdate    = "--update"
	cmdQuery     = "--query"
)

// defaultPosition is the position assigned to a newly-added item. Use Set or
// the props argument of Add to move it.
const defaultPosition = "left"

// Add adds an item of the given kind ("item", "alias", "space", or "slider")
// named name to the bar. If props is non-empty, the properties are then
// applied to the new item as if by Set.
//
// Use AddBracket to add a bracket.
func (b *Bar) Add(ctx context.Context, kind, name string, props Props) error {
	switch kind {
	case "item", "alias", "space", "slider":
	case "bracket":
		return errors.New("use AddBracket to add a bracket")
	default:
		return fmt.Errorf("item kind %q is not supported", kind)
	}
	if name == "" {
		return errors.New("empty item name")
	}
	b.Send(ctx, tokens.New(defaultPosition, name, kind, cmdAdd))
	if len(props) != 0 {
		b.Set(ctx, name, props)
	}
	return nil
}

// AddBracket adds a bracket named name enclosing the given member items. The
// members are sent in the order given; this differs from the C helper API,
// which reverses them. If props is non-empty, the properties are then applied
// to the bracket as if by Set.
func (b *Bar) AddBracket(ctx context.Context, name string, members []string, props Props) error {
	if name == "" {
		return errors.New("empty bracket name")
	} else if len(members) == 0 {
		return errors.New("a bracket requires at least one member")
	}
	buf := new(tokens.Buffer)
	for i := len(members) - 1; i >= 0; i-- {
		buf.Push(members[i])
	}
	b.Send(ctx, buf.Push(name).Push("bracket").Push(cmdAdd))
	if len(props) != 0 {
		b.Set(ctx, name, props)
	}
	return nil
}

// Set applies props to the item named name.
func (b *Bar) Set(ctx context.Context, name string, props Props) Reply {
	return b.Send(ctx, props.push(new(tokens.Buffer)).Push(name).Push(cmdSet))
}

// Bar applies props to the bar itself.
func (b *Bar) Bar(ctx context.Context, props Props) Reply {
	return b.Send(ctx, props.push(new(tokens.Buffer)).Push(cmdBar))
}

// Default sets props as the defaults for items added after this call.
func (b *Bar) Default(ctx context.Context, props Props) Reply {
	return b.Send(ctx, props.push(new(tokens.Buffer)).Push(cmdDefault))
}

// Animate runs fn inside a transaction that begins with an animation command,
// so that the property changes fn makes are animated along the given curve
// over duration frames. A panic in fn is recovered and logged, and the
// transaction is committed regardless.
func (b *Bar) Animate(ctx context.Context, curve string, duration int, fn func()) {
	b.Begin()
	b.Send(ctx, tokens.New(strconv.Itoa(duration), curve, cmdAnimate))
	func() {
		defer func() {
			if x := recover(); x != nil {
				b.log.Error("animation function panicked (recovered)", "panic", x)
			}
		}()
		fn()
	}()
	b.Commit(ctx)
}

// Query commits any open transaction, then asks the daemon for information
// about what (for example "bar", "defaults", "events", or an item name) and
// returns the reply.
func (b *Bar) Query(ctx context.Context, what string) Reply {
	b.Commit(ctx)
	return b.Send(ctx, tokens.New(what, cmdQuery))
}

// Update asks the daemon to refresh all items.
func (b *Bar) Update(ctx context.Context) Reply {
	return b.Send(ctx, tokens.New(cmdUpdate))
}

// Subscribe registers cb to be called when the daemon reports event for the
// item named name, and asks the daemon to deliver that event to the event
// endpoint of b. If a callback is already registered for the same name and
// event, cb replaces it.
func (b *Bar) Subscribe(ctx context.Context, name, event string, cb Callback) error {
	if name == "" || event == "" {
		return errors.New("subscribe requires an item name and an event")
	} else if cb == nil {
		return errors.New("nil callback")
	}
	if b.server == nil {
		b.log.Warn("subscribing without an event endpoint", "name", name, "event", event)
	}

	// Declare the event, and point the item's script at our event endpoint.
	b.Send(ctx, tokens.New(
		"mach_helper="+b.helper, "script=", name, cmdSet,
		event, "event", cmdAdd,
	))

	b.μ.Lock()
	b.cbs[cbKey{name: name, event: event}] = cb
	b.μ.Unlock()

	b.Send(ctx, tokens.New(event, name, cmdSubscribe))
	return nil
}
