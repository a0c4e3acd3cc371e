// Package notifier delivers payload-free "events are pending" signals to a
// runtime. A signal carries no event data; the receiver pulls from the bridge.
package notifier

import (
	"context"
	"errors"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("notifier: closed")

// Notifier tells a runtime that it should drain pending events.
// Signal must be cheap and safe to call from any goroutine. Sending the same
// signal twice only costs one extra pull that returns nothing.
type Notifier interface {
	Signal(ctx context.Context) error
}

// Func adapts a plain function to a Notifier.
type Func func(ctx context.Context) error

// Signal calls f.
func (f Func) Signal(ctx context.Context) error {
	return f(ctx)
}

// Nop discards every signal.
type Nop struct{}

// Signal does nothing.
func (Nop) Signal(context.Context) error { return nil }

// Multi fans a signal out to several notifiers. Every notifier is called even
// when an earlier one fails; the first error is returned.
type Multi []Notifier

// Signal signals every notifier in order.
func (m Multi) Signal(ctx context.Context) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Signal(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Combine returns a notifier for the non-nil entries of ns: Nop for none, the
// notifier itself for one, otherwise a Multi.
func Combine(ns ...Notifier) Notifier {
	var out Multi
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	default:
		return out
	}
}
