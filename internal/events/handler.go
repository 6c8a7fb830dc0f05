// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes settlement events. Handle must not block the bus.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// TokenOf returns the curve an event belongs to, or "" for unknown events.
func TokenOf(event Event) string {
	switch e := event.(type) {
	case *TokenCreatedEvent:
		if e.State != nil {
			return e.State.TokenID
		}
	case *TradeSettledEvent:
		return e.Entry.TokenID
	case *TokenGraduatedEvent:
		return e.TokenID
	case *TradeRejectedEvent:
		return e.TokenID
	}
	return ""
}

// ForToken wraps fn so it only sees events of one curve.
func ForToken(tokenID string, fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, event Event) error {
		if TokenOf(event) != tokenID {
			return nil
		}
		return fn(ctx, event)
	}
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus       *Bus
	id        string
	eventType EventType
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id, s.eventType)
}
