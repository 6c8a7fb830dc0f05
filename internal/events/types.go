// internal/events/types.go
package events

import (
	"time"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/types"
)

// EventType represents the type of event.
type EventType string

const (
	// Curve lifecycle events
	TokenCreated   EventType = "token.created"
	TokenGraduated EventType = "token.graduated"

	// Trade events
	TradeSettled  EventType = "trade.settled"
	TradeRejected EventType = "trade.rejected"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"timestamp"`
}

// NewBase stamps an event of the given type.
func NewBase(t EventType, at time.Time) BaseEvent {
	return BaseEvent{EventType: t, EventTime: at}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TokenCreatedEvent is emitted when a new curve is initialized.
type TokenCreatedEvent struct {
	BaseEvent
	State *curve.ReserveState `json:"state"`
}

// TradeSettledEvent is emitted after a trade is committed.
type TradeSettledEvent struct {
	BaseEvent
	Entry ledger.Entry        `json:"entry"`
	State *curve.ReserveState `json:"state"`
}

// TokenGraduatedEvent is emitted once, by the trade that crossed the threshold.
type TokenGraduatedEvent struct {
	BaseEvent
	TokenID   string `json:"tokenId"`
	SolRaised uint64 `json:"solRaised"`
	EntryID   string `json:"entryId"`
	Version   uint64 `json:"version"`
}

// TradeRejectedEvent is emitted when a trade fails validation or commit.
type TradeRejectedEvent struct {
	BaseEvent
	TokenID   string          `json:"tokenId"`
	TradeType types.TradeType `json:"tradeType"`
	Amount    uint64          `json:"amount"`
	Wallet    string          `json:"wallet"`
	Kind      types.ErrorKind `json:"kind"`
	Reason    string          `json:"reason"`
}
