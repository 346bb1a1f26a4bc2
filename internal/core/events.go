package core

import "time"

const (
	EventChargeCreated    EventType = "charge.created"
	EventChargeDeleted    EventType = "charge.deleted"
	EventInvoicePaid      EventType = "invoice.paid"
	EventCardLimitChanged EventType = "card.limit_changed"
	EventCardDeleted      EventType = "card.deleted"
)

type EventType string

// LedgerEvent records one movement of a card's available limit. Events are
// published after the owning transaction commits and kept as an audit trail.
type LedgerEvent struct {
	ID         string
	Type       EventType
	CardID     int64
	GroupID    string
	Competency *Competency
	Amount     Money
	Available  Money
	OccurredAt time.Time
}
