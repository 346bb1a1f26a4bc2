package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"fatura/internal/core"
)

// LedgerEventMessage is the wire form of a core.LedgerEvent. Amounts travel
// as integer cents.
type LedgerEventMessage struct {
	EventID         string    `json:"eventId"`
	Type            string    `json:"type"`
	CardID          int64     `json:"cardId"`
	GroupID         string    `json:"groupId,omitempty"`
	CompetencyMonth int       `json:"competencyMonth,omitempty"`
	CompetencyYear  int       `json:"competencyYear,omitempty"`
	AmountCents     int64     `json:"amountCents"`
	AvailableCents  int64     `json:"availableCents"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(e core.LedgerEvent) *LedgerEventMessage {
	msg := &LedgerEventMessage{
		EventID:        e.ID,
		Type:           string(e.Type),
		CardID:         e.CardID,
		GroupID:        e.GroupID,
		AmountCents:    e.Amount.Cents,
		AvailableCents: e.Available.Cents,
		Timestamp:      e.OccurredAt,
	}
	if e.Competency != nil {
		msg.CompetencyMonth = e.Competency.Month
		msg.CompetencyYear = e.Competency.Year
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// Event converts the message back into the domain event.
func (m *LedgerEventMessage) Event() core.LedgerEvent {
	e := core.LedgerEvent{
		ID:         m.EventID,
		Type:       core.EventType(m.Type),
		CardID:     m.CardID,
		GroupID:    m.GroupID,
		Amount:     core.Money{Cents: m.AmountCents},
		Available:  core.Money{Cents: m.AvailableCents},
		OccurredAt: m.Timestamp,
	}
	if m.CompetencyMonth != 0 {
		c := core.NewCompetency(m.CompetencyYear, m.CompetencyMonth)
		e.Competency = &c
	}
	return e
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.EventID == "" || msg.Type == "" {
		return nil, errors.New("ledger event without id or type")
	}
	return &msg, nil
}
