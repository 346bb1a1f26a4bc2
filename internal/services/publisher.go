package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fatura/internal/core"
)

// Publisher delivers ledger events once the owning transaction committed.
// *amqp.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, e core.LedgerEvent) error
}

// publish is best effort: the ledger already committed, so a broker failure
// is logged and never returned to the caller.
func publish(ctx context.Context, p Publisher, e core.LedgerEvent) {
	if p == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping ledger event", "type", e.Type, "card_id", e.CardID)
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"type", e.Type,
			"card_id", e.CardID,
			"error", err)
	}
}

func competencyRef(c core.Competency) *core.Competency {
	return &c
}
