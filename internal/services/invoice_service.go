package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fatura/internal/core"
	"fatura/internal/cycle"
	"fatura/internal/ledger"
	"fatura/internal/storage"
)

// InvoiceService pays closed invoices and builds statement views.
type InvoiceService struct {
	store     storage.Store
	ledger    *ledger.Ledger
	publisher Publisher
}

func NewInvoiceService(store storage.Store, l *ledger.Ledger, publisher Publisher) *InvoiceService {
	return &InvoiceService{store: store, ledger: l, publisher: publisher}
}

// PayInvoice marks a closed competency as paid and gives its total back to
// the card limit. A nil competency means the most recently closed one.
func (s *InvoiceService) PayInvoice(ctx context.Context, cardID int64, comp *core.Competency, today time.Time) (core.InvoicePayment, error) {
	var (
		payment core.InvoicePayment
		card    core.Card
	)
	err := s.ledger.Do(ctx, cardID, func(tx storage.Tx) error {
		c, err := creditCardOf(ctx, tx, cardID)
		if err != nil {
			return err
		}

		target := cycle.LastClosed(today, c.DueDay, c.ClosingOffsetDays)
		if comp != nil {
			target = *comp
		}
		if err := target.Validate(); err != nil {
			return &core.ValidationError{Field: "competency", Err: err}
		}

		paid, err := tx.IsPaid(ctx, cardID, target)
		if err != nil {
			return err
		}
		if paid {
			return fmt.Errorf("competency %s of card %d: %w", target, cardID, core.ErrAlreadyPaid)
		}
		if !cycle.IsClosed(target, c.DueDay, c.ClosingOffsetDays, today) {
			return fmt.Errorf("competency %s closes on %s: %w", target,
				cycle.ClosingDate(target, c.DueDay, c.ClosingOffsetDays), core.ErrCycleNotClosed)
		}

		total, err := tx.SumCompetency(ctx, cardID, target)
		if err != nil {
			return err
		}
		if card, _, err = ledger.Restore(ctx, tx, cardID, total); err != nil {
			return err
		}

		payment = core.InvoicePayment{
			CardID:         cardID,
			Competency:     target,
			AmountRefunded: total,
			PaidAt:         today.UTC(),
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		logRejected(ctx, "Invoice payment rejected", err, "card_id", cardID)
		return core.InvoicePayment{}, err
	}

	slog.InfoContext(ctx, "Invoice paid",
		"card_id", cardID,
		"competency", payment.Competency.String(),
		"refunded_cents", payment.AmountRefunded.Cents,
		"available_cents", card.AvailableLimit.Cents)

	publish(ctx, s.publisher, core.LedgerEvent{
		Type:       core.EventInvoicePaid,
		CardID:     cardID,
		Competency: competencyRef(payment.Competency),
		Amount:     payment.AmountRefunded,
		Available:  card.AvailableLimit,
		OccurredAt: payment.PaidAt,
	})
	return payment, nil
}

// GetInvoice builds the statement of one competency.
func (s *InvoiceService) GetInvoice(ctx context.Context, cardID int64, comp core.Competency, today time.Time) (core.Invoice, error) {
	if err := comp.Validate(); err != nil {
		return core.Invoice{}, &core.ValidationError{Field: "competency", Err: err}
	}
	card, err := creditCardOf(ctx, s.store, cardID)
	if err != nil {
		return core.Invoice{}, err
	}
	return s.invoice(ctx, card, comp, today)
}

// ListInvoices returns every competency of the card that has charges or a
// payment, newest first.
func (s *InvoiceService) ListInvoices(ctx context.Context, cardID int64, today time.Time) ([]core.Invoice, error) {
	card, err := creditCardOf(ctx, s.store, cardID)
	if err != nil {
		return nil, err
	}
	comps, err := s.store.CompetenciesWithActivity(ctx, cardID)
	if err != nil {
		return nil, err
	}

	invoices := make([]core.Invoice, 0, len(comps))
	for _, comp := range comps {
		inv, err := s.invoice(ctx, card, comp, today)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (s *InvoiceService) invoice(ctx context.Context, card core.Card, comp core.Competency, today time.Time) (core.Invoice, error) {
	charges, err := s.store.ChargesByCompetency(ctx, card.ID, comp)
	if err != nil {
		return core.Invoice{}, err
	}
	payment, paid, err := s.store.GetPayment(ctx, card.ID, comp)
	if err != nil {
		return core.Invoice{}, err
	}

	inv := core.Invoice{
		CardID:      card.ID,
		Competency:  comp,
		DueDate:     cycle.DueDate(comp, card.DueDay),
		ClosingDate: cycle.ClosingDate(comp, card.DueDay, card.ClosingOffsetDays),
		State:       cycle.State(comp, card.DueDay, card.ClosingOffsetDays, today, paid),
		Charges:     charges,
	}
	for _, ch := range charges {
		inv.Total = inv.Total.Add(ch.Amount)
	}
	if paid {
		paidAt := payment.PaidAt
		inv.PaidAt = &paidAt
	}
	return inv, nil
}

type cardGetter interface {
	GetCard(ctx context.Context, id int64) (core.Card, error)
}

func creditCardOf(ctx context.Context, g cardGetter, cardID int64) (core.Card, error) {
	card, err := g.GetCard(ctx, cardID)
	if err != nil {
		return core.Card{}, err
	}
	if !card.IsCredit() {
		return core.Card{}, fmt.Errorf("card %d is %s: %w", cardID, card.Kind, core.ErrInvalidCard)
	}
	return card, nil
}
