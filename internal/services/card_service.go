package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fatura/internal/core"
	"fatura/internal/cycle"
	"fatura/internal/ledger"
	"fatura/internal/storage"
)

type NewCard struct {
	Name              string
	LastDigits        string
	Kind              core.CardKind
	Color             string
	CreditLimit       core.Money
	DueDay            int
	ClosingOffsetDays int
}

// CardService manages cards. Limit and kind changes go through the ledger so
// they serialize with charges and payments on the same card.
type CardService struct {
	store     storage.Store
	ledger    *ledger.Ledger
	publisher Publisher
}

func NewCardService(store storage.Store, l *ledger.Ledger, publisher Publisher) *CardService {
	return &CardService{store: store, ledger: l, publisher: publisher}
}

func (s *CardService) CreateCard(ctx context.Context, nc NewCard) (core.Card, error) {
	card := core.Card{
		Name:              strings.TrimSpace(nc.Name),
		LastDigits:        strings.TrimSpace(nc.LastDigits),
		Kind:              nc.Kind,
		Color:             strings.TrimSpace(nc.Color),
		DueDay:            nc.DueDay,
		ClosingOffsetDays: nc.ClosingOffsetDays,
	}
	if card.IsCredit() {
		card.CreditLimit = nc.CreditLimit
		card.AvailableLimit = nc.CreditLimit
	}
	if err := validateCard(card); err != nil {
		return core.Card{}, err
	}

	card, err := s.store.InsertCard(ctx, card)
	if err != nil {
		return core.Card{}, fmt.Errorf("create card: %w", err)
	}

	slog.InfoContext(ctx, "Card created",
		"card_id", card.ID,
		"kind", card.Kind,
		"limit_cents", card.CreditLimit.Cents)
	return card, nil
}

// validateCard also checks the cycle of a debit card when one was given, so
// that it can later become a credit card.
func validateCard(c core.Card) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.IsCredit() && (c.DueDay != 0 || c.ClosingOffsetDays != 0) {
		return core.ValidateCycle(c.DueDay, c.ClosingOffsetDays)
	}
	return nil
}

// UpdateCard edits a card. The billing cycle never changes after creation;
// a new limit recomputes the available limit from the unpaid balance.
func (s *CardService) UpdateCard(ctx context.Context, id int64, upd core.CardUpdate) (core.Card, error) {
	var (
		card         core.Card
		limitChanged bool
	)
	err := s.ledger.Do(ctx, id, func(tx storage.Tx) error {
		c, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}
		if upd.DueDay != nil && *upd.DueDay != c.DueDay {
			return &core.ValidationError{Field: "dueDay", Err: core.ErrCycleImmutable}
		}
		if upd.ClosingOffsetDays != nil && *upd.ClosingOffsetDays != c.ClosingOffsetDays {
			return &core.ValidationError{Field: "closingOffsetDays", Err: core.ErrCycleImmutable}
		}

		if upd.Name != nil {
			c.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.LastDigits != nil {
			c.LastDigits = strings.TrimSpace(*upd.LastDigits)
		}
		if upd.Color != nil {
			c.Color = strings.TrimSpace(*upd.Color)
		}

		oldLimit := c.CreditLimit
		if upd.Kind != nil && *upd.Kind != c.Kind {
			if err := changeKind(ctx, tx, &c, *upd.Kind, upd.CreditLimit); err != nil {
				return err
			}
			limitChanged = true
		}
		if !c.IsCredit() && upd.CreditLimit != nil {
			return &core.ValidationError{Field: "limit", Err: core.ErrInvalidKind}
		}
		if err := validateCard(c); err != nil {
			return err
		}
		if c, err = tx.UpdateCardDetails(ctx, c); err != nil {
			return err
		}

		if c.IsCredit() && upd.CreditLimit != nil && *upd.CreditLimit != oldLimit {
			if c, err = ledger.SetLimit(ctx, tx, id, *upd.CreditLimit); err != nil {
				return err
			}
			limitChanged = true
		}
		card = c
		return nil
	})
	if err != nil {
		logRejected(ctx, "Card update rejected", err, "card_id", id)
		return core.Card{}, err
	}

	slog.InfoContext(ctx, "Card updated",
		"card_id", id,
		"kind", card.Kind,
		"limit_cents", card.CreditLimit.Cents,
		"available_cents", card.AvailableLimit.Cents)

	if limitChanged {
		publish(ctx, s.publisher, core.LedgerEvent{
			Type:      core.EventCardLimitChanged,
			CardID:    id,
			Amount:    card.CreditLimit,
			Available: card.AvailableLimit,
		})
	}
	return card, nil
}

// changeKind switches a card between credit and debit. Dropping the credit
// side is refused while any unpaid credit balance remains; becoming a credit
// card needs a limit and a cycle recorded at creation.
func changeKind(ctx context.Context, tx storage.Tx, c *core.Card, kind core.CardKind, limit *core.Money) error {
	if !kind.Valid() {
		return &core.ValidationError{Field: "kind", Err: core.ErrInvalidKind}
	}

	if kind == core.KindDebit {
		outstanding, err := tx.SumUnpaid(ctx, c.ID)
		if err != nil {
			return err
		}
		if outstanding.Cents > 0 {
			return fmt.Errorf("card %d owes %s: %w", c.ID, outstanding, core.ErrKindChangeBlocked)
		}
		c.Kind = core.KindDebit
		c.CreditLimit = core.Money{}
		c.AvailableLimit = core.Money{}
		return nil
	}

	if err := core.ValidateCycle(c.DueDay, c.ClosingOffsetDays); err != nil {
		return fmt.Errorf("card %d has no billing cycle: %w", c.ID, core.ErrKindChangeBlocked)
	}
	if limit == nil {
		return &core.ValidationError{Field: "limit", Err: core.ErrInvalidAmount}
	}
	if err := limit.Validate(); err != nil {
		return &core.ValidationError{Field: "limit", Err: err}
	}
	outstanding, err := tx.SumUnpaid(ctx, c.ID)
	if err != nil {
		return err
	}
	c.Kind = core.KindCredit
	c.CreditLimit = *limit
	if outstanding.Cents >= limit.Cents {
		c.AvailableLimit = core.Money{}
	} else {
		c.AvailableLimit = limit.Sub(outstanding)
	}
	return nil
}

// DeleteCard removes a card with its past charges and payments. Cards with
// charges in the current or a later competency are kept.
func (s *CardService) DeleteCard(ctx context.Context, id int64, today time.Time) error {
	err := s.ledger.Do(ctx, id, func(tx storage.Tx) error {
		c, err := tx.GetCard(ctx, id)
		if err != nil {
			return err
		}

		current := core.NewCompetency(today.Year(), int(today.Month()))
		if c.IsCredit() {
			current = cycle.Current(today, c.DueDay, c.ClosingOffsetDays)
		}
		n, err := tx.CountChargesFrom(ctx, id, current)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("card %d has %d charges from %s: %w", id, n, current, core.ErrCardHasOpenCharges)
		}
		return tx.DeleteCard(ctx, id)
	})
	if err != nil {
		logRejected(ctx, "Card deletion rejected", err, "card_id", id)
		return err
	}

	slog.InfoContext(ctx, "Card deleted", "card_id", id)
	publish(ctx, s.publisher, core.LedgerEvent{Type: core.EventCardDeleted, CardID: id})
	return nil
}

func (s *CardService) GetCard(ctx context.Context, id int64) (core.Card, error) {
	return s.store.GetCard(ctx, id)
}

func (s *CardService) ListCards(ctx context.Context) ([]core.Card, error) {
	return s.store.ListCards(ctx)
}
