package services

import (
	"context"
	"fmt"
	"log/slog"

	"fatura/internal/core"
	"fatura/internal/ledger"
	"fatura/internal/storage"
)

// ReversalService deletes purchases. An installment is never removed on its
// own: the whole group goes, and a credit group gives its full total back to
// the limit even when some of its competencies were already paid.
type ReversalService struct {
	store     storage.Store
	ledger    *ledger.Ledger
	publisher Publisher
}

func NewReversalService(store storage.Store, l *ledger.Ledger, publisher Publisher) *ReversalService {
	return &ReversalService{store: store, ledger: l, publisher: publisher}
}

// DeleteCharge removes the group the charge belongs to and returns the group
// total given back to the card limit. Non-credit groups refund nothing.
func (s *ReversalService) DeleteCharge(ctx context.Context, chargeID int64) (core.Money, error) {
	probe, err := s.store.GetCharge(ctx, chargeID)
	if err != nil {
		return core.Money{}, err
	}

	var (
		refunded core.Money
		card     core.Card
		groupID  string
	)
	run := func(tx storage.Tx) error {
		ch, err := tx.GetCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		groupID = ch.GroupID

		group, err := tx.ChargesByGroup(ctx, ch.GroupID)
		if err != nil {
			return err
		}
		if err := checkGroup(ch, group); err != nil {
			slog.ErrorContext(ctx, "Orphan installment group", "group_id", ch.GroupID, "error", err)
			return err
		}

		if ch.Method.UsesLedger() && ch.CardID != nil {
			if refunded, card, err = s.restoreGroup(ctx, tx, *ch.CardID, group); err != nil {
				return err
			}
		}

		_, err = tx.DeleteGroup(ctx, ch.GroupID)
		return err
	}

	if probe.CardID != nil {
		err = s.ledger.Do(ctx, *probe.CardID, run)
	} else {
		err = s.ledger.DoUnlocked(ctx, run)
	}
	if err != nil {
		logRejected(ctx, "Charge deletion failed", err, "charge_id", chargeID)
		return core.Money{}, err
	}

	slog.InfoContext(ctx, "Charge group deleted",
		"charge_id", chargeID,
		"group_id", groupID,
		"refunded_cents", refunded.Cents)

	if probe.Method.UsesLedger() && probe.CardID != nil && card.ID != 0 {
		publish(ctx, s.publisher, core.LedgerEvent{
			Type:      core.EventChargeDeleted,
			CardID:    card.ID,
			GroupID:   groupID,
			Amount:    refunded,
			Available: card.AvailableLimit,
		})
	}
	return refunded, nil
}

func (s *ReversalService) restoreGroup(ctx context.Context, tx storage.Tx, cardID int64, group []core.Charge) (core.Money, core.Card, error) {
	total := core.ChargeGroup{Installments: group}.Sum()

	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return core.Money{}, core.Card{}, err
	}
	// A card switched to debit after its credit invoices were settled has no
	// limit left to restore.
	if !card.IsCredit() {
		slog.WarnContext(ctx, "Skipping limit restore on non-credit card", "card_id", cardID, "amount_cents", total.Cents)
		return core.Money{}, core.Card{}, nil
	}

	// Overflow is logged by the ledger; the refund reported is the full total.
	card, _, err = ledger.Restore(ctx, tx, cardID, total)
	if err != nil {
		return core.Money{}, core.Card{}, err
	}
	return total, card, nil
}

// checkGroup verifies that the stored group is complete: one row per index
// from 1 to the installment count.
func checkGroup(ch core.Charge, group []core.Charge) error {
	if len(group) != ch.InstallmentCount {
		return fmt.Errorf("group %s has %d of %d installments: %w",
			ch.GroupID, len(group), ch.InstallmentCount, core.ErrConsistency)
	}
	for i, g := range group {
		if g.InstallmentIndex != i+1 || g.InstallmentCount != ch.InstallmentCount {
			return fmt.Errorf("group %s installment %d out of sequence: %w", ch.GroupID, i+1, core.ErrConsistency)
		}
	}
	return nil
}
