package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fatura/internal/core"
	"fatura/internal/cycle"
	"fatura/internal/ledger"
	"fatura/internal/storage"
)

const maxDescriptionLength = 200

// NewCharge is a purchase as entered by the user. Amount is the full total;
// it is split across Installments.
type NewCharge struct {
	Method       core.PaymentMethod
	Amount       core.Money
	PurchaseDate core.Date
	Installments int
	CategoryID   int64
	Description  string
	IsFixed      bool
}

func (n NewCharge) Validate(maxInstallments int) error {
	if err := n.Method.Validate(); err != nil {
		return err
	}
	if err := n.Amount.Validate(); err != nil {
		return &core.ValidationError{Field: "amount", Err: err}
	}
	if err := n.PurchaseDate.Validate(); err != nil {
		return &core.ValidationError{Field: "purchaseDate", Err: err}
	}
	if n.Installments < 1 || n.Installments > maxInstallments {
		return &core.ValidationError{Field: "installments", Err: core.ErrInvalidInstallments}
	}
	// Every installment must carry at least one cent.
	if n.Amount.Cents < int64(n.Installments) {
		return &core.ValidationError{Field: "installments", Err: core.ErrInvalidInstallments}
	}
	desc := strings.TrimSpace(n.Description)
	if desc == "" {
		return &core.ValidationError{Field: "description", Err: core.ErrEmptyDescription}
	}
	if len(desc) > maxDescriptionLength {
		return &core.ValidationError{Field: "description", Err: core.ErrDescriptionTooLong}
	}
	return nil
}

// ChargeService records purchases. Credit purchases reserve their full total
// from the card limit at once and are split into monthly installments.
type ChargeService struct {
	ledger          *ledger.Ledger
	publisher       Publisher
	maxInstallments int
}

func NewChargeService(l *ledger.Ledger, publisher Publisher, maxInstallments int) *ChargeService {
	if maxInstallments <= 0 || maxInstallments > core.MaxInstallments {
		maxInstallments = core.MaxInstallments
	}
	return &ChargeService{ledger: l, publisher: publisher, maxInstallments: maxInstallments}
}

func (s *ChargeService) CreateCharge(ctx context.Context, nc NewCharge) (core.ChargeGroup, error) {
	if err := nc.Validate(s.maxInstallments); err != nil {
		return core.ChargeGroup{}, err
	}
	nc.Description = strings.TrimSpace(nc.Description)

	if nc.Method.UsesLedger() {
		return s.createCredit(ctx, nc)
	}
	return s.createPlain(ctx, nc)
}

func (s *ChargeService) createCredit(ctx context.Context, nc NewCharge) (core.ChargeGroup, error) {
	cardID, _ := nc.Method.CardID()
	group := core.ChargeGroup{GroupID: uuid.NewString(), Method: nc.Method, Total: nc.Amount}

	var card core.Card
	err := s.ledger.Do(ctx, cardID, func(tx storage.Tx) error {
		c, err := loadCard(ctx, tx, cardID, core.KindCredit)
		if err != nil {
			return err
		}

		comps := cycle.ResolveInstallments(nc.PurchaseDate, c.DueDay, c.ClosingOffsetDays, nc.Installments)
		for _, comp := range comps {
			paid, err := tx.IsPaid(ctx, cardID, comp)
			if err != nil {
				return err
			}
			if paid {
				return fmt.Errorf("competency %s of card %d: %w", comp, cardID, core.ErrCompetencyPaidLocked)
			}
		}

		if card, err = ledger.Consume(ctx, tx, cardID, nc.Amount); err != nil {
			return err
		}

		group.Installments, err = tx.InsertCharges(ctx, buildInstallments(group.GroupID, &cardID, nc, comps))
		return err
	})
	if err != nil {
		logRejected(ctx, "Charge rejected", err, "card_id", cardID, "amount_cents", nc.Amount.Cents)
		return core.ChargeGroup{}, err
	}

	slog.InfoContext(ctx, "Credit charge created",
		"card_id", cardID,
		"group_id", group.GroupID,
		"amount_cents", nc.Amount.Cents,
		"installments", nc.Installments,
		"available_cents", card.AvailableLimit.Cents)

	publish(ctx, s.publisher, core.LedgerEvent{
		Type:       core.EventChargeCreated,
		CardID:     cardID,
		GroupID:    group.GroupID,
		Competency: competencyRef(group.Installments[0].Competency),
		Amount:     nc.Amount,
		Available:  card.AvailableLimit,
	})
	return group, nil
}

// createPlain stores cash, pix and debit purchases. They never touch the
// limit and are billed in the purchase month.
func (s *ChargeService) createPlain(ctx context.Context, nc NewCharge) (core.ChargeGroup, error) {
	group := core.ChargeGroup{GroupID: uuid.NewString(), Method: nc.Method, Total: nc.Amount}
	first := core.NewCompetency(nc.PurchaseDate.Year(), nc.PurchaseDate.Month())
	comps := make([]core.Competency, nc.Installments)
	for i := range comps {
		comps[i] = first.AddMonths(i)
	}

	cardID, hasCard := nc.Method.CardID()
	insert := func(tx storage.Tx) error {
		var ref *int64
		if hasCard {
			if _, err := loadCard(ctx, tx, cardID, core.KindDebit); err != nil {
				return err
			}
			ref = &cardID
		}
		var err error
		group.Installments, err = tx.InsertCharges(ctx, buildInstallments(group.GroupID, ref, nc, comps))
		return err
	}

	var err error
	if hasCard {
		err = s.ledger.Do(ctx, cardID, insert)
	} else {
		err = s.ledger.DoUnlocked(ctx, insert)
	}
	if err != nil {
		logRejected(ctx, "Charge rejected", err, "method", nc.Method.String())
		return core.ChargeGroup{}, err
	}

	slog.InfoContext(ctx, "Charge created",
		"method", nc.Method.String(),
		"group_id", group.GroupID,
		"amount_cents", nc.Amount.Cents)
	return group, nil
}

func buildInstallments(groupID string, cardID *int64, nc NewCharge, comps []core.Competency) []core.Charge {
	amounts := nc.Amount.Split(nc.Installments)
	charges := make([]core.Charge, nc.Installments)
	for i := range charges {
		charges[i] = core.Charge{
			GroupID:          groupID,
			CardID:           cardID,
			Method:           nc.Method,
			Amount:           amounts[i],
			PurchaseDate:     nc.PurchaseDate,
			InstallmentCount: nc.Installments,
			InstallmentIndex: i + 1,
			Competency:       comps[i],
			CategoryID:       nc.CategoryID,
			Description:      nc.Description,
			IsFixed:          nc.IsFixed,
		}
	}
	return charges
}

// loadCard fetches a card that must be of the given kind. A missing card or a
// kind mismatch is reported as ErrInvalidCard.
func loadCard(ctx context.Context, tx storage.Tx, cardID int64, kind core.CardKind) (core.Card, error) {
	card, err := tx.GetCard(ctx, cardID)
	if errors.Is(err, core.ErrCardNotFound) {
		return core.Card{}, fmt.Errorf("card %d not found: %w", cardID, core.ErrInvalidCard)
	}
	if err != nil {
		return core.Card{}, err
	}
	if card.Kind != kind {
		return core.Card{}, fmt.Errorf("card %d is %s, want %s: %w", cardID, card.Kind, kind, core.ErrInvalidCard)
	}
	return card, nil
}

// logRejected logs expected business rejections at warn and anything else at
// error.
func logRejected(ctx context.Context, msg string, err error, args ...any) {
	args = append(args, "error", err, "class", core.Classify(err))
	switch core.Classify(err) {
	case core.ClassInternal:
		slog.ErrorContext(ctx, msg, args...)
	default:
		slog.WarnContext(ctx, msg, args...)
	}
}
