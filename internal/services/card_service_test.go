package services

import (
	"context"
	"errors"
	"testing"

	"fatura/internal/core"
)

func ptr[T any](v T) *T { return &v }

func TestCreateCard(t *testing.T) {
	tests := []struct {
		name    string
		card    NewCard
		wantErr error
	}{
		{
			name: "credit",
			card: NewCard{Name: "Visa", LastDigits: "1234", Kind: core.KindCredit,
				CreditLimit: core.Money{Cents: 100000}, DueDay: 10, ClosingOffsetDays: 7},
		},
		{
			name: "debit without cycle",
			card: NewCard{Name: "Conta", LastDigits: "4321", Kind: core.KindDebit},
		},
		{
			name:    "credit without limit",
			card:    NewCard{Name: "Visa", LastDigits: "1234", Kind: core.KindCredit, DueDay: 10, ClosingOffsetDays: 7},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name: "due day out of range",
			card: NewCard{Name: "Visa", LastDigits: "1234", Kind: core.KindCredit,
				CreditLimit: core.Money{Cents: 1}, DueDay: 32, ClosingOffsetDays: 7},
			wantErr: core.ErrInvalidDueDay,
		},
		{
			name: "zero offset",
			card: NewCard{Name: "Visa", LastDigits: "1234", Kind: core.KindCredit,
				CreditLimit: core.Money{Cents: 1}, DueDay: 10},
			wantErr: core.ErrInvalidClosingOffset,
		},
		{
			name:    "bad last digits",
			card:    NewCard{Name: "Visa", LastDigits: "12a4", Kind: core.KindDebit},
			wantErr: core.ErrInvalidLastDigits,
		},
		{
			name:    "unknown kind",
			card:    NewCard{Name: "Visa", LastDigits: "1234", Kind: "prepaid"},
			wantErr: core.ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			card, err := f.cards.CreateCard(context.Background(), tt.card)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if card.ID == 0 || card.Version != 1 {
				t.Errorf("card not stored: %+v", card)
			}
			if card.AvailableLimit != card.CreditLimit {
				t.Errorf("available %s != limit %s", card.AvailableLimit, card.CreditLimit)
			}
		})
	}
}

func TestUpdateCard_Limit(t *testing.T) {
	f := newFixture(t)
	card := f.creditCard(t, 100000)
	ctx := context.Background()

	f.buy(t, card.ID, 30000, core.NewDate(2025, 6, 1), 1)  // Jun
	f.buy(t, card.ID, 20000, core.NewDate(2025, 6, 10), 1) // Jul
	june := core.NewCompetency(2025, 6)
	if _, err := f.invoices.PayInvoice(ctx, card.ID, &june, day(2025, 6, 6)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		limit     int64
		wantAvail int64
	}{
		{150000, 130000},
		{25000, 5000},
		{10000, 0},
	}
	for _, tt := range tests {
		updated, err := f.cards.UpdateCard(ctx, card.ID, core.CardUpdate{CreditLimit: &core.Money{Cents: tt.limit}})
		if err != nil {
			t.Fatalf("limit %d: %v", tt.limit, err)
		}
		if updated.AvailableLimit.Cents != tt.wantAvail {
			t.Errorf("limit %d: available = %d, want %d", tt.limit, updated.AvailableLimit.Cents, tt.wantAvail)
		}
	}

	// Lowering the limit under the outstanding balance blocks new purchases.
	_, err := f.charges.CreateCharge(ctx, NewCharge{
		Method: core.Credit(card.ID), Amount: core.Money{Cents: 1}, PurchaseDate: core.NewDate(2025, 6, 10),
		Installments: 1, Description: "Gum",
	})
	if !errors.Is(err, core.ErrInsufficientLimit) {
		t.Errorf("error = %v, want ErrInsufficientLimit", err)
	}
}

func TestUpdateCard_Details(t *testing.T) {
	f := newFixture(t)
	card := f.creditCard(t, 100000)
	ctx := context.Background()

	updated, err := f.cards.UpdateCard(ctx, card.ID, core.CardUpdate{
		Name:              ptr("Visa Black"),
		Color:             ptr("#000000"),
		LastDigits:        ptr("9876"),
		DueDay:            ptr(15),
		ClosingOffsetDays: ptr(10),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Visa Black" || updated.Color != "#000000" || updated.LastDigits != "9876" {
		t.Errorf("unexpected card: %+v", updated)
	}
	if updated.AvailableLimit.Cents != 100000 || updated.Version <= card.Version {
		t.Errorf("limits or version wrong: %+v", updated)
	}
}

func TestUpdateCard_Rejections(t *testing.T) {
	f := newFixture(t)
	card := f.creditCard(t, 100000)
	ctx := context.Background()
	f.buy(t, card.ID, 1000, core.NewDate(2025, 6, 1), 1)

	tests := []struct {
		name string
		upd  core.CardUpdate
		want error
	}{
		{"due day change", core.CardUpdate{DueDay: ptr(20)}, core.ErrCycleImmutable},
		{"offset change", core.CardUpdate{ClosingOffsetDays: ptr(3)}, core.ErrCycleImmutable},
		{"empty name", core.CardUpdate{Name: ptr(" ")}, core.ErrEmptyName},
		{"zero limit", core.CardUpdate{CreditLimit: &core.Money{}}, core.ErrInvalidAmount},
		{"to debit with balance", core.CardUpdate{Kind: ptr(core.KindDebit)}, core.ErrKindChangeBlocked},
		{"unknown kind", core.CardUpdate{Kind: ptr(core.CardKind("gold"))}, core.ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.cards.UpdateCard(ctx, card.ID, tt.upd)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	got, _ := f.cards.GetCard(ctx, card.ID)
	if got.DueDay != 15 || got.AvailableLimit.Cents != 99000 {
		t.Errorf("card changed by rejected updates: %+v", got)
	}
	if _, err := f.cards.UpdateCard(ctx, 999, core.CardUpdate{Name: ptr("x")}); !errors.Is(err, core.ErrCardNotFound) {
		t.Errorf("error = %v, want ErrCardNotFound", err)
	}
}

func TestUpdateCard_KindChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	debit, err := f.cards.CreateCard(ctx, NewCard{
		Name: "Hybrid", LastDigits: "5555", Kind: core.KindDebit, DueDay: 15, ClosingOffsetDays: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.cards.UpdateCard(ctx, debit.ID, core.CardUpdate{Kind: ptr(core.KindCredit)}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("to credit without limit: error = %v", err)
	}

	credit, err := f.cards.UpdateCard(ctx, debit.ID, core.CardUpdate{
		Kind: ptr(core.KindCredit), CreditLimit: &core.Money{Cents: 40000},
	})
	if err != nil {
		t.Fatalf("to credit: %v", err)
	}
	if credit.CreditLimit.Cents != 40000 || credit.AvailableLimit.Cents != 40000 {
		t.Errorf("credit limits = %s/%s", credit.CreditLimit, credit.AvailableLimit)
	}

	back, err := f.cards.UpdateCard(ctx, debit.ID, core.CardUpdate{Kind: ptr(core.KindDebit)})
	if err != nil {
		t.Fatalf("back to debit: %v", err)
	}
	if back.Kind != core.KindDebit || back.CreditLimit.Cents != 0 {
		t.Errorf("debit card keeps a limit: %+v", back)
	}

	plain, _ := f.cards.CreateCard(ctx, NewCard{Name: "Plain", LastDigits: "6666", Kind: core.KindDebit})
	_, err = f.cards.UpdateCard(ctx, plain.ID, core.CardUpdate{
		Kind: ptr(core.KindCredit), CreditLimit: &core.Money{Cents: 1000},
	})
	if !errors.Is(err, core.ErrKindChangeBlocked) {
		t.Errorf("debit without cycle to credit: error = %v", err)
	}
}

func TestDeleteCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	busy := f.creditCard(t, 100000)
	f.buy(t, busy.ID, 1000, core.NewDate(2025, 8, 20), 1) // Sep

	err := f.cards.DeleteCard(ctx, busy.ID, day(2025, 9, 1))
	if !errors.Is(err, core.ErrCardHasOpenCharges) {
		t.Fatalf("error = %v, want ErrCardHasOpenCharges", err)
	}

	// Once the cycle moved on, the past charges go with the card.
	if err := f.cards.DeleteCard(ctx, busy.ID, day(2025, 9, 10)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.cards.GetCard(ctx, busy.ID); !errors.Is(err, core.ErrCardNotFound) {
		t.Errorf("card still present: %v", err)
	}
	n, _ := f.store.CountChargesFrom(ctx, busy.ID, core.NewCompetency(2000, 1))
	if n != 0 {
		t.Errorf("charges left = %d", n)
	}

	if err := f.cards.DeleteCard(ctx, busy.ID, day(2025, 9, 10)); !errors.Is(err, core.ErrCardNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestListCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cards.CreateCard(ctx, NewCard{Name: "Zeta", LastDigits: "0001", Kind: core.KindDebit})
	f.cards.CreateCard(ctx, NewCard{Name: "Alpha", LastDigits: "0002", Kind: core.KindDebit})

	cards, err := f.cards.ListCards(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 2 || cards[0].Name != "Alpha" {
		t.Errorf("cards = %+v", cards)
	}
}
