package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"fatura/internal/core"
	"fatura/internal/ledger"
	"fatura/internal/storage"
	"fatura/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e core.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []core.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store    storage.Store
	ledger   *ledger.Ledger
	pub      *recordingPublisher
	charges  *ChargeService
	invoices *InvoiceService
	reversal *ReversalService
	cards    *CardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	l := ledger.New(store)
	pub := &recordingPublisher{}
	return &fixture{
		store:    store,
		ledger:   l,
		pub:      pub,
		charges:  NewChargeService(l, pub, core.MaxInstallments),
		invoices: NewInvoiceService(store, l, pub),
		reversal: NewReversalService(store, l, pub),
		cards:    NewCardService(store, l, pub),
	}
}

// creditCard creates a card due on the 15th that closes 10 days earlier, on
// the 5th.
func (f *fixture) creditCard(t *testing.T, limitCents int64) core.Card {
	t.Helper()
	card, err := f.cards.CreateCard(context.Background(), NewCard{
		Name:              "Visa Platinum",
		LastDigits:        "1234",
		Kind:              core.KindCredit,
		CreditLimit:       core.Money{Cents: limitCents},
		DueDay:            15,
		ClosingOffsetDays: 10,
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}

func (f *fixture) buy(t *testing.T, cardID int64, cents int64, date core.Date, installments int) core.ChargeGroup {
	t.Helper()
	group, err := f.charges.CreateCharge(context.Background(), NewCharge{
		Method:       core.Credit(cardID),
		Amount:       core.Money{Cents: cents},
		PurchaseDate: date,
		Installments: installments,
		CategoryID:   1,
		Description:  "Purchase",
	})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	return group
}

func (f *fixture) available(t *testing.T, cardID int64) int64 {
	t.Helper()
	card, err := f.store.GetCard(context.Background(), cardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	return card.AvailableLimit.Cents
}

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC)
}
