package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fatura/internal/core"
	"fatura/internal/storage"
	"fatura/internal/storage/memory"
)

func newCard(t *testing.T, store storage.Store, limit int64) core.Card {
	t.Helper()
	card, err := store.InsertCard(context.Background(), core.Card{
		Name:              "Visa",
		LastDigits:        "1234",
		Kind:              core.KindCredit,
		CreditLimit:       core.Money{Cents: limit},
		AvailableLimit:    core.Money{Cents: limit},
		DueDay:            15,
		ClosingOffsetDays: 10,
	})
	if err != nil {
		t.Fatalf("insert card: %v", err)
	}
	return card
}

func available(t *testing.T, store storage.Store, id int64) int64 {
	t.Helper()
	card, err := store.GetCard(context.Background(), id)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	return card.AvailableLimit.Cents
}

func TestConsume(t *testing.T) {
	tests := []struct {
		name      string
		amount    int64
		wantErr   error
		wantAvail int64
	}{
		{"within limit", 30000, nil, 70000},
		{"exact limit", 100000, nil, 0},
		{"one cent over", 100001, core.ErrInsufficientLimit, 100000},
		{"zero", 0, core.ErrInvalidAmount, 100000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			l := New(store)
			card := newCard(t, store, 100000)
			ctx := context.Background()

			err := l.Do(ctx, card.ID, func(tx storage.Tx) error {
				_, err := Consume(ctx, tx, card.ID, core.Money{Cents: tt.amount})
				return err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Consume() error = %v, want %v", err, tt.wantErr)
			}
			if got := available(t, store, card.ID); got != tt.wantAvail {
				t.Errorf("available = %d, want %d", got, tt.wantAvail)
			}
		})
	}
}

func TestConsumeDebitCard(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	card, err := store.InsertCard(ctx, core.Card{Name: "Debit", LastDigits: "9999", Kind: core.KindDebit})
	if err != nil {
		t.Fatal(err)
	}

	err = New(store).Do(ctx, card.ID, func(tx storage.Tx) error {
		_, err := Consume(ctx, tx, card.ID, core.Money{Cents: 100})
		return err
	})
	if !errors.Is(err, core.ErrInvalidCard) {
		t.Errorf("expected ErrInvalidCard, got %v", err)
	}
}

func TestRestoreClampsAndReportsOverflow(t *testing.T) {
	store := memory.New()
	l := New(store)
	card := newCard(t, store, 10000)
	ctx := context.Background()

	var overflow core.Money
	err := l.Do(ctx, card.ID, func(tx storage.Tx) error {
		if _, err := Consume(ctx, tx, card.ID, core.Money{Cents: 4000}); err != nil {
			return err
		}
		var err error
		_, overflow, err = Restore(ctx, tx, card.ID, core.Money{Cents: 5000})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overflow.Cents != 1000 {
		t.Errorf("overflow = %d, want 1000", overflow.Cents)
	}
	if got := available(t, store, card.ID); got != 10000 {
		t.Errorf("available = %d, want 10000", got)
	}
}

func TestDoRollsBackOnError(t *testing.T) {
	store := memory.New()
	l := New(store)
	card := newCard(t, store, 10000)
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.Do(ctx, card.ID, func(tx storage.Tx) error {
		if _, err := Consume(ctx, tx, card.ID, core.Money{Cents: 2500}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := available(t, store, card.ID); got != 10000 {
		t.Errorf("available = %d after rollback, want 10000", got)
	}
}

func TestSetLimitCountsOnlyUnpaid(t *testing.T) {
	store := memory.New()
	l := New(store)
	card := newCard(t, store, 100000)
	ctx := context.Background()
	cardID := card.ID

	paid := core.NewCompetency(2025, 6)
	open := core.NewCompetency(2025, 7)
	charges := []core.Charge{
		{GroupID: "g1", CardID: &cardID, Method: core.Credit(cardID), Amount: core.Money{Cents: 20000},
			PurchaseDate: core.NewDate(2025, 6, 1), InstallmentCount: 1, InstallmentIndex: 1, Competency: paid, Description: "a"},
		{GroupID: "g2", CardID: &cardID, Method: core.Credit(cardID), Amount: core.Money{Cents: 30000},
			PurchaseDate: core.NewDate(2025, 6, 20), InstallmentCount: 1, InstallmentIndex: 1, Competency: open, Description: "b"},
	}

	err := l.Do(ctx, cardID, func(tx storage.Tx) error {
		if _, err := Consume(ctx, tx, cardID, core.Money{Cents: 50000}); err != nil {
			return err
		}
		if _, err := tx.InsertCharges(ctx, charges); err != nil {
			return err
		}
		if _, _, err := Restore(ctx, tx, cardID, core.Money{Cents: 20000}); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, core.InvoicePayment{CardID: cardID, Competency: paid,
			AmountRefunded: core.Money{Cents: 20000}, PaidAt: time.Now()})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	tests := []struct {
		limit     int64
		wantAvail int64
	}{
		{200000, 170000},
		{50000, 20000},
		{20000, 0},
	}
	for _, tt := range tests {
		var card core.Card
		err := l.Do(ctx, cardID, func(tx storage.Tx) error {
			var err error
			card, err = SetLimit(ctx, tx, cardID, core.Money{Cents: tt.limit})
			return err
		})
		if err != nil {
			t.Fatalf("SetLimit(%d): %v", tt.limit, err)
		}
		if card.AvailableLimit.Cents != tt.wantAvail {
			t.Errorf("SetLimit(%d) available = %d, want %d", tt.limit, card.AvailableLimit.Cents, tt.wantAvail)
		}
	}

	stored, expected, err := l.Recompute(ctx, cardID)
	if err != nil {
		t.Fatal(err)
	}
	if stored != expected {
		t.Errorf("Recompute stored %s, expected %s", stored, expected)
	}
}

func TestStaleVersionIsRejected(t *testing.T) {
	store := memory.New()
	card := newCard(t, store, 10000)
	ctx := context.Background()

	card.AvailableLimit = core.Money{Cents: 9000}
	if _, err := store.UpdateCardLimits(ctx, card); err != nil {
		t.Fatal(err)
	}
	card.AvailableLimit = core.Money{Cents: 8000}
	if _, err := store.UpdateCardLimits(ctx, card); !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestConcurrentConsumeConservesLimit(t *testing.T) {
	store := memory.New()
	l := New(store)
	card := newCard(t, store, 10000)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(ctx, card.ID, func(tx storage.Tx) error {
				_, err := Consume(ctx, tx, card.ID, core.Money{Cents: 300})
				return err
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, core.ErrInsufficientLimit) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 33 {
		t.Errorf("accepted = %d, want 33", accepted)
	}
	if got := available(t, store, card.ID); got != 100 {
		t.Errorf("available = %d, want 100", got)
	}
}

func TestLockHonoursContext(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.lock(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.lock(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	other, err := k.lock(context.Background(), 2)
	if err != nil {
		t.Fatalf("lock on another key blocked: %v", err)
	}
	other()
}
