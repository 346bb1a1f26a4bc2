// Package ledger owns every change to a card's available limit.
//
// All mutations for one card run inside Do, which holds that card's lock for
// the whole storage transaction. Operations on different cards proceed in
// parallel up to what the store itself serializes.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"fatura/internal/core"
	"fatura/internal/storage"
)

type Ledger struct {
	store storage.Store
	locks *keyedMutex
}

func New(store storage.Store) *Ledger {
	return &Ledger{store: store, locks: newKeyedMutex()}
}

// Do runs fn under the card's lock inside one storage transaction. fn must
// use only the Tx it receives.
func (l *Ledger) Do(ctx context.Context, cardID int64, fn func(tx storage.Tx) error) error {
	unlock, err := l.locks.lock(ctx, cardID)
	if err != nil {
		return err
	}
	defer unlock()

	return l.store.InTx(ctx, fn)
}

// DoUnlocked runs fn in a transaction without taking a card lock, for
// mutations that carry no card (cash, pix, card-less debit).
func (l *Ledger) DoUnlocked(ctx context.Context, fn func(tx storage.Tx) error) error {
	return l.store.InTx(ctx, fn)
}

func creditCard(ctx context.Context, tx storage.Tx, cardID int64) (core.Card, error) {
	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		return core.Card{}, err
	}
	if !card.IsCredit() {
		return core.Card{}, fmt.Errorf("card %d is %s: %w", cardID, card.Kind, core.ErrInvalidCard)
	}
	return card, nil
}

// Consume reserves amount from the card's available limit.
func Consume(ctx context.Context, tx storage.Tx, cardID int64, amount core.Money) (core.Card, error) {
	if err := amount.Validate(); err != nil {
		return core.Card{}, err
	}
	card, err := creditCard(ctx, tx, cardID)
	if err != nil {
		return core.Card{}, err
	}
	if amount.Cents > card.AvailableLimit.Cents {
		return core.Card{}, fmt.Errorf("need %s, available %s: %w", amount, card.AvailableLimit, core.ErrInsufficientLimit)
	}
	card.AvailableLimit = card.AvailableLimit.Sub(amount)
	return tx.UpdateCardLimits(ctx, card)
}

// Restore gives amount back to the card, clamped at the credit limit. The
// part that did not fit is returned as overflow.
func Restore(ctx context.Context, tx storage.Tx, cardID int64, amount core.Money) (core.Card, core.Money, error) {
	if amount.Cents < 0 {
		return core.Card{}, core.Money{}, core.ErrInvalidAmount
	}
	card, err := creditCard(ctx, tx, cardID)
	if err != nil {
		return core.Card{}, core.Money{}, err
	}
	if amount.Cents == 0 {
		return card, core.Money{}, nil
	}

	restored := card.AvailableLimit.Add(amount)
	var overflow core.Money
	if restored.Cents > card.CreditLimit.Cents {
		overflow = restored.Sub(card.CreditLimit)
		restored = card.CreditLimit
		slog.WarnContext(ctx, "Restore clamped at credit limit",
			"card_id", cardID,
			"amount_cents", amount.Cents,
			"overflow_cents", overflow.Cents)
	}
	card.AvailableLimit = restored
	card, err = tx.UpdateCardLimits(ctx, card)
	if err != nil {
		return core.Card{}, core.Money{}, err
	}
	return card, overflow, nil
}

// SetLimit changes the credit limit and recomputes the available limit from
// the balance still outstanding in unpaid competencies.
func SetLimit(ctx context.Context, tx storage.Tx, cardID int64, limit core.Money) (core.Card, error) {
	if err := limit.Validate(); err != nil {
		return core.Card{}, &core.ValidationError{Field: "limit", Err: err}
	}
	card, err := creditCard(ctx, tx, cardID)
	if err != nil {
		return core.Card{}, err
	}
	outstanding, err := tx.SumUnpaid(ctx, cardID)
	if err != nil {
		return core.Card{}, err
	}
	card.CreditLimit = limit
	card.AvailableLimit = clamp(limit.Sub(outstanding), limit)
	return tx.UpdateCardLimits(ctx, card)
}

// Expected is the available limit implied by stored charges and payments.
func Expected(ctx context.Context, tx storage.Tx, card core.Card) (core.Money, error) {
	outstanding, err := tx.SumUnpaid(ctx, card.ID)
	if err != nil {
		return core.Money{}, err
	}
	return clamp(card.CreditLimit.Sub(outstanding), card.CreditLimit), nil
}

// Recompute compares a card's stored available limit with the one implied by
// its charges and returns both. A mismatch is logged, never corrected.
func (l *Ledger) Recompute(ctx context.Context, cardID int64) (stored, expected core.Money, err error) {
	err = l.Do(ctx, cardID, func(tx storage.Tx) error {
		card, err := creditCard(ctx, tx, cardID)
		if err != nil {
			return err
		}
		stored = card.AvailableLimit
		expected, err = Expected(ctx, tx, card)
		return err
	})
	if err != nil {
		return core.Money{}, core.Money{}, err
	}
	if stored != expected {
		slog.ErrorContext(ctx, "Available limit drift",
			"card_id", cardID,
			"stored_cents", stored.Cents,
			"expected_cents", expected.Cents)
	}
	return stored, expected, nil
}

func clamp(m, limit core.Money) core.Money {
	if m.Cents < 0 {
		return core.Money{}
	}
	if m.Cents > limit.Cents {
		return limit
	}
	return m
}

// keyedMutex hands out one lock per card id and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[int64]*keyLock{}}
}

func (k *keyedMutex) lock(ctx context.Context, key int64) (func(), error) {
	k.mu.Lock()
	kl, ok := k.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = kl
	}
	kl.refs++
	k.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, kl)
		return nil, ctx.Err()
	}

	return func() {
		<-kl.ch
		k.release(key, kl)
	}, nil
}

func (k *keyedMutex) release(key int64, kl *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(k.locks, key)
	}
}
