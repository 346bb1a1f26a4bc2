// Package memory is an in-process Store used by tests and the memory backend.
// Transactions run against a copy of the state that replaces the live state
// on commit.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"fatura/internal/core"
	"fatura/internal/storage"
)

type paymentKey struct {
	cardID int64
	comp   core.Competency
}

type state struct {
	nextCardID   int64
	nextChargeID int64
	cards        map[int64]core.Card
	charges      map[int64]core.Charge
	payments     map[paymentKey]core.InvoicePayment
	events       []core.LedgerEvent
	eventIDs     map[string]struct{}
}

func newState() *state {
	return &state{
		cards:    map[int64]core.Card{},
		charges:  map[int64]core.Charge{},
		payments: map[paymentKey]core.InvoicePayment{},
		eventIDs: map[string]struct{}{},
	}
}

func (s *state) clone() *state {
	return &state{
		nextCardID:   s.nextCardID,
		nextChargeID: s.nextChargeID,
		cards:        maps.Clone(s.cards),
		charges:      maps.Clone(s.charges),
		payments:     maps.Clone(s.payments),
		events:       append([]core.LedgerEvent(nil), s.events...),
		eventIDs:     maps.Clone(s.eventIDs),
	}
}

// Store holds every table in memory. Like the SQLite store it serializes
// access: a transaction holds the lock until it commits or rolls back, so fn
// must only use the Tx it is given.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func do[T any](s *Store, fn func(v *view) (T, error)) (T, error) {
	var out T
	err := s.InTx(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = fn(tx.(*view))
		return err
	})
	return out, err
}

func (s *Store) GetCard(ctx context.Context, id int64) (core.Card, error) {
	return do(s, func(v *view) (core.Card, error) { return v.GetCard(ctx, id) })
}

func (s *Store) ListCards(ctx context.Context) ([]core.Card, error) {
	return do(s, func(v *view) ([]core.Card, error) { return v.ListCards(ctx) })
}

func (s *Store) InsertCard(ctx context.Context, c core.Card) (core.Card, error) {
	return do(s, func(v *view) (core.Card, error) { return v.InsertCard(ctx, c) })
}

func (s *Store) UpdateCardLimits(ctx context.Context, c core.Card) (core.Card, error) {
	return do(s, func(v *view) (core.Card, error) { return v.UpdateCardLimits(ctx, c) })
}

func (s *Store) UpdateCardDetails(ctx context.Context, c core.Card) (core.Card, error) {
	return do(s, func(v *view) (core.Card, error) { return v.UpdateCardDetails(ctx, c) })
}

func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	_, err := do(s, func(v *view) (struct{}, error) { return struct{}{}, v.DeleteCard(ctx, id) })
	return err
}

func (s *Store) InsertCharges(ctx context.Context, charges []core.Charge) ([]core.Charge, error) {
	return do(s, func(v *view) ([]core.Charge, error) { return v.InsertCharges(ctx, charges) })
}

func (s *Store) GetCharge(ctx context.Context, id int64) (core.Charge, error) {
	return do(s, func(v *view) (core.Charge, error) { return v.GetCharge(ctx, id) })
}

func (s *Store) ChargesByGroup(ctx context.Context, groupID string) ([]core.Charge, error) {
	return do(s, func(v *view) ([]core.Charge, error) { return v.ChargesByGroup(ctx, groupID) })
}

func (s *Store) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	return do(s, func(v *view) (int64, error) { return v.DeleteGroup(ctx, groupID) })
}

func (s *Store) ChargesByCompetency(ctx context.Context, cardID int64, c core.Competency) ([]core.Charge, error) {
	return do(s, func(v *view) ([]core.Charge, error) { return v.ChargesByCompetency(ctx, cardID, c) })
}

func (s *Store) SumCompetency(ctx context.Context, cardID int64, c core.Competency) (core.Money, error) {
	return do(s, func(v *view) (core.Money, error) { return v.SumCompetency(ctx, cardID, c) })
}

func (s *Store) SumUnpaid(ctx context.Context, cardID int64) (core.Money, error) {
	return do(s, func(v *view) (core.Money, error) { return v.SumUnpaid(ctx, cardID) })
}

func (s *Store) CountChargesFrom(ctx context.Context, cardID int64, c core.Competency) (int64, error) {
	return do(s, func(v *view) (int64, error) { return v.CountChargesFrom(ctx, cardID, c) })
}

func (s *Store) CompetenciesWithActivity(ctx context.Context, cardID int64) ([]core.Competency, error) {
	return do(s, func(v *view) ([]core.Competency, error) { return v.CompetenciesWithActivity(ctx, cardID) })
}

func (s *Store) IsPaid(ctx context.Context, cardID int64, c core.Competency) (bool, error) {
	return do(s, func(v *view) (bool, error) { return v.IsPaid(ctx, cardID, c) })
}

func (s *Store) GetPayment(ctx context.Context, cardID int64, c core.Competency) (core.InvoicePayment, bool, error) {
	var ok bool
	p, err := do(s, func(v *view) (core.InvoicePayment, error) {
		p, found, err := v.GetPayment(ctx, cardID, c)
		ok = found
		return p, err
	})
	return p, ok, err
}

func (s *Store) InsertPayment(ctx context.Context, p core.InvoicePayment) error {
	_, err := do(s, func(v *view) (struct{}, error) { return struct{}{}, v.InsertPayment(ctx, p) })
	return err
}

func (s *Store) AppendEvent(ctx context.Context, e core.LedgerEvent) (bool, error) {
	return do(s, func(v *view) (bool, error) { return v.AppendEvent(ctx, e) })
}

func (s *Store) ListEvents(ctx context.Context, cardID int64, limit int) ([]core.LedgerEvent, error) {
	return do(s, func(v *view) ([]core.LedgerEvent, error) { return v.ListEvents(ctx, cardID, limit) })
}

// view implements storage.Tx over one state snapshot.
type view struct {
	st *state
}

func (v *view) GetCard(_ context.Context, id int64) (core.Card, error) {
	c, ok := v.st.cards[id]
	if !ok {
		return core.Card{}, core.ErrCardNotFound
	}
	return c, nil
}

func (v *view) ListCards(context.Context) ([]core.Card, error) {
	out := make([]core.Card, 0, len(v.st.cards))
	for _, c := range v.st.cards {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func checkLimits(c core.Card) error {
	if c.AvailableLimit.Cents < 0 || c.AvailableLimit.Cents > c.CreditLimit.Cents {
		return fmt.Errorf("card %d: available %s outside [0, %s]: %w",
			c.ID, c.AvailableLimit, c.CreditLimit, core.ErrConsistency)
	}
	return nil
}

func (v *view) InsertCard(_ context.Context, c core.Card) (core.Card, error) {
	if err := checkLimits(c); err != nil {
		return core.Card{}, err
	}
	v.st.nextCardID++
	c.ID = v.st.nextCardID
	c.Version = 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	v.st.cards[c.ID] = c
	return c, nil
}

func (v *view) updateVersioned(c core.Card, apply func(stored *core.Card)) (core.Card, error) {
	stored, ok := v.st.cards[c.ID]
	if !ok {
		return core.Card{}, core.ErrCardNotFound
	}
	if stored.Version != c.Version {
		return core.Card{}, fmt.Errorf("card %d at version %d: %w", c.ID, c.Version, core.ErrVersionConflict)
	}
	apply(&stored)
	if err := checkLimits(stored); err != nil {
		return core.Card{}, err
	}
	stored.Version++
	v.st.cards[c.ID] = stored
	return stored, nil
}

func (v *view) UpdateCardLimits(_ context.Context, c core.Card) (core.Card, error) {
	return v.updateVersioned(c, func(stored *core.Card) {
		stored.CreditLimit = c.CreditLimit
		stored.AvailableLimit = c.AvailableLimit
	})
}

func (v *view) UpdateCardDetails(_ context.Context, c core.Card) (core.Card, error) {
	return v.updateVersioned(c, func(stored *core.Card) {
		created := stored.CreatedAt
		*stored = c
		stored.CreatedAt = created
	})
}

func (v *view) DeleteCard(_ context.Context, id int64) error {
	if _, ok := v.st.cards[id]; !ok {
		return core.ErrCardNotFound
	}
	delete(v.st.cards, id)
	for chID, ch := range v.st.charges {
		if ch.CardID != nil && *ch.CardID == id {
			delete(v.st.charges, chID)
		}
	}
	for k := range v.st.payments {
		if k.cardID == id {
			delete(v.st.payments, k)
		}
	}
	return nil
}

func (v *view) InsertCharges(_ context.Context, charges []core.Charge) ([]core.Charge, error) {
	out := make([]core.Charge, len(charges))
	now := time.Now().UTC()
	for i, ch := range charges {
		if ch.CardID != nil {
			if _, ok := v.st.cards[*ch.CardID]; !ok {
				return nil, fmt.Errorf("insert charge: %w", core.ErrCardNotFound)
			}
		}
		for _, existing := range v.st.charges {
			if existing.GroupID == ch.GroupID && existing.InstallmentIndex == ch.InstallmentIndex {
				return nil, fmt.Errorf("insert charge: duplicate installment %d of group %s", ch.InstallmentIndex, ch.GroupID)
			}
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		v.st.nextChargeID++
		ch.ID = v.st.nextChargeID
		v.st.charges[ch.ID] = ch
		out[i] = ch
	}
	return out, nil
}

func (v *view) GetCharge(_ context.Context, id int64) (core.Charge, error) {
	ch, ok := v.st.charges[id]
	if !ok {
		return core.Charge{}, core.ErrChargeNotFound
	}
	return ch, nil
}

func (v *view) filter(keep func(core.Charge) bool, less func(a, b core.Charge) bool) []core.Charge {
	var out []core.Charge
	for _, ch := range v.st.charges {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (v *view) ChargesByGroup(_ context.Context, groupID string) ([]core.Charge, error) {
	return v.filter(
		func(ch core.Charge) bool { return ch.GroupID == groupID },
		func(a, b core.Charge) bool { return a.InstallmentIndex < b.InstallmentIndex },
	), nil
}

func (v *view) DeleteGroup(_ context.Context, groupID string) (int64, error) {
	var n int64
	for id, ch := range v.st.charges {
		if ch.GroupID == groupID {
			delete(v.st.charges, id)
			n++
		}
	}
	return n, nil
}

func onCard(ch core.Charge, cardID int64) bool {
	return ch.CardID != nil && *ch.CardID == cardID && ch.Method.UsesLedger()
}

func (v *view) ChargesByCompetency(_ context.Context, cardID int64, c core.Competency) ([]core.Charge, error) {
	return v.filter(
		func(ch core.Charge) bool { return onCard(ch, cardID) && ch.Competency == c },
		func(a, b core.Charge) bool {
			if !a.PurchaseDate.Equal(b.PurchaseDate.Time) {
				return a.PurchaseDate.Before(b.PurchaseDate.Time)
			}
			return a.ID < b.ID
		},
	), nil
}

func (v *view) SumCompetency(_ context.Context, cardID int64, c core.Competency) (core.Money, error) {
	var total core.Money
	for _, ch := range v.st.charges {
		if onCard(ch, cardID) && ch.Competency == c {
			total = total.Add(ch.Amount)
		}
	}
	return total, nil
}

func (v *view) SumUnpaid(_ context.Context, cardID int64) (core.Money, error) {
	var total core.Money
	for _, ch := range v.st.charges {
		if !onCard(ch, cardID) {
			continue
		}
		if _, paid := v.st.payments[paymentKey{cardID, ch.Competency}]; paid {
			continue
		}
		total = total.Add(ch.Amount)
	}
	return total, nil
}

func (v *view) CountChargesFrom(_ context.Context, cardID int64, c core.Competency) (int64, error) {
	var n int64
	for _, ch := range v.st.charges {
		if ch.CardID != nil && *ch.CardID == cardID && !ch.Competency.Before(c) {
			n++
		}
	}
	return n, nil
}

func (v *view) CompetenciesWithActivity(_ context.Context, cardID int64) ([]core.Competency, error) {
	seen := map[core.Competency]struct{}{}
	for _, ch := range v.st.charges {
		if onCard(ch, cardID) {
			seen[ch.Competency] = struct{}{}
		}
	}
	for k := range v.st.payments {
		if k.cardID == cardID {
			seen[k.comp] = struct{}{}
		}
	}
	out := make([]core.Competency, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

func (v *view) IsPaid(_ context.Context, cardID int64, c core.Competency) (bool, error) {
	_, ok := v.st.payments[paymentKey{cardID, c}]
	return ok, nil
}

func (v *view) GetPayment(_ context.Context, cardID int64, c core.Competency) (core.InvoicePayment, bool, error) {
	p, ok := v.st.payments[paymentKey{cardID, c}]
	return p, ok, nil
}

func (v *view) InsertPayment(_ context.Context, p core.InvoicePayment) error {
	if _, ok := v.st.cards[p.CardID]; !ok {
		return core.ErrCardNotFound
	}
	k := paymentKey{p.CardID, p.Competency}
	if _, ok := v.st.payments[k]; ok {
		return core.ErrAlreadyPaid
	}
	v.st.payments[k] = p
	return nil
}

func (v *view) AppendEvent(_ context.Context, e core.LedgerEvent) (bool, error) {
	if _, dup := v.st.eventIDs[e.ID]; dup {
		return false, nil
	}
	v.st.eventIDs[e.ID] = struct{}{}
	v.st.events = append(v.st.events, e)
	return true, nil
}

func (v *view) ListEvents(_ context.Context, cardID int64, limit int) ([]core.LedgerEvent, error) {
	var out []core.LedgerEvent
	for i := len(v.st.events) - 1; i >= 0 && len(out) < limit; i-- {
		if v.st.events[i].CardID == cardID {
			out = append(out, v.st.events[i])
		}
	}
	return out, nil
}
