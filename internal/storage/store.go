package storage

import (
	"context"

	"fatura/internal/core"
)

// Tx is the set of operations the ledger and the services run against
// storage. Inside Store.InTx every call shares one transaction; on the Store
// itself each call runs on its own.
type Tx interface {
	GetCard(ctx context.Context, id int64) (core.Card, error)
	ListCards(ctx context.Context) ([]core.Card, error)
	InsertCard(ctx context.Context, c core.Card) (core.Card, error)
	// UpdateCardLimits writes credit and available limit when the stored
	// version still matches c.Version, and returns the card with the bumped
	// version. A stale version yields core.ErrVersionConflict.
	UpdateCardLimits(ctx context.Context, c core.Card) (core.Card, error)
	UpdateCardDetails(ctx context.Context, c core.Card) (core.Card, error)
	DeleteCard(ctx context.Context, id int64) error

	InsertCharges(ctx context.Context, charges []core.Charge) ([]core.Charge, error)
	GetCharge(ctx context.Context, id int64) (core.Charge, error)
	ChargesByGroup(ctx context.Context, groupID string) ([]core.Charge, error)
	DeleteGroup(ctx context.Context, groupID string) (int64, error)
	ChargesByCompetency(ctx context.Context, cardID int64, c core.Competency) ([]core.Charge, error)
	SumCompetency(ctx context.Context, cardID int64, c core.Competency) (core.Money, error)
	// SumUnpaid totals every charge of the card whose competency has no
	// payment row.
	SumUnpaid(ctx context.Context, cardID int64) (core.Money, error)
	// CountChargesFrom counts charges of the card in competency c or later.
	CountChargesFrom(ctx context.Context, cardID int64, c core.Competency) (int64, error)
	CompetenciesWithActivity(ctx context.Context, cardID int64) ([]core.Competency, error)

	IsPaid(ctx context.Context, cardID int64, c core.Competency) (bool, error)
	GetPayment(ctx context.Context, cardID int64, c core.Competency) (core.InvoicePayment, bool, error)
	InsertPayment(ctx context.Context, p core.InvoicePayment) error

	AppendEvent(ctx context.Context, e core.LedgerEvent) (bool, error)
	ListEvents(ctx context.Context, cardID int64, limit int) ([]core.LedgerEvent, error)
}

type Store interface {
	Tx
	// InTx runs fn in a single transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
