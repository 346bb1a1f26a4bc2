// Package worker runs the background side of the engine: it records ledger
// events published by the API, exports paid invoices and watches billing
// cycles close.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fatura/internal/amqp"
	"fatura/internal/core"
	"fatura/internal/cycle"
	"fatura/internal/ledger"
	"fatura/internal/log"
	"fatura/internal/sheets"
	"fatura/internal/storage"
)

const exportTimeout = 30 * time.Second

// Consumer delivers ledger events. *amqp.Client implements it.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, *amqp.LedgerEventMessage) error) error
}

type Worker struct {
	store    storage.Store
	ledger   *ledger.Ledger
	exporter sheets.InvoiceExporter
	now      func() time.Time
}

// New creates a worker. A nil exporter disables the paid-invoice export.
func New(store storage.Store, l *ledger.Ledger, exporter sheets.InvoiceExporter) *Worker {
	return &Worker{
		store:    store,
		ledger:   l,
		exporter: exporter,
		now:      time.Now,
	}
}

// Run consumes events and scans for closed cycles until ctx is done. A nil
// consumer runs the scan alone.
func (w *Worker) Run(ctx context.Context, consumer Consumer, scanInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	if consumer != nil {
		g.Go(func() error {
			return consumer.Consume(ctx, w.HandleEvent)
		})
	}
	g.Go(func() error {
		return w.RunClosingScan(ctx, scanInterval)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleEvent appends the event to the audit trail. Redelivered events are
// recognised by id and ignored, so a paid invoice is exported once.
func (w *Worker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	e := msg.Event()
	logger := log.FromContext(ctx)

	inserted, err := w.store.AppendEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}
	if !inserted {
		logger.DebugContext(ctx, "Duplicate ledger event ignored", log.FieldEventID, e.ID, log.FieldEventType, e.Type)
		return nil
	}

	fields := log.NewFields().
		WithOperation(log.OpAppend).
		WithCard(e.CardID, &e.Available.Cents)
	fields[log.FieldEventID] = e.ID
	fields[log.FieldEventType] = string(e.Type)
	fields[log.FieldAmountCents] = e.Amount.Cents
	logger.InfoContext(ctx, "Recorded ledger event", fields.ToSlice()...)

	if e.Type == core.EventInvoicePaid {
		w.exportPaidInvoice(ctx, e)
	}
	return nil
}

// exportPaidInvoice is best effort. The event is already recorded, so a
// failed export is logged with enough detail to redo it by hand.
func (w *Worker) exportPaidInvoice(ctx context.Context, e core.LedgerEvent) {
	logger := log.FromContext(ctx)
	if w.exporter == nil {
		logger.DebugContext(ctx, "Invoice export disabled", log.FieldEventID, e.ID)
		return
	}
	if e.Competency == nil {
		logger.WarnContext(ctx, "Paid invoice event without competency", log.FieldEventID, e.ID, log.FieldCardID, e.CardID)
		return
	}
	sl := log.NewStructuredLogger(logger)
	fields := func() log.LogFields {
		return log.NewFields().WithCard(e.CardID, nil).WithCompetency(e.Competency.String())
	}

	row := sheets.PaidInvoice{
		CardID:     e.CardID,
		Competency: *e.Competency,
		Refunded:   e.Amount,
		PaidAt:     e.OccurredAt,
	}
	if card, err := w.store.GetCard(ctx, e.CardID); err == nil {
		row.CardName = card.Name
		row.LastDigits = card.LastDigits
	} else if !errors.Is(err, core.ErrCardNotFound) {
		sl.LogError(ctx, "Failed to load card for export", err, log.OpExport, fields())
		return
	}
	if payment, ok, err := w.store.GetPayment(ctx, e.CardID, *e.Competency); err == nil && ok {
		row.PaidAt = payment.PaidAt
	}
	total, err := w.store.SumCompetency(ctx, e.CardID, *e.Competency)
	if err != nil {
		sl.LogError(ctx, "Failed to total invoice for export", err, log.OpExport, fields())
		return
	}
	row.Total = total

	exportCtx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()
	ref, err := w.exporter.ExportPaidInvoice(exportCtx, row)
	if err != nil {
		f := fields()
		f[log.FieldEventID] = e.ID
		f[log.FieldAmountCents] = total.Cents
		sl.LogError(ctx, "Failed to export paid invoice", err, log.OpExport, f)
		return
	}
	logger.InfoContext(ctx, "Exported paid invoice",
		log.FieldCardID, e.CardID,
		log.FieldCompetency, e.Competency.String(),
		"row", ref)
}

// RunClosingScan scans once for cycles that closed during the last interval
// and then on every tick.
func (w *Worker) RunClosingScan(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	last := w.now().Add(-interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		now := w.now()
		if _, err := w.ScanClosings(ctx, last, now); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.FromContext(ctx).ErrorContext(ctx, "Closing scan failed", log.FieldOperation, log.OpScan, log.FieldError, err)
		} else {
			last = now
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanResult is what one closing scan found.
type ScanResult struct {
	Closed  []core.Invoice
	Drifted []int64
}

// ScanClosings reports credit invoices whose cycle closed after since and
// up to until and that still have unpaid charges. It also checks every
// credit card's available limit against its charges.
func (w *Worker) ScanClosings(ctx context.Context, since, until time.Time) (ScanResult, error) {
	var res ScanResult
	logger := log.FromContext(ctx)

	cards, err := w.store.ListCards(ctx)
	if err != nil {
		return res, fmt.Errorf("list cards: %w", err)
	}

	for _, card := range cards {
		if !card.IsCredit() {
			continue
		}

		comps, err := w.store.CompetenciesWithActivity(ctx, card.ID)
		if err != nil {
			return res, fmt.Errorf("card %d competencies: %w", card.ID, err)
		}
		for _, comp := range comps {
			if cycle.IsClosed(comp, card.DueDay, card.ClosingOffsetDays, since) ||
				!cycle.IsClosed(comp, card.DueDay, card.ClosingOffsetDays, until) {
				continue
			}
			inv, ok, err := w.closedInvoice(ctx, card, comp)
			if err != nil {
				return res, err
			}
			if !ok {
				continue
			}
			res.Closed = append(res.Closed, inv)
			logger.InfoContext(ctx, "Invoice closed",
				log.FieldCardID, card.ID,
				log.FieldCompetency, comp.String(),
				log.FieldAmountCents, inv.Total.Cents,
				"due_date", inv.DueDate.String())
		}

		stored, expected, err := w.ledger.Recompute(ctx, card.ID)
		if err != nil {
			return res, fmt.Errorf("card %d recompute: %w", card.ID, err)
		}
		if stored != expected {
			res.Drifted = append(res.Drifted, card.ID)
		}
	}

	logger.DebugContext(ctx, "Closing scan done",
		"cards", len(cards),
		"closed", len(res.Closed),
		"drifted", len(res.Drifted))
	return res, nil
}

func (w *Worker) closedInvoice(ctx context.Context, card core.Card, comp core.Competency) (core.Invoice, bool, error) {
	paid, err := w.store.IsPaid(ctx, card.ID, comp)
	if err != nil {
		return core.Invoice{}, false, fmt.Errorf("card %d paid state: %w", card.ID, err)
	}
	if paid {
		return core.Invoice{}, false, nil
	}
	total, err := w.store.SumCompetency(ctx, card.ID, comp)
	if err != nil {
		return core.Invoice{}, false, fmt.Errorf("card %d total: %w", card.ID, err)
	}
	if total.Cents == 0 {
		return core.Invoice{}, false, nil
	}
	return core.Invoice{
		CardID:      card.ID,
		Competency:  comp,
		DueDate:     cycle.DueDate(comp, card.DueDay),
		ClosingDate: cycle.ClosingDate(comp, card.DueDay, card.ClosingOffsetDays),
		State:       core.StateClosedUnpaid,
		Total:       total,
	}, true, nil
}
