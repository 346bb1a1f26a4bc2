package sheets

import (
	"context"
	"time"

	"fatura/internal/core"
)

// PaidInvoice is one row of the paid-invoice export.
type PaidInvoice struct {
	CardID     int64
	CardName   string
	LastDigits string
	Competency core.Competency
	Total      core.Money
	Refunded   core.Money
	PaidAt     time.Time
}

// Ports for outbound adapters.
type (
	InvoiceExporter interface {
		// ExportPaidInvoice appends one row and returns a reference to it.
		ExportPaidInvoice(ctx context.Context, p PaidInvoice) (rowRef string, err error)
	}
)
