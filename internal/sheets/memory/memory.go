// Package memory keeps exported invoices in process. It stands in for the
// spreadsheet in local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	ports "fatura/internal/sheets"
)

type Exporter struct {
	mu   sync.Mutex
	rows []ports.PaidInvoice
}

var _ ports.InvoiceExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

// ExportPaidInvoice records the row and returns a synthetic reference.
func (e *Exporter) ExportPaidInvoice(_ context.Context, p ports.PaidInvoice) (string, error) {
	if err := p.Competency.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, p)
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

// Rows returns a copy of everything exported so far.
func (e *Exporter) Rows() []ports.PaidInvoice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.PaidInvoice(nil), e.rows...)
}
