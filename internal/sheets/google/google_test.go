package google

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fatura/internal/core"
	ports "fatura/internal/sheets"
)

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Fatture", 2025, "2025 Fatture"},
		{"  Fatture  ", 2026, "2026 Fatture"},
		{"2024 Fatture", 2025, "2024 Fatture"},
		{"1800 Fatture", 2025, "2025 1800 Fatture"},
		{"", 2025, ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
				t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
			}
		})
	}
}

func TestPaidInvoiceRow(t *testing.T) {
	paidAt := time.Date(2025, 6, 16, 9, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	row := paidInvoiceRow(ports.PaidInvoice{
		CardID:     3,
		CardName:   "Gold",
		LastDigits: "1234",
		Competency: core.NewCompetency(2025, 6),
		Total:      core.Money{Cents: 123456},
		Refunded:   core.Money{Cents: 100000},
		PaidAt:     paidAt,
	})

	want := []any{"Gold", "1234", "2025-06", "1234.56", "1000.00", "2025-06-16 12:30:00"}
	if len(row) != len(want) {
		t.Fatalf("row has %d columns, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestCardLabel_FallsBackToID(t *testing.T) {
	if got := cardLabel(ports.PaidInvoice{CardID: 42, CardName: "  "}); got != "#42" {
		t.Errorf("cardLabel = %q, want #42", got)
	}
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"missing spreadsheet", Options{ServiceAccountJSON: "{}"}, "missing spreadsheet id"},
		{"missing credentials", Options{SpreadsheetID: "abc"}, "missing service account credentials"},
		{"unreadable file", Options{SpreadsheetID: "abc", ServiceAccountFile: filepath.Join(t.TempDir(), "nope.json")}, "read service account file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExportPaidInvoice_Uninitialized(t *testing.T) {
	c := &Client{sheetBase: "Fatture"}
	if _, err := c.ExportPaidInvoice(context.Background(), ports.PaidInvoice{Competency: core.NewCompetency(2025, 1)}); err == nil {
		t.Error("expected error from a client without service")
	}
}
