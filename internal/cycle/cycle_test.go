package cycle

import (
	"testing"
	"time"

	"fatura/internal/core"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name          string
		purchase      core.Date
		dueDay        int
		closingOffset int
		want          core.Competency
	}{
		{"before closing day", core.NewDate(2025, 8, 3), 15, 10, core.NewCompetency(2025, 8)},
		{"on closing day", core.NewDate(2025, 8, 5), 15, 10, core.NewCompetency(2025, 8)},
		{"day after closing", core.NewDate(2025, 8, 6), 15, 10, core.NewCompetency(2025, 9)},
		{"after closing", core.NewDate(2025, 8, 12), 15, 10, core.NewCompetency(2025, 9)},
		{"december rolls year", core.NewDate(2025, 12, 20), 15, 10, core.NewCompetency(2026, 1)},
		{"closing in previous month", core.NewDate(2025, 3, 2), 5, 10, core.NewCompetency(2025, 4)},
		{"closing in previous month late purchase", core.NewDate(2025, 7, 28), 5, 10, core.NewCompetency(2025, 8)},
		{"due 31 in february", core.NewDate(2025, 2, 20), 31, 7, core.NewCompetency(2025, 2)},
		{"due 31 in february after closing", core.NewDate(2025, 2, 22), 31, 7, core.NewCompetency(2025, 3)},
		{"leap february", core.NewDate(2024, 2, 22), 31, 7, core.NewCompetency(2024, 2)},
		{"offset equals due day", core.NewDate(2025, 1, 1), 10, 10, core.NewCompetency(2025, 2)},
		{"new year eve closing on the day", core.NewDate(2025, 12, 31), 1, 1, core.NewCompetency(2026, 1)},
		{"long offset rolls one month only", core.NewDate(2025, 1, 31), 1, 31, core.NewCompetency(2025, 2)},
		{"long offset late august", core.NewDate(2025, 8, 15), 1, 31, core.NewCompetency(2025, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.purchase, tt.dueDay, tt.closingOffset)
			if got != tt.want {
				t.Errorf("Resolve(%s, %d, %d) = %s, want %s", tt.purchase, tt.dueDay, tt.closingOffset, got, tt.want)
			}
		})
	}
}

// Every due day, every offset and every purchase date of two years including
// a leap year must resolve to a valid competency in the purchase month or the
// next one: the purchase month up to its closing date, the next month after.
func TestResolveTotality(t *testing.T) {
	start := core.NewDate(2023, 12, 1)
	end := core.NewDate(2025, 1, 31)
	for due := 1; due <= 31; due++ {
		for offset := 1; offset <= 31; offset++ {
			for d := start; !d.After(end.Time); d = d.AddDays(1) {
				c := Resolve(d, due, offset)
				if err := c.Validate(); err != nil {
					t.Fatalf("due=%d offset=%d purchase=%s: invalid competency %v", due, offset, d, c)
				}
				month := core.NewCompetency(d.Year(), d.Month())
				want := 0
				if d.After(ClosingDate(month, due, offset).Time) {
					want = 1
				}
				if n := month.MonthsUntil(c); n != want {
					t.Fatalf("due=%d offset=%d purchase=%s: resolved %s, %d months after purchase month, want %d",
						due, offset, d, c, n, want)
				}
			}
		}
	}
}

func TestResolveOutOfRangeInputsDoNotPanic(t *testing.T) {
	for _, due := range []int{-5, 0, 32, 99} {
		for _, offset := range []int{-1, 0, 40} {
			c := Resolve(core.NewDate(2025, 6, 10), due, offset)
			if err := c.Validate(); err != nil {
				t.Fatalf("due=%d offset=%d: invalid competency %v", due, offset, c)
			}
		}
	}
}

func TestResolveInstallments(t *testing.T) {
	got := ResolveInstallments(core.NewDate(2025, 11, 20), 15, 10, 4)
	want := []core.Competency{
		core.NewCompetency(2025, 12),
		core.NewCompetency(2026, 1),
		core.NewCompetency(2026, 2),
		core.NewCompetency(2026, 3),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d competencies, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("installment %d = %s, want %s", i+1, got[i], want[i])
		}
	}
	if ResolveInstallments(core.NewDate(2025, 1, 1), 15, 10, 0) != nil {
		t.Errorf("zero installments should resolve to nil")
	}
}

func TestDueAndClosingDate(t *testing.T) {
	tests := []struct {
		c           core.Competency
		due, offset int
		wantDue     core.Date
		wantClosing core.Date
	}{
		{core.NewCompetency(2025, 8), 15, 10, core.NewDate(2025, 8, 15), core.NewDate(2025, 8, 5)},
		{core.NewCompetency(2025, 2), 31, 3, core.NewDate(2025, 2, 28), core.NewDate(2025, 2, 25)},
		{core.NewCompetency(2024, 2), 30, 3, core.NewDate(2024, 2, 29), core.NewDate(2024, 2, 26)},
		{core.NewCompetency(2026, 1), 5, 10, core.NewDate(2026, 1, 5), core.NewDate(2025, 12, 26)},
	}
	for _, tt := range tests {
		t.Run(tt.c.String(), func(t *testing.T) {
			if got := DueDate(tt.c, tt.due); !got.Equal(tt.wantDue.Time) {
				t.Errorf("DueDate = %s, want %s", got, tt.wantDue)
			}
			if got := ClosingDate(tt.c, tt.due, tt.offset); !got.Equal(tt.wantClosing.Time) {
				t.Errorf("ClosingDate = %s, want %s", got, tt.wantClosing)
			}
		})
	}
}

func TestState(t *testing.T) {
	c := core.NewCompetency(2025, 8) // closes 2025-08-05
	at := func(day int) time.Time { return time.Date(2025, 8, day, 23, 59, 0, 0, time.UTC) }

	if s := State(c, 15, 10, at(5), false); s != core.StateOpen {
		t.Errorf("on closing day: %s, want open", s)
	}
	if s := State(c, 15, 10, at(6), false); s != core.StateClosedUnpaid {
		t.Errorf("after closing day: %s, want closed-unpaid", s)
	}
	if s := State(c, 15, 10, at(20), true); s != core.StatePaid {
		t.Errorf("paid: %s, want paid", s)
	}
}

func TestCurrentAndLastClosed(t *testing.T) {
	today := time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)
	if got := Current(today, 15, 10); got != core.NewCompetency(2025, 9) {
		t.Errorf("Current = %s, want 2025-09", got)
	}
	if got := LastClosed(today, 15, 10); got != core.NewCompetency(2025, 8) {
		t.Errorf("LastClosed = %s, want 2025-08", got)
	}

	early := time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC)
	if got := LastClosed(early, 15, 10); got != core.NewCompetency(2024, 12) {
		t.Errorf("LastClosed = %s, want 2024-12", got)
	}
	if !IsClosed(LastClosed(early, 15, 10), 15, 10, early) {
		t.Errorf("last closed competency must be closed")
	}
}
