// Package cycle maps purchase dates to invoice competencies.
//
// Everything here is pure: no clock, no storage, no locking. Callers pass
// "today" explicitly.
package cycle

import (
	"time"

	"fatura/internal/core"
)

// Resolve returns the competency a purchase made on purchase belongs to, for
// a card due on dueDay whose cycle closes closingOffset days before the due
// date. Purchases up to and including the purchase month's closing date land
// in the purchase month; later ones go to the next month.
//
// The rollover is at most one month. When the offset reaches back into the
// previous month (due day 5, offset 10) a late purchase can land in a
// competency that has already closed; a paid one is rejected by the charge
// engine.
func Resolve(purchase core.Date, dueDay, closingOffset int) core.Competency {
	p := dateOnly(purchase)
	c := core.NewCompetency(p.Year(), p.Month())
	if p.After(ClosingDate(c, dueDay, closingOffset).Time) {
		c = c.AddMonths(1)
	}
	return c
}

// ResolveInstallments returns the competency of each of n installments.
// Installment k is billed k-1 months after the first.
func ResolveInstallments(purchase core.Date, dueDay, closingOffset, n int) []core.Competency {
	if n < 1 {
		return nil
	}
	first := Resolve(purchase, dueDay, closingOffset)
	out := make([]core.Competency, n)
	for k := range out {
		out[k] = first.AddMonths(k)
	}
	return out
}

// DueDate is day dueDay of the competency month, clamped to the month's last
// day (due day 31 in February is the 28th or 29th).
func DueDate(c core.Competency, dueDay int) core.Date {
	dueDay = clamp(dueDay, 1, 31)
	last := time.Date(c.Year, time.Month(c.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if dueDay > last {
		dueDay = last
	}
	return core.NewDate(c.Year, c.Month, dueDay)
}

// ClosingDate is the due date minus the closing offset. It may fall in the
// previous calendar month.
func ClosingDate(c core.Competency, dueDay, closingOffset int) core.Date {
	return DueDate(c, dueDay).AddDays(-max(closingOffset, 1))
}

// IsClosed reports whether today is strictly after the competency's closing date.
func IsClosed(c core.Competency, dueDay, closingOffset int, today time.Time) bool {
	return dateOnly(core.DateOf(today)).After(ClosingDate(c, dueDay, closingOffset).Time)
}

// State derives the competency state. A paid competency stays paid; otherwise
// it is open until its closing date and closed-unpaid afterwards.
func State(c core.Competency, dueDay, closingOffset int, today time.Time, paid bool) core.CompetencyState {
	switch {
	case paid:
		return core.StatePaid
	case IsClosed(c, dueDay, closingOffset, today):
		return core.StateClosedUnpaid
	default:
		return core.StateOpen
	}
}

// Current is the competency that a purchase made today would be billed in.
func Current(today time.Time, dueDay, closingOffset int) core.Competency {
	return Resolve(core.DateOf(today), dueDay, closingOffset)
}

// LastClosed is the most recent competency whose cycle has closed, i.e. the
// one that is open for payment by default.
func LastClosed(today time.Time, dueDay, closingOffset int) core.Competency {
	return Current(today, dueDay, closingOffset).AddMonths(-1)
}

func dateOnly(d core.Date) core.Date {
	return core.NewDate(d.Year(), d.Month(), d.Day())
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
