package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	KindCredit CardKind = "credit"
	KindDebit  CardKind = "debit"
)

const (
	StateOpen         CompetencyState = "open"
	StateClosedUnpaid CompetencyState = "closed-unpaid"
	StatePaid         CompetencyState = "paid"
)

// MaxInstallments bounds installment purchases; the longest plans offered by
// card issuers are well under six years.
const MaxInstallments = 72

type (
	CardKind        string
	CompetencyState string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Competency is the invoice period a charge is billed in. It is a derived
	// key, never a stored entity: (card, month, year).
	Competency struct {
		Month int
		Year  int
	}

	Card struct {
		ID                int64
		Name              string
		LastDigits        string
		Kind              CardKind
		Color             string
		CreditLimit       Money
		DueDay            int
		ClosingOffsetDays int
		AvailableLimit    Money
		Version           int64
		CreatedAt         time.Time
	}

	// CardUpdate carries the editable card fields. DueDay and ClosingOffsetDays
	// are only present so that a changed value can be rejected.
	CardUpdate struct {
		Name              *string
		LastDigits        *string
		Kind              *CardKind
		Color             *string
		CreditLimit       *Money
		DueDay            *int
		ClosingOffsetDays *int
	}

	Charge struct {
		ID               int64
		GroupID          string
		CardID           *int64
		Method           PaymentMethod
		Amount           Money // per installment
		PurchaseDate     Date
		InstallmentCount int
		InstallmentIndex int
		Competency       Competency
		CategoryID       int64
		Description      string
		IsFixed          bool
		CreatedAt        time.Time
	}

	// ChargeGroup is every installment created from one purchase.
	ChargeGroup struct {
		GroupID      string
		Method       PaymentMethod
		Total        Money
		Installments []Charge
	}

	InvoicePayment struct {
		CardID         int64
		Competency     Competency
		AmountRefunded Money
		PaidAt         time.Time
	}

	// Invoice is the statement view of one competency of one card.
	Invoice struct {
		CardID      int64
		Competency  Competency
		DueDate     Date
		ClosingDate Date
		State       CompetencyState
		Total       Money
		Charges     []Charge
		PaidAt      *time.Time
	}
)

var lastDigitsRe = regexp.MustCompile(`^[0-9]{4}$`)

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// AddDays returns the date n calendar days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func NewCompetency(year, month int) Competency {
	return Competency{Month: month, Year: year}
}

func (c Competency) Validate() error {
	if c.Month < 1 || c.Month > 12 || c.Year < 1 {
		return ErrInvalidCompetency
	}
	return nil
}

// index is the number of months since year 0, handy for arithmetic.
func (c Competency) index() int {
	return c.Year*12 + c.Month - 1
}

func competencyFromIndex(i int) Competency {
	return Competency{Month: i%12 + 1, Year: i / 12}
}

// AddMonths advances the competency by n calendar months, rolling the year.
func (c Competency) AddMonths(n int) Competency {
	return competencyFromIndex(c.index() + n)
}

// MonthsUntil returns how many months o is after c.
func (c Competency) MonthsUntil(o Competency) int {
	return o.index() - c.index()
}

func (c Competency) Before(o Competency) bool {
	return c.index() < o.index()
}

func (c Competency) After(o Competency) bool {
	return c.index() > o.index()
}

func (c Competency) String() string {
	return fmt.Sprintf("%04d-%02d", c.Year, c.Month)
}

func (k CardKind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// Validate checks a card as it would be persisted.
func (c Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if len(c.Name) > 100 {
		return &ValidationError{Field: "name", Err: ErrNameTooLong}
	}
	if !lastDigitsRe.MatchString(c.LastDigits) {
		return &ValidationError{Field: "lastDigits", Err: ErrInvalidLastDigits}
	}
	if !c.Kind.Valid() {
		return &ValidationError{Field: "kind", Err: ErrInvalidKind}
	}
	if c.Kind != KindCredit {
		return nil
	}
	if err := c.CreditLimit.Validate(); err != nil {
		return &ValidationError{Field: "limit", Err: err}
	}
	if err := ValidateCycle(c.DueDay, c.ClosingOffsetDays); err != nil {
		return err
	}
	if c.AvailableLimit.Cents < 0 || c.AvailableLimit.Cents > c.CreditLimit.Cents {
		return fmt.Errorf("%w: available limit %s outside [0, %s]", ErrConsistency, c.AvailableLimit, c.CreditLimit)
	}
	return nil
}

// ValidateCycle checks the billing cycle parameters of a credit card.
func ValidateCycle(dueDay, closingOffsetDays int) error {
	if dueDay < 1 || dueDay > 31 {
		return &ValidationError{Field: "dueDay", Err: ErrInvalidDueDay}
	}
	if closingOffsetDays < 1 || closingOffsetDays > 31 {
		return &ValidationError{Field: "closingOffsetDays", Err: ErrInvalidClosingOffset}
	}
	return nil
}

func (c Card) IsCredit() bool {
	return c.Kind == KindCredit
}

// Consumed is how much of the limit is currently held.
func (c Card) Consumed() Money {
	return Money{Cents: c.CreditLimit.Cents - c.AvailableLimit.Cents}
}

// Sum adds up the installment amounts of the group.
func (g ChargeGroup) Sum() Money {
	var total int64
	for _, ch := range g.Installments {
		total += ch.Amount.Cents
	}
	return Money{Cents: total}
}

// Competencies lists the competency of each installment in order.
func (g ChargeGroup) Competencies() []Competency {
	out := make([]Competency, len(g.Installments))
	for i, ch := range g.Installments {
		out[i] = ch.Competency
	}
	return out
}
