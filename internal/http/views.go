package http

import (
	"time"

	"fatura/internal/core"
)

// Wire views. Money is always a two-decimal string.

type cardView struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	LastDigits        string    `json:"lastDigits"`
	Kind              string    `json:"kind"`
	Color             string    `json:"color,omitempty"`
	CreditLimit       *string   `json:"creditLimit,omitempty"`
	AvailableLimit    *string   `json:"availableLimit,omitempty"`
	DueDay            int       `json:"dueDay,omitempty"`
	ClosingOffsetDays int       `json:"closingOffsetDays,omitempty"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"createdAt"`
}

func newCardView(c core.Card) cardView {
	v := cardView{
		ID:                c.ID,
		Name:              c.Name,
		LastDigits:        c.LastDigits,
		Kind:              string(c.Kind),
		Color:             c.Color,
		DueDay:            c.DueDay,
		ClosingOffsetDays: c.ClosingOffsetDays,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt,
	}
	if c.IsCredit() {
		limit, available := c.CreditLimit.String(), c.AvailableLimit.String()
		v.CreditLimit = &limit
		v.AvailableLimit = &available
	}
	return v
}

type competencyView struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type chargeView struct {
	ID               int64  `json:"id"`
	GroupID          string `json:"groupId"`
	Method           string `json:"method"`
	CardID           *int64 `json:"cardId,omitempty"`
	Amount           string `json:"amount"`
	PurchaseDate     string `json:"purchaseDate"`
	InstallmentIndex int    `json:"installmentIndex"`
	InstallmentCount int    `json:"installmentCount"`
	CompetencyMonth  int    `json:"competencyMonth"`
	CompetencyYear   int    `json:"competencyYear"`
	CategoryID       int64  `json:"categoryId,omitempty"`
	Description      string `json:"description"`
	IsFixed          bool   `json:"isFixed"`
}

func newChargeView(ch core.Charge) chargeView {
	return chargeView{
		ID:               ch.ID,
		GroupID:          ch.GroupID,
		Method:           string(ch.Method.Kind()),
		CardID:           ch.CardID,
		Amount:           ch.Amount.String(),
		PurchaseDate:     ch.PurchaseDate.String(),
		InstallmentIndex: ch.InstallmentIndex,
		InstallmentCount: ch.InstallmentCount,
		CompetencyMonth:  ch.Competency.Month,
		CompetencyYear:   ch.Competency.Year,
		CategoryID:       ch.CategoryID,
		Description:      ch.Description,
		IsFixed:          ch.IsFixed,
	}
}

func newChargeViews(charges []core.Charge) []chargeView {
	out := make([]chargeView, len(charges))
	for i, ch := range charges {
		out[i] = newChargeView(ch)
	}
	return out
}

type chargeGroupView struct {
	ChargeGroupID              string           `json:"chargeGroupId"`
	Total                      string           `json:"total"`
	PerInstallmentCompetencies []competencyView `json:"perInstallmentCompetencies"`
	Installments               []chargeView     `json:"installments"`
}

func newChargeGroupView(g core.ChargeGroup) chargeGroupView {
	comps := make([]competencyView, len(g.Installments))
	for i, ch := range g.Installments {
		comps[i] = competencyView{Month: ch.Competency.Month, Year: ch.Competency.Year}
	}
	return chargeGroupView{
		ChargeGroupID:              g.GroupID,
		Total:                      g.Total.String(),
		PerInstallmentCompetencies: comps,
		Installments:               newChargeViews(g.Installments),
	}
}

type refundView struct {
	RefundedAmount string `json:"refundedAmount"`
}

type paymentView struct {
	CardID          int64     `json:"cardId"`
	CompetencyMonth int       `json:"competencyMonth"`
	CompetencyYear  int       `json:"competencyYear"`
	TotalRefunded   string    `json:"totalRefunded"`
	PaidAt          time.Time `json:"paidAt"`
}

func newPaymentView(p core.InvoicePayment) paymentView {
	return paymentView{
		CardID:          p.CardID,
		CompetencyMonth: p.Competency.Month,
		CompetencyYear:  p.Competency.Year,
		TotalRefunded:   p.AmountRefunded.String(),
		PaidAt:          p.PaidAt,
	}
}

type invoiceView struct {
	CardID          int64        `json:"cardId"`
	CompetencyMonth int          `json:"competencyMonth"`
	CompetencyYear  int          `json:"competencyYear"`
	ClosingDate     string       `json:"closingDate"`
	DueDate         string       `json:"dueDate"`
	State           string       `json:"state"`
	Total           string       `json:"total"`
	PaidAt          *time.Time   `json:"paidAt,omitempty"`
	Charges         []chargeView `json:"charges"`
}

func newInvoiceView(inv core.Invoice) invoiceView {
	return invoiceView{
		CardID:          inv.CardID,
		CompetencyMonth: inv.Competency.Month,
		CompetencyYear:  inv.Competency.Year,
		ClosingDate:     inv.ClosingDate.String(),
		DueDate:         inv.DueDate.String(),
		State:           string(inv.State),
		Total:           inv.Total.String(),
		PaidAt:          inv.PaidAt,
		Charges:         newChargeViews(inv.Charges),
	}
}

type eventView struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	GroupID         string    `json:"groupId,omitempty"`
	CompetencyMonth int       `json:"competencyMonth,omitempty"`
	CompetencyYear  int       `json:"competencyYear,omitempty"`
	Amount          string    `json:"amount"`
	Available       string    `json:"available"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func newEventView(e core.LedgerEvent) eventView {
	v := eventView{
		ID:         e.ID,
		Type:       string(e.Type),
		GroupID:    e.GroupID,
		Amount:     e.Amount.String(),
		Available:  e.Available.String(),
		OccurredAt: e.OccurredAt,
	}
	if e.Competency != nil {
		v.CompetencyMonth = e.Competency.Month
		v.CompetencyYear = e.Competency.Year
	}
	return v
}
