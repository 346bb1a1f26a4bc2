// Package http exposes the billing engine as a JSON API.
//
// This file decodes request bodies and path values into service inputs.
// Amounts arrive as decimal strings or numbers and are converted to cents
// once, here.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"fatura/internal/core"
	"fatura/internal/services"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// decodeJSON strictly decodes the request body into dst. Unknown fields and
// trailing data are rejected. An empty body is reported as errEmptyBody so
// handlers with optional bodies can accept it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data after object")
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}

// pathCompetency parses {year}/{month} path values.
func pathCompetency(r *http.Request) (core.Competency, error) {
	year, errY := strconv.Atoi(r.PathValue("year"))
	month, errM := strconv.Atoi(r.PathValue("month"))
	if errY != nil || errM != nil {
		return core.Competency{}, &core.ValidationError{Field: "competency", Err: core.ErrInvalidCompetency}
	}
	c := core.NewCompetency(year, month)
	if err := c.Validate(); err != nil {
		return core.Competency{}, &core.ValidationError{Field: "competency", Err: err}
	}
	return c, nil
}

// amountField accepts "12.34", "12,34" or 12.34 and keeps the literal text,
// so no float rounding happens before the decimal conversion.
type amountField struct {
	raw string
}

func (a *amountField) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	a.raw = s
	return nil
}

func (a amountField) money(field string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(a.raw)
	if err != nil {
		return core.Money{}, &core.ValidationError{Field: field, Err: err}
	}
	return core.Money{Cents: cents}, nil
}

type createChargeRequest struct {
	Method       string      `json:"method"`
	CardID       int64       `json:"cardId"`
	Amount       amountField `json:"amount"`
	PurchaseDate string      `json:"purchaseDate"`
	Installments *int        `json:"installments"`
	CategoryID   int64       `json:"categoryId"`
	Description  string      `json:"description"`
	IsFixed      bool        `json:"isFixed"`
}

// toNewCharge converts the request. A missing installment count means a
// single payment.
func (req createChargeRequest) toNewCharge() (services.NewCharge, error) {
	method, err := core.ParseMethod(req.Method, req.CardID)
	if err != nil {
		return services.NewCharge{}, err
	}
	amount, err := req.Amount.money("amount")
	if err != nil {
		return services.NewCharge{}, err
	}
	date, err := core.ParseDate(strings.TrimSpace(req.PurchaseDate))
	if err != nil {
		return services.NewCharge{}, &core.ValidationError{Field: "purchaseDate", Err: core.ErrInvalidDate}
	}
	installments := 1
	if req.Installments != nil {
		installments = *req.Installments
	}
	return services.NewCharge{
		Method:       method,
		Amount:       amount,
		PurchaseDate: date,
		Installments: installments,
		CategoryID:   req.CategoryID,
		Description:  sanitizeInput(req.Description),
		IsFixed:      req.IsFixed,
	}, nil
}

type payInvoiceRequest struct {
	Month *int `json:"month"`
	Year  *int `json:"year"`
}

// competency returns nil when neither field is set; the service then picks
// the last closed cycle.
func (req payInvoiceRequest) competency() (*core.Competency, error) {
	if req.Month == nil && req.Year == nil {
		return nil, nil
	}
	if req.Month == nil || req.Year == nil {
		return nil, &core.ValidationError{Field: "competency", Err: core.ErrInvalidCompetency}
	}
	c := core.NewCompetency(*req.Year, *req.Month)
	return &c, nil
}

type createCardRequest struct {
	Name              string       `json:"name"`
	LastDigits        string       `json:"lastDigits"`
	Kind              string       `json:"kind"`
	Color             string       `json:"color"`
	CreditLimit       *amountField `json:"creditLimit"`
	DueDay            int          `json:"dueDay"`
	ClosingOffsetDays int          `json:"closingOffsetDays"`
}

func (req createCardRequest) toNewCard() (services.NewCard, error) {
	nc := services.NewCard{
		Name:              sanitizeInput(req.Name),
		LastDigits:        strings.TrimSpace(req.LastDigits),
		Kind:              core.CardKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Color:             sanitizeInput(req.Color),
		DueDay:            req.DueDay,
		ClosingOffsetDays: req.ClosingOffsetDays,
	}
	if req.CreditLimit != nil {
		limit, err := req.CreditLimit.money("creditLimit")
		if err != nil {
			return services.NewCard{}, err
		}
		nc.CreditLimit = limit
	}
	return nc, nil
}

type updateCardRequest struct {
	Name              *string      `json:"name"`
	LastDigits        *string      `json:"lastDigits"`
	Kind              *string      `json:"kind"`
	Color             *string      `json:"color"`
	CreditLimit       *amountField `json:"creditLimit"`
	DueDay            *int         `json:"dueDay"`
	ClosingOffsetDays *int         `json:"closingOffsetDays"`
}

func (req updateCardRequest) toCardUpdate() (core.CardUpdate, error) {
	upd := core.CardUpdate{
		LastDigits:        req.LastDigits,
		DueDay:            req.DueDay,
		ClosingOffsetDays: req.ClosingOffsetDays,
	}
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		upd.Name = &name
	}
	if req.Color != nil {
		color := sanitizeInput(*req.Color)
		upd.Color = &color
	}
	if req.Kind != nil {
		kind := core.CardKind(strings.ToLower(strings.TrimSpace(*req.Kind)))
		upd.Kind = &kind
	}
	if req.CreditLimit != nil {
		limit, err := req.CreditLimit.money("creditLimit")
		if err != nil {
			return core.CardUpdate{}, err
		}
		upd.CreditLimit = &limit
	}
	return upd, nil
}
