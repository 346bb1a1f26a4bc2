package core

import "strings"

const (
	MethodCash   MethodKind = "cash"
	MethodPix    MethodKind = "pix"
	MethodDebit  MethodKind = "debit"
	MethodCredit MethodKind = "credit"
)

type MethodKind string

// PaymentMethod is a closed variant: Cash, Pix, Debit (optionally tied to a
// debit card) or Credit (always tied to a credit card). Only Credit touches
// the ledger and the billing cycle.
type PaymentMethod struct {
	kind   MethodKind
	cardID int64
}

func Cash() PaymentMethod { return PaymentMethod{kind: MethodCash} }
func Pix() PaymentMethod  { return PaymentMethod{kind: MethodPix} }

// Debit builds a debit payment; cardID 0 means no card is recorded.
func Debit(cardID int64) PaymentMethod {
	return PaymentMethod{kind: MethodDebit, cardID: cardID}
}

func Credit(cardID int64) PaymentMethod {
	return PaymentMethod{kind: MethodCredit, cardID: cardID}
}

// ParseMethod builds a PaymentMethod from its wire form.
func ParseMethod(kind string, cardID int64) (PaymentMethod, error) {
	var m PaymentMethod
	switch MethodKind(strings.ToLower(strings.TrimSpace(kind))) {
	case MethodCash:
		m = Cash()
	case MethodPix:
		m = Pix()
	case MethodDebit:
		m = Debit(cardID)
	case MethodCredit:
		m = Credit(cardID)
	default:
		return PaymentMethod{}, &ValidationError{Field: "method", Err: ErrInvalidMethod}
	}
	if err := m.Validate(); err != nil {
		return PaymentMethod{}, err
	}
	return m, nil
}

func (m PaymentMethod) Kind() MethodKind { return m.kind }

// CardID returns the card the payment is tied to, if any.
func (m PaymentMethod) CardID() (int64, bool) {
	if m.cardID <= 0 {
		return 0, false
	}
	return m.cardID, true
}

func (m PaymentMethod) UsesLedger() bool {
	return m.kind == MethodCredit
}

func (m PaymentMethod) Validate() error {
	switch m.kind {
	case MethodCash, MethodPix:
		if m.cardID != 0 {
			return &ValidationError{Field: "cardId", Err: ErrInvalidMethod}
		}
	case MethodDebit:
		if m.cardID < 0 {
			return &ValidationError{Field: "cardId", Err: ErrInvalidMethod}
		}
	case MethodCredit:
		if m.cardID <= 0 {
			return &ValidationError{Field: "cardId", Err: ErrInvalidCard}
		}
	default:
		return &ValidationError{Field: "method", Err: ErrInvalidMethod}
	}
	return nil
}

func (m PaymentMethod) String() string {
	return string(m.kind)
}
