package http

import (
	"strconv"
	"strings"
	"time"

	"fatura/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func cardCacheKey(cardID int64) string {
	return "card:" + strconv.FormatInt(cardID, 10)
}

// invoicePrefix groups every cached invoice view of one card. The day is part
// of the key because invoice states move with the calendar.
func invoicePrefix(cardID int64) string {
	return "invoices:" + strconv.FormatInt(cardID, 10) + ":"
}

func invoiceListKey(cardID int64, today time.Time) string {
	return invoicePrefix(cardID) + core.DateOf(today).String()
}

func invoiceKey(cardID int64, comp core.Competency, today time.Time) string {
	return invoiceListKey(cardID, today) + ":" + comp.String()
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
