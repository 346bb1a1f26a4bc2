package http

import (
	"errors"
	"net/http"

	"fatura/internal/core"
)

// handlePayInvoice pays one closed competency. The body is optional: without
// month and year the last closed cycle is paid.
func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req payInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		BadRequestError(err.Error()).Write(w)
		return
	}
	comp, err := req.competency()
	if err != nil {
		writeError(w, r, err)
		return
	}

	payment, err := s.svc.Invoices.PayInvoice(r.Context(), cardID, comp, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateCard(cardID)
	NewJSONResponse().Body(newPaymentView(payment)).Write(w)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	today := s.now()
	key := invoiceListKey(cardID, today)
	invoices, found := s.invoiceCache.Get(key)
	if !found {
		gen := s.cardGeneration(cardID)
		invoices, err = s.svc.Invoices.ListInvoices(r.Context(), cardID, today)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.cacheIfCurrent(cardID, gen, func() { s.invoiceCache.Set(key, invoices) })
	}

	views := make([]invoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = newInvoiceView(inv)
	}
	NewJSONResponse().Body(views).Write(w)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	comp, err := pathCompetency(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	today := s.now()
	key := invoiceKey(cardID, comp, today)
	if cached, found := s.invoiceCache.Get(key); found && len(cached) == 1 {
		NewJSONResponse().Body(newInvoiceView(cached[0])).Write(w)
		return
	}

	gen := s.cardGeneration(cardID)
	inv, err := s.svc.Invoices.GetInvoice(r.Context(), cardID, comp, today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cacheIfCurrent(cardID, gen, func() { s.invoiceCache.Set(key, []core.Invoice{inv}) })
	NewJSONResponse().Body(newInvoiceView(inv)).Write(w)
}
