package http

import (
	"errors"
	"net/http"

	"fatura/internal/core"
)

func (s *Server) handleCreateCharge(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	nc, err := req.toNewCharge()
	if err != nil {
		writeError(w, r, err)
		return
	}

	group, err := s.svc.Charges.CreateCharge(r.Context(), nc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cardID, ok := nc.Method.CardID(); ok {
		s.invalidateCard(cardID)
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(newChargeGroupView(group)).
		Write(w)
}

// handleDeleteCharge removes the whole installment group the charge belongs
// to and reports what went back to the card.
func (s *Server) handleDeleteCharge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	// Read first only to know which card views to drop afterwards.
	var cardID *int64
	if ch, err := s.store.GetCharge(r.Context(), id); err == nil {
		cardID = ch.CardID
	} else if !errors.Is(err, core.ErrChargeNotFound) {
		writeError(w, r, err)
		return
	}

	refunded, err := s.svc.Reversals.DeleteCharge(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cardID != nil {
		s.invalidateCard(*cardID)
	}

	NewJSONResponse().
		Body(refundView{RefundedAmount: refunded.String()}).
		Write(w)
}
