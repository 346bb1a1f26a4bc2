package http

import (
	"net/http"
	"strconv"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// handleListEvents returns the newest ledger events recorded for a card,
// newest first. Events are recorded by the worker, so the trail lags the API.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequestError("limit must be a positive integer").Write(w)
			return
		}
		limit = min(n, maxEventLimit)
	}

	if _, err := s.svc.Cards.GetCard(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = newEventView(e)
	}
	NewJSONResponse().Body(views).Write(w)
}
