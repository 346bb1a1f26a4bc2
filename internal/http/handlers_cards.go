package http

import (
	"net/http"

	"fatura/internal/log"
)

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	nc, err := req.toNewCard()
	if err != nil {
		writeError(w, r, err)
		return
	}

	card, err := s.svc.Cards.CreateCard(r.Context(), nc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/cards/"+itoa(card.ID)).
		Body(newCardView(card)).
		Write(w)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.svc.Cards.ListCards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]cardView, len(cards))
	for i, c := range cards {
		views[i] = newCardView(c)
	}
	NewJSONResponse().Body(views).Write(w)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if card, found := s.cardCache.Get(cardCacheKey(id)); found {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Card cache hit", log.FieldCardID, id)
		NewJSONResponse().Body(newCardView(card)).Write(w)
		return
	}

	gen := s.cardGeneration(id)
	card, err := s.svc.Cards.GetCard(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cacheIfCurrent(id, gen, func() { s.cardCache.Set(cardCacheKey(id), card) })
	NewJSONResponse().Body(newCardView(card)).Write(w)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	var req updateCardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	upd, err := req.toCardUpdate()
	if err != nil {
		writeError(w, r, err)
		return
	}

	card, err := s.svc.Cards.UpdateCard(r.Context(), id, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateCard(id)
	NewJSONResponse().Body(newCardView(card)).Write(w)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if err := s.svc.Cards.DeleteCard(r.Context(), id, s.now()); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateCard(id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
