package handler

import (
	"net/http"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

type createCardRequest struct {
	UserID         uuid.UUID `json:"userId" validate:"required"`
	ExpirationDate string    `json:"expirationDate" validate:"required,datetime=2006-01-02"`
}

type updateStatusRequest struct {
	Status models.CardStatus `json:"status" validate:"required,oneof=ACTIVE BLOCKED EXPIRED"`
}

type statusesResponse struct {
	Statuses []models.CardStatus `json:"statuses"`
}

// GetCard handles GET /api/v1/cards/{id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	card, err := h.cards.GetByID(r.Context(), id, principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// ListCards handles GET /api/v1/cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseCardQuery(r.URL.Query())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cards, err := h.cards.ListByFilter(r.Context(), filter, principal(r), page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// ListUserCards handles GET /api/v1/users/{id}/cards
func (h *Handler) ListUserCards(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cards, err := h.cards.ListByOwner(r.Context(), ownerID, principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// CreateCard handles POST /api/v1/cards
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	expiration, err := time.Parse(models.DateLayout, req.ExpirationDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	card, err := h.cards.Create(r.Context(), req.UserID, expiration)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// UpdateStatus handles PATCH /api/v1/cards/{id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var req updateStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	card, err := h.cards.UpdateStatus(r.Context(), id, req.Status, principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// BlockCard handles PATCH /api/v1/cards/{id}/block
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	card, err := h.cards.BlockRequest(r.Context(), id, principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// Transfer handles POST /api/v1/cards/transfer
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.Transfer
	if err := h.decode(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	cards, err := h.cards.Transfer(r.Context(), req, principal(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// DeleteCard handles DELETE /api/v1/cards/{id}
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.cards.DeleteByID(r.Context(), id, principal(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStatuses handles GET /api/v1/cards/statuses
func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusesResponse{Statuses: h.cards.ListStatuses()})
}
