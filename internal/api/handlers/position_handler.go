package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"papertrade/internal/bot"
	"papertrade/internal/models"
)

// PositionService - операции с позициями (bot.Manager)
type PositionService interface {
	OpenPosition(ctx context.Context, sessionID string, req bot.OpenPositionRequest) (*models.Position, error)
	ClosePosition(ctx context.Context, sessionID, positionID, reason string, price *float64) (*models.Position, error)
	ListPositions(sessionID string) ([]models.Position, error)
	GetPosition(sessionID, positionID string) (*models.Position, error)
	ListTrades(sessionID string) ([]models.Trade, error)
}

// ClosePositionRequest - тело запроса закрытия
// Без price позиция закрывается по последнему тику с симуляцией исполнения.
type ClosePositionRequest struct {
	Reason string   `json:"reason,omitempty"`
	Price  *float64 `json:"price,omitempty"`
}

// PositionHandler - позиции и журнал сделок сессии
//
//	POST /api/v1/sessions/{id}/positions              открыть
//	GET  /api/v1/sessions/{id}/positions?status=open  список
//	GET  /api/v1/sessions/{id}/positions/{pid}        получить
//	POST /api/v1/sessions/{id}/positions/{pid}/close  закрыть
//	GET  /api/v1/sessions/{id}/trades                 журнал сделок
type PositionHandler struct {
	svc PositionService
}

// NewPositionHandler создает PositionHandler
func NewPositionHandler(svc PositionService) *PositionHandler {
	return &PositionHandler{svc: svc}
}

// OpenPosition открывает позицию через симулятор исполнения
// POST /api/v1/sessions/{id}/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req bot.OpenPositionRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	pos, err := h.svc.OpenPosition(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions возвращает позиции сессии; ?status=open|closed фильтрует
// GET /api/v1/sessions/{id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != models.PositionStatusOpen && status != models.PositionStatusClosed {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "status must be open or closed")
		return
	}

	positions, err := h.svc.ListPositions(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if status != "" {
		filtered := positions[:0]
		for _, p := range positions {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPosition возвращает одну позицию
// GET /api/v1/sessions/{id}/positions/{pid}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pos, err := h.svc.GetPosition(vars["id"], vars["pid"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition закрывает позицию вручную
// POST /api/v1/sessions/{id}/positions/{pid}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req ClosePositionRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	vars := mux.Vars(r)
	pos, err := h.svc.ClosePosition(r.Context(), vars["id"], vars["pid"], req.Reason, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListTrades возвращает журнал сделок сессии
// GET /api/v1/sessions/{id}/trades
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.svc.ListTrades(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}
