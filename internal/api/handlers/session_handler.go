package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"papertrade/internal/bot"
	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// SessionService - операции менеджера сессий (bot.Manager)
type SessionService interface {
	CreateSession(req bot.CreateSessionRequest) (*models.Session, error)
	StartSession(id string) (*models.Session, error)
	StopSession(id string) (*models.Session, error)
	GetSession(id string) (*models.Session, error)
	ListSessions() []models.Session
	UpdateRiskParameters(id string, params models.RiskParameters) (*models.Session, error)
	Metrics(id string) (*models.SessionMetrics, error)
}

// SymbolSubscriber подписывает поток площадки на символы (bot.Engine)
type SymbolSubscriber interface {
	EnsureSymbols(ctx context.Context, symbols []string) error
}

// SessionHandler отвечает за жизненный цикл торговых сессий
//
//	POST  /api/v1/sessions              создать (created)
//	GET   /api/v1/sessions              список
//	GET   /api/v1/sessions/{id}         получить
//	POST  /api/v1/sessions/{id}/start   created -> running
//	POST  /api/v1/sessions/{id}/stop    running -> stopped, закрывает позиции
//	PATCH /api/v1/sessions/{id}/risk    заменить риск-параметры
//	GET   /api/v1/sessions/{id}/metrics статистика
type SessionHandler struct {
	svc        SessionService
	subscriber SymbolSubscriber
	log        *utils.Logger
}

// NewSessionHandler создает SessionHandler; subscriber может быть nil
func NewSessionHandler(svc SessionService, subscriber SymbolSubscriber, log *utils.Logger) *SessionHandler {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &SessionHandler{svc: svc, subscriber: subscriber, log: log.WithComponent("api")}
}

// CreateSession создаёт сессию
// POST /api/v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req bot.CreateSessionRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	s, err := h.svc.CreateSession(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ListSessions возвращает все сессии в порядке создания
// GET /api/v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListSessions())
}

// GetSession возвращает снимок сессии
// GET /api/v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSession(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// StartSession запускает сессию и подписывает поток на её символы
// POST /api/v1/sessions/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.svc.StartSession(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Без подписки ордера получат NO_MARKET_DATA; сессию не откатываем
	if h.subscriber != nil && len(s.Symbols) > 0 {
		if err := h.subscriber.EnsureSymbols(r.Context(), s.Symbols); err != nil {
			h.log.Warn("subscribe session symbols failed", utils.SessionID(id), utils.Err(err))
		}
	}
	writeJSON(w, http.StatusOK, s)
}

// StopSession останавливает сессию
// POST /api/v1/sessions/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.StopSession(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateRisk заменяет риск-параметры целиком
// PATCH /api/v1/sessions/{id}/risk
func (h *SessionHandler) UpdateRisk(w http.ResponseWriter, r *http.Request) {
	var params models.RiskParameters
	if err := decodeBody(r, &params, false); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	s, err := h.svc.UpdateRiskParameters(mux.Vars(r)["id"], params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetMetrics возвращает статистику сессии
// GET /api/v1/sessions/{id}/metrics
func (h *SessionHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Metrics(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
