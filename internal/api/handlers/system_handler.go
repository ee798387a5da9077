package handlers

import (
	"net/http"
	"time"

	"papertrade/internal/exchange"
)

// StatusSource - состояние соединений с площадкой (bot.Engine)
type StatusSource interface {
	Status() []exchange.ConnectionStatus
}

// SystemHandler - health check и сводное состояние процесса
//
//	GET /health          200 ok / 503 degraded (публичный канал не подключен)
//	GET /api/v1/status   соединения и счётчики компонентов
type SystemHandler struct {
	conns   StatusSource
	extras  map[string]func() interface{}
	started time.Time
}

// NewSystemHandler создает SystemHandler
// extras - именованные источники для /status (очередь записи, UI hub)
func NewSystemHandler(conns StatusSource, extras map[string]func() interface{}) *SystemHandler {
	return &SystemHandler{conns: conns, extras: extras, started: time.Now()}
}

// HealthResponse - ответ /health
type HealthResponse struct {
	Status      string                      `json:"status"`
	Uptime      string                      `json:"uptime"`
	Connections []exchange.ConnectionStatus `json:"connections"`
}

// Health проверяет, что публичный поток подключен
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Uptime: time.Since(h.started).Truncate(time.Second).String()}
	if h.conns != nil {
		resp.Connections = h.conns.Status()
		for _, c := range resp.Connections {
			if c.Kind == exchange.ConnPublic && c.State != exchange.StateConnected.String() {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Status возвращает соединения и счётчики компонентов
// GET /api/v1/status
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.conns != nil {
		out["connections"] = h.conns.Status()
	}
	for name, fn := range h.extras {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}
