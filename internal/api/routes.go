package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"papertrade/internal/api/handlers"
	"papertrade/internal/api/middleware"
	"papertrade/pkg/ratelimit"
	"papertrade/pkg/utils"
)

// Manager - всё, что API использует у менеджера сессий (bot.Manager)
type Manager interface {
	handlers.SessionService
	handlers.PositionService
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Manager    Manager
	Subscriber handlers.SymbolSubscriber
	Market     handlers.MarketReader
	Account    handlers.AccountReader
	Status     handlers.StatusSource

	// Дополнительные разделы /api/v1/status
	StatusExtras map[string]func() interface{}

	// Endpoint /ws/stream; nil - не регистрируется
	WebSocket http.Handler

	Logger       *utils.Logger
	CORSOrigins  []string
	AuthToken    string
	OrderLimiter *ratelimit.RateLimiter
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// /api/v1/
//
//	├── /sessions
//	│   ├── POST /                          создать сессию
//	│   ├── GET /                           список
//	│   ├── GET /{id}                       получить
//	│   ├── POST /{id}/start                запустить
//	│   ├── POST /{id}/stop                 остановить
//	│   ├── PATCH /{id}/risk                риск-параметры
//	│   ├── GET /{id}/metrics               статистика
//	│   ├── POST /{id}/positions            открыть позицию
//	│   ├── GET /{id}/positions             позиции
//	│   ├── GET /{id}/positions/{pid}       позиция
//	│   ├── POST /{id}/positions/{pid}/close закрыть
//	│   └── GET /{id}/trades                журнал сделок
//	├── GET /market, /market/{symbol}       последние тики
//	├── GET /account                        зеркало аккаунта площадки
//	└── GET /status                         соединения и очереди
//
// /ws/stream  WebSocket обновлений UI
// /metrics    Prometheus
// /health     health check
//
// Middleware: Recovery, Logging, CORS для всех маршрутов;
// BearerAuth для /api/v1; RateLimit для открытия/закрытия позиций.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.CORSOrigins))

	system := handlers.NewSystemHandler(deps.Status, deps.StatusExtras)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BearerAuth(deps.AuthToken))

	if deps.Manager != nil {
		sessions := handlers.NewSessionHandler(deps.Manager, deps.Subscriber, deps.Logger)
		positions := handlers.NewPositionHandler(deps.Manager)

		api.HandleFunc("/sessions", sessions.CreateSession).Methods(http.MethodPost)
		api.HandleFunc("/sessions", sessions.ListSessions).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}", sessions.GetSession).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}/start", sessions.StartSession).Methods(http.MethodPost)
		api.HandleFunc("/sessions/{id}/stop", sessions.StopSession).Methods(http.MethodPost)
		api.HandleFunc("/sessions/{id}/risk", sessions.UpdateRisk).Methods(http.MethodPatch)
		api.HandleFunc("/sessions/{id}/metrics", sessions.GetMetrics).Methods(http.MethodGet)

		limit := middleware.RateLimit(deps.OrderLimiter)
		api.Handle("/sessions/{id}/positions", limit(http.HandlerFunc(positions.OpenPosition))).Methods(http.MethodPost)
		api.Handle("/sessions/{id}/positions/{pid}/close", limit(http.HandlerFunc(positions.ClosePosition))).Methods(http.MethodPost)

		api.HandleFunc("/sessions/{id}/positions", positions.ListPositions).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}/positions/{pid}", positions.GetPosition).Methods(http.MethodGet)
		api.HandleFunc("/sessions/{id}/trades", positions.ListTrades).Methods(http.MethodGet)
	}

	if deps.Market != nil {
		market := handlers.NewMarketHandler(deps.Market, deps.Account)
		api.HandleFunc("/market", market.ListTicks).Methods(http.MethodGet)
		api.HandleFunc("/market/{symbol}", market.GetTick).Methods(http.MethodGet)
		api.HandleFunc("/account", market.GetAccount).Methods(http.MethodGet)
	}

	api.HandleFunc("/status", system.Status).Methods(http.MethodGet)

	if deps.WebSocket != nil {
		router.Handle("/ws/stream", deps.WebSocket)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", system.Health).Methods(http.MethodGet)

	// Preflight для любого пути; ответ формирует CORS middleware
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}
