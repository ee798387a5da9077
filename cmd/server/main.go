package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"papertrade/internal/api"
	"papertrade/internal/bot"
	"papertrade/internal/config"
	"papertrade/internal/exchange"
	"papertrade/internal/marketdata"
	"papertrade/internal/models"
	"papertrade/internal/persistence"
	"papertrade/internal/repository"
	"papertrade/internal/websocket"
	"papertrade/pkg/ratelimit"
	"papertrade/pkg/retry"
	"papertrade/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Приёмники персистентности: PostgreSQL и NATS опциональны,
	// их недоступность не мешает торговле
	var sinks []persistence.Sink
	var pgSink *persistence.PostgresSink

	if cfg.Database.Enabled {
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			log.Warn("database unavailable, running without postgres persistence",
				utils.String("dsn", cfg.Database.DSNWithoutPassword()), utils.Err(err))
		} else {
			defer db.Close()
			log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))
			pgSink = persistence.NewPostgresSink(db, log)
			sinks = append(sinks, pgSink)
		}
	}

	if cfg.NATS.Enabled {
		natsSink, err := persistence.DialNATS(persistence.NATSConfig{
			URL:           cfg.NATS.URL,
			ClientName:    cfg.NATS.ClientName,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, log)
		if err != nil {
			log.Warn("nats unavailable, running without nats fan-out", utils.Err(err))
		} else {
			defer natsSink.Close()
			sinks = append(sinks, natsSink)
		}
	}

	writer := persistence.NewWriter(persistence.WriterConfig{
		QueueSize:          cfg.Persistence.QueueSize,
		WriteTimeout:       cfg.Persistence.WriteTimeout,
		TickSampleInterval: cfg.Persistence.TickSampleInterval,
		Retry: retry.Config{
			MaxAttempts:  cfg.Persistence.MaxRetries + 1,
			InitialDelay: cfg.Persistence.RetryBackoff,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
	}, log, sinks...)

	if pgSink != nil {
		go pgSink.RunTickRetention(ctx, cfg.Persistence.TickRetention, cfg.Persistence.RetentionInterval)
	}

	// Торговое ядро
	store := marketdata.NewStore()

	seed := cfg.Simulator.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim := bot.NewExecutionSimulator(bot.SimulatorConfig{
		BaseSlippage:       cfg.Simulator.BaseSlippage,
		ImpactCoefficient:  cfg.Simulator.ImpactCoefficient,
		NominalDepth:       cfg.Simulator.NominalDepth,
		MaxSlippage:        cfg.Simulator.MaxSlippage,
		MinLatency:         cfg.Simulator.MinLatency,
		MaxLatency:         cfg.Simulator.MaxLatency,
		FailureProbability: cfg.Simulator.FailureProbability,
	}, bot.NewSeededRand(seed))

	manager := bot.NewManager(store, sim, bot.NewRiskEnforcer(nil), log)
	manager.SetRecorder(writer)

	// Поток площадки
	var creds *exchange.Credentials
	if cfg.Exchange.HasCredentials() {
		creds = &exchange.Credentials{
			APIKey:     cfg.Exchange.APIKey,
			APISecret:  cfg.Exchange.APISecret,
			Passphrase: cfg.Exchange.Passphrase,
		}
	}

	reconnect := exchange.DefaultWSReconnectConfig()
	reconnect.BaseDelay = cfg.Exchange.ReconnectBaseDelay
	reconnect.MaxAttempts = cfg.Exchange.MaxReconnectAttempts
	reconnect.ConnectTimeout = cfg.Exchange.ConnectTimeout
	reconnect.HeartbeatInterval = cfg.Exchange.HeartbeatInterval

	stream := exchange.NewStreamClient(exchange.StreamConfig{
		Exchange:      cfg.Exchange.Name,
		RESTURL:       cfg.Exchange.RESTURL,
		Credentials:   creds,
		Reconnect:     reconnect,
		HTTP:          exchange.DefaultHTTPClientConfig(),
		OutboundRate:  cfg.Exchange.OutboundRate,
		OutboundBurst: cfg.Exchange.OutboundBurst,
	}, nil, log)

	hub := websocket.NewHub(log)
	go hub.Run()

	engine := bot.NewEngine(bot.EngineConfig{
		Symbols:       cfg.Exchange.Symbols,
		EnablePrivate: cfg.Exchange.EnablePrivate,
	}, stream, store, manager, hub, writer, log)

	// Без потока площадки API продолжает работать, /health отдаёт degraded
	if err := engine.Start(ctx); err != nil {
		log.Error("market stream failed to start, serving in degraded mode", utils.Err(err))
	}

	// HTTP API
	var orderLimiter *ratelimit.RateLimiter
	if cfg.Server.OrderRateLimit > 0 {
		orderLimiter = ratelimit.NewRateLimiter(cfg.Server.OrderRateLimit, cfg.Server.OrderBurst)
	}

	router := api.SetupRoutes(&api.Dependencies{
		Manager:    manager,
		Subscriber: engine,
		Market:     store,
		Account:    engine.Account(),
		Status:     engine,
		StatusExtras: map[string]func() interface{}{
			"persistence": func() interface{} { return writer.Stats() },
			"ui_clients":  func() interface{} { return hub.ClientCount() },
			"ui_dropped":  func() interface{} { return hub.DroppedMessages() },
		},
		WebSocket:    websocket.NewHandler(hub, cfg.Server.CORSOrigins),
		Logger:       log,
		CORSOrigins:  cfg.Server.CORSOrigins,
		AuthToken:    cfg.Server.AuthToken,
		OrderLimiter: orderLimiter,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("http server failed", utils.Err(err))
	}

	// Graceful shutdown: HTTP, поток площадки, сессии, очередь записи
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to shutdown", utils.Err(err))
	}

	engine.Stop()

	// Остановка сессий закрывает позиции по последнему тику
	for _, s := range manager.ListSessions() {
		if s.Status != models.SessionStatusRunning {
			continue
		}
		if _, err := manager.StopSession(s.ID); err != nil {
			log.Warn("failed to stop session on shutdown", utils.SessionID(s.ID), utils.Err(err))
		}
	}

	hub.Stop()
	closeWriter(writer, cfg.Persistence.DrainTimeout, log)
	log.Info("server exited")
}

// initDatabase открывает пул, проверяет соединение и применяет схему
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := repository.Migrate(pingCtx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return db, nil
}

func closeWriter(w *persistence.Writer, timeout time.Duration, log *utils.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		log.Warn("persistence queue not fully drained", utils.Err(err))
	}
}
