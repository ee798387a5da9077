package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"papertrade/internal/exchange"
	"papertrade/internal/marketdata"
	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Stream - источник данных площадки (exchange.StreamClient)
type Stream interface {
	Events() *exchange.EventBus
	BindMarket(sink exchange.MarketSink)
	BindAccount(sink exchange.AccountSink)
	HasCredentials() bool
	Connect(ctx context.Context, kind exchange.ConnKind) error
	SubscribeMarket(ctx context.Context, symbol string) error
	SubscribeAccount(ctx context.Context, symbols []string) error
	Status() []exchange.ConnectionStatus
	Close()
}

// TickRecorder - приёмник тиков для персистентности
type TickRecorder interface {
	EnqueueTick(tick models.Tick) bool
}

// ConnectionInfo - состояние соединения для UI
type ConnectionInfo struct {
	Kind    string    `json:"kind"`
	State   string    `json:"state"`
	Attempt int       `json:"attempt"`
	Fatal   bool      `json:"fatal"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// WebSocketHub - интерфейс для отправки данных клиентам
//
// Реализуется пакетом internal/websocket/Hub
type WebSocketHub interface {
	// BroadcastUpdate отправляет изменение сессии, позиции или сделки
	BroadcastUpdate(u *Update)

	// BroadcastConnection отправляет смену состояния соединения с площадкой
	BroadcastConnection(info ConnectionInfo)
}

// EngineConfig - параметры движка
type EngineConfig struct {
	// Символы, на которые подписываемся сразу после подключения
	Symbols []string
	// Подключать приватный канал, если есть ключи
	EnablePrivate bool
	// Буфер канала обновлений для UI
	UpdateBuffer int
}

var connStates = []string{
	exchange.StateDisconnected.String(),
	exchange.StateConnecting.String(),
	exchange.StateAuthenticating.String(),
	exchange.StateConnected.String(),
	exchange.StateReconnecting.String(),
	exchange.StateFailed.String(),
	exchange.StateClosed.String(),
}

// Engine - связка потока площадки, хранилища цен и менеджера сессий
//
// Поток данных:
// StreamClient → Router → Engine.OnTickPatch → Store.Merge → Manager.OnTick
//
//	↘ Store listener → TickRecorder (очередь персистентности)
//
// Тики одного соединения обрабатываются по порядку в горутине чтения,
// поэтому Store.Merge имеет единственного писателя на символ.
type Engine struct {
	cfg     EngineConfig
	stream  Stream
	store   *marketdata.Store
	manager *Manager
	account *AccountView
	hub     WebSocketHub

	updates chan *Update

	mu         sync.Mutex
	subscribed map[string]bool
	unsubEvent func()
	cancel     context.CancelFunc
	done       chan struct{}
	started    bool

	log *utils.Logger
}

// NewEngine создаёт движок; hub и recorder могут быть nil
func NewEngine(cfg EngineConfig, stream Stream, store *marketdata.Store, manager *Manager, hub WebSocketHub, recorder TickRecorder, log *utils.Logger) *Engine {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 1024
	}

	e := &Engine{
		cfg:        cfg,
		stream:     stream,
		store:      store,
		manager:    manager,
		account:    NewAccountView(0),
		hub:        hub,
		updates:    make(chan *Update, cfg.UpdateBuffer),
		subscribed: make(map[string]bool),
		log:        log.WithComponent("engine"),
	}

	manager.SetUpdateChannel(e.updates)
	if recorder != nil {
		store.AddListener(func(t models.Tick) {
			recorder.EnqueueTick(t)
		})
	}
	return e
}

// Store возвращает хранилище цен
func (e *Engine) Store() *marketdata.Store { return e.store }

// Manager возвращает менеджер сессий
func (e *Engine) Manager() *Manager { return e.manager }

// Account возвращает представление аккаунта площадки
func (e *Engine) Account() *AccountView { return e.account }

// Status возвращает состояние соединений
func (e *Engine) Status() []exchange.ConnectionStatus {
	return e.stream.Status()
}

// Start подключается к площадке и подписывается на символы
//
// Ошибка публичного подключения возвращается; повторные попытки
// дальше ведёт менеджер соединения. Ошибка приватного канала только
// логируется: бумажная торговля от него не зависит.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.stream.BindMarket(e)
	e.stream.BindAccount(e)
	e.unsubEvent = e.stream.Events().Subscribe(e.onConnectionEvent)

	go e.pumpUpdates(runCtx)

	// Временная ошибка не мешает старту: соединение переподключается само,
	// подписки уйдут при replay
	if err := e.stream.Connect(ctx, exchange.ConnPublic); err != nil {
		if exchange.IsAuthError(err) {
			return fmt.Errorf("connect public stream: %w", err)
		}
		e.log.Warn("public stream unavailable, reconnecting in background", utils.Err(err))
	}
	if err := e.EnsureSymbols(ctx, e.cfg.Symbols); err != nil {
		return err
	}

	if e.cfg.EnablePrivate && e.stream.HasCredentials() {
		if err := e.stream.Connect(ctx, exchange.ConnPrivate); err != nil {
			e.log.Warn("private stream unavailable", utils.Err(err))
		} else if err := e.stream.SubscribeAccount(ctx, e.cfg.Symbols); err != nil {
			e.log.Warn("account subscription failed", utils.Err(err))
		}
	}

	e.log.Info("engine started", utils.Any("symbols", e.cfg.Symbols))
	return nil
}

// EnsureSymbols подписывает рыночные топики для новых символов
// Уже подписанные символы пропускаются.
func (e *Engine) EnsureSymbols(ctx context.Context, symbols []string) error {
	for _, s := range symbols {
		s = utils.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		e.mu.Lock()
		done := e.subscribed[s]
		e.mu.Unlock()
		if done {
			continue
		}
		if err := e.stream.SubscribeMarket(ctx, s); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		e.mu.Lock()
		e.subscribed[s] = true
		e.mu.Unlock()
	}
	return nil
}

// Stop закрывает соединения и останавливает трансляцию обновлений
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if e.unsubEvent != nil {
		e.unsubEvent()
	}
	e.stream.Close()
	cancel()
	<-done
	e.log.Info("engine stopped")
}

// pumpUpdates пересылает обновления менеджера в hub
func (e *Engine) pumpUpdates(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-e.updates:
			if e.hub != nil {
				e.hub.BroadcastUpdate(u)
			}
		}
	}
}

func (e *Engine) onConnectionEvent(ev exchange.ConnectionEvent) {
	kind := string(ev.Kind)
	state := ev.State.String()

	RecordConnectionState(kind, state, connStates)
	if ev.State == exchange.StateReconnecting {
		RecordReconnect(kind)
	}

	info := ConnectionInfo{Kind: kind, State: state, Attempt: ev.Attempt, Fatal: ev.Fatal, At: ev.At}
	if ev.Err != nil {
		info.Error = ev.Err.Error()
	}

	fields := []utils.Field{utils.ConnKind(kind), utils.State(state), utils.Attempt(ev.Attempt)}
	if ev.Err != nil {
		fields = append(fields, utils.Err(ev.Err))
	}
	switch {
	case ev.Fatal:
		e.log.Error("venue connection failed permanently", fields...)
	case ev.State == exchange.StateReconnecting:
		e.log.Warn("venue connection lost", fields...)
	default:
		e.log.Info("venue connection state", fields...)
	}

	if e.hub != nil {
		e.hub.BroadcastConnection(info)
	}
}

// ============ exchange.MarketSink ============

// OnTickPatch применяет обновление цены и оценивает открытые позиции
func (e *Engine) OnTickPatch(patch models.TickPatch) {
	if patch.Symbol == "" || patch.Empty() {
		return
	}
	start := time.Now()
	tick := e.store.Merge(patch)
	e.manager.OnTick(tick.Symbol, tick)
	RecordTick(tick.Symbol, float64(time.Since(start).Microseconds())/1000)
}

// OnOrderBook учитывает изменение стакана
// Лучшие цены приходят в тикере; уровни стакана не хранятся.
func (e *Engine) OnOrderBook(delta models.OrderBookDelta) {
	e.log.Debug("level2 change",
		utils.Symbol(delta.Symbol),
		utils.Side(delta.Side),
		utils.Price(delta.Price),
		utils.Size(delta.Size))
}

// OnMarketTrade обновляет последнюю цену по публичной сделке
func (e *Engine) OnMarketTrade(trade models.MarketTrade) {
	if trade.Price <= 0 {
		return
	}
	price := trade.Price
	e.OnTickPatch(models.TickPatch{Symbol: trade.Symbol, LastPrice: &price, EventTime: trade.EventTime})
}

// ============ exchange.AccountSink ============

// OnAccountPosition фиксирует позицию аккаунта площадки
func (e *Engine) OnAccountPosition(pos models.AccountPosition) {
	e.account.ApplyPosition(pos)
	e.log.Info("account position",
		utils.Symbol(pos.Symbol), utils.Side(pos.Side), utils.Size(pos.Size), utils.PNL(pos.UnrealizedPnl))
}

// OnWallet фиксирует баланс кошелька
func (e *Engine) OnWallet(balance models.WalletBalance) {
	e.account.ApplyWallet(balance)
	e.log.Info("wallet balance",
		utils.String("currency", balance.Currency),
		utils.Float64("available", balance.AvailableBalance))
}

// OnAccountOrder фиксирует событие ордера аккаунта
func (e *Engine) OnAccountOrder(ev models.AccountOrderEvent) {
	e.account.ApplyOrder(ev)
	e.log.Info("account order",
		utils.String("order_id", ev.OrderID),
		utils.Symbol(ev.Symbol),
		utils.String("type", ev.Type),
		utils.Price(ev.Price))
}
