package exchange

import (
	"context"
	"fmt"

	"papertrade/internal/models"
	"papertrade/pkg/ratelimit"
	"papertrade/pkg/utils"
)

// StreamConfig - настройки клиента стрима площадки
type StreamConfig struct {
	Exchange    string
	RESTURL     string // базовый адрес bootstrap-эндпоинта
	Credentials *Credentials
	Reconnect   WSReconnectConfig
	HTTP        HTTPClientConfig

	// Лимит исходящих кадров на соединение
	OutboundRate  float64
	OutboundBurst float64
}

// MarketSink получает нормализованные рыночные данные
type MarketSink interface {
	OnTickPatch(patch models.TickPatch)
	OnOrderBook(delta models.OrderBookDelta)
	OnMarketTrade(trade models.MarketTrade)
}

// AccountSink получает данные аккаунта площадки (только наблюдение)
type AccountSink interface {
	OnAccountPosition(pos models.AccountPosition)
	OnWallet(balance models.WalletBalance)
	OnAccountOrder(ev models.AccountOrderEvent)
}

// StreamClient владеет публичным и приватным соединением
//
// Создаётся явно с конфигурацией; глобального экземпляра нет, в тестах
// можно поднять сколько угодно изолированных клиентов.
type StreamClient struct {
	cfg       StreamConfig
	http      *HTTPClient
	router    *Router
	events    *EventBus
	scheduler *Scheduler
	managers  map[ConnKind]*WSReconnectManager
	log       *utils.Logger
}

// NewStreamClient создаёт клиент; tokens == nil - REST TokenClient по cfg.RESTURL
func NewStreamClient(cfg StreamConfig, tokens TokenSource, log *utils.Logger) *StreamClient {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "poloniex-futures"
	}

	c := &StreamClient{
		cfg:       cfg,
		router:    NewRouter(log),
		events:    NewEventBus(),
		scheduler: NewScheduler(),
		managers:  make(map[ConnKind]*WSReconnectManager, 2),
		log:       log.WithComponent("stream").WithExchange(cfg.Exchange),
	}

	if tokens == nil {
		c.http = NewHTTPClient(cfg.HTTP)
		tokens = NewTokenClient(cfg.Exchange, cfg.RESTURL, c.http, cfg.Credentials)
	}

	for _, kind := range []ConnKind{ConnPublic, ConnPrivate} {
		var limiter *ratelimit.RateLimiter
		if cfg.OutboundRate > 0 {
			limiter = ratelimit.NewRateLimiter(cfg.OutboundRate, cfg.OutboundBurst)
		}
		c.managers[kind] = NewWSReconnectManager(cfg.Exchange, kind, cfg.Reconnect, ManagerDeps{
			Tokens:      tokens,
			Credentials: cfg.Credentials,
			Handler:     c.router,
			Events:      c.events,
			Scheduler:   c.scheduler,
			Limiter:     limiter,
			Logger:      log,
		})
	}

	return c
}

// Router возвращает роутер кадров
func (c *StreamClient) Router() *Router {
	return c.router
}

// Events возвращает шину событий соединений
func (c *StreamClient) Events() *EventBus {
	return c.events
}

// Manager возвращает менеджер соединения указанного типа
func (c *StreamClient) Manager(kind ConnKind) (*WSReconnectManager, error) {
	m, ok := c.managers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return m, nil
}

// HasCredentials - можно ли открыть приватное соединение
func (c *StreamClient) HasCredentials() bool {
	return c.cfg.Credentials.Valid()
}

// Connect открывает соединение указанного типа
func (c *StreamClient) Connect(ctx context.Context, kind ConnKind) error {
	m, err := c.Manager(kind)
	if err != nil {
		return err
	}
	return m.Connect(ctx)
}

// Disconnect закрывает соединение и очищает его подписки
func (c *StreamClient) Disconnect(kind ConnKind) {
	if m, err := c.Manager(kind); err == nil {
		m.Disconnect()
	}
}

// IsConnected проверяет соединение
func (c *StreamClient) IsConnected(kind ConnKind) bool {
	m, err := c.Manager(kind)
	return err == nil && m.IsConnected()
}

// Subscribe подписывает на топик через нужное соединение
func (c *StreamClient) Subscribe(ctx context.Context, topic string) error {
	sub := ParseSubscription(topic)
	m, err := c.Manager(sub.Kind())
	if err != nil {
		return err
	}
	return m.Subscribe(ctx, sub)
}

// Unsubscribe отписывает от топика
func (c *StreamClient) Unsubscribe(ctx context.Context, topic string) error {
	sub := ParseSubscription(topic)
	m, err := c.Manager(sub.Kind())
	if err != nil {
		return err
	}
	return m.Unsubscribe(ctx, topic)
}

// SubscribeMarket подписывает на все рыночные топики символа
func (c *StreamClient) SubscribeMarket(ctx context.Context, symbol string) error {
	for _, topic := range []string{TickerTopic(symbol), InstrumentTopic(symbol), SnapshotTopic(symbol)} {
		if err := c.Subscribe(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeAccount подписывает на приватные топики аккаунта
func (c *StreamClient) SubscribeAccount(ctx context.Context, symbols []string) error {
	topics := []string{WalletTopic(), OrdersTopic()}
	for _, s := range symbols {
		topics = append(topics, PositionTopic(s))
	}
	for _, topic := range topics {
		if err := c.Subscribe(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Status возвращает состояние обоих соединений
func (c *StreamClient) Status() []ConnectionStatus {
	return []ConnectionStatus{
		c.managers[ConnPublic].Status(),
		c.managers[ConnPrivate].Status(),
	}
}

// BindMarket регистрирует обработчики рыночных топиков
func (c *StreamClient) BindMarket(sink MarketSink) {
	tick := func(msg *DataMessage) error {
		patch, err := NormalizeTickPatch(msg)
		if err != nil {
			return err
		}
		sink.OnTickPatch(patch)
		return nil
	}
	c.router.Handle(TopicTicker, tick)
	c.router.Handle(TopicSnapshot, tick)
	c.router.Handle(TopicInstrument, tick)

	c.router.Handle(TopicLevel2, func(msg *DataMessage) error {
		delta, err := NormalizeLevel2(msg)
		if err != nil {
			return err
		}
		sink.OnOrderBook(delta)
		return nil
	})
	c.router.Handle(TopicExecution, func(msg *DataMessage) error {
		trade, err := NormalizeExecution(msg)
		if err != nil {
			return err
		}
		sink.OnMarketTrade(trade)
		return nil
	})
}

// BindAccount регистрирует обработчики приватных топиков
func (c *StreamClient) BindAccount(sink AccountSink) {
	c.router.Handle(TopicPosition, func(msg *DataMessage) error {
		pos, err := NormalizeAccountPosition(msg)
		if err != nil {
			return err
		}
		sink.OnAccountPosition(pos)
		return nil
	})
	c.router.Handle(TopicWallet, func(msg *DataMessage) error {
		bal, err := NormalizeWallet(msg)
		if err != nil {
			return err
		}
		sink.OnWallet(bal)
		return nil
	})
	c.router.Handle(TopicOrder, func(msg *DataMessage) error {
		ev, err := NormalizeOrderEvent(msg)
		if err != nil {
			return err
		}
		sink.OnAccountOrder(ev)
		return nil
	})
}

// Close закрывает оба соединения и отменяет все ретраи
func (c *StreamClient) Close() {
	for _, m := range c.managers {
		m.Close()
	}
	c.scheduler.Close()
	if c.http != nil {
		c.http.Close()
	}
	c.log.Info("stream client closed")
}
