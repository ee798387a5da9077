package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/pkg/ratelimit"
	"papertrade/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Базовая задержка: попытка N ждёт BaseDelay * N
	BaseDelay time.Duration
	// Максимальное количество попыток подряд, затем состояние failed
	MaxAttempts int
	// Таймаут получения токена и dial
	ConnectTimeout time.Duration
	// Таймаут ожидания welcome и ack аутентификации
	HandshakeTimeout time.Duration
	// Интервал ping
	HeartbeatInterval time.Duration
	// Сколько интервалов подряд без pong считается обрывом
	MaxMissedPongs int
	// Таймаут записи кадра
	WriteTimeout time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию
// Задержки: 2s, 4s, 6s ... 20s
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		BaseDelay:         2 * time.Second,
		MaxAttempts:       10,
		ConnectTimeout:    10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMissedPongs:    2,
		WriteTimeout:      5 * time.Second,
	}
}

// ConnState состояние WebSocket соединения
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameHandler обрабатывает входящие кадры в порядке получения
type FrameHandler interface {
	Route(raw []byte) FrameClass
}

// ManagerDeps - зависимости менеджера соединения
type ManagerDeps struct {
	Tokens      TokenSource
	Credentials *Credentials
	Handler     FrameHandler
	Events      *EventBus
	Scheduler   *Scheduler
	Limiter     *ratelimit.RateLimiter
	Logger      *utils.Logger
}

// ConnectionStatus - снимок состояния соединения для API и логов
type ConnectionStatus struct {
	Kind          ConnKind `json:"kind"`
	State         string   `json:"state"`
	Attempts      int      `json:"reconnect_attempts"`
	LastError     string   `json:"last_error,omitempty"`
	Subscriptions int      `json:"subscriptions"`
}

// WSReconnectManager управляет одним соединением (public или private)
//
// Функции:
// - получение токена, dial, ожидание welcome, аутентификация приватного канала
// - повтор подписок после каждого успешного подключения
// - ping каждые HeartbeatInterval, переподключение при пропуске pong
// - линейный backoff BaseDelay*N, после MaxAttempts - состояние failed
// - события состояния публикуются в EventBus
//
// Кадры одного соединения обрабатываются строго последовательно в readPump.
type WSReconnectManager struct {
	exchange string
	kind     ConnKind
	config   WSReconnectConfig

	tokens    TokenSource
	creds     *Credentials
	handler   FrameHandler
	events    *EventBus
	scheduler *Scheduler
	limiter   *ratelimit.RateLimiter
	subs      *SubscriptionRegistry
	log       *utils.Logger
	clock     utils.Clock

	// dialMu сериализует установку соединения (Connect и ретраи)
	dialMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connDone  chan struct{}
	retryTask *ScheduledTask
	lastErr   error
	epoch     uint64 // растёт при Disconnect, отсекает устаревшие ретраи
	closed    bool

	writeMu sync.Mutex

	state       int32 // atomic ConnState
	attempts    int32 // atomic
	missedPongs int32 // atomic
}

// NewWSReconnectManager создаёт менеджер соединения
func NewWSReconnectManager(exchange string, kind ConnKind, config WSReconnectConfig, deps ManagerDeps) *WSReconnectManager {
	if deps.Events == nil {
		deps.Events = NewEventBus()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler()
	}
	if deps.Logger == nil {
		deps.Logger = utils.GetGlobalLogger()
	}
	if config.MaxMissedPongs <= 0 {
		config.MaxMissedPongs = 2
	}

	return &WSReconnectManager{
		exchange:  exchange,
		kind:      kind,
		config:    config,
		tokens:    deps.Tokens,
		creds:     deps.Credentials,
		handler:   deps.Handler,
		events:    deps.Events,
		scheduler: deps.Scheduler,
		limiter:   deps.Limiter,
		subs:      NewSubscriptionRegistry(),
		log:       deps.Logger.WithExchange(exchange).With(utils.ConnKind(string(kind))),
		clock:     utils.SystemClock,
	}
}

// Kind возвращает тип соединения
func (m *WSReconnectManager) Kind() ConnKind {
	return m.kind
}

// State возвращает текущее состояние соединения
func (m *WSReconnectManager) State() ConnState {
	return ConnState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.State() == StateConnected
}

// RetryCount - номер текущей попытки переподключения
func (m *WSReconnectManager) RetryCount() int {
	return int(atomic.LoadInt32(&m.attempts))
}

// LastError - последняя ошибка соединения
func (m *WSReconnectManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscriptions - реестр подписок соединения
func (m *WSReconnectManager) Subscriptions() *SubscriptionRegistry {
	return m.subs
}

// Status возвращает снимок состояния
func (m *WSReconnectManager) Status() ConnectionStatus {
	st := ConnectionStatus{
		Kind:          m.kind,
		State:         m.State().String(),
		Attempts:      m.RetryCount(),
		Subscriptions: m.subs.Len(),
	}
	if err := m.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Connect устанавливает соединение
//
// Явный вызов сбрасывает состояние failed. Ошибка аутентификации
// переводит в failed сразу; временная ошибка возвращается вызывающему,
// а соединение уходит в reconnecting с обычным backoff.
func (m *WSReconnectManager) Connect(ctx context.Context) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.retryTask.Cancel()
	m.retryTask = nil
	epoch := m.epoch
	m.mu.Unlock()

	atomic.StoreInt32(&m.attempts, 0)
	m.setState(StateConnecting, nil)

	if err := m.establish(ctx, epoch); err != nil {
		m.setLastError(err)
		if IsAuthError(err) {
			m.fail(err)
			return err
		}
		if m.stale(epoch) {
			m.restoreAfterCancel()
			return err
		}
		m.log.Warn("connect failed, retrying in background", utils.Err(err))
		m.setState(StateReconnecting, err)
		m.scheduleRetry(1, epoch)
		return err
	}
	return nil
}

// stale - попытка с этой эпохой отменена Disconnect/Close
func (m *WSReconnectManager) stale(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed || m.epoch != epoch
}

// establish выполняет полный цикл подключения: токен, dial, welcome, auth, подписки
func (m *WSReconnectManager) establish(ctx context.Context, epoch uint64) error {
	if m.kind.Private() && !m.creds.Valid() {
		return ErrNoCredentials
	}

	token, err := m.tokens.RequestToken(ctx, m.kind)
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}

	wsURL, err := token.URL(strconv.FormatInt(m.clock().UnixNano(), 36))
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if err := m.awaitWelcome(conn); err != nil {
		conn.Close()
		return err
	}

	if m.kind.Private() {
		// Disconnect мог успеть сменить эпоху, пока шёл dial
		m.mu.Lock()
		if m.closed || m.epoch != epoch {
			m.mu.Unlock()
			conn.Close()
			return context.Canceled
		}
		atomic.StoreInt32(&m.state, int32(StateAuthenticating))
		m.mu.Unlock()
		m.publishState(StateAuthenticating, nil)

		if err := m.authenticate(conn); err != nil {
			conn.Close()
			return err
		}
	}

	done := make(chan struct{})

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	m.conn = conn
	m.connDone = done
	m.lastErr = nil
	m.mu.Unlock()

	atomic.StoreInt32(&m.missedPongs, 0)
	atomic.StoreInt32(&m.attempts, 0)

	go m.readPump(conn)
	go m.heartbeat(conn, done, m.config.HeartbeatInterval)

	m.setState(StateConnected, nil)
	m.replay(conn)

	m.log.Info("websocket connected", utils.Int("subscriptions", m.subs.Len()))
	return nil
}

// awaitWelcome ждёт кадр welcome после открытия сокета
func (m *WSReconnectManager) awaitWelcome(conn *websocket.Conn) error {
	conn.SetReadDeadline(m.clock().Add(m.config.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: read welcome: %v", ErrHandshake, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: malformed welcome: %v", ErrHandshake, err)
	}

	switch env.Type {
	case FrameWelcome:
		return nil
	case FrameError:
		exErr := &ExchangeError{Exchange: m.exchange, Code: env.ErrorCode(), Message: env.ErrorText(), Original: ErrHandshake}
		if exErr.Code == "401" || authErrorCodes[exErr.Code] {
			exErr.Original = ErrAuthFailed
		}
		return exErr
	default:
		return fmt.Errorf("%w: expected welcome, got %q", ErrHandshake, env.Type)
	}
}

// authenticate отправляет подписанный кадр и ждёт ack с тем же id
func (m *WSReconnectManager) authenticate(conn *websocket.Conn) error {
	frame := NewAuthFrame(nextFrameID(), m.creds, m.clock())

	ctx, cancel := context.WithTimeout(context.Background(), m.config.HandshakeTimeout)
	defer cancel()
	if err := m.writeFrame(ctx, conn, frame); err != nil {
		return fmt.Errorf("%w: send auth: %v", ErrHandshake, err)
	}

	conn.SetReadDeadline(m.clock().Add(m.config.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: await auth ack: %v", ErrHandshake, err)
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if env.ID != frame.ID {
			continue
		}

		switch env.Type {
		case FrameAck:
			return nil
		case FrameError:
			return &ExchangeError{
				Exchange: m.exchange,
				Code:     env.ErrorCode(),
				Message:  "auth rejected: " + env.ErrorText(),
				Original: ErrAuthFailed,
			}
		}
	}
}

// replay повторяет все подписки реестра на новом соединении
func (m *WSReconnectManager) replay(conn *websocket.Conn) {
	subs := m.subs.List()
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		err := m.writeFrame(ctx, conn, newSubscribeFrame(sub))
		cancel()
		if err != nil {
			m.log.Warn("resubscribe failed", utils.Topic(sub.Topic), utils.Err(err))
			return
		}
	}
	if len(subs) > 0 {
		m.log.Info("resubscribed", utils.Int("topics", len(subs)))
	}
}

// readPump читает кадры и передаёт их роутеру по порядку
func (m *WSReconnectManager) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		if json.Get(raw, "type").ToString() == FramePong {
			atomic.StoreInt32(&m.missedPongs, 0)
		}

		if m.handler != nil {
			m.handler.Route(raw)
		}
	}
}

// heartbeat отправляет ping и следит за pong
func (m *WSReconnectManager) heartbeat(conn *websocket.Conn, done <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&m.missedPongs) >= int32(m.config.MaxMissedPongs) {
				m.log.Warn("heartbeat timeout", utils.Int("missed", int(atomic.LoadInt32(&m.missedPongs))))
				m.handleDisconnect(conn, ErrStaleConnection)
				return
			}
			atomic.AddInt32(&m.missedPongs, 1)

			ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
			err := m.writeFrame(ctx, conn, newPingFrame())
			cancel()
			if err != nil {
				m.handleDisconnect(conn, err)
				return
			}
		}
	}
}

// handleDisconnect обрабатывает неожиданный разрыв соединения
func (m *WSReconnectManager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	// Соединение уже заменено или закрыто намеренно
	if m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.lastErr = err
	epoch := m.epoch
	m.mu.Unlock()

	m.log.Warn("websocket disconnected", utils.Err(err))
	m.setState(StateReconnecting, err)
	m.scheduleRetry(1, epoch)
}

// scheduleRetry планирует попытку переподключения через BaseDelay * attempt
func (m *WSReconnectManager) scheduleRetry(attempt int, epoch uint64) {
	delay := m.config.BaseDelay * time.Duration(attempt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.epoch != epoch {
		return
	}
	m.retryTask = m.scheduler.Schedule(delay, func() {
		m.retry(attempt, epoch)
	})
	m.log.Info("reconnect scheduled", utils.Attempt(attempt), utils.Dur("delay", delay))
}

// retry выполняет одну попытку переподключения
func (m *WSReconnectManager) retry(attempt int, epoch uint64) {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	stale := m.closed || m.epoch != epoch || m.conn != nil
	m.mu.Unlock()
	if stale || m.State() != StateReconnecting {
		return
	}

	atomic.StoreInt32(&m.attempts, int32(attempt))

	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	err := m.establish(ctx, epoch)
	cancel()

	if err == nil {
		m.log.Info("reconnected", utils.Attempt(attempt))
		return
	}
	if errors.Is(err, context.Canceled) {
		m.restoreAfterCancel()
		return
	}

	m.setLastError(err)
	m.log.Warn("reconnect attempt failed", utils.Attempt(attempt), utils.Err(err))

	if IsAuthError(err) {
		m.fail(err)
		return
	}
	if m.config.MaxAttempts > 0 && attempt >= m.config.MaxAttempts {
		m.fail(fmt.Errorf("reconnect: %d attempts exhausted: %w", attempt, err))
		return
	}

	m.setState(StateReconnecting, err)
	m.scheduleRetry(attempt+1, epoch)
}

// restoreAfterCancel возвращает disconnected, если Disconnect прервал
// попытку на середине; dialMu держит вызывающий
func (m *WSReconnectManager) restoreAfterCancel() {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	switch m.State() {
	case StateConnecting, StateAuthenticating:
		m.setState(StateDisconnected, nil)
	}
}

// fail переводит соединение в failed; дальше только явный Connect
func (m *WSReconnectManager) fail(err error) {
	m.setLastError(err)
	atomic.StoreInt32(&m.state, int32(StateFailed))
	m.log.Error("connection failed", utils.Attempt(m.RetryCount()), utils.Err(err))
	m.events.Publish(ConnectionEvent{
		Kind:    m.kind,
		State:   StateFailed,
		Attempt: m.RetryCount(),
		Err:     err,
		Fatal:   true,
		At:      m.clock(),
	})
}

// Disconnect закрывает соединение, отменяет ретраи и очищает подписки
func (m *WSReconnectManager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	m.retryTask.Cancel()
	m.retryTask = nil
	m.subs.Clear()
	m.teardownLocked()
	m.mu.Unlock()

	atomic.StoreInt32(&m.attempts, 0)
	if m.State() != StateDisconnected {
		m.setState(StateDisconnected, nil)
		m.log.Info("websocket disconnected by request")
	}
}

// Close закрывает менеджер без возможности переподключения
func (m *WSReconnectManager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	atomic.StoreInt32(&m.state, int32(StateClosed))
}

// teardownLocked закрывает текущий сокет; вызывается под m.mu
func (m *WSReconnectManager) teardownLocked() {
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			m.clock().Add(time.Second))
		m.conn.Close()
		m.conn = nil
	}
}

// Send отправляет кадр через лимитер исходящих сообщений
func (m *WSReconnectManager) Send(ctx context.Context, frame interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || !m.IsConnected() {
		return ErrNotConnected
	}
	return m.writeFrame(ctx, conn, frame)
}

// Subscribe добавляет топик; кадр отправляется только при изменении множества
func (m *WSReconnectManager) Subscribe(ctx context.Context, sub Subscription) error {
	if !m.subs.Add(sub) {
		return nil
	}
	if !m.IsConnected() {
		// будет отправлено при подключении
		return nil
	}
	if err := m.Send(ctx, newSubscribeFrame(sub)); err != nil && !errors.Is(err, ErrNotConnected) {
		// без отката повторный Subscribe посчитал бы топик уже отправленным
		m.subs.Remove(sub.Topic)
		return fmt.Errorf("subscribe %s: %w", sub.Topic, err)
	}
	m.log.Debug("subscribed", utils.Topic(sub.Topic))
	return nil
}

// Unsubscribe удаляет топик; отсутствующий топик игнорируется
func (m *WSReconnectManager) Unsubscribe(ctx context.Context, topic string) error {
	sub, ok := m.subs.Remove(topic)
	if !ok || !m.IsConnected() {
		return nil
	}
	if err := m.Send(ctx, newUnsubscribeFrame(sub)); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	m.log.Debug("unsubscribed", utils.Topic(topic))
	return nil
}

// writeFrame сериализует кадр и пишет его с учётом лимита
func (m *WSReconnectManager) writeFrame(ctx context.Context, conn *websocket.Conn, frame interface{}) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(m.clock().Add(m.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *WSReconnectManager) setState(state ConnState, err error) {
	atomic.StoreInt32(&m.state, int32(state))
	m.publishState(state, err)
}

func (m *WSReconnectManager) publishState(state ConnState, err error) {
	m.events.Publish(ConnectionEvent{
		Kind:    m.kind,
		State:   state,
		Attempt: m.RetryCount(),
		Err:     err,
		At:      m.clock(),
	})
}

func (m *WSReconnectManager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
