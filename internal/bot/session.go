package bot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Ошибки менеджера сессий
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrPositionClosed     = errors.New("position already closed")
	ErrInvalidTransition  = errors.New("invalid session status transition")
	ErrInvalidSession     = errors.New("invalid session request")
	ErrInvalidClosePrice  = errors.New("close price must be positive")
	ErrInvalidCloseReason = errors.New("invalid close reason")
)

// CreateSessionRequest - параметры новой сессии
type CreateSessionRequest struct {
	Name           string                 `json:"name"`
	Symbols        []string               `json:"symbols"`
	Timeframe      string                 `json:"timeframe"`
	InitialCapital float64                `json:"initial_capital"`
	Risk           *models.RiskParameters `json:"risk,omitempty"`
}

// OpenPositionRequest - заявка на открытие позиции
type OpenPositionRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"` // long, short
	Size   float64 `json:"size"`
	Price  float64 `json:"price,omitempty"` // 0 = market
}

// MarketReader - чтение последнего тика (marketdata.Store)
type MarketReader interface {
	LatestPtr(symbol string) *models.Tick
}

// Recorder - асинхронная запись изменений (persistence.Writer)
// Методы не блокируются; false означает, что запись отброшена.
type Recorder interface {
	EnqueueTrade(trade models.Trade) bool
	EnqueuePosition(pos models.Position) bool
	EnqueueSessionSnapshot(s models.Session) bool
}

// Типы обновлений для UI
const (
	UpdateSession  = "session"
	UpdatePosition = "position"
	UpdateTrade    = "trade"
)

// Update - изменение состояния для трансляции в UI
type Update struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload"`
}

// sessionState - runtime состояние сессии
type sessionState struct {
	mu sync.Mutex

	session   models.Session
	positions map[string]*models.Position
	posOrder  []string
	trades    []models.Trade

	daily       dailyLoss
	peakValue   float64
	maxDrawdown float64
	wins        int
	losses      int
}

// Manager - менеджер сессий и позиций
//
// Функции:
// - жизненный цикл сессии created -> running -> stopped
// - открытие позиций через риск-контроль и симулятор
// - пересчёт P&L и проверка SL/TP на каждом тике
// - закрытие по цене тика (gap risk), SL проверяется раньше TP
//
// Блокировки: карта сессий под mu, состояние каждой сессии под своим mutex.
// Наружу отдаются только копии моделей.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	order    []string

	market   MarketReader
	sim      *ExecutionSimulator
	risk     *RiskEnforcer
	recorder Recorder
	updates  chan *Update

	clock utils.Clock
	log   *utils.Logger
}

// NewManager создаёт менеджер
func NewManager(market MarketReader, sim *ExecutionSimulator, risk *RiskEnforcer, log *utils.Logger) *Manager {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	if risk == nil {
		risk = NewRiskEnforcer(nil)
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		market:   market,
		sim:      sim,
		risk:     risk,
		clock:    risk.Now,
		log:      log.WithComponent("sessions"),
	}
}

// SetRecorder подключает персистентность
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// SetUpdateChannel подключает канал обновлений для UI
// Отправка неблокирующая: при переполнении обновление отбрасывается.
func (m *Manager) SetUpdateChannel(ch chan *Update) {
	m.updates = ch
}

func (m *Manager) get(id string) (*sessionState, error) {
	m.mu.RLock()
	st, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return st, nil
}

// CreateSession создаёт сессию в статусе created
func (m *Manager) CreateSession(req CreateSessionRequest) (*models.Session, error) {
	if req.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive", ErrInvalidSession)
	}

	risk := models.DefaultRiskParameters()
	if req.Risk != nil {
		risk = *req.Risk
	}
	if err := ValidateRiskParameters(risk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	symbols := make([]string, 0, len(req.Symbols))
	seen := make(map[string]bool, len(req.Symbols))
	for _, s := range req.Symbols {
		s = utils.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		if err := utils.ValidateSymbol(s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
		seen[s] = true
		symbols = append(symbols, s)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "session"
	}

	now := m.clock()
	st := &sessionState{
		session: models.Session{
			ID:             uuid.NewString(),
			Name:           name,
			Symbols:        symbols,
			Timeframe:      req.Timeframe,
			InitialCapital: req.InitialCapital,
			CurrentValue:   req.InitialCapital,
			Risk:           risk,
			Status:         models.SessionStatusCreated,
			CreatedAt:      now,
		},
		positions: make(map[string]*models.Position),
		peakValue: req.InitialCapital,
	}

	m.mu.Lock()
	m.sessions[st.session.ID] = st
	m.order = append(m.order, st.session.ID)
	m.mu.Unlock()

	snapshot := cloneSession(st.session)
	m.publishSession(snapshot)
	m.log.Info("session created",
		utils.SessionID(snapshot.ID),
		utils.Float64("initial_capital", snapshot.InitialCapital),
		utils.Any("symbols", snapshot.Symbols))
	return &snapshot, nil
}

// StartSession переводит сессию в running
func (m *Manager) StartSession(id string) (*models.Session, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if !CanTransition(st.session.Status, models.SessionStatusRunning) {
		status := st.session.Status
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.SessionStatusRunning)
	}
	now := m.clock()
	st.session.Status = models.SessionStatusRunning
	st.session.StartedAt = &now
	snapshot := cloneSession(st.session)
	st.mu.Unlock()

	m.publishSession(snapshot)
	m.log.Info("session started", utils.SessionID(id))
	return &snapshot, nil
}

// StopSession останавливает сессию
//
// Открытые позиции закрываются по последнему тику с причиной
// session_stopped, новые ордера больше не принимаются.
func (m *Manager) StopSession(id string) (*models.Session, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if !CanTransition(st.session.Status, models.SessionStatusStopped) {
		status := st.session.Status
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.SessionStatusStopped)
	}

	var closed []models.Position
	var trades []models.Trade
	for _, pid := range st.posOrder {
		pos := st.positions[pid]
		if !pos.IsOpen() {
			continue
		}
		price := pos.CurrentPrice
		if tick := m.latest(pos.Symbol); tick != nil && tick.ReferencePrice() > 0 {
			price = tick.ReferencePrice()
		}
		if price <= 0 {
			price = pos.EntryPrice
		}
		trade := m.closeLocked(st, pos, price, models.CloseReasonSessionStopped, 0, 0)
		closed = append(closed, *pos)
		trades = append(trades, trade)
	}

	now := m.clock()
	st.session.Status = models.SessionStatusStopped
	st.session.StoppedAt = &now
	m.recomputeLocked(st)
	snapshot := cloneSession(st.session)
	st.mu.Unlock()

	for i := range closed {
		m.publishFill(closed[i], trades[i])
	}
	m.publishSession(snapshot)
	m.log.Info("session stopped",
		utils.SessionID(id),
		utils.Int("closed_positions", len(closed)),
		utils.PNL(snapshot.RealizedPnl))
	return &snapshot, nil
}

// GetSession возвращает копию сессии
func (m *Manager) GetSession(id string) (*models.Session, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	snapshot := cloneSession(st.session)
	st.mu.Unlock()
	return &snapshot, nil
}

// ListSessions возвращает все сессии в порядке создания
func (m *Manager) ListSessions() []models.Session {
	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.order))
	for _, id := range m.order {
		states = append(states, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]models.Session, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, cloneSession(st.session))
		st.mu.Unlock()
	}
	return out
}

// UpdateRiskParameters заменяет риск-параметры сессии
// Действует только на будущие ордера: уровни открытых позиций не меняются.
func (m *Manager) UpdateRiskParameters(id string, params models.RiskParameters) (*models.Session, error) {
	if err := ValidateRiskParameters(params); err != nil {
		return nil, err
	}
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if IsTerminal(st.session.Status) {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is stopped", ErrInvalidTransition, id)
	}
	st.session.Risk = params
	snapshot := cloneSession(st.session)
	st.mu.Unlock()

	m.publishSession(snapshot)
	m.log.Info("risk parameters updated", utils.SessionID(id), utils.Any("risk", params))
	return &snapshot, nil
}

// Metrics возвращает агрегированную статистику сессии
func (m *Manager) Metrics(id string) (*models.SessionMetrics, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	open := 0
	for _, p := range st.positions {
		if p.IsOpen() {
			open++
		}
	}

	closedTrades := st.wins + st.losses
	metrics := &models.SessionMetrics{
		SessionID:        s.ID,
		TotalTrades:      len(st.trades),
		OpenPositions:    open,
		WinningTrades:    st.wins,
		LosingTrades:     st.losses,
		RealizedPnl:      s.RealizedPnl,
		UnrealizedPnl:    s.UnrealizedPnl,
		DailyRealizedPnl: st.daily.current(m.clock()),
		CurrentValue:     s.CurrentValue,
		MaxDrawdown:      utils.Round(st.maxDrawdown, 6),
	}
	if closedTrades > 0 {
		metrics.WinRate = utils.Round(float64(st.wins)/float64(closedTrades), 4)
	}
	if s.InitialCapital > 0 {
		ret := decimal.NewFromFloat(s.CurrentValue).Sub(decimal.NewFromFloat(s.InitialCapital)).
			Div(decimal.NewFromFloat(s.InitialCapital))
		metrics.ReturnPercent, _ = ret.Round(6).Float64()
	}
	return metrics, nil
}

// ListPositions возвращает позиции сессии в порядке открытия
func (m *Manager) ListPositions(sessionID string) ([]models.Position, error) {
	st, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.Position, 0, len(st.posOrder))
	for _, pid := range st.posOrder {
		out = append(out, clonePosition(st.positions[pid]))
	}
	return out, nil
}

// GetPosition возвращает копию позиции
func (m *Manager) GetPosition(sessionID, positionID string) (*models.Position, error) {
	st, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	pos, ok := st.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	cp := clonePosition(pos)
	return &cp, nil
}

// ListTrades возвращает сделки сессии в порядке исполнения
func (m *Manager) ListTrades(sessionID string) ([]models.Trade, error) {
	st, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.Trade, len(st.trades))
	copy(out, st.trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

// recomputeLocked пересчитывает стоимость сессии и просадку
// currentValue = initial + Σrealized + Σunrealized
func (m *Manager) recomputeLocked(st *sessionState) {
	unrealized := decimal.Zero
	for _, p := range st.positions {
		if p.IsOpen() {
			unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPnl))
		}
	}

	s := &st.session
	s.UnrealizedPnl, _ = unrealized.Float64()
	s.CurrentValue, _ = decimal.NewFromFloat(s.InitialCapital).
		Add(decimal.NewFromFloat(s.RealizedPnl)).
		Add(unrealized).
		Float64()

	if s.CurrentValue > st.peakValue {
		st.peakValue = s.CurrentValue
	}
	if st.peakValue > 0 {
		dd := (st.peakValue - s.CurrentValue) / st.peakValue
		if dd > st.maxDrawdown {
			st.maxDrawdown = dd
		}
	}
}

func (m *Manager) latest(symbol string) *models.Tick {
	if m.market == nil {
		return nil
	}
	return m.market.LatestPtr(symbol)
}

func (m *Manager) publishSession(s models.Session) {
	if m.recorder != nil {
		m.recorder.EnqueueSessionSnapshot(s)
	}
	m.notify(&Update{Type: UpdateSession, SessionID: s.ID, Payload: s})
}

func (m *Manager) notify(u *Update) {
	tryEnqueueUpdate(m.updates, u)
}

func cloneSession(s models.Session) models.Session {
	cp := s
	cp.Symbols = append([]string(nil), s.Symbols...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.StoppedAt != nil {
		t := *s.StoppedAt
		cp.StoppedAt = &t
	}
	return cp
}

func clonePosition(p *models.Position) models.Position {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return cp
}
