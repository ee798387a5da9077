package bot

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// OpenPosition открывает синтетическую позицию
//
// Порядок:
// 1. Проверка заявки и риска по текущему тику (под блокировкой сессии)
// 2. Симуляция исполнения с задержкой (без блокировки)
// 3. Повторная проверка риска по цене исполнения и применение
//
// Любой отказ оставляет состояние сессии без изменений.
func (m *Manager) OpenPosition(ctx context.Context, sessionID string, req OpenPositionRequest) (*models.Position, error) {
	req.Symbol = utils.NormalizeSymbol(req.Symbol)
	st, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	tick := m.latest(req.Symbol)

	st.mu.Lock()
	price := req.Price
	if price <= 0 && tick != nil {
		price = tick.ReferencePrice()
	}
	err = m.risk.CheckOpen(&st.session, &st.daily, req, price)
	st.mu.Unlock()
	if err != nil {
		RecordRejection(RiskCode(err))
		m.log.Info("open rejected by risk",
			utils.SessionID(sessionID), utils.Symbol(req.Symbol), utils.Err(err))
		return nil, err
	}

	order := &models.SimulatedOrder{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Symbol:         req.Symbol,
		Side:           models.EntrySide(req.Side),
		RequestedSize:  req.Size,
		RequestedPrice: req.Price,
	}
	fill, err := m.sim.Simulate(ctx, order, tick)
	if err != nil {
		RecordRejection(rejectLabel(err))
		m.log.Info("open not filled",
			utils.SessionID(sessionID), utils.Symbol(req.Symbol), utils.Err(err))
		return nil, err
	}
	RecordFill(req.Symbol, models.TradeActionOpen, fill.LatencyMs, fill.Slippage)

	st.mu.Lock()
	// Сессия могла быть остановлена, а лимиты изменены, пока шла задержка
	if err := m.risk.CheckOpen(&st.session, &st.daily, req, fill.ExecutionPrice); err != nil {
		st.mu.Unlock()
		RecordRejection(RiskCode(err))
		return nil, err
	}

	now := m.clock()
	sl, tp := utils.StopTakeLevels(req.Side, fill.ExecutionPrice, st.session.Risk.StopLossPercent, st.session.Risk.TakeProfitPercent)
	pos := &models.Position{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Size:         req.Size,
		EntryPrice:   fill.ExecutionPrice,
		CurrentPrice: fill.ExecutionPrice,
		StopLoss:     sl,
		TakeProfit:   tp,
		Status:       models.PositionStatusOpen,
		OpenedAt:     now,
	}
	// Оценка по цене тика: проскальзывание входа сразу видно в P&L
	if ref := fill.Tick.ReferencePrice(); ref > 0 {
		pos.CurrentPrice = ref
		pos.UnrealizedPnl = utils.CalculatePNL(pos.Side, pos.EntryPrice, ref, pos.Size)
	}

	trade := models.Trade{
		TradeID:    uuid.NewString(),
		SessionID:  sessionID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       order.Side,
		Action:     models.TradeActionOpen,
		Size:       pos.Size,
		Price:      fill.ExecutionPrice,
		Slippage:   fill.Slippage,
		LatencyMs:  fill.LatencyMs,
		ExecutedAt: now,
	}

	st.positions[pos.ID] = pos
	st.posOrder = append(st.posOrder, pos.ID)
	st.trades = append(st.trades, trade)
	m.recomputeLocked(st)

	snapshot := clonePosition(pos)
	session := cloneSession(st.session)
	st.mu.Unlock()

	m.publishFill(snapshot, trade)
	m.publishSession(session)
	m.log.Info("position opened",
		utils.SessionID(sessionID),
		utils.PositionID(snapshot.ID),
		utils.Symbol(snapshot.Symbol),
		utils.Side(snapshot.Side),
		utils.Size(snapshot.Size),
		utils.Price(snapshot.EntryPrice),
		utils.Slippage(fill.Slippage),
		utils.Latency(fill.LatencyMs))
	return &snapshot, nil
}

// ClosePosition закрывает позицию
//
// price != nil - закрытие по указанной цене без симуляции.
// Иначе исполнение симулируется по последнему тику с задержкой.
func (m *Manager) ClosePosition(ctx context.Context, sessionID, positionID, reason string, price *float64) (*models.Position, error) {
	if reason == "" {
		reason = models.CloseReasonManual
	}
	if !isCloseReason(reason) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCloseReason, reason)
	}
	if price != nil && *price <= 0 {
		return nil, ErrInvalidClosePrice
	}

	st, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	pos, ok := st.positions[positionID]
	if !ok {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if !pos.IsOpen() {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionClosed, positionID)
	}
	symbol, side, size := pos.Symbol, pos.Side, pos.Size
	st.mu.Unlock()

	exitPrice := 0.0
	var slippage, latencyMs float64
	if price != nil {
		exitPrice = *price
	} else {
		order := &models.SimulatedOrder{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			Symbol:        symbol,
			Side:          models.ExitSide(side),
			RequestedSize: size,
		}
		fill, err := m.sim.Simulate(ctx, order, m.latest(symbol))
		if err != nil {
			RecordRejection(rejectLabel(err))
			m.log.Info("close not filled",
				utils.SessionID(sessionID), utils.PositionID(positionID), utils.Err(err))
			return nil, err
		}
		exitPrice, slippage, latencyMs = fill.ExecutionPrice, fill.Slippage, fill.LatencyMs
		RecordFill(symbol, models.TradeActionClose, latencyMs, slippage)
	}

	st.mu.Lock()
	// За время задержки позицию мог закрыть SL/TP или остановка сессии
	if !pos.IsOpen() {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPositionClosed, positionID)
	}
	trade := m.closeLocked(st, pos, exitPrice, reason, slippage, latencyMs)
	m.recomputeLocked(st)
	snapshot := clonePosition(pos)
	session := cloneSession(st.session)
	st.mu.Unlock()

	m.publishFill(snapshot, trade)
	m.publishSession(session)
	return &snapshot, nil
}

// OnTick пересчитывает позиции по символу и проверяет SL/TP
//
// Вызывается синхронно из пути приёма тиков: без задержек и сети.
// Срабатывание закрывает позицию по цене тика, а не по уровню.
func (m *Manager) OnTick(symbol string, tick models.Tick) {
	price := tick.ReferencePrice()
	if price <= 0 {
		return
	}

	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.order))
	for _, id := range m.order {
		states = append(states, m.sessions[id])
	}
	m.mu.RUnlock()

	for _, st := range states {
		m.evaluate(st, symbol, price)
	}
}

func (m *Manager) evaluate(st *sessionState, symbol string, price float64) {
	st.mu.Lock()
	if st.session.Status != models.SessionStatusRunning {
		st.mu.Unlock()
		return
	}

	var (
		touched []models.Position
		closed  []models.Position
		trades  []models.Trade
	)
	for _, pid := range st.posOrder {
		pos := st.positions[pid]
		if !pos.IsOpen() || pos.Symbol != symbol {
			continue
		}

		pos.CurrentPrice = price
		pos.UnrealizedPnl = utils.CalculatePNL(pos.Side, pos.EntryPrice, price, pos.Size)

		reason := exitReason(pos, price)
		if reason == "" {
			touched = append(touched, clonePosition(pos))
			continue
		}
		if reason == models.CloseReasonStopLoss {
			StopLossTriggered.WithLabelValues(symbol).Inc()
		}
		trade := m.closeLocked(st, pos, price, reason, 0, 0)
		closed = append(closed, clonePosition(pos))
		trades = append(trades, trade)
	}

	if len(touched) == 0 && len(closed) == 0 {
		st.mu.Unlock()
		return
	}
	m.recomputeLocked(st)
	session := cloneSession(st.session)
	st.mu.Unlock()

	for _, p := range touched {
		m.notify(&Update{Type: UpdatePosition, SessionID: p.SessionID, Payload: p})
	}
	for i := range closed {
		m.publishFill(closed[i], trades[i])
	}
	if len(closed) > 0 && m.recorder != nil {
		m.recorder.EnqueueSessionSnapshot(session)
	}
	m.notify(&Update{Type: UpdateSession, SessionID: session.ID, Payload: session})
}

// exitReason проверяет уровни; SL проверяется раньше TP
func exitReason(pos *models.Position, price float64) string {
	switch pos.Side {
	case models.SideLong:
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return models.CloseReasonStopLoss
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return models.CloseReasonTakeProfit
		}
	case models.SideShort:
		if pos.StopLoss > 0 && price >= pos.StopLoss {
			return models.CloseReasonStopLoss
		}
		if pos.TakeProfit > 0 && price <= pos.TakeProfit {
			return models.CloseReasonTakeProfit
		}
	}
	return ""
}

// closeLocked переводит позицию в closed и фиксирует реализованный P&L
// Вызывается под st.mu; стоимость сессии пересчитывает вызывающий.
func (m *Manager) closeLocked(st *sessionState, pos *models.Position, price float64, reason string, slippage, latencyMs float64) models.Trade {
	now := m.clock()
	pnl := utils.CalculatePNL(pos.Side, pos.EntryPrice, price, pos.Size)

	pos.Status = models.PositionStatusClosed
	pos.CurrentPrice = price
	pos.ClosePrice = price
	pos.CloseReason = reason
	pos.RealizedPnl = pnl
	pos.UnrealizedPnl = 0
	pos.ClosedAt = &now

	st.session.RealizedPnl = utils.SumDecimal(st.session.RealizedPnl, pnl)
	st.daily.add(now, pnl)
	if pnl > 0 {
		st.wins++
	} else {
		st.losses++
	}

	trade := models.Trade{
		TradeID:    uuid.NewString(),
		SessionID:  pos.SessionID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       models.ExitSide(pos.Side),
		Action:     models.TradeActionClose,
		Size:       pos.Size,
		Price:      price,
		Slippage:   slippage,
		LatencyMs:  latencyMs,
		Pnl:        pnl,
		Reason:     reason,
		ExecutedAt: now,
	}
	st.trades = append(st.trades, trade)

	RecordTrade(pos.Symbol, reason, pnl)
	m.log.Info("position closed",
		utils.SessionID(pos.SessionID),
		utils.PositionID(pos.ID),
		utils.Symbol(pos.Symbol),
		utils.Price(price),
		utils.PNL(pnl),
		utils.Reason(reason))
	return trade
}

func (m *Manager) publishFill(pos models.Position, trade models.Trade) {
	if m.recorder != nil {
		m.recorder.EnqueuePosition(pos)
		m.recorder.EnqueueTrade(trade)
	}
	m.notify(&Update{Type: UpdatePosition, SessionID: pos.SessionID, Payload: pos})
	m.notify(&Update{Type: UpdateTrade, SessionID: pos.SessionID, Payload: trade})
}

func isCloseReason(reason string) bool {
	switch reason {
	case models.CloseReasonManual, models.CloseReasonStopLoss,
		models.CloseReasonTakeProfit, models.CloseReasonSessionStopped:
		return true
	}
	return false
}

// rejectLabel - метка метрики отказа симулятора
func rejectLabel(err error) string {
	if err == ErrNoMarketData {
		return RejectNoPrice
	}
	if simErr, ok := err.(*SimulationError); ok {
		return simErr.Reason
	}
	return "canceled"
}
