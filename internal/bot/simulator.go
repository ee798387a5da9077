package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// ErrNoMarketData - по символу ещё не было ни одного тика
var ErrNoMarketData = errors.New("no market data")

// Причины отказа симулятора
const (
	RejectRandom          = "rejected"
	RejectNoPrice         = "no_price"
	RejectLimitNotReached = "limit_not_marketable"
	RejectInvalidOrder    = "invalid_order"
)

// SimulationError - отказ в исполнении при корректных данных
type SimulationError struct {
	OrderID string
	Symbol  string
	Reason  string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulated order %s on %s failed: %s", e.OrderID, e.Symbol, e.Reason)
}

// IsSimulationError проверяет тип ошибки
func IsSimulationError(err error) bool {
	var simErr *SimulationError
	return errors.As(err, &simErr)
}

// RandSource - источник случайности симулятора (подменяется в тестах)
type RandSource interface {
	Float64() float64
}

// lockedRand - потокобезопасная обёртка над math/rand
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// NewSeededRand создаёт воспроизводимый источник
func NewSeededRand(seed int64) RandSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// SimulatorConfig - параметры модели исполнения
type SimulatorConfig struct {
	// Базовое проскальзывание (доля цены)
	BaseSlippage float64
	// Дополнительное проскальзывание на единицу notional/NominalDepth
	ImpactCoefficient float64
	// Условная глубина рынка в единицах котировки
	NominalDepth float64
	// Верхняя граница проскальзывания
	MaxSlippage float64

	MinLatency time.Duration
	MaxLatency time.Duration

	// Вероятность случайного отказа (0.02 = 2%)
	FailureProbability float64
}

// DefaultSimulatorConfig возвращает параметры по умолчанию
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		BaseSlippage:       0.0005,
		ImpactCoefficient:  0.001,
		NominalDepth:       1_000_000,
		MaxSlippage:        0.01,
		MinLatency:         50 * time.Millisecond,
		MaxLatency:         200 * time.Millisecond,
		FailureProbability: 0.02,
	}
}

// ExecutionSimulator превращает заявку и тик в исполнение
//
// Цена: тик (last, затем mid, затем mark) с поправкой на проскальзывание.
// Задержка ожидается с учётом ctx и только на явных операциях
// открытия/закрытия, на пути приёма тиков симулятор не вызывается.
type ExecutionSimulator struct {
	cfg   SimulatorConfig
	rnd   RandSource
	clock utils.Clock
}

// NewExecutionSimulator создаёт симулятор; rnd == nil - источник от текущего времени
func NewExecutionSimulator(cfg SimulatorConfig, rnd RandSource) *ExecutionSimulator {
	if rnd == nil {
		rnd = NewSeededRand(time.Now().UnixNano())
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &ExecutionSimulator{cfg: cfg, rnd: rnd, clock: utils.SystemClock}
}

// SlippageFor возвращает долю проскальзывания для notional
func (s *ExecutionSimulator) SlippageFor(notional float64) float64 {
	slip := decimal.NewFromFloat(s.cfg.BaseSlippage)
	if s.cfg.NominalDepth > 0 && s.cfg.ImpactCoefficient > 0 {
		impact := decimal.NewFromFloat(s.cfg.ImpactCoefficient).
			Mul(decimal.NewFromFloat(notional)).
			Div(decimal.NewFromFloat(s.cfg.NominalDepth))
		slip = slip.Add(impact)
	}
	if s.cfg.MaxSlippage > 0 {
		slip = decimal.Min(slip, decimal.NewFromFloat(s.cfg.MaxSlippage))
	}
	f, _ := slip.Float64()
	return f
}

// latency возвращает задержку из [MinLatency, MaxLatency]
func (s *ExecutionSimulator) latency() time.Duration {
	span := s.cfg.MaxLatency - s.cfg.MinLatency
	if span <= 0 {
		return s.cfg.MinLatency
	}
	return s.cfg.MinLatency + time.Duration(s.rnd.Float64()*float64(span))
}

// Simulate исполняет заявку по тику
//
// nil тик - ErrNoMarketData. Случайный отказ и невыполнимый лимит -
// *SimulationError. Отмена ctx во время задержки возвращает ctx.Err().
func (s *ExecutionSimulator) Simulate(ctx context.Context, order *models.SimulatedOrder, tick *models.Tick) (*models.Fill, error) {
	if tick == nil {
		return nil, ErrNoMarketData
	}
	if order == nil || order.RequestedSize <= 0 {
		return nil, &SimulationError{Reason: RejectInvalidOrder}
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	base := tick.ReferencePrice()
	if base <= 0 {
		return nil, &SimulationError{OrderID: order.ID, Symbol: order.Symbol, Reason: RejectNoPrice}
	}

	slip := s.SlippageFor(utils.Notional(order.RequestedSize, base))
	price := utils.ApplySlippage(base, slip, order.IsBuy())

	if !order.IsMarket() {
		// Лимит должен быть не хуже рыночной цены с проскальзыванием
		if (order.IsBuy() && order.RequestedPrice < price) || (!order.IsBuy() && order.RequestedPrice > price) {
			return nil, &SimulationError{OrderID: order.ID, Symbol: order.Symbol, Reason: RejectLimitNotReached}
		}
	}

	delay := s.latency()
	if err := wait(ctx, delay); err != nil {
		return nil, err
	}

	if s.cfg.FailureProbability > 0 && s.rnd.Float64() < s.cfg.FailureProbability {
		return nil, &SimulationError{OrderID: order.ID, Symbol: order.Symbol, Reason: RejectRandom}
	}

	return &models.Fill{
		OrderID:        order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		RequestedSize:  order.RequestedSize,
		RequestedPrice: order.RequestedPrice,
		ExecutionPrice: price,
		LatencyMs:      float64(delay) / float64(time.Millisecond),
		Slippage:       slip,
		Success:        true,
		Tick:           *tick,
		SettledAt:      s.clock(),
	}, nil
}

// wait - ограниченная задержка с учётом отмены
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
