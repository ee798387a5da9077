package bot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
)

// seqRand возвращает заданные значения по очереди, затем последнее
type seqRand struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (r *seqRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.vals) == 0 {
		return 0.5
	}
	v := r.vals[len(r.vals)-1]
	if r.i < len(r.vals) {
		v = r.vals[r.i]
	}
	r.i++
	return v
}

func instantConfig() SimulatorConfig {
	return SimulatorConfig{
		BaseSlippage:      0.001,
		ImpactCoefficient: 0,
		NominalDepth:      1_000_000,
		MaxSlippage:       0.01,
	}
}

func testTick(symbol string, last float64) *models.Tick {
	return &models.Tick{Symbol: symbol, LastPrice: last, BestBid: last - 1, BestAsk: last + 1, EventTime: time.Now()}
}

func TestSimulate_NoMarketData(t *testing.T) {
	sim := NewExecutionSimulator(instantConfig(), &seqRand{vals: []float64{0.9}})
	order := &models.SimulatedOrder{Symbol: "XBTUSDTM", Side: models.OrderSideBuy, RequestedSize: 1}

	_, err := sim.Simulate(context.Background(), order, nil)
	assert.ErrorIs(t, err, ErrNoMarketData)
}

func TestSimulate_SlippageDirection(t *testing.T) {
	sim := NewExecutionSimulator(instantConfig(), &seqRand{vals: []float64{0.9}})
	tick := testTick("XBTUSDTM", 50000)

	buy, err := sim.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "XBTUSDTM", Side: models.OrderSideBuy, RequestedSize: 1}, tick)
	require.NoError(t, err)
	sell, err := sim.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "XBTUSDTM", Side: models.OrderSideSell, RequestedSize: 1}, tick)
	require.NoError(t, err)

	assert.InDelta(t, 50050, buy.ExecutionPrice, 1e-6, "buy pays base × (1 + slippage)")
	assert.InDelta(t, 49950, sell.ExecutionPrice, 1e-6, "sell receives base × (1 - slippage)")
	assert.True(t, buy.Success)
	assert.Equal(t, *tick, buy.Tick, "fill references the tick it was priced against")
	assert.NotEmpty(t, buy.OrderID)
}

func TestSimulate_BasePriceFallback(t *testing.T) {
	cfg := instantConfig()
	cfg.BaseSlippage = 0
	sim := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.9}})
	order := func() *models.SimulatedOrder {
		return &models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}
	}

	fill, err := sim.Simulate(context.Background(), order(), &models.Tick{Symbol: "X", BestBid: 99, BestAsk: 101, MarkPrice: 500})
	require.NoError(t, err)
	assert.InDelta(t, 100, fill.ExecutionPrice, 1e-9, "mid used when last is absent")

	fill, err = sim.Simulate(context.Background(), order(), &models.Tick{Symbol: "X", MarkPrice: 500})
	require.NoError(t, err)
	assert.InDelta(t, 500, fill.ExecutionPrice, 1e-9, "mark used when last and book are absent")

	_, err = sim.Simulate(context.Background(), order(), &models.Tick{Symbol: "X"})
	var simErr *SimulationError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, RejectNoPrice, simErr.Reason)
}

func TestSlippageFor(t *testing.T) {
	sim := NewExecutionSimulator(SimulatorConfig{
		BaseSlippage:      0.0005,
		ImpactCoefficient: 0.001,
		NominalDepth:      1_000_000,
		MaxSlippage:       0.002,
	}, nil)

	tests := []struct {
		name     string
		notional float64
		want     float64
	}{
		{"zero notional", 0, 0.0005},
		{"one depth", 1_000_000, 0.0015},
		{"capped", 10_000_000, 0.002},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, sim.SlippageFor(tt.notional), 1e-12)
		})
	}
}

func TestSimulate_LatencyBounds(t *testing.T) {
	cfg := instantConfig()
	cfg.MinLatency = 5 * time.Millisecond
	cfg.MaxLatency = 15 * time.Millisecond
	sim := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.5, 0.9}})

	start := time.Now()
	fill, err := sim.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, testTick("X", 100))
	require.NoError(t, err)

	assert.InDelta(t, 10, fill.LatencyMs, 0.001)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSimulate_ContextCanceledDuringLatency(t *testing.T) {
	cfg := instantConfig()
	cfg.MinLatency = time.Second
	cfg.MaxLatency = time.Second
	sim := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.9}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := sim.Simulate(ctx, &models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, testTick("X", 100))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSimulate_RandomRejection(t *testing.T) {
	cfg := instantConfig()
	cfg.FailureProbability = 0.02

	rejected := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.01}})
	_, err := rejected.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, testTick("X", 100))
	var simErr *SimulationError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, RejectRandom, simErr.Reason)
	assert.True(t, IsSimulationError(err))

	filled := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.02}})
	_, err = filled.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, testTick("X", 100))
	assert.NoError(t, err, "draw equal to probability is not a failure")
}

func TestSimulate_FailureRateMatchesProbability(t *testing.T) {
	cfg := instantConfig()
	cfg.FailureProbability = 0.02
	sim := NewExecutionSimulator(cfg, NewSeededRand(42))
	tick := testTick("X", 100)

	const n = 20000
	failures := 0
	for i := 0; i < n; i++ {
		_, err := sim.Simulate(context.Background(),
			&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, tick)
		if IsSimulationError(err) {
			failures++
		}
	}
	rate := float64(failures) / n
	assert.Less(t, math.Abs(rate-0.02), 0.006, "observed failure rate %v", rate)
}

func TestSimulate_LimitOrder(t *testing.T) {
	cfg := instantConfig()
	sim := NewExecutionSimulator(cfg, &seqRand{vals: []float64{0.9}})
	tick := testTick("X", 100) // buy fills at 100.1

	_, err := sim.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1, RequestedPrice: 100}, tick)
	var simErr *SimulationError
	require.True(t, errors.As(err, &simErr))
	assert.Equal(t, RejectLimitNotReached, simErr.Reason)

	fill, err := sim.Simulate(context.Background(),
		&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1, RequestedPrice: 101}, tick)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, fill.ExecutionPrice, 1e-9)
}

func TestSimulate_InvalidOrder(t *testing.T) {
	sim := NewExecutionSimulator(instantConfig(), nil)
	_, err := sim.Simulate(context.Background(), &models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy}, testTick("X", 100))
	assert.True(t, IsSimulationError(err))
}

func TestSimulate_SeededDeterminism(t *testing.T) {
	cfg := instantConfig()
	cfg.MaxLatency = 2 * time.Millisecond
	cfg.FailureProbability = 0.3

	run := func() []bool {
		sim := NewExecutionSimulator(cfg, NewSeededRand(7))
		out := make([]bool, 0, 20)
		for i := 0; i < 20; i++ {
			_, err := sim.Simulate(context.Background(),
				&models.SimulatedOrder{Symbol: "X", Side: models.OrderSideBuy, RequestedSize: 1}, testTick("X", 100))
			out = append(out, err == nil)
		}
		return out
	}
	assert.Equal(t, run(), run())
}
