package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/models"
)

func msg(topic, data string) *DataMessage {
	kind, _ := TopicKindOf(topic)
	return &DataMessage{
		Topic:  topic,
		Symbol: ParseSubscription(topic).Symbol,
		Kind:   kind,
		Data:   []byte(data),
	}
}

func TestNormalizeTickPatch_FieldVariants(t *testing.T) {
	tests := []struct {
		name string
		data string
		want models.Tick
	}{
		{
			name: "ticker strings",
			data: `{"price":"50000.5","bestBidPrice":"50000","bestAskPrice":"50001"}`,
			want: models.Tick{Symbol: "BTC", LastPrice: 50000.5, BestBid: 50000, BestAsk: 50001},
		},
		{
			name: "numbers and lastPrice",
			data: `{"lastPrice":101.25,"bidPrice":101,"askPrice":101.5}`,
			want: models.Tick{Symbol: "BTC", LastPrice: 101.25, BestBid: 101, BestAsk: 101.5},
		},
		{
			name: "close alias",
			data: `{"close":"99"}`,
			want: models.Tick{Symbol: "BTC", LastPrice: 99},
		},
		{
			name: "mark and index short names",
			data: `{"markPx":"100.1","indexPx":"100.2"}`,
			want: models.Tick{Symbol: "BTC", MarkPrice: 100.1, IndexPrice: 100.2},
		},
		{
			name: "funding and interest",
			data: `{"fundingRate":-0.0003,"openInterest":"1200","volume":"35000"}`,
			want: models.Tick{Symbol: "BTC", FundingRate: -0.0003, OpenInterest: 1200, Volume24h: 35000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := NormalizeTickPatch(msg("/contractMarket/ticker:BTC", tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, patch.Apply(models.Tick{}))
		})
	}
}

func TestNormalizeTickPatch_MergesWithPrevious(t *testing.T) {
	prev := models.Tick{Symbol: "BTC", LastPrice: 100, BestBid: 99, BestAsk: 101, FundingRate: 0.0001}

	patch, err := NormalizeTickPatch(msg("/contract/instrument:BTC", `{"markPrice":100.4,"indexPrice":100.3,"timestamp":1700000000000}`))
	require.NoError(t, err)

	next := patch.Apply(prev)
	assert.Equal(t, 100.0, next.LastPrice)
	assert.Equal(t, 99.0, next.BestBid)
	assert.Equal(t, 0.0001, next.FundingRate)
	assert.Equal(t, 100.4, next.MarkPrice)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), next.EventTime.UTC())
	assert.Equal(t, 0.0, prev.MarkPrice, "previous tick must not be mutated")
}

func TestNormalizeTickPatch_Errors(t *testing.T) {
	_, err := NormalizeTickPatch(msg("/contractMarket/ticker:BTC", `{"granularity":1000}`))
	assert.Error(t, err)

	_, err = NormalizeTickPatch(msg("/contractMarket/ticker:BTC", `[1,2]`))
	assert.Error(t, err)

	_, err = NormalizeTickPatch(&DataMessage{Topic: "/contractMarket/ticker", Data: []byte(`{"price":1}`)})
	assert.Error(t, err)

	_, err = NormalizeTickPatch(msg("/contractMarket/ticker:BTC", `{"price":"abc"}`))
	assert.Error(t, err)
}

func TestNormalizeAccountPosition_SizeVariants(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantSide string
		wantSize float64
	}{
		{"currentQty long", `{"currentQty":3,"avgEntryPrice":"100"}`, models.SideLong, 3},
		{"currentQty short", `{"currentQty":-2,"avgEntryPrice":"100"}`, models.SideShort, 2},
		{"positionAmt string", `{"positionAmt":"-1.5","entryPrice":"100"}`, models.SideShort, 1.5},
		{"size with side", `{"size":"4","side":"SHORT","entryPrice":"100"}`, models.SideShort, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := NormalizeAccountPosition(msg("/contract/position:BTC", tt.data))
			require.NoError(t, err)
			assert.Equal(t, "BTC", pos.Symbol)
			assert.Equal(t, tt.wantSide, pos.Side)
			assert.Equal(t, tt.wantSize, pos.Size)
			assert.Equal(t, 100.0, pos.EntryPrice)
		})
	}
}

func TestNormalizeAccountPosition_MarkAndPnl(t *testing.T) {
	pos, err := NormalizeAccountPosition(msg("/contract/position:BTC",
		`{"currentQty":1,"avgEntryPrice":100,"markPx":"105","unrealisedPnl":5,"realizedPnl":"-1","currentTimestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, 105.0, pos.MarkPrice)
	assert.Equal(t, 5.0, pos.UnrealizedPnl)
	assert.Equal(t, -1.0, pos.RealizedPnl)
	assert.False(t, pos.UpdatedAt.IsZero())
}

func TestNormalizeLevel2(t *testing.T) {
	d, err := NormalizeLevel2(msg("/contractMarket/level2:BTC", `{"sequence":18,"change":"5000.0,sell,83","timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(18), d.Sequence)
	assert.Equal(t, "sell", d.Side)
	assert.Equal(t, 5000.0, d.Price)
	assert.Equal(t, 83.0, d.Size)

	_, err = NormalizeLevel2(msg("/contractMarket/level2:BTC", `{"change":"5000.0,sell"}`))
	assert.Error(t, err)
}

func TestNormalizeExecution(t *testing.T) {
	tr, err := NormalizeExecution(msg("/contractMarket/execution:BTC", `{"tradeId":"t1","side":"buy","price":"50000","size":2,"ts":1700000000000000000}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", tr.TradeID)
	assert.Equal(t, 50000.0, tr.Price)
	assert.Equal(t, 2.0, tr.Size)
}

func TestNormalizeWalletAndOrder(t *testing.T) {
	w, err := NormalizeWallet(msg("/contractAccount/wallet", `{"availableBalance":"1000.5","holdBalance":10,"currency":"USDT"}`))
	require.NoError(t, err)
	assert.Equal(t, 1000.5, w.AvailableBalance)
	assert.Equal(t, "USDT", w.Currency)

	_, err = NormalizeWallet(msg("/contractAccount/wallet", `{"currency":"USDT"}`))
	assert.Error(t, err)

	ev, err := NormalizeOrderEvent(msg("/contractMarket/tradeOrders", `{"orderId":"o1","symbol":"BTC","side":"buy","type":"match","status":"open","matchPrice":"100","matchSize":1,"filledSize":1}`))
	require.NoError(t, err)
	assert.Equal(t, "o1", ev.OrderID)
	assert.Equal(t, "BTC", ev.Symbol)
	assert.Equal(t, 100.0, ev.Price)

	_, err = NormalizeOrderEvent(msg("/contractMarket/tradeOrders", `{"symbol":"BTC"}`))
	assert.Error(t, err)
}
