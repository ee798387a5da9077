package exchange

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Разные версии API называют одно и то же поле по-разному.
// Нормализация выполняется один раз при приёме кадра, дальше по системе
// ходят только models.Tick / models.AccountPosition.
var (
	keysLastPrice    = []string{"price", "lastPrice", "lastTradePrice", "close"}
	keysMarkPrice    = []string{"markPrice", "markPx"}
	keysIndexPrice   = []string{"indexPrice", "indexPx"}
	keysBestBid      = []string{"bestBidPrice", "bidPrice", "bestBid"}
	keysBestAsk      = []string{"bestAskPrice", "askPrice", "bestAsk"}
	keysFundingRate  = []string{"fundingRate", "funding"}
	keysOpenInterest = []string{"openInterest", "oi"}
	keysVolume       = []string{"volume", "volume24h", "vol"}
	keysTimestamp    = []string{"ts", "timestamp", "time", "currentTimestamp"}
	keysPosSize      = []string{"currentQty", "size", "positionAmt", "qty"}
	keysEntryPrice   = []string{"avgEntryPrice", "entryPrice", "avgPx"}
	keysUnrealized   = []string{"unrealisedPnl", "unrealizedPnl", "upl"}
	keysRealized     = []string{"realisedPnl", "realizedPnl"}
)

var numberJSON = jsoniter.Config{UseNumber: true}.Froze()

type fieldSet map[string]interface{}

func decodeFields(data []byte) (fieldSet, error) {
	var f fieldSet
	if err := numberJSON.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("decode data: empty object")
	}
	return f, nil
}

// float возвращает первое найденное числовое поле (число или строка)
func (f fieldSet) float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toFloat(v); ok {
			return n, true
		}
	}
	return 0, false
}

func (f fieldSet) floatPtr(keys ...string) *float64 {
	if v, ok := f.float(keys...); ok {
		return &v
	}
	return nil
}

func (f fieldSet) str(keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

func (f fieldSet) time(keys ...string) time.Time {
	if v, ok := f.float(keys...); ok && v > 0 {
		return utils.FromVenueTimestamp(int64(v))
	}
	return time.Time{}
}

func toFloat(v interface{}) (float64, bool) {
	var s string
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func symbolOf(msg *DataMessage, f fieldSet) string {
	if msg.Symbol != "" {
		return msg.Symbol
	}
	return f.str("symbol", "instId")
}

// NormalizeTickPatch строит патч тика из ticker / snapshot / instrument кадра
func NormalizeTickPatch(msg *DataMessage) (models.TickPatch, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.TickPatch{}, err
	}

	patch := models.TickPatch{
		Symbol:       symbolOf(msg, f),
		MarkPrice:    f.floatPtr(keysMarkPrice...),
		IndexPrice:   f.floatPtr(keysIndexPrice...),
		BestBid:      f.floatPtr(keysBestBid...),
		BestAsk:      f.floatPtr(keysBestAsk...),
		FundingRate:  f.floatPtr(keysFundingRate...),
		OpenInterest: f.floatPtr(keysOpenInterest...),
		Volume24h:    f.floatPtr(keysVolume...),
		EventTime:    f.time(keysTimestamp...),
	}
	// В instrument-кадрах "price" отсутствует, в ticker это цена последней сделки
	patch.LastPrice = f.floatPtr(keysLastPrice...)

	if patch.Symbol == "" {
		return models.TickPatch{}, fmt.Errorf("tick without symbol (topic %q)", msg.Topic)
	}
	if patch.Empty() {
		return models.TickPatch{}, fmt.Errorf("tick without known fields (topic %q, subject %q)", msg.Topic, msg.Subject)
	}
	return patch, nil
}

// NormalizeLevel2 разбирает дельту стакана
// Формат "change": "price,side,size"; поддерживаются и раздельные поля.
func NormalizeLevel2(msg *DataMessage) (models.OrderBookDelta, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.OrderBookDelta{}, err
	}

	delta := models.OrderBookDelta{
		Symbol:    symbolOf(msg, f),
		EventTime: f.time(keysTimestamp...),
	}
	if seq, ok := f.float("sequence"); ok {
		delta.Sequence = int64(seq)
	}

	if change := f.str("change"); change != "" {
		parts := strings.Split(change, ",")
		if len(parts) != 3 {
			return models.OrderBookDelta{}, fmt.Errorf("malformed level2 change %q", change)
		}
		price, ok1 := toFloat(parts[0])
		size, ok2 := toFloat(parts[2])
		if !ok1 || !ok2 {
			return models.OrderBookDelta{}, fmt.Errorf("malformed level2 change %q", change)
		}
		delta.Price = price
		delta.Side = strings.ToLower(strings.TrimSpace(parts[1]))
		delta.Size = size
		return delta, nil
	}

	price, ok := f.float("price")
	if !ok {
		return models.OrderBookDelta{}, fmt.Errorf("level2 without price")
	}
	delta.Price = price
	delta.Size, _ = f.float("size", "qty")
	delta.Side = strings.ToLower(f.str("side"))
	return delta, nil
}

// NormalizeExecution разбирает публичную сделку
func NormalizeExecution(msg *DataMessage) (models.MarketTrade, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.MarketTrade{}, err
	}
	price, ok := f.float("price", "matchPrice")
	if !ok {
		return models.MarketTrade{}, fmt.Errorf("execution without price")
	}
	size, _ := f.float("size", "matchSize", "qty")
	return models.MarketTrade{
		Symbol:    symbolOf(msg, f),
		TradeID:   f.str("tradeId", "id"),
		Side:      strings.ToLower(f.str("side")),
		Price:     price,
		Size:      size,
		EventTime: f.time(keysTimestamp...),
	}, nil
}

// NormalizeAccountPosition разбирает приватную позицию
// Знак размера задаёт направление: >0 long, <0 short.
func NormalizeAccountPosition(msg *DataMessage) (models.AccountPosition, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.AccountPosition{}, err
	}

	pos := models.AccountPosition{
		Symbol:    symbolOf(msg, f),
		UpdatedAt: f.time(keysTimestamp...),
	}
	if pos.Symbol == "" {
		return models.AccountPosition{}, fmt.Errorf("position without symbol")
	}

	qty, _ := f.float(keysPosSize...)
	side := strings.ToLower(f.str("side", "positionSide"))
	switch {
	case side == models.SideLong || side == models.SideShort:
		pos.Side = side
	case qty < 0:
		pos.Side = models.SideShort
	default:
		pos.Side = models.SideLong
	}
	pos.Size = utils.Abs(qty)
	pos.EntryPrice, _ = f.float(keysEntryPrice...)
	pos.MarkPrice, _ = f.float(keysMarkPrice...)
	pos.UnrealizedPnl, _ = f.float(keysUnrealized...)
	pos.RealizedPnl, _ = f.float(keysRealized...)
	return pos, nil
}

// NormalizeWallet разбирает изменение баланса
func NormalizeWallet(msg *DataMessage) (models.WalletBalance, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.WalletBalance{}, err
	}
	avail, ok := f.float("availableBalance", "available")
	hold, okHold := f.float("holdBalance", "orderMargin")
	if !ok && !okHold {
		return models.WalletBalance{}, fmt.Errorf("wallet without balance fields (subject %q)", msg.Subject)
	}
	return models.WalletBalance{
		Currency:         f.str("currency", "ccy"),
		AvailableBalance: avail,
		HoldBalance:      hold,
		UpdatedAt:        f.time(keysTimestamp...),
	}, nil
}

// NormalizeOrderEvent разбирает изменение ордера аккаунта
func NormalizeOrderEvent(msg *DataMessage) (models.AccountOrderEvent, error) {
	f, err := decodeFields(msg.Data)
	if err != nil {
		return models.AccountOrderEvent{}, err
	}
	ev := models.AccountOrderEvent{
		OrderID:   f.str("orderId", "ordId"),
		Symbol:    symbolOf(msg, f),
		Side:      strings.ToLower(f.str("side")),
		Type:      f.str("type"),
		Status:    f.str("status", "state"),
		EventTime: f.time(keysTimestamp...),
	}
	if ev.OrderID == "" {
		return models.AccountOrderEvent{}, fmt.Errorf("order event without id")
	}
	ev.Price, _ = f.float("matchPrice", "price")
	ev.Size, _ = f.float("size", "matchSize")
	ev.FilledQty, _ = f.float("filledSize", "filledQty")
	return ev, nil
}
