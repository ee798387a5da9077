package models

import "time"

// Tick - последний снимок рынка по символу
//
// Собирается из нескольких топиков площадки (ticker, instrument/funding),
// поэтому обновление идёт копированием предыдущего значения и заменой
// изменившихся полей. Экземпляр после публикации в хранилище не меняется.
type Tick struct {
	Symbol       string    `json:"symbol"`
	LastPrice    float64   `json:"last_price"`
	MarkPrice    float64   `json:"mark_price"`
	IndexPrice   float64   `json:"index_price"`
	BestBid      float64   `json:"best_bid"`
	BestAsk      float64   `json:"best_ask"`
	FundingRate  float64   `json:"funding_rate"`
	OpenInterest float64   `json:"open_interest"`
	Volume24h    float64   `json:"volume_24h"`
	EventTime    time.Time `json:"event_time"`
}

// Mid возвращает середину спреда или 0, если одной из сторон нет
func (t *Tick) Mid() float64 {
	if t.BestBid <= 0 || t.BestAsk <= 0 {
		return 0
	}
	return (t.BestBid + t.BestAsk) / 2
}

// ReferencePrice - цена для исполнения: last, затем mid, затем mark
func (t *Tick) ReferencePrice() float64 {
	if t.LastPrice > 0 {
		return t.LastPrice
	}
	if mid := t.Mid(); mid > 0 {
		return mid
	}
	return t.MarkPrice
}

// OrderBookDelta - инкрементальное изменение стакана (level2)
type OrderBookDelta struct {
	Symbol    string    `json:"symbol"`
	Sequence  int64     `json:"sequence"`
	Side      string    `json:"side"` // buy, sell
	Price     float64   `json:"price"`
	Size      float64   `json:"size"` // 0 = уровень удалён
	EventTime time.Time `json:"event_time"`
}

// MarketTrade - публичная сделка на площадке
type MarketTrade struct {
	Symbol    string    `json:"symbol"`
	TradeID   string    `json:"trade_id"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	EventTime time.Time `json:"event_time"`
}

// TickPatch - частичное обновление тика из одного топика
// nil означает "поле в этом кадре не пришло".
type TickPatch struct {
	Symbol       string
	LastPrice    *float64
	MarkPrice    *float64
	IndexPrice   *float64
	BestBid      *float64
	BestAsk      *float64
	FundingRate  *float64
	OpenInterest *float64
	Volume24h    *float64
	EventTime    time.Time
}

// Empty - в патче нет ни одного поля
func (p TickPatch) Empty() bool {
	return p.LastPrice == nil && p.MarkPrice == nil && p.IndexPrice == nil &&
		p.BestBid == nil && p.BestAsk == nil && p.FundingRate == nil &&
		p.OpenInterest == nil && p.Volume24h == nil
}

// Apply возвращает новый тик: base с заменёнными полями патча
func (p TickPatch) Apply(base Tick) Tick {
	next := base
	next.Symbol = p.Symbol
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&next.LastPrice, p.LastPrice)
	set(&next.MarkPrice, p.MarkPrice)
	set(&next.IndexPrice, p.IndexPrice)
	set(&next.BestBid, p.BestBid)
	set(&next.BestAsk, p.BestAsk)
	set(&next.FundingRate, p.FundingRate)
	set(&next.OpenInterest, p.OpenInterest)
	set(&next.Volume24h, p.Volume24h)
	if !p.EventTime.IsZero() {
		next.EventTime = p.EventTime
	}
	return next
}
