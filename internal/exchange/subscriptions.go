package exchange

import (
	"sort"
	"strings"
	"sync"
)

// Топики площадки
const (
	topicTicker     = "/contractMarket/ticker:"
	topicTickerV2   = "/contractMarket/tickerV2:"
	topicLevel2     = "/contractMarket/level2:"
	topicExecution  = "/contractMarket/execution:"
	topicSnapshot   = "/contractMarket/snapshot:"
	topicInstrument = "/contract/instrument:"
	topicWallet     = "/contractAccount/wallet"
	topicPosition   = "/contract/position:"
	topicOrders     = "/contractMarket/tradeOrders"
)

func TickerTopic(symbol string) string     { return topicTicker + symbol }
func Level2Topic(symbol string) string     { return topicLevel2 + symbol }
func ExecutionTopic(symbol string) string  { return topicExecution + symbol }
func SnapshotTopic(symbol string) string   { return topicSnapshot + symbol }
func InstrumentTopic(symbol string) string { return topicInstrument + symbol }
func PositionTopic(symbol string) string   { return topicPosition + symbol }
func WalletTopic() string                  { return topicWallet }
func OrdersTopic() string                  { return topicOrders }

// Subscription - активная подписка
type Subscription struct {
	Topic   string `json:"topic"`
	Symbol  string `json:"symbol,omitempty"`
	Channel string `json:"channel"`
	Private bool   `json:"private"`
}

// ParseSubscription разбирает топик: канал, символ и признак приватности
func ParseSubscription(topic string) Subscription {
	sub := Subscription{Topic: topic, Channel: topic}
	if i := strings.LastIndex(topic, ":"); i >= 0 {
		sub.Channel = topic[:i]
		sub.Symbol = topic[i+1:]
	}
	sub.Private = isPrivateTopic(topic)
	return sub
}

// Kind - соединение, через которое идёт подписка
func (s Subscription) Kind() ConnKind {
	if s.Private {
		return ConnPrivate
	}
	return ConnPublic
}

func isPrivateTopic(topic string) bool {
	return strings.HasPrefix(topic, "/contractAccount/") ||
		strings.HasPrefix(topic, topicPosition) ||
		strings.HasPrefix(topic, topicOrders)
}

// SubscriptionRegistry - множество подписок соединения (ключ: топик)
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewSubscriptionRegistry создаёт пустой реестр
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{subs: make(map[string]Subscription)}
}

// Add добавляет подписку; false если топик уже есть
func (r *SubscriptionRegistry) Add(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.Topic]; ok {
		return false
	}
	r.subs[sub.Topic] = sub
	return true
}

// Remove удаляет подписку; false если топика не было
func (r *SubscriptionRegistry) Remove(topic string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[topic]
	if ok {
		delete(r.subs, topic)
	}
	return sub, ok
}

// Has проверяет наличие топика
func (r *SubscriptionRegistry) Has(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[topic]
	return ok
}

// List возвращает подписки, отсортированные по топику
func (r *SubscriptionRegistry) List() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Clear удаляет все подписки
func (r *SubscriptionRegistry) Clear() {
	r.mu.Lock()
	r.subs = make(map[string]Subscription)
	r.mu.Unlock()
}

// Len - количество подписок
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
