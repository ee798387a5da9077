package exchange

import (
	"sync"
	"time"
)

// ConnectionEvent - изменение состояния соединения
type ConnectionEvent struct {
	Kind    ConnKind
	State   ConnState
	Attempt int
	Err     error
	Fatal   bool // попытки исчерпаны или отказ аутентификации
	At      time.Time
}

// ConnectionListener получает события в порядке публикации
type ConnectionListener func(ConnectionEvent)

// EventBus - реестр подписчиков на события соединений
//
// Слушатели вызываются синхронно в порядке регистрации, поэтому
// не должны блокироваться.
type EventBus struct {
	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn ConnectionListener
}

// NewEventBus создаёт шину событий
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe регистрирует слушателя, возвращает функцию отписки
func (b *EventBus) Subscribe(fn ConnectionListener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish доставляет событие всем слушателям
func (b *EventBus) Publish(ev ConnectionEvent) {
	b.mu.RLock()
	listeners := make([]listenerEntry, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l.fn(ev)
	}
}

// Len - количество слушателей
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
