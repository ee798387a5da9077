// Package marketdata хранит последний тик по каждому символу.
package marketdata

import (
	"sort"
	"sync"
	"sync/atomic"

	"papertrade/internal/models"
)

// Listener получает каждый опубликованный тик (например, очередь персистентности)
// Вызывается синхронно в горутине писателя, поэтому не должен блокироваться.
type Listener func(tick models.Tick)

// Store - последний тик на символ
//
// Один писатель на символ (горутина чтения публичного соединения),
// много читателей. Тик публикуется заменой указателя, читатель всегда
// видит целый снимок, а не наполовину обновлённые поля.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]*atomic.Pointer[models.Tick]

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	return &Store{symbols: make(map[string]*atomic.Pointer[models.Tick])}
}

// slot возвращает ячейку символа, создавая её при необходимости
func (s *Store) slot(symbol string) *atomic.Pointer[models.Tick] {
	s.mu.RLock()
	p, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.symbols[symbol]; !ok {
		p = &atomic.Pointer[models.Tick]{}
		s.symbols[symbol] = p
	}
	return p
}

// Update публикует тик символа
func (s *Store) Update(tick models.Tick) {
	if tick.Symbol == "" {
		return
	}
	snapshot := tick
	s.slot(tick.Symbol).Store(&snapshot)

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(snapshot)
	}
}

// Merge применяет частичное обновление к последнему тику и публикует результат
// Безопасно только для единственного писателя символа.
func (s *Store) Merge(patch models.TickPatch) models.Tick {
	prev, _ := s.Latest(patch.Symbol)
	next := patch.Apply(prev)
	s.Update(next)
	return next
}

// Latest возвращает копию последнего тика; false если данных ещё нет
func (s *Store) Latest(symbol string) (models.Tick, bool) {
	s.mu.RLock()
	p, ok := s.symbols[symbol]
	s.mu.RUnlock()
	if !ok {
		return models.Tick{}, false
	}
	t := p.Load()
	if t == nil {
		return models.Tick{}, false
	}
	return *t, true
}

// LatestPtr возвращает указатель на копию тика или nil
// Удобно для симулятора: nil означает "нет рыночных данных".
func (s *Store) LatestPtr(symbol string) *models.Tick {
	t, ok := s.Latest(symbol)
	if !ok {
		return nil
	}
	return &t
}

// Symbols возвращает отсортированный список символов с данными
func (s *Store) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.symbols))
	for sym, p := range s.symbols {
		if p.Load() != nil {
			out = append(out, sym)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len - количество символов с данными
func (s *Store) Len() int {
	return len(s.Symbols())
}

// AddListener подписывает на обновления
func (s *Store) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	next := make([]Listener, len(s.listeners), len(s.listeners)+1)
	copy(next, s.listeners)
	s.listeners = append(next, l)
}
