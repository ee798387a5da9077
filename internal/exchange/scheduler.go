package exchange

import (
	"sync"
	"time"
)

// Scheduler - отменяемые отложенные задачи (таймеры переподключения)
//
// Close отменяет всё ожидающее и запрещает новые задачи, поэтому после
// остановки не остаётся "висящих" ретраев.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[uint64]*ScheduledTask
	nextID uint64
	closed bool
}

// ScheduledTask - запланированная задача
type ScheduledTask struct {
	id    uint64
	timer *time.Timer
	owner *Scheduler
}

// NewScheduler создаёт планировщик
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[uint64]*ScheduledTask)}
}

// Schedule выполняет fn через delay в отдельной горутине
// Возвращает nil, если планировщик закрыт.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.nextID++
	task := &ScheduledTask{id: s.nextID, owner: s}
	task.timer = time.AfterFunc(delay, func() {
		if !s.finish(task.id) {
			return
		}
		fn()
	})
	s.tasks[task.id] = task
	return task
}

// finish снимает задачу с учёта; false если её уже отменили
func (s *Scheduler) finish(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Cancel отменяет задачу, если она ещё не запущена
func (t *ScheduledTask) Cancel() bool {
	if t == nil {
		return false
	}
	t.timer.Stop()
	return t.owner.finish(t.id)
}

// Pending - количество ожидающих задач
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close отменяет все задачи
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
}
