package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/models"
	"papertrade/pkg/retry"
	"papertrade/pkg/utils"
)

// WriterConfig - настройки очереди персистентности
type WriterConfig struct {
	// Ёмкость очереди; при переполнении новые записи отбрасываются
	QueueSize int
	// Таймаут одной попытки записи в приёмник
	WriteTimeout time.Duration
	// Повторы записи
	Retry retry.Config
	// Не чаще одного тика на символ за интервал (0 = каждый тик)
	TickSampleInterval time.Duration
}

// DefaultWriterConfig возвращает настройки по умолчанию
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:    10000,
		WriteTimeout: 5 * time.Second,
		Retry:        retry.DefaultConfig(),
	}
}

// WriterStats - счётчики очереди
type WriterStats struct {
	Enqueued int64 `json:"enqueued"`
	Dropped  int64 `json:"dropped"`
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
	Pending  int   `json:"pending"`
}

// Writer - ограниченная очередь с одним воркером
//
// Enqueue* не блокируются. Воркер пишет записи по порядку во все
// приёмники, повторяя неудачные попытки с backoff.
type Writer struct {
	cfg   WriterConfig
	sinks []Sink
	queue chan *record

	mu     sync.RWMutex
	closed bool

	tickMu   sync.Mutex
	lastTick map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	enqueued atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64

	log *utils.Logger
}

// NewWriter создаёт очередь и запускает воркер
func NewWriter(cfg WriterConfig, log *utils.Logger, sinks ...Sink) *Writer {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultWriterConfig().QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriterConfig().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		cfg:      cfg,
		sinks:    sinks,
		queue:    make(chan *record, cfg.QueueSize),
		lastTick: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      log.WithComponent("persistence"),
	}
	go w.run()
	return w
}

// EnqueueTick ставит тик в очередь (с учётом TickSampleInterval)
func (w *Writer) EnqueueTick(tick models.Tick) bool {
	if w.cfg.TickSampleInterval > 0 {
		at := tick.EventTime
		if at.IsZero() {
			at = time.Now()
		}
		w.tickMu.Lock()
		last, ok := w.lastTick[tick.Symbol]
		if ok && at.Sub(last) < w.cfg.TickSampleInterval {
			w.tickMu.Unlock()
			return false
		}
		w.lastTick[tick.Symbol] = at
		w.tickMu.Unlock()
	}
	return w.enqueue(&record{kind: KindTick, tick: tick})
}

// EnqueueTrade ставит сделку в очередь
func (w *Writer) EnqueueTrade(trade models.Trade) bool {
	return w.enqueue(&record{kind: KindTrade, trade: trade})
}

// EnqueueSessionSnapshot ставит снимок сессии в очередь
func (w *Writer) EnqueueSessionSnapshot(s models.Session) bool {
	return w.enqueue(&record{kind: KindSession, session: s})
}

// EnqueuePosition ставит снимок позиции в очередь
func (w *Writer) EnqueuePosition(pos models.Position) bool {
	return w.enqueue(&record{kind: KindPosition, position: pos})
}

func (w *Writer) enqueue(r *record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(r, "writer closed")
		return false
	}

	select {
	case w.queue <- r:
		w.enqueued.Add(1)
		QueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		w.drop(r, "queue full")
		return false
	}
}

func (w *Writer) drop(r *record, reason string) {
	w.dropped.Add(1)
	QueueDropped.WithLabelValues(r.kind).Inc()
	// Потеря сделки или позиции - warn, тики и снимки сессии только debug
	fields := []zap.Field{utils.String("kind", r.kind), utils.Reason(reason)}
	switch r.kind {
	case KindTrade, KindPosition:
		w.log.Warn("persistence record dropped", fields...)
	default:
		w.log.Debug("persistence record dropped", fields...)
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for r := range w.queue {
		QueueDepth.Set(float64(len(w.queue)))
		if w.ctx.Err() != nil {
			// Дедлайн Close истёк: остаток очереди не пишем
			w.failed.Add(1)
			continue
		}
		w.write(r)
	}
}

func (w *Writer) write(r *record) {
	for _, sink := range w.sinks {
		err := retry.Do(w.ctx, func() error {
			ctx, cancel := context.WithTimeout(w.ctx, w.cfg.WriteTimeout)
			defer cancel()
			return r.writeTo(ctx, sink)
		}, w.cfg.Retry)

		if err != nil {
			w.failed.Add(1)
			WriteFailures.WithLabelValues(sink.Name(), r.kind).Inc()
			w.log.Warn("persistence write failed",
				utils.String("sink", sink.Name()),
				utils.String("kind", r.kind),
				utils.Err(err))
			continue
		}
		w.written.Add(1)
		Written.WithLabelValues(sink.Name(), r.kind).Inc()
	}
}

// Close прекращает приём и дописывает очередь до дедлайна ctx
// По истечении ctx незаписанный остаток отбрасывается и возвращается ctx.Err().
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	select {
	case <-w.done:
		w.cancel()
		w.log.Info("persistence drained", utils.Any("stats", w.Stats()))
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		w.log.Warn("persistence drain deadline exceeded", utils.Any("stats", w.Stats()))
		return ctx.Err()
	}
}

// Stats возвращает счётчики очереди
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Enqueued: w.enqueued.Load(),
		Dropped:  w.dropped.Load(),
		Written:  w.written.Load(),
		Failed:   w.failed.Load(),
		Pending:  len(w.queue),
	}
}
