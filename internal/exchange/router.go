package exchange

import (
	"strings"
	"sync"
	"sync/atomic"

	"papertrade/pkg/utils"
)

// FrameClass - результат классификации входящего кадра
type FrameClass string

const (
	ClassWelcome  FrameClass = "welcome"
	ClassAck      FrameClass = "ack"
	ClassError    FrameClass = "error"
	ClassData     FrameClass = "data"
	ClassPong     FrameClass = "pong"
	ClassInvalid  FrameClass = "invalid"  // не разобран, отброшен
	ClassUnknown  FrameClass = "unknown"  // неизвестный type
	ClassUnrouted FrameClass = "unrouted" // data без обработчика
)

// TopicKind - категория топика, по ней выбирается обработчик
type TopicKind string

const (
	TopicTicker     TopicKind = "ticker"
	TopicLevel2     TopicKind = "level2"
	TopicExecution  TopicKind = "execution"
	TopicSnapshot   TopicKind = "snapshot"
	TopicInstrument TopicKind = "instrument"
	TopicWallet     TopicKind = "wallet"
	TopicPosition   TopicKind = "position"
	TopicOrder      TopicKind = "order"
)

// Порядок важен: tickerV2 проверяется раньше ticker
var topicPrefixes = []struct {
	prefix string
	kind   TopicKind
}{
	{topicTickerV2, TopicTicker},
	{topicTicker, TopicTicker},
	{topicLevel2, TopicLevel2},
	{topicExecution, TopicExecution},
	{topicSnapshot, TopicSnapshot},
	{topicInstrument, TopicInstrument},
	{topicWallet, TopicWallet},
	{topicPosition, TopicPosition},
	{topicOrders, TopicOrder},
}

// TopicKindOf определяет категорию топика по префиксу
func TopicKindOf(topic string) (TopicKind, bool) {
	for _, p := range topicPrefixes {
		if strings.HasPrefix(topic, p.prefix) {
			return p.kind, true
		}
	}
	return "", false
}

// DataMessage - кадр с данными, переданный обработчику
type DataMessage struct {
	Topic   string
	Subject string
	Symbol  string
	Kind    TopicKind
	Data    []byte
}

// DataHandler обрабатывает данные одной категории топиков
type DataHandler func(msg *DataMessage) error

// RouterStats - счётчики роутера
type RouterStats struct {
	Frames        uint64 `json:"frames"`
	Data          uint64 `json:"data"`
	Invalid       uint64 `json:"invalid"`
	Unrouted      uint64 `json:"unrouted"`
	Errors        uint64 `json:"errors"`
	HandlerErrors uint64 `json:"handler_errors"`
}

// Router классифицирует кадры и раздаёт данные обработчикам
//
// Вызывается из горутины чтения каждого соединения, поэтому реестр
// обработчиков защищён RWMutex, а сами кадры одного соединения
// приходят последовательно.
type Router struct {
	mu       sync.RWMutex
	handlers map[TopicKind]DataHandler
	log      *utils.Logger

	frames        uint64
	data          uint64
	invalid       uint64
	unrouted      uint64
	errors        uint64
	handlerErrors uint64
}

// NewRouter создаёт роутер без обработчиков
func NewRouter(log *utils.Logger) *Router {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &Router{
		handlers: make(map[TopicKind]DataHandler),
		log:      log.WithComponent("router"),
	}
}

// Handle регистрирует обработчик категории
// Повторная регистрация заменяет прежний: на категорию один обработчик.
func (r *Router) Handle(kind TopicKind, h DataHandler) {
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
}

// Handlers - количество зарегистрированных обработчиков
func (r *Router) Handlers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Route разбирает кадр и доставляет данные
// Ошибки разбора и обработчиков логируются, маршрутизация продолжается.
func (r *Router) Route(raw []byte) FrameClass {
	atomic.AddUint64(&r.frames, 1)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		atomic.AddUint64(&r.invalid, 1)
		r.log.Warn("malformed frame dropped", utils.Err(err), utils.Int("bytes", len(raw)))
		return ClassInvalid
	}

	switch env.Type {
	case FrameWelcome:
		return ClassWelcome
	case FrameAck:
		r.log.Debug("ack", utils.String("id", env.ID))
		return ClassAck
	case FramePong:
		return ClassPong
	case FrameError:
		atomic.AddUint64(&r.errors, 1)
		r.log.Warn("venue error frame",
			utils.String("id", env.ID),
			utils.String("code", env.ErrorCode()),
			utils.String("message", env.ErrorText()))
		return ClassError
	case FrameMessage:
		return r.dispatch(&env)
	default:
		atomic.AddUint64(&r.invalid, 1)
		r.log.Debug("unknown frame type", utils.String("type", env.Type))
		return ClassUnknown
	}
}

func (r *Router) dispatch(env *Envelope) FrameClass {
	kind, ok := TopicKindOf(env.Topic)
	if !ok {
		atomic.AddUint64(&r.unrouted, 1)
		r.log.Debug("unknown topic dropped", utils.Topic(env.Topic))
		return ClassUnrouted
	}

	r.mu.RLock()
	h := r.handlers[kind]
	r.mu.RUnlock()

	if h == nil {
		atomic.AddUint64(&r.unrouted, 1)
		r.log.Debug("no handler for topic", utils.Topic(env.Topic))
		return ClassUnrouted
	}

	atomic.AddUint64(&r.data, 1)
	msg := &DataMessage{
		Topic:   env.Topic,
		Subject: env.Subject,
		Symbol:  ParseSubscription(env.Topic).Symbol,
		Kind:    kind,
		Data:    env.Data,
	}
	if err := h(msg); err != nil {
		atomic.AddUint64(&r.handlerErrors, 1)
		r.log.Warn("handler failed", utils.Topic(env.Topic), utils.String("subject", env.Subject), utils.Err(err))
	}
	return ClassData
}

// Stats возвращает счётчики
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Frames:        atomic.LoadUint64(&r.frames),
		Data:          atomic.LoadUint64(&r.data),
		Invalid:       atomic.LoadUint64(&r.invalid),
		Unrouted:      atomic.LoadUint64(&r.unrouted),
		Errors:        atomic.LoadUint64(&r.errors),
		HandlerErrors: atomic.LoadUint64(&r.handlerErrors),
	}
}
