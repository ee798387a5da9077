package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/bot"
	"papertrade/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sync.Pool для JSON буферов: broadcast идёт на каждую сделку и переоценку
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// outbound - сериализованное сообщение с адресатом
// Пустой sessionID означает "всем клиентам".
type outbound struct {
	sessionID string
	data      []byte
}

// Hub управляет всеми активными WebSocket соединениями UI
//
// Рассылает обновления сессий, позиций, сделок и состояние соединения
// с площадкой. Клиент, подписанный на сессию, получает только её
// сообщения и общие (состояние соединения).
//
// Broadcast никогда не блокирует вызывающего: при переполнении канала
// сообщение отбрасывается и учитывается в DroppedMessages.
// Медленные клиенты отключаются.
//
// Использование:
//
//	hub := NewHub(log)
//	go hub.Run()
//	defer hub.Stop()
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	dropped atomic.Int64

	log *utils.Logger
}

// Проверка соответствия интерфейсу движка
var _ bot.WebSocketHub = (*Hub)(nil)

// NewHub создает новый Hub
func NewHub(log *utils.Logger) *Hub {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		log:        log.WithComponent("ws-hub"),
	}
}

// Run - главный цикл; запускается в отдельной горутине
// Список клиентов копируется под RLock, отправка идёт без блокировки.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ui client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ui client disconnected", utils.Int("clients", n))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if !client.wants(msg.sessionID) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Warn("slow ui clients removed", utils.Int("removed", len(slow)), utils.Int("clients", n))
}

// Stop завершает Run и закрывает всех клиентов (идемпотентен)
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и отправляет всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	h.broadcastTo("", message)
}

// BroadcastSession отправляет сообщение клиентам сессии и клиентам без подписки
func (h *Hub) BroadcastSession(sessionID string, message interface{}) {
	h.broadcastTo(sessionID, message)
}

func (h *Hub) broadcastTo(sessionID string, message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Warn("marshal broadcast message failed", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(sessionID, msgCopy)
}

// BroadcastRaw отправляет уже сериализованные данные без блокировки
func (h *Hub) BroadcastRaw(sessionID string, data []byte) {
	select {
	case <-h.stop:
		return
	default:
	}
	select {
	case h.broadcast <- outbound{sessionID: sessionID, data: data}:
	default:
		h.dropped.Add(1)
		bot.RecordBufferOverflow("ws_hub")
	}
}

// BroadcastUpdate реализует bot.WebSocketHub
func (h *Hub) BroadcastUpdate(u *bot.Update) {
	if u == nil {
		return
	}
	h.BroadcastSession(u.SessionID, NewUpdateMessage(u))
}

// BroadcastConnection реализует bot.WebSocketHub
func (h *Hub) BroadcastConnection(info bot.ConnectionInfo) {
	h.Broadcast(NewConnectionMessage(info))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько сообщений отброшено из-за переполнения
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
