package websocket

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Входящие сообщения - только короткие команды подписки
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker строит проверку по списку; пустой список или "*" разрешает всё
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
			continue
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузер (curl, скрипты)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

func newUpgrader(checker *OriginChecker) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return checker.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}
}

// Client представляет одно WebSocket соединение UI
//
// Каждый клиент имеет две горутины:
// readPump читает команды подписки, writePump пишет сообщения и ping.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// Фильтр по сессии; пустая строка - все сообщения
	session atomic.Value
}

func newClient(hub *Hub, conn *websocket.Conn, session string) *Client {
	c := &Client{conn: conn, hub: hub, send: make(chan []byte, clientSendBufferSize)}
	c.session.Store(session)
	return c
}

// wants решает, доставлять ли сообщение сессии sessionID
func (c *Client) wants(sessionID string) bool {
	filter, _ := c.session.Load().(string)
	return filter == "" || sessionID == "" || filter == sessionID
}

func (c *Client) apply(cmd ClientCommand) {
	switch cmd.Action {
	case ActionSubscribe:
		c.session.Store(cmd.SessionID)
	case ActionUnsubscribe:
		c.session.Store("")
	}
}

// readPump читает команды клиента и контролирует живость соединения
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ui websocket read error", utils.Err(err))
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.log.Debug("ui command ignored", utils.Err(err))
			continue
		}
		c.apply(cmd)
	}
}

// writePump отправляет сообщения клиенту; накопившиеся сообщения
// склеиваются через '\n' в один фрейм
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

		drain:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drain
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drain
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler - HTTP endpoint /ws/stream
//
// Параметр ?session=<id> сразу подписывает клиента на одну сессию.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler создаёт endpoint с проверкой Origin
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{hub: hub, upgrader: newUpgrader(NewOriginChecker(allowedOrigins))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Debug("ui websocket upgrade failed", utils.Err(err))
		return
	}

	client := newClient(h.hub, conn, r.URL.Query().Get("session"))
	select {
	case h.hub.register <- client:
	case <-h.hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
