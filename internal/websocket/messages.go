package websocket

import (
	"time"

	"papertrade/internal/bot"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSession - снимок сессии (статус, стоимость, просадка)
	MessageTypeSession MessageType = "sessionUpdate"

	// MessageTypePosition - открытие, переоценка или закрытие позиции
	MessageTypePosition MessageType = "positionUpdate"

	// MessageTypeTrade - новая сделка в журнале сессии
	MessageTypeTrade MessageType = "tradeUpdate"

	// MessageTypeConnection - смена состояния соединения с площадкой
	MessageTypeConnection MessageType = "connectionState"
)

// Message - конверт всех исходящих сообщений
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ClientCommand - входящая команда клиента
//
//	{"action":"subscribe","session_id":"..."}   только сообщения сессии
//	{"action":"unsubscribe"}                    снова всё
type ClientCommand struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
}

// Действия клиента
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// NewUpdateMessage переводит обновление менеджера сессий в сообщение
func NewUpdateMessage(u *bot.Update) *Message {
	t := MessageTypeSession
	switch u.Type {
	case bot.UpdatePosition:
		t = MessageTypePosition
	case bot.UpdateTrade:
		t = MessageTypeTrade
	}
	return &Message{
		Type:      t,
		SessionID: u.SessionID,
		Timestamp: time.Now().UTC(),
		Data:      u.Payload,
	}
}

// NewConnectionMessage - сообщение о состоянии соединения
func NewConnectionMessage(info bot.ConnectionInfo) *Message {
	ts := info.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Message{
		Type:      MessageTypeConnection,
		Timestamp: ts,
		Data:      info,
	}
}
