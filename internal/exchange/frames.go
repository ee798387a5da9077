package exchange

import (
	"strconv"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

// Типы кадров протокола
const (
	FrameWelcome     = "welcome"
	FrameAck         = "ack"
	FrameError       = "error"
	FrameMessage     = "message"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameAuth        = "auth"
)

// Frame - исходящий кадр подписки/пинга
type Frame struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

// Envelope - входящий кадр
type Envelope struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Topic   string              `json:"topic"`
	Subject string              `json:"subject"`
	Code    jsoniter.RawMessage `json:"code"`
	Data    jsoniter.RawMessage `json:"data"`
}

// ErrorCode - код ошибки (число или строка)
func (e *Envelope) ErrorCode() string {
	return strings.Trim(string(e.Code), `"`)
}

// ErrorText - текст ошибки из data
func (e *Envelope) ErrorText() string {
	return strings.Trim(string(e.Data), `"`)
}

var frameSeq uint64

// nextFrameID - уникальный id исходящего кадра
func nextFrameID() string {
	return strconv.FormatUint(atomic.AddUint64(&frameSeq, 1), 10)
}

func newSubscribeFrame(sub Subscription) Frame {
	return Frame{
		ID:             nextFrameID(),
		Type:           FrameSubscribe,
		Topic:          sub.Topic,
		PrivateChannel: sub.Private,
		Response:       true,
	}
}

func newUnsubscribeFrame(sub Subscription) Frame {
	return Frame{
		ID:             nextFrameID(),
		Type:           FrameUnsubscribe,
		Topic:          sub.Topic,
		PrivateChannel: sub.Private,
		Response:       true,
	}
}

func newPingFrame() Frame {
	return Frame{ID: nextFrameID(), Type: FramePing}
}
