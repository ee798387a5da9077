package persistence

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher - минимальный интерфейс публикации (реализуется *nats.Conn)
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig - настройки публикации в NATS
type NATSConfig struct {
	URL            string
	ClientName     string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// NATSSink публикует записи в NATS
//
// Темы: <prefix>.ticks.<symbol>, <prefix>.trades.<session>,
// <prefix>.sessions.<session>, <prefix>.positions.<session>.
type NATSSink struct {
	pub       Publisher
	conn      *nats.Conn
	prefix    string
	connected atomic.Bool
	log       *utils.Logger
}

// DialNATS подключается к серверу NATS и возвращает приёмник
func DialNATS(cfg NATSConfig, log *utils.Logger) (*NATSSink, error) {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "papertrade"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	s := &NATSSink{prefix: strings.Trim(cfg.SubjectPrefix, "."), log: log.WithComponent("nats-sink")}

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.log.Warn("nats connection closed")
			s.connected.Store(false)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warn("nats disconnected", utils.Err(err))
			s.connected.Store(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.log.Info("nats reconnected", utils.String("url", nc.ConnectedUrl()))
			s.connected.Store(true)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	s.conn = nc
	s.pub = nc
	s.connected.Store(nc.IsConnected())
	return s, nil
}

// NewNATSSink создаёт приёмник поверх готового издателя
func NewNATSSink(pub Publisher, prefix string, log *utils.Logger) *NATSSink {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	s := &NATSSink{pub: pub, prefix: strings.Trim(prefix, "."), log: log.WithComponent("nats-sink")}
	s.connected.Store(true)
	return s
}

func (s *NATSSink) Name() string { return "nats" }

// Connected сообщает, есть ли активное соединение
func (s *NATSSink) Connected() bool { return s.connected.Load() }

func (s *NATSSink) subject(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, ".")
}

func (s *NATSSink) publish(ctx context.Context, subject string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) WriteTick(ctx context.Context, tick models.Tick) error {
	return s.publish(ctx, s.subject("ticks", tick.Symbol), tick)
}

func (s *NATSSink) WriteTrade(ctx context.Context, trade models.Trade) error {
	return s.publish(ctx, s.subject("trades", trade.SessionID), trade)
}

func (s *NATSSink) WriteSession(ctx context.Context, session models.Session) error {
	return s.publish(ctx, s.subject("sessions", session.ID), session)
}

func (s *NATSSink) WritePosition(ctx context.Context, pos models.Position) error {
	return s.publish(ctx, s.subject("positions", pos.SessionID), pos)
}

// Close сбрасывает буфер и закрывает соединение
func (s *NATSSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		s.log.Warn("nats flush failed", utils.Err(err))
	}
	s.conn.Close()
}
