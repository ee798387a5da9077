package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// fakeVenue - тестовая площадка: bootstrap REST + WebSocket с welcome/ack/pong
type fakeVenue struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	conns         []*venueConn
	received      []Frame
	authFrames    []AuthFrame
	tokenRequests int
	dials         int

	tokenStatus int // != 0: bootstrap отвечает этим HTTP статусом
	tokenCode   string
	rejectAuth  bool
	noPong      bool
}

type venueConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (vc *venueConn) write(raw string) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.c.WriteMessage(websocket.TextMessage, []byte(raw))
}

func newFakeVenue(t *testing.T) *fakeVenue {
	t.Helper()
	v := &fakeVenue{}

	mux := http.NewServeMux()
	mux.HandleFunc(bulletPublicPath, v.handleBullet)
	mux.HandleFunc(bulletPrivatePath, v.handleBullet)
	mux.HandleFunc("/ws", v.handleWS)

	v.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		v.dropAll()
		v.srv.Close()
	})
	return v
}

func (v *fakeVenue) wsEndpoint() string {
	return "ws" + strings.TrimPrefix(v.srv.URL, "http") + "/ws"
}

func (v *fakeVenue) handleBullet(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	v.tokenRequests++
	status, code := v.tokenStatus, v.tokenCode
	v.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		if code == "" {
			code = "500000"
		}
		w.Write([]byte(`{"code":"` + code + `","msg":"unavailable"}`))
		return
	}
	w.Write([]byte(`{"code":"200000","data":{"token":"tok-1","instanceServers":[{"endpoint":"` +
		v.wsEndpoint() + `","protocol":"websocket","encrypt":false,"pingInterval":30000,"pingTimeout":10000}]}}`))
}

func (v *fakeVenue) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	vc := &venueConn{c: c}

	v.mu.Lock()
	v.dials++
	v.conns = append(v.conns, vc)
	v.mu.Unlock()

	if vc.write(`{"id":"welcome-1","type":"welcome"}`) != nil {
		return
	}

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if json.Unmarshal(raw, &frame) != nil {
			continue
		}

		v.mu.Lock()
		noPong, rejectAuth := v.noPong, v.rejectAuth
		v.mu.Unlock()

		switch frame.Type {
		case FramePing:
			if !noPong {
				vc.write(`{"id":"` + frame.ID + `","type":"pong"}`)
			}
		case FrameAuth:
			var auth AuthFrame
			json.Unmarshal(raw, &auth)
			v.mu.Lock()
			v.authFrames = append(v.authFrames, auth)
			v.mu.Unlock()
			if rejectAuth {
				vc.write(`{"id":"` + frame.ID + `","type":"error","code":401,"data":"invalid signature"}`)
			} else {
				vc.write(`{"id":"` + frame.ID + `","type":"ack"}`)
			}
		case FrameSubscribe, FrameUnsubscribe:
			v.mu.Lock()
			v.received = append(v.received, frame)
			v.mu.Unlock()
			vc.write(`{"id":"` + frame.ID + `","type":"ack"}`)
		}
	}
}

// push отправляет кадр во все живые соединения
func (v *fakeVenue) push(raw string) {
	v.mu.Lock()
	conns := append([]*venueConn(nil), v.conns...)
	v.mu.Unlock()
	for _, c := range conns {
		c.write(raw)
	}
}

// dropAll обрывает все соединения со стороны площадки
func (v *fakeVenue) dropAll() {
	v.mu.Lock()
	conns := v.conns
	v.conns = nil
	v.mu.Unlock()
	for _, c := range conns {
		c.c.Close()
	}
}

func (v *fakeVenue) set(fn func(v *fakeVenue)) {
	v.mu.Lock()
	fn(v)
	v.mu.Unlock()
}

func (v *fakeVenue) frames(typ string) []Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []Frame
	for _, f := range v.received {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (v *fakeVenue) tokenCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokenRequests
}

func (v *fakeVenue) dialCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dials
}

func testReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		BaseDelay:        10 * time.Millisecond,
		MaxAttempts:      3,
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		MaxMissedPongs:   2,
		WriteTimeout:     2 * time.Second,
	}
}

func newTestClient(t *testing.T, v *fakeVenue, cfg WSReconnectConfig, creds *Credentials) *StreamClient {
	t.Helper()
	c := NewStreamClient(StreamConfig{
		Exchange:    "test",
		RESTURL:     v.srv.URL,
		Credentials: creds,
		Reconnect:   cfg,
		HTTP:        DefaultHTTPClientConfig(),
	}, nil, utils.NopLogger())
	t.Cleanup(c.Close)
	return c
}

// recordingSink собирает всё, что доставил роутер
type recordingSink struct {
	mu        sync.Mutex
	patches   []models.TickPatch
	books     []models.OrderBookDelta
	trades    []models.MarketTrade
	positions []models.AccountPosition
	wallets   []models.WalletBalance
	orders    []models.AccountOrderEvent
}

func (s *recordingSink) OnTickPatch(p models.TickPatch) {
	s.mu.Lock()
	s.patches = append(s.patches, p)
	s.mu.Unlock()
}

func (s *recordingSink) OnOrderBook(d models.OrderBookDelta) {
	s.mu.Lock()
	s.books = append(s.books, d)
	s.mu.Unlock()
}

func (s *recordingSink) OnMarketTrade(tr models.MarketTrade) {
	s.mu.Lock()
	s.trades = append(s.trades, tr)
	s.mu.Unlock()
}

func (s *recordingSink) OnAccountPosition(p models.AccountPosition) {
	s.mu.Lock()
	s.positions = append(s.positions, p)
	s.mu.Unlock()
}

func (s *recordingSink) OnWallet(b models.WalletBalance) {
	s.mu.Lock()
	s.wallets = append(s.wallets, b)
	s.mu.Unlock()
}

func (s *recordingSink) OnAccountOrder(ev models.AccountOrderEvent) {
	s.mu.Lock()
	s.orders = append(s.orders, ev)
	s.mu.Unlock()
}

func (s *recordingSink) patchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patches)
}
