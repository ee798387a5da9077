package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"papertrade/pkg/utils"
)

const (
	bulletPublicPath  = "/api/v1/bullet-public"
	bulletPrivatePath = "/api/v1/bullet-private"
	venueSuccessCode  = "200000"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InstanceServer - адрес WebSocket сервера из bootstrap-ответа
type InstanceServer struct {
	Endpoint     string `json:"endpoint"`
	Protocol     string `json:"protocol"`
	Encrypt      bool   `json:"encrypt"`
	PingInterval int64  `json:"pingInterval"` // мс
	PingTimeout  int64  `json:"pingTimeout"`  // мс
}

// BulletToken - короткоживущий токен для подключения к стриму
type BulletToken struct {
	Token   string           `json:"token"`
	Servers []InstanceServer `json:"instanceServers"`
}

// URL формирует адрес подключения endpoint?token=...&connectId=...
func (t *BulletToken) URL(connectID string) (string, error) {
	if len(t.Servers) == 0 {
		return "", ErrNoInstanceServers
	}
	u, err := url.Parse(t.Servers[0].Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", t.Token)
	q.Set("connectId", connectID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenSource выдаёт токен для нового подключения
type TokenSource interface {
	RequestToken(ctx context.Context, kind ConnKind) (*BulletToken, error)
}

// TokenClient получает токены через REST bootstrap-эндпоинт
type TokenClient struct {
	exchange string
	baseURL  string
	http     *HTTPClient
	creds    *Credentials
	clock    utils.Clock
}

// NewTokenClient создаёт клиент; creds нужны только для приватного токена
func NewTokenClient(exchange, baseURL string, httpClient *HTTPClient, creds *Credentials) *TokenClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &TokenClient{
		exchange: exchange,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		creds:    creds,
		clock:    utils.SystemClock,
	}
}

type bulletResponse struct {
	Code string      `json:"code"`
	Msg  string      `json:"msg"`
	Data BulletToken `json:"data"`
}

// RequestToken выполняет POST bullet-public / bullet-private
//
// 401/403 и коды неверного ключа возвращаются как ошибка аутентификации,
// остальные сбои считаются временными.
func (c *TokenClient) RequestToken(ctx context.Context, kind ConnKind) (*BulletToken, error) {
	path := bulletPublicPath
	if kind.Private() {
		if !c.creds.Valid() {
			return nil, ErrNoCredentials
		}
		path = bulletPrivatePath
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if kind.Private() {
		ts := strconv.FormatInt(c.clock().UnixMilli(), 10)
		req.Header.Set("KC-API-KEY", c.creds.APIKey)
		req.Header.Set("KC-API-SIGN", Sign(c.creds.APISecret, ts, http.MethodPost, path, ""))
		req.Header.Set("KC-API-TIMESTAMP", ts)
		req.Header.Set("KC-API-PASSPHRASE", c.creds.Passphrase)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bootstrap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read bootstrap response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &ExchangeError{
			Exchange: c.exchange,
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  "bootstrap rejected credentials",
			Original: ErrAuthFailed,
		}
	}

	var parsed bulletResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ExchangeError{
			Exchange: c.exchange,
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  "malformed bootstrap response",
			Original: err,
		}
	}

	if parsed.Code != venueSuccessCode {
		exErr := &ExchangeError{Exchange: c.exchange, Code: parsed.Code, Message: parsed.Msg}
		if authErrorCodes[parsed.Code] {
			exErr.Original = ErrAuthFailed
		}
		return nil, exErr
	}

	if parsed.Data.Token == "" {
		return nil, &ExchangeError{Exchange: c.exchange, Message: "empty token"}
	}
	if len(parsed.Data.Servers) == 0 {
		return nil, ErrNoInstanceServers
	}

	return &parsed.Data, nil
}
