package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Путь, который подписывается при аутентификации приватного канала
const wsVerifyPath = "/users/self/verify"

// Credentials - API ключи площадки
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Valid - заданы ли ключ и секрет
func (c *Credentials) Valid() bool {
	return c != nil && c.APIKey != "" && c.APISecret != ""
}

// Sign возвращает base64(HMAC-SHA256(timestamp + method + path + body, secret))
func Sign(secret, timestamp, method, path, body string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AuthFrame - кадр аутентификации приватного соединения
type AuthFrame struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	APIKey     string `json:"apiKey"`
	Sign       string `json:"sign"`
	Timestamp  string `json:"timestamp"`
	Passphrase string `json:"passphrase,omitempty"`
}

// NewAuthFrame подписывает timestamp + "GET" + "/users/self/verify"
func NewAuthFrame(id string, creds *Credentials, now time.Time) AuthFrame {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return AuthFrame{
		ID:         id,
		Type:       FrameAuth,
		APIKey:     creds.APIKey,
		Sign:       Sign(creds.APISecret, ts, "GET", wsVerifyPath, ""),
		Timestamp:  ts,
		Passphrase: creds.Passphrase,
	}
}
