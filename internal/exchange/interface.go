package exchange

import (
	"errors"
	"strings"
)

// ConnKind - тип соединения с площадкой
type ConnKind string

const (
	ConnPublic  ConnKind = "public"  // рыночные данные
	ConnPrivate ConnKind = "private" // аккаунт
)

// Private - требует ли соединение аутентификации
func (k ConnKind) Private() bool {
	return k == ConnPrivate
}

// Ошибки стрима
var (
	ErrManagerClosed     = errors.New("connection manager is closed")
	ErrNotConnected      = errors.New("not connected")
	ErrNoCredentials     = errors.New("credentials required for private connection")
	ErrStaleConnection   = errors.New("heartbeat: no pong for two consecutive intervals")
	ErrHandshake         = errors.New("handshake failed")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrNoInstanceServers = errors.New("bootstrap response has no instance servers")
	ErrUnknownKind       = errors.New("unknown connection kind")
)

// ExchangeError представляет ошибку от площадки
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Коды ответа площадки, означающие неверные учётные данные
var authErrorCodes = map[string]bool{
	"400001": true, // нет заголовков аутентификации
	"400002": true, // неверный timestamp
	"400003": true, // ключ не существует
	"400004": true, // неверная passphrase
	"400005": true, // неверная подпись
	"400006": true, // IP не в белом списке
	"400007": true, // нет прав у ключа
	"411100": true, // пользователь заморожен
}

// IsAuthError - ошибка аутентификации (повтор не поможет)
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNoCredentials) {
		return true
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return authErrorCodes[exErr.Code] || strings.Contains(strings.ToLower(exErr.Message), "invalid key")
	}
	return false
}
