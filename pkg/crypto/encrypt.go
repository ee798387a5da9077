package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SecretPrefix помечает значение конфигурации, хранящееся в зашифрованном виде
//
// Пример: EXCHANGE_API_SECRET=enc:q1w2e3...
const SecretPrefix = "enc:"

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
	ErrMissingKey         = errors.New("encrypted secret found but no credentials key configured")
)

// Encrypt шифрует plaintext AES-256-GCM и возвращает base64(nonce || ciphertext || tag)
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает результат Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ParseKey разбирает ключ из окружения: 64 hex-символа, base64 или 32 сырых байта
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	if len(s) == 32 {
		return []byte(s), nil
	}
	return nil, ErrInvalidKeyLength
}

// GenerateKey генерирует случайный ключ AES-256 в hex
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// IsEncrypted - помечено ли значение как зашифрованное
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// SealSecret шифрует значение и добавляет SecretPrefix
func SealSecret(plaintext string, key []byte) (string, error) {
	ct, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return SecretPrefix + ct, nil
}

// OpenSecret возвращает открытое значение
//
// Значения без SecretPrefix возвращаются как есть, пустой key
// допустим, пока не встретилось зашифрованное значение.
func OpenSecret(value string, key []byte) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if len(key) == 0 {
		return "", ErrMissingKey
	}
	plain, err := Decrypt(strings.TrimPrefix(value, SecretPrefix), key)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return plain, nil
}
