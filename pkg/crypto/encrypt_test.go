package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	hexKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	key, err := ParseKey(hexKey)
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api key", "5f1c9a2b7e3d"},
		{"passphrase with symbols", "p@ss:word/+=="},
		{"unicode", "секрет"},
		{"long", strings.Repeat("x", 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if _, err := base64.StdEncoding.DecodeString(enc); err != nil {
				t.Errorf("ciphertext is not base64: %v", err)
			}
			dec, err := Decrypt(enc, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if dec != tt.plaintext {
				t.Errorf("got %q, want %q", dec, tt.plaintext)
			}
		})
	}
}

func TestEncrypt_NonceDiffers(t *testing.T) {
	key := testKey(t)
	a, _ := Encrypt("same", key)
	b, _ := Encrypt("same", key)
	if a == b {
		t.Error("two encryptions of the same text must differ")
	}
}

func TestDecrypt_Errors(t *testing.T) {
	key := testKey(t)
	other := testKey(t)
	enc, _ := Encrypt("secret", key)

	tests := []struct {
		name string
		ct   string
		key  []byte
		want error
	}{
		{"wrong key", enc, other, ErrDecryptionFailed},
		{"short key", enc, []byte("short"), ErrInvalidKeyLength},
		{"not base64", "%%%", key, ErrInvalidCiphertext},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), key, ErrCiphertextTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.ct, tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	raw := strings.Repeat("k", 32)
	b64 := base64.StdEncoding.EncodeToString([]byte(raw))
	hexKey := strings.Repeat("ab", 32)

	for _, s := range []string{raw, b64, hexKey, " " + hexKey + "\n"} {
		key, err := ParseKey(s)
		if err != nil || len(key) != 32 {
			t.Errorf("ParseKey(%q) = %d bytes, %v", s, len(key), err)
		}
	}
	if _, err := ParseKey("tiny"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("ParseKey(tiny) error = %v", err)
	}
}

func TestSealOpenSecret(t *testing.T) {
	key := testKey(t)

	sealed, err := SealSecret("api-secret", key)
	if err != nil {
		t.Fatal(err)
	}
	if !IsEncrypted(sealed) {
		t.Fatalf("sealed value lacks prefix: %q", sealed)
	}

	plain, err := OpenSecret(sealed, key)
	if err != nil || plain != "api-secret" {
		t.Errorf("OpenSecret() = %q, %v", plain, err)
	}

	// Открытые значения проходят без ключа
	if v, err := OpenSecret("plain", nil); err != nil || v != "plain" {
		t.Errorf("OpenSecret(plain) = %q, %v", v, err)
	}
	if _, err := OpenSecret(sealed, nil); !errors.Is(err, ErrMissingKey) {
		t.Errorf("OpenSecret without key error = %v", err)
	}
}
