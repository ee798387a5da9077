package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"papertrade/pkg/crypto"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Exchange.RESTURL == "" {
		t.Error("Exchange.RESTURL must have a default")
	}
	if cfg.Simulator.FailureProbability != 0.02 {
		t.Errorf("FailureProbability = %v, want 0.02", cfg.Simulator.FailureProbability)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
exchange:
  symbols: [XBTUSDTM, ETHUSDTM]
  reconnect_base_delay: 500ms
simulator:
  failure_probability: 0
  max_latency: 1s
nats:
  enabled: true
  subject_prefix: paper
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("EXCHANGE_SYMBOLS", "SOLUSDTM, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("env must override file: port = %d", cfg.Server.Port)
	}
	if len(cfg.Exchange.Symbols) != 1 || cfg.Exchange.Symbols[0] != "SOLUSDTM" {
		t.Errorf("Symbols = %v, want [SOLUSDTM]", cfg.Exchange.Symbols)
	}
	if cfg.Exchange.ReconnectBaseDelay != 500*time.Millisecond {
		t.Errorf("ReconnectBaseDelay = %v, want 500ms", cfg.Exchange.ReconnectBaseDelay)
	}
	if cfg.Simulator.FailureProbability != 0 {
		t.Errorf("file value must replace default: %v", cfg.Simulator.FailureProbability)
	}
	if cfg.Simulator.BaseSlippage != 0.0005 {
		t.Errorf("keys absent from the file keep defaults: %v", cfg.Simulator.BaseSlippage)
	}
	if !cfg.NATS.Enabled || cfg.NATS.SubjectPrefix != "paper" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
}

func TestLoad_EncryptedCredentials(t *testing.T) {
	hexKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	key, _ := crypto.ParseKey(hexKey)
	sealed, err := crypto.SealSecret("top-secret", key)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EXCHANGE_API_KEY", "plain-key")
	t.Setenv("EXCHANGE_API_SECRET", sealed)
	t.Setenv("CREDENTIALS_KEY", hexKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exchange.APISecret != "top-secret" || cfg.Exchange.APIKey != "plain-key" {
		t.Errorf("credentials = %q / %q", cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}
	if cfg.Exchange.CredentialsKey != "" {
		t.Error("credentials key must not be kept after decryption")
	}

	t.Setenv("CREDENTIALS_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("expected error for encrypted secret without key")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"db port ignored when disabled", func(c *Config) { c.Database.Enabled = false; c.Database.Port = 0 }, false},
		{"failure probability > 1", func(c *Config) { c.Simulator.FailureProbability = 1.5 }, true},
		{"latency inverted", func(c *Config) { c.Simulator.MinLatency = time.Second; c.Simulator.MaxLatency = time.Millisecond }, true},
		{"zero reconnect attempts", func(c *Config) { c.Exchange.MaxReconnectAttempts = 0 }, true},
		{"queue size zero", func(c *Config) { c.Persistence.QueueSize = 0 }, true},
		{"too many retries", func(c *Config) { c.Persistence.MaxRetries = 11 }, true},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validateRanges()
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRanges() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSNWithoutPassword(t *testing.T) {
	d := Default().Database
	if got := d.DSNWithoutPassword(); got == d.DSN() {
		t.Error("DSNWithoutPassword must differ from DSN")
	}
}
