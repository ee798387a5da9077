package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"papertrade/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
//
// Порядок применения: значения по умолчанию, затем YAML файл из
// CONFIG_FILE (если задан), затем переменные окружения.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
	Persistence PersistenceConfig `yaml:"persistence"`
	NATS        NATSConfig        `yaml:"nats"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	AuthToken       string        `yaml:"auth_token"`
	// Лимит открытий/закрытий позиций через API (запросов в секунду, 0 = без лимита)
	OrderRateLimit float64 `yaml:"order_rate_limit"`
	OrderBurst     float64 `yaml:"order_burst"`
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// ExchangeConfig - поток площадки
type ExchangeConfig struct {
	Name          string   `yaml:"name"`
	RESTURL       string   `yaml:"rest_url"`
	APIKey        string   `yaml:"api_key"`
	APISecret     string   `yaml:"api_secret"`
	Passphrase    string   `yaml:"passphrase"`
	Symbols       []string `yaml:"symbols"`
	EnablePrivate bool     `yaml:"enable_private"`

	// Ключ для значений с префиксом "enc:", только из окружения
	CredentialsKey string `yaml:"-"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`

	// Лимит исходящих кадров (subscribe/unsubscribe) на соединение
	OutboundRate  float64 `yaml:"outbound_rate"`
	OutboundBurst float64 `yaml:"outbound_burst"`
}

// SimulatorConfig - параметры симуляции исполнения
type SimulatorConfig struct {
	BaseSlippage       float64       `yaml:"base_slippage"`
	ImpactCoefficient  float64       `yaml:"impact_coefficient"`
	NominalDepth       float64       `yaml:"nominal_depth"`
	MaxSlippage        float64       `yaml:"max_slippage"`
	MinLatency         time.Duration `yaml:"min_latency"`
	MaxLatency         time.Duration `yaml:"max_latency"`
	FailureProbability float64       `yaml:"failure_probability"`
	// 0 = сид от текущего времени
	Seed int64 `yaml:"seed"`
}

// PersistenceConfig - очередь асинхронной записи
type PersistenceConfig struct {
	QueueSize          int           `yaml:"queue_size"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	TickSampleInterval time.Duration `yaml:"tick_sample_interval"`
	TickRetention      time.Duration `yaml:"tick_retention"`
	RetentionInterval  time.Duration `yaml:"retention_interval"`
	DrainTimeout       time.Duration `yaml:"drain_timeout"`
}

// NATSConfig - публикация записей в NATS
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	ClientName    string `yaml:"client_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
			OrderRateLimit:  20,
			OrderBurst:      40,
		},
		Database: DatabaseConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            5432,
			Name:            "papertrade",
			User:            "papertrade",
			Password:        "papertrade",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Exchange: ExchangeConfig{
			Name:                 "poloniex-futures",
			RESTURL:              "https://futures-api.poloniex.com",
			Symbols:              []string{"BTCUSDTPERP"},
			EnablePrivate:        true,
			ReconnectBaseDelay:   2 * time.Second,
			MaxReconnectAttempts: 10,
			ConnectTimeout:       10 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			OutboundRate:         10,
			OutboundBurst:        20,
		},
		Simulator: SimulatorConfig{
			BaseSlippage:       0.0005,
			ImpactCoefficient:  0.001,
			NominalDepth:       1_000_000,
			MaxSlippage:        0.01,
			MinLatency:         50 * time.Millisecond,
			MaxLatency:         200 * time.Millisecond,
			FailureProbability: 0.02,
		},
		Persistence: PersistenceConfig{
			QueueSize:         10000,
			WriteTimeout:      5 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      100 * time.Millisecond,
			RetentionInterval: time.Hour,
			DrainTimeout:      10 * time.Second,
		},
		NATS: NATSConfig{
			URL:        "nats://127.0.0.1:4222",
			ClientName: "papertrade",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load загружает конфигурацию: defaults, YAML из CONFIG_FILE, переменные окружения
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Exchange.openSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile накладывает YAML поверх текущих значений
// Отсутствующие в файле ключи сохраняют прежние значения.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Port = getEnvAsInt("SERVER_PORT", s.Port)
	s.Host = getEnv("SERVER_HOST", s.Host)
	s.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.CORSOrigins = getEnvAsSlice("CORS_ALLOWED_ORIGINS", s.CORSOrigins)
	s.AuthToken = getEnv("API_AUTH_TOKEN", s.AuthToken)
	s.OrderRateLimit = getEnvAsFloat("ORDER_RATE_LIMIT", s.OrderRateLimit)
	s.OrderBurst = getEnvAsFloat("ORDER_BURST", s.OrderBurst)

	d := &c.Database
	d.Enabled = getEnvAsBool("DB_ENABLED", d.Enabled)
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnvAsInt("DB_PORT", d.Port)
	d.Name = getEnv("DB_NAME", d.Name)
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.SSLMode = getEnv("DB_SSL_MODE", d.SSLMode)
	d.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", d.AutoMigrate)

	e := &c.Exchange
	e.Name = getEnv("EXCHANGE_NAME", e.Name)
	e.RESTURL = getEnv("EXCHANGE_REST_URL", e.RESTURL)
	e.APIKey = getEnv("EXCHANGE_API_KEY", e.APIKey)
	e.APISecret = getEnv("EXCHANGE_API_SECRET", e.APISecret)
	e.Passphrase = getEnv("EXCHANGE_API_PASSPHRASE", e.Passphrase)
	e.CredentialsKey = getEnv("CREDENTIALS_KEY", e.CredentialsKey)
	e.Symbols = getEnvAsSlice("EXCHANGE_SYMBOLS", e.Symbols)
	e.EnablePrivate = getEnvAsBool("EXCHANGE_ENABLE_PRIVATE", e.EnablePrivate)
	e.ReconnectBaseDelay = getEnvAsDuration("WS_RECONNECT_DELAY", e.ReconnectBaseDelay)
	e.MaxReconnectAttempts = getEnvAsInt("WS_MAX_RECONNECT_ATTEMPTS", e.MaxReconnectAttempts)
	e.ConnectTimeout = getEnvAsDuration("WS_CONNECT_TIMEOUT", e.ConnectTimeout)
	e.HeartbeatInterval = getEnvAsDuration("WS_PING_INTERVAL", e.HeartbeatInterval)
	e.OutboundRate = getEnvAsFloat("WS_OUTBOUND_RATE", e.OutboundRate)
	e.OutboundBurst = getEnvAsFloat("WS_OUTBOUND_BURST", e.OutboundBurst)

	m := &c.Simulator
	m.BaseSlippage = getEnvAsFloat("SIM_BASE_SLIPPAGE", m.BaseSlippage)
	m.ImpactCoefficient = getEnvAsFloat("SIM_IMPACT_COEFFICIENT", m.ImpactCoefficient)
	m.NominalDepth = getEnvAsFloat("SIM_NOMINAL_DEPTH", m.NominalDepth)
	m.MaxSlippage = getEnvAsFloat("SIM_MAX_SLIPPAGE", m.MaxSlippage)
	m.MinLatency = getEnvAsDuration("SIM_MIN_LATENCY", m.MinLatency)
	m.MaxLatency = getEnvAsDuration("SIM_MAX_LATENCY", m.MaxLatency)
	m.FailureProbability = getEnvAsFloat("SIM_FAILURE_PROBABILITY", m.FailureProbability)
	m.Seed = int64(getEnvAsInt("SIM_SEED", int(m.Seed)))

	p := &c.Persistence
	p.QueueSize = getEnvAsInt("PERSIST_QUEUE_SIZE", p.QueueSize)
	p.WriteTimeout = getEnvAsDuration("PERSIST_WRITE_TIMEOUT", p.WriteTimeout)
	p.MaxRetries = getEnvAsInt("PERSIST_MAX_RETRIES", p.MaxRetries)
	p.RetryBackoff = getEnvAsDuration("PERSIST_RETRY_BACKOFF", p.RetryBackoff)
	p.TickSampleInterval = getEnvAsDuration("PERSIST_TICK_SAMPLE_INTERVAL", p.TickSampleInterval)
	p.TickRetention = getEnvAsDuration("PERSIST_TICK_RETENTION", p.TickRetention)
	p.RetentionInterval = getEnvAsDuration("PERSIST_RETENTION_INTERVAL", p.RetentionInterval)
	p.DrainTimeout = getEnvAsDuration("PERSIST_DRAIN_TIMEOUT", p.DrainTimeout)

	n := &c.NATS
	n.Enabled = getEnvAsBool("NATS_ENABLED", n.Enabled)
	n.URL = getEnv("NATS_URL", n.URL)
	n.ClientName = getEnv("NATS_CLIENT_NAME", n.ClientName)
	n.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", n.SubjectPrefix)

	l := &c.Logging
	l.Level = getEnv("LOG_LEVEL", l.Level)
	l.Format = getEnv("LOG_FORMAT", l.Format)
	l.Output = getEnv("LOG_OUTPUT", l.Output)
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}
	if c.Server.OrderRateLimit < 0 {
		return fmt.Errorf("ORDER_RATE_LIMIT cannot be negative, got %v", c.Server.OrderRateLimit)
	}

	if c.Exchange.RESTURL == "" {
		return fmt.Errorf("EXCHANGE_REST_URL is required")
	}
	if c.Exchange.MaxReconnectAttempts < 1 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS must be at least 1, got %d", c.Exchange.MaxReconnectAttempts)
	}
	if c.Exchange.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("WS_RECONNECT_DELAY must be positive, got %v", c.Exchange.ReconnectBaseDelay)
	}
	if c.Exchange.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be positive, got %v", c.Exchange.HeartbeatInterval)
	}

	sim := c.Simulator
	if sim.FailureProbability < 0 || sim.FailureProbability > 1 {
		return fmt.Errorf("SIM_FAILURE_PROBABILITY must be in [0, 1], got %v", sim.FailureProbability)
	}
	if sim.BaseSlippage < 0 || sim.MaxSlippage < 0 || sim.ImpactCoefficient < 0 {
		return fmt.Errorf("simulator slippage parameters cannot be negative")
	}
	if sim.MinLatency < 0 || sim.MaxLatency < sim.MinLatency {
		return fmt.Errorf("SIM_MAX_LATENCY (%v) must be >= SIM_MIN_LATENCY (%v) >= 0", sim.MaxLatency, sim.MinLatency)
	}

	if c.Persistence.QueueSize < 1 {
		return fmt.Errorf("PERSIST_QUEUE_SIZE must be positive, got %d", c.Persistence.QueueSize)
	}
	if c.Persistence.MaxRetries < 0 || c.Persistence.MaxRetries > 10 {
		return fmt.Errorf("PERSIST_MAX_RETRIES must be between 0 and 10, got %d", c.Persistence.MaxRetries)
	}
	if c.Persistence.DrainTimeout <= 0 {
		return fmt.Errorf("PERSIST_DRAIN_TIMEOUT must be positive, got %v", c.Persistence.DrainTimeout)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS is enabled")
	}
	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// openSecrets расшифровывает ключи площадки, заданные как "enc:<base64>"
func (e *ExchangeConfig) openSecrets() error {
	var key []byte
	if e.CredentialsKey != "" {
		k, err := crypto.ParseKey(e.CredentialsKey)
		if err != nil {
			return fmt.Errorf("CREDENTIALS_KEY: %w", err)
		}
		key = k
	}

	for name, field := range map[string]*string{
		"EXCHANGE_API_KEY":        &e.APIKey,
		"EXCHANGE_API_SECRET":     &e.APISecret,
		"EXCHANGE_API_PASSPHRASE": &e.Passphrase,
	} {
		plain, err := crypto.OpenSecret(*field, key)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = plain
	}
	e.CredentialsKey = ""
	return nil
}

// HasCredentials - заданы ли ключи приватного канала
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice читает список через запятую
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
