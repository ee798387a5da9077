package utils

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bufferLogger пишет JSON-строки в буфер
func bufferLogger(level zapcore.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "message", LevelKey: "level", EncodeLevel: zapcore.LowercaseLevelEncoder}),
		zapcore.AddSync(&buf),
		level,
	)
	l := zap.New(core)
	return &Logger{Logger: l, sugar: l.Sugar()}, &buf
}

// entries разбирает буфер построчно
func entries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

// withGlobal подменяет глобальный логгер на время теста
func withGlobal(t *testing.T, l *Logger) {
	t.Helper()
	globalMu.RLock()
	prev := globalLogger
	globalMu.RUnlock()
	SetGlobalLogger(l)
	t.Cleanup(func() { SetGlobalLogger(prev) })
}

func TestInitLogger_Configs(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"defaults", LogConfig{}},
		{"json", LogConfig{Level: "info", Format: "json"}},
		{"text", LogConfig{Level: "debug", Format: "text"}},
		{"development", LogConfig{Level: "debug", Format: "text", Development: true}},
		{"stderr", LogConfig{Output: "stderr"}},
		{"unwritable file falls back to stderr", LogConfig{Output: "/nonexistent/dir/papertrade.log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := InitLogger(tt.cfg)
			if l == nil || l.Logger == nil || l.sugar == nil {
				t.Fatalf("InitLogger(%+v) returned incomplete logger", tt.cfg)
			}
		})
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papertrade.log")

	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	l.Info("session started", SessionID("s-1"))
	l.Debug("filtered out")
	_ = l.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (debug is below info): %s", len(lines), content)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log entry is not JSON: %v", err)
	}
	if entry["message"] != "session started" || entry["session_id"] != "s-1" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("entry has no ts key")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	withGlobal(t, nil)

	l := GetGlobalLogger()
	if l == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if GetGlobalLogger() != l {
		t.Error("default global logger must be created once")
	}

	custom := InitGlobalLogger(LogConfig{Level: "warn"})
	if GetGlobalLogger() != custom {
		t.Error("InitGlobalLogger must replace the global logger")
	}
}

func TestGlobalLoggingFunctions(t *testing.T) {
	l, buf := bufferLogger(zapcore.DebugLevel)
	withGlobal(t, l)

	Debug("tick applied", Symbol("XBTUSDTM"))
	Info("position opened", PositionID("p-1"))
	Warn("write failed", Attempt(2))
	Error("stream failed", ConnKind("private"))
	Infof("sessions running: %d", 3)
	Warnf("queue %s", "full")
	_ = l.Sync()

	got := entries(t, buf)
	want := []struct{ level, message string }{
		{"debug", "tick applied"},
		{"info", "position opened"},
		{"warn", "write failed"},
		{"error", "stream failed"},
		{"info", "sessions running: 3"},
		{"warn", "queue full"},
	}
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i]["level"] != w.level || got[i]["message"] != w.message {
			t.Errorf("entry %d = %v, want %s %q", i, got[i], w.level, w.message)
		}
	}
}

func TestLogger_ScopedHelpers(t *testing.T) {
	l, buf := bufferLogger(zapcore.InfoLevel)

	l.WithComponent("engine").Info("a")
	l.WithExchange("poloniex").Info("b")
	l.WithSymbol("XBTUSDTM").Info("c")
	l.WithSessionID("s-9").Info("d")
	l.With(String("k", "v")).Info("e")
	l.Info("plain")
	_ = l.Sync()

	got := entries(t, buf)
	checks := []struct{ key, value string }{
		{"component", "engine"},
		{"exchange", "poloniex"},
		{"symbol", "XBTUSDTM"},
		{"session_id", "s-9"},
		{"k", "v"},
	}
	for i, c := range checks {
		if got[i][c.key] != c.value {
			t.Errorf("entry %d: %s = %v, want %q", i, c.key, got[i][c.key], c.value)
		}
	}
	if _, ok := got[5]["component"]; ok {
		t.Error("scoped fields must not leak into the parent logger")
	}
}

func TestFieldConstructors(t *testing.T) {
	l, buf := bufferLogger(zapcore.InfoLevel)

	l.Info("fields",
		Exchange("poloniex"),
		Symbol("XBTUSDTM"),
		SessionID("sess-1"),
		PositionID("pos-2"),
		TradeID("trade-3"),
		Topic("/contractMarket/ticker"),
		ConnKind("public"),
		Side("long"),
		State("running"),
		Reason("stop_loss"),
		RequestID("req-789"),
		Component("engine"),
		Price(25000.5),
		Size(0.5),
		Slippage(0.0015),
		PNL(100.25),
		Latency(15.5),
		Attempt(3),
	)
	_ = l.Sync()

	entry := entries(t, buf)[0]

	strs := map[string]string{
		"exchange":    "poloniex",
		"symbol":      "XBTUSDTM",
		"session_id":  "sess-1",
		"position_id": "pos-2",
		"trade_id":    "trade-3",
		"topic":       "/contractMarket/ticker",
		"conn":        "public",
		"side":        "long",
		"state":       "running",
		"reason":      "stop_loss",
		"request_id":  "req-789",
		"component":   "engine",
	}
	for k, v := range strs {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}

	nums := map[string]float64{
		"price":      25000.5,
		"size":       0.5,
		"slippage":   0.0015,
		"pnl":        100.25,
		"latency_ms": 15.5,
		"attempt":    3,
	}
	for k, v := range nums {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info("discarded")
	l.WithComponent("x").Error("discarded")
	l.Infow("discarded", Int("n", 1))
}

func TestInfow(t *testing.T) {
	l, buf := bufferLogger(zapcore.InfoLevel)
	l.Infow("snapshot", String("session", "s-1"), Int("positions", 2), Float64("pnl", 1.5))
	_ = l.Sync()

	entry := entries(t, buf)[0]
	if entry["session"] != "s-1" || entry["positions"] != float64(2) || entry["pnl"] != 1.5 {
		t.Errorf("entry = %v", entry)
	}
}

func TestFieldsToInterface(t *testing.T) {
	out := fieldsToInterface([]zap.Field{String("a", "x"), Int64("b", 7), Bool("c", true)})

	if len(out) != 6 {
		t.Fatalf("len = %d, want 6", len(out))
	}
	if out[0] != "a" || out[1] != "x" || out[2] != "b" || out[4] != "c" || out[5] != true {
		t.Errorf("pairs = %v", out)
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: os.DevNull})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("tick", Symbol("XBTUSDTM"), Price(50000), Int("seq", i))
	}
}

func BenchmarkLogger_DebugFiltered(b *testing.B) {
	l := InitLogger(LogConfig{Level: "info", Format: "json", Output: os.DevNull})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Debug("tick", Symbol("XBTUSDTM"), Price(50000))
	}
}
