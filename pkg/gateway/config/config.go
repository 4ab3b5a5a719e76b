package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream Gemini credentials and live-session defaults.
	GeminiAPIKey      string
	Model             string
	Voice             string
	SystemInstruction string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket mode (/ws/live).
	LiveQueueSize        int
	LiveIdleTimeout      time.Duration // 0 => disabled
	LiveWSPingInterval   time.Duration
	LiveWSWriteTimeout   time.Duration
	LiveMaxMessageBytes  int64
	LiveHandshakeTimeout time.Duration

	// Usage persistence. Empty DSN => in-memory counters.
	PostgresDSN string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

const (
	DefaultModel             = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice             = "Zephyr"
	DefaultSystemInstruction = "You are the OmniBot Voice Agent. Handle inbound calls with business precision."
)

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("VOICEGATE_ADDR", ":8080"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:                envOr("VOICEGATE_MODEL", DefaultModel),
		Voice:                envOr("VOICEGATE_VOICE", DefaultVoice),
		SystemInstruction:    envOr("VOICEGATE_SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		CORSAllowedOrigins:   make(map[string]struct{}),
		LiveQueueSize:        envIntOr("VOICEGATE_LIVE_QUEUE_SIZE", 64),
		LiveIdleTimeout:      envDurationOr("VOICEGATE_LIVE_IDLE_TIMEOUT", 2*time.Minute),
		LiveWSPingInterval:   envDurationOr("VOICEGATE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:   envDurationOr("VOICEGATE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveMaxMessageBytes:  envInt64Or("VOICEGATE_LIVE_MAX_MESSAGE_BYTES", 1<<20),
		LiveHandshakeTimeout: envDurationOr("VOICEGATE_LIVE_HANDSHAKE_TIMEOUT", 10*time.Second),
		PostgresDSN:          strings.TrimSpace(os.Getenv("VOICEGATE_POSTGRES_DSN")),
		ReadHeaderTimeout:    envDurationOr("VOICEGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VOICEGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOICEGATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_VOICE must not be empty")
	}
	if cfg.LiveQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_QUEUE_SIZE must be > 0")
	}
	if cfg.LiveIdleTimeout < 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_IDLE_TIMEOUT must be >= 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
