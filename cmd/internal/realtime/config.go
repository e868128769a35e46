package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultWriteTimeout   = 5 * time.Second
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds the websocket gateway knobs.
type GatewayConfig struct {
	// DevInsecure skips the websocket library origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout time.Duration
	ReadLimit    int64

	// StoreTimeout bounds the mailbox drain and restore run while a session activates.
	StoreTimeout time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the defaults used when env vars are unset.
// Origin is optional by default: API clients and mobile apps send none.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   false,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		StoreTimeout:     storeOpTimeout,
		ReadLimit:        maxFrameBytes,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads FINTRACK_WS_* variables on top of the defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.DevInsecure = envBoolWS("FINTRACK_WS_DEV_INSECURE", cfg.DevInsecure)
	cfg.OriginRequired = envBoolWS("FINTRACK_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv("FINTRACK_WS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}

	cfg.WriteTimeout = envDurationWS("FINTRACK_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadLimit = int64(envIntWS("FINTRACK_WS_READ_LIMIT", int(cfg.ReadLimit)))
	cfg.StoreTimeout = envDurationWS("FINTRACK_WS_STORE_TIMEOUT", cfg.StoreTimeout)

	cfg.HeartbeatEvery = envDurationWS("FINTRACK_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("FINTRACK_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.RateEvents = envIntWS("FINTRACK_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("FINTRACK_WS_RATE_WINDOW", cfg.RateWindow)

	return cfg
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// OriginPatterns returns the host patterns handed to websocket.Accept.
func (c GatewayConfig) OriginPatterns() []string {
	return originPatterns(c.AllowedOrigins)
}
