package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue reads key and parses it; empty, unparsable or rejected values yield def.
func envValue[T any](key string, def T, parse func(string) (T, error), accept func(T) bool) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	if accept != nil && !accept(out) {
		return def
	}
	return out
}

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	return envValue(key, def, func(s string) (string, error) { return s, nil }, nil)
}

// EnvBool reads a bool env var with a default.
func EnvBool(key string, def bool) bool {
	return envValue(key, def, strconv.ParseBool, nil)
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	return envValue(key, def, strconv.Atoi, func(n int) bool { return n > 0 })
}

// EnvInt32 reads a non-negative int32 env var with a default.
func EnvInt32(key string, def int32) int32 {
	return envValue(key, def, func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	}, func(n int32) bool { return n >= 0 })
}

// EnvDuration reads a positive duration env var with a default.
func EnvDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, time.ParseDuration, func(d time.Duration) bool { return d > 0 })
}

// EnvCSV reads a comma-separated list, dropping empty items.
func EnvCSV(key string, def []string) []string {
	return envValue(key, def, func(s string) ([]string, error) {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}, func(v []string) bool { return len(v) > 0 })
}
