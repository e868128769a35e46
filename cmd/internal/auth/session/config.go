package session

import (
	"os"
	"strings"
	"time"
)

// Config defines the runtime configuration for access-token verification.
type Config struct {
	// Algorithm is the only accepted JWT "alg" (RS256, ES256, EdDSA, HS256, ...).
	Algorithm string

	// PublicKeyPEM verifies asymmetric algorithms.
	PublicKeyPEM []byte

	// Secret verifies HS* algorithms.
	Secret []byte

	// Issuer, when set, must match the "iss" claim.
	Issuer string

	// Leeway is the allowed clock skew for exp/nbf/iat.
	Leeway time.Duration
}

// DefaultConfig returns the defaults used when env vars are unset.
func DefaultConfig() Config {
	return Config{
		Algorithm: "RS256",
		Leeway:    30 * time.Second,
	}
}

// LoadConfigFromEnv loads verifier configuration from environment variables.
//
// Optional:
//   - FINTRACK_JWT_ALGORITHM (default RS256)
//   - FINTRACK_JWT_ISSUER
//   - FINTRACK_JWT_LEEWAY (Go duration)
//
// Required, depending on the algorithm:
//   - FINTRACK_JWT_PUBLIC_KEY_PATH for RS*, PS*, ES*, EdDSA
//   - FINTRACK_JWT_SECRET for HS*
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("FINTRACK_JWT_ALGORITHM")); v != "" {
		cfg.Algorithm = v
	}
	cfg.Issuer = strings.TrimSpace(os.Getenv("FINTRACK_JWT_ISSUER"))

	if v := os.Getenv("FINTRACK_JWT_LEEWAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.Leeway = d
	}

	if isHMAC(cfg.Algorithm) {
		secret := os.Getenv("FINTRACK_JWT_SECRET")
		if len(secret) < 32 {
			return Config{}, ErrConfig
		}
		cfg.Secret = []byte(secret)
		return cfg, nil
	}

	path := strings.TrimSpace(os.Getenv("FINTRACK_JWT_PUBLIC_KEY_PATH"))
	if path == "" {
		return Config{}, ErrConfig
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return Config{}, ErrConfig
	}
	cfg.PublicKeyPEM = pem

	return cfg, nil
}

func isHMAC(alg string) bool {
	return strings.HasPrefix(strings.ToUpper(alg), "HS")
}
