package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the "type" claim value accepted by Verifier.
const TokenTypeAccess = "access"

// Claims is the fintrack access-token payload.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

// Verifier checks access tokens against one pinned algorithm and key.
type Verifier struct {
	key    any
	parser *jwt.Parser
}

// NewVerifier builds a Verifier from cfg. Key material is parsed once here.
func NewVerifier(cfg Config) (*Verifier, error) {
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil || method == jwt.SigningMethodNone {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, cfg.Algorithm)
	}

	key, err := verificationKey(method, cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{key: key, parser: jwt.NewParser(opts...)}, nil
}

func verificationKey(method jwt.SigningMethod, cfg Config) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("%w: missing secret", ErrConfig)
		}
		return cfg.Secret, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		k, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa public key: %w", ErrConfig, err)
		}
		return k, nil
	case *jwt.SigningMethodECDSA:
		k, err := jwt.ParseECPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: ec public key: %w", ErrConfig, err)
		}
		return k, nil
	case *jwt.SigningMethodEd25519:
		k, err := jwt.ParseEdPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: ed25519 public key: %w", ErrConfig, err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, method.Alg())
	}
}

// Verify parses and validates token and returns its claims.
// Any failure is reported as ErrInvalidToken.
func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var c Claims
	if _, err := v.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return c, nil
}

// Authenticate resolves an access token to the user id in "sub".
func (v *Verifier) Authenticate(_ context.Context, token string) (int64, error) {
	c, err := v.Verify(token)
	if err != nil {
		return 0, err
	}
	if c.Type != TokenTypeAccess {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, ErrWrongTokenType)
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidSubject)
	}
	return id, nil
}
