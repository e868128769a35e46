package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues tokens in the accounts-service format. Used by tests and the smoke tool.
type Signer struct {
	method jwt.SigningMethod
	key    any
	issuer string
}

// NewSigner returns a Signer for alg. key is a []byte secret for HS* or a private key otherwise.
func NewSigner(alg string, key any, issuer string) (*Signer, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil || method == jwt.SigningMethodNone {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrConfig, alg)
	}
	return &Signer{method: method, key: key, issuer: issuer}, nil
}

// Issue signs a token for userID with the given type ("access" or "refresh").
func (s *Signer) Issue(userID int64, typ string, now time.Time, ttl time.Duration) (string, error) {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	}
	return jwt.NewWithClaims(s.method, c).SignedString(s.key)
}
