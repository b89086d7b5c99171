package clients

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoTokenSecret is returned by a signer without a secret. Callers send unauthenticated requests.
var ErrNoTokenSecret = errors.New("token secret not configured")

// TokenSigner issues short lived HS256 tokens identifying this device to the sync server.
type TokenSigner struct {
	secret  []byte
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func NewTokenSigner(secret, issuer, subject string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret:  []byte(secret),
		issuer:  issuer,
		subject: subject,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *TokenSigner) Token() (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoTokenSecret
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// VerifyToken validates a token produced by a TokenSigner with the same secret and issuer.
func VerifyToken(raw, secret, issuer string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}
