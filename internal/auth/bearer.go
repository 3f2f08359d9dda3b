package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultBearerTTL = 15 * time.Minute

// Bearer issues HS256 JWTs whose subject is the session token, signed with
// the shared secret.
type Bearer struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// BearerOption configures Bearer behaviour.
type BearerOption func(*Bearer)

func WithIssuer(issuer string) BearerOption {
	return func(b *Bearer) { b.issuer = strings.TrimSpace(issuer) }
}

func WithTTL(ttl time.Duration) BearerOption {
	return func(b *Bearer) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

func WithBearerClock(fn func() time.Time) BearerOption {
	return func(b *Bearer) {
		if fn != nil {
			b.now = fn
		}
	}
}

func NewBearer(opts ...BearerOption) *Bearer {
	b := &Bearer{ttl: defaultBearerTTL, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bearer) Method() Method { return MethodBearer }

func (b *Bearer) Generate(sessionToken, sharedSecret string) (Token, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return Token{}, errors.New("session token is required")
	}
	if sharedSecret == "" {
		return Token{}, errors.New("shared secret is required")
	}
	now := b.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    b.issuer,
		Subject:   sessionToken,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sharedSecret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Method: MethodBearer, Value: signed}, nil
}

func (b *Bearer) Verify(ctx context.Context, tok Token, resolve SecretResolver) (string, bool, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
		jwt.WithExpirationRequired(),
	)
	value := strings.TrimSpace(tok.Value)

	var unverified jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(value, &unverified); err != nil {
		return "", false, nil
	}
	sessionToken := strings.TrimSpace(unverified.Subject)
	secret, ok, err := resolveSecret(ctx, resolve, sessionToken)
	if err != nil || !ok {
		return "", false, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := parser.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", false, nil
	}
	if b.issuer != "" && claims.Issuer != b.issuer {
		return "", false, nil
	}
	if claims.Subject != sessionToken {
		return "", false, nil
	}
	return sessionToken, true, nil
}
