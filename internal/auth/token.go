package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

// Method names an Authorization header scheme.
type Method string

const (
	MethodBasic      Method = "Basic"
	MethodHMACSHA256 Method = "SIF_HMACSHA256"
	MethodBearer     Method = "Bearer"
)

// ParseMethod matches a scheme name case-insensitively.
func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{MethodBasic, MethodHMACSHA256, MethodBearer} {
		if strings.EqualFold(strings.TrimSpace(s), string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// Token is an authorisation token as carried on the Authorization and
// timestamp headers. Tokens are regenerated per request and never stored.
type Token struct {
	Method    Method
	Value     string
	Timestamp string
}

// Authorization renders the Authorization header value.
func (t Token) Authorization() string {
	return string(t.Method) + " " + t.Value
}

// SecretResolver returns the shared secret for the session token claimed by
// a token. It must return ErrInvalidSession for unknown sessions and an
// empty secret when none is configured.
type SecretResolver func(ctx context.Context, sessionToken string) (string, error)

// Authenticator generates and verifies one kind of authorisation token.
//
// Verify extracts the claimed session token first, resolves its secret and
// only then checks the token material. A mismatch, a malformed token or an
// empty secret yields ok=false with a nil error; an unknown session yields
// ErrInvalidSession.
type Authenticator interface {
	Method() Method
	Generate(sessionToken, sharedSecret string) (Token, error)
	Verify(ctx context.Context, tok Token, resolve SecretResolver) (sessionToken string, ok bool, err error)
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// resolveSecret runs the resolver and folds an empty secret into a failed
// verification.
func resolveSecret(ctx context.Context, resolve SecretResolver, sessionToken string) (string, bool, error) {
	if resolve == nil || sessionToken == "" {
		return "", false, nil
	}
	secret, err := resolve(ctx, sessionToken)
	if err != nil {
		return "", false, err
	}
	if secret == "" {
		return "", false, nil
	}
	return secret, true, nil
}
