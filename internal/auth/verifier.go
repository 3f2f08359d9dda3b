package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ParseAuthorization splits an Authorization header into a Token.
func ParseAuthorization(header, timestamp string) (Token, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Token{}, fmt.Errorf("%w: missing authorization header", ErrMalformed)
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || strings.TrimSpace(value) == "" {
		return Token{}, fmt.Errorf("%w: missing credentials", ErrMalformed)
	}
	method, err := ParseMethod(scheme)
	if err != nil {
		return Token{}, err
	}
	return Token{Method: method, Value: strings.TrimSpace(value), Timestamp: strings.TrimSpace(timestamp)}, nil
}

// Verifier selects the Authenticator matching a request's scheme and turns
// its outcome into an error the HTTP boundary can map.
type Verifier struct {
	resolve        SecretResolver
	authenticators map[Method]Authenticator
}

// NewVerifier builds a verifier. With no authenticators, Basic, HMAC and
// Bearer are all accepted.
func NewVerifier(resolve SecretResolver, authenticators ...Authenticator) *Verifier {
	if len(authenticators) == 0 {
		authenticators = []Authenticator{Basic{}, NewHMAC(), NewBearer()}
	}
	v := &Verifier{resolve: resolve, authenticators: make(map[Method]Authenticator, len(authenticators))}
	for _, a := range authenticators {
		v.authenticators[a.Method()] = a
	}
	return v
}

// Authenticator returns the registered authenticator for m.
func (v *Verifier) Authenticator(m Method) (Authenticator, error) {
	a, ok := v.authenticators[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, m)
	}
	return a, nil
}

// Verify checks the headers and returns the authenticated session token.
// Errors are ErrMalformed, ErrUnsupported, ErrUnauthorized,
// ErrInvalidSession, or a resolver failure.
func (v *Verifier) Verify(ctx context.Context, authorization, timestamp string) (string, error) {
	tok, err := ParseAuthorization(authorization, timestamp)
	if err != nil {
		return "", err
	}
	return v.VerifyToken(ctx, tok)
}

// VerifyToken is Verify for an already parsed token.
func (v *Verifier) VerifyToken(ctx context.Context, tok Token) (string, error) {
	a, err := v.Authenticator(tok.Method)
	if err != nil {
		return "", err
	}
	sessionToken, ok, err := a.Verify(ctx, tok, v.resolve)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return "", ErrInvalidSession
		}
		return "", err
	}
	if !ok {
		return "", ErrUnauthorized
	}
	return sessionToken, nil
}
