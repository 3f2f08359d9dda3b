package auth

import (
	"context"
	"strings"
)

type sessionContextKey struct{}
type tokenContextKey struct{}

// ContextWithSessionToken attaches the authenticated session token to the context.
func ContextWithSessionToken(ctx context.Context, sessionToken string) context.Context {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, sessionToken)
}

// SessionTokenFromContext extracts the authenticated session token from the context.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(sessionContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithToken stores the raw authorisation token inside the context.
func ContextWithToken(ctx context.Context, tok Token) context.Context {
	if tok.Value == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, tok)
}

// TokenFromContext returns the authorisation token if it was previously attached.
func TokenFromContext(ctx context.Context) (Token, bool) {
	if ctx == nil {
		return Token{}, false
	}
	v, ok := ctx.Value(tokenContextKey{}).(Token)
	if !ok || v.Value == "" {
		return Token{}, false
	}
	return v, true
}
