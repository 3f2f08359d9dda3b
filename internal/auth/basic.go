package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// Basic implements the Basic scheme: base64(sessionToken ":" sharedSecret).
type Basic struct{}

func (Basic) Method() Method { return MethodBasic }

func (Basic) Generate(sessionToken, sharedSecret string) (Token, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return Token{}, errors.New("session token is required")
	}
	raw := sessionToken + ":" + sharedSecret
	return Token{
		Method: MethodBasic,
		Value:  base64.StdEncoding.EncodeToString([]byte(raw)),
	}, nil
}

func (Basic) Verify(ctx context.Context, tok Token, resolve SecretResolver) (string, bool, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tok.Value))
	if err != nil {
		return "", false, nil
	}
	sessionToken, presented, found := strings.Cut(string(decoded), ":")
	if !found || sessionToken == "" {
		return "", false, nil
	}
	secret, ok, err := resolveSecret(ctx, resolve, sessionToken)
	if err != nil || !ok {
		return "", false, err
	}
	if !subtleCompare(presented, secret) {
		return "", false, nil
	}
	return sessionToken, true, nil
}
