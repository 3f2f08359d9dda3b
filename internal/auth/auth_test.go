package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func resolverFor(secrets map[string]string) SecretResolver {
	return func(ctx context.Context, sessionToken string) (string, error) {
		secret, ok := secrets[sessionToken]
		if !ok {
			return "", ErrInvalidSession
		}
		return secret, nil
	}
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func authenticators() []Authenticator {
	return []Authenticator{
		Basic{},
		NewHMAC(WithHMACClock(fixedClock()), WithMaxSkew(5*time.Minute)),
		NewBearer(WithIssuer("sif3"), WithBearerClock(fixedClock())),
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	pairs := map[string]string{
		"0e7b1c2a-3b7a-4d53-9e45-6f0a1a2b3c4d": "SecretDem0",
		"Sif3DemoApp":                          "p@ss:word",
		"x":                                    "y",
	}
	resolve := resolverFor(pairs)
	for _, a := range authenticators() {
		for sessionToken, secret := range pairs {
			tok, err := a.Generate(sessionToken, secret)
			if err != nil {
				t.Fatalf("%s Generate: %v", a.Method(), err)
			}
			got, ok, err := a.Verify(ctx, tok, resolve)
			if err != nil || !ok {
				t.Fatalf("%s Verify(%q): ok=%v err=%v", a.Method(), sessionToken, ok, err)
			}
			if got != sessionToken {
				t.Fatalf("%s recovered %q, want %q", a.Method(), got, sessionToken)
			}
		}
	}
}

func TestWrongSecretIsFalseNotError(t *testing.T) {
	ctx := context.Background()
	resolve := resolverFor(map[string]string{"tok": "right"})
	for _, a := range authenticators() {
		tok, err := a.Generate("tok", "wrong")
		if err != nil {
			t.Fatalf("%s Generate: %v", a.Method(), err)
		}
		_, ok, err := a.Verify(ctx, tok, resolve)
		if ok || err != nil {
			t.Fatalf("%s: expected ok=false err=nil, got ok=%v err=%v", a.Method(), ok, err)
		}
	}
}

func TestUnknownSessionIsInvalidSession(t *testing.T) {
	ctx := context.Background()
	resolve := resolverFor(map[string]string{})
	for _, a := range authenticators() {
		tok, err := a.Generate("ghost", "secret")
		if err != nil {
			t.Fatalf("%s Generate: %v", a.Method(), err)
		}
		if _, _, err := a.Verify(ctx, tok, resolve); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("%s: expected ErrInvalidSession, got %v", a.Method(), err)
		}
	}
}

func TestMissingSecretIsFalse(t *testing.T) {
	ctx := context.Background()
	resolve := resolverFor(map[string]string{"tok": ""})
	tok, _ := Basic{}.Generate("tok", "")
	if _, ok, err := (Basic{}).Verify(ctx, tok, resolve); ok || err != nil {
		t.Fatalf("expected ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestHMACWireFormat(t *testing.T) {
	h := NewHMAC()
	tok, err := h.GenerateAt("session", "secret", "2026-10-16T09:30:00.0000000Z")
	if err != nil {
		t.Fatalf("GenerateAt: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(tok.Value)
	if err != nil {
		t.Fatalf("value is not base64: %v", err)
	}
	// HMAC-SHA256("secret", "session:2026-10-16T09:30:00.0000000Z"), base64.
	want := "session:" + sign("session", "2026-10-16T09:30:00.0000000Z", "secret")
	if string(raw) != want {
		t.Fatalf("unexpected token material %q", raw)
	}
	if tok.Authorization()[:len("SIF_HMACSHA256 ")] != "SIF_HMACSHA256 " {
		t.Fatalf("unexpected header %q", tok.Authorization())
	}
}

func TestHMACRejectsTamperedTimestamp(t *testing.T) {
	ctx := context.Background()
	h := NewHMAC(WithHMACClock(fixedClock()))
	tok, _ := h.Generate("tok", "secret")
	tok.Timestamp = "2026-10-16T09:31:00.0000000Z"
	if _, ok, _ := h.Verify(ctx, tok, resolverFor(map[string]string{"tok": "secret"})); ok {
		t.Fatalf("expected timestamp tampering to fail verification")
	}
}

func TestHMACSkew(t *testing.T) {
	ctx := context.Background()
	h := NewHMAC(WithHMACClock(fixedClock()), WithMaxSkew(time.Minute))
	tok, _ := h.GenerateAt("tok", "secret", "2026-10-16T08:00:00.0000000Z")
	if _, ok, _ := h.Verify(ctx, tok, resolverFor(map[string]string{"tok": "secret"})); ok {
		t.Fatalf("expected stale timestamp to be rejected")
	}
}

func TestBearerExpired(t *testing.T) {
	ctx := context.Background()
	issued := NewBearer(WithTTL(time.Minute), WithBearerClock(fixedClock()))
	tok, _ := issued.Generate("tok", "secret")
	later := NewBearer(WithBearerClock(func() time.Time { return fixedClock()().Add(time.Hour) }))
	if _, ok, _ := later.Verify(ctx, tok, resolverFor(map[string]string{"tok": "secret"})); ok {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(resolverFor(map[string]string{"tok": "secret"}))
	tok, _ := Basic{}.Generate("tok", "secret")

	got, err := v.Verify(ctx, tok.Authorization(), "")
	if err != nil || got != "tok" {
		t.Fatalf("Verify: %q %v", got, err)
	}
	if _, err := v.Verify(ctx, "", ""); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := v.Verify(ctx, "Digest abc", ""); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	bad, _ := Basic{}.Generate("tok", "nope")
	if _, err := v.Verify(ctx, bad.Authorization(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	ghost, _ := Basic{}.Generate("ghost", "secret")
	if _, err := v.Verify(ctx, ghost.Authorization(), ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestParseAuthorizationCaseInsensitive(t *testing.T) {
	tok, err := ParseAuthorization("sif_hmacsha256 abc", "ts")
	if err != nil {
		t.Fatalf("ParseAuthorization: %v", err)
	}
	if tok.Method != MethodHMACSHA256 || tok.Value != "abc" || tok.Timestamp != "ts" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithSessionToken(context.Background(), " tok ")
	got, ok := SessionTokenFromContext(ctx)
	if !ok || got != "tok" {
		t.Fatalf("unexpected session token %q ok=%v", got, ok)
	}
	if _, ok := SessionTokenFromContext(context.Background()); ok {
		t.Fatalf("unexpected session token on empty context")
	}
	ctx = ContextWithToken(ctx, Token{Method: MethodBasic, Value: "abc"})
	if tok, ok := TokenFromContext(ctx); !ok || tok.Value != "abc" {
		t.Fatalf("unexpected token %+v ok=%v", tok, ok)
	}
}
