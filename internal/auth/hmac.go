package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// TimestampLayout is the UTC ISO-8601 form SIF clients send in the
// timestamp header.
const TimestampLayout = "2006-01-02T15:04:05.0000000Z"

// HMAC implements SIF_HMACSHA256. The header value is
// base64(sessionToken ":" base64(HMAC-SHA256(sharedSecret, sessionToken ":" timestamp))).
type HMAC struct {
	now     func() time.Time
	maxSkew time.Duration
}

// HMACOption configures HMAC behaviour.
type HMACOption func(*HMAC)

// WithHMACClock overrides the time source (useful for tests).
func WithHMACClock(fn func() time.Time) HMACOption {
	return func(h *HMAC) {
		if fn != nil {
			h.now = fn
		}
	}
}

// WithMaxSkew rejects tokens whose timestamp is further than d from now.
// Zero disables the check.
func WithMaxSkew(d time.Duration) HMACOption {
	return func(h *HMAC) {
		if d > 0 {
			h.maxSkew = d
		}
	}
}

func NewHMAC(opts ...HMACOption) *HMAC {
	h := &HMAC{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HMAC) Method() Method { return MethodHMACSHA256 }

// Generate signs with the current time.
func (h *HMAC) Generate(sessionToken, sharedSecret string) (Token, error) {
	return h.GenerateAt(sessionToken, sharedSecret, h.now().UTC().Format(TimestampLayout))
}

// GenerateAt signs with a caller supplied timestamp.
func (h *HMAC) GenerateAt(sessionToken, sharedSecret, timestamp string) (Token, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return Token{}, errors.New("session token is required")
	}
	if strings.TrimSpace(timestamp) == "" {
		return Token{}, errors.New("timestamp is required")
	}
	mac := sign(sessionToken, timestamp, sharedSecret)
	raw := sessionToken + ":" + mac
	return Token{
		Method:    MethodHMACSHA256,
		Value:     base64.StdEncoding.EncodeToString([]byte(raw)),
		Timestamp: timestamp,
	}, nil
}

func (h *HMAC) Verify(ctx context.Context, tok Token, resolve SecretResolver) (string, bool, error) {
	if strings.TrimSpace(tok.Timestamp) == "" {
		return "", false, nil
	}
	if h.maxSkew > 0 {
		ts, err := time.Parse(time.RFC3339Nano, tok.Timestamp)
		if err != nil {
			return "", false, nil
		}
		skew := h.now().Sub(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > h.maxSkew {
			return "", false, nil
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tok.Value))
	if err != nil {
		return "", false, nil
	}
	raw := string(decoded)
	idx := strings.LastIndex(raw, ":")
	if idx <= 0 {
		return "", false, nil
	}
	sessionToken, presented := raw[:idx], raw[idx+1:]
	secret, ok, err := resolveSecret(ctx, resolve, sessionToken)
	if err != nil || !ok {
		return "", false, err
	}
	if !subtleCompare(presented, sign(sessionToken, tok.Timestamp, secret)) {
		return "", false, nil
	}
	return sessionToken, true, nil
}

func sign(sessionToken, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionToken + ":" + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
