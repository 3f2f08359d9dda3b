package environment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
	"sif3.org/internal/store"
)

const xmlContentType = "application/xml; charset=utf-8"

// Broker is an Authority reached over HTTP: a SIF broker or a remote
// direct-connect provider.
type Broker struct {
	baseURL  string
	client   *http.Client
	compress bool
}

type BrokerOption func(*Broker)

func WithHTTPClient(c *http.Client) BrokerOption {
	return func(b *Broker) {
		if c != nil {
			b.client = c
		}
	}
}

// WithCompression gzips request bodies.
func WithCompression(on bool) BrokerOption {
	return func(b *Broker) { b.compress = on }
}

// NewBroker targets the environment endpoint root, e.g.
// https://broker.example/api.
func NewBroker(baseURL string, opts ...BrokerOption) *Broker {
	b := &Broker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RemoteError is a non-success response from the authority.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment authority returned %d", e.Status)
	}
	return fmt.Sprintf("environment authority returned %d: %s", e.Status, e.Message)
}

// Is maps response statuses onto the local error taxonomy.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case auth.ErrInvalidSession:
		return e.Status == http.StatusBadRequest
	case auth.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case store.ErrNotFound:
		return e.Status == http.StatusNotFound
	case store.ErrAlreadyExists:
		return e.Status == http.StatusConflict
	}
	return false
}

func (b *Broker) Create(ctx context.Context, req *model.Environment, tok auth.Token) (*model.Environment, error) {
	body, err := model.Marshal(req.Clone())
	if err != nil {
		return nil, err
	}
	env := &model.Environment{}
	if err := b.do(ctx, http.MethodPost, b.baseURL+"/environments/environment", tok, body, env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("broker environment: %w", err)
	}
	return env, nil
}

func (b *Broker) Retrieve(ctx context.Context, id string, tok auth.Token) (*model.Environment, error) {
	env := &model.Environment{}
	if err := b.do(ctx, http.MethodGet, b.environmentURL(id), tok, nil, env); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("broker environment %s: %w", id, err)
	}
	return env, nil
}

func (b *Broker) Delete(ctx context.Context, id string, tok auth.Token) error {
	return b.do(ctx, http.MethodDelete, b.environmentURL(id), tok, nil, nil)
}

func (b *Broker) environmentURL(id string) string {
	return b.baseURL + "/environments/" + url.PathEscape(id)
}

func (b *Broker) do(ctx context.Context, method, target string, tok auth.Token, body []byte, out any) error {
	var reader io.Reader
	encoded := false
	if body != nil {
		if b.compress {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(body); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			body = buf.Bytes()
			encoded = true
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", tok.Authorization())
	if tok.Timestamp != "" {
		req.Header.Set("timestamp", tok.Timestamp)
	}
	req.Header.Set("Accept", xmlContentType)
	req.Header.Set("Accept-Encoding", "gzip")
	if body != nil {
		req.Header.Set("Content-Type", xmlContentType)
	}
	if encoded {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, target, err)
		}
		defer zr.Close()
		respBody = zr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteError(resp.StatusCode, respBody)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return model.Decode(respBody, out)
}

func remoteError(status int, body io.Reader) error {
	rerr := &RemoteError{Status: status}
	var sifErr model.Error
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	if len(data) > 0 {
		if err := model.Decode(bytes.NewReader(data), &sifErr); err == nil {
			rerr.Message = sifErr.Message
			if sifErr.Description != "" {
				rerr.Message += ": " + sifErr.Description
			}
		} else {
			rerr.Message = strings.TrimSpace(string(data))
		}
	}
	return rerr
}

var _ Authority = (*Broker)(nil)
var _ Authority = (*Direct)(nil)
