package environment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
	"sif3.org/internal/store"
)

func TestBrokerCreateCompressed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/environments/environment" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("request body not compressed")
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("missing Authorization header")
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip reader: %v", err)
			return
		}
		var req model.Environment
		if err := model.Decode(zr, &req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		req.ID = "env-1"
		req.SessionToken = "token-1"
		w.Header().Set("Content-Type", xmlContentType)
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusCreated)
		zw := gzip.NewWriter(w)
		defer zw.Close()
		_ = model.Encode(zw, &req)
	}))
	defer srv.Close()

	b := NewBroker(srv.URL+"/api/", WithCompression(true))
	tok, _ := auth.Basic{}.Generate(demoKey, demoSecret)
	env, err := b.Create(context.Background(), RequestFromSettings(demoSettings()), tok)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if env.ID != "env-1" || env.SessionToken != "token-1" || env.ApplicationInfo.ApplicationKey != demoKey {
		t.Fatalf("unexpected environment: %+v", env)
	}
}

func TestBrokerErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", xmlContentType)
			w.WriteHeader(http.StatusNotFound)
			_ = model.Encode(w, &model.Error{ID: "e1", Code: 404, Scope: "environment", Message: "not found"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "invalid session")
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer srv.Close()

	b := NewBroker(srv.URL)
	tok := auth.Token{Method: auth.MethodBasic, Value: "x"}
	ctx := context.Background()

	_, err := b.Retrieve(ctx, "missing", tok)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "not found" {
		t.Fatalf("unexpected remote error: %v", err)
	}
	if err := b.Delete(ctx, "env-1", tok); !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := b.Create(ctx, RequestFromSettings(demoSettings()), tok); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestBrokerDelete(t *testing.T) {
	var gotPath, gotTimestamp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTimestamp = r.Header.Get("timestamp")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tok, err := auth.NewHMAC().Generate("token-1", demoSecret)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := NewBroker(srv.URL).Delete(context.Background(), "env-1", tok); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotPath != "/environments/env-1" || gotTimestamp != tok.Timestamp {
		t.Fatalf("path=%q timestamp=%q", gotPath, gotTimestamp)
	}
}

func TestBrokerRejectsDuplicateRights(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := &model.Environment{
			ID:           "env-1",
			SessionToken: "token-1",
			ProvisionedZones: []model.ProvisionedZone{{
				ID: "DefaultZone",
				Services: []model.Service{{
					Type: model.ServiceObject,
					Name: "StudentPersonals",
					Rights: model.Rights{
						{Type: model.RightQuery, Value: model.Rejected},
						{Type: model.RightQuery, Value: model.Approved},
					},
				}},
			}},
		}
		w.Header().Set("Content-Type", xmlContentType)
		_ = model.Encode(w, env)
	}))
	defer srv.Close()

	b := NewBroker(srv.URL)
	tok := auth.Token{Method: auth.MethodBasic, Value: "x"}
	if _, err := b.Retrieve(context.Background(), "env-1", tok); !errors.Is(err, model.ErrDuplicateRight) {
		t.Fatalf("expected ErrDuplicateRight, got %v", err)
	}
}
