package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"relayer-proxy/internal/client"
	"relayer-proxy/internal/config"
	"relayer-proxy/internal/model"
	"relayer-proxy/internal/service"
)

func newTestHandler(t *testing.T, cfg *config.Config) *ProxyHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := client.NewRelayerClient(cfg, logger, nil)
	svc, err := service.NewProxyService(rc, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, cfg, logger)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Environment: "development",
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func newContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, wildcard string) echo.Context {
	c := e.NewContext(req, rec)
	c.SetParamNames("*")
	c.SetParamValues(wildcard)
	return c
}

func TestHandle_JSONPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-9")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/vault")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"id":"abc"}` {
		t.Errorf("body = %q, want %q", got, `{"id":"abc"}`)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "req-9" {
		t.Errorf("X-Request-Id = %q, want %q", got, "req-9")
	}
}

func TestHandle_TextUpstreamWrapped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	h := newTestHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/health")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["data"] != "ok" {
		t.Errorf("body.data = %q, want %q", body["data"], "ok")
	}
}

func TestHandle_UpstreamDown(t *testing.T) {
	h := newTestHandler(t, testConfig("http://127.0.0.1:1"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/vault")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var doc model.ErrorDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Success {
		t.Error("success = true, want false")
	}
	if doc.Error != "Cannot reach relayer service" {
		t.Errorf("error = %q, want %q", doc.Error, "Cannot reach relayer service")
	}
	if doc.Details == "" {
		t.Error("details should carry the raw error text")
	}
}

func TestHandle_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Upstream.TimeoutSeconds = 1
	h := newTestHandler(t, cfg)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/vault")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}

	var doc model.ErrorDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Error != "Relayer request timed out" {
		t.Errorf("error = %q, want %q", doc.Error, "Relayer request timed out")
	}
}

func TestWriteError_Classification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantError   string
		wantDetails string
	}{
		{
			name:        "deadline exceeded",
			err:         fmt.Errorf("forward to relayer: %w", context.DeadlineExceeded),
			wantError:   "Relayer request timed out",
			wantDetails: "The relayer service did not respond within 30 seconds",
		},
		{
			name:      "connection refused substring",
			err:       fmt.Errorf("forward to relayer: dial tcp 127.0.0.1:3001: connect: connection refused"),
			wantError: "Cannot reach relayer service",
		},
		{
			name:      "dns failure",
			err:       fmt.Errorf("forward to relayer: %w", &net.DNSError{Err: "no such host", Name: "relayer.internal"}),
			wantError: "Cannot reach relayer service",
		},
		{
			name:      "op error",
			err:       fmt.Errorf("forward to relayer: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}),
			wantError: "Cannot reach relayer service",
		},
		{
			name:      "anything else is generic",
			err:       errors.New("unexpected EOF"),
			wantError: "Relayer request failed",
		},
	}

	h := newTestHandler(t, testConfig("http://localhost:3001"))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.writeError(c, "aptos/vault", url.Values{}, tt.err); err != nil {
				t.Fatalf("writeError() returned error: %v", err)
			}

			if rec.Code != http.StatusBadGateway {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
			}

			var doc model.ErrorDocument
			if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if doc.Error != tt.wantError {
				t.Errorf("error = %q, want %q", doc.Error, tt.wantError)
			}
			if tt.wantDetails != "" && doc.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", doc.Details, tt.wantDetails)
			}
			if tt.wantDetails == "" && doc.Details == "" {
				t.Error("details should carry the raw error message")
			}
		})
	}
}

func TestWriteError_TargetURLVisibility(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantTarget  bool
	}{
		{"development exposes target", "development", true},
		{"production hides target", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost:3001")
			cfg.Environment = tt.environment
			h := newTestHandler(t, cfg)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.writeError(c, "aptos/vault", url.Values{}, errors.New("boom"))
			if err != nil {
				t.Fatalf("writeError() returned error: %v", err)
			}

			var doc model.ErrorDocument
			if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if tt.wantTarget && doc.TargetURL != "http://localhost:3001/api/v1/aptos/vault" {
				t.Errorf("targetUrl = %q, want resolved target", doc.TargetURL)
			}
			if !tt.wantTarget && doc.TargetURL != "" {
				t.Errorf("targetUrl = %q, want empty in production", doc.TargetURL)
			}
		})
	}
}

func TestHandle_ForwardsOnlyAllowedHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "" {
			t.Errorf("Cookie must not reach upstream, got %q", r.Header.Get("Cookie"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", r.Header.Get("Authorization"), "Bearer tok")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/relayer/aptos/vault", http.NoBody)
	req.Header.Set("Cookie", "x=1")
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/vault")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandle_MirrorsUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, testConfig(upstream.URL))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/missing", http.NoBody)
	rec := httptest.NewRecorder()
	c := newContext(e, req, rec, "aptos/missing")

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d (mirrored from upstream)", rec.Code, http.StatusNotFound)
	}
}
