// Package service implements the core forwarding logic for the relayer proxy.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relayer-proxy/internal/client"
	"relayer-proxy/internal/config"
	"relayer-proxy/internal/model"
)

// versionPrefix is the API version segment the relayer expects once, and only
// once, at the front of every path.
const versionPrefix = "api/v1"

// forwardableRequestHeaders are the only request headers forwarded to the relayer.
var forwardableRequestHeaders = []string{
	"Content-Type",
	"Accept",
	"X-Api-Key",
	"Authorization",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type": true,
	"X-Request-Id": true,
}

// bodyMethods are the methods that may carry a request body upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

const userAgent = "relayer-proxy/1.0"

// ProxyService forwards proxy requests to the relayer and re-encodes the result.
type ProxyService struct {
	client  *client.RelayerClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
	timeout time.Duration
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.RelayerClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
		timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}, nil
}

// Forward sends a ProxyRequest to the relayer and returns the re-encoded
// result. Exactly one upstream call is made per invocation; the call is
// bounded by the configured deadline and canceled on every exit path.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResult, error) {
	ctx, cancel := context.WithTimeout(pr.Ctx, s.timeout)
	defer cancel()

	target := s.Target(pr.Path, pr.Query)
	header := s.filterRequestHeaders(pr.Header)
	body := encodeRequestBody(pr.Method, pr.Header.Get("Content-Type"), pr.Body)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	resp, err := s.client.Do(ctx, pr.Method, target, header, reader)
	if err != nil {
		return nil, fmt.Errorf("forward to relayer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read relayer response: %w", err)
	}

	return &model.ProxyResult{
		StatusCode: resp.StatusCode,
		Header:     s.filterResponseHeaders(resp.Header),
		Body:       encodeResponseBody(resp.Header.Get("Content-Type"), raw),
	}, nil
}

// Target returns the fully resolved relayer URL for the given inbound path and
// query. It is exposed so the handler can include it in debug error documents.
func (s *ProxyService) Target(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + versionPrefix + "/" + NormalizePath(path)

	// Last value wins on duplicate query keys.
	q := make(url.Values, len(query))
	for k, vals := range query {
		if len(vals) > 0 {
			q.Set(k, vals[len(vals)-1])
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// NormalizePath strips any redundant version prefix from a caller-supplied
// path so the outbound URL never contains a doubled api/v1 segment. The prefix
// is removed until absent, which makes the function idempotent.
func NormalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	for {
		switch {
		case strings.HasPrefix(p, versionPrefix+"/"):
			p = p[len(versionPrefix)+1:]
		case strings.HasPrefix(p, versionPrefix):
			p = p[len(versionPrefix):]
		default:
			return p
		}
	}
}

// encodeRequestBody prepares the outbound body. JSON bodies are parsed and
// re-serialized; a malformed JSON body is treated as legitimately empty, not
// as an error. Any other content type is forwarded as-is. Methods outside
// POST/PUT/PATCH never carry a body.
func encodeRequestBody(method, contentType string, raw []byte) []byte {
	if !bodyMethods[method] || len(raw) == 0 {
		return nil
	}
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return raw
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return out
}

// encodeResponseBody re-encodes the relayer body as a JSON document. A JSON
// body passes through verbatim; anything else, including a body that fails to
// parse despite a JSON content type, is wrapped as {"data":"<text>"}.
func encodeResponseBody(contentType string, raw []byte) []byte {
	if strings.Contains(strings.ToLower(contentType), "application/json") && json.Valid(raw) {
		return raw
	}

	wrapped, _ := json.Marshal(map[string]string{"data": string(raw)})
	return wrapped
}

func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}
