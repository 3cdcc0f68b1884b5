// Package client provides the upstream HTTP client for the relayer service.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relayer-proxy/internal/config"
	"relayer-proxy/internal/metrics"
	"relayer-proxy/internal/model"
)

// RelayerClient sends requests to the upstream relayer service.
//
// The client itself carries no overall timeout: the per-request deadline is
// supplied through the context so that expiry surfaces as
// context.DeadlineExceeded and stays distinguishable from other failures.
type RelayerClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRelayerClient creates a RelayerClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewRelayerClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RelayerClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &RelayerClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "relayer_client"),
		metrics:    m,
	}
}

// Do executes a single request against the relayer and returns the raw response.
// The caller is responsible for closing the response body. The provided context
// controls the lifetime of the call: when it is canceled or its deadline
// expires, the in-flight request is aborted and its connection released.
func (c *RelayerClient) Do(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"method", method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	mlabel := metrics.NormalizeMethod(method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(mlabel).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(mlabel).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(mlabel, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
