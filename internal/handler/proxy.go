package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"relayer-proxy/internal/config"
	"relayer-proxy/internal/model"
	"relayer-proxy/internal/service"
)

// unreachableFragments are well-known substrings of connection-level failures.
// url.Error wraps dialer failures opaquely, so classification falls back to
// matching the error text when the error chain carries no *net.OpError.
var unreachableFragments = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
}

// ProxyHandler forwards API requests to the relayer service.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the relayer and writes the re-encoded
// response. All four verbs share this handler; only the method differs.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return h.writeError(c, c.Param("*"), req.URL.Query(), err)
	}

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   c.Param("*"),
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   body,
	}

	res, err := h.service.Forward(pr)
	if err != nil {
		return h.writeError(c, pr.Path, pr.Query, err)
	}

	for key, vals := range res.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	return c.JSONBlob(res.StatusCode, res.Body)
}

// writeError converts any forwarding failure into the fixed-shape error
// document with status 502. The resolved target URL is attached only outside
// production.
func (h *ProxyHandler) writeError(c echo.Context, path string, query url.Values, err error) error {
	doc := model.ErrorDocument{Success: false}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		doc.Error = "Relayer request timed out"
		doc.Details = "The relayer service did not respond within 30 seconds"
	case isUnreachable(err):
		doc.Error = "Cannot reach relayer service"
		doc.Details = err.Error()
	default:
		doc.Error = "Relayer request failed"
		doc.Details = err.Error()
	}

	if !h.cfg.IsProduction() {
		doc.TargetURL = h.service.Target(path, query)
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", path,
		"summary", doc.Error,
	)

	return c.JSON(http.StatusBadGateway, doc)
}

// isUnreachable reports whether err is a connection-level failure, as opposed
// to a timeout or a protocol-level error.
func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	msg := err.Error()
	for _, fragment := range unreachableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
