package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"relayer-proxy/internal/metrics"
)

func TestMetricsMiddleware_RecordsRequests(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/api/relayer/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/relayer/aptos/vault", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() != "relayer_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["method"] == "GET" && labels["status_code"] == "200" && labels["path_prefix"] == "/api/relayer" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected relayer_proxy_http_requests_total{GET,200,/api/relayer} to be recorded")
	}
}

func TestMetricsMiddleware_ErrorStatusFromHTTPError(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/boom", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() != "relayer_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "status_code" && l.GetValue() == "502" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected a 502 status_code label from the returned HTTPError")
	}
}
