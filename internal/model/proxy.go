// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded to the relayer.
// Path is the wildcard remainder after /api/relayer/, with no leading slash.
// Body holds the raw inbound bytes; the service decides how to encode them.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// UpstreamResponse is the raw relayer response before re-encoding.
// The holder is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResult is the fully re-encoded response returned to the client.
// Body is always a JSON document.
type ProxyResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrorDocument is the fixed-shape error payload returned with status 502
// whenever forwarding fails. TargetURL is only populated outside production.
type ErrorDocument struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Details   string `json:"details"`
	TargetURL string `json:"targetUrl,omitempty"`
}
