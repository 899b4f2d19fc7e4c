package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tollgate-ai/tollgate/internal/config"
)

// UpstreamRequest is one forwarded provider call. The body is held as
// bytes so the call can be retried with a payment attached.
type UpstreamRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// UpstreamResponse is a fully read provider response.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Upstream forwards proxied calls to the model provider endpoint.
type Upstream interface {
	Do(ctx context.Context, req UpstreamRequest) (*UpstreamResponse, error)
	BaseURL() string
}

type httpUpstream struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewUpstream(cfg config.Config) Upstream {
	timeout := cfg.Upstream.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpUpstream{
		baseURL: strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		apiKey:  cfg.Upstream.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (u *httpUpstream) BaseURL() string { return u.baseURL }

func (u *httpUpstream) Do(ctx context.Context, req UpstreamRequest) (*UpstreamResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.baseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	copyForwardHeaders(httpReq.Header, req.Header)
	if u.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// copyForwardHeaders forwards content negotiation headers only. Caller
// credentials must never leak to the provider.
func copyForwardHeaders(dst, src http.Header) {
	for _, name := range []string{"Content-Type", "Accept"} {
		if value := src.Get(name); value != "" {
			dst.Set(name, value)
		}
	}
}
