// Package service implements the ordered-failover facilitator client.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tollgate-ai/tollgate/internal/config"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"github.com/tollgate-ai/tollgate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultAttemptTimeout = 10 * time.Second

type requestBody struct {
	X402Version         int                                    `json:"x402Version"`
	PaymentPayload      facilitatordomain.PaymentPayload       `json:"paymentPayload"`
	PaymentRequirements facilitatordomain.PaymentRequirements `json:"paymentRequirements"`
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Backends []facilitatordomain.Facilitator
	Metrics  *metrics.Metrics `optional:"true"`
}

type Client struct {
	log            *zap.Logger
	backends       []facilitatordomain.Facilitator
	attemptTimeout time.Duration
	http           *http.Client
	metrics        *metrics.Metrics
}

func New(p Params) facilitatordomain.Client {
	timeout := p.Config.Facilitator.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	return &Client{
		log:            p.Log.Named("facilitator.client"),
		backends:       p.Backends,
		attemptTimeout: timeout,
		http:           &http.Client{},
		metrics:        p.Metrics,
	}
}

func (c *Client) Verify(ctx context.Context, payload facilitatordomain.PaymentPayload, requirements facilitatordomain.PaymentRequirements) (*facilitatordomain.VerifyResponse, error) {
	raw, err := c.attempt(ctx, "verify", payload, requirements)
	if err != nil {
		return nil, err
	}
	var resp facilitatordomain.VerifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Settle(ctx context.Context, payload facilitatordomain.PaymentPayload, requirements facilitatordomain.PaymentRequirements) (*facilitatordomain.SettleResponse, error) {
	raw, err := c.attempt(ctx, "settle", payload, requirements)
	if err != nil {
		return nil, err
	}
	var resp facilitatordomain.SettleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// attempt walks the configured backends in order and returns the first
// successful response body. Attempts are strictly sequential; a backend is
// never retried, so worst-case latency is bounded at N backends times the
// attempt timeout.
func (c *Client) attempt(ctx context.Context, operation string, payload facilitatordomain.PaymentPayload, requirements facilitatordomain.PaymentRequirements) ([]byte, error) {
	if len(c.backends) == 0 {
		return nil, facilitatordomain.ErrNoBackends
	}

	if payload.X402Version == 0 {
		payload.X402Version = facilitatordomain.X402Version
	}
	body, err := json.Marshal(requestBody{
		X402Version:         facilitatordomain.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return nil, err
	}

	failures := make([]facilitatordomain.BackendFailure, 0, len(c.backends))
	for _, backend := range c.backends {
		raw, reason := c.tryBackend(ctx, backend, operation, body)
		if reason == "" {
			return raw, nil
		}

		failures = append(failures, facilitatordomain.BackendFailure{Backend: backend.Name, Reason: reason})
		c.metrics.RecordFacilitatorFailure(ctx, backend.Name, operation, classify(reason))
		c.log.Warn("facilitator backend failed",
			zap.String("backend", backend.Name),
			zap.String("operation", operation),
			zap.String("reason", reason),
		)
	}

	return nil, &facilitatordomain.ExhaustedError{Operation: operation, Failures: failures}
}

// tryBackend runs one bounded attempt. An empty reason means success.
func (c *Client) tryBackend(ctx context.Context, backend facilitatordomain.Facilitator, operation string, body []byte) ([]byte, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	requestURL := strings.TrimRight(backend.BaseURL, "/") + "/" + operation
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Sprintf("request build failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if backend.AuthHeaders != nil {
		headers, err := backend.AuthHeaders(attemptCtx, http.MethodPost, requestURL)
		if err != nil {
			return nil, fmt.Sprintf("auth token generation failed: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Sprintf("timeout after %s", c.attemptTimeout)
		}
		return nil, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Sprintf("response read failed: %v", err)
	}
	raw := buf.Bytes()
	if !json.Valid(raw) {
		return nil, "response parse failed: invalid json"
	}
	return raw, ""
}

// classify collapses a failure reason to a bounded metric label.
func classify(reason string) string {
	switch {
	case strings.HasPrefix(reason, "timeout"):
		return "timeout"
	case strings.HasPrefix(reason, "unexpected status"):
		return "bad_status"
	case strings.HasPrefix(reason, "response parse") || strings.HasPrefix(reason, "response read"):
		return "bad_response"
	case strings.HasPrefix(reason, "auth token"):
		return "auth_error"
	default:
		return "request_error"
	}
}
