package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tollgate-ai/tollgate/internal/config"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, backends []facilitatordomain.Facilitator, timeout time.Duration) *Client {
	t.Helper()
	cfg := config.Config{}
	cfg.Facilitator.AttemptTimeout = timeout
	return New(Params{
		Log:      zap.NewNop(),
		Config:   cfg,
		Backends: backends,
	}).(*Client)
}

func failingServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func settlingServer(t *testing.T, resp facilitatordomain.SettleResponse, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/settle" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			X402Version         int                                   `json:"x402Version"`
			PaymentPayload      facilitatordomain.PaymentPayload      `json:"paymentPayload"`
			PaymentRequirements facilitatordomain.PaymentRequirements `json:"paymentRequirements"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.X402Version != facilitatordomain.X402Version {
			http.Error(w, "bad version", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testPayment() (facilitatordomain.PaymentPayload, facilitatordomain.PaymentRequirements) {
	payload := facilitatordomain.PaymentPayload{
		Scheme:  "exact",
		Network: "base",
		Payload: json.RawMessage(`{"signature":"0xabc"}`),
	}
	requirements := facilitatordomain.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "10000",
		Resource:          "https://gateway.example/v1/chat",
		PayTo:             "0xpayee",
		Asset:             "0xusdc",
	}
	return payload, requirements
}

func TestSettleFailoverReturnsThirdBackend(t *testing.T) {
	var firstHits, secondHits, thirdHits atomic.Int32
	first := failingServer(t, http.StatusInternalServerError, &firstHits)
	second := failingServer(t, http.StatusInternalServerError, &secondHits)
	third := settlingServer(t, facilitatordomain.SettleResponse{
		Success:     true,
		Transaction: "0xdeadbeef",
		Network:     "base",
	}, &thirdHits)

	client := newTestClient(t, []facilitatordomain.Facilitator{
		{Name: "cdp", BaseURL: first.URL},
		{Name: "x402rs", BaseURL: second.URL},
		{Name: "payai", BaseURL: third.URL},
	}, time.Second)

	payload, requirements := testPayment()
	resp, err := client.Settle(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !resp.Success || resp.Transaction != "0xdeadbeef" {
		t.Fatalf("expected third backend payload, got %+v", resp)
	}
	if firstHits.Load() != 1 || secondHits.Load() != 1 || thirdHits.Load() != 1 {
		t.Fatalf("expected one attempt per backend, got %d/%d/%d",
			firstHits.Load(), secondHits.Load(), thirdHits.Load())
	}
}

func TestSettleAllBackendsFailEnumeratesEveryBackend(t *testing.T) {
	first := failingServer(t, http.StatusInternalServerError, nil)
	second := failingServer(t, http.StatusBadGateway, nil)
	third := failingServer(t, http.StatusServiceUnavailable, nil)

	client := newTestClient(t, []facilitatordomain.Facilitator{
		{Name: "cdp", BaseURL: first.URL},
		{Name: "x402rs", BaseURL: second.URL},
		{Name: "payai", BaseURL: third.URL},
	}, time.Second)

	payload, requirements := testPayment()
	_, err := client.Settle(context.Background(), payload, requirements)
	if err == nil {
		t.Fatal("expected error when all backends fail")
	}

	var exhausted *facilitatordomain.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T", err)
	}
	if len(exhausted.Failures) != 3 {
		t.Fatalf("expected 3 failures, got %d", len(exhausted.Failures))
	}
	msg := err.Error()
	for _, name := range []string{"cdp", "x402rs", "payai"} {
		if !strings.Contains(msg, name) {
			t.Fatalf("error message missing backend %q: %s", name, msg)
		}
	}
}

func TestVerifyFirstSuccessShortCircuits(t *testing.T) {
	var secondHits atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(facilitatordomain.VerifyResponse{IsValid: true, Payer: "0xpayer"})
	}))
	t.Cleanup(first.Close)
	second := failingServer(t, http.StatusInternalServerError, &secondHits)

	client := newTestClient(t, []facilitatordomain.Facilitator{
		{Name: "cdp", BaseURL: first.URL},
		{Name: "x402rs", BaseURL: second.URL},
	}, time.Second)

	payload, requirements := testPayment()
	resp, err := client.Verify(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !resp.IsValid || resp.Payer != "0xpayer" {
		t.Fatalf("unexpected verify response %+v", resp)
	}
	if secondHits.Load() != 0 {
		t.Fatalf("expected no attempt past first success, got %d", secondHits.Load())
	}
}

func TestAttemptTimeoutAdvancesToNextBackend(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)
	fast := settlingServer(t, facilitatordomain.SettleResponse{Success: true}, nil)

	client := newTestClient(t, []facilitatordomain.Facilitator{
		{Name: "cdp", BaseURL: slow.URL},
		{Name: "x402rs", BaseURL: fast.URL},
	}, 50*time.Millisecond)

	payload, requirements := testPayment()
	resp, err := client.Settle(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected fallback success, got %+v", resp)
	}
}

func TestAuthFailureCountsAsBackendFailure(t *testing.T) {
	fast := settlingServer(t, facilitatordomain.SettleResponse{Success: true}, nil)

	client := newTestClient(t, []facilitatordomain.Facilitator{
		{
			Name:    "cdp",
			BaseURL: fast.URL,
			AuthHeaders: func(ctx context.Context, method, requestURL string) (map[string]string, error) {
				return nil, context.DeadlineExceeded
			},
		},
		{Name: "x402rs", BaseURL: fast.URL},
	}, time.Second)

	payload, requirements := testPayment()
	resp, err := client.Settle(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected fallback success after auth failure, got %+v", resp)
	}
}

func TestNoBackendsConfigured(t *testing.T) {
	client := newTestClient(t, nil, time.Second)
	payload, requirements := testPayment()
	if _, err := client.Settle(context.Background(), payload, requirements); err != facilitatordomain.ErrNoBackends {
		t.Fatalf("expected ErrNoBackends, got %v", err)
	}
}
