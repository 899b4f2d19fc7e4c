package escrow

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	signer, err := NewSigner(testFundingKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	addr := signer.Address()
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		t.Fatalf("unexpected address %q", addr)
	}

	prefixed, err := NewSigner("0x" + testFundingKey)
	if err != nil {
		t.Fatalf("signer with 0x prefix: %v", err)
	}
	if prefixed.Address() != addr {
		t.Fatalf("0x prefix changed address: %s vs %s", prefixed.Address(), addr)
	}
}

func TestNewSignerRejectsBadKeys(t *testing.T) {
	if _, err := NewSigner("nothex"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	if _, err := NewSigner("abcd"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestSignPaymentProducesDecodableHeader(t *testing.T) {
	signer, err := NewSigner(testFundingKey)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	requirement := testRequirement("https://upstream.example/v1/chat")
	payload, err := signer.SignPayment(requirement, time.Now().UTC())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if payload.Scheme != "exact" || payload.Network != "base" {
		t.Fatalf("payload did not echo requirement: %+v", payload)
	}

	header, err := EncodePaymentHeader(payload)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}

	var decoded struct {
		X402Version int `json:"x402Version"`
		Payload     struct {
			Signature     string `json:"signature"`
			Authorization struct {
				From  string `json:"from"`
				To    string `json:"to"`
				Value string `json:"value"`
			} `json:"authorization"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if decoded.X402Version != 1 {
		t.Fatalf("expected x402Version 1, got %d", decoded.X402Version)
	}
	if decoded.Payload.Authorization.From != signer.Address() {
		t.Fatalf("from = %s, want funding address %s", decoded.Payload.Authorization.From, signer.Address())
	}
	if decoded.Payload.Authorization.To != requirement.PayTo {
		t.Fatalf("to = %s, want %s", decoded.Payload.Authorization.To, requirement.PayTo)
	}
	if decoded.Payload.Authorization.Value != requirement.MaxAmountRequired {
		t.Fatalf("value = %s, want %s", decoded.Payload.Authorization.Value, requirement.MaxAmountRequired)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(decoded.Payload.Signature, "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
}
