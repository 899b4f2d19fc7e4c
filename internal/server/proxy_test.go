package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	apikeydomain "github.com/tollgate-ai/tollgate/internal/apikey/domain"
	appdomain "github.com/tollgate-ai/tollgate/internal/app/domain"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
	"github.com/tollgate-ai/tollgate/internal/config"
	"github.com/tollgate-ai/tollgate/internal/escrow"
	facilitatordomain "github.com/tollgate-ai/tollgate/internal/facilitator/domain"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
	ledgerdomain "github.com/tollgate-ai/tollgate/internal/ledger/domain"
	pricingdomain "github.com/tollgate-ai/tollgate/internal/pricing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSignerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeIdentityService struct {
	ext            identitydomain.Extraction
	resolution     *identitydomain.Resolution
	resolveErr     error
	authorizeErr   error
	resolveCalls   int
	authorizeCalls int
}

func (f *fakeIdentityService) ExtractIdentifier(path string) identitydomain.Extraction {
	return f.ext
}

func (f *fakeIdentityService) Resolve(ctx context.Context, ext identitydomain.Extraction) (*identitydomain.Resolution, error) {
	f.resolveCalls++
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.resolution, nil
}

func (f *fakeIdentityService) Authorize(caller callerctx.Caller, appID snowflake.ID) error {
	f.authorizeCalls++
	return f.authorizeErr
}

type fakeLedgerService struct {
	mu       sync.Mutex
	balance  ledgerdomain.Balance
	recorded []ledgerdomain.RecordTransactionRequest
	grants   []ledgerdomain.CreateGrantRequest
	metadata map[snowflake.ID]map[string]any

	recordErr error
	nextTxID  snowflake.ID
	totalCost decimal.Decimal
}

func newFakeLedgerService() *fakeLedgerService {
	return &fakeLedgerService{
		balance:   ledgerdomain.Balance{Balance: decimal.NewFromInt(10)},
		metadata:  make(map[snowflake.ID]map[string]any),
		nextTxID:  snowflake.ID(9001),
		totalCost: decimal.RequireFromString("0.02"),
	}
}

func (f *fakeLedgerService) CreateGrant(ctx context.Context, req ledgerdomain.CreateGrantRequest) (*ledgerdomain.CreditGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, req)
	return &ledgerdomain.CreditGrant{ID: snowflake.ID(len(f.grants))}, nil
}

func (f *fakeLedgerService) GetBalance(ctx context.Context, userID snowflake.ID, opts ledgerdomain.BalanceOptions) (*ledgerdomain.Balance, error) {
	balance := f.balance
	return &balance, nil
}

func (f *fakeLedgerService) RecordTransaction(ctx context.Context, req ledgerdomain.RecordTransactionRequest) (*ledgerdomain.RecordTransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.recorded = append(f.recorded, req)
	return &ledgerdomain.RecordTransactionResult{
		Transaction: &ledgerdomain.Transaction{ID: f.nextTxID},
		TotalCost:   f.totalCost,
	}, nil
}

func (f *fakeLedgerService) ExpireGrants(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeLedgerService) AttachEscrowMetadata(ctx context.Context, transactionID snowflake.ID, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[transactionID] = metadata
	return nil
}

type fakePricingService struct {
	price     *pricingdomain.ModelPrice
	lookupErr error
}

func (f *fakePricingService) Lookup(ctx context.Context, appID snowflake.ID, model string) (*pricingdomain.ModelPrice, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.price, nil
}

func (f *fakePricingService) Upsert(ctx context.Context, price *pricingdomain.ModelPrice) error {
	return nil
}

type fakeAppService struct {
	resp   *appdomain.Response
	markup *appdomain.MarkupConfig
}

func (f *fakeAppService) Create(ctx context.Context, req appdomain.CreateRequest) (*appdomain.Response, error) {
	return f.resp, nil
}

func (f *fakeAppService) Get(ctx context.Context, id snowflake.ID) (*appdomain.Response, error) {
	if f.resp == nil {
		return nil, appdomain.ErrNotFound
	}
	return f.resp, nil
}

func (f *fakeAppService) UpdateMarkupRate(ctx context.Context, id snowflake.ID, rate decimal.Decimal) (*appdomain.Response, error) {
	return f.resp, nil
}

func (f *fakeAppService) Archive(ctx context.Context, id snowflake.ID) error {
	return nil
}

func (f *fakeAppService) CurrentMarkup(ctx context.Context, id snowflake.ID) (*appdomain.MarkupConfig, error) {
	if f.markup == nil {
		return nil, appdomain.ErrNotFound
	}
	return f.markup, nil
}

type fakeAPIKeyService struct {
	key     *apikeydomain.APIKey
	authErr error
}

func (f *fakeAPIKeyService) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	return nil, nil
}

func (f *fakeAPIKeyService) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	return nil, nil
}

func (f *fakeAPIKeyService) Revoke(ctx context.Context, userID snowflake.ID, keyID string) error {
	return nil
}

func (f *fakeAPIKeyService) Authenticate(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.key, nil
}

func (f *fakeAPIKeyService) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return nil
}

type fakeFacilitatorClient struct {
	verify      *facilitatordomain.VerifyResponse
	verifyErr   error
	settle      *facilitatordomain.SettleResponse
	settleErr   error
	settleCalls int
}

func (f *fakeFacilitatorClient) Verify(ctx context.Context, payload facilitatordomain.PaymentPayload, requirements facilitatordomain.PaymentRequirements) (*facilitatordomain.VerifyResponse, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verify, nil
}

func (f *fakeFacilitatorClient) Settle(ctx context.Context, payload facilitatordomain.PaymentPayload, requirements facilitatordomain.PaymentRequirements) (*facilitatordomain.SettleResponse, error) {
	f.settleCalls++
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return f.settle, nil
}

type fakeUpstream struct {
	resp    *UpstreamResponse
	err     error
	base    string
	lastReq UpstreamRequest
}

func (f *fakeUpstream) Do(ctx context.Context, req UpstreamRequest) (*UpstreamResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeUpstream) BaseURL() string {
	if f.base != "" {
		return f.base
	}
	return "http://upstream.test"
}

type proxyFixture struct {
	srv         *Server
	router      *gin.Engine
	identity    *fakeIdentityService
	ledger      *fakeLedgerService
	pricing     *fakePricingService
	app         *fakeAppService
	apiKeys     *fakeAPIKeyService
	facilitator *fakeFacilitatorClient
	upstream    *fakeUpstream
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := escrow.NewSigner(testSignerKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	appID := snowflake.ID(700)
	fixture := &proxyFixture{
		identity: &fakeIdentityService{
			ext: identitydomain.Extraction{
				Type:          identitydomain.IdentifierRepoSlug,
				Owner:         "octocat",
				Repo:          "hello-world",
				RemainingPath: "/v1/chat/completions",
			},
			resolution: &identitydomain.Resolution{ApplicationID: appID},
		},
		ledger: newFakeLedgerService(),
		pricing: &fakePricingService{price: &pricingdomain.ModelPrice{
			Model:               "gpt-4o-mini",
			Provider:            "openai",
			InputPricePerToken:  decimal.RequireFromString("0.00000015"),
			OutputPricePerToken: decimal.RequireFromString("0.0000006"),
		}},
		app: &fakeAppService{
			resp:   &appdomain.Response{ID: appID.String(), OwnerID: snowflake.ID(55)},
			markup: &appdomain.MarkupConfig{Rate: decimal.RequireFromString("1.5")},
		},
		apiKeys: &fakeAPIKeyService{key: &apikeydomain.APIKey{
			ID:            snowflake.ID(31),
			UserID:        snowflake.ID(21),
			ApplicationID: appID,
			KeyID:         "key_test",
		}},
		facilitator: &fakeFacilitatorClient{
			verify: &facilitatordomain.VerifyResponse{IsValid: true, Payer: "0xpayer"},
			settle: &facilitatordomain.SettleResponse{Success: true, Transaction: "0xsettle", Payer: "0xpayer"},
		},
		upstream: &fakeUpstream{resp: &UpstreamResponse{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"id":"cmpl-1","usage":{"prompt_tokens":120,"completion_tokens":80,"total_tokens":200}}`),
		}},
	}

	fixture.srv = &Server{
		cfg: config.Config{
			Escrow: config.EscrowConfig{Network: "base", Asset: "0xusdc"},
		},
		log:            zap.NewNop(),
		genID:          mustNode(t),
		apiKeySvc:      fixture.apiKeys,
		appSvc:         fixture.app,
		pricingSvc:     fixture.pricing,
		ledgerSvc:      fixture.ledger,
		identitySvc:    fixture.identity,
		facilitatorCli: fixture.facilitator,
		signer:         signer,
		upstream:       fixture.upstream,
	}

	fixture.router = gin.New()
	fixture.router.Use(ErrorHandlingMiddleware())
	fixture.router.NoRoute(fixture.srv.ProxyAuth(), fixture.srv.ProxyRateLimit(), fixture.srv.Proxy)
	return fixture
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}
	return node
}

func proxyRequest(body string, header map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/octocat/hello-world/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for name, value := range header {
		req.Header.Set(name, value)
	}
	return req
}

func TestProxyLedgerFundedRecordsTransaction(t *testing.T) {
	fixture := newProxyFixture(t)

	req := proxyRequest(`{"model":"gpt-4o-mini","messages":[]}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if fixture.identity.resolveCalls != 1 {
		t.Fatalf("expected one identity resolution, got %d", fixture.identity.resolveCalls)
	}
	if fixture.upstream.lastReq.Path != "/v1/chat/completions" {
		t.Fatalf("expected identifier stripped from upstream path, got %q", fixture.upstream.lastReq.Path)
	}

	if len(fixture.ledger.recorded) != 1 {
		t.Fatalf("expected one recorded transaction, got %d", len(fixture.ledger.recorded))
	}
	recorded := fixture.ledger.recorded[0]
	if recorded.UserID != snowflake.ID(21) {
		t.Fatalf("expected transaction billed to credential user, got %s", recorded.UserID)
	}
	if recorded.ApplicationID != snowflake.ID(700) {
		t.Fatalf("unexpected application %s", recorded.ApplicationID)
	}
	if recorded.InputTokens != 120 || recorded.OutputTokens != 80 || recorded.TotalTokens != 200 {
		t.Fatalf("unexpected token counts: %+v", recorded)
	}
	if recorded.Provider != "openai" {
		t.Fatalf("expected provider from price list, got %q", recorded.Provider)
	}
	if recorded.CredentialID == nil || *recorded.CredentialID != snowflake.ID(31) {
		t.Fatalf("expected credential linkage, got %v", recorded.CredentialID)
	}
}

func TestProxyInsufficientBalanceReturns402(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.ledger.balance = ledgerdomain.Balance{Balance: decimal.Zero}

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", resp.Code)
	}
	if len(fixture.ledger.recorded) != 0 {
		t.Fatal("expected no transaction for refused call")
	}
	if fixture.upstream.lastReq.Path != "" {
		t.Fatal("expected no upstream call for refused call")
	}
}

func TestProxyUnpricedModelRefused(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.pricing.lookupErr = pricingdomain.ErrNotFound

	req := proxyRequest(`{"model":"mystery-model"}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if fixture.upstream.lastReq.Path != "" {
		t.Fatal("expected no upstream call for unpriced model")
	}
}

func TestProxyMissingModelRejected(t *testing.T) {
	fixture := newProxyFixture(t)

	req := proxyRequest(`{"messages":[]}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestProxyWithoutCredentialReturnsPaymentOffer(t *testing.T) {
	fixture := newProxyFixture(t)

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, nil)
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", resp.Code)
	}

	var offer escrow.PaymentRequiredResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.X402Version != facilitatordomain.X402Version {
		t.Fatalf("unexpected x402 version %d", offer.X402Version)
	}
	if len(offer.Accepts) != 1 {
		t.Fatalf("expected one payment requirement, got %d", len(offer.Accepts))
	}
	requirement := offer.Accepts[0]
	if requirement.Scheme != "exact" || requirement.Network != "base" || requirement.Asset != "0xusdc" {
		t.Fatalf("unexpected requirement: %+v", requirement)
	}
	if requirement.PayTo == "" {
		t.Fatal("expected pay-to address from funding signer")
	}
	if requirement.MaxAmountRequired == "" {
		t.Fatal("expected priced quote")
	}
}

func TestProxyPayPerCallSettlesAndBooksOwner(t *testing.T) {
	fixture := newProxyFixture(t)

	header, err := escrow.EncodePaymentHeader(facilitatordomain.PaymentPayload{
		X402Version: facilitatordomain.X402Version,
		Scheme:      "exact",
		Network:     "base",
		Payload:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("EncodePaymentHeader: %v", err)
	}

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		escrow.PaymentHeader: header,
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if fixture.facilitator.settleCalls != 1 {
		t.Fatalf("expected one settlement, got %d", fixture.facilitator.settleCalls)
	}

	if len(fixture.ledger.recorded) != 1 {
		t.Fatalf("expected one recorded transaction, got %d", len(fixture.ledger.recorded))
	}
	if fixture.ledger.recorded[0].UserID != snowflake.ID(55) {
		t.Fatalf("expected transaction booked to owner, got %s", fixture.ledger.recorded[0].UserID)
	}

	if len(fixture.ledger.grants) != 1 {
		t.Fatalf("expected offsetting payment credit, got %d grants", len(fixture.ledger.grants))
	}
	grant := fixture.ledger.grants[0]
	if grant.Type != ledgerdomain.GrantTypeCredit || grant.Source != ledgerdomain.SourcePayment {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if !grant.Amount.Equal(fixture.ledger.totalCost) {
		t.Fatalf("expected credit matching debit cost, got %s", grant.Amount)
	}

	metadata, ok := fixture.ledger.metadata[fixture.ledger.nextTxID]
	if !ok {
		t.Fatal("expected settlement metadata attached to transaction")
	}
	if metadata["settle_transaction"] != "0xsettle" {
		t.Fatalf("unexpected metadata: %+v", metadata)
	}
}

func TestProxyPayPerCallInvalidPaymentReturnsOffer(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.facilitator.verify = &facilitatordomain.VerifyResponse{
		IsValid:       false,
		InvalidReason: "insufficient_funds",
	}

	header, err := escrow.EncodePaymentHeader(facilitatordomain.PaymentPayload{
		X402Version: facilitatordomain.X402Version,
		Scheme:      "exact",
		Network:     "base",
		Payload:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("EncodePaymentHeader: %v", err)
	}

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		escrow.PaymentHeader: header,
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", resp.Code)
	}
	if fixture.upstream.lastReq.Path != "" {
		t.Fatal("expected no upstream call for rejected payment")
	}

	var offer escrow.PaymentRequiredResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.Error != "insufficient_funds" {
		t.Fatalf("expected verifier reason surfaced, got %q", offer.Error)
	}
}

func TestProxyMalformedPaymentHeaderRejected(t *testing.T) {
	fixture := newProxyFixture(t)

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		escrow.PaymentHeader: "not-base64!",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestProxyForbiddenForForeignApplication(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.identity.authorizeErr = identitydomain.ErrForbidden

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

// enableEscrow points the fixture at a live test upstream and wires a
// real orchestrator, so 402 answers trigger the escrow retry.
func (f *proxyFixture) enableEscrow(t *testing.T, upstreamURL string) {
	t.Helper()
	f.upstream.base = upstreamURL
	f.upstream.resp = &UpstreamResponse{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"x402Version":1,"accepts":[]}`),
	}
	orch, err := escrow.New(escrow.Params{
		Log:    zap.NewNop(),
		Config: f.srv.cfg,
		Signer: f.srv.signer,
	})
	if err != nil {
		t.Fatalf("escrow orchestrator: %v", err)
	}
	f.srv.escrowOrch = orch
}

// escrowUpstream answers unpaid calls with an x402 offer and paid calls
// with the given final response.
func escrowUpstream(t *testing.T, finalStatus int, finalBody string) *httptest.Server {
	t.Helper()
	requirement := facilitatordomain.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Asset:             "0xusdc",
		MaxTimeoutSeconds: 60,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(escrow.PaymentHeader) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(escrow.PaymentRequiredResponse{
				X402Version: facilitatordomain.X402Version,
				Accepts:     []facilitatordomain.PaymentRequirements{requirement},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(finalStatus)
		_, _ = w.Write([]byte(finalBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProxyEscrowFundedCallPersistsSettlementMetadata(t *testing.T) {
	fixture := newProxyFixture(t)
	upstream := escrowUpstream(t, http.StatusOK,
		`{"id":"cmpl-2","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	fixture.enableEscrow(t, upstream.URL)

	req := proxyRequest(`{"model":"gpt-4o-mini","messages":[]}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(fixture.ledger.recorded) != 1 {
		t.Fatalf("expected one recorded transaction, got %d", len(fixture.ledger.recorded))
	}
	recorded := fixture.ledger.recorded[0]
	if recorded.Status == ledgerdomain.TransactionStatusFailed {
		t.Fatal("expected settled call billed as completed")
	}
	if recorded.InputTokens != 10 || recorded.OutputTokens != 5 || recorded.TotalTokens != 15 {
		t.Fatalf("unexpected token counts: %+v", recorded)
	}

	metadata, ok := fixture.ledger.metadata[fixture.ledger.nextTxID]
	if !ok {
		t.Fatal("expected settlement metadata persisted on the transaction")
	}
	if metadata["state"] != "payment_submitted" {
		t.Fatalf("expected payment_submitted state, got %v", metadata["state"])
	}
	if metadata["funded_by"] != "escrow" {
		t.Fatalf("expected escrow funding marker, got %v", metadata["funded_by"])
	}
	if metadata["network"] != "base" || metadata["pay_to"] == "" || metadata["amount"] == "" {
		t.Fatalf("expected full settlement detail, got %+v", metadata)
	}
	if _, ok := metadata["response"]; !ok {
		t.Fatalf("expected upstream response captured, got %+v", metadata)
	}
}

func TestProxyEscrowFailureRecordsFailedTransaction(t *testing.T) {
	fixture := newProxyFixture(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)
	fixture.enableEscrow(t, upstream.URL)

	req := proxyRequest(`{"model":"gpt-4o-mini","messages":[]}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d: %s", resp.Code, resp.Body.String())
	}

	if len(fixture.ledger.recorded) != 1 {
		t.Fatalf("expected failed transaction recorded, got %d", len(fixture.ledger.recorded))
	}
	recorded := fixture.ledger.recorded[0]
	if recorded.Status != ledgerdomain.TransactionStatusFailed {
		t.Fatalf("expected failed status, got %q", recorded.Status)
	}
	if recorded.ErrorMessage == nil || *recorded.ErrorMessage == "" {
		t.Fatal("expected settlement error message on the transaction")
	}
	if recorded.UserID != snowflake.ID(21) {
		t.Fatalf("expected failure attributed to caller, got %s", recorded.UserID)
	}

	metadata, ok := fixture.ledger.metadata[fixture.ledger.nextTxID]
	if !ok {
		t.Fatal("expected failure metadata persisted on the transaction")
	}
	if metadata["state"] != "price_discovery_failed" {
		t.Fatalf("expected price_discovery_failed state, got %v", metadata["state"])
	}
}

func TestProxyEscrowRejectedCallStaysAuditable(t *testing.T) {
	fixture := newProxyFixture(t)
	upstream := escrowUpstream(t, http.StatusBadGateway, `{"error":"overloaded"}`)
	fixture.enableEscrow(t, upstream.URL)

	req := proxyRequest(`{"model":"gpt-4o-mini","messages":[]}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream status passed through, got %d", resp.Code)
	}

	if len(fixture.ledger.recorded) != 1 {
		t.Fatalf("expected failed transaction recorded, got %d", len(fixture.ledger.recorded))
	}
	if fixture.ledger.recorded[0].Status != ledgerdomain.TransactionStatusFailed {
		t.Fatalf("expected failed status, got %q", fixture.ledger.recorded[0].Status)
	}

	metadata, ok := fixture.ledger.metadata[fixture.ledger.nextTxID]
	if !ok {
		t.Fatal("expected settlement metadata persisted despite rejection")
	}
	if metadata["state"] != "payment_submitted" {
		t.Fatalf("expected payment_submitted state, got %v", metadata["state"])
	}
	if metadata["status_code"] != http.StatusBadGateway {
		t.Fatalf("expected rejection status recorded, got %v", metadata["status_code"])
	}
}

func TestProxyAuthorizeRunsForZeroApplicationCredential(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.apiKeys.key.ApplicationID = 0
	fixture.identity.authorizeErr = identitydomain.ErrForbidden

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	if fixture.identity.authorizeCalls != 1 {
		t.Fatalf("expected authorization checked once, got %d", fixture.identity.authorizeCalls)
	}
	if fixture.upstream.lastReq.Path != "" {
		t.Fatal("expected no upstream call for unauthorized credential")
	}
}

func TestProxyUnknownIdentifierReturns404(t *testing.T) {
	fixture := newProxyFixture(t)
	fixture.identity.resolveErr = identitydomain.ErrRepoNotFound

	req := proxyRequest(`{"model":"gpt-4o-mini"}`, map[string]string{
		"Authorization": "Bearer tg_live_key_abc",
	})
	resp := httptest.NewRecorder()
	fixture.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
