package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tollgate/gateway/internal/chains"
	"github.com/tollgate/gateway/internal/config"
	"github.com/tollgate/gateway/internal/credentials"
	"github.com/tollgate/gateway/internal/facilitator"
	"github.com/tollgate/gateway/internal/ledger"
	"github.com/tollgate/gateway/internal/paywall"
	"github.com/tollgate/gateway/internal/services"
	"github.com/tollgate/gateway/internal/upstream"
	"github.com/tollgate/gateway/pkg/x402"
)

const (
	testBaseURL      = "https://gateway.test"
	testEVMRecipient = "0x9999999999999999999999999999999999999999"
	testSolRecipient = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	testFeePayer     = "FeePayer1111111111111111111111111111111111"
	testPayer        = "0x2222222222222222222222222222222222222222"
	testTxHash       = "0x" + "ab12" + "cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	testBypassSecret = "staging-only"
	testMetricsKey   = "metrics-key"
)

// scriptedVerifier satisfies both paywall.PaymentVerifier and
// facilitator.PaymentVerifier.
type scriptedVerifier struct {
	result       x402.VerificationResult
	gotTxHash    string
	gotRecipient string
	gotAmount    *big.Int
}

func (v *scriptedVerifier) VerifyPayment(_ context.Context, txHash, recipient string, amount *big.Int) x402.VerificationResult {
	v.gotTxHash = txHash
	v.gotRecipient = recipient
	v.gotAmount = new(big.Int).Set(amount)
	return v.result
}

// fakeStats serves ledger volume for the facilitator status endpoint.
type fakeStats struct {
	stats ledger.Stats
	err   error
}

func (f *fakeStats) Stats(context.Context) (ledger.Stats, error) { return f.stats, f.err }

// scriptedFacilitator serves the slow rails in tests.
type scriptedFacilitator struct {
	verify     x402.VerifyResponse
	verifyErr  error
	gotVerify  x402.PaymentRequirements
	settleDone chan struct{}
}

func (f *scriptedFacilitator) Supported(context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{}, nil
}

func (f *scriptedFacilitator) Verify(_ context.Context, _ *x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerifyResponse, error) {
	f.gotVerify = req
	return f.verify, f.verifyErr
}

func (f *scriptedFacilitator) Settle(context.Context, *x402.PaymentPayload, x402.PaymentRequirements) (x402.SettleResponse, error) {
	if f.settleDone != nil {
		close(f.settleDone)
	}
	return x402.SettleResponse{Success: true, Transaction: testTxHash}, nil
}

func testRegistry(t *testing.T, upstreamURL string) *services.Registry {
	t.Helper()
	catalog := fmt.Sprintf(`{"services":[{
		"id": "weather-current", "price": "0.001", "method": "GET",
		"path": "/api/weather/current", "provider": "weather", "category": "weather",
		"mimeType": "application/json", "upstreamUrl": %q,
		"auth": {"mode": "query", "name": "appid"},
		"params": [{"name": "q", "in": "query", "type": "string", "required": true}]
	}]}`, upstreamURL+"/data")

	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := services.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

type gatewayFixture struct {
	handler  http.Handler
	verifier *scriptedVerifier
	fac      *scriptedFacilitator
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"temp": 18}`))
	}))
	t.Cleanup(backend.Close)

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.PublicBaseURL = testBaseURL
	cfg.Server.ReadTimeout.Duration = 10 * time.Second
	cfg.Server.WriteTimeout.Duration = 10 * time.Second
	cfg.Server.IdleTimeout.Duration = 10 * time.Second
	cfg.Server.AdminMetricsAPIKey = testMetricsKey

	registry := testRegistry(t, backend.URL)
	verifier := &scriptedVerifier{result: x402.Accept(testPayer)}
	fac := &scriptedFacilitator{
		verify:     x402.VerifyResponse{IsValid: true, Payer: testPayer},
		settleDone: make(chan struct{}),
	}

	log := zerolog.Nop()
	advertiser := paywall.NewAdvertiser(registry, testBaseURL, "", testEVMRecipient, testSolRecipient, testFeePayer, log)

	creds := credentials.NewPool()
	creds.Register("weather", []string{"wkey"})

	deps := Deps{
		Config:     cfg,
		Registry:   registry,
		Advertiser: advertiser,
		Direct:     paywall.NewDirect(verifier, registry, chains.Fast(), testEVMRecipient, nil, nil),
		Gate:       paywall.NewFacilitatorGate(fac, registry, advertiser, nil, nil),
		DevBypass:  paywall.NewDevBypass(true, testBypassSecret),
		Dispatcher: upstream.NewDispatcher(registry, creds, &http.Client{}, nil, nil),
		LocalFac:   facilitator.NewLocal(verifier, chains.Fast().CAIP2, "tUSD", "1"),
		Store:      &fakeStats{stats: ledger.Stats{TotalRequests: 7, TotalProofs: 3, RequestsLast24: 2}},
		Metrics:    nil,
		Logger:     log,
	}

	return &gatewayFixture{
		handler:  New(deps).httpServer.Handler,
		verifier: verifier,
		fac:      fac,
	}
}

func paymentHeader(t *testing.T, network string) string {
	t.Helper()
	encoded, err := x402.EncodePayload(x402.PaymentPayload{
		X402Version: x402.Version,
		Accepted:    x402.PaymentRequirements{Scheme: x402.SchemeExact, Network: network},
		Payload:     json.RawMessage(fmt.Sprintf(`{"txHash":%q}`, testTxHash)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

func (g *gatewayFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func TestUnpaidRequestGetsChallenge(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/api/weather/current?q=London", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "{}" {
		t.Errorf("body = %s", rec.Body.String())
	}

	challenge, err := x402.DecodeRequirements(rec.Header().Get(x402.HeaderPaymentRequired))
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.X402Version != x402.Version {
		t.Errorf("x402Version = %d", challenge.X402Version)
	}
	if len(challenge.Accepts) != 3 {
		t.Fatalf("accepts = %d, want 3", len(challenge.Accepts))
	}
	if challenge.Resource.URL != testBaseURL+"/api/weather/current" {
		t.Errorf("resource url = %s", challenge.Resource.URL)
	}
}

func TestFastRailPaymentServesContent(t *testing.T) {
	g := newGateway(t)

	req := httptest.NewRequest("GET", "/api/weather/current?q=London", nil)
	req.Header.Set(x402.HeaderPaymentSignature, paymentHeader(t, chains.Fast().CAIP2))
	rec := g.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"temp": 18}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if g.verifier.gotTxHash != testTxHash {
		t.Errorf("verified tx = %s", g.verifier.gotTxHash)
	}
	if g.verifier.gotRecipient != testEVMRecipient {
		t.Errorf("recipient = %s", g.verifier.gotRecipient)
	}
	// $0.001 at 18 decimals.
	if g.verifier.gotAmount.String() != "1000000000000000" {
		t.Errorf("amount = %s", g.verifier.gotAmount)
	}
}

func TestReplayedPaymentRejected(t *testing.T) {
	g := newGateway(t)
	g.verifier.result = x402.Reject(x402.ReasonReplayed)

	req := httptest.NewRequest("GET", "/api/weather/current?q=London", nil)
	req.Header.Set(x402.HeaderPaymentSignature, paymentHeader(t, chains.Fast().CAIP2))
	rec := g.do(req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Reason != x402.ReasonReplayed {
		t.Errorf("reason = %s", body.Reason)
	}
}

func TestFacilitatorRailVerifiesAndSettles(t *testing.T) {
	g := newGateway(t)

	base := chains.All()[1]
	req := httptest.NewRequest("GET", "/api/weather/current?q=London", nil)
	req.Header.Set(x402.HeaderPaymentSignature, paymentHeader(t, base.CAIP2))
	rec := g.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	// The gate must verify against our advertised entry, not the client's.
	if g.fac.gotVerify.PayTo != testEVMRecipient {
		t.Errorf("verify payTo = %s", g.fac.gotVerify.PayTo)
	}
	if g.fac.gotVerify.Amount != "1000" {
		t.Errorf("verify amount = %s", g.fac.gotVerify.Amount)
	}

	select {
	case <-g.fac.settleDone:
	case <-time.After(2 * time.Second):
		t.Fatal("settle was never called")
	}
}

func TestDevBypassSkipsPaywall(t *testing.T) {
	g := newGateway(t)

	req := httptest.NewRequest("GET", "/api/weather/current?q=London", nil)
	req.Header.Set(paywall.DevBypassHeader, testBypassSecret)
	rec := g.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(paywall.DevBypassResponseHeader) != "active" {
		t.Errorf("bypass header = %q", rec.Header().Get(paywall.DevBypassResponseHeader))
	}

	// A wrong secret falls through to the challenge.
	req = httptest.NewRequest("GET", "/api/weather/current?q=London", nil)
	req.Header.Set(paywall.DevBypassHeader, "wrong")
	if rec := g.do(req); rec.Code != http.StatusPaymentRequired {
		t.Errorf("wrong secret: status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "tollgate" {
		t.Errorf("body = %v", body)
	}
}

func TestServiceCatalogIsPublicAndSanitized(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/api/services", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "upstream") || strings.Contains(rec.Body.String(), "appid") {
		t.Errorf("catalog leaked internal fields: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"weather-current"`) {
		t.Errorf("catalog missing service: %s", rec.Body.String())
	}

	rec = g.do(httptest.NewRequest("GET", "/api/services/weather-current", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get service: status = %d", rec.Code)
	}

	rec = g.do(httptest.NewRequest("GET", "/api/services/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing service: status = %d", rec.Code)
	}
}

func TestWellKnownDiscoveryDocument(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/.well-known/x402.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var doc struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		X402Version int    `json:"x402Version"`
		Networks    map[string]struct {
			Rail  string `json:"rail"`
			PayTo string `json:"payTo"`
		} `json:"networks"`
		Services []struct {
			ID      string                     `json:"id"`
			URL     string                     `json:"url"`
			Method  string                     `json:"method"`
			Price   string                     `json:"price"`
			Accepts []x402.PaymentRequirements `json:"accepts"`
		} `json:"services"`
		Routes     map[string]string   `json:"routes"`
		Categories map[string][]string `json:"categories"`
		Hint       string              `json:"hint"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Name != "tollgate" || doc.X402Version != x402.Version {
		t.Errorf("name = %q, x402Version = %d", doc.Name, doc.X402Version)
	}
	if len(doc.Networks) != 3 {
		t.Fatalf("networks = %+v", doc.Networks)
	}
	if fast := doc.Networks[chains.CAIP2MegaETH]; fast.Rail != "fast" || fast.PayTo != testEVMRecipient {
		t.Errorf("fast network = %+v", fast)
	}
	if sol := doc.Networks[chains.CAIP2Solana]; sol.PayTo != testSolRecipient {
		t.Errorf("solana network = %+v", sol)
	}
	if len(doc.Services) != 1 || len(doc.Services[0].Accepts) != 3 {
		t.Fatalf("services = %+v", doc.Services)
	}
	if svc := doc.Services[0]; svc.ID != "weather-current" || svc.URL != testBaseURL+"/api/weather/current" || svc.Price != "0.001" {
		t.Errorf("service entry = %+v", svc)
	}
	if doc.Routes["GET /api/weather/current"] != "weather-current" {
		t.Errorf("routes = %+v", doc.Routes)
	}
	if got := doc.Categories["weather"]; len(got) != 1 || got[0] != "weather-current" {
		t.Errorf("categories = %+v", doc.Categories)
	}
	if doc.Hint == "" {
		t.Error("hint missing")
	}
}

func TestMetricsRequiresAPIKey(t *testing.T) {
	g := newGateway(t)

	if rec := g.do(httptest.NewRequest("GET", "/metrics", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testMetricsKey)
	if rec := g.do(req); rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d", rec.Code)
	}
}

func TestFacilitatorEndpoints(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/facilitator/megaeth/supported", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("supported: status = %d", rec.Code)
	}
	var supported x402.SupportedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &supported); err != nil {
		t.Fatal(err)
	}
	if len(supported.Kinds) != 1 || supported.Kinds[0].Network != chains.Fast().CAIP2 {
		t.Errorf("kinds = %+v", supported.Kinds)
	}

	rec = g.do(httptest.NewRequest("GET", "/facilitator/megaeth/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint: status = %d", rec.Code)
	}
	var status struct {
		Network      string `json:"network"`
		Connected    bool   `json:"connected"`
		Stablecoin   string `json:"stablecoin"`
		UsedTxHashes int64  `json:"usedTxHashes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Network != chains.Fast().CAIP2 || !status.Connected || status.UsedTxHashes != 3 {
		t.Errorf("status = %+v", status)
	}
	if status.Stablecoin != chains.Fast().Stablecoin.Contract {
		t.Errorf("stablecoin = %q", status.Stablecoin)
	}

	verifyBody := fmt.Sprintf(`{
		"paymentPayload": {"x402Version": 2, "accepted": {"scheme": "exact", "network": %q}, "payload": {"txHash": %q}},
		"paymentRequirements": {"scheme": "exact", "network": %q, "amount": "1000", "payTo": %q}
	}`, chains.Fast().CAIP2, testTxHash, chains.Fast().CAIP2, testEVMRecipient)

	req := httptest.NewRequest("POST", "/facilitator/megaeth/verify", strings.NewReader(verifyBody))
	rec = g.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var verdict x402.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatal(err)
	}
	if !verdict.IsValid || verdict.Payer != testPayer {
		t.Errorf("verdict = %+v", verdict)
	}

	req = httptest.NewRequest("POST", "/facilitator/megaeth/settle", strings.NewReader(verifyBody))
	rec = g.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: status = %d", rec.Code)
	}
	var settle x402.SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &settle); err != nil {
		t.Fatal(err)
	}
	if !settle.Success || settle.Transaction != testTxHash {
		t.Errorf("settle = %+v", settle)
	}

	rec = g.do(httptest.NewRequest("POST", "/facilitator/megaeth/verify", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad verify body: status = %d", rec.Code)
	}
}

func TestFacilitatorVerifyRejection(t *testing.T) {
	g := newGateway(t)
	g.verifier.result = x402.Reject(x402.ReasonInsufficientAmount)

	verifyBody := fmt.Sprintf(`{
		"paymentPayload": {"x402Version": 2, "accepted": {"scheme": "exact", "network": %q}, "payload": {"txHash": %q}},
		"paymentRequirements": {"scheme": "exact", "network": %q, "amount": "1000", "payTo": %q}
	}`, chains.Fast().CAIP2, testTxHash, chains.Fast().CAIP2, testEVMRecipient)

	rec := g.do(httptest.NewRequest("POST", "/facilitator/megaeth/verify", strings.NewReader(verifyBody)))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var verdict x402.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatal(err)
	}
	if verdict.IsValid || verdict.InvalidReason != x402.ReasonInsufficientAmount {
		t.Errorf("verdict = %+v", verdict)
	}
	if verdict.InvalidMessage == "" {
		t.Error("invalidMessage missing")
	}
}

func TestSecurityHeaders(t *testing.T) {
	g := newGateway(t)

	rec := g.do(httptest.NewRequest("GET", "/health", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
}
