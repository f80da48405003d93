package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/aire/internal/gate"
	"github.com/digkill/aire/internal/property"
	"github.com/digkill/aire/internal/repository"
	"github.com/digkill/aire/internal/service"
	"github.com/digkill/aire/pkg/logger"
)

type stubPrefill struct{}

func (stubPrefill) Prefill(_ context.Context, address string) (property.Suggestion, error) {
	if strings.TrimSpace(address) == "" {
		return property.Suggestion{}, property.ErrEmptyAddress
	}
	price := 199000.0
	return property.Suggestion{Price: &price, Sources: []string{property.SourceAttom}}, nil
}

func newTestServer(t *testing.T, freeLimit int, adminCode, paymentLink string) *httptest.Server {
	t.Helper()
	log := logger.Discard()
	g, err := gate.New(gate.Config{FreeLimit: freeLimit, AdminUnlockCode: adminCode}, gate.NewMemoryStore(), log)
	require.NoError(t, err)

	payments := repository.NewMemoryPaymentLog()
	analysis := service.NewAnalysisService(log, g, repository.NewMemoryAnalysisLog(), stubPrefill{}, nil, nil, 50)
	accounts := service.NewAccountService(g, payments, nil)
	paymentSvc := service.NewPaymentService(log, g, payments, nil, paymentLink)

	s := NewServer(":0", "ops", "secret", log, analysis, accounts, paymentSvc)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func adminPost(t *testing.T, url string, body any, user, pass string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(user, pass)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func analyzeBody(email string) map[string]any {
	return map[string]any{
		"email":               email,
		"address":             "123 Main St Springfield IL",
		"rate_env":            "HIGH",
		"price":               300000,
		"monthly_rent":        3000,
		"monthly_expenses":    700,
		"loan_payment":        1000,
		"vacancy_rate":        0.08,
		"replacement_cost":    360000,
		"days_on_market":      20,
		"job_diversity_index": 0.9,
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, 2, "", "")
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusForNewIdentity(t *testing.T) {
	srv := newTestServer(t, 2, "", "https://buy.stripe.com/x")
	resp, err := http.Get(srv.URL + "/api/status?email=New@Example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "new@example.com", body["identity"])
	assert.Equal(t, float64(2), body["remaining"])
	assert.Equal(t, "https://buy.stripe.com/x", body["payment_link"])
	assert.Equal(t, false, body["admin_unlock_enabled"])
}

func TestStatusRequiresEmail(t *testing.T) {
	srv := newTestServer(t, 2, "", "")
	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeThenPaywall(t *testing.T) {
	srv := newTestServer(t, 2, "", "https://buy.stripe.com/x")

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		result := body["result"].(map[string]any)
		assert.NotEmpty(t, result["grade"])
	}

	resp := postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "https://buy.stripe.com/x", body["payment_link"])
}

func TestAnalyzePaywallWithoutPaymentLink(t *testing.T) {
	srv := newTestServer(t, 0, "", "")
	resp := postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "payments not configured", decodeBody(t, resp)["payment_link"])
}

func TestAnalyzeReturnsPDF(t *testing.T) {
	srv := newTestServer(t, 2, "", "")
	resp := postJSON(t, srv.URL+"/api/analyze?format=pdf", analyzeBody("a@b.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "AIRE_Report_")

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, 2, "", "")

	body := analyzeBody("a@b.com")
	body["vacancy_rate"] = 2
	resp := postJSON(t, srv.URL+"/api/analyze", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryListsAnalyses(t *testing.T) {
	srv := newTestServer(t, 5, "", "")
	postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))

	resp, err := http.Get(srv.URL + "/api/history?email=A@B.com&limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decodeBody(t, resp)["analyses"].([]any)
	assert.Len(t, rows, 1)

	bad, err := http.Get(srv.URL + "/api/history?email=a@b.com&limit=x")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHistoryEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, 2, "", "")
	resp, err := http.Get(srv.URL + "/api/history?email=new@b.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows, ok := decodeBody(t, resp)["analyses"].([]any)
	require.True(t, ok)
	assert.Empty(t, rows)
}

func TestUnlockEndpoint(t *testing.T) {
	srv := newTestServer(t, 0, "letmein", "")

	resp := postJSON(t, srv.URL+"/api/unlock", map[string]string{"email": "a@b.com", "code": "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/unlock", map[string]string{"email": "a@b.com", "code": "letmein"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["unlocked"])
	assert.Equal(t, "admin", body["unlock_source"])

	resp = postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnlockDisabled(t *testing.T) {
	srv := newTestServer(t, 0, "", "")
	resp := postJSON(t, srv.URL+"/api/unlock", map[string]string{"email": "a@b.com", "code": "anything"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	srv := newTestServer(t, 0, "", "")
	resp := adminPost(t, srv.URL+"/admin/payments/confirm", map[string]string{"email": "a@b.com", "reference": "cs_1"}, "ops", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/admin/revoke", map[string]string{"email": "a@b.com"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	log := logger.Discard()
	g, err := gate.New(gate.Config{FreeLimit: 0}, gate.NewMemoryStore(), log)
	require.NoError(t, err)
	payments := repository.NewMemoryPaymentLog()
	analysis := service.NewAnalysisService(log, g, repository.NewMemoryAnalysisLog(), stubPrefill{}, nil, nil, 50)
	accounts := service.NewAccountService(g, payments, nil)
	paymentSvc := service.NewPaymentService(log, g, payments, nil, "")

	srv := httptest.NewServer(NewServer(":0", "admin", "", log, analysis, accounts, paymentSvc).Handler())
	t.Cleanup(srv.Close)

	resp := adminPost(t, srv.URL+"/admin/payments/confirm", map[string]string{"email": "a@b.com", "reference": "cs_1"}, "admin", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestConfirmPaymentThenRevoke(t *testing.T) {
	srv := newTestServer(t, 0, "", "https://buy.stripe.com/x")

	resp := adminPost(t, srv.URL+"/admin/payments/confirm", map[string]string{"email": "A@b.com", "reference": "cs_1"}, "ops", "secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["changed"])

	resp = postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/usage?email=a@b.com", nil)
	require.NoError(t, err)
	req.SetBasicAuth("ops", "secret")
	usageResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer usageResp.Body.Close()
	require.Equal(t, http.StatusOK, usageResp.StatusCode)
	usage := decodeBody(t, usageResp)
	assert.Len(t, usage["payments"].([]any), 1)
	assert.Equal(t, "payment", usage["unlock_source"])

	resp = adminPost(t, srv.URL+"/admin/revoke", map[string]string{"email": "a@b.com"}, "ops", "secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["unlocked"])

	resp = postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestConfirmPaymentRequiresReference(t *testing.T) {
	srv := newTestServer(t, 0, "", "")
	resp := adminPost(t, srv.URL+"/admin/payments/confirm", map[string]string{"email": "a@b.com"}, "ops", "secret")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPrefillAndListing(t *testing.T) {
	srv := newTestServer(t, 0, "", "")

	resp := postJSON(t, srv.URL+"/api/prefill", map[string]any{"demo": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(485000), decodeBody(t, resp)["price"])

	resp = postJSON(t, srv.URL+"/api/prefill", map[string]any{"address": "1 Oak Ln"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(199000), decodeBody(t, resp)["price"])

	resp = postJSON(t, srv.URL+"/api/prefill", map[string]any{"address": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/listing/address", map[string]string{
		"listing_url": "https://www.redfin.com/IL/Springfield/123-Main-St-62701/home/12345678",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "123 Main St 62701", body["address"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, 1, "", "")
	postJSON(t, srv.URL+"/api/analyze", analyzeBody("a@b.com"))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "aire_gate_decisions_total")
}
