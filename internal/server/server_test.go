package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/domain"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.APIKeys = map[string]config.IdentityConfig{
		"alice-key": {Subject: "alice", Plan: "free"},
		"bob-key":   {Subject: "bob", Plan: "premium"},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Options{Config: cfg, Logger: slog.Default()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.limiter.Close()
		srv.sink.Close()
	})
	return srv, ts
}

func postPrompt(t *testing.T, ts *httptest.Server, apiKey string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/secure-prompt", bytes.NewReader(payload))
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSecurePromptRequiresAPIKey(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := postPrompt(t, ts, "", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "AUTHN_FAILED", body["code"])
}

func TestSecurePromptRejectsUnknownKey(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := postPrompt(t, ts, "wrong-key", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSecurePromptBearerAlias(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/secure-prompt",
		strings.NewReader(`{"prompt":"hello there"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer alice-key")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurePromptAllowed(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := postPrompt(t, ts, "alice-key", map[string]string{
		"prompt": "what is the weather like",
		"policy": "permissive",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "49", resp.Header.Get("X-Rate-Limit-Remaining"))
	assert.Equal(t, "0", resp.Header.Get("X-Risk-Score"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["blocked"])
	assert.NotEmpty(t, body["requestId"])
	assert.Contains(t, body["response"], "mock response")
}

func TestSecurePromptRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.PlanLimits = map[string]int{"free": 1}
	_, ts := newTestServer(t, cfg)

	first := postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"})
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "0", second.Header.Get("X-Rate-Limit-Remaining"))

	body := decodeBody(t, second)
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, "Rate limit exceeded", body["blockReason"])
}

func TestSecurePromptPolicyDenied(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	// The default restrictive policy denies unlisted models.
	resp := postPrompt(t, ts, "alice-key", map[string]string{
		"prompt": "hello",
		"model":  "mystery-model",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["blocked"])
	assert.Contains(t, body["blockReason"], "External API access not allowed")
}

func TestSecurePromptValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"prompt": `, "INVALID_BODY"},
		{"missing prompt", `{}`, "PROMPT_REQUIRED"},
		{"blank prompt", `{"prompt":"   "}`, "PROMPT_REQUIRED"},
		{"oversized prompt", `{"prompt":"` + strings.Repeat("a", domain.MaxPromptLength+1) + `"}`, "PROMPT_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/secure-prompt",
				strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set(APIKeyHeader, "alice-key")

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestAuditLogsListOwnRecordsOnly(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	require.Equal(t, http.StatusOK,
		postPrompt(t, ts, "alice-key", map[string]string{"prompt": "alice asks"}).StatusCode)
	require.Equal(t, http.StatusOK,
		postPrompt(t, ts, "bob-key", map[string]string{"prompt": "bob asks"}).StatusCode)

	// Persistence is asynchronous; poll until alice's record lands.
	require.Eventually(t, func() bool {
		resp, err := auditLogs(ts, "alice-key", "")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := auditLogs(ts, "alice-key", "")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Count   int `json:"count"`
		Records []struct {
			UserID string `json:"userId"`
			Prompt string `json:"prompt"`
		} `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "alice", body.Records[0].UserID)
	assert.Equal(t, "alice asks", body.Records[0].Prompt)
}

func TestAuditLogsRejectsBadRange(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := auditLogs(ts, "alice-key", "startDate=yesterday")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "INVALID_RANGE", body["code"])
}

func auditLogs(ts *httptest.Server, apiKey, query string) (*http.Response, error) {
	url := ts.URL + "/v1/audit/logs"
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(APIKeyHeader, apiKey)
	return ts.Client().Do(req)
}

func TestAuditStatsCountsHighRisk(t *testing.T) {
	srv, ts := newTestServer(t, testConfig())

	ctx := context.Background()
	for _, rec := range []*domain.AuditRecord{
		{UserID: "alice", RiskScore: 10},
		{UserID: "alice", RiskScore: 70},
		{UserID: "alice", RiskScore: 90},
		{UserID: "bob", RiskScore: 95},
	} {
		require.NoError(t, srv.store.Save(ctx, rec))
	}

	resp, err := auditStats(ts, "alice-key", "")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Threshold     int   `json:"threshold"`
		HighRiskCount int64 `json:"highRiskCount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 60, body.Threshold)
	assert.Equal(t, int64(2), body.HighRiskCount)

	// Bob's record never leaks into alice's count, and a custom threshold
	// narrows the window.
	resp, err = auditStats(ts, "alice-key", "threshold=90")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 90, body.Threshold)
	assert.Equal(t, int64(1), body.HighRiskCount)
}

func TestAuditStatsRejectsBadThreshold(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	for _, q := range []string{"threshold=abc", "threshold=-1", "threshold=101"} {
		resp, err := auditStats(ts, "alice-key", q)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, "INVALID_THRESHOLD", body["code"])
		resp.Body.Close()
	}
}

func TestAuditStatsRequiresAPIKey(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := auditStats(ts, "", "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func auditStats(ts *httptest.Server, apiKey, query string) (*http.Response, error) {
	url := ts.URL + "/v1/audit/stats"
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	return ts.Client().Do(req)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	require.Equal(t, http.StatusOK,
		postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"}).StatusCode)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(payload)
	assert.Contains(t, text, "gate_decisions_total")
	assert.Contains(t, text, "gate_http_requests_total")
	assert.Contains(t, text, "gate_audit_queue_depth")
}

func TestReloadKeepsRateLimiterState(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.PlanLimits = map[string]int{"free": 2}
	srv, ts := newTestServer(t, cfg)

	require.Equal(t, http.StatusOK,
		postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"}).StatusCode)

	// Rebuild the pipeline in place, as a configuration reload would.
	srv.rebuild(cfg)

	// The bucket survived: one token left, then denial.
	require.Equal(t, http.StatusOK,
		postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"}).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests,
		postPrompt(t, ts, "alice-key", map[string]string{"prompt": "hello"}).StatusCode)
}
