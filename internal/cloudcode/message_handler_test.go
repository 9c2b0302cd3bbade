package cloudcode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

const nonThinkingModel = "claude-sonnet-4-5"

func newTestManager(t *testing.T, emails ...string) *account.Manager {
	t.Helper()

	m := account.NewManager(nil, config.DefaultConfig())
	require.NoError(t, m.Initialize(context.Background(), "sticky"))

	accounts := make([]*redis.Account, 0, len(emails))
	for _, email := range emails {
		accounts = append(accounts, &redis.Account{
			Email:   email,
			Source:  "manual",
			APIKey:  "key-" + email,
			Enabled: true,
		})
	}
	m.SetAccounts(accounts)
	return m
}

func newTestMessageHandler(t *testing.T, manager *account.Manager, endpoints ...string) (*MessageHandler, *DispatchState) {
	t.Helper()

	state := NewDispatchStateForTest(config.RateLimitDedupWindowMs, config.DedupEntryTTLMs)
	h := NewMessageHandler(manager, state, config.DefaultConfig())
	h.endpoints = endpoints
	return h, state
}

func googleTextResponse(text string) string {
	return `{"response": {"candidates": [{"content": {"parts": [{"text": "` + text + `"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5}}}`
}

func testRequest(model string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 128,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
}

func requestAccountKey(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func TestShortRateLimitThenSuccess(t *testing.T) {
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "rate limited", "retryInfo": {"retryDelay": "50ms"}}}`)
			return
		}
		io.WriteString(w, googleTextResponse("hello"))
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, state := newTestMessageHandler(t, manager, ts.URL)

	resp, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	// Success clears the dedup entry recorded by the short-limit retry
	assert.Zero(t, state.DedupSize())
	// The short retry stayed on the same account without parking it
	assert.Len(t, manager.AvailableAccounts(nonThinkingModel), 1)
}

func TestCapacityExhaustedRetriesSameEndpoint(t *testing.T) {
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "model_capacity_exhausted", "retryInfo": {"retryDelay": "30ms"}}}`)
			return
		}
		io.WriteString(w, googleTextResponse("ok"))
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	resp, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text)
	assert.Equal(t, int32(4), atomic.LoadInt32(&requests))

	// Capacity retries never touch the ledger
	assert.Len(t, manager.AvailableAccounts(nonThinkingModel), 1)
}

func TestPermanentAuthFailureMarksInvalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": "invalid_grant"}`)
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	_, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_INVALID_PERMANENT")

	acc := manager.GetAccountByEmail("a@example.com")
	require.NotNil(t, acc)
	assert.True(t, acc.IsInvalid)
}

func TestLongRateLimitSwitchesAccount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestAccountKey(r) == "key-a@example.com" {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "quota exceeded", "retryInfo": {"retryDelay": "30s"}}}`)
			return
		}
		io.WriteString(w, googleTextResponse("from-b"))
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com", "b@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	resp, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.NoError(t, err)
	assert.Equal(t, "from-b", resp.Content[0].Text)

	// The long 429 parked account a for the model
	available := manager.AvailableAccounts(nonThinkingModel)
	require.Len(t, available, 1)
	assert.Equal(t, "b@example.com", available[0].Email)
}

func TestAllAccountsLockedLongWaitFailsWithoutFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "quota exceeded", "retryInfo": {"retryDelay": "200s"}}}`)
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	// claude-haiku-test has no fallback mapping
	_, err := h.SendMessage(context.Background(), testRequest("claude-haiku-test"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

func TestFallbackModelSubstitution(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload CloudCodePayload
		_ = json.Unmarshal(body, &payload)

		if payload.Model == "gemini-3-pro-low" {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "quota exceeded", "retryInfo": {"retryDelay": "200s"}}}`)
			return
		}
		io.WriteString(w, googleTextResponse("fallback-ok"))
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	resp, err := h.SendMessage(context.Background(), testRequest("gemini-3-pro-low"), true)
	require.NoError(t, err)
	assert.Equal(t, "fallback-ok", resp.Content[0].Text)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
}

func TestServerErrorRotatesEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "unavailable")
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, googleTextResponse("second-endpoint"))
	}))
	defer good.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, bad.URL, good.URL)

	resp, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.NoError(t, err)
	assert.Equal(t, "second-endpoint", resp.Content[0].Text)
}

func TestDedupWindowSuppressesLocalRetry(t *testing.T) {
	var aRequests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestAccountKey(r) == "key-a@example.com" {
			atomic.AddInt32(&aRequests, 1)
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"error": {"message": "rate limited", "retryInfo": {"retryDelay": "5s"}}}`)
			return
		}
		io.WriteString(w, googleTextResponse("from-b"))
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com", "b@example.com")
	h, state := newTestMessageHandler(t, manager, ts.URL)

	// Another dispatch just recorded a short rate limit for this model
	state.RecordDedupTimestamp(nonThinkingModel)

	resp, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.NoError(t, err)
	assert.Equal(t, "from-b", resp.Content[0].Text)

	// No local retry on account a: one request, then an account switch
	assert.Equal(t, int32(1), atomic.LoadInt32(&aRequests))
	available := manager.AvailableAccounts(nonThinkingModel)
	require.Len(t, available, 1)
	assert.Equal(t, "b@example.com", available[0].Email)
}

func TestNotFoundExhaustsEndpointsAndSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "not found")
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	_, err := h.SendMessage(context.Background(), testRequest(nonThinkingModel), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 404")
}

func TestCancelDuringCooldownSleep(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "rate limited", "retryInfo": {"retryDelay": "5s"}}}`)
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.SendMessage(ctx, testRequest(nonThinkingModel), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRateLimitBoundaryExactCooldownIsShort(t *testing.T) {
	manager := newTestManager(t, "a@example.com")
	state := NewDispatchStateForTest(config.RateLimitDedupWindowMs, config.DedupEntryTTLMs)
	d := newDispatcher(manager, state, config.DefaultConfig())
	acc := manager.GetAccountByEmail("a@example.com")

	// Already retried once, so a short limit parks the account as
	// RATE_LIMITED rather than QUOTA_EXHAUSTED.
	rc := &requestContext{retriedOnce: true}
	action, err := d.handleRateLimit(context.Background(), rc, acc, nonThinkingModel,
		http.Header{}, `{"error": {"retryInfo": {"retryDelay": "10s"}}}`)
	require.NoError(t, err)
	assert.Equal(t, actionNextAccount, action)

	var ue *UpstreamError
	require.ErrorAs(t, rc.lastError, &ue)
	assert.Equal(t, KindRateLimited, ue.Kind)

	// One millisecond past the cooldown boundary classifies as quota
	rc = &requestContext{retriedOnce: true}
	_, err = d.handleRateLimit(context.Background(), rc, acc, nonThinkingModel,
		http.Header{}, `{"error": {"retryInfo": {"retryDelay": "10.001s"}}}`)
	require.NoError(t, err)
	require.ErrorAs(t, rc.lastError, &ue)
	assert.Equal(t, KindQuotaExhausted, ue.Kind)
}

func TestMaxRetriesExceeded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	}))
	defer ts.Close()

	manager := newTestManager(t, "a@example.com")
	h, _ := newTestMessageHandler(t, manager, ts.URL)

	_, err := h.SendMessage(context.Background(), testRequest("claude-haiku-test"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Max retries exceeded")
}
