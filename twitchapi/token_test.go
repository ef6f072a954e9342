package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTokenServer(t *testing.T, callCount *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*callCount++
		if got := r.FormValue("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token-123",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
}

func TestTokenSource_GetCached(t *testing.T) {
	callCount := 0
	server := newTokenServer(t, &callCount)
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient:   &http.Client{Transport: &helixTransport{host: server.URL}},
	}
	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	if callCount != 1 {
		t.Errorf("expected 1 API call, got %d", callCount)
	}

	// Second call should use cached token
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if callCount != 1 {
		t.Errorf("expected still 1 API call (cached), got %d", callCount)
	}
}

func TestTokenSource_RefreshDropsCache(t *testing.T) {
	callCount := 0
	server := newTokenServer(t, &callCount)
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient:   &http.Client{Transport: &helixTransport{host: server.URL}},
	}
	ctx := context.Background()

	if _, err := ts.Get(ctx); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	creds, err := ts.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if creds.ClientID != "test-client" || creds.AccessToken != "test-token-123" {
		t.Errorf("unexpected credentials %+v", creds)
	}
	if callCount != 2 {
		t.Errorf("expected 2 API calls after refresh, got %d", callCount)
	}
}

func TestTokenSource_MissingSecret(t *testing.T) {
	ts := &TokenSource{ClientID: "only-id"}
	if _, err := ts.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want missing client id/secret", err)
	}
}

func TestTokenSource_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":403,"message":"invalid client secret"}`))
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "bad-secret",
		HTTPClient:   &http.Client{Transport: &helixTransport{host: server.URL}},
	}
	if _, err := ts.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "token request failed") {
		t.Errorf("Get() error = %v, want token request failed", err)
	}
}
