package quotestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPArchiveClientUpsertSendsExpectedRequest(t *testing.T) {
	var capturedAuth string
	var capturedPath string
	var capturedCorrelation string
	var capturedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedPath = r.URL.Path
		capturedCorrelation = r.Header.Get("X-Correlation-Id")
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPArchiveClient(ArchiveHTTPClientOptions{
		BaseURL: server.URL,
		TokenProvider: func(ctx context.Context) (string, error) {
			return "token_123", nil
		},
		HTTPClient: server.Client(),
	})
	err := client.UpsertQuote(context.Background(), ArchiveUpsertRequest{
		WorkspaceID:   "ws_archive_http",
		QuoteID:       42,
		Revision:      "rev_1",
		Text:          "Be curious.",
		Category:      "wisdom",
		CorrelationID: "corr_http_1",
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if capturedPath != "/v1/archive/quotes/upsert" {
		t.Fatalf("expected upsert path, got %s", capturedPath)
	}
	if capturedAuth != "Bearer token_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedCorrelation != "corr_http_1" {
		t.Fatalf("expected correlation header, got %q", capturedCorrelation)
	}
	if capturedBody["workspaceId"] != "ws_archive_http" || capturedBody["quoteId"] != float64(42) {
		t.Fatalf("expected workspaceId and quoteId in body, got %+v", capturedBody)
	}
}

func TestHTTPArchiveClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"try again"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPArchiveClient(ArchiveHTTPClientOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		BaseDelay:  5 * time.Millisecond,
		MaxDelay:   20 * time.Millisecond,
		MaxRetries: 2,
	})
	err := client.DeleteQuote(context.Background(), ArchiveDeleteRequest{
		WorkspaceID:   "ws_archive_http",
		QuoteID:       42,
		Revision:      "rev_1",
		CorrelationID: "corr_http_2",
	})
	if err != nil {
		t.Fatalf("expected retry to recover from transient failure, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestHTTPArchiveClientReturnsErrorOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_request","message":"bad payload"}`))
	}))
	defer server.Close()

	client := NewHTTPArchiveClient(ArchiveHTTPClientOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	err := client.UpsertQuote(context.Background(), ArchiveUpsertRequest{
		WorkspaceID:   "ws_archive_http",
		QuoteID:       42,
		Revision:      "rev_1",
		Text:          "Be curious.",
		CorrelationID: "corr_http_3",
	})
	if err == nil {
		t.Fatalf("expected permanent error")
	}
	if !strings.Contains(err.Error(), "invalid_request") {
		t.Fatalf("expected error to include response code, got %v", err)
	}
}

func TestHTTPArchiveClientHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPArchiveClient(ArchiveHTTPClientOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		MaxRetries: 2,
	})
	err := client.UpsertQuote(context.Background(), ArchiveUpsertRequest{
		WorkspaceID: "ws_archive_http",
		QuoteID:     1,
		Revision:    "rev_1",
		Text:        "rate limited",
	})
	if err != nil {
		t.Fatalf("expected recovery after 429, got %v", err)
	}
}
