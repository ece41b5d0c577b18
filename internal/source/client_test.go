package source

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cardsync/internal/taxonomy"
)

func newTestClient(baseURL string) *Client {
	c := NewClient("test_key", "test_token", 2*time.Second, slog.Default())
	c.baseURL = baseURL
	c.limiter.SetBurst(1000)
	c.limiter.SetLimit(1000)
	return c
}

func TestFetchCardSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/cards/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "test_key" || q.Get("token") != "test_token" {
			t.Errorf("missing key/token auth params: %v", q)
		}
		if q.Get("fields") != "all" || q.Get("attachments") != "true" || q.Get("actions") != "commentCard" {
			t.Errorf("unexpected query params: %v", q)
		}
		json.NewEncoder(w).Encode(Card{ID: "abc123", Name: "Widget", Desc: "a widget card"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	card, err := c.FetchCard(t.Context(), "abc123")
	if err != nil {
		t.Fatalf("FetchCard: %v", err)
	}
	if card.ID != "abc123" || card.Name != "Widget" {
		t.Errorf("unexpected card: %+v", card)
	}
}

func TestFetchCardNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"card not found"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchCard(t.Context(), "missing")
	if !errors.Is(err, taxonomy.ErrCardAbsent) {
		t.Fatalf("expected ErrCardAbsent, got %v", err)
	}
}

func TestFetchCardRetriesThenGivesUpOn5xx(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	c.httpClient.Timeout = 5 * time.Second
	start := time.Now()
	_, err := c.FetchCard(t.Context(), "abc123")
	elapsed := time.Since(start)

	if !errors.Is(err, taxonomy.ErrFetchTransient) {
		t.Fatalf("expected ErrFetchTransient, got %v", err)
	}
	if attempts != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, attempts)
	}
	if elapsed < initialDelay {
		t.Errorf("expected backoff delay between attempts, elapsed only %v", elapsed)
	}
}

func TestFetchCardSucceedsAfterTransientFailure(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Card{ID: "abc123"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	card, err := c.FetchCard(t.Context(), "abc123")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if card.ID != "abc123" {
		t.Errorf("unexpected card: %+v", card)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestFetchCardUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid key/token"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchCard(t.Context(), "abc123")
	if err == nil {
		t.Fatal("expected an error for unexpected status")
	}
	if errors.Is(err, taxonomy.ErrCardAbsent) || errors.Is(err, taxonomy.ErrFetchTransient) {
		t.Errorf("401 should not classify as card-absent or transient, got %v", err)
	}
}
