package source

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/webhooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("idModel") != "board1" || q.Get("callbackURL") != "https://example.com/hook" {
			t.Errorf("unexpected params: %v", q)
		}
		if q.Get("description") != "my webhook" {
			t.Errorf("expected description passthrough, got %q", q.Get("description"))
		}
		if q.Get("active") != "true" {
			t.Errorf("expected active=true, got %q", q.Get("active"))
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Webhook{ID: "wh1", IDModel: "board1", CallbackURL: "https://example.com/hook", Active: true})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	hook, err := c.RegisterWebhook(t.Context(), "board1", "https://example.com/hook", "my webhook")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if hook.ID != "wh1" {
		t.Errorf("unexpected webhook: %+v", hook)
	}
}

func TestRegisterWebhookDefaultsDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("description"); got != "cardsync webhook" {
			t.Errorf("expected default description, got %q", got)
		}
		json.NewEncoder(w).Encode(Webhook{ID: "wh1"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if _, err := c.RegisterWebhook(t.Context(), "board1", "https://example.com/hook", ""); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
}

func TestListWebhooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/tokens/test_token/webhooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Webhook{
			{ID: "wh1", IDModel: "board1"},
			{ID: "wh2", IDModel: "board2"},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	hooks, err := c.ListWebhooks(t.Context())
	if err != nil {
		t.Fatalf("ListWebhooks: %v", err)
	}
	if len(hooks) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(hooks))
	}
}

func TestDeleteWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/webhooks/wh1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.DeleteWebhook(t.Context(), "wh1"); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
}

func TestDeleteWebhookPathEscapesID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/webhooks/has%2Fslash" {
			t.Errorf("expected escaped path, got %s", r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.DeleteWebhook(t.Context(), "has/slash"); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
}
