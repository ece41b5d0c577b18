package intake

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"cardsync/internal/intake/overflow"
)

func newTestHandler(t *testing.T, chanCap int) (*Handler, chan Notification) {
	t.Helper()
	ch := make(chan Notification, chanCap)
	ovf, err := overflow.Open(t.TempDir() + "/overflow.db")
	if err != nil {
		t.Fatalf("open overflow log: %v", err)
	}
	t.Cleanup(func() { ovf.Close() })
	return NewHandler(ch, ovf, slog.Default()), ch
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.Mount(r, "/webhook")
	return r
}

func TestHandlerLivenessHead(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	req := httptest.NewRequest(http.MethodHead, "/webhook", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandlerLivenessGet(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandlerNotificationMalformedPayload400(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed payload, got %d", rec.Code)
	}
}

func TestHandlerNotificationMissingEventIDIs400(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"action":{"type":"createCard"}}`))
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing action.id, got %d", rec.Code)
	}
}

func TestHandlerNotificationAcceptedAndForwarded(t *testing.T) {
	h, ch := newTestHandler(t, 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cardCreatedPayload))
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case n := <-ch:
		if n.EventID != "evt1" {
			t.Errorf("unexpected forwarded notification: %+v", n)
		}
	default:
		t.Fatal("expected notification to be forwarded to the dispatcher channel")
	}
}

func TestHandlerNotificationOverflowsToLogWhenChannelFull(t *testing.T) {
	h, ch := newTestHandler(t, 1)
	ch <- Notification{EventID: "already-queued"} // fill the channel

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(cardCreatedPayload))
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even when channel is full, got %d", rec.Code)
	}

	n, err := h.overflow.Len()
	if err != nil {
		t.Fatalf("overflow.Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one overflow item, got %d", n)
	}
}

func TestDrainAvailableRedeliversOverflowItems(t *testing.T) {
	h, ch := newTestHandler(t, 1)
	if err := h.overflow.Record([]byte(cardCreatedPayload)); err != nil {
		t.Fatalf("record: %v", err)
	}

	drainAvailable(ch, h.overflow, slog.Default())

	select {
	case n := <-ch:
		if n.EventID != "evt1" {
			t.Errorf("unexpected drained notification: %+v", n)
		}
	default:
		t.Fatal("expected the overflow item to be redelivered to the channel")
	}

	remaining, err := h.overflow.Len()
	if err != nil {
		t.Fatalf("overflow.Len: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected overflow log to be drained, got %d remaining", remaining)
	}
}
