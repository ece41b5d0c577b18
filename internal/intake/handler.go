package intake

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardsync/internal/intake/overflow"
	"cardsync/internal/metrics"
)

// Handler is the HTTP surface exposed at a single callback URL: a
// liveness probe and the notification receiver, per spec.md §4.E.
type Handler struct {
	intake   chan<- Notification
	overflow *overflow.Log
	logger   *slog.Logger
}

// NewHandler constructs the intake handler. intakeCh is the bounded
// channel the dispatcher reads from; overflowLog records notifications
// that arrive while intakeCh is full.
func NewHandler(intakeCh chan<- Notification, overflowLog *overflow.Log, logger *slog.Logger) *Handler {
	return &Handler{intake: intakeCh, overflow: overflowLog, logger: logger}
}

// Mount registers the liveness and notification routes on a single
// path, matching the one-URL-two-verbs shape spec.md §4.E and §6
// describe. Trello's own liveness probe is a HEAD request; a plain GET
// is accepted too since some uptime checkers issue GET instead.
func (h *Handler) Mount(r chi.Router, path string) {
	r.Method(http.MethodHead, path, http.HandlerFunc(h.handleLiveness))
	r.Method(http.MethodGet, path, http.HandlerFunc(h.handleLiveness))
	r.Method(http.MethodPost, path, http.HandlerFunc(h.handleNotification))
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	metrics.HTTPRequestsTotal.WithLabelValues(metrics.EndpointLiveness, "200").Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()
	if err != nil {
		h.respond(w, r, http.StatusBadRequest, start)
		return
	}

	notification, err := ParseNotification(body)
	if err != nil {
		h.logger.Warn("malformed notification payload", "error", err)
		h.respond(w, r, http.StatusBadRequest, start)
		return
	}
	if notification.EventID == "" {
		h.logger.Warn("notification missing action.id")
		h.respond(w, r, http.StatusBadRequest, start)
		return
	}

	// Acknowledge before any further work: intake writes nothing
	// synchronously other than this response and, on backpressure, the
	// overflow log.
	select {
	case h.intake <- notification:
	default:
		metrics.IntakeOverflowTotal.Inc()
		if err := h.overflow.Record(notification.RawPayload); err != nil {
			h.logger.Error("failed to record overflow notification", "event_id", notification.EventID, "error", err)
		}
	}

	h.respond(w, r, http.StatusOK, start)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, start time.Time) {
	statusLabel := httpStatusLabel(status)
	metrics.HTTPRequestsTotal.WithLabelValues(metrics.EndpointNotification, statusLabel).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(metrics.EndpointNotification, statusLabel).Observe(time.Since(start).Seconds())
	w.WriteHeader(status)
}

func httpStatusLabel(status int) string {
	switch status {
	case http.StatusOK:
		return "200"
	case http.StatusBadRequest:
		return "400"
	default:
		return "other"
	}
}

// DrainOverflow periodically re-offers overflow-logged notifications to
// the dispatcher channel, draining one item at a time as capacity
// frees up. Run as a background goroutine from main.
func DrainOverflow(ctx context.Context, intakeCh chan<- Notification, overflowLog *overflow.Log, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainAvailable(intakeCh, overflowLog, logger)
		}
	}
}

func drainAvailable(intakeCh chan<- Notification, overflowLog *overflow.Log, logger *slog.Logger) {
	for {
		item, err := overflowLog.DrainOne()
		if err != nil {
			logger.Error("overflow drain query failed", "error", err)
			return
		}
		if item == nil {
			return
		}
		notification, err := ParseNotification(item.Payload)
		if err != nil {
			logger.Error("overflow item failed to re-parse, dropping", "id", item.ID, "error", err)
			continue
		}
		select {
		case intakeCh <- notification:
			metrics.IntakeOverflowDrainedTotal.Inc()
		default:
			// Still full: put it back by re-recording, then stop for
			// this tick rather than spinning.
			if err := overflowLog.Record(item.Payload); err != nil {
				logger.Error("failed to re-record undrainable overflow item", "id", item.ID, "error", err)
			}
			return
		}
	}
}
