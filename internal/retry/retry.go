// Package retry implements the retry worker: a long-lived loop that
// periodically scans the pending-updates queue and re-applies store
// operations the dispatcher deferred after a streaming-buffer
// rejection. It is the sole writer of the `completed` pending-update
// status; a notification's effects are durable only once every
// operation it enqueued reaches that status.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"

	"cardsync/internal/metrics"
	"cardsync/internal/store"
)

// Config tunes the worker's cadence and backoff, mirroring spec.md
// §4.G / §6's configuration surface.
type Config struct {
	Tick        time.Duration
	BatchLimit  int
	MaxRetries  int
	RetryBase   time.Duration
}

// Worker periodically claims and attempts due pending-update rows.
type Worker struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

func New(st store.Store, cfg Config, logger *slog.Logger) *Worker {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &Worker{store: st, cfg: cfg, logger: logger}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RetryTickDuration.Observe(time.Since(start).Seconds()) }()

	rows, err := w.store.ClaimPending(ctx, w.cfg.BatchLimit, time.Now().UTC())
	if err != nil {
		w.logger.Error("claim_pending failed", "error", err)
		return
	}
	for _, row := range rows {
		w.attempt(ctx, row)
	}
}

// attempt redrives one pending-update row's operation against the
// store, chains any follow-on operation its payload carries on
// success, and reports the outcome back via complete_pending.
func (w *Worker) attempt(ctx context.Context, row store.PendingUpdateRow) {
	err := w.apply(ctx, row)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultRetry
		w.logger.Warn("pending update attempt failed", "update_id", row.UpdateID, "operation_kind", row.OperationKind, "retry_count", row.RetryCount, "error", err)
	}
	metrics.RetryAttemptsTotal.WithLabelValues(row.OperationKind, result).Inc()

	errMessage := ""
	if err != nil {
		errMessage = err.Error()
	}
	if completeErr := w.store.CompletePending(ctx, row.UpdateID, err == nil, errMessage, w.cfg.MaxRetries, w.cfg.RetryBase); completeErr != nil {
		w.logger.Error("complete_pending failed", "update_id", row.UpdateID, "error", completeErr)
		return
	}
	if err != nil && int(row.RetryCount)+1 >= w.cfg.MaxRetries {
		metrics.RetryTerminalFailuresTotal.WithLabelValues(row.OperationKind).Inc()
		w.logger.Error("pending update exhausted max_retries; operator intervention required", "update_id", row.UpdateID, "operation_kind", row.OperationKind, "target_table", row.TargetTable)
	}
}

func (w *Worker) apply(ctx context.Context, row store.PendingUpdateRow) error {
	switch row.OperationKind {
	case store.OpUpsertCard:
		return w.applyUpsertCard(ctx, row.Payload)
	case store.OpReplaceLineItems:
		return w.applyReplaceLineItems(ctx, row.Payload)
	case store.OpFinalizeEvent:
		return w.applyFinalizeEvent(ctx, row.Payload)
	default:
		return fmt.Errorf("retry: unknown operation_kind %q", row.OperationKind)
	}
}

// applyUpsertCard redrives the card-row half of a deferred write: the
// master insert (if it hadn't already succeeded) and the current-row
// replace, then chains whatever follow-on operation the payload names.
func (w *Worker) applyUpsertCard(ctx context.Context, raw bigquery.NullJSON) error {
	var payload store.UpsertCardPayload
	if err := store.FromNullJSON(raw, &payload); err != nil {
		return fmt.Errorf("retry: decode upsert_card payload: %w", err)
	}
	if payload.InsertMaster && payload.Master != nil {
		if _, err := w.store.InsertCardMasterIfAbsent(ctx, *payload.Master); err != nil {
			return err
		}
	}
	if err := w.store.UpsertCardCurrent(ctx, payload.Current); err != nil {
		return err
	}
	return w.chainNext(ctx, payload.Next)
}

// applyReplaceLineItems redrives the line-item half: the append-only
// master insert (no-op if already present) and the atomic current-set
// replace, then chains the follow-on operation.
func (w *Worker) applyReplaceLineItems(ctx context.Context, raw bigquery.NullJSON) error {
	var payload store.ReplaceLineItemsPayload
	if err := store.FromNullJSON(raw, &payload); err != nil {
		return fmt.Errorf("retry: decode replace_line_items payload: %w", err)
	}
	if payload.InsertMaster && len(payload.MasterRows) > 0 {
		if err := w.store.InsertLineItemsMaster(ctx, payload.CardID, payload.MasterRows); err != nil {
			return err
		}
	}
	if err := w.store.ReplaceLineItemsCurrent(ctx, payload.CardID, payload.CurrentRows); err != nil {
		return err
	}
	return w.chainNext(ctx, payload.Next)
}

// applyFinalizeEvent redrives the terminal finalize_event call. It has
// no follow-on: finalize is always the last link in the chain.
func (w *Worker) applyFinalizeEvent(ctx context.Context, raw bigquery.NullJSON) error {
	var payload store.FinalizeEventPayload
	if err := store.FromNullJSON(raw, &payload); err != nil {
		return fmt.Errorf("retry: decode finalize_event payload: %w", err)
	}
	return w.store.FinalizeEvent(ctx, payload.EventID, payload.Success, payload.ExtractionTriggered, payload.ErrorMessage)
}

// chainNext enqueues the follow-on operation a payload names, if any,
// to run on the worker's very next tick.
func (w *Worker) chainNext(ctx context.Context, next *store.ChainedOp) error {
	if next == nil {
		return nil
	}
	return w.store.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: next.OperationKind,
		Payload:       bigquery.NullJSON{JSONVal: string(next.Payload), Valid: true},
		NextRetryAt:   time.Now().UTC(),
	})
}
