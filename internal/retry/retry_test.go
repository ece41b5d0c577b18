package retry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cardsync/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickAppliesUpsertCardAndChainsFinalize(t *testing.T) {
	st := store.NewFake()
	ctx := context.Background()

	if err := st.InsertEvent(ctx, store.EventRow{EventID: "E1", CardID: "C1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("seed InsertEvent: %v", err)
	}

	current := store.CardCurrentRow{CardFields: store.CardFields{CardID: "C1", Name: "Order"}}
	next := finalizeOp(t, "E1")
	payload, err := store.ToNullJSON(store.UpsertCardPayload{
		EventID:      "E1",
		InsertMaster: true,
		Master:       &store.CardMasterRow{CardFields: store.CardFields{CardID: "C1", Name: "Order"}},
		Current:      current,
		Next:         next,
	})
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	if err := st.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: store.OpUpsertCard,
		TargetTable:   "card_current",
		Payload:       payload,
		NextRetryAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}

	w := New(st, Config{Tick: time.Hour, BatchLimit: 10, MaxRetries: 10, RetryBase: time.Second}, testLogger())
	w.tick(ctx)

	exists, _ := st.CardMasterExists(ctx, "C1")
	if !exists {
		t.Fatal("expected retry worker to apply the deferred master insert")
	}

	// The chained finalize_event op is enqueued for immediate retry.
	w.tick(ctx)

	completed, err := st.CountPendingByStatus(ctx, store.StatusCompleted)
	if err != nil {
		t.Fatalf("CountPendingByStatus: %v", err)
	}
	if completed != 2 {
		t.Fatalf("expected both the upsert_card op and its chained finalize_event to complete, got %d completed", completed)
	}
}

func TestTickRetriesOnFailureWithBackoff(t *testing.T) {
	st := store.NewFake()
	ctx := context.Background()

	payload, err := store.ToNullJSON(store.FinalizeEventPayload{EventID: "E-missing", Success: true})
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	if err := st.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: store.OpFinalizeEvent,
		Payload:       payload,
		NextRetryAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}

	// FinalizeEvent on store.Fake is a silent no-op for an unknown
	// event_id rather than an error, so this op "succeeds" trivially;
	// exercise the failure path directly via an unknown operation_kind.
	badPayload, _ := store.ToNullJSON(map[string]string{})
	if err := st.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: "not_a_real_operation",
		Payload:       badPayload,
		NextRetryAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}

	w := New(st, Config{Tick: time.Hour, BatchLimit: 10, MaxRetries: 3, RetryBase: time.Second}, testLogger())
	w.tick(ctx)

	pending, err := st.CountPendingByStatus(ctx, store.StatusPending)
	if err != nil {
		t.Fatalf("CountPendingByStatus: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected the unknown-operation row to be requeued as pending after failure, got %d pending", pending)
	}

	// The requeued row's next_retry_at moved forward by RetryBase*2^1 plus
	// jitter, so it is not yet due again.
	again, err := st.ClaimPending(ctx, 10, time.Now().UTC())
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected the requeued row to wait out its backoff, got %d claimable now", len(again))
	}
}

func finalizeOp(t *testing.T, eventID string) *store.ChainedOp {
	t.Helper()
	payload, err := store.ToNullJSON(store.FinalizeEventPayload{EventID: eventID, Success: true, ExtractionTriggered: true})
	if err != nil {
		t.Fatalf("ToNullJSON: %v", err)
	}
	return &store.ChainedOp{OperationKind: store.OpFinalizeEvent, Payload: []byte(payload.JSONVal)}
}
