// Package dispatcher implements the per-notification state machine:
// idempotency check, raw-event record, card fetch, change
// classification, conditional extraction, the store writes each class
// requires, and event finalization. It is the orchestration point
// between every other component.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"

	"cardsync/internal/classify"
	"cardsync/internal/dispatcher/cardlock"
	"cardsync/internal/intake"
	"cardsync/internal/metrics"
	"cardsync/internal/store"
	"cardsync/internal/taxonomy"
)

// Dispatcher owns the store, source client, and extractor collaborators
// and coordinates per-card serialization across a worker pool.
type Dispatcher struct {
	store   store.Store
	source  SourceClient
	extract ExtractFunc
	locks   *cardlock.Shard
	logger  *slog.Logger
}

// New constructs a Dispatcher. extract is usually extractor.Extract;
// tests pass a stub matching ExtractFunc.
func New(st store.Store, src SourceClient, extract ExtractFunc, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   st,
		source:  src,
		extract: extract,
		locks:   cardlock.New(),
		logger:  logger,
	}
}

// Run pulls notifications off in until ctx is cancelled or in is
// closed, dispatching to a bounded pool of concurrency workers. It
// returns once every worker has drained and exited.
func (d *Dispatcher) Run(ctx context.Context, concurrency int, in <-chan intake.Notification) {
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-in:
					if !ok {
						return
					}
					metrics.IntakeChannelDepth.Set(float64(len(in)))
					d.Process(ctx, n)
				}
			}
		}()
	}
	wg.Wait()
}

// Process runs one notification through the full state machine. Run
// discards the returned error — every outcome is either a finalized
// event, an enqueued pending-update, or (for malformed input that the
// HTTP layer normally rejects first) a logged drop. The returned error
// serves test assertions.
func (d *Dispatcher) Process(ctx context.Context, n intake.Notification) error {
	start := time.Now()
	outcome := metrics.OutcomeIrrelevant
	defer func() {
		metrics.DispatchOutcomesTotal.WithLabelValues(outcome).Inc()
		metrics.DispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if n.EventID == "" {
		d.logger.Error("dispatcher received notification with no event_id; dropping")
		return fmt.Errorf("dispatch: %w", taxonomy.ErrMalformedPayload)
	}

	exists, err := d.store.EventExists(ctx, n.EventID)
	if err != nil {
		d.logger.Error("event_exists failed", "event_id", n.EventID, "error", err)
		return err
	}
	if exists {
		outcome = metrics.OutcomeDuplicate
		return nil
	}

	eventRow := store.EventRow{
		EventID:          n.EventID,
		ActionKind:       n.ActionKind,
		ActionTime:       n.ActionTime,
		CardID:           n.CardID,
		BoardID:          toNullString(n.BoardID),
		BoardName:        toNullString(n.BoardName),
		ListBeforeID:     toNullString(n.ListBeforeID),
		ListBeforeName:   toNullString(n.ListBeforeName),
		ListAfterID:      toNullString(n.ListAfterID),
		ListAfterName:    toNullString(n.ListAfterName),
		IsListTransition: n.IsListTransition(),
		ActorID:          toNullString(n.ActorID),
		ActorName:        toNullString(n.ActorName),
		RawPayload:       bigquery.NullJSON{JSONVal: string(n.RawPayload), Valid: len(n.RawPayload) > 0},
		CreatedAt:        time.Now().UTC(),
	}
	if err := d.store.InsertEvent(ctx, eventRow); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			outcome = metrics.OutcomeDuplicate
			return nil
		}
		d.logger.Error("insert_event failed", "event_id", n.EventID, "error", err)
		return err
	}

	if n.CardID == "" || !isRelevantAction(n.ActionKind) {
		outcome = metrics.OutcomeIrrelevant
		d.finalize(ctx, n.EventID, true, false, "")
		return nil
	}

	d.locks.Lock(n.CardID)
	defer d.locks.Unlock(n.CardID)

	card, err := d.source.FetchCard(ctx, n.CardID)
	if err != nil {
		if errors.Is(err, taxonomy.ErrCardAbsent) {
			outcome = metrics.OutcomeCardAbsent
			d.finalize(ctx, n.EventID, false, false, taxonomy.ErrCardAbsent.Error())
			return nil
		}
		outcome = metrics.OutcomeFetchFailed
		d.logger.Error("fetch_card failed", "event_id", n.EventID, "card_id", n.CardID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}

	masterExists, err := d.store.CardMasterExists(ctx, n.CardID)
	if err != nil {
		d.logger.Error("card_master_exists failed", "card_id", n.CardID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}
	previousDescription, previousKnown, err := d.store.GetLastKnownDescription(ctx, n.CardID)
	if err != nil {
		d.logger.Error("get_last_known_description failed", "card_id", n.CardID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}

	class := classify.Classify(classify.Input{
		ActionKind:          n.ActionKind,
		CardIDPresent:       true,
		MasterExists:        masterExists,
		NewDescription:      card.Desc,
		PreviousDescription: previousDescription,
		PreviousKnown:       previousKnown,
	})

	switch class {
	case classify.Irrelevant:
		outcome = metrics.OutcomeIrrelevant
		d.finalize(ctx, n.EventID, true, false, "")
		return nil
	case classify.New:
		outcome = metrics.OutcomeNew
		return d.applyNew(ctx, n, card)
	case classify.DescChanged:
		outcome = metrics.OutcomeDescChanged
		return d.applyDescChanged(ctx, n, card)
	case classify.MetadataOnly:
		outcome = metrics.OutcomeMetadataOnly
		return d.applyMetadataOnly(ctx, n, card)
	default:
		outcome = metrics.OutcomeIrrelevant
		d.finalize(ctx, n.EventID, true, false, "")
		return nil
	}
}

// isRelevantAction matches Trello's own action.type strings verbatim
// (not a collapsed enum) so it shares a vocabulary with ParseNotification
// and classify.relevantActionKinds. deleteCard, commentCard, and every
// other action type fall through to the irrelevant path below — a
// deleteCard is deliberately never treated as an update (SPEC_FULL.md
// §9 ADDED), so its action_kind is recorded verbatim and it is
// finalized with extraction_triggered=false like any other irrelevant
// notification.
func isRelevantAction(actionKind string) bool {
	return actionKind == "createCard" || actionKind == "updateCard"
}

// finalize calls store.FinalizeEvent, converting a deferred failure
// into a pending finalize_event row so the retry worker drives it to
// completion; any other error is logged loudly and left as-is (the
// event simply remains unfinalized for operator attention).
func (d *Dispatcher) finalize(ctx context.Context, eventID string, success, extractionTriggered bool, errMessage string) {
	err := d.store.FinalizeEvent(ctx, eventID, success, extractionTriggered, errMessage)
	if err == nil {
		return
	}
	sentinel := taxonomy.Classify(err)
	if errors.Is(sentinel, taxonomy.ErrStoreDeferred) {
		d.enqueueFinalize(ctx, eventID, success, extractionTriggered, errMessage)
		return
	}
	d.logger.Error("finalize_event failed permanently", "event_id", eventID, "error", err)
}

func (d *Dispatcher) enqueueFinalize(ctx context.Context, eventID string, success, extractionTriggered bool, errMessage string) {
	payload, err := store.ToNullJSON(store.FinalizeEventPayload{
		EventID:             eventID,
		Success:             success,
		ExtractionTriggered: extractionTriggered,
		ErrorMessage:        errMessage,
	})
	if err != nil {
		d.logger.Error("failed to marshal finalize_event pending payload", "event_id", eventID, "error", err)
		return
	}
	now := time.Now().UTC()
	if err := d.store.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: store.OpFinalizeEvent,
		TargetTable:   "notification_events",
		Payload:       payload,
		NextRetryAt:   now,
	}); err != nil {
		d.logger.Error("failed to enqueue pending finalize_event", "event_id", eventID, "error", err)
	}
}
