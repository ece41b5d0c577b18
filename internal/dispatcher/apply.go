package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/bigquery"

	"cardsync/internal/intake"
	"cardsync/internal/source"
	"cardsync/internal/store"
	"cardsync/internal/taxonomy"
)

// applyNew handles classify.New: extract, insert the immutable master
// row, upsert current, then insert+replace both line-item tables.
func (d *Dispatcher) applyNew(ctx context.Context, n intake.Notification, card *source.Card) error {
	result, err := d.extract(ctx, card.Name, card.Desc)
	if err != nil {
		d.logger.Error("extraction failed", "event_id", n.EventID, "card_id", n.CardID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}

	now := time.Now().UTC()
	fields := cardFields(card, n, result)

	master := store.CardMasterRow{
		CardFields:             fields,
		FirstExtractedAt:       bigquery.NullTimestamp{Timestamp: now, Valid: true},
		FirstExtractionEventID: toNullString(n.EventID),
	}
	current := store.CardCurrentRow{
		CardFields:            fields,
		LastUpdatedAt:         now,
		LastExtractedAt:       bigquery.NullTimestamp{Timestamp: now, Valid: true},
		LastExtractionEventID: toNullString(n.EventID),
		LastEventType:         toNullString(n.ActionKind),
	}
	masterItems := lineItemMasterRows(card.ID, result.LineItems)
	currentItems := lineItemCurrentRows(card.ID, result.LineItems)

	if _, err := d.store.InsertCardMasterIfAbsent(ctx, master); err != nil {
		return d.handleCardWriteFailure(ctx, n, &master, current, masterItems, currentItems, true, err)
	}
	if err := d.store.UpsertCardCurrent(ctx, current); err != nil {
		return d.handleCardWriteFailure(ctx, n, &master, current, masterItems, currentItems, false, err)
	}
	return d.finishLineItems(ctx, n, card.ID, masterItems, currentItems, true)
}

// applyDescChanged handles classify.DescChanged: extract, upsert
// current, replace line-items-current. Master rows are left untouched.
func (d *Dispatcher) applyDescChanged(ctx context.Context, n intake.Notification, card *source.Card) error {
	result, err := d.extract(ctx, card.Name, card.Desc)
	if err != nil {
		d.logger.Error("extraction failed", "event_id", n.EventID, "card_id", n.CardID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}

	now := time.Now().UTC()
	fields := cardFields(card, n, result)
	current := store.CardCurrentRow{
		CardFields:            fields,
		LastUpdatedAt:         now,
		LastExtractedAt:       bigquery.NullTimestamp{Timestamp: now, Valid: true},
		LastExtractionEventID: toNullString(n.EventID),
		LastEventType:         toNullString(n.ActionKind),
	}
	masterItems := lineItemMasterRows(card.ID, result.LineItems)
	currentItems := lineItemCurrentRows(card.ID, result.LineItems)

	if err := d.store.UpsertCardCurrent(ctx, current); err != nil {
		return d.handleCardWriteFailure(ctx, n, nil, current, masterItems, currentItems, false, err)
	}
	return d.finishLineItems(ctx, n, card.ID, masterItems, currentItems, true)
}

// applyMetadataOnly handles classify.MetadataOnly: no extraction runs.
// The existing enrichment fields (purchaser, order summary, buyer
// contact, last_extracted_at, line_item_count) are read back and
// carried forward untouched; only the metadata columns (name, labels,
// closed, board/list identity) are refreshed.
func (d *Dispatcher) applyMetadataOnly(ctx context.Context, n intake.Notification, card *source.Card) error {
	existing, found, err := d.store.GetCardCurrent(ctx, card.ID)
	if err != nil {
		d.logger.Error("get_card_current failed", "card_id", card.ID, "error", err)
		d.finalize(ctx, n.EventID, false, false, err.Error())
		return err
	}

	fields := cardFields(card, n, nil)
	current := store.CardCurrentRow{CardFields: fields, LastUpdatedAt: time.Now().UTC(), LastEventType: toNullString(n.ActionKind)}
	if found {
		current.Purchaser = existing.Purchaser
		current.OrderSummary = existing.OrderSummary
		current.PrimaryBuyerName = existing.PrimaryBuyerName
		current.PrimaryBuyerEmail = existing.PrimaryBuyerEmail
		current.LineItemCount = existing.LineItemCount
		current.LastExtractedAt = existing.LastExtractedAt
		current.LastExtractionEventID = existing.LastExtractionEventID
	}

	if err := d.store.UpsertCardCurrent(ctx, current); err != nil {
		return d.handleCardWriteFailure(ctx, n, nil, current, nil, nil, false, err)
	}
	d.finalize(ctx, n.EventID, true, false, "")
	return nil
}

// handleCardWriteFailure classifies a card-row write error. Deferred
// failures are queued as a chained pending-update that redrives the
// card row (and, if it was needed, the line-items replace) followed by
// finalize_event; any other failure finalizes the event as failed.
func (d *Dispatcher) handleCardWriteFailure(ctx context.Context, n intake.Notification, master *store.CardMasterRow, current store.CardCurrentRow, masterItems []store.LineItemMasterRow, currentItems []store.LineItemCurrentRow, insertMaster bool, writeErr error) error {
	sentinel := taxonomy.Classify(writeErr)
	if !errors.Is(sentinel, taxonomy.ErrStoreDeferred) {
		d.logger.Error("card write failed permanently", "event_id", n.EventID, "card_id", n.CardID, "error", writeErr)
		d.finalize(ctx, n.EventID, false, false, writeErr.Error())
		return writeErr
	}

	var next *store.ChainedOp
	if currentItems != nil {
		lineItemsPayload, err := store.ToNullJSON(store.ReplaceLineItemsPayload{
			EventID:      n.EventID,
			CardID:       n.CardID,
			InsertMaster: true,
			MasterRows:   masterItems,
			CurrentRows:  currentItems,
			Next:         finalizeChainedOp(n.EventID, true),
		})
		if err == nil {
			next = &store.ChainedOp{OperationKind: store.OpReplaceLineItems, Payload: json.RawMessage(lineItemsPayload.JSONVal)}
		} else {
			d.logger.Error("failed to marshal chained replace_line_items payload", "event_id", n.EventID, "error", err)
		}
	} else {
		next = finalizeChainedOp(n.EventID, false)
	}

	payload, err := store.ToNullJSON(store.UpsertCardPayload{
		EventID:      n.EventID,
		InsertMaster: insertMaster,
		Master:       master,
		Current:      current,
		Next:         next,
	})
	if err != nil {
		d.logger.Error("failed to marshal pending upsert_card payload", "event_id", n.EventID, "error", err)
		d.finalize(ctx, n.EventID, false, false, writeErr.Error())
		return writeErr
	}
	if err := d.store.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: store.OpUpsertCard,
		TargetTable:   "card_current",
		Payload:       payload,
		NextRetryAt:   time.Now().UTC(),
	}); err != nil {
		d.logger.Error("failed to enqueue pending upsert_card", "event_id", n.EventID, "error", err)
	}
	return writeErr
}

// finishLineItems inserts the append-only master line-items (no-op if
// already present) and atomically replaces the current set, then
// finalizes the event.
func (d *Dispatcher) finishLineItems(ctx context.Context, n intake.Notification, cardID string, masterItems []store.LineItemMasterRow, currentItems []store.LineItemCurrentRow, extractionTriggered bool) error {
	if err := d.store.InsertLineItemsMaster(ctx, cardID, masterItems); err != nil {
		return d.handleLineItemsFailure(ctx, n, cardID, masterItems, currentItems, true, extractionTriggered, err)
	}
	if err := d.store.ReplaceLineItemsCurrent(ctx, cardID, currentItems); err != nil {
		return d.handleLineItemsFailure(ctx, n, cardID, nil, currentItems, false, extractionTriggered, err)
	}
	d.finalize(ctx, n.EventID, true, extractionTriggered, "")
	return nil
}

func (d *Dispatcher) handleLineItemsFailure(ctx context.Context, n intake.Notification, cardID string, masterItems []store.LineItemMasterRow, currentItems []store.LineItemCurrentRow, insertMaster bool, extractionTriggered bool, writeErr error) error {
	sentinel := taxonomy.Classify(writeErr)
	if !errors.Is(sentinel, taxonomy.ErrStoreDeferred) {
		d.logger.Error("line-items write failed permanently", "event_id", n.EventID, "card_id", cardID, "error", writeErr)
		d.finalize(ctx, n.EventID, false, extractionTriggered, writeErr.Error())
		return writeErr
	}

	payload, err := store.ToNullJSON(store.ReplaceLineItemsPayload{
		EventID:      n.EventID,
		CardID:       cardID,
		InsertMaster: insertMaster,
		MasterRows:   masterItems,
		CurrentRows:  currentItems,
		Next:         finalizeChainedOp(n.EventID, extractionTriggered),
	})
	if err != nil {
		d.logger.Error("failed to marshal pending replace_line_items payload", "event_id", n.EventID, "error", err)
		d.finalize(ctx, n.EventID, false, extractionTriggered, writeErr.Error())
		return writeErr
	}
	if err := d.store.EnqueuePending(ctx, store.PendingUpdateRow{
		OperationKind: store.OpReplaceLineItems,
		TargetTable:   "line_item_current",
		Payload:       payload,
		NextRetryAt:   time.Now().UTC(),
	}); err != nil {
		d.logger.Error("failed to enqueue pending replace_line_items", "event_id", n.EventID, "error", err)
	}
	return writeErr
}

func finalizeChainedOp(eventID string, extractionTriggered bool) *store.ChainedOp {
	payload, err := store.ToNullJSON(store.FinalizeEventPayload{
		EventID:             eventID,
		Success:             true,
		ExtractionTriggered: extractionTriggered,
	})
	if err != nil {
		return nil
	}
	return &store.ChainedOp{OperationKind: store.OpFinalizeEvent, Payload: json.RawMessage(payload.JSONVal)}
}
