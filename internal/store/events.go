package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"

	"cardsync/internal/metrics"
)

// InsertEvent appends a notification_events row via a streaming insert.
// It returns ErrDuplicateKey when an EventExists pre-check already finds
// the event_id; two concurrent inserts of the same id can both pass that
// check, since streaming inserts have no unique constraint.
func (s *BigQueryStore) InsertEvent(ctx context.Context, row EventRow) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpInsertEvent))
	defer timer.ObserveDuration()

	exists, err := s.EventExists(ctx, row.EventID)
	if err != nil {
		return fmt.Errorf("insert_event: %w", err)
	}
	if exists {
		return ErrDuplicateKey
	}

	if err := s.inserter(s.tables.Events).Put(ctx, &row); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertEvent, "insert").Inc()
		return fmt.Errorf("insert_event: %w", err)
	}
	return nil
}

// EventExists is the idempotency read: true if event_id was already recorded.
func (s *BigQueryStore) EventExists(ctx context.Context, eventID string) (bool, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpEventExists))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`
		SELECT event_id FROM %s WHERE event_id = @event_id LIMIT 1
	`, s.tableRef(s.tables.Events)))
	q.Parameters = []bigquery.QueryParameter{{Name: "event_id", Value: eventID}}

	it, err := q.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpEventExists, "query").Inc()
		return false, fmt.Errorf("event_exists: %w", err)
	}
	var row struct {
		EventID string `bigquery:"event_id"`
	}
	switch err := it.Next(&row); err {
	case nil:
		return true, nil
	case iterator.Done:
		return false, nil
	default:
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpEventExists, "scan").Inc()
		return false, fmt.Errorf("event_exists: %w", err)
	}
}

// GetLastKnownDescription reads card_current first; on a cache miss it
// falls back to the most recently processed event for that card, per
// the cyclic-relation design note (§9 of spec.md).
func (s *BigQueryStore) GetLastKnownDescription(ctx context.Context, cardID string) (string, bool, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpGetLastKnownDescription))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`
		SELECT description FROM %s WHERE card_id = @card_id LIMIT 1
	`, s.tableRef(s.tables.CardCurrent)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it, err := q.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpGetLastKnownDescription, "query").Inc()
		return "", false, fmt.Errorf("get_last_known_description: %w", err)
	}
	var row struct {
		Description string `bigquery:"description"`
	}
	switch err := it.Next(&row); err {
	case nil:
		return row.Description, true, nil
	case iterator.Done:
		// fall through to event-table fallback
	default:
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpGetLastKnownDescription, "scan").Inc()
		return "", false, fmt.Errorf("get_last_known_description: %w", err)
	}

	q2 := s.query(fmt.Sprintf(`
		SELECT JSON_VALUE(raw_payload, '$.action.data.card.desc') AS description
		FROM %s
		WHERE card_id = @card_id AND processed = true
		ORDER BY action_time DESC
		LIMIT 1
	`, s.tableRef(s.tables.Events)))
	q2.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it2, err := q2.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpGetLastKnownDescription, "fallback_query").Inc()
		return "", false, fmt.Errorf("get_last_known_description fallback: %w", err)
	}
	var row2 struct {
		Description bigquery.NullString `bigquery:"description"`
	}
	switch err := it2.Next(&row2); err {
	case nil:
		return row2.Description.StringVal, true, nil
	case iterator.Done:
		return "", false, nil
	default:
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpGetLastKnownDescription, "fallback_scan").Inc()
		return "", false, fmt.Errorf("get_last_known_description fallback: %w", err)
	}
}

// FinalizeEvent updates the processing-status fields via MERGE, the only
// safe way to touch a row that may still be in the streaming buffer.
func (s *BigQueryStore) FinalizeEvent(ctx context.Context, eventID string, success bool, extractionTriggered bool, errMessage string) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpFinalizeEvent))
	defer timer.ObserveDuration()

	now := time.Now().UTC()
	q := s.query(fmt.Sprintf(`
		MERGE %s AS target
		USING (SELECT @event_id AS event_id) AS source
		ON target.event_id = source.event_id
		WHEN MATCHED THEN UPDATE SET
			processed = @processed,
			processed_at = @processed_at,
			extraction_triggered = @extraction_triggered,
			error_message = @error_message
	`, s.tableRef(s.tables.Events)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "event_id", Value: eventID},
		{Name: "processed", Value: success},
		{Name: "processed_at", Value: now},
		{Name: "extraction_triggered", Value: extractionTriggered},
		{Name: "error_message", Value: nullableString(errMessage)},
	}

	job, err := q.Run(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpFinalizeEvent, "run").Inc()
		return classifyWriteError("finalize_event", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpFinalizeEvent, "wait").Inc()
		return classifyWriteError("finalize_event", err)
	}
	if err := status.Err(); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpFinalizeEvent, "job").Inc()
		metrics.StoreDeferredTotal.WithLabelValues(metrics.StoreOpFinalizeEvent).Inc()
		return classifyWriteError("finalize_event", err)
	}
	return nil
}

func nullableString(s string) bigquery.NullString {
	if s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}

func nullableTimestamp(t time.Time) bigquery.NullTimestamp {
	if t.IsZero() {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t, Valid: true}
}
