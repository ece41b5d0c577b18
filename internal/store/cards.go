package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"

	"cardsync/internal/metrics"
)

// InsertCardMasterIfAbsent appends a card_master row unless one already
// exists for this card_id. Idempotent: applying it twice yields the
// same master row (the first), per spec.md testable property 7.
func (s *BigQueryStore) InsertCardMasterIfAbsent(ctx context.Context, row CardMasterRow) (bool, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpInsertCardMasterIfAbsent))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`
		SELECT card_id FROM %s WHERE card_id = @card_id LIMIT 1
	`, s.tableRef(s.tables.CardMaster)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: row.CardID}}

	it, err := q.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertCardMasterIfAbsent, "query").Inc()
		return false, fmt.Errorf("insert_card_master_if_absent: %w", err)
	}
	var existing struct {
		CardID string `bigquery:"card_id"`
	}
	switch err := it.Next(&existing); err {
	case nil:
		return false, nil // already present
	case iterator.Done:
		// proceed to insert
	default:
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertCardMasterIfAbsent, "scan").Inc()
		return false, fmt.Errorf("insert_card_master_if_absent: %w", err)
	}

	if err := s.inserter(s.tables.CardMaster).Put(ctx, &row); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertCardMasterIfAbsent, "insert").Inc()
		return false, fmt.Errorf("insert_card_master_if_absent: %w", err)
	}
	return true, nil
}

// CardMasterExists reports whether a card_master row already exists for
// cardID, the classifier's "does this card have a master row" check.
func (s *BigQueryStore) CardMasterExists(ctx context.Context, cardID string) (bool, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpInsertCardMasterIfAbsent))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`
		SELECT card_id FROM %s WHERE card_id = @card_id LIMIT 1
	`, s.tableRef(s.tables.CardMaster)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("card_master_exists: %w", err)
	}
	var existing struct {
		CardID string `bigquery:"card_id"`
	}
	switch err := it.Next(&existing); err {
	case nil:
		return true, nil
	case iterator.Done:
		return false, nil
	default:
		return false, fmt.Errorf("card_master_exists: %w", err)
	}
}

// GetCardCurrent fetches the full card_current row, used to preserve
// enrichment fields (purchaser, order summary, extraction timestamps)
// across a metadata-only update that must not touch them.
func (s *BigQueryStore) GetCardCurrent(ctx context.Context, cardID string) (*CardCurrentRow, bool, error) {
	q := s.query(fmt.Sprintf(`
		SELECT * FROM %s WHERE card_id = @card_id LIMIT 1
	`, s.tableRef(s.tables.CardCurrent)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get_card_current: %w", err)
	}
	var row CardCurrentRow
	switch err := it.Next(&row); err {
	case nil:
		return &row, true, nil
	case iterator.Done:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("get_card_current: %w", err)
	}
}

// UpsertCardCurrent replaces the single card_current row for row.CardID
// via MERGE, the one statement that handles both insert and update in a
// single atomic operation, streaming-buffer rows included.
func (s *BigQueryStore) UpsertCardCurrent(ctx context.Context, row CardCurrentRow) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpUpsertCardCurrent))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`
		MERGE %s AS target
		USING (SELECT
			@card_id AS card_id, @name AS name, @description AS description,
			@labels AS labels, @closed AS closed,
			@board_id AS board_id, @board_name AS board_name,
			@list_id AS list_id, @list_name AS list_name,
			@purchaser AS purchaser, @order_summary AS order_summary,
			@primary_buyer_name AS primary_buyer_name, @primary_buyer_email AS primary_buyer_email,
			@date_created AS date_created, @datetime_created AS datetime_created,
			@line_item_count AS line_item_count,
			@last_updated_at AS last_updated_at, @last_extracted_at AS last_extracted_at,
			@last_extraction_event_id AS last_extraction_event_id, @last_event_type AS last_event_type
		) AS source
		ON target.card_id = source.card_id
		WHEN MATCHED THEN UPDATE SET
			name = source.name, description = source.description, labels = source.labels,
			closed = source.closed, board_id = source.board_id, board_name = source.board_name,
			list_id = source.list_id, list_name = source.list_name,
			purchaser = source.purchaser, order_summary = source.order_summary,
			primary_buyer_name = source.primary_buyer_name, primary_buyer_email = source.primary_buyer_email,
			date_created = source.date_created, datetime_created = source.datetime_created,
			line_item_count = source.line_item_count,
			last_updated_at = source.last_updated_at, last_extracted_at = source.last_extracted_at,
			last_extraction_event_id = source.last_extraction_event_id, last_event_type = source.last_event_type
		WHEN NOT MATCHED THEN INSERT (
			card_id, name, description, labels, closed, board_id, board_name, list_id, list_name,
			purchaser, order_summary, primary_buyer_name, primary_buyer_email,
			date_created, datetime_created, line_item_count,
			last_updated_at, last_extracted_at, last_extraction_event_id, last_event_type
		) VALUES (
			source.card_id, source.name, source.description, source.labels, source.closed,
			source.board_id, source.board_name, source.list_id, source.list_name,
			source.purchaser, source.order_summary, source.primary_buyer_name, source.primary_buyer_email,
			source.date_created, source.datetime_created, source.line_item_count,
			source.last_updated_at, source.last_extracted_at, source.last_extraction_event_id, source.last_event_type
		)
	`, s.tableRef(s.tables.CardCurrent)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "card_id", Value: row.CardID},
		{Name: "name", Value: row.Name},
		{Name: "description", Value: row.Description},
		{Name: "labels", Value: row.Labels},
		{Name: "closed", Value: row.Closed},
		{Name: "board_id", Value: row.BoardID},
		{Name: "board_name", Value: row.BoardName},
		{Name: "list_id", Value: row.ListID},
		{Name: "list_name", Value: row.ListName},
		{Name: "purchaser", Value: row.Purchaser},
		{Name: "order_summary", Value: row.OrderSummary},
		{Name: "primary_buyer_name", Value: row.PrimaryBuyerName},
		{Name: "primary_buyer_email", Value: row.PrimaryBuyerEmail},
		{Name: "date_created", Value: row.DateCreated},
		{Name: "datetime_created", Value: row.DatetimeCreated},
		{Name: "line_item_count", Value: row.LineItemCount},
		{Name: "last_updated_at", Value: row.LastUpdatedAt},
		{Name: "last_extracted_at", Value: row.LastExtractedAt},
		{Name: "last_extraction_event_id", Value: row.LastExtractionEventID},
		{Name: "last_event_type", Value: row.LastEventType},
	}

	job, err := q.Run(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpUpsertCardCurrent, "run").Inc()
		return classifyWriteError("upsert_card_current", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpUpsertCardCurrent, "wait").Inc()
		return classifyWriteError("upsert_card_current", err)
	}
	if err := status.Err(); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpUpsertCardCurrent, "job").Inc()
		metrics.StoreDeferredTotal.WithLabelValues(metrics.StoreOpUpsertCardCurrent).Inc()
		return classifyWriteError("upsert_card_current", err)
	}
	return nil
}
