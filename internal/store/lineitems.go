package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"

	"cardsync/internal/metrics"
)

// InsertLineItemsMaster appends rows to line_item_master, append-only.
// A no-op if rows is empty (empty description yields zero line items,
// which is not an error per the extractor's policy) or if any row
// already exists for card_id.
func (s *BigQueryStore) InsertLineItemsMaster(ctx context.Context, cardID string, rows []LineItemMasterRow) error {
	if len(rows) == 0 {
		return nil
	}
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpInsertLineItemsMaster))
	defer timer.ObserveDuration()

	q := s.query(fmt.Sprintf(`SELECT card_id FROM %s WHERE card_id = @card_id LIMIT 1`, s.tableRef(s.tables.LineItemMaster)))
	q.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}
	it, err := q.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertLineItemsMaster, "query").Inc()
		return fmt.Errorf("insert_line_items_master: %w", err)
	}
	var existing struct {
		CardID string `bigquery:"card_id"`
	}
	if err := it.Next(&existing); err == nil {
		return nil // already present
	} else if err != iterator.Done {
		return fmt.Errorf("insert_line_items_master: %w", err)
	}

	items := make([]*LineItemMasterRow, len(rows))
	for i := range rows {
		items[i] = &rows[i]
	}
	if err := s.inserter(s.tables.LineItemMaster).Put(ctx, items); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpInsertLineItemsMaster, "insert").Inc()
		return fmt.Errorf("insert_line_items_master: %w", err)
	}
	return nil
}

// ReplaceLineItemsCurrent atomically drops all current rows for card_id
// and inserts the new set. Readers may observe either the old or the
// new complete set, never a partial merge: the DELETE runs to
// completion before any INSERT begins, and the replacement set always
// comes from a single extraction run.
func (s *BigQueryStore) ReplaceLineItemsCurrent(ctx context.Context, cardID string, rows []LineItemCurrentRow) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent))
	defer timer.ObserveDuration()

	del := s.query(fmt.Sprintf(`DELETE FROM %s WHERE card_id = @card_id`, s.tableRef(s.tables.LineItemCurrent)))
	del.Parameters = []bigquery.QueryParameter{{Name: "card_id", Value: cardID}}

	job, err := del.Run(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent, "delete_run").Inc()
		return classifyWriteError("replace_line_items_current", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent, "delete_wait").Inc()
		return classifyWriteError("replace_line_items_current", err)
	}
	if err := status.Err(); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent, "delete_job").Inc()
		metrics.StoreDeferredTotal.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent).Inc()
		return classifyWriteError("replace_line_items_current", err)
	}

	if len(rows) == 0 {
		return nil
	}
	items := make([]*LineItemCurrentRow, len(rows))
	for i := range rows {
		items[i] = &rows[i]
	}
	if err := s.inserter(s.tables.LineItemCurrent).Put(ctx, items); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpReplaceLineItemsCurrent, "insert").Inc()
		return classifyWriteError("replace_line_items_current", err)
	}
	return nil
}
