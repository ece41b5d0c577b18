package store

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/iterator"

	"cardsync/internal/metrics"
)

// EnqueuePending appends a retry-queue row with status=pending,
// retry_count=0, next_retry_at=now.
func (s *BigQueryStore) EnqueuePending(ctx context.Context, row PendingUpdateRow) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpEnqueuePending))
	defer timer.ObserveDuration()

	if row.UpdateID == "" {
		row.UpdateID = uuid.NewString()
	}
	row.Status = StatusPending
	row.RetryCount = 0
	now := time.Now().UTC()
	row.FirstQueuedAt = now
	row.CreatedAt = now
	if row.NextRetryAt.IsZero() {
		row.NextRetryAt = now
	}

	if err := s.inserter(s.tables.PendingUpdates).Put(ctx, &row); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpEnqueuePending, "insert").Inc()
		return fmt.Errorf("enqueue_pending: %w", err)
	}
	return nil
}

// ClaimPending atomically transitions up to limit due-and-pending rows
// to processing, stamping them with a fresh claim token so a second
// worker's concurrent claim can't steal the same rows (BigQuery has no
// row locks, so the claim token equality check on the UPDATE's WHERE
// clause is the serialization point). It then reads back exactly the
// rows carrying that token.
func (s *BigQueryStore) ClaimPending(ctx context.Context, limit int, now time.Time) ([]PendingUpdateRow, error) {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpClaimPending))
	defer timer.ObserveDuration()

	token := uuid.NewString()

	update := s.query(fmt.Sprintf(`
		UPDATE %[1]s
		SET status = @processing, claim_token = @token, last_retry_at = @now
		WHERE update_id IN (
			SELECT update_id FROM %[1]s
			WHERE status = @pending AND next_retry_at <= @now
			ORDER BY first_queued_at ASC
			LIMIT @limit
		)
	`, s.tableRef(s.tables.PendingUpdates)))
	update.Parameters = []bigquery.QueryParameter{
		{Name: "processing", Value: StatusProcessing},
		{Name: "token", Value: token},
		{Name: "now", Value: now},
		{Name: "pending", Value: StatusPending},
		{Name: "limit", Value: limit},
	}

	job, err := update.Run(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpClaimPending, "update_run").Inc()
		return nil, fmt.Errorf("claim_pending: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpClaimPending, "update_wait").Inc()
		return nil, fmt.Errorf("claim_pending: %w", err)
	}
	if err := status.Err(); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpClaimPending, "update_job").Inc()
		return nil, fmt.Errorf("claim_pending: %w", err)
	}

	sel := s.query(fmt.Sprintf(`
		SELECT update_id, operation_kind, target_table, payload, retry_count,
		       first_queued_at, last_retry_at, next_retry_at, status,
		       error_message, claim_token, completed_at, created_at
		FROM %s
		WHERE claim_token = @token
	`, s.tableRef(s.tables.PendingUpdates)))
	sel.Parameters = []bigquery.QueryParameter{{Name: "token", Value: token}}

	it, err := sel.Read(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpClaimPending, "select").Inc()
		return nil, fmt.Errorf("claim_pending: %w", err)
	}

	var claimed []PendingUpdateRow
	for {
		var row PendingUpdateRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			metrics.StoreOperationErrorsTotal.WithLabelValues(metrics.StoreOpClaimPending, "scan").Inc()
			return nil, fmt.Errorf("claim_pending: %w", err)
		}
		claimed = append(claimed, row)
	}
	return claimed, nil
}

// CompletePending marks a pending-update row completed, or schedules it
// for another attempt with exponential backoff and jitter:
// next_retry_at = now + base*2^retry_count + jitter, capped at 1h.
// Once retry_count reaches maxRetries the row is marked failed terminally.
func (s *BigQueryStore) CompletePending(ctx context.Context, updateID string, success bool, errMessage string, maxRetries int, retryBase time.Duration) error {
	timer := prometheus.NewTimer(metrics.StoreOperationDuration.WithLabelValues(metrics.StoreOpCompletePending))
	defer timer.ObserveDuration()

	now := time.Now().UTC()

	if success {
		q := s.query(fmt.Sprintf(`
			UPDATE %s SET status = @completed, completed_at = @now, claim_token = NULL
			WHERE update_id = @update_id
		`, s.tableRef(s.tables.PendingUpdates)))
		q.Parameters = []bigquery.QueryParameter{
			{Name: "completed", Value: StatusCompleted},
			{Name: "now", Value: now},
			{Name: "update_id", Value: updateID},
		}
		return s.runDML(ctx, metrics.StoreOpCompletePending, q)
	}

	// Read current retry_count and operation_kind to decide terminal vs retry.
	sel := s.query(fmt.Sprintf(`SELECT retry_count, operation_kind FROM %s WHERE update_id = @update_id LIMIT 1`, s.tableRef(s.tables.PendingUpdates)))
	sel.Parameters = []bigquery.QueryParameter{{Name: "update_id", Value: updateID}}
	it, err := sel.Read(ctx)
	if err != nil {
		return fmt.Errorf("complete_pending: %w", err)
	}
	var row struct {
		RetryCount   int64  `bigquery:"retry_count"`
		OperationKind string `bigquery:"operation_kind"`
	}
	if err := it.Next(&row); err != nil {
		return fmt.Errorf("complete_pending: %w", err)
	}
	newCount := row.RetryCount + 1

	if int(newCount) >= maxRetries {
		metrics.RetryTerminalFailuresTotal.WithLabelValues(row.OperationKind).Inc()
		q := s.query(fmt.Sprintf(`
			UPDATE %s SET status = @failed, retry_count = @retry_count, error_message = @err, claim_token = NULL
			WHERE update_id = @update_id
		`, s.tableRef(s.tables.PendingUpdates)))
		q.Parameters = []bigquery.QueryParameter{
			{Name: "failed", Value: StatusFailed},
			{Name: "retry_count", Value: newCount},
			{Name: "err", Value: nullableString(errMessage)},
			{Name: "update_id", Value: updateID},
		}
		return s.runDML(ctx, metrics.StoreOpCompletePending, q)
	}

	nextRetryAt := backoffNextRetry(now, newCount, retryBase)
	q := s.query(fmt.Sprintf(`
		UPDATE %s SET status = @pending, retry_count = @retry_count,
		              next_retry_at = @next_retry_at, error_message = @err, claim_token = NULL
		WHERE update_id = @update_id
	`, s.tableRef(s.tables.PendingUpdates)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "pending", Value: StatusPending},
		{Name: "retry_count", Value: newCount},
		{Name: "next_retry_at", Value: nextRetryAt},
		{Name: "err", Value: nullableString(errMessage)},
		{Name: "update_id", Value: updateID},
	}
	return s.runDML(ctx, metrics.StoreOpCompletePending, q)
}

// backoffNextRetry computes next_retry_at = now + base*2^retryCount + jitter,
// capped at one hour.
func backoffNextRetry(now time.Time, retryCount int64, base time.Duration) time.Time {
	delay := base * time.Duration(1<<uint(min64(retryCount, 10)))
	const backoffCap = time.Hour
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second) * 5))
	return now.Add(delay + jitter)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// CountPendingByStatus supports the retry queue depth metrics collector.
func (s *BigQueryStore) CountPendingByStatus(ctx context.Context, status string) (int, error) {
	q := s.query(fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s WHERE status = @status`, s.tableRef(s.tables.PendingUpdates)))
	q.Parameters = []bigquery.QueryParameter{{Name: "status", Value: status}}
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("count_pending_by_status: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("count_pending_by_status: %w", err)
	}
	return int(row.N), nil
}

func (s *BigQueryStore) runDML(ctx context.Context, op string, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(op, "run").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(op, "wait").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := status.Err(); err != nil {
		metrics.StoreOperationErrorsTotal.WithLabelValues(op, "job").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
