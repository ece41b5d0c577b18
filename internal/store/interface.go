package store

import (
	"context"
	"time"
)

// Store is the full set of typed operations the dispatcher, classifier,
// and retry worker need against the analytical store. Both the BigQuery
// adapter and the in-memory Fake implement it.
type Store interface {
	InsertEvent(ctx context.Context, row EventRow) error
	EventExists(ctx context.Context, eventID string) (bool, error)
	GetLastKnownDescription(ctx context.Context, cardID string) (description string, present bool, err error)

	InsertCardMasterIfAbsent(ctx context.Context, row CardMasterRow) (inserted bool, err error)
	CardMasterExists(ctx context.Context, cardID string) (bool, error)
	UpsertCardCurrent(ctx context.Context, row CardCurrentRow) error
	GetCardCurrent(ctx context.Context, cardID string) (*CardCurrentRow, bool, error)

	InsertLineItemsMaster(ctx context.Context, cardID string, rows []LineItemMasterRow) error
	ReplaceLineItemsCurrent(ctx context.Context, cardID string, rows []LineItemCurrentRow) error

	FinalizeEvent(ctx context.Context, eventID string, success bool, extractionTriggered bool, errMessage string) error

	EnqueuePending(ctx context.Context, row PendingUpdateRow) error
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]PendingUpdateRow, error)
	CompletePending(ctx context.Context, updateID string, success bool, errMessage string, maxRetries int, retryBase time.Duration) error
	CountPendingByStatus(ctx context.Context, status string) (int, error)
}
