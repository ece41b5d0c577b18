// Package store is the typed BigQuery adapter for cardsync's analytical
// store: the five tables of notification_events, card_master,
// line_item_master, card_current, line_item_current, plus the
// pending_updates retry queue.
package store

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// EventRow mirrors the notification_events table.
type EventRow struct {
	EventID               string             `bigquery:"event_id"`
	ActionKind            string             `bigquery:"action_kind"`
	ActionTime            time.Time          `bigquery:"action_time"`
	CardID                string             `bigquery:"card_id"`
	BoardID               bigquery.NullString `bigquery:"board_id"`
	BoardName             bigquery.NullString `bigquery:"board_name"`
	ListBeforeID          bigquery.NullString `bigquery:"list_before_id"`
	ListBeforeName        bigquery.NullString `bigquery:"list_before_name"`
	ListAfterID           bigquery.NullString `bigquery:"list_after_id"`
	ListAfterName         bigquery.NullString `bigquery:"list_after_name"`
	IsListTransition      bool               `bigquery:"is_list_transition"`
	ActorID               bigquery.NullString `bigquery:"actor_id"`
	ActorName             bigquery.NullString `bigquery:"actor_name"`
	RawPayload            bigquery.NullJSON  `bigquery:"raw_payload"`
	Processed             bool               `bigquery:"processed"`
	ProcessedAt           bigquery.NullTimestamp `bigquery:"processed_at"`
	ExtractionTriggered   bool               `bigquery:"extraction_triggered"`
	ErrorMessage          bigquery.NullString `bigquery:"error_message"`
	CreatedAt             time.Time          `bigquery:"created_at"`
}

// CardFields are the columns shared between card_master and card_current.
type CardFields struct {
	CardID             string             `bigquery:"card_id"`
	Name               string             `bigquery:"name"`
	Description        string             `bigquery:"description"`
	Labels             bigquery.NullString `bigquery:"labels"`
	Closed             bool               `bigquery:"closed"`
	BoardID            bigquery.NullString `bigquery:"board_id"`
	BoardName          bigquery.NullString `bigquery:"board_name"`
	ListID             bigquery.NullString `bigquery:"list_id"`
	ListName           bigquery.NullString `bigquery:"list_name"`
	Purchaser          bigquery.NullString `bigquery:"purchaser"`
	OrderSummary       bigquery.NullString `bigquery:"order_summary"`
	PrimaryBuyerName   bigquery.NullString `bigquery:"primary_buyer_name"`
	PrimaryBuyerEmail  bigquery.NullString `bigquery:"primary_buyer_email"`
	DateCreated        bigquery.NullDate  `bigquery:"date_created"`
	DatetimeCreated    bigquery.NullTimestamp `bigquery:"datetime_created"`
	LineItemCount      int64              `bigquery:"line_item_count"`
}

// CardMasterRow mirrors the card_master table: immutable first-sight snapshot.
type CardMasterRow struct {
	CardFields
	FirstExtractedAt       bigquery.NullTimestamp `bigquery:"first_extracted_at"`
	FirstExtractionEventID bigquery.NullString    `bigquery:"first_extraction_event_id"`
}

// CardCurrentRow mirrors the card_current table: mutable projection.
type CardCurrentRow struct {
	CardFields
	LastUpdatedAt          time.Time              `bigquery:"last_updated_at"`
	LastExtractedAt        bigquery.NullTimestamp `bigquery:"last_extracted_at"`
	LastExtractionEventID  bigquery.NullString    `bigquery:"last_extraction_event_id"`
	LastEventType          bigquery.NullString    `bigquery:"last_event_type"`
}

// LineItemFields are the columns shared between line_item_master and
// line_item_current.
type LineItemFields struct {
	CardID        string             `bigquery:"card_id"`
	LineIndex     int64              `bigquery:"line_index"`
	Quantity      float64            `bigquery:"quantity"`
	RawPrice      float64            `bigquery:"raw_price"`
	PriceKind     string             `bigquery:"price_kind"`
	UnitPrice     float64            `bigquery:"unit_price"`
	TotalRevenue  float64            `bigquery:"total_revenue"`
	Description   bigquery.NullString `bigquery:"description"`
	BusinessLine  bigquery.NullString `bigquery:"business_line"`
	Material      bigquery.NullString `bigquery:"material"`
	Dimensions    bigquery.NullString `bigquery:"dimensions"`
}

// LineItemMasterRow mirrors the line_item_master table.
type LineItemMasterRow struct {
	LineItemFields
}

// LineItemCurrentRow mirrors the line_item_current table.
type LineItemCurrentRow struct {
	LineItemFields
}

// PendingUpdateRow mirrors the pending_updates retry queue table.
type PendingUpdateRow struct {
	UpdateID      string                 `bigquery:"update_id"`
	OperationKind string                 `bigquery:"operation_kind"`
	TargetTable   string                 `bigquery:"target_table"`
	Payload       bigquery.NullJSON      `bigquery:"payload"`
	RetryCount    int64                  `bigquery:"retry_count"`
	FirstQueuedAt time.Time              `bigquery:"first_queued_at"`
	LastRetryAt   bigquery.NullTimestamp `bigquery:"last_retry_at"`
	NextRetryAt   time.Time              `bigquery:"next_retry_at"`
	Status        string                 `bigquery:"status"`
	ErrorMessage  bigquery.NullString    `bigquery:"error_message"`
	ClaimToken    bigquery.NullString    `bigquery:"claim_token"`
	CompletedAt   bigquery.NullTimestamp `bigquery:"completed_at"`
	CreatedAt     time.Time              `bigquery:"created_at"`
}

// Operation kinds for pending_updates.operation_kind.
const (
	OpUpsertCard         = "upsert_card"
	OpReplaceLineItems   = "replace_line_items"
	OpFinalizeEvent      = "finalize_event"
)

// Pending-update statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
