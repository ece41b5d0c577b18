package store

import (
	"encoding/json"

	"cloud.google.com/go/bigquery"
)

// ChainedOp is a follow-on pending-update to enqueue once the op
// carrying it completes successfully. The dispatcher uses this to
// express "redo the rest of this notification's write sequence"
// without the retry worker needing to know anything about
// notifications or classification.
type ChainedOp struct {
	OperationKind string          `json:"operation_kind"`
	Payload       json.RawMessage `json:"payload"`
}

// UpsertCardPayload redrives the card-row half of a notification's
// writes: an optional master insert (only for a first-sight card) and
// the current-row replace.
type UpsertCardPayload struct {
	EventID      string         `json:"event_id"`
	InsertMaster bool           `json:"insert_master"`
	Master       *CardMasterRow `json:"master,omitempty"`
	Current      CardCurrentRow `json:"current"`
	Next         *ChainedOp     `json:"next,omitempty"`
}

// ReplaceLineItemsPayload redrives the line-item half: an optional
// master-items append (no-op if already present) and the current-items
// atomic replace.
type ReplaceLineItemsPayload struct {
	EventID     string               `json:"event_id"`
	CardID      string               `json:"card_id"`
	InsertMaster bool                `json:"insert_master"`
	MasterRows  []LineItemMasterRow  `json:"master_rows,omitempty"`
	CurrentRows []LineItemCurrentRow `json:"current_rows"`
	Next        *ChainedOp           `json:"next,omitempty"`
}

// FinalizeEventPayload redrives the terminal finalize_event call.
type FinalizeEventPayload struct {
	EventID             string `json:"event_id"`
	Success             bool   `json:"success"`
	ExtractionTriggered bool   `json:"extraction_triggered"`
	ErrorMessage        string `json:"error_message,omitempty"`
}

// ToNullJSON marshals v into the bigquery.NullJSON shape the
// pending_updates.payload column expects, so callers don't repeat the
// Valid:true boilerplate at every enqueue site.
func ToNullJSON(v any) (bigquery.NullJSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return bigquery.NullJSON{}, err
	}
	return bigquery.NullJSON{JSONVal: string(b), Valid: true}, nil
}

// FromNullJSON unmarshals a pending_updates.payload column into dst.
func FromNullJSON(payload bigquery.NullJSON, dst any) error {
	if !payload.Valid {
		return nil
	}
	return json.Unmarshal([]byte(payload.JSONVal), dst)
}
