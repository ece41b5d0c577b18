// Package intake is the HTTP surface that accepts source-platform
// notifications, acknowledges them immediately, and hands parsed work
// to the dispatcher over a bounded channel. It writes nothing
// synchronously other than the overflow log used when that channel is
// full.
package intake

import (
	"encoding/json"
	"time"
)

// Notification is the parsed, dispatcher-ready shape of one inbound
// webhook payload. RawPayload retains the full original body verbatim
// for the events table's opaque audit column.
type Notification struct {
	EventID        string
	ActionKind     string
	ActionTime     time.Time
	CardID         string
	BoardID        string
	BoardName      string
	ListBeforeID   string
	ListBeforeName string
	ListAfterID    string
	ListAfterName  string
	ActorID        string
	ActorName      string
	RawPayload     json.RawMessage
}

// IsListTransition implements spec.md invariant 5: true only when both
// list ids are present and differ.
func (n Notification) IsListTransition() bool {
	return n.ListBeforeID != "" && n.ListAfterID != "" && n.ListBeforeID != n.ListAfterID
}

// trelloAction is the subset of Trello's action payload shape the
// parser pulls fields from. Trello's nested "data" object varies in
// which of listBefore/listAfter/card is present depending on the
// action type, so every nested field is a plain struct left at its zero
// value when absent rather than erroring.
type trelloAction struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Date   time.Time `json:"date"`
	Data   struct {
		Card struct {
			ID   string `json:"id"`
			Desc string `json:"desc"`
			Name string `json:"name"`
		} `json:"card"`
		Board struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"board"`
		ListBefore struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"listBefore"`
		ListAfter struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"listAfter"`
		List struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"list"`
	} `json:"data"`
	MemberCreator struct {
		ID       string `json:"id"`
		FullName string `json:"fullName"`
	} `json:"memberCreator"`
}

type trelloPayload struct {
	Action trelloAction `json:"action"`
}

// ParseNotification extracts the fields the dispatcher needs from a
// raw Trello webhook body, per spec.md §4.E: action.id (-> event_id),
// action.type, action.date, action.data.card.id, board/list identity,
// and the full payload verbatim.
func ParseNotification(raw []byte) (Notification, error) {
	var payload trelloPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Notification{}, err
	}

	a := payload.Action
	listAfterID, listAfterName := a.Data.ListAfter.ID, a.Data.ListAfter.Name
	if listAfterID == "" {
		// Non-move actions (title/desc changes, etc.) carry the card's
		// current list as data.list rather than data.listAfter — the
		// second rung of SPEC_FULL.md §9 ADDED's three-way fallback
		// (listAfter, else list, else the card's own idList once
		// fetched). The third rung is applied downstream by the
		// dispatcher once it has the freshly-fetched card in hand.
		listAfterID, listAfterName = a.Data.List.ID, a.Data.List.Name
	}

	n := Notification{
		EventID:        a.ID,
		ActionKind:     a.Type,
		ActionTime:     a.Date,
		CardID:         a.Data.Card.ID,
		BoardID:        a.Data.Board.ID,
		BoardName:      a.Data.Board.Name,
		ListBeforeID:   a.Data.ListBefore.ID,
		ListBeforeName: a.Data.ListBefore.Name,
		ListAfterID:    listAfterID,
		ListAfterName:  listAfterName,
		ActorID:        a.MemberCreator.ID,
		ActorName:      a.MemberCreator.FullName,
		RawPayload:     json.RawMessage(raw),
	}
	return n, nil
}
