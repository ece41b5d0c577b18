package dispatcher

import (
	"strings"

	"cloud.google.com/go/bigquery"

	"cardsync/internal/extractor"
	"cardsync/internal/intake"
	"cardsync/internal/source"
	"cardsync/internal/store"
)

// cardFields builds the columns shared by card_master and card_current
// from a freshly-fetched card and, when extraction ran, its result.
func cardFields(card *source.Card, n intake.Notification, result *extractor.Result) store.CardFields {
	// List identity follows SPEC_FULL.md §9 ADDED's three-way fallback:
	// the notification's listAfter, else data.list (both resolved
	// already by intake.ParseNotification), else the freshly-fetched
	// card's own idList — the only source available on a createCard or
	// a non-move update, where neither listAfter nor data.list appears
	// in the webhook payload at all. The card's own list carries no
	// name, just the id.
	listID, listName := n.ListAfterID, n.ListAfterName
	if listID == "" {
		listID = card.IDList
	}
	f := store.CardFields{
		CardID:      card.ID,
		Name:        card.Name,
		Description: card.Desc,
		Closed:      card.Closed,
		BoardID:     toNullString(n.BoardID),
		BoardName:   toNullString(n.BoardName),
		ListID:      toNullString(listID),
		ListName:    toNullString(listName),
	}
	if result != nil {
		f.Purchaser = toNullString(result.CardFields.Purchaser)
		f.OrderSummary = toNullString(result.CardFields.OrderSummary)
		name, email := splitBuyerContact(result.CardFields.BuyerContact)
		f.PrimaryBuyerName = toNullString(name)
		f.PrimaryBuyerEmail = toNullString(email)
		f.LineItemCount = int64(len(result.LineItems))
	}
	return f
}

// splitBuyerContact resolves the single buyer_contact string the
// extractor produces into the store's separate name/email columns:
// an "@" marks it as the email, otherwise it's treated as a name.
func splitBuyerContact(contact string) (name, email string) {
	if strings.Contains(contact, "@") {
		return "", contact
	}
	return contact, ""
}

func toNullString(s string) bigquery.NullString {
	if s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}

// lineItemRows builds the column set shared by line_item_master and
// line_item_current from one extraction result.
func lineItemRows(cardID string, items []extractor.LineItem) []store.LineItemFields {
	rows := make([]store.LineItemFields, 0, len(items))
	for _, item := range items {
		rows = append(rows, store.LineItemFields{
			CardID:       cardID,
			LineIndex:    int64(item.LineIndex),
			Quantity:     item.Quantity,
			RawPrice:     item.RawPrice,
			PriceKind:    item.PriceKind,
			UnitPrice:    item.UnitPrice,
			TotalRevenue: item.TotalRevenue,
			Description:  toNullString(item.Description),
			BusinessLine: toNullString(item.BusinessLine),
			Material:     toNullString(item.Material),
			Dimensions:   toNullString(item.Dimensions),
		})
	}
	return rows
}

func lineItemMasterRows(cardID string, items []extractor.LineItem) []store.LineItemMasterRow {
	fields := lineItemRows(cardID, items)
	rows := make([]store.LineItemMasterRow, len(fields))
	for i, f := range fields {
		rows[i] = store.LineItemMasterRow{LineItemFields: f}
	}
	return rows
}

func lineItemCurrentRows(cardID string, items []extractor.LineItem) []store.LineItemCurrentRow {
	fields := lineItemRows(cardID, items)
	rows := make([]store.LineItemCurrentRow, len(fields))
	for i, f := range fields {
		rows[i] = store.LineItemCurrentRow{LineItemFields: f}
	}
	return rows
}
