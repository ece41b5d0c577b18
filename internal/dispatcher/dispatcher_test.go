package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cardsync/internal/extractor"
	"cardsync/internal/intake"
	"cardsync/internal/source"
	"cardsync/internal/store"
	"cardsync/internal/taxonomy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu    sync.Mutex
	cards map[string]*source.Card
	err   map[string]error
	calls int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{cards: make(map[string]*source.Card), err: make(map[string]error)}
}

func (f *fakeSource) FetchCard(_ context.Context, cardID string) (*source.Card, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.err[cardID]; ok {
		return nil, err
	}
	if c, ok := f.cards[cardID]; ok {
		cp := *c
		return &cp, nil
	}
	return &source.Card{ID: cardID}, nil
}

func stubExtract(result *extractor.Result, err error) ExtractFunc {
	return func(_ context.Context, _, _ string) (*extractor.Result, error) {
		return result, err
	}
}

func newNotification(eventID, actionKind, cardID string) intake.Notification {
	return intake.Notification{
		EventID:    eventID,
		ActionKind: actionKind,
		ActionTime: time.Now(),
		CardID:     cardID,
		BoardID:    "board1",
		BoardName:  "Board One",
	}
}

func TestProcessNewCardExtractsAndWritesAllTables(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	src.cards["C1"] = &source.Card{ID: "C1", Name: "Order 1", Desc: "2x widgets at $5 each"}

	result := &extractor.Result{
		CardFields: extractor.CardFields{Purchaser: "Acme Co", BuyerContact: "buyer@acme.test", OrderSummary: "2 widgets"},
		LineItems: []extractor.LineItem{
			{LineIndex: 1, Quantity: 2, RawPrice: 5, PriceKind: extractor.PriceKindPerUnit, UnitPrice: 5, TotalRevenue: 10, BusinessLine: "signage"},
		},
	}
	d := New(st, src, stubExtract(result, nil), testLogger())

	n := newNotification("E1", "createCard", "C1")
	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}

	exists, _ := st.CardMasterExists(context.Background(), "C1")
	if !exists {
		t.Fatal("expected card_master row to be inserted")
	}
	current, found, err := st.GetCardCurrent(context.Background(), "C1")
	if err != nil || !found {
		t.Fatalf("expected card_current row, found=%v err=%v", found, err)
	}
	if current.Purchaser.StringVal != "Acme Co" {
		t.Errorf("expected purchaser to be carried from extraction, got %q", current.Purchaser.StringVal)
	}
	if current.LineItemCount != 1 {
		t.Errorf("expected line_item_count 1, got %d", current.LineItemCount)
	}

	exists2, err := st.EventExists(context.Background(), "E1")
	if err != nil || !exists2 {
		t.Fatalf("expected event E1 recorded, exists=%v err=%v", exists2, err)
	}
}

func TestProcessDuplicateEventIsDropped(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	d := New(st, src, stubExtract(&extractor.Result{}, nil), testLogger())

	n := newNotification("E1", "createCard", "C1")
	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	callsBefore := atomic.LoadInt32(&src.calls)

	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if atomic.LoadInt32(&src.calls) != callsBefore {
		t.Error("expected duplicate event to short-circuit before fetch_card")
	}
}

func TestProcessIrrelevantActionKindSkipsFetch(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	d := New(st, src, stubExtract(&extractor.Result{}, nil), testLogger())

	n := newNotification("E1", "comment_added", "C1")
	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if atomic.LoadInt32(&src.calls) != 0 {
		t.Error("expected irrelevant action kind to never call fetch_card")
	}
	exists, _ := st.CardMasterExists(context.Background(), "C1")
	if exists {
		t.Error("expected no card_master row for an irrelevant notification")
	}
}

func TestProcessMissingCardIDSkipsFetch(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	d := New(st, src, stubExtract(&extractor.Result{}, nil), testLogger())

	n := newNotification("E1", "createCard", "")
	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if atomic.LoadInt32(&src.calls) != 0 {
		t.Error("expected missing card_id to skip fetch_card")
	}
}

func TestProcessCardAbsentFinalizesFailedWithoutRetry(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	src.err["C1"] = fmt.Errorf("fetch_card C1: %w", taxonomy.ErrCardAbsent)
	d := New(st, src, stubExtract(&extractor.Result{}, nil), testLogger())

	n := newNotification("E1", "updateCard", "C1")
	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	exists, _ := st.CardMasterExists(context.Background(), "C1")
	if exists {
		t.Error("expected card_absent to never reach a card write")
	}
}

func TestProcessDescChangedReplacesLineItemsAndCurrentRow(t *testing.T) {
	st := store.NewFake()
	ctx := context.Background()
	src := newFakeSource()

	firstResult := &extractor.Result{CardFields: extractor.CardFields{Purchaser: "First"}}
	d := New(st, src, stubExtract(firstResult, nil), testLogger())
	src.cards["C1"] = &source.Card{ID: "C1", Name: "Order", Desc: "original desc"}
	if err := d.Process(ctx, newNotification("E1", "createCard", "C1")); err != nil {
		t.Fatalf("seed Process: %v", err)
	}
	secondResult := &extractor.Result{
		CardFields: extractor.CardFields{Purchaser: "Second"},
		LineItems:  []extractor.LineItem{{LineIndex: 1, Quantity: 1, RawPrice: 3, PriceKind: extractor.PriceKindTotal, UnitPrice: 3, TotalRevenue: 3}},
	}
	d2 := New(st, src, stubExtract(secondResult, nil), testLogger())
	src.cards["C1"] = &source.Card{ID: "C1", Name: "Order", Desc: "a new description entirely"}
	if err := d2.Process(ctx, newNotification("E2", "updateCard", "C1")); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	current, found, _ := st.GetCardCurrent(ctx, "C1")
	if !found {
		t.Fatal("expected card_current row")
	}
	if current.Purchaser.StringVal != "Second" {
		t.Errorf("expected card_current to reflect the second extraction, got %q", current.Purchaser.StringVal)
	}
	items, _ := st.LineItemsCurrentForTest("C1")
	if len(items) != 1 || items[0].RawPrice != 3 {
		t.Errorf("expected line_item_current to hold the second extraction's single item, got %+v", items)
	}
}

func TestProcessMetadataOnlyPreservesEnrichmentFields(t *testing.T) {
	st := store.NewFake()
	ctx := context.Background()
	src := newFakeSource()

	result := &extractor.Result{
		CardFields: extractor.CardFields{Purchaser: "Acme Co", OrderSummary: "widgets"},
		LineItems:  []extractor.LineItem{{LineIndex: 1, Quantity: 1, RawPrice: 1, PriceKind: extractor.PriceKindPerUnit, UnitPrice: 1, TotalRevenue: 1}},
	}
	d := New(st, src, stubExtract(result, nil), testLogger())
	src.cards["C1"] = &source.Card{ID: "C1", Name: "Order", Desc: "stable description"}
	if err := d.Process(ctx, newNotification("E1", "createCard", "C1")); err != nil {
		t.Fatalf("seed Process: %v", err)
	}

	calledExtraction := false
	d2 := New(st, src, func(_ context.Context, _, _ string) (*extractor.Result, error) {
		calledExtraction = true
		return &extractor.Result{}, nil
	}, testLogger())
	src.cards["C1"] = &source.Card{ID: "C1", Name: "Order (renamed)", Desc: "stable description"}
	if err := d2.Process(ctx, newNotification("E2", "updateCard", "C1")); err != nil {
		t.Fatalf("metadata-only Process: %v", err)
	}
	if calledExtraction {
		t.Error("expected metadata-only update to never call the extractor")
	}

	current, found, _ := st.GetCardCurrent(ctx, "C1")
	if !found {
		t.Fatal("expected card_current row")
	}
	if current.Name != "Order (renamed)" {
		t.Errorf("expected metadata fields to refresh, got name %q", current.Name)
	}
	if current.Purchaser.StringVal != "Acme Co" {
		t.Errorf("expected enrichment fields preserved, got purchaser %q", current.Purchaser.StringVal)
	}
	if current.LineItemCount != 1 {
		t.Errorf("expected line_item_count preserved at 1, got %d", current.LineItemCount)
	}
}

// TestProcessConcurrentSameCardSerializes submits many concurrent
// notifications for the same card and asserts line-items-current is
// always the output of a single extraction run (invariant 3), never an
// interleaving of two.
func TestProcessConcurrentSameCardSerializes(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	ctx := context.Background()

	const rounds = 30
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := fmt.Sprintf("run-%d", i)
			result := &extractor.Result{
				CardFields: extractor.CardFields{Purchaser: tag},
				LineItems: []extractor.LineItem{
					{LineIndex: 1, Quantity: 1, RawPrice: 1, PriceKind: extractor.PriceKindPerUnit, Description: tag},
					{LineIndex: 2, Quantity: 1, RawPrice: 1, PriceKind: extractor.PriceKindPerUnit, Description: tag},
				},
			}
			d := New(st, src, stubExtract(result, nil), testLogger())
			src.mu.Lock()
			src.cards["C1"] = &source.Card{ID: "C1", Name: "Order", Desc: tag}
			src.mu.Unlock()
			_ = d.Process(ctx, newNotification(fmt.Sprintf("E%d", i), "updateCard", "C1"))
		}(i)
	}
	wg.Wait()

	items, err := st.LineItemsCurrentForTest("C1")
	if err != nil {
		t.Fatalf("LineItemsCurrentForTest: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected at least one line-item-current row")
	}
	tag := items[0].Description.StringVal
	for _, item := range items {
		if item.Description.StringVal != tag {
			t.Fatalf("expected every line-item-current row to come from the same extraction run, got mixed descriptions %q and %q", tag, item.Description.StringVal)
		}
	}
}

// rawCreateCardPayload is a real Trello webhook body: action.type is
// "createCard", not any collapsed enum. This exercises the seam
// between intake.ParseNotification and the dispatcher end-to-end —
// a prior version of the classifier/dispatcher matched only against
// "card_created"/"card_updated" and silently treated every real
// notification as irrelevant.
const rawCreateCardPayload = `{
	"action": {
		"id": "evtRaw1",
		"type": "createCard",
		"date": "2026-01-01T12:00:00.000Z",
		"data": {
			"card": {"id": "CRaw1", "name": "Widget order", "desc": "1x Sign $100"},
			"board": {"id": "board1", "name": "Orders"}
		},
		"memberCreator": {"id": "member1", "fullName": "Alice"}
	}
}`

func TestProcessEndToEndFromRawCreateCardPayload(t *testing.T) {
	st := store.NewFake()
	src := newFakeSource()
	src.cards["CRaw1"] = &source.Card{ID: "CRaw1", Name: "Widget order", Desc: "1x Sign $100", IDList: "list1"}

	result := &extractor.Result{
		CardFields: extractor.CardFields{Purchaser: "Acme Co"},
		LineItems:  []extractor.LineItem{{LineIndex: 1, Quantity: 1, RawPrice: 100, PriceKind: extractor.PriceKindTotal, UnitPrice: 100, TotalRevenue: 100}},
	}
	d := New(st, src, stubExtract(result, nil), testLogger())

	n, err := intake.ParseNotification([]byte(rawCreateCardPayload))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.ActionKind != "createCard" {
		t.Fatalf("expected raw action kind createCard, got %q", n.ActionKind)
	}

	if err := d.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}

	exists, _ := st.CardMasterExists(context.Background(), "CRaw1")
	if !exists {
		t.Fatal("expected a real createCard webhook to produce a card_master row, not be treated as irrelevant")
	}
	current, found, err := st.GetCardCurrent(context.Background(), "CRaw1")
	if err != nil || !found {
		t.Fatalf("expected card_current row, found=%v err=%v", found, err)
	}
	if current.LineItemCount != 1 {
		t.Errorf("expected extraction to have run and produced one line item, got count %d", current.LineItemCount)
	}
	if current.ListID.StringVal != "list1" {
		t.Errorf("expected list_id to fall back to the fetched card's idList on a createCard with no listAfter/list, got %q", current.ListID.StringVal)
	}
}
