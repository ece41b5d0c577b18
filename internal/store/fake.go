package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory Store used by dispatcher, classifier, and retry
// worker tests so they never touch BigQuery. It preserves the same
// semantics the BigQuery adapter promises: append-only master/event
// tables, single-row-per-card current tables, and an atomic line-items
// replace.
type Fake struct {
	mu sync.Mutex

	events      map[string]EventRow
	cardMaster  map[string]CardMasterRow
	cardCurrent map[string]CardCurrentRow
	lineMaster  map[string][]LineItemMasterRow
	lineCurrent map[string][]LineItemCurrentRow
	pending     map[string]PendingUpdateRow
}

// NewFake constructs an empty Fake store.
func NewFake() *Fake {
	return &Fake{
		events:      make(map[string]EventRow),
		cardMaster:  make(map[string]CardMasterRow),
		cardCurrent: make(map[string]CardCurrentRow),
		lineMaster:  make(map[string][]LineItemMasterRow),
		lineCurrent: make(map[string][]LineItemCurrentRow),
		pending:     make(map[string]PendingUpdateRow),
	}
}

func (f *Fake) InsertEvent(_ context.Context, row EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[row.EventID]; ok {
		return ErrDuplicateKey
	}
	f.events[row.EventID] = row
	return nil
}

func (f *Fake) EventExists(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[eventID]
	return ok, nil
}

// GetLastKnownDescription reads card-current only. The real adapter's
// fallback to the most recent processed event (spec.md §9) depends on
// parsing the opaque raw_payload blob, which the fake treats as
// genuinely opaque; tests exercising the fallback path seed
// card-current directly instead.
func (f *Fake) GetLastKnownDescription(_ context.Context, cardID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.cardCurrent[cardID]; ok {
		return row.Description, true, nil
	}
	return "", false, nil
}

func (f *Fake) InsertCardMasterIfAbsent(_ context.Context, row CardMasterRow) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cardMaster[row.CardID]; ok {
		return false, nil
	}
	f.cardMaster[row.CardID] = row
	return true, nil
}

func (f *Fake) CardMasterExists(_ context.Context, cardID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cardMaster[cardID]
	return ok, nil
}

func (f *Fake) UpsertCardCurrent(_ context.Context, row CardCurrentRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardCurrent[row.CardID] = row
	return nil
}

func (f *Fake) GetCardCurrent(_ context.Context, cardID string) (*CardCurrentRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.cardCurrent[cardID]
	if !ok {
		return nil, false, nil
	}
	cp := row
	return &cp, true, nil
}

func (f *Fake) InsertLineItemsMaster(_ context.Context, cardID string, rows []LineItemMasterRow) error {
	if len(rows) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lineMaster[cardID]) > 0 {
		return nil
	}
	f.lineMaster[cardID] = append([]LineItemMasterRow(nil), rows...)
	return nil
}

func (f *Fake) ReplaceLineItemsCurrent(_ context.Context, cardID string, rows []LineItemCurrentRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]LineItemCurrentRow, len(rows))
	copy(cp, rows)
	f.lineCurrent[cardID] = cp
	return nil
}

// LineItemsCurrentForTest exposes the current line-items snapshot for
// a card so dispatcher/classifier tests can assert on it directly.
func (f *Fake) LineItemsCurrentForTest(cardID string) ([]LineItemCurrentRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]LineItemCurrentRow, len(f.lineCurrent[cardID]))
	copy(cp, f.lineCurrent[cardID])
	return cp, nil
}

func (f *Fake) FinalizeEvent(_ context.Context, eventID string, success bool, extractionTriggered bool, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.events[eventID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	row.Processed = success
	row.ProcessedAt = nullableTimestamp(now)
	row.ExtractionTriggered = extractionTriggered
	row.ErrorMessage = nullableString(errMessage)
	f.events[eventID] = row
	return nil
}

func (f *Fake) EnqueuePending(_ context.Context, row PendingUpdateRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.pending[row.UpdateID] = row
	return nil
}

func (f *Fake) ClaimPending(_ context.Context, limit int, now time.Time) ([]PendingUpdateRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []PendingUpdateRow
	for _, row := range f.pending {
		if row.Status == StatusPending && !row.NextRetryAt.After(now) {
			candidates = append(candidates, row)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].FirstQueuedAt.Before(candidates[j].FirstQueuedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for i, row := range candidates {
		row.Status = StatusProcessing
		f.pending[row.UpdateID] = row
		candidates[i] = row
	}
	return candidates, nil
}

func (f *Fake) CompletePending(_ context.Context, updateID string, success bool, errMessage string, maxRetries int, retryBase time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.pending[updateID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	if success {
		row.Status = StatusCompleted
		row.CompletedAt = nullableTimestamp(now)
		f.pending[updateID] = row
		return nil
	}
	row.RetryCount++
	row.ErrorMessage = nullableString(errMessage)
	if int(row.RetryCount) >= maxRetries {
		row.Status = StatusFailed
	} else {
		row.Status = StatusPending
		row.NextRetryAt = backoffNextRetry(now, row.RetryCount, retryBase)
	}
	f.pending[updateID] = row
	return nil
}

func (f *Fake) CountPendingByStatus(_ context.Context, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.pending {
		if row.Status == status {
			n++
		}
	}
	return n, nil
}

var _ Store = (*Fake)(nil)
