package dispatcher

import (
	"context"

	"cardsync/internal/extractor"
	"cardsync/internal/source"
)

// SourceClient is the subset of *source.Client the dispatcher depends
// on, narrowed so tests can substitute a fake without spinning up an
// httptest.Server.
type SourceClient interface {
	FetchCard(ctx context.Context, cardID string) (*source.Card, error)
}

// ExtractFunc matches extractor.Extract's signature. Production wiring
// passes extractor.Extract itself; tests substitute a stub.
type ExtractFunc func(ctx context.Context, cardName, cardDesc string) (*extractor.Result, error)
