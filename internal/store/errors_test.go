package store

import (
	"errors"
	"testing"

	"cardsync/internal/taxonomy"
)

func TestClassifyWriteErrorStreamingBuffer(t *testing.T) {
	err := errors.New("UPDATE or DELETE statement over table would affect rows in the streaming buffer, which is not supported")
	got := classifyWriteError("upsert_card_current", err)
	if !errors.Is(got, taxonomy.ErrStoreDeferred) {
		t.Fatalf("expected ErrStoreDeferred, got %v", got)
	}
}

func TestClassifyWriteErrorPermanent(t *testing.T) {
	err := errors.New("Syntax error: Unexpected keyword MERG at [1:1]")
	got := classifyWriteError("upsert_card_current", err)
	if !errors.Is(got, taxonomy.ErrStorePermanent) {
		t.Fatalf("expected ErrStorePermanent, got %v", got)
	}
}
