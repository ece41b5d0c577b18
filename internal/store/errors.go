package store

import (
	"errors"
	"fmt"
	"strings"

	"cardsync/internal/taxonomy"
)

// ErrDuplicateKey is returned by InsertEvent when the idempotency
// pre-check already found the row; see spec.md §4.A on the accepted
// race window around true exactly-once de-duplication.
var ErrDuplicateKey = errors.New("duplicate_key")

// classifyWriteError maps a BigQuery DML error into the taxonomy:
// a streaming-buffer rejection becomes ErrStoreDeferred, anything else
// is wrapped as ErrStorePermanent. The streaming-buffer failure mode
// carries no distinct error code in the BigQuery API, only this
// message substring.
func classifyWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "streaming buffer") {
		return fmt.Errorf("%s: %w: %v", op, taxonomy.ErrStoreDeferred, err)
	}
	return fmt.Errorf("%s: %w: %v", op, taxonomy.ErrStorePermanent, err)
}
