package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// CreateTables creates all six BigQuery tables backing cardsync's
// analytical store (the five data-model tables plus the retry queue)
// if they don't already exist. Intended for the cardsync-cli
// "tables create" operational command, not the hot path.
func (s *BigQueryStore) CreateTables(ctx context.Context) error {
	ds := s.client.Dataset(s.dataset)

	specs := []struct {
		name string
		meta *bigquery.TableMetadata
	}{
		{s.tables.Events, eventsTableMetadata()},
		{s.tables.CardMaster, cardMasterTableMetadata()},
		{s.tables.LineItemMaster, lineItemMasterTableMetadata()},
		{s.tables.CardCurrent, cardCurrentTableMetadata()},
		{s.tables.LineItemCurrent, lineItemCurrentTableMetadata()},
		{s.tables.PendingUpdates, pendingUpdatesTableMetadata()},
	}

	for _, spec := range specs {
		if err := ds.Table(spec.name).Create(ctx, spec.meta); err != nil {
			if !isAlreadyExists(err) {
				return fmt.Errorf("create table %s: %w", spec.name, err)
			}
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && (contains(err.Error(), "Already Exists") || contains(err.Error(), "duplicate"))
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func eventsTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(EventRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "created_at",
			Type:  bigquery.DayPartitioningType,
		},
		Clustering: &bigquery.Clustering{
			Fields: []string{"card_id", "action_kind", "is_list_transition"},
		},
	}
}

func cardMasterTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(CardMasterRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"card_id"}},
	}
}

func lineItemMasterTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(LineItemMasterRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"card_id"}},
	}
}

func cardCurrentTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(CardCurrentRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"card_id"}},
	}
}

func lineItemCurrentTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(LineItemCurrentRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"card_id"}},
	}
}

func pendingUpdatesTableMetadata() *bigquery.TableMetadata {
	schema, err := bigquery.InferSchema(PendingUpdateRow{})
	if err != nil {
		panic(err)
	}
	return &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "created_at",
			Type:  bigquery.DayPartitioningType,
		},
		Clustering: &bigquery.Clustering{
			Fields: []string{"status", "next_retry_at", "operation_kind"},
		},
	}
}
