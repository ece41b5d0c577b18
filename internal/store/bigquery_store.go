package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Tables holds the BigQuery table ids used by cardsync. Values are the
// same across environments; only the project/dataset differ.
type Tables struct {
	Events            string
	CardMaster        string
	LineItemMaster    string
	CardCurrent       string
	LineItemCurrent   string
	PendingUpdates    string
}

// DefaultTables is the naming convention assumed everywhere in cardsync.
var DefaultTables = Tables{
	Events:          "notification_events",
	CardMaster:      "card_master",
	LineItemMaster:  "line_item_master",
	CardCurrent:     "card_current",
	LineItemCurrent: "line_item_current",
	PendingUpdates:  "pending_updates",
}

// BigQueryStore is the production Store backed by cloud.google.com/go/bigquery.
type BigQueryStore struct {
	client  *bigquery.Client
	project string
	dataset string
	tables  Tables
}

// Open dials BigQuery for the given project and wraps it in a Store.
func Open(ctx context.Context, project, dataset string) (*BigQueryStore, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("open bigquery client: %w", err)
	}
	return &BigQueryStore{
		client:  client,
		project: project,
		dataset: dataset,
		tables:  DefaultTables,
	}, nil
}

// Close releases the underlying BigQuery client.
func (s *BigQueryStore) Close() error {
	return s.client.Close()
}

func (s *BigQueryStore) tableRef(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, table)
}

func (s *BigQueryStore) inserter(table string) *bigquery.Inserter {
	return s.client.Dataset(s.dataset).Table(table).Inserter()
}

func (s *BigQueryStore) query(q string) *bigquery.Query {
	query := s.client.Query(q)
	return query
}

var _ Store = (*BigQueryStore)(nil)
