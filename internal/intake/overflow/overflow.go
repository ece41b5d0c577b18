// Package overflow is the local backpressure log intake writes to when
// the bounded dispatcher channel is full. The source platform
// guarantees delivery retries, so anything recorded here only needs to
// be drained and re-offered to the dispatcher on a later pass — it is
// not itself a durable queue of record the way the BigQuery store is.
package overflow

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS overflow_notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload BLOB NOT NULL,
	received_at DATETIME NOT NULL
);
`

// Log wraps a local SQLite-backed overflow queue.
type Log struct {
	conn *sql.DB
}

// Open opens (creating if absent) the overflow log at path.
func Open(path string) (*Log, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open overflow log: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping overflow log: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init overflow schema: %w", err)
	}
	return &Log{conn: conn}, nil
}

// Close closes the underlying connection.
func (l *Log) Close() error {
	return l.conn.Close()
}

// Item is one recorded-but-not-yet-redelivered notification body.
type Item struct {
	ID      int64
	Payload json.RawMessage
}

// Record appends a raw notification body that couldn't be handed to
// the dispatcher because its intake channel was full.
func (l *Log) Record(payload json.RawMessage) error {
	_, err := l.conn.Exec(
		`INSERT INTO overflow_notifications (payload, received_at) VALUES (?, ?)`,
		[]byte(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record overflow item: %w", err)
	}
	return nil
}

// DrainOne retrieves and deletes the oldest overflow item. Returns nil,
// nil if the log is empty.
func (l *Log) DrainOne() (*Item, error) {
	tx, err := l.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	defer tx.Rollback()

	var item Item
	err = tx.QueryRow(`SELECT id, payload FROM overflow_notifications ORDER BY id ASC LIMIT 1`).
		Scan(&item.ID, &item.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query oldest overflow item: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM overflow_notifications WHERE id = ?`, item.ID); err != nil {
		return nil, fmt.Errorf("delete drained overflow item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return &item, nil
}

// Len returns the number of items currently queued.
func (l *Log) Len() (int, error) {
	var n int
	if err := l.conn.QueryRow(`SELECT COUNT(*) FROM overflow_notifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count overflow items: %w", err)
	}
	return n, nil
}
