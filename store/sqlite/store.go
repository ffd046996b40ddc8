// Package sqlite provides durable pair and message-link storage on SQLite,
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraph/bridge/mapping"
	"github.com/xraph/bridge/pair"
)

// compile-time interface checks
var (
	_ pair.Store    = (*Store)(nil)
	_ mapping.Store = (*Store)(nil)
)

// Store implements pair.Store and mapping.Store on SQLite.
type Store struct {
	db         *sql.DB
	mappingTTL time.Duration
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("bridge/sqlite: open %s: %w", path, err)
	}
	// One writer; SQLite serializes writes anyway and :memory: is per-connection.
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, mappingTTL: mapping.DefaultTTL}
}

// SetMappingTTL sets how long links are honoured by Counterpart.
func (s *Store) SetMappingTTL(ttl time.Duration) { s.mappingTTL = ttl }

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}
