// Package history keeps a local log of tunnel status transitions in an
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/tunnel"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        INTEGER NOT NULL,
	state     TEXT    NOT NULL,
	text      TEXT    NOT NULL,
	connected INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_at ON events (at);
`

// Event is one recorded status transition.
type Event struct {
	ID        int64
	Time      time.Time
	State     string
	Text      string
	Connected bool
}

// Store is the history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.local/share/macprox/history.db.
func DefaultPath() (string, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.HistoryFileName), nil
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrHistory, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", common.ErrHistory, path, err)
	}
	// One writer at a time; the sink is the only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrHistory, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", common.ErrHistory, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		common.LogDebug("history: chmod %s: %v", path, err)
	}
	return &Store{db: db}, nil
}

// Record stores one status.
func (s *Store) Record(ctx context.Context, st tunnel.Status) error {
	at := st.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (at, state, text, connected) VALUES (?, ?, ?, ?)",
		at.UnixNano(), st.State.String(), st.Text, st.Connected)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", common.ErrHistory, err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, at, state, text, connected FROM events ORDER BY at DESC, id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", common.ErrHistory, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.ID, &at, &e.State, &e.Text, &e.Connected); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", common.ErrHistory, err)
		}
		e.Time = time.Unix(0, at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrHistory, err)
	}
	return events, nil
}

// Prune deletes events older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", common.ErrHistory, err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sink records statuses in the background so reporting never waits on the
// database. It implements tunnel.Reporter.
type Sink struct {
	store *Store

	mu     sync.Mutex
	closed bool
	ch     chan tunnel.Status
	done   chan struct{}
}

// NewSink starts a Sink writing to store. Statuses beyond buffer pending
// writes are dropped.
func NewSink(store *Store, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 32
	}
	s := &Sink{
		store: store,
		ch:    make(chan tunnel.Status, buffer),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for st := range s.ch {
		if err := s.store.Record(context.Background(), st); err != nil {
			common.LogWarn("history: %v", err)
		}
	}
}

// Report implements tunnel.Reporter.
func (s *Sink) Report(st tunnel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- st:
	default:
		common.LogDebug("history: dropping status %q", st.Text)
	}
}

// Close flushes pending writes and stops the sink. The store stays open.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}
