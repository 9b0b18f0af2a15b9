package transcript

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"quantaforge.ai/internal/chat"
)

// Store keeps a searchable record of every handled chat exchange. Writes go
// through a buffered channel and a single writer goroutine, so recording
// never blocks a platform reader.
type Store struct {
	db *sql.DB

	ch   chan entry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type entry struct {
	ID         string
	Platform   string
	ChannelID  string
	UserID     string
	Username   string
	Message    string
	Response   string
	Privileged bool
	At         time.Time
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty transcript db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		// Chat is bursty around raids; buffer enough to never stall.
		ch: make(chan entry, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			message TEXT NOT NULL,
			response TEXT NOT NULL,
			privileged INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_at ON exchanges(at);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_user ON exchanges(username, at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues one exchange. Implements the bridge's recorder contract.
// Drops on overflow; the transcript is a convenience, not a ledger.
func (s *Store) Record(msg chat.ChatMessage, isPrivileged bool, response string) {
	if s == nil || s.closed.Load() {
		return
	}
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	e := entry{
		ID:         ulid.Make().String(),
		Platform:   msg.Platform,
		ChannelID:  msg.ChannelID,
		UserID:     msg.UserID,
		Username:   msg.DisplayName,
		Message:    msg.Text,
		Response:   response,
		Privileged: isPrivileged,
		At:         at,
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *Store) loop() {
	for e := range s.ch {
		_, err := s.db.Exec(
			`INSERT INTO exchanges (id, platform, channel_id, user_id, username, message, response, privileged, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Platform, e.ChannelID, e.UserID, e.Username, e.Message, e.Response,
			boolInt(e.Privileged), e.At.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			// Keep draining; a bad row must not wedge the writer.
			continue
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Exchange is one recorded chat interaction.
type Exchange struct {
	ID         string
	Platform   string
	Username   string
	Message    string
	Response   string
	Privileged bool
	At         time.Time
}

// Recent returns up to limit exchanges, newest first.
func (s *Store) Recent(limit int) ([]Exchange, error) {
	rows, err := s.db.Query(
		`SELECT id, platform, username, message, response, privileged, at
		 FROM exchanges ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		var priv int
		var at string
		if err := rows.Scan(&e.ID, &e.Platform, &e.Username, &e.Message, &e.Response, &priv, &at); err != nil {
			return nil, err
		}
		e.Privileged = priv != 0
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
