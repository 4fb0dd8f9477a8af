// Package store is the local SQLite cache backing offline operation.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"livecap/account"
	"livecap/floating"
	"livecap/notes"
	"livecap/quota"
)

const FileName = "livecap.sqlite"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_days (
		day TEXT PRIMARY KEY,
		minutes INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		minutes INTEGER NOT NULL,
		sessionType TEXT NOT NULL,
		title TEXT NOT NULL,
		createdAt INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT NOT NULL,
		createdAt INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS floating_settings (
		kind TEXT PRIMARY KEY,
		settings TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS floating_positions (
		kind TEXT PRIMARY KEY,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL
	)`,
}

// Store implements quota.Cache, notes.Cache and floating.Store.
type Store struct {
	db *sql.DB
}

var (
	_ quota.Cache    = (*Store)(nil)
	_ notes.Cache    = (*Store)(nil)
	_ floating.Store = (*Store)(nil)
)

// Open opens or creates the cache at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getJSON(key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Usage

type snapshot struct {
	Tier          quota.Tier `json:"tier"`
	UsedToday     int        `json:"usedToday"`
	UsedThisMonth int        `json:"usedThisMonth"`
	DailyLimit    int        `json:"dailyLimit"`
	MonthlyLimit  *int       `json:"monthlyLimit,omitempty"`
	AsOf          time.Time  `json:"asOf"`
}

func (s *Store) LoadSnapshot() (quota.State, bool, error) {
	var snap snapshot
	ok, err := s.getJSON("quota_snapshot", &snap)
	if !ok || err != nil {
		return quota.State{}, false, err
	}
	return quota.State(snap), true, nil
}

func (s *Store) SaveSnapshot(st quota.State) error {
	return s.putJSON("quota_snapshot", snapshot(st))
}

func (s *Store) AppendPending(p quota.PendingCommit) error {
	_, err := s.db.Exec(`INSERT INTO pending_commits (minutes, sessionType, title, createdAt) VALUES (?, ?, ?, ?)`,
		p.Minutes, p.SessionType, p.Title, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert pending commit: %w", err)
	}
	return nil
}

func (s *Store) PendingCommits() ([]quota.PendingCommit, error) {
	rows, err := s.db.Query(`SELECT id, minutes, sessionType, title, createdAt FROM pending_commits ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending commits: %w", err)
	}
	defer rows.Close()

	var out []quota.PendingCommit
	for rows.Next() {
		var p quota.PendingCommit
		var created int64
		if err := rows.Scan(&p.ID, &p.Minutes, &p.SessionType, &p.Title, &created); err != nil {
			return nil, fmt.Errorf("scan pending commit: %w", err)
		}
		p.CreatedAt = time.UnixMilli(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) RemovePending(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_commits WHERE id = ?`, id)
	return err
}

func (s *Store) AddDayUsage(day string, minutes int) error {
	_, err := s.db.Exec(`INSERT INTO usage_days (day, minutes) VALUES (?, ?)
		ON CONFLICT(day) DO UPDATE SET minutes = minutes + excluded.minutes`, day, minutes)
	return err
}

func (s *Store) DayUsage(day string) (int, error) {
	var m int
	err := s.db.QueryRow(`SELECT minutes FROM usage_days WHERE day = ?`, day).Scan(&m)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return m, err
}

func (s *Store) MonthUsage(month string) (int, error) {
	var m int
	err := s.db.QueryRow(`SELECT COALESCE(SUM(minutes), 0) FROM usage_days WHERE day LIKE ?`, month+"-%").Scan(&m)
	return m, err
}

// Notes

func (s *Store) AppendPendingNote(n account.Note) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO pending_notes (body, createdAt) VALUES (?, ?)`, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert pending note: %w", err)
	}
	return nil
}

func (s *Store) PendingNotes() ([]notes.Pending, error) {
	rows, err := s.db.Query(`SELECT id, body FROM pending_notes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending notes: %w", err)
	}
	defer rows.Close()

	var out []notes.Pending
	for rows.Next() {
		var p notes.Pending
		var body string
		if err := rows.Scan(&p.ID, &body); err != nil {
			return nil, fmt.Errorf("scan pending note: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &p.Note); err != nil {
			return nil, fmt.Errorf("decode pending note %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) RemovePendingNote(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_notes WHERE id = ?`, id)
	return err
}

// Floating surfaces

func (s *Store) LoadSettings(kind floating.Kind) (floating.Settings, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT settings FROM floating_settings WHERE kind = ?`, string(kind)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return floating.Settings{}, false, nil
	}
	if err != nil {
		return floating.Settings{}, false, fmt.Errorf("read settings: %w", err)
	}
	var st floating.Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return floating.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	return st, true, nil
}

func (s *Store) SaveSettings(kind floating.Kind, st floating.Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO floating_settings (kind, settings) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET settings = excluded.settings`, string(kind), string(raw))
	return err
}

func (s *Store) SavePosition(kind floating.Kind, p floating.Position) error {
	_, err := s.db.Exec(`INSERT INTO floating_positions (kind, x, y) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET x = excluded.x, y = excluded.y`, string(kind), p.X, p.Y)
	return err
}

func (s *Store) LoadPosition(kind floating.Kind) (floating.Position, bool, error) {
	var p floating.Position
	err := s.db.QueryRow(`SELECT x, y FROM floating_positions WHERE kind = ?`, string(kind)).Scan(&p.X, &p.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	return p, err == nil, err
}
