// Package prefs persists user preferences across restarts in a small
// SQLite key-value table, read once at startup and written on every change.
package prefs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rg1989/local-ai-voice-chat/internal/protocol"
)

// Preferences is everything the user can tune that must survive a restart.
// JSON tags double as the storage keys.
type Preferences struct {
	Model          string                  `json:"model"`
	Voice          string                  `json:"voice"`
	TTSEnabled     bool                    `json:"tts_enabled"`
	CustomRules    string                  `json:"custom_rules"`
	GlobalRules    string                  `json:"global_rules"`
	ToolsEnabled   map[string]bool         `json:"tools_enabled"`
	Wakeword       protocol.WakewordConfig `json:"wakeword"`
	ConversationID string                  `json:"conversation_id"`
}

// Default returns the preferences used before anything has been saved.
func Default() Preferences {
	return Preferences{
		TTSEnabled:   true,
		ToolsEnabled: map[string]bool{},
		Wakeword: protocol.WakewordConfig{
			Model:          "hey_jarvis",
			Threshold:      0.5,
			TimeoutSeconds: 10,
			DebounceMS:     1000,
		},
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p Preferences) Clone() Preferences {
	out := p
	out.ToolsEnabled = make(map[string]bool, len(p.ToolsEnabled))
	for k, v := range p.ToolsEnabled {
		out.ToolsEnabled[k] = v
	}
	return out
}

type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create prefs dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init prefs schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads all stored keys over the defaults, so new fields pick up their
// default value and stale rows are ignored.
func (s *Store) Load() (Preferences, error) {
	rows, err := s.db.Query(`SELECT key, value FROM preferences`)
	if err != nil {
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()

	stored := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Preferences{}, fmt.Errorf("scan preference: %w", err)
		}
		stored[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}

	p := Default()
	merged, err := json.Marshal(stored)
	if err != nil {
		return Preferences{}, err
	}
	if err := json.Unmarshal(merged, &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	if p.ToolsEnabled == nil {
		p.ToolsEnabled = map[string]bool{}
	}
	return p, nil
}

// Save upserts every preference key in one transaction.
func (s *Store) Save(p Preferences) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	defer stmt.Close()

	for key, value := range fields {
		if _, err := stmt.Exec(key, string(value)); err != nil {
			return fmt.Errorf("save preference %s: %w", key, err)
		}
	}
	return tx.Commit()
}
