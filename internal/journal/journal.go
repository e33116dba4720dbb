// Package journal is the durable, append-only record of turns. SQLite in WAL
// mode is the storage layer; a single Journal is shared process-wide and is
// safe for concurrent appenders.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Turn is one user/assistant exchange. Rows are never mutated or deleted by
// the gateway; rotation is an external policy.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	Event     string    `json:"event"`
	Reply     string    `json:"reply"`
	Mood      string    `json:"mood"`
	VoiceMode string    `json:"voice_mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates the journal for the /memory/summary surface.
type Summary struct {
	TotalTurns int            `json:"total_turns"`
	MoodCounts map[string]int `json:"mood_counts"`
	FirstTurn  string         `json:"first_turn,omitempty"`
	LastTurn   string         `json:"last_turn,omitempty"`
}

type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the backing database if needed and configures it for
// concurrent writers. The busy timeout is generous so parallel appends block
// instead of failing with a lock error.
func Open(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	j := &Journal{db: db}
	if err := j.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (j *Journal) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id TEXT NOT NULL,
			event TEXT NOT NULL,
			reply TEXT NOT NULL,
			mood TEXT,
			voice_mode TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one turn. The row is visible to readers before Append
// returns. A missing TurnID or CreatedAt is filled in here.
func (j *Journal) Append(ctx context.Context, t Turn) error {
	if t.TurnID == "" {
		t.TurnID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO turns (turn_id, event, reply, mood, voice_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.TurnID, t.Event, t.Reply, nullable(t.Mood), nullable(t.VoiceMode),
		t.CreatedAt.Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns the last n turns in insertion order, oldest first. Rows
// written before the mood and voice_mode columns carried values come back
// with empty strings.
func (j *Journal) Recent(ctx context.Context, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT turn_id, event, reply, mood, voice_mode, created_at
		FROM turns ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var mood, mode sql.NullString
		var created string
		if err := rows.Scan(&t.TurnID, &t.Event, &t.Reply, &mood, &mode, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Mood = mood.String
		t.VoiceMode = mode.String
		if ts, err := time.Parse("2006-01-02T15:04:05.000Z", created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Reverse into insertion order.
	for i, k := 0, len(turns)-1; i < k; i, k = i+1, k-1 {
		turns[i], turns[k] = turns[k], turns[i]
	}
	return turns, nil
}

// RecentContext renders the last maxTurns turns as bullet lines for the
// system prompt. The formatting is stable for a given input: it participates
// in downstream cache keys. filter, when non-empty, keeps only turns whose
// event or reply contains it (case-insensitive).
func (j *Journal) RecentContext(ctx context.Context, maxTurns int, filter string) (string, error) {
	turns, err := j.Recent(ctx, maxTurns)
	if err != nil {
		return "", err
	}

	var lines []string
	needle := strings.ToLower(strings.TrimSpace(filter))
	for _, t := range turns {
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Event), needle) &&
			!strings.Contains(strings.ToLower(t.Reply), needle) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- user: %s | assistant: %s", oneLine(t.Event), oneLine(t.Reply)))
	}
	return strings.Join(lines, "\n"), nil
}

// Count returns the total number of recorded turns.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// Summarize aggregates the whole journal.
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	s := Summary{MoodCounts: make(map[string]int)}

	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&s.TotalTurns); err != nil {
		return s, fmt.Errorf("summary count: %w", err)
	}
	if s.TotalTurns == 0 {
		return s, nil
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT COALESCE(mood, 'Unknown'), COUNT(*) FROM turns GROUP BY 1
	`)
	if err != nil {
		return s, fmt.Errorf("summary moods: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mood string
		var n int
		if err := rows.Scan(&mood, &n); err != nil {
			return s, fmt.Errorf("scan mood count: %w", err)
		}
		if mood == "" {
			mood = "Unknown"
		}
		s.MoodCounts[mood] += n
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("iterate mood counts: %w", err)
	}

	err = j.db.QueryRowContext(ctx, `
		SELECT MIN(created_at), MAX(created_at) FROM turns
	`).Scan(&s.FirstTurn, &s.LastTurn)
	if err != nil {
		return s, fmt.Errorf("summary range: %w", err)
	}
	return s, nil
}

// DaySummary renders a one-line rollup of today's activity for the scheduled
// maintenance log.
func (j *Journal) DaySummary(ctx context.Context) (string, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM turns WHERE date(created_at) = date('now')
	`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("day summary: %w", err)
	}
	return fmt.Sprintf("%d turns today", n), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
