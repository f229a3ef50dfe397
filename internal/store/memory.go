package store

import (
	"context"
	"fmt"
	"time"
)

// Summary sources recorded alongside each memory summary.
const (
	SummarySourceModel    = "model"
	SummarySourceFallback = "fallback"
)

// MemoryEntry is one ledger block plus its distilled summary.
type MemoryEntry struct {
	ID            int64
	Username      string
	Title         string
	Ledger        string
	Summary       string
	SummarySource string
	CreatedAt     time.Time
}

// InsertMemory appends a ledger block and its summary in one transaction.
func (s *Store) InsertMemory(ctx context.Context, e MemoryEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.nowMillis()
	id, err := s.insert(ctx, tx,
		`INSERT INTO memory_entries (username, title, ledger, created_at) VALUES (?, ?, ?, ?)`,
		e.Username, e.Title, e.Ledger, now)
	if err != nil {
		return 0, fmt.Errorf("insert memory entry: %w", err)
	}
	if _, err := s.insert(ctx, tx,
		`INSERT INTO memory_summaries (entry_id, username, summary, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, e.Username, e.Summary, e.SummarySource, now); err != nil {
		return 0, fmt.Errorf("insert memory summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// RecentMemory returns the newest entries for username, newest first.
func (s *Store) RecentMemory(ctx context.Context, username string, limit int) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT e.id, e.username, e.title, e.ledger, m.summary, m.source, e.created_at
		FROM memory_entries e
		JOIN memory_summaries m ON m.entry_id = e.id
		WHERE e.username = ?
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ?`), username, limit)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	entries := []MemoryEntry{}
	for rows.Next() {
		var e MemoryEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Username, &e.Title, &e.Ledger, &e.Summary, &e.SummarySource, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
