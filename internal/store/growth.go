package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RecordKind selects which growth table a record belongs to.
type RecordKind string

const (
	RecordGeneration RecordKind = "script-generation"
	RecordSaved      RecordKind = "saved-script"
)

func (k RecordKind) table() (string, error) {
	switch k {
	case RecordGeneration:
		return "script_generations", nil
	case RecordSaved:
		return "saved_scripts", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", k)
	}
}

// GrowthRecord is a generated or saved script with its context.
type GrowthRecord struct {
	ID         int64           `json:"id"`
	Question   string          `json:"question"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Suggestion json.RawMessage `json:"suggestion"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// DrillScore is one graded objection-handling answer.
type DrillScore struct {
	Username  string
	Question  string
	Answer    string
	Score     int
	Feedback  string
	Highlight string
	Improve   string
	Industry  string
	ProductID string
}

// GrowthStats are the per-user aggregate counters.
type GrowthStats struct {
	TotalGenerations  int64   `json:"totalGenerations"`
	TotalSavedScripts int64   `json:"totalSavedScripts"`
	DrillScoreCount   int64   `json:"drillScoreCount"`
	DrillAverageScore float64 `json:"drillAverageScore"`
}

// InsertGrowthRecord stores a record of the given kind for username.
func (s *Store) InsertGrowthRecord(ctx context.Context, kind RecordKind, username string, rec GrowthRecord) (int64, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}
	id, err := s.insert(ctx, s.db,
		`INSERT INTO `+table+` (username, question, snapshot, suggestion, created_at) VALUES (?, ?, ?, ?, ?)`,
		username, rec.Question, string(rec.Snapshot), string(rec.Suggestion), s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// RecentGrowthRecords returns the newest records of kind, newest first.
func (s *Store) RecentGrowthRecords(ctx context.Context, kind RecordKind, username string, limit int) ([]GrowthRecord, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, question, snapshot, suggestion, created_at
		FROM `+table+`
		WHERE username = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), username, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	records := []GrowthRecord{}
	for rows.Next() {
		var r GrowthRecord
		var snapshot, suggestion string
		var created int64
		if err := rows.Scan(&r.ID, &r.Question, &snapshot, &suggestion, &created); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.Snapshot = json.RawMessage(snapshot)
		r.Suggestion = json.RawMessage(suggestion)
		r.CreatedAt = fromMillis(created)
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertDrillScore stores a graded drill answer.
func (s *Store) InsertDrillScore(ctx context.Context, d DrillScore) (int64, error) {
	id, err := s.insert(ctx, s.db, `
		INSERT INTO drill_scores
			(username, question, answer, score, feedback, highlight, improve, industry, product_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Username, d.Question, d.Answer, d.Score, d.Feedback, d.Highlight, d.Improve, d.Industry, d.ProductID, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert drill score: %w", err)
	}
	return id, nil
}

// Stats computes the aggregate counters for username in a single round trip.
func (s *Store) Stats(ctx context.Context, username string) (GrowthStats, error) {
	var st GrowthStats
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT
			(SELECT COUNT(*) FROM script_generations WHERE username = ?),
			(SELECT COUNT(*) FROM saved_scripts WHERE username = ?),
			(SELECT COUNT(*) FROM drill_scores WHERE username = ?),
			(SELECT COALESCE(AVG(score), 0) FROM drill_scores WHERE username = ?)`),
		username, username, username, username,
	).Scan(&st.TotalGenerations, &st.TotalSavedScripts, &st.DrillScoreCount, &st.DrillAverageScore)
	if err != nil {
		return GrowthStats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
