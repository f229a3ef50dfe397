package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/pitch-gateway/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default().Database
	cfg.Driver = config.DriverSQLite
	cfg.URL = filepath.Join(t.TempDir(), "nested", "test.db")

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store, name string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), User{Username: name, Salt: "salt", PasswordHash: "hash"}))
}

func TestOpen_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
	require.NoError(t, s.migrate(context.Background()))
	assert.Equal(t, config.DriverSQLite, s.Driver())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestUsers_CreateGetDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUser(t, s, "alice")

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "salt", u.Salt)
	assert.Equal(t, "hash", u.PasswordHash)
	assert.False(t, u.CreatedAt.IsZero())

	err = s.CreateUser(ctx, User{Username: "alice", Salt: "x", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.GetUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUsers_ConcurrentDuplicateOnlyOneWins(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateUser(context.Background(), User{Username: "racer", Salt: "s", PasswordHash: "h"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicate):
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, dups)
}

func TestMemory_InsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "alice")

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	_, err := s.InsertMemory(ctx, MemoryEntry{Username: "alice", Title: "训练记录", Ledger: "first", Summary: "- one", SummarySource: SummarySourceModel})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = s.InsertMemory(ctx, MemoryEntry{Username: "alice", Title: "t", Ledger: "second", Summary: "second", SummarySource: SummarySourceFallback})
	require.NoError(t, err)

	entries, err := s.RecentMemory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Ledger)
	assert.Equal(t, SummarySourceFallback, entries[0].SummarySource)
	assert.Equal(t, "- one", entries[1].Summary)
	assert.True(t, clock.Equal(entries[0].CreatedAt))
}

func TestMemory_UnknownUserViolatesForeignKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertMemory(context.Background(), MemoryEntry{Username: "ghost", Title: "t", Ledger: "l", Summary: "s", SummarySource: SummarySourceModel})
	require.Error(t, err)

	entries, err := s.RecentMemory(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed transaction must not leave a ledger row behind")
}

func TestGrowth_RecordsNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "alice")
	mustUser(t, s, "bob")

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	for _, q := range []string{"q1", "q2", "q3"} {
		clock = clock.Add(time.Second)
		_, err := s.InsertGrowthRecord(ctx, RecordGeneration, "alice", GrowthRecord{
			Question:   q,
			Snapshot:   json.RawMessage(`{"industry":"retail"}`),
			Suggestion: json.RawMessage(`{"script":"` + q + `"}`),
		})
		require.NoError(t, err)
	}
	_, err := s.InsertGrowthRecord(ctx, RecordGeneration, "bob", GrowthRecord{Question: "other", Snapshot: json.RawMessage(`{}`), Suggestion: json.RawMessage(`{}`)})
	require.NoError(t, err)

	recs, err := s.RecentGrowthRecords(ctx, RecordGeneration, "alice", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "q3", recs[0].Question)
	assert.Equal(t, "q2", recs[1].Question)
	assert.JSONEq(t, `{"script":"q3"}`, string(recs[0].Suggestion))

	saved, err := s.RecentGrowthRecords(ctx, RecordSaved, "alice", 8)
	require.NoError(t, err)
	assert.NotNil(t, saved)
	assert.Empty(t, saved)

	_, err = s.InsertGrowthRecord(ctx, RecordKind("bogus"), "alice", GrowthRecord{})
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "alice")

	st, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, GrowthStats{}, st)

	for _, score := range []int{70, 85} {
		_, err := s.InsertDrillScore(ctx, DrillScore{Username: "alice", Question: "q", Answer: "a", Score: score})
		require.NoError(t, err)
	}
	_, err = s.InsertGrowthRecord(ctx, RecordSaved, "alice", GrowthRecord{Question: "q", Snapshot: json.RawMessage(`{}`), Suggestion: json.RawMessage(`{}`)})
	require.NoError(t, err)

	st, err = s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalGenerations)
	assert.Equal(t, int64(1), st.TotalSavedScripts)
	assert.Equal(t, int64(2), st.DrillScoreCount)
	assert.InDelta(t, 77.5, st.DrillAverageScore, 0.001)
}

func TestRebind(t *testing.T) {
	pg, err := dialectFor(config.DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite, err := dialectFor(config.DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestSQLiteDSN_AlwaysEnablesForeignKeys(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		in   string
	}{
		{"plain path", filepath.Join(dir, "a.db")},
		{"path with query", filepath.Join(dir, "b.db") + "?_pragma=busy_timeout(1000)"},
		{"file uri", "file:" + filepath.Join(dir, "c.db")},
		{"memory", ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := sqliteDSN(tt.in)
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(dsn, "_pragma=foreign_keys(on)"), dsn)
			assert.Equal(t, 1, strings.Count(dsn, "_pragma=busy_timeout("), dsn)
			assert.Equal(t, 1, strings.Count(dsn, "?"), dsn)
		})
	}

	dsn, err := sqliteDSN(filepath.Join(dir, "d.db") + "?_pragma=foreign_keys(off)")
	require.NoError(t, err)
	assert.NotContains(t, dsn, "foreign_keys(on)", "an explicit setting is left alone")
}

func TestOpen_CustomQueryStillEnforcesForeignKeys(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = config.DriverSQLite
	cfg.URL = filepath.Join(t.TempDir(), "custom.db") + "?_pragma=busy_timeout(1000)"
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.InsertMemory(context.Background(), MemoryEntry{Username: "ghost", Title: "t", Ledger: "l", Summary: "s", SummarySource: SummarySourceModel})
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN("mysql://user:pw@db.internal:3306/pitch")
	require.NoError(t, err)
	assert.Contains(t, dsn, "user:pw@tcp(db.internal:3306)/pitch")
	assert.Contains(t, dsn, "parseTime=true")

	dsn, err = mysqlDSN("user:pw@tcp(127.0.0.1:3306)/pitch")
	require.NoError(t, err)
	assert.Contains(t, dsn, "tcp(127.0.0.1:3306)/pitch")
}

func TestIsUniqueViolation_IgnoresOtherErrors(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}
