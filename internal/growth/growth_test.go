package growth

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

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/store"
)

func f(v float64) *float64 { return &v }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.Default().Database
	cfg.URL = filepath.Join(t.TempDir(), "growth.db")
	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateUser(context.Background(), store.User{Username: "alice", Salt: "s", PasswordHash: "h"}))
	return st
}

func TestSnapshot_EmptyUser(t *testing.T) {
	svc := NewService(newStore(t), 5, 8)

	snap, err := svc.LoadGrowthSnapshot(context.Background(), "alice")
	require.NoError(t, err)

	out, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"history": [],
		"savedScripts": [],
		"stats": {"totalGenerations":0,"totalSavedScripts":0,"drillScoreCount":0,"drillAverageScore":0}
	}`, string(out))
}

func TestSnapshot_BoundsAndAggregates(t *testing.T) {
	st := newStore(t)
	svc := NewService(st, 5, 8)
	ctx := context.Background()

	rec := RecordInput{Question: "顾客嫌贵怎么办", Snapshot: json.RawMessage(`{"industry":"数码"}`), Suggestion: json.RawMessage(`{"script":"先认同"}`)}
	for i := 0; i < 7; i++ {
		_, err := svc.SaveGrowthRecord(ctx, store.RecordGeneration, "alice", rec)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := svc.SaveGrowthRecord(ctx, store.RecordSaved, "alice", rec)
		require.NoError(t, err)
	}
	for _, score := range []float64{80, 90, 91} {
		_, err := svc.SaveDrillScore(ctx, "alice", DrillInput{Question: "q", Answer: "a", Score: f(score)})
		require.NoError(t, err)
	}

	snap, err := svc.LoadGrowthSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, snap.History, 5)
	assert.Len(t, snap.SavedScripts, 8)
	assert.Equal(t, int64(7), snap.Stats.TotalGenerations)
	assert.Equal(t, int64(10), snap.Stats.TotalSavedScripts)
	assert.Equal(t, int64(3), snap.Stats.DrillScoreCount)
	assert.Equal(t, 87.0, snap.Stats.DrillAverageScore)
	assert.JSONEq(t, `{"script":"先认同"}`, string(snap.History[0].Suggestion))
}

func TestRecordValidation(t *testing.T) {
	obj := json.RawMessage(`{}`)
	tests := []struct {
		name string
		in   RecordInput
	}{
		{"empty question", RecordInput{Question: " ", Snapshot: obj, Suggestion: obj}},
		{"long question", RecordInput{Question: strings.Repeat("问", maxQuestionRunes+1), Snapshot: obj, Suggestion: obj}},
		{"missing snapshot", RecordInput{Question: "q", Suggestion: obj}},
		{"scalar snapshot", RecordInput{Question: "q", Snapshot: json.RawMessage(`"text"`), Suggestion: obj}},
		{"array suggestion", RecordInput{Question: "q", Snapshot: obj, Suggestion: json.RawMessage(`[1]`)}},
		{"null suggestion", RecordInput{Question: "q", Snapshot: obj, Suggestion: json.RawMessage(`null`)}},
		{"huge snapshot", RecordInput{Question: "q", Snapshot: json.RawMessage(`{"x":"` + strings.Repeat("a", maxObjectBytes) + `"}`), Suggestion: obj}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.in.Validate(), apierr.ErrInvalidInput)
		})
	}

	ok := RecordInput{Question: "q", Snapshot: obj, Suggestion: json.RawMessage(`{"a":[1,2]}`)}
	assert.NoError(t, ok.Validate())
}

func TestDrillScore_Bounds(t *testing.T) {
	tests := []struct {
		score   *float64
		want    int
		wantErr bool
	}{
		{f(0), 0, false},
		{f(100), 100, false},
		{f(72.4), 72, false},
		{f(72.5), 73, false},
		{f(99.5), 100, false},
		{f(-0.1), 0, true},
		{f(100.01), 0, true},
		{f(-5), 0, true},
		{nil, 0, true},
	}
	for _, tt := range tests {
		in := DrillInput{Question: "q", Answer: "a", Score: tt.score}
		got, err := in.Validate()
		if tt.wantErr {
			assert.ErrorIs(t, err, apierr.ErrInvalidInput)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestDrillScore_FieldLimits(t *testing.T) {
	base := func() DrillInput { return DrillInput{Question: "q", Answer: "a", Score: f(50)} }

	cases := map[string]func(*DrillInput){
		"no question":   func(d *DrillInput) { d.Question = "" },
		"no answer":     func(d *DrillInput) { d.Answer = "  " },
		"long answer":   func(d *DrillInput) { d.Answer = strings.Repeat("答", maxAnswerRunes+1) },
		"long feedback": func(d *DrillInput) { d.Feedback = strings.Repeat("x", maxNoteRunes+1) },
		"long industry": func(d *DrillInput) { d.Industry = strings.Repeat("x", maxTagRunes+1) },
		"long product":  func(d *DrillInput) { d.ProductID = strings.Repeat("x", maxTagRunes+1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base()
			mutate(&in)
			_, err := in.Validate()
			assert.ErrorIs(t, err, apierr.ErrInvalidInput)
		})
	}
}

// barrierStore blocks every read until all three snapshot reads have started.
type barrierStore struct {
	wg      sync.WaitGroup
	release chan struct{}
	failOn  store.RecordKind
}

func newBarrierStore() *barrierStore {
	b := &barrierStore{release: make(chan struct{})}
	b.wg.Add(3)
	go func() {
		b.wg.Wait()
		close(b.release)
	}()
	return b
}

func (b *barrierStore) wait(ctx context.Context) error {
	b.wg.Done()
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("reads were not issued concurrently")
	}
}

func (b *barrierStore) InsertGrowthRecord(context.Context, store.RecordKind, string, store.GrowthRecord) (int64, error) {
	return 0, nil
}

func (b *barrierStore) RecentGrowthRecords(ctx context.Context, kind store.RecordKind, _ string, _ int) ([]store.GrowthRecord, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if kind == b.failOn {
		return nil, errors.New("query failed")
	}
	return []store.GrowthRecord{{Question: string(kind)}}, nil
}

func (b *barrierStore) InsertDrillScore(context.Context, store.DrillScore) (int64, error) {
	return 0, nil
}

func (b *barrierStore) Stats(ctx context.Context, _ string) (store.GrowthStats, error) {
	if err := b.wait(ctx); err != nil {
		return store.GrowthStats{}, err
	}
	return store.GrowthStats{DrillScoreCount: 3, DrillAverageScore: 83.3333}, nil
}

func TestSnapshot_ReadsRunConcurrently(t *testing.T) {
	svc := NewService(newBarrierStore(), 5, 8)

	snap, err := svc.LoadGrowthSnapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, string(store.RecordGeneration), snap.History[0].Question)
	assert.Equal(t, string(store.RecordSaved), snap.SavedScripts[0].Question)
	assert.Equal(t, 83.3, snap.Stats.DrillAverageScore)
}

func TestSnapshot_FailurePropagates(t *testing.T) {
	b := newBarrierStore()
	b.failOn = store.RecordSaved
	svc := NewService(b, 5, 8)

	_, err := svc.LoadGrowthSnapshot(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, apierr.KindInternal, apierr.As(err).Kind)
}
