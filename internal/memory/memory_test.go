package memory

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
	"github.com/compresr/pitch-gateway/internal/upstream"
)

type fakeCompleter struct {
	mu         sync.Mutex
	configured bool
	resp       string
	err        error
	block      bool
	requests   []upstream.ChatRequest
}

func (f *fakeCompleter) Configured() bool { return f.configured }

func (f *fakeCompleter) Complete(ctx context.Context, req upstream.ChatRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.resp), nil
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestSummarize_ModelSuccess(t *testing.T) {
	fc := &fakeCompleter{configured: true, resp: chatResponse("  - 客户嫌贵时先讲价值\n- 用案例收尾  ")}
	s := NewSummarizer(fc, "summary-model", time.Second)

	out := s.Summarize(context.Background(), "顾客说太贵了……")
	assert.Equal(t, "- 客户嫌贵时先讲价值\n- 用案例收尾", out.Summary)
	assert.Equal(t, store.SummarySourceModel, out.Source)
	assert.Equal(t, ReasonNone, out.Reason)
	assert.False(t, out.Fallback())

	require.Len(t, fc.requests, 1)
	req := fc.requests[0]
	assert.Equal(t, "summary-model", req.Model)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "顾客说太贵了")
}

func TestSummarize_FallbackReasons(t *testing.T) {
	long := strings.Repeat("话术  练习\n", 100)

	tests := []struct {
		name   string
		client Completer
		reason Reason
	}{
		{"nil client", nil, ReasonNotConfigured},
		{"no credential", &fakeCompleter{configured: false}, ReasonNotConfigured},
		{"upstream error", &fakeCompleter{configured: true, err: apierr.New(apierr.KindBadGateway, "Upstream error")}, ReasonUpstreamError},
		{"empty content", &fakeCompleter{configured: true, resp: chatResponse("   ")}, ReasonEmptyResponse},
		{"garbage body", &fakeCompleter{configured: true, resp: `{"nope":true}`}, ReasonEmptyResponse},
		{"timeout", &fakeCompleter{configured: true, block: true}, ReasonTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSummarizer(tt.client, "m", 20*time.Millisecond)
			out := s.Summarize(context.Background(), long)

			assert.True(t, out.Fallback())
			assert.Equal(t, tt.reason, out.Reason)
			assert.True(t, strings.HasPrefix(out.Summary, "话术 练习 话术 练习"))
			assert.LessOrEqual(t, len([]rune(out.Summary)), config.DefaultSummaryExcerptRunes+3)
		})
	}
}

func TestInputNormalize(t *testing.T) {
	in := Input{Ledger: "hello"}
	require.NoError(t, in.Normalize())
	assert.Equal(t, DefaultTitle, in.Title)
	assert.Equal(t, "hello", in.SummarySource)

	bad := []Input{
		{Ledger: ""},
		{Ledger: "  \n "},
		{Ledger: strings.Repeat("a", maxLedgerRunes+1)},
		{Ledger: "x", Title: strings.Repeat("标", maxTitleRunes+1)},
		{Ledger: "x", SummarySource: strings.Repeat("s", maxSourceRunes+1)},
	}
	for _, b := range bad {
		err := b.Normalize()
		assert.ErrorIs(t, err, apierr.ErrInvalidInput)
	}

	ok := Input{Ledger: strings.Repeat("录", maxLedgerRunes)}
	assert.NoError(t, ok.Normalize(), "limits count characters, not bytes")
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.Default().Database
	cfg.URL = filepath.Join(t.TempDir(), "mem.db")
	st, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateUser(context.Background(), store.User{Username: "alice", Salt: "s", PasswordHash: "h"}))
	return st
}

func TestAppendMemory_PersistsLedgerAndSummary(t *testing.T) {
	st := newStore(t)
	svc := NewService(st, NewSummarizer(&fakeCompleter{configured: true, resp: chatResponse("- 记住先问需求")}, "m", time.Second))

	entry, out, err := svc.AppendMemory(context.Background(), "alice", Input{Ledger: "hello"})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.False(t, out.Fallback())

	entries, err := st.RecentMemory(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Ledger)
	assert.Equal(t, "- 记住先问需求", entries[0].Summary)
	assert.Equal(t, DefaultTitle, entries[0].Title)
}

func TestAppendMemory_FallbackStillPersists(t *testing.T) {
	st := newStore(t)
	svc := NewService(st, NewSummarizer(nil, "m", time.Second))

	_, out, err := svc.AppendMemory(context.Background(), "alice", Input{Title: "周一", Ledger: "raw\n\nledger   text"})
	require.NoError(t, err)
	assert.Equal(t, ReasonNotConfigured, out.Reason)

	entries, err := st.RecentMemory(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "raw ledger text", entries[0].Summary)
	assert.Equal(t, store.SummarySourceFallback, entries[0].SummarySource)
}

func TestAppendMemory_ValidationRunsFirst(t *testing.T) {
	fc := &fakeCompleter{configured: true, resp: chatResponse("x")}
	svc := NewService(nil, NewSummarizer(fc, "m", time.Second))

	_, _, err := svc.AppendMemory(context.Background(), "alice", Input{})
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
	assert.Empty(t, fc.requests, "no upstream call for invalid input")
}

type failingStore struct{}

func (failingStore) InsertMemory(context.Context, store.MemoryEntry) (int64, error) {
	return 0, errors.New("disk full")
}

func TestAppendMemory_StoreErrorIsInternal(t *testing.T) {
	svc := NewService(failingStore{}, NewSummarizer(nil, "m", time.Second))
	_, _, err := svc.AppendMemory(context.Background(), "alice", Input{Ledger: "x"})
	require.Error(t, err)
	assert.Equal(t, apierr.KindInternal, apierr.As(err).Kind)
}
