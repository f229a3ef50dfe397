// Package memory appends ledger blocks and their distilled summaries.
//
// DESIGN: AppendMemory = validate -> Summarize (never fails, degrades to a
// whitespace-normalized excerpt) -> one transaction inserting the ledger
// row and the summary row. The write is detached from client cancellation
// so a dropped connection does not lose an accepted entry.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/store"
	"github.com/compresr/pitch-gateway/internal/utils"
)

const (
	// DefaultTitle is used when the client sends no title.
	DefaultTitle = "训练记录"

	maxLedgerRunes = 20000
	maxTitleRunes  = 120
	maxSourceRunes = 20000
)

// Input is the validated body of an append request.
type Input struct {
	Title         string `json:"title"`
	Ledger        string `json:"ledger"`
	SummarySource string `json:"summarySource"`
}

// Normalize applies defaults and enforces field limits.
func (in *Input) Normalize() error {
	if strings.TrimSpace(in.Ledger) == "" {
		return apierr.Invalid("ledger is required")
	}
	if utils.RuneLen(in.Ledger) > maxLedgerRunes {
		return apierr.Invalid("ledger is too long")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		in.Title = DefaultTitle
	}
	if utils.RuneLen(in.Title) > maxTitleRunes {
		return apierr.Invalid("title is too long")
	}
	if strings.TrimSpace(in.SummarySource) == "" {
		in.SummarySource = in.Ledger
	}
	if utils.RuneLen(in.SummarySource) > maxSourceRunes {
		return apierr.Invalid("summarySource is too long")
	}
	return nil
}

// Store is the persistence the service needs.
type Store interface {
	InsertMemory(ctx context.Context, e store.MemoryEntry) (int64, error)
}

// Service records memory entries.
type Service struct {
	store      Store
	summarizer *Summarizer
}

// NewService creates a memory service.
func NewService(st Store, summarizer *Summarizer) *Service {
	return &Service{store: st, summarizer: summarizer}
}

// AppendMemory summarizes and persists one ledger block for username.
func (s *Service) AppendMemory(ctx context.Context, username string, in Input) (*store.MemoryEntry, Outcome, error) {
	if err := in.Normalize(); err != nil {
		return nil, Outcome{}, err
	}

	ctx = context.WithoutCancel(ctx)
	outcome := s.summarizer.Summarize(ctx, in.SummarySource)

	entry := store.MemoryEntry{
		Username:      username,
		Title:         in.Title,
		Ledger:        in.Ledger,
		Summary:       outcome.Summary,
		SummarySource: outcome.Source,
	}
	id, err := s.store.InsertMemory(ctx, entry)
	if err != nil {
		return nil, outcome, fmt.Errorf("append memory for %s: %w", username, err)
	}
	entry.ID = id

	log.Info().
		Str("username", username).
		Int64("entry_id", id).
		Str("summary_source", outcome.Source).
		Str("reason", string(outcome.Reason)).
		Msg("memory appended")
	return &entry, outcome, nil
}
