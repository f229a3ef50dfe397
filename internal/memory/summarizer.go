package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/store"
	"github.com/compresr/pitch-gateway/internal/upstream"
	"github.com/compresr/pitch-gateway/internal/utils"
)

// maxSummaryRunes caps what a model may store as a summary.
const maxSummaryRunes = 600

// Reason explains why a summary fell back to an excerpt.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotConfigured Reason = "not_configured"
	ReasonTimeout       Reason = "timeout"
	ReasonUpstreamError Reason = "upstream_error"
	ReasonEmptyResponse Reason = "empty_response"
)

// Outcome is the result of a summarization attempt. It always carries a
// usable Summary: on failure the excerpt fallback has been applied.
type Outcome struct {
	Summary string
	Source  string // store.SummarySourceModel or store.SummarySourceFallback
	Reason  Reason
}

// Fallback reports whether the excerpt was used.
func (o Outcome) Fallback() bool {
	return o.Source == store.SummarySourceFallback
}

// Completer is the buffered upstream completion call.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req upstream.ChatRequest) (json.RawMessage, error)
}

// Summarizer condenses ledger text into 1-2 bullets.
type Summarizer struct {
	client       Completer
	model        string
	timeout      time.Duration
	excerptRunes int
}

// NewSummarizer creates a summarizer. client may be nil, in which case every
// summary is an excerpt.
func NewSummarizer(client Completer, model string, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = config.DefaultSummaryTimeout
	}
	return &Summarizer{
		client:       client,
		model:        model,
		timeout:      timeout,
		excerptRunes: config.DefaultSummaryExcerptRunes,
	}
}

// Summarize never fails: errors are reported through Outcome.Reason.
func (s *Summarizer) Summarize(ctx context.Context, source string) Outcome {
	if s.client == nil || !s.client.Configured() {
		return s.fallback(source, ReasonNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Complete(ctx, BuildSummaryRequest(s.model, source))
	if err != nil {
		reason := ReasonUpstreamError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		log.Warn().Err(err).Str("reason", string(reason)).Msg("memory summary failed, using excerpt")
		return s.fallback(source, reason)
	}

	text, err := ExtractSummary(raw)
	if err != nil {
		log.Warn().Err(err).Msg("memory summary empty, using excerpt")
		return s.fallback(source, ReasonEmptyResponse)
	}
	return Outcome{
		Summary: utils.Truncate(text, maxSummaryRunes),
		Source:  store.SummarySourceModel,
	}
}

func (s *Summarizer) fallback(source string, reason Reason) Outcome {
	return Outcome{
		Summary: utils.Excerpt(source, s.excerptRunes),
		Source:  store.SummarySourceFallback,
		Reason:  reason,
	}
}
