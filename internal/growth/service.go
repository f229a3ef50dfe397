// Package growth stores script history and drill scores and builds the
// per-user growth snapshot.
//
// DESIGN: LoadGrowthSnapshot issues its three reads (recent generations,
// recent saved scripts, aggregate stats) concurrently through errgroup; the
// first failure cancels the others.
package growth

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/pitch-gateway/internal/store"
)

// Store is the persistence the growth service needs.
type Store interface {
	InsertGrowthRecord(ctx context.Context, kind store.RecordKind, username string, rec store.GrowthRecord) (int64, error)
	RecentGrowthRecords(ctx context.Context, kind store.RecordKind, username string, limit int) ([]store.GrowthRecord, error)
	InsertDrillScore(ctx context.Context, d store.DrillScore) (int64, error)
	Stats(ctx context.Context, username string) (store.GrowthStats, error)
}

// Snapshot is the aggregated growth view returned to the client.
type Snapshot struct {
	History      []store.GrowthRecord `json:"history"`
	SavedScripts []store.GrowthRecord `json:"savedScripts"`
	Stats        store.GrowthStats    `json:"stats"`
}

// Service implements the growth operations.
type Service struct {
	store        Store
	historyLimit int
	savedLimit   int
}

// NewService creates a growth service with the snapshot list bounds.
func NewService(st Store, historyLimit, savedLimit int) *Service {
	return &Service{store: st, historyLimit: historyLimit, savedLimit: savedLimit}
}

// SaveGrowthRecord validates and stores a generated or saved script.
func (s *Service) SaveGrowthRecord(ctx context.Context, kind store.RecordKind, username string, in RecordInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	id, err := s.store.InsertGrowthRecord(ctx, kind, username, store.GrowthRecord{
		Question:   in.Question,
		Snapshot:   in.Snapshot,
		Suggestion: in.Suggestion,
	})
	if err != nil {
		return 0, fmt.Errorf("save %s for %s: %w", kind, username, err)
	}
	log.Debug().Str("username", username).Str("kind", string(kind)).Int64("id", id).Msg("growth record saved")
	return id, nil
}

// SaveDrillScore validates and stores a drill result.
func (s *Service) SaveDrillScore(ctx context.Context, username string, in DrillInput) (int64, error) {
	score, err := in.Validate()
	if err != nil {
		return 0, err
	}
	id, err := s.store.InsertDrillScore(ctx, store.DrillScore{
		Username:  username,
		Question:  in.Question,
		Answer:    in.Answer,
		Score:     score,
		Feedback:  in.Feedback,
		Highlight: in.Highlight,
		Improve:   in.Improve,
		Industry:  in.Industry,
		ProductID: in.ProductID,
	})
	if err != nil {
		return 0, fmt.Errorf("save drill score for %s: %w", username, err)
	}
	log.Debug().Str("username", username).Int("score", score).Int64("id", id).Msg("drill score saved")
	return id, nil
}

// LoadGrowthSnapshot fetches history, saved scripts and stats in parallel.
func (s *Service) LoadGrowthSnapshot(ctx context.Context, username string) (*Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recs, err := s.store.RecentGrowthRecords(gctx, store.RecordGeneration, username, s.historyLimit)
		snap.History = recs
		return err
	})
	g.Go(func() error {
		recs, err := s.store.RecentGrowthRecords(gctx, store.RecordSaved, username, s.savedLimit)
		snap.SavedScripts = recs
		return err
	})
	g.Go(func() error {
		st, err := s.store.Stats(gctx, username)
		snap.Stats = st
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", username, err)
	}

	if snap.History == nil {
		snap.History = []store.GrowthRecord{}
	}
	if snap.SavedScripts == nil {
		snap.SavedScripts = []store.GrowthRecord{}
	}
	snap.Stats.DrillAverageScore = math.Round(snap.Stats.DrillAverageScore*10) / 10
	return &snap, nil
}
