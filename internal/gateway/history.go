package gateway

import (
	"net/http"

	"github.com/compresr/pitch-gateway/internal/growth"
	"github.com/compresr/pitch-gateway/internal/memory"
	"github.com/compresr/pitch-gateway/internal/store"
)

func (g *Gateway) handleMemory(w http.ResponseWriter, r *http.Request) {
	var in memory.Input
	if err := decodeJSON(w, r, &in); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	_, outcome, err := g.memory.AppendMemory(r.Context(), usernameFrom(r.Context()), in)
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	g.metrics.RecordMemoryWrite(outcome.Source, outcome.Fallback())
	g.writeJSON(w, http.StatusOK, okBody)
}

func (g *Gateway) handleGrowthSnapshot(w http.ResponseWriter, r *http.Request) {
	// the body carries nothing but must still be valid JSON
	var ignored map[string]any
	if err := decodeJSON(w, r, &ignored); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	snap, err := g.growth.LoadGrowthSnapshot(r.Context(), usernameFrom(r.Context()))
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, snap)
}

// handleGrowthRecord serves both script-generation and saved-script.
func (g *Gateway) handleGrowthRecord(kind store.RecordKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in growth.RecordInput
		if err := decodeJSON(w, r, &in); err != nil {
			g.writeAPIError(w, r, err)
			return
		}
		if _, err := g.growth.SaveGrowthRecord(r.Context(), kind, usernameFrom(r.Context()), in); err != nil {
			g.writeAPIError(w, r, err)
			return
		}
		g.metrics.RecordGrowthWrite()
		g.writeJSON(w, http.StatusOK, okBody)
	}
}

func (g *Gateway) handleDrillScore(w http.ResponseWriter, r *http.Request) {
	var in growth.DrillInput
	if err := decodeJSON(w, r, &in); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	if _, err := g.growth.SaveDrillScore(r.Context(), usernameFrom(r.Context()), in); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	g.metrics.RecordGrowthWrite()
	g.writeJSON(w, http.StatusOK, okBody)
}
