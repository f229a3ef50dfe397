package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/monitoring"
	"github.com/compresr/pitch-gateway/internal/utils"
)

// okBody is the acknowledgement for write endpoints.
var okBody = map[string]bool{"ok": true}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := utils.MarshalNoEscape(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		body = []byte(`{"error":"Server Error"}`)
		status = http.StatusInternalServerError
	}
	writeRawJSON(w, status, body)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes {"error": msg}.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	g.writeJSON(w, status, map[string]any{"error": msg})
}

// writeAPIError maps err onto a status and client-safe message.
func (g *Gateway) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.As(err)
	status := e.HTTPStatus()

	if e.Kind == apierr.KindInternal {
		log.Error().
			Err(err).
			Str("request_id", monitoring.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	body := map[string]any{"error": e.Message}
	if e.Kind == apierr.KindBadGateway && e.Status != 0 {
		body["upstream_status"] = e.Status
	}
	g.writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into v. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.Invalid("request body too large")
		}
		return apierr.Wrap(apierr.KindInvalidInput, "invalid request body", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apierr.Wrap(apierr.KindInvalidInput, "invalid JSON body", err)
	}
	return nil
}
