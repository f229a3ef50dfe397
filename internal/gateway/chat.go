package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/monitoring"
	"github.com/compresr/pitch-gateway/internal/upstream"
	"github.com/compresr/pitch-gateway/internal/utils"
)

// Chat limits
const (
	maxChatMessages     = 64
	maxChatContentRunes = 20000
)

var modelPattern = regexp.MustCompile(`^[A-Za-z0-9._:/-]{1,64}$`)

var allowedRoles = map[string]bool{
	openai.ChatMessageRoleSystem:    true,
	openai.ChatMessageRoleUser:      true,
	openai.ChatMessageRoleAssistant: true,
}

type chatBody struct {
	Messages json.RawMessage `json:"messages"`
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// parseChatRequest validates the browser payload.
func parseChatRequest(body chatBody) (upstream.ChatRequest, error) {
	raw := strings.TrimSpace(string(body.Messages))
	if !strings.HasPrefix(raw, "[") {
		return upstream.ChatRequest{}, apierr.Invalid("messages must be an array")
	}
	var msgs []chatMessage
	if err := json.Unmarshal(body.Messages, &msgs); err != nil {
		return upstream.ChatRequest{}, apierr.Invalid("messages must be an array of {role, content}")
	}
	if len(msgs) == 0 {
		return upstream.ChatRequest{}, apierr.Invalid("messages must not be empty")
	}
	if len(msgs) > maxChatMessages {
		return upstream.ChatRequest{}, apierr.Invalid(fmt.Sprintf("at most %d messages are allowed", maxChatMessages))
	}

	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for i, m := range msgs {
		if !allowedRoles[m.Role] {
			return upstream.ChatRequest{}, apierr.Invalid(fmt.Sprintf("messages[%d].role is invalid", i))
		}
		n := utils.RuneLen(m.Content)
		if n == 0 || n > maxChatContentRunes {
			return upstream.ChatRequest{}, apierr.Invalid(fmt.Sprintf("messages[%d].content must be 1-%d characters", i, maxChatContentRunes))
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	if body.Model != "" && !modelPattern.MatchString(body.Model) {
		return upstream.ChatRequest{}, apierr.Invalid("model is invalid")
	}
	return upstream.ChatRequest{Model: body.Model, Messages: out, Stream: body.Stream}, nil
}

// handleChat proxies a completion upstream, buffered or streamed.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if g.upstream == nil || !g.upstream.Configured() {
		g.writeError(w, r, "upstream not configured", http.StatusInternalServerError)
		return
	}

	var body chatBody
	if err := decodeJSON(w, r, &body); err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	req, err := parseChatRequest(body)
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}

	if req.Model == "" {
		req.Model = g.upstream.DefaultModel()
	}
	log.Debug().
		Str("request_id", monitoring.RequestIDFromContext(r.Context())).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Int("messages", len(req.Messages)).
		Msg("chat request")

	if req.Stream {
		g.streamChat(w, r, req)
		return
	}

	resp, err := g.upstream.Complete(r.Context(), req)
	g.metrics.RecordChat(false, err == nil)
	if err != nil {
		g.writeAPIError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, resp)
}

// streamChat commits an event-stream response and relays upstream chunks
// unmodified. Once headers are out the status cannot change; failures just
// end the stream.
func (g *Gateway) streamChat(w http.ResponseWriter, r *http.Request, req upstream.ChatRequest) {
	requestID := monitoring.RequestIDFromContext(r.Context())
	flusher, canFlush := w.(http.Flusher)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	s, err := g.upstream.Stream(r.Context(), req)
	if err != nil {
		g.metrics.RecordChat(true, false)
		log.Warn().Err(err).Str("request_id", requestID).Msg("upstream stream could not be opened")
		return
	}
	defer s.Close()

	chunks := 0
	for chunk := range s.Chunks() {
		if _, err := w.Write(chunk); err != nil {
			log.Debug().Err(err).Str("request_id", requestID).Msg("client disconnected")
			s.Close()
			break
		}
		if canFlush {
			flusher.Flush()
		}
		chunks++
	}
	// drain so the producer can exit after a client abort
	for range s.Chunks() {
	}

	g.metrics.RecordChunks(chunks)
	streamErr := s.Err()
	g.metrics.RecordChat(true, streamErr == nil)
	if streamErr != nil {
		log.Warn().Err(streamErr).Str("request_id", requestID).Int("chunks", chunks).Msg("upstream stream ended early")
		return
	}
	log.Debug().Str("request_id", requestID).Int("chunks", chunks).Msg("stream complete")
}
