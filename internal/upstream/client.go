// Package upstream talks to the OpenAI-compatible completion service.
//
// DESIGN: Two call shapes share one request builder:
//   - Complete: buffered. Non-2xx answers become *apierr.Error carrying the
//     upstream status and the upstream's error.message (or a generic text).
//   - Stream:   the response body is read by a goroutine and handed over as
//     a bounded channel of byte chunks. Cancelling the caller's context (or
//     calling Close) aborts the upstream read; the producer closing the
//     channel signals end of stream.
//
// Every call is bounded by the configured timeout. Nothing is retried.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/config"
	"github.com/compresr/pitch-gateway/internal/utils"
)

// Generic message used when the upstream gives nothing usable.
const msgUpstreamError = "Upstream error"

// ChatRequest is a validated chat completion request.
type ChatRequest struct {
	Model     string
	Messages  []openai.ChatCompletionMessage
	Stream    bool
	MaxTokens int
}

// Client forwards chat completions upstream.
type Client struct {
	url          string
	apiKey       string
	defaultModel string
	timeout      time.Duration
	queueSize    int
	httpClient   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithQueueSize sets how many chunks may wait between reader and writer.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// New creates a client from upstream config.
func New(cfg config.UpstreamConfig, opts ...Option) *Client {
	c := &Client{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
		timeout:      cfg.Timeout,
		queueSize:    config.DefaultStreamQueue,
		httpClient: &http.Client{
			// no client-level timeout: it would also cut long streams; calls
			// use a context deadline instead
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: config.DefaultDialTimeout}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
	}
	if c.defaultModel == "" {
		c.defaultModel = config.DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = config.DefaultUpstreamTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API credential is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// buildBody renders the upstream JSON body. stream is always written
// explicitly since the openai struct omits false.
func (c *Client) buildBody(req ChatRequest) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return sjson.SetBytes(body, "stream", req.Stream)
}

func (c *Client) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	return httpReq, nil
}

// send performs the HTTP round trip. Transport failures map to BadGateway.
func (c *Client) send(ctx context.Context, req ChatRequest) (*http.Response, error) {
	if !c.Configured() {
		return nil, apierr.New(apierr.KindInternal, "upstream not configured")
	}
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, body, req.Stream)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("url", c.url).
		Str("model", gjson.GetBytes(body, "model").String()).
		Bool("stream", req.Stream).
		Int("messages", len(req.Messages)).
		Str("authorization", utils.MaskKey(c.apiKey)).
		Msg("forwarding chat request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadGateway, msgUpstreamError, err)
	}
	return resp, nil
}

// Complete performs a buffered completion and returns the upstream JSON body.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	req.Stream = false
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxResponseSize))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadGateway, msgUpstreamError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		log.Warn().Int("bytes", len(body)).Msg("upstream returned malformed JSON")
		return nil, apierr.New(apierr.KindBadGateway, msgUpstreamError)
	}
	return body, nil
}

// statusError converts a non-2xx upstream answer into a client-facing error.
func statusError(status int, body []byte) *apierr.Error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = msgUpstreamError
	}
	log.Warn().
		Int("status", status).
		Str("body", utils.Truncate(string(body), config.MaxErrorBodyLogLen)).
		Msg("upstream error response")
	return apierr.Upstream(status, msg)
}
