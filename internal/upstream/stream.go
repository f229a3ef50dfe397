package upstream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/config"
)

// Stream is an open upstream event stream.
type Stream struct {
	chunks chan []byte
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Chunks yields upstream body chunks in arrival order. The channel is closed
// when the upstream ends, fails or the stream is cancelled.
func (s *Stream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the read error that ended the stream, if any. Only meaningful
// after Chunks is closed. A clean EOF or caller cancellation is not an error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close aborts the upstream read and releases the connection.
func (s *Stream) Close() {
	s.cancel()
}

// Stream opens a streaming completion. The returned Stream must be closed.
// A failure to connect or a non-2xx status is returned as an error and no
// Stream is created.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	resp, err := c.send(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(config.MaxErrorBodyLogLen)))
		resp.Body.Close()
		cancel()
		return nil, statusError(resp.StatusCode, body)
	}

	s := &Stream{
		chunks: make(chan []byte, c.queueSize),
		cancel: cancel,
	}
	go s.pump(ctx, resp.Body)
	return s, nil
}

// pump copies the upstream body into the chunk channel. Each chunk is a
// fresh slice so the consumer may hold on to it.
func (s *Stream) pump(ctx context.Context, body io.ReadCloser) {
	defer close(s.chunks)
	defer body.Close()
	defer s.cancel()

	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.setErr(ctx.Err())
			case !errors.Is(err, io.EOF):
				s.setErr(err)
			}
			return
		}
	}
}

func (s *Stream) setErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Msg("upstream stream hit the call timeout")
		err = apierr.Wrap(apierr.KindBadGateway, msgUpstreamError, err)
	} else {
		log.Debug().Err(err).Msg("error reading upstream stream")
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
