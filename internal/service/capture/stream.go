package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonathanvineet/DAIO/internal/model"
)

// StreamConfig configures a StreamConnector.
type StreamConfig struct {
	URL            string
	ChunkSize      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	BufferCeiling  int
}

// StreamConnector opens an MJPEG-over-HTTP stream such as the one an ESP32
// camera serves, and splits it into JPEG payloads by marker scanning.
type StreamConnector struct {
	cfg    StreamConfig
	client *http.Client
}

// NewStreamConnector returns a connector for cfg.URL.
func NewStreamConnector(cfg StreamConfig) *StreamConnector {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		DisableCompression:    true,
	}
	return &StreamConnector{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

func (s *StreamConnector) Describe() string {
	return s.cfg.URL
}

func (s *StreamConnector) Connect(ctx context.Context) (Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: bad stream url: %v", ErrUnrecoverable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: unexpected status %s", s.cfg.URL, resp.Status)
	}

	c := &streamConn{
		body:   resp.Body,
		cancel: cancel,
		acc:    NewAccumulator(s.cfg.BufferCeiling),
		chunk:  make([]byte, s.cfg.ChunkSize),
	}
	if s.cfg.ReadTimeout > 0 {
		c.watchdog = time.AfterFunc(s.cfg.ReadTimeout, func() {
			c.timedOut.Store(true)
			cancel()
		})
		c.readTimeout = s.cfg.ReadTimeout
	}
	return c, nil
}

type streamConn struct {
	body        io.ReadCloser
	cancel      context.CancelFunc
	acc         *Accumulator
	chunk       []byte
	watchdog    *time.Timer
	readTimeout time.Duration
	timedOut    atomic.Bool
	readErr     error
}

// Read returns the next decoded frame. Incomplete payloads stay buffered
// across calls.
func (c *streamConn) Read(ctx context.Context) (*model.Frame, error) {
	for {
		if payload, ok := c.acc.Next(); ok {
			return Decode(payload)
		}
		if c.readErr != nil {
			return nil, c.readError(ctx, c.readErr)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := c.body.Read(c.chunk)
		if n > 0 {
			if c.watchdog != nil {
				c.watchdog.Reset(c.readTimeout)
			}
			c.acc.Write(c.chunk[:n])
		}
		if err != nil {
			// Payloads completed by this read are delivered first.
			c.readErr = err
		}
	}
}

func (c *streamConn) readError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case c.timedOut.Load():
		return fmt.Errorf("no data for %s: %w", c.readTimeout, context.DeadlineExceeded)
	case errors.Is(err, io.EOF):
		return ErrStreamEnded
	default:
		return fmt.Errorf("failed to read stream: %w", err)
	}
}

func (c *streamConn) Close() error {
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.cancel()
	return c.body.Close()
}
