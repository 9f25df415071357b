package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

// Stats is a snapshot of the capture counters.
type Stats struct {
	Frames     uint64    `json:"frames"`
	BadFrames  uint64    `json:"badFrames"`
	Connects   uint64    `json:"connects"`
	Reconnects uint64    `json:"reconnects"`
	LastFrame  time.Time `json:"lastFrame"`
}

// Service pulls frames from a Connector and publishes each one to the raw
// slot, reconnecting whenever the connection fails.
type Service struct {
	connector Connector
	backoff   time.Duration
	logger    *logger.Logger

	seq        atomic.Uint64
	frames     atomic.Uint64
	badFrames  atomic.Uint64
	connects   atomic.Uint64
	reconnects atomic.Uint64
	lastFrame  atomic.Int64
}

// NewService creates a capture service. backoff is the fixed delay between
// reconnect attempts.
func NewService(connector Connector, backoff time.Duration, logger *logger.Logger) *Service {
	return &Service{
		connector: connector,
		backoff:   backoff,
		logger:    logger,
	}
}

// Run captures until ctx is done or the source fails unrecoverably. It
// returns nil when stopped through ctx.
func (s *Service) Run(ctx context.Context, raw *slot.Latest[*model.Frame]) error {
	policy := retrypolicy.Builder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && ctx.Err() == nil && !errors.Is(err, ErrUnrecoverable)
		}).
		WithDelay(s.backoff).
		WithMaxRetries(-1).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			s.reconnects.Add(1)
			s.logger.Warning("Reconnecting to %s (attempt %d): %v", s.connector.Describe(), e.Attempts(), e.LastError())
		}).
		Build()

	err := failsafe.NewExecutor[any](policy).
		WithContext(ctx).
		Run(func() error {
			return s.session(ctx, raw)
		})

	if ctx.Err() != nil {
		s.logger.Info("Capture from %s stopped", s.connector.Describe())
		return nil
	}
	if err != nil {
		s.logger.Error("Capture from %s failed: %v", s.connector.Describe(), err)
	}
	return err
}

// session runs one connection from connect to failure.
func (s *Service) session(ctx context.Context, raw *slot.Latest[*model.Frame]) error {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		if s.connects.Load() == 0 || errors.Is(err, ErrNoDevice) {
			return fmt.Errorf("%w: %w", ErrUnrecoverable, err)
		}
		return err
	}
	defer conn.Close()

	s.connects.Add(1)
	s.logger.Info("Connected to %s", s.connector.Describe())

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				s.badFrames.Add(1)
				s.logger.Debug("Discarding frame: %v", err)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		frame.Seq = s.seq.Add(1)
		raw.Store(frame)
		s.frames.Add(1)
		s.lastFrame.Store(frame.CapturedAt.UnixNano())
	}
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	st := Stats{
		Frames:     s.frames.Load(),
		BadFrames:  s.badFrames.Load(),
		Connects:   s.connects.Load(),
		Reconnects: s.reconnects.Load(),
	}
	if ns := s.lastFrame.Load(); ns != 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}
