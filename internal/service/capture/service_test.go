package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

// step is one scripted Read result.
type step struct {
	frame bool
	err   error
}

type fakeConn struct {
	steps []step
	onEnd func(time.Time)
}

func (c *fakeConn) Read(ctx context.Context) (*model.Frame, error) {
	if len(c.steps) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	if s.err != nil {
		if c.onEnd != nil && !errors.Is(s.err, ErrBadFrame) {
			c.onEnd(time.Now())
		}
		return nil, s.err
	}
	return model.NewFrame(gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)), nil
}

func (c *fakeConn) Close() error { return nil }

type fakeConnector struct {
	mu       sync.Mutex
	sessions [][]step
	errs     []error
	calls    int
	dropped  time.Time
}

func (f *fakeConnector) Describe() string { return "fake" }

func (f *fakeConnector) Connect(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	var steps []step
	if i < len(f.sessions) {
		steps = append(steps, f.sessions[i]...)
	}
	return &fakeConn{steps: steps, onEnd: f.markDrop}, nil
}

func (f *fakeConnector) markDrop(t time.Time) {
	f.mu.Lock()
	f.dropped = t
	f.mu.Unlock()
}

func (f *fakeConnector) droppedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func frames(n int) []step {
	s := make([]step, n)
	for i := range s {
		s[i] = step{frame: true}
	}
	return s
}

func runService(t *testing.T, svc *Service) (*slot.Latest[*model.Frame], context.CancelFunc, <-chan error) {
	t.Helper()
	raw := slot.New[*model.Frame]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx, raw)
	}()
	t.Cleanup(func() {
		cancel()
		raw.Close()
	})
	return raw, cancel, done
}

func waitForSeq(t *testing.T, raw *slot.Latest[*model.Frame], seq uint64) *model.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var version uint64
	for {
		f, v, err := raw.Wait(ctx, version)
		if err != nil {
			t.Fatalf("Timed out waiting for frame %d: %v", seq, err)
		}
		version = v
		if f.Seq >= seq {
			return f
		}
		f.Close()
	}
}

func TestService_FirstConnectFailureIsFatal(t *testing.T) {
	conn := &fakeConnector{errs: []error{errors.New("connection refused")}}
	svc := NewService(conn, 10*time.Millisecond, logger.Discard())

	_, _, done := runService(t, svc)

	select {
	case err := <-done:
		if !errors.Is(err, ErrUnrecoverable) {
			t.Errorf("Expected ErrUnrecoverable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestService_NoDeviceIsFatal(t *testing.T) {
	conn := &fakeConnector{
		sessions: [][]step{{{err: io.ErrUnexpectedEOF}}},
		errs:     []error{nil, ErrNoDevice},
	}
	svc := NewService(conn, 10*time.Millisecond, logger.Discard())

	_, _, done := runService(t, svc)

	select {
	case err := <-done:
		if !errors.Is(err, ErrNoDevice) || !errors.Is(err, ErrUnrecoverable) {
			t.Errorf("Expected ErrNoDevice wrapped in ErrUnrecoverable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestService_ReconnectsWithinBackoff(t *testing.T) {
	const backoff = 50 * time.Millisecond
	first := append(frames(3), step{err: io.ErrUnexpectedEOF})
	conn := &fakeConnector{sessions: [][]step{first, frames(1)}}
	svc := NewService(conn, backoff, logger.Discard())

	raw, cancel, done := runService(t, svc)

	f := waitForSeq(t, raw, 4)
	resumed := time.Now()
	f.Close()

	if gap := resumed.Sub(conn.droppedAt()); gap > backoff+250*time.Millisecond {
		t.Errorf("Expected to resume within %v, took %v", backoff, gap)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil after stop, got %v", err)
	}

	st := svc.Stats()
	if st.Connects != 2 || st.Reconnects != 1 {
		t.Errorf("Expected 2 connects and 1 reconnect, got %+v", st)
	}
	if st.Frames != 4 {
		t.Errorf("Expected 4 frames, got %d", st.Frames)
	}
}

func TestService_BadFrameKeepsConnection(t *testing.T) {
	session := []step{{frame: true}, {err: ErrBadFrame}, {frame: true}}
	conn := &fakeConnector{sessions: [][]step{session}}
	svc := NewService(conn, 10*time.Millisecond, logger.Discard())

	raw, cancel, done := runService(t, svc)

	f := waitForSeq(t, raw, 2)
	f.Close()
	cancel()
	<-done

	st := svc.Stats()
	if st.BadFrames != 1 {
		t.Errorf("Expected 1 bad frame, got %d", st.BadFrames)
	}
	if st.Connects != 1 || st.Reconnects != 0 {
		t.Errorf("Expected a single connection, got %+v", st)
	}
}

func TestService_SeqIsMonotonic(t *testing.T) {
	conn := &fakeConnector{sessions: [][]step{frames(5)}}
	svc := NewService(conn, 10*time.Millisecond, logger.Discard())

	raw, cancel, done := runService(t, svc)

	f := waitForSeq(t, raw, 5)
	if f.Seq != 5 {
		t.Errorf("Expected seq 5, got %d", f.Seq)
	}
	f.Close()
	cancel()
	<-done
}
