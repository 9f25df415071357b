package presentation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/service/rate"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

// Sink displays frames. Render must not keep f after it returns.
type Sink interface {
	Name() string
	Render(f *model.Frame) error
}

// Poller is implemented by sinks that need servicing every tick, such as a
// window event loop. Poll reports whether the user asked to quit.
type Poller interface {
	Poll() bool
}

// Source tells which slot a rendered frame came from.
type Source int

const (
	SourceNone Source = iota
	SourceRaw
	SourceProcessed
)

func (s Source) String() string {
	switch s {
	case SourceRaw:
		return "raw"
	case SourceProcessed:
		return "processed"
	}
	return "none"
}

// Result is returned by Tick.
type Result struct {
	Source   Source
	Seq      uint64
	Rendered bool
	Quit     bool
	QuitBy   string
}

// Options tune the stage.
type Options struct {
	TargetFPS     int
	StatusOverlay bool
}

// Stats is a snapshot of the stage counters.
type Stats struct {
	Rendered uint64  `json:"rendered"`
	Repeats  uint64  `json:"repeats"`
	Idle     uint64  `json:"idle"`
	Rate     float64 `json:"rate"`
}

var overlayColor = color.RGBA{R: 255, G: 255, B: 0, A: 0}

// Stage shows the freshest available frame at a fixed cadence, preferring
// processed frames and falling back to raw ones.
type Stage struct {
	raw        *slot.Latest[*model.Frame]
	processed  *slot.Latest[*model.Frame]
	sinks      []Sink
	opts       Options
	detectRate func() float64
	logger     *logger.Logger

	lastSource  Source
	lastVersion uint64

	rendered atomic.Uint64
	repeats  atomic.Uint64
	idle     atomic.Uint64
	rate     *rate.Counter
}

// NewStage creates a Stage. detectRate feeds the overlay and may be nil.
func NewStage(raw, processed *slot.Latest[*model.Frame], sinks []Sink, detectRate func() float64, opts Options, logger *logger.Logger) *Stage {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 60
	}
	if detectRate == nil {
		detectRate = func() float64 { return 0 }
	}
	return &Stage{
		raw:        raw,
		processed:  processed,
		sinks:      sinks,
		opts:       opts,
		detectRate: detectRate,
		logger:     logger,
		rate:       rate.NewCounter(rate.Window),
	}
}

// Run renders until ctx is done or a sink asks to quit, in which case stop is
// called. It is meant to run on the caller's goroutine.
func (s *Stage) Run(ctx context.Context, stop context.CancelFunc) error {
	interval := time.Second / time.Duration(s.opts.TargetFPS)
	timer := time.NewTimer(interval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	s.logger.Info("Presentation started at %d fps with %d sink(s)", s.opts.TargetFPS, len(s.sinks))
	for {
		start := time.Now()
		if ctx.Err() != nil {
			s.logger.Info("Presentation stopped")
			return nil
		}

		res := s.Tick()
		if res.Quit {
			s.logger.Info("Quit requested by %s", res.QuitBy)
			stop()
			return nil
		}

		remaining := interval - time.Since(start)
		if remaining <= 0 {
			continue
		}
		timer.Reset(remaining)
		select {
		case <-ctx.Done():
			s.logger.Info("Presentation stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick renders the freshest frame if it was not shown yet and polls sinks.
func (s *Stage) Tick() Result {
	res := s.render()
	for _, sink := range s.sinks {
		if p, ok := sink.(Poller); ok && p.Poll() {
			res.Quit = true
			res.QuitBy = sink.Name()
		}
	}
	return res
}

func (s *Stage) render() Result {
	source, from := SourceProcessed, s.processed
	version := from.Version()
	if version == 0 {
		source, from = SourceRaw, s.raw
		version = from.Version()
	}
	if version == 0 {
		s.idle.Add(1)
		return Result{Source: SourceNone}
	}
	if source == s.lastSource && version == s.lastVersion {
		s.repeats.Add(1)
		return Result{Source: source}
	}

	frame, version, ok := from.Load()
	if !ok {
		s.idle.Add(1)
		return Result{Source: SourceNone}
	}
	defer frame.Close()

	s.lastSource, s.lastVersion = source, version
	s.rate.Tick()
	if s.opts.StatusOverlay {
		s.drawStatus(frame)
	}

	for _, sink := range s.sinks {
		if err := sink.Render(frame); err != nil {
			s.logger.Warning("Sink %s failed on frame %d: %v", sink.Name(), frame.Seq, err)
		}
	}
	s.rendered.Add(1)
	return Result{Source: source, Seq: frame.Seq, Rendered: true}
}

func (s *Stage) drawStatus(frame *model.Frame) {
	text := fmt.Sprintf("display %.1f fps | detect %.1f fps", s.rate.Rate(), s.detectRate())
	if err := gocv.PutText(&frame.Mat, text, image.Pt(10, 25), gocv.FontHersheySimplex, 0.6, overlayColor, 2); err != nil {
		s.logger.Debug("Failed to draw status: %v", err)
	}
}

// Stats returns the current counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Rendered: s.rendered.Load(),
		Repeats:  s.repeats.Load(),
		Idle:     s.idle.Load(),
		Rate:     s.rate.Rate(),
	}
}

// Rate returns the display rate in frames per second.
func (s *Stage) Rate() float64 {
	return s.rate.Rate()
}
