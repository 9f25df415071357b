package inference

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/service/ai"
	"github.com/jonathanvineet/DAIO/internal/service/rate"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

// Outcome describes what a single tick did.
type Outcome int

const (
	// OutcomeIdle means the raw slot has never held a frame.
	OutcomeIdle Outcome = iota
	// OutcomeStale means the raw frame was already handled.
	OutcomeStale
	// OutcomePassThrough means the frame was published without detection.
	OutcomePassThrough
	// OutcomeAnnotated means the detector ran and its result was published.
	OutcomeAnnotated
	// OutcomeFailed means the detector or the overlay failed; nothing was published.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeStale:
		return "stale"
	case OutcomePassThrough:
		return "pass-through"
	case OutcomeAnnotated:
		return "annotated"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is returned by Tick.
type Result struct {
	Outcome    Outcome
	Seq        uint64
	Detections int
	Elapsed    time.Duration
	Err        error
}

// Recorder receives annotated frames that carry detections. Record must not
// keep f after it returns.
type Recorder interface {
	Record(f *model.Frame)
}

// Options tune the stage.
type Options struct {
	Interval            time.Duration
	FrameSkip           int
	InferenceWidth      int
	InferenceHeight     int
	ConfidenceThreshold float64
	OverlapThreshold    float64
	SlowThreshold       time.Duration
}

// OptionsFromConfig extracts the stage options from config.
func OptionsFromConfig(config *config.Config) Options {
	return Options{
		Interval:            config.ProcessingInterval,
		FrameSkip:           config.FrameSkip,
		InferenceWidth:      config.InferenceWidth,
		InferenceHeight:     config.InferenceHeight,
		ConfidenceThreshold: config.ConfidenceThreshold,
		OverlapThreshold:    config.OverlapThreshold,
		SlowThreshold:       config.DetectorSlow,
	}
}

// Stats is a snapshot of the stage counters.
type Stats struct {
	Ticks        uint64  `json:"ticks"`
	Invocations  uint64  `json:"invocations"`
	PassThroughs uint64  `json:"passThroughs"`
	Failures     uint64  `json:"failures"`
	Stale        uint64  `json:"stale"`
	Rate         float64 `json:"rate"`
}

// Stage reads the newest raw frame at a capped rate, runs the detector on
// every Nth fresh frame and publishes the result to the processed slot.
type Stage struct {
	raw       *slot.Latest[*model.Frame]
	processed *slot.Latest[*model.Frame]
	detector  ai.Detector
	recorder  Recorder
	opts      Options
	logger    *logger.Logger

	// Touched only by the goroutine calling Tick.
	lastVersion uint64
	counter     uint64

	ticks        atomic.Uint64
	invocations  atomic.Uint64
	passThroughs atomic.Uint64
	failures     atomic.Uint64
	stale        atomic.Uint64
	rate         *rate.Counter
}

// NewStage wires a Stage between the two slots. recorder may be nil.
func NewStage(raw, processed *slot.Latest[*model.Frame], detector ai.Detector, recorder Recorder, opts Options, logger *logger.Logger) *Stage {
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	return &Stage{
		raw:       raw,
		processed: processed,
		detector:  detector,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
		rate:      rate.NewCounter(rate.Window),
	}
}

// Run ticks every Interval until ctx is done.
func (s *Stage) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("Inference started - detecting every %d frame(s), every %v at most", s.opts.FrameSkip, s.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Inference stopped")
			return nil
		case <-ticker.C:
		}

		res := s.Tick()
		switch res.Outcome {
		case OutcomeFailed:
			s.logger.Error("Detection on frame %d failed: %v", res.Seq, res.Err)
		case OutcomeAnnotated:
			if s.opts.SlowThreshold > 0 && res.Elapsed > s.opts.SlowThreshold {
				s.logger.Warning("Slow detector call on frame %d: %v", res.Seq, res.Elapsed)
			}
		}
	}
}

// Tick handles at most one raw frame.
func (s *Stage) Tick() Result {
	s.ticks.Add(1)

	frame, version, ok := s.raw.LoadAfter(s.lastVersion)
	if !ok {
		if version == 0 {
			return Result{Outcome: OutcomeIdle}
		}
		s.stale.Add(1)
		return Result{Outcome: OutcomeStale}
	}
	s.lastVersion = version

	eligible := s.counter%uint64(s.opts.FrameSkip) == 0
	s.counter++

	if !eligible {
		frame.Annotated = false
		frame.Detections = nil
		s.processed.Store(frame)
		s.passThroughs.Add(1)
		return Result{Outcome: OutcomePassThrough, Seq: frame.Seq}
	}

	return s.detect(frame)
}

func (s *Stage) detect(frame *model.Frame) Result {
	res := Result{Seq: frame.Seq}

	input, release := s.prepare(frame)
	defer release()
	inW, inH := input.Cols(), input.Rows()

	start := time.Now()
	detections, err := s.detector.Predict(input, float32(s.opts.ConfidenceThreshold), float32(s.opts.OverlapThreshold))
	res.Elapsed = time.Since(start)

	s.invocations.Add(1)
	if err != nil {
		frame.Close()
		s.failures.Add(1)
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("detector: %w", err)
		return res
	}

	detections = ai.FilterByConfidence(detections, s.opts.ConfidenceThreshold)
	sx, sy := ai.ScaleFactors(frame.Width(), frame.Height(), inW, inH)
	detections = ai.RescaleAll(detections, sx, sy)

	if err := ai.Annotate(frame, detections); err != nil {
		frame.Close()
		s.failures.Add(1)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	if s.recorder != nil && len(detections) > 0 {
		s.recorder.Record(frame)
	}

	s.processed.Store(frame)
	s.rate.Tick()

	res.Outcome = OutcomeAnnotated
	res.Detections = len(detections)
	return res
}

// prepare returns the detector input and a func releasing it.
func (s *Stage) prepare(frame *model.Frame) (gocv.Mat, func()) {
	w, h := s.opts.InferenceWidth, s.opts.InferenceHeight
	if w <= 0 || h <= 0 || (w == frame.Width() && h == frame.Height()) {
		return frame.Mat, func() {}
	}

	resized := gocv.NewMat()
	gocv.Resize(frame.Mat, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return resized, func() { resized.Close() }
}

// Stats returns the current counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Ticks:        s.ticks.Load(),
		Invocations:  s.invocations.Load(),
		PassThroughs: s.passThroughs.Load(),
		Failures:     s.failures.Load(),
		Stale:        s.stale.Load(),
		Rate:         s.rate.Rate(),
	}
}

// Rate returns the detection rate in frames per second.
func (s *Stage) Rate() float64 {
	return s.rate.Rate()
}
