// Package pipeline ties the capture, inference and presentation stages
// together around two latest-value slots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/service/ai"
	"github.com/jonathanvineet/DAIO/internal/service/capture"
	"github.com/jonathanvineet/DAIO/internal/service/inference"
	"github.com/jonathanvineet/DAIO/internal/service/presentation"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

// ErrAlreadyStarted is returned by Run on a pipeline that is not idle.
var ErrAlreadyStarted = errors.New("pipeline already started")

// Options configure the stages.
type Options struct {
	// RunID identifies this run; a random one is used when empty.
	RunID            string
	ReconnectBackoff time.Duration
	Inference        inference.Options
	Presentation     presentation.Options
}

// Components are the collaborators plugged into the pipeline.
type Components struct {
	Connector capture.Connector
	Detector  ai.Detector
	Sinks     []presentation.Sink
	// Recorder is optional.
	Recorder inference.Recorder
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	RunID          string             `json:"runId"`
	State          State              `json:"state"`
	StopReason     string             `json:"stopReason,omitempty"`
	StartedAt      time.Time          `json:"startedAt"`
	Uptime         string             `json:"uptime"`
	Source         string             `json:"source"`
	Capture        capture.Stats      `json:"capture"`
	Inference      inference.Stats    `json:"inference"`
	Presentation   presentation.Stats `json:"presentation"`
	RawDrops       uint64             `json:"rawDrops"`
	ProcessedDrops uint64             `json:"processedDrops"`
}

type task struct {
	name     string
	run      func(ctx context.Context) error
	required bool
}

// Pipeline owns both slots and the shared stop. It runs once.
type Pipeline struct {
	Raw       *slot.Latest[*model.Frame]
	Processed *slot.Latest[*model.Frame]
	RunID     string

	connector    capture.Connector
	capture      *capture.Service
	inference    *inference.Stage
	presentation *presentation.Stage
	tasks        []task
	logger       *logger.Logger

	mu         sync.Mutex
	state      atomic.Int32
	cancel     context.CancelFunc
	stopReason string
	startedAt  time.Time
}

// New builds a pipeline from its components.
func New(c Components, opts Options, logger *logger.Logger) *Pipeline {
	p := &Pipeline{
		Raw:       slot.New[*model.Frame](),
		Processed: slot.New[*model.Frame](),
		RunID:     opts.RunID,
		connector: c.Connector,
		logger:    logger,
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}

	p.capture = capture.NewService(c.Connector, opts.ReconnectBackoff, logger.Named("capture"))
	p.inference = inference.NewStage(p.Raw, p.Processed, c.Detector, c.Recorder, opts.Inference, logger.Named("inference"))
	p.presentation = presentation.NewStage(p.Raw, p.Processed, c.Sinks, p.inference.Rate, opts.Presentation, logger.Named("presentation"))
	return p
}

// Go registers a supporting task, such as a viewer hub, that runs alongside
// the stages and stops with them. It must be called before Run.
func (p *Pipeline) Go(name string, run func(ctx context.Context) error) {
	p.tasks = append(p.tasks, task{name: name, run: run})
}

// Require registers a supporting task the pipeline cannot run without, such
// as the HTTP server when it carries the only display. Its failure stops the
// pipeline and is returned by Run.
func (p *Pipeline) Require(name string, run func(ctx context.Context) error) {
	p.tasks = append(p.tasks, task{name: name, run: run, required: true})
}

// Run starts capture and inference in the background and runs presentation
// on the calling goroutine until the pipeline stops. It returns the
// unrecoverable source error or a failed required task, if that is what
// stopped it, and nil otherwise.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, err := p.start(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.capture.Run(gctx, p.Raw); err != nil {
			p.requestStop("source failed")
			return err
		}
		return nil
	})
	g.Go(func() error {
		return p.inference.Run(gctx)
	})
	for _, t := range p.tasks {
		g.Go(func() error {
			err := t.run(gctx)
			if err == nil || gctx.Err() != nil {
				return nil
			}
			p.logger.Error("Task %s failed: %v", t.name, err)
			if !t.required {
				return nil
			}
			p.requestStop(t.name + " failed")
			return fmt.Errorf("%s: %w", t.name, err)
		})
	}

	p.presentation.Run(gctx, func() { p.requestStop("quit requested") })

	if ctx.Err() != nil {
		p.requestStop("interrupted")
	} else {
		p.requestStop("presentation ended")
	}

	err = g.Wait()
	p.Raw.Close()
	p.Processed.Close()
	p.state.Store(int32(StateStopped))

	p.logger.Info("Pipeline %s stopped: %s", p.RunID, p.StopReason())
	return err
}

func (p *Pipeline) start(parent context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) != StateIdle {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.startedAt = time.Now()
	p.state.Store(int32(StateRunning))

	p.logger.Info("Pipeline %s running, source %s", p.RunID, p.connector.Describe())
	return ctx, nil
}

// Stop asks a running pipeline to stop. It does not wait; Run returns once
// every stage has finished.
func (p *Pipeline) Stop() {
	p.requestStop("stop requested")
}

// requestStop moves Running to Stopping once and cancels the shared context.
// The first reason wins.
func (p *Pipeline) requestStop(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) != StateRunning {
		return
	}
	p.stopReason = reason
	p.state.Store(int32(StateStopping))
	p.cancel()
	p.logger.Info("Pipeline stopping: %s", reason)
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// StopReason returns why the pipeline left Running, if it did.
func (p *Pipeline) StopReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReason
}

// Stats returns a snapshot of every stage's counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	startedAt, reason := p.startedAt, p.stopReason
	p.mu.Unlock()

	st := Stats{
		RunID:          p.RunID,
		State:          p.State(),
		StopReason:     reason,
		StartedAt:      startedAt,
		Source:         p.connector.Describe(),
		Capture:        p.capture.Stats(),
		Inference:      p.inference.Stats(),
		Presentation:   p.presentation.Stats(),
		RawDrops:       p.Raw.Drops(),
		ProcessedDrops: p.Processed.Drops(),
	}
	if !startedAt.IsZero() {
		st.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	return st
}
