package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/service/ai"
	"github.com/jonathanvineet/DAIO/internal/slot"
)

type countingDetector struct {
	mu     sync.Mutex
	calls  int
	result []model.Detection
	err    error
	w, h   int
}

func (d *countingDetector) Predict(img gocv.Mat, conf, overlap float32) ([]model.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.w, d.h = img.Cols(), img.Rows()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]model.Detection, len(d.result))
	copy(out, d.result)
	return out, nil
}

func (d *countingDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeRecorder struct {
	seqs []uint64
}

func (r *fakeRecorder) Record(f *model.Frame) {
	r.seqs = append(r.seqs, f.Seq)
}

func newFrame(seq uint64, w, h int) *model.Frame {
	f := model.NewFrame(gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC3))
	f.Seq = seq
	return f
}

type fixture struct {
	raw       *slot.Latest[*model.Frame]
	processed *slot.Latest[*model.Frame]
	detector  *countingDetector
	recorder  *fakeRecorder
	stage     *Stage
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		raw:       slot.New[*model.Frame](),
		processed: slot.New[*model.Frame](),
		detector:  &countingDetector{},
		recorder:  &fakeRecorder{},
	}
	if opts.Interval == 0 {
		opts.Interval = time.Millisecond
	}
	f.stage = NewStage(f.raw, f.processed, f.detector, f.recorder, opts, logger.Discard())
	t.Cleanup(func() {
		f.raw.Close()
		f.processed.Close()
	})
	return f
}

func TestStage_SkipPolicy(t *testing.T) {
	tests := []struct {
		skip            int
		frames          int
		wantInvocations int
	}{
		{1, 5, 5},
		{2, 10, 5},
		{3, 9, 3},
		{3, 10, 4},
	}

	for _, tt := range tests {
		fx := newFixture(t, Options{FrameSkip: tt.skip})
		var outcomes []Outcome
		for i := 1; i <= tt.frames; i++ {
			fx.raw.Store(newFrame(uint64(i), 32, 32))
			outcomes = append(outcomes, fx.stage.Tick().Outcome)
		}

		if got := fx.detector.Calls(); got != tt.wantInvocations {
			t.Errorf("skip=%d frames=%d: expected %d invocations, got %d", tt.skip, tt.frames, tt.wantInvocations, got)
		}
		if outcomes[0] != OutcomeAnnotated {
			t.Errorf("skip=%d: expected the first eligible tick to invoke, got %s", tt.skip, outcomes[0])
		}
		for i, o := range outcomes {
			want := OutcomePassThrough
			if i%tt.skip == 0 {
				want = OutcomeAnnotated
			}
			if o != want {
				t.Errorf("skip=%d tick %d: expected %s, got %s", tt.skip, i, want, o)
			}
		}
	}
}

func TestStage_StaleTicksDoNotCount(t *testing.T) {
	fx := newFixture(t, Options{FrameSkip: 2})

	if res := fx.stage.Tick(); res.Outcome != OutcomeIdle {
		t.Fatalf("Expected idle on an empty slot, got %s", res.Outcome)
	}

	fx.raw.Store(newFrame(1, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomeAnnotated {
		t.Fatalf("Expected annotated, got %s", res.Outcome)
	}
	for i := 0; i < 3; i++ {
		if res := fx.stage.Tick(); res.Outcome != OutcomeStale {
			t.Fatalf("Expected stale, got %s", res.Outcome)
		}
	}

	fx.raw.Store(newFrame(2, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomePassThrough {
		t.Errorf("Expected pass-through for the second fresh frame, got %s", res.Outcome)
	}
	fx.raw.Store(newFrame(3, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomeAnnotated {
		t.Errorf("Expected annotated for the third fresh frame, got %s", res.Outcome)
	}

	st := fx.stage.Stats()
	if st.Stale != 3 || st.Invocations != 2 || st.PassThroughs != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestStage_PassThroughIsUnannotated(t *testing.T) {
	fx := newFixture(t, Options{FrameSkip: 2})
	fx.detector.result = []model.Detection{{Box: model.Box{X1: 1, Y1: 1, X2: 5, Y2: 5}, Confidence: 0.9}}

	fx.raw.Store(newFrame(1, 32, 32))
	fx.stage.Tick()
	fx.raw.Store(newFrame(2, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomePassThrough {
		t.Fatalf("Expected pass-through, got %s", res.Outcome)
	}

	f, _, ok := fx.processed.Load()
	if !ok {
		t.Fatal("Expected a processed frame")
	}
	defer f.Close()
	if f.Seq != 2 || f.Annotated || len(f.Detections) != 0 {
		t.Errorf("Expected plain frame 2, got seq=%d annotated=%v detections=%d", f.Seq, f.Annotated, len(f.Detections))
	}
}

func TestStage_DetectorFailureIsIsolated(t *testing.T) {
	fx := newFixture(t, Options{FrameSkip: 1})
	fx.detector.err = errors.New("model exploded")

	fx.raw.Store(newFrame(1, 32, 32))
	res := fx.stage.Tick()
	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("Expected a failed outcome with an error, got %+v", res)
	}
	if fx.processed.Len() != 0 {
		t.Error("A failed tick must not publish")
	}

	fx.detector.mu.Lock()
	fx.detector.err = nil
	fx.detector.mu.Unlock()

	fx.raw.Store(newFrame(2, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomeAnnotated {
		t.Errorf("Expected the stage to recover, got %s", res.Outcome)
	}
	if st := fx.stage.Stats(); st.Failures != 1 {
		t.Errorf("Expected 1 failure, got %d", st.Failures)
	}
}

func TestStage_RescalesAndFilters(t *testing.T) {
	fx := newFixture(t, Options{
		FrameSkip:           1,
		InferenceWidth:      320,
		InferenceHeight:     320,
		ConfidenceThreshold: 0.5,
	})
	fx.detector.result = []model.Detection{
		{Box: model.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}, Confidence: 0.8, Label: "person"},
		{Box: model.Box{X1: 10, Y1: 10, X2: 20, Y2: 20}, Confidence: 0.3, Label: "cat"},
	}

	fx.raw.Store(newFrame(1, 640, 480))
	res := fx.stage.Tick()
	if res.Outcome != OutcomeAnnotated || res.Detections != 1 {
		t.Fatalf("Expected one annotated detection, got %+v", res)
	}
	if fx.detector.w != 320 || fx.detector.h != 320 {
		t.Errorf("Expected a 320x320 detector input, got %dx%d", fx.detector.w, fx.detector.h)
	}

	f, _, ok := fx.processed.Load()
	if !ok {
		t.Fatal("Expected a processed frame")
	}
	defer f.Close()

	if f.Width() != 640 || f.Height() != 480 {
		t.Errorf("Processed frame must keep source size, got %dx%d", f.Width(), f.Height())
	}
	want := model.Box{X1: 200, Y1: 150, X2: 400, Y2: 300}
	if len(f.Detections) != 1 || f.Detections[0].Box != want {
		t.Errorf("Expected box %+v, got %+v", want, f.Detections)
	}
	if len(fx.recorder.seqs) != 1 || fx.recorder.seqs[0] != 1 {
		t.Errorf("Expected frame 1 to be recorded, got %v", fx.recorder.seqs)
	}
}

func TestStage_RescalesFromDownsampledInput(t *testing.T) {
	tests := []struct {
		name       string
		inW, inH   int
		wantInput  [2]int
		wantBox    model.Box
		inputBoxes model.Box
	}{
		{"quarter size", 160, 120, [2]int{160, 120}, model.Box{X1: 40, Y1: 40, X2: 440, Y2: 240}, model.Box{X1: 10, Y1: 10, X2: 110, Y2: 60}},
		{"non uniform", 320, 240, [2]int{320, 240}, model.Box{X1: 20, Y1: 20, X2: 220, Y2: 120}, model.Box{X1: 10, Y1: 10, X2: 110, Y2: 60}},
		{"native size", 0, 0, [2]int{640, 480}, model.Box{X1: 10, Y1: 10, X2: 110, Y2: 60}, model.Box{X1: 10, Y1: 10, X2: 110, Y2: 60}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Options{
				FrameSkip:           1,
				InferenceWidth:      tt.inW,
				InferenceHeight:     tt.inH,
				ConfidenceThreshold: 0.5,
			})
			fx.detector.result = []model.Detection{{Box: tt.inputBoxes, Confidence: 0.9, Label: "person"}}

			fx.raw.Store(newFrame(1, 640, 480))
			if res := fx.stage.Tick(); res.Outcome != OutcomeAnnotated {
				t.Fatalf("Expected annotated outcome, got %+v", res)
			}
			if fx.detector.w != tt.wantInput[0] || fx.detector.h != tt.wantInput[1] {
				t.Errorf("Expected a %dx%d detector input, got %dx%d", tt.wantInput[0], tt.wantInput[1], fx.detector.w, fx.detector.h)
			}

			f, _, ok := fx.processed.Load()
			if !ok {
				t.Fatal("Expected a processed frame")
			}
			defer f.Close()
			if len(f.Detections) != 1 || f.Detections[0].Box != tt.wantBox {
				t.Errorf("Expected box %+v, got %+v", tt.wantBox, f.Detections)
			}
		})
	}
}

func TestStage_NoRecordWithoutDetections(t *testing.T) {
	fx := newFixture(t, Options{FrameSkip: 1})

	fx.raw.Store(newFrame(1, 32, 32))
	if res := fx.stage.Tick(); res.Outcome != OutcomeAnnotated {
		t.Fatalf("Expected annotated, got %s", res.Outcome)
	}
	if len(fx.recorder.seqs) != 0 {
		t.Errorf("Expected nothing recorded, got %v", fx.recorder.seqs)
	}
}

func TestStage_RunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, Options{FrameSkip: 1, Interval: 5 * time.Millisecond})
	fx.raw.Store(newFrame(1, 32, 32))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.stage.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fx.processed.Version() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Stage never published")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if fx.detector.Calls() != 1 {
		t.Errorf("Expected exactly one invocation for one frame, got %d", fx.detector.Calls())
	}
}

var _ ai.Detector = (*countingDetector)(nil)
