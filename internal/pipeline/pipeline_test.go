package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/service/ai"
	"github.com/jonathanvineet/DAIO/internal/service/capture"
	"github.com/jonathanvineet/DAIO/internal/service/inference"
	"github.com/jonathanvineet/DAIO/internal/service/presentation"
)

// ========================================
// Fakes
// ========================================

type idleConnector struct{}

func (idleConnector) Describe() string { return "idle" }

func (idleConnector) Connect(ctx context.Context) (capture.Conn, error) {
	return idleConn{}, nil
}

type idleConn struct{}

func (idleConn) Read(ctx context.Context) (*model.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (idleConn) Close() error { return nil }

type refusingConnector struct{}

func (refusingConnector) Describe() string { return "refusing" }

func (refusingConnector) Connect(ctx context.Context) (capture.Conn, error) {
	return nil, errors.New("connection refused")
}

var noDetections = ai.DetectorFunc(func(img gocv.Mat, conf, overlap float32) ([]model.Detection, error) {
	return nil, nil
})

// collectingSink keeps the detections of every annotated frame it sees.
type collectingSink struct {
	mu        sync.Mutex
	annotated [][]model.Detection
	rendered  int
}

func (c *collectingSink) Name() string { return "collect" }

func (c *collectingSink) Render(f *model.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rendered++
	if f.Annotated && len(f.Detections) > 0 {
		c.annotated = append(c.annotated, append([]model.Detection(nil), f.Detections...))
	}
	return nil
}

func (c *collectingSink) firstAnnotated() ([]model.Detection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.annotated) == 0 {
		return nil, false
	}
	return c.annotated[0], true
}

func testOptions() Options {
	return Options{
		ReconnectBackoff: 20 * time.Millisecond,
		Inference: inference.Options{
			Interval:            5 * time.Millisecond,
			FrameSkip:           2,
			InferenceWidth:      320,
			InferenceHeight:     320,
			ConfidenceThreshold: 0.5,
			OverlapThreshold:    0.45,
		},
		Presentation: presentation.Options{TargetFPS: 100},
	}
}

func runAsync(p *Pipeline, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func waitState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected state %s, still %s", want, p.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// ========================================
// Lifecycle Tests
// ========================================

func TestPipeline_StateTransitions(t *testing.T) {
	p := New(Components{Connector: idleConnector{}, Detector: noDetections}, testOptions(), logger.Discard())
	if p.State() != StateIdle {
		t.Fatalf("Expected idle, got %s", p.State())
	}

	done := runAsync(p, context.Background())
	waitState(t, p, StateRunning)

	p.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil after Stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if p.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", p.State())
	}
	if p.StopReason() != "stop requested" {
		t.Errorf("Unexpected stop reason %q", p.StopReason())
	}
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted on a second Run, got %v", err)
	}
}

func TestPipeline_RunTwiceConcurrently(t *testing.T) {
	p := New(Components{Connector: idleConnector{}, Detector: noDetections}, testOptions(), logger.Discard())

	done := runAsync(p, context.Background())
	waitState(t, p, StateRunning)

	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	p.Stop()
	<-done
}

func TestPipeline_InterruptStops(t *testing.T) {
	p := New(Components{Connector: idleConnector{}, Detector: noDetections}, testOptions(), logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(p, ctx)
	waitState(t, p, StateRunning)
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Expected nil after interrupt, got %v", err)
	}
	if p.StopReason() != "interrupted" {
		t.Errorf("Unexpected stop reason %q", p.StopReason())
	}
}

func TestPipeline_UnrecoverableSourceStops(t *testing.T) {
	p := New(Components{Connector: refusingConnector{}, Detector: noDetections}, testOptions(), logger.Discard())

	select {
	case err := <-runAsync(p, context.Background()):
		if !errors.Is(err, capture.ErrUnrecoverable) {
			t.Errorf("Expected ErrUnrecoverable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a refused first connection")
	}

	if p.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", p.State())
	}
	if p.StopReason() != "source failed" {
		t.Errorf("Unexpected stop reason %q", p.StopReason())
	}
}

func TestPipeline_SupportingTaskStopsWithPipeline(t *testing.T) {
	p := New(Components{Connector: idleConnector{}, Detector: noDetections}, testOptions(), logger.Discard())

	stopped := make(chan struct{})
	p.Go("helper", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	done := runAsync(p, context.Background())
	waitState(t, p, StateRunning)
	p.Stop()
	<-done

	select {
	case <-stopped:
	default:
		t.Error("Supporting task still running after Run returned")
	}
}

// ========================================
// End-to-end
// ========================================

func TestPipeline_TaskFailure(t *testing.T) {
	errListen := errors.New("address already in use")

	tests := []struct {
		name       string
		required   bool
		wantErr    bool
		wantReason string
	}{
		{"required task stops the pipeline", true, true, "http failed"},
		{"optional task is only logged", false, false, "stop requested"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Components{Connector: idleConnector{}, Detector: noDetections}, testOptions(), logger.Discard())
			failed := make(chan struct{})
			run := func(ctx context.Context) error {
				close(failed)
				return errListen
			}
			if tt.required {
				p.Require("http", run)
			} else {
				p.Go("http", run)
			}

			done := runAsync(p, context.Background())
			<-failed
			if !tt.required {
				waitState(t, p, StateRunning)
				p.Stop()
			}

			select {
			case err := <-done:
				if tt.wantErr != errors.Is(err, errListen) {
					t.Errorf("Unexpected Run error %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
			if p.StopReason() != tt.wantReason {
				t.Errorf("Expected stop reason %q, got %q", tt.wantReason, p.StopReason())
			}
		})
	}
}

func sourceJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		t.Fatalf("Failed to encode source frame: %v", err)
	}
	return buf.Bytes()
}

func TestPipeline_EndToEnd(t *testing.T) {
	frame := sourceJPEG(t, 640, 480)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			part := append([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"), frame...)
			part = append(part, "\r\n"...)
			for off := 0; off < len(part); off += 4096 {
				end := min(off+4096, len(part))
				if _, err := w.Write(part[off:end]); err != nil {
					return
				}
				flusher.Flush()
				time.Sleep(5 * time.Millisecond)
			}
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var (
		mu        sync.Mutex
		inputSize image.Point
	)
	detector := ai.DetectorFunc(func(img gocv.Mat, conf, overlap float32) ([]model.Detection, error) {
		mu.Lock()
		inputSize = image.Pt(img.Cols(), img.Rows())
		mu.Unlock()
		return []model.Detection{{
			Box:        model.Box{X1: 100, Y1: 100, X2: 200, Y2: 200},
			Confidence: 0.8,
			Label:      "person",
		}}, nil
	})

	connector := capture.NewStreamConnector(capture.StreamConfig{
		URL:            srv.URL,
		ChunkSize:      1024,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		BufferCeiling:  4 << 20,
	})
	sink := &collectingSink{}
	p := New(Components{Connector: connector, Detector: detector, Sinks: []presentation.Sink{sink}}, testOptions(), logger.Discard())

	done := runAsync(p, context.Background())

	var dets []model.Detection
	deadline := time.Now().Add(5 * time.Second)
	for {
		var ok bool
		if dets, ok = sink.firstAnnotated(); ok {
			break
		}
		if time.Now().After(deadline) {
			p.Stop()
			<-done
			t.Fatalf("No annotated frame reached the sink; stats %+v", p.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if len(dets) != 1 {
		t.Fatalf("Expected exactly one detection, got %d", len(dets))
	}
	want := model.Box{X1: 200, Y1: 150, X2: 400, Y2: 300}
	if dets[0].Box != want {
		t.Errorf("Expected rescaled box %+v, got %+v", want, dets[0].Box)
	}

	mu.Lock()
	if inputSize != image.Pt(320, 320) {
		t.Errorf("Expected the detector to see 320x320, got %v", inputSize)
	}
	mu.Unlock()

	st := p.Stats()
	if st.Capture.Frames == 0 || st.Capture.Frames > 10 {
		t.Errorf("Expected between 1 and 10 captured frames, got %d", st.Capture.Frames)
	}
	if st.Inference.Invocations == 0 {
		t.Error("Expected the detector to run")
	}
	if st.State != StateStopped {
		t.Errorf("Expected stopped, got %s", st.State)
	}
}
