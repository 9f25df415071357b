package presentation

import (
	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/model"
)

const keyEsc = 27

// WindowSink shows frames in a local OpenCV window. It must be created and
// used from the goroutine locked to the main OS thread.
type WindowSink struct {
	window *gocv.Window
	quit   bool
}

func NewWindowSink(title string) *WindowSink {
	return &WindowSink{window: gocv.NewWindow(title)}
}

func (w *WindowSink) Name() string { return "window" }

func (w *WindowSink) Render(f *model.Frame) error {
	w.window.IMShow(f.Mat)
	return nil
}

// Poll pumps the window events and latches q or Esc as a quit request.
func (w *WindowSink) Poll() bool {
	switch w.window.WaitKey(1) {
	case 'q', 'Q', keyEsc:
		w.quit = true
	}
	return w.quit
}

func (w *WindowSink) Close() error {
	return w.window.Close()
}
