package model

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Frame is a captured image plus the metadata the pipeline carries with it.
// Once a Frame is stored in a slot it must not be mutated; stages work on a
// Clone and Close it when done.
type Frame struct {
	Mat        gocv.Mat
	Seq        uint64
	CapturedAt time.Time
	Annotated  bool
	Detections []Detection
}

// NewFrame wraps mat into a Frame stamped with the current time.
// The Frame takes ownership of mat.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{
		Mat:        mat,
		CapturedAt: time.Now(),
	}
}

// Clone returns a deep copy that owns its own pixel buffer.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Mat:        f.Mat.Clone(),
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
		Annotated:  f.Annotated,
	}
	if len(f.Detections) > 0 {
		c.Detections = make([]Detection, len(f.Detections))
		copy(c.Detections, f.Detections)
	}
	return c
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Mat.Cols()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Mat.Rows()
}

// Channels returns the number of color channels.
func (f *Frame) Channels() int {
	return f.Mat.Channels()
}

// JPEG encodes the frame at the given quality (1-100).
func (f *Frame) JPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.Mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
