package ai

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/jonathanvineet/DAIO/internal/model"
)

var (
	boxColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	centerColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// Annotate draws every detection onto frame and records them on it.
// Coordinates must already be in frame pixel space.
func Annotate(frame *model.Frame, detections []model.Detection) error {
	for _, detection := range detections {
		rect := detection.Box.Rect()
		if err := gocv.Rectangle(&frame.Mat, rect, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s %.2f", detection.Label, detection.Confidence)
		if err := gocv.PutText(&frame.Mat, label, image.Pt(rect.Min.X, rect.Min.Y-10), gocv.FontHersheySimplex, 0.5, boxColor, 2); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}

		center := detection.Center()
		gocv.Circle(&frame.Mat, center, 5, centerColor, -1)

		coords := fmt.Sprintf("(%d,%d)", center.X, center.Y)
		if err := gocv.PutText(&frame.Mat, coords, image.Pt(rect.Min.X, rect.Max.Y+20), gocv.FontHersheySimplex, 0.5, centerColor, 2); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}
	}

	frame.Annotated = true
	frame.Detections = append(frame.Detections[:0], detections...)
	return nil
}
