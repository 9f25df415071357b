package ai

import "github.com/jonathanvineet/DAIO/internal/model"

// FilterByConfidence keeps detections whose confidence is at least threshold.
func FilterByConfidence(detections []model.Detection, threshold float64) []model.Detection {
	kept := make([]model.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

// ScaleFactors returns the per-axis factors mapping inference space back to
// source space.
func ScaleFactors(srcW, srcH, inW, inH int) (sx, sy float64) {
	if inW <= 0 || inH <= 0 {
		return 1, 1
	}
	return float64(srcW) / float64(inW), float64(srcH) / float64(inH)
}

// Rescale maps a box from inference space into source space.
func Rescale(b model.Box, sx, sy float64) model.Box {
	return model.Box{
		X1: b.X1 * sx,
		Y1: b.Y1 * sy,
		X2: b.X2 * sx,
		Y2: b.Y2 * sy,
	}
}

// RescaleAll rescales every detection box in place and returns the slice.
func RescaleAll(detections []model.Detection, sx, sy float64) []model.Detection {
	for i := range detections {
		detections[i].Box = Rescale(detections[i].Box, sx, sy)
	}
	return detections
}
