package model

import (
	"image"
	"math"
)

// Box is an axis-aligned rectangle in pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Rect rounds the box to integer pixel coordinates.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)),
		int(math.Round(b.Y1)),
		int(math.Round(b.X2)),
		int(math.Round(b.Y2)),
	)
}

// Center returns the integer center point of the box.
func (b Box) Center() image.Point {
	return image.Pt(int((b.X1+b.X2)/2), int((b.Y1+b.Y2)/2))
}

// Width returns X2-X1.
func (b Box) Width() float64 {
	return b.X2 - b.X1
}

// Height returns Y2-Y1.
func (b Box) Height() float64 {
	return b.Y2 - b.Y1
}

// Detection represents one detected object instance.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
	Label      string  `json:"label"`
}

// Center returns the center point of the detection box.
func (d Detection) Center() image.Point {
	return d.Box.Center()
}
