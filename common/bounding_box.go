// Package common - Geometry shared by the dataset and anchor matching code.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// BoundingBox represents a labelled box with corner coordinates in pixels.
type BoundingBox struct {
	Label          string
	Class          int
	X1, Y1, X2, Y2 float32
}

// NewShape returns a box of the given width and height anchored at the origin.
//
// Shapes are what anchor matching compares: only the box dimensions count.
func NewShape(w, h float32) BoundingBox {
	return BoundingBox{X2: w, Y2: h}
}

func (b *BoundingBox) String() string {
	return fmt.Sprintf("Object %s (class %d): (%f, %f), (%f, %f)",
		b.Label, b.Class, b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent of the box, never negative.
func (b *BoundingBox) Width() float32 {
	return math32.Max(0, b.X2-b.X1)
}

// Height returns the vertical extent of the box, never negative.
func (b *BoundingBox) Height() float32 {
	return math32.Max(0, b.Y2-b.Y1)
}

// Area returns the area of the box.
func (b *BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Center returns the center point of the box.
func (b *BoundingBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// ToRect converts the bounding box to an image.Rectangle.
//
// Returns:
// - An image.Rectangle with canonicalized coordinates.
//
// @example
// box := BoundingBox{X1: 100.5, Y1: 100.5, X2: 200.5, Y2: 300.5}
// rect := box.ToRect() // (100,100)-(200,300)
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Intersection calculates the intersection area between two bounding boxes.
//
// Arguments:
// - other: The other bounding box to calculate intersection with.
//
// Returns:
// - The area of intersection.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Intersection(&box2) // Returns 2500.0 (50x50 overlap)
func (b *BoundingBox) Intersection(other *BoundingBox) float32 {
	w := math32.Min(b.X2, other.X2) - math32.Max(b.X1, other.X1)
	h := math32.Min(b.Y2, other.Y2) - math32.Max(b.Y1, other.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two bounding boxes.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Union(&box2) // Returns 17500.0
func (b *BoundingBox) Union(other *BoundingBox) float32 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// Returns:
// - The IoU value between 0 and 1. Two empty boxes have an IoU of 0.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := box1.IoU(&box2) // Returns ~0.143 (2500/17500)
func (b *BoundingBox) IoU(other *BoundingBox) float32 {
	union := b.Union(other)
	if union <= 0 {
		return 0
	}
	return b.Intersection(other) / union
}

// Transform scales the box by (sx, sy) and then shifts it by (dx, dy).
func (b BoundingBox) Transform(sx, sy, dx, dy float32) BoundingBox {
	b.X1 = b.X1*sx + dx
	b.X2 = b.X2*sx + dx
	b.Y1 = b.Y1*sy + dy
	b.Y2 = b.Y2*sy + dy
	return b
}

// FlipHorizontal mirrors the box inside a canvas of the given width.
func (b BoundingBox) FlipHorizontal(width float32) BoundingBox {
	b.X1, b.X2 = width-b.X2, width-b.X1
	return b
}

// Clip restricts the box to the canvas [0, width] x [0, height].
func (b BoundingBox) Clip(width, height float32) BoundingBox {
	b.X1 = math32.Min(math32.Max(b.X1, 0), width)
	b.X2 = math32.Min(math32.Max(b.X2, 0), width)
	b.Y1 = math32.Min(math32.Max(b.Y1, 0), height)
	b.Y2 = math32.Min(math32.Max(b.Y2, 0), height)
	return b
}
