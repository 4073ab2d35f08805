package common

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBoxIoU(t *testing.T) {
	box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
	box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}

	assert.InDelta(t, 2500, box1.Intersection(&box2), 1e-3)
	assert.InDelta(t, 17500, box1.Union(&box2), 1e-3)
	assert.InDelta(t, 2500.0/17500.0, box1.IoU(&box2), 1e-5)

	disjoint := BoundingBox{X1: 200, Y1: 200, X2: 300, Y2: 300}
	assert.Equal(t, float32(0), box1.IoU(&disjoint))

	empty := BoundingBox{}
	assert.Equal(t, float32(0), empty.IoU(&empty), "empty boxes must not divide by zero")
}

func TestShapeIoU(t *testing.T) {
	anchor := NewShape(10, 13)
	same := NewShape(10, 13)
	assert.InDelta(t, 1.0, anchor.IoU(&same), 1e-6)

	wide := NewShape(20, 13)
	assert.InDelta(t, 0.5, anchor.IoU(&wide), 1e-6)
}

func TestBoundingBoxTransforms(t *testing.T) {
	b := BoundingBox{Label: "cat", Class: 1, X1: 10, Y1: 20, X2: 30, Y2: 60}

	scaled := b.Transform(2, 0.5, 5, 1)
	assert.Equal(t, BoundingBox{Label: "cat", Class: 1, X1: 25, Y1: 11, X2: 65, Y2: 31}, scaled)

	flipped := b.FlipHorizontal(100)
	assert.Equal(t, float32(70), flipped.X1)
	assert.Equal(t, float32(90), flipped.X2)
	assert.Equal(t, b.Width(), flipped.Width())

	clipped := BoundingBox{X1: -5, Y1: 10, X2: 120, Y2: 200}.Clip(100, 50)
	assert.Equal(t, BoundingBox{X1: 0, Y1: 10, X2: 100, Y2: 50}, clipped)

	assert.Equal(t, image.Rect(10, 20, 30, 60), b.ToRect())
	cx, cy := b.Center()
	assert.Equal(t, float32(20), cx)
	assert.Equal(t, float32(40), cy)
}
