package dataset

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo-train/common"
)

const (
	// AnchorsPerScale is the number of anchors assigned to each output scale.
	AnchorsPerScale = 3
	// NumScales is the number of detection outputs, at strides 32, 16 and 8.
	NumScales = 3
)

// AnchorShapes turns a flat width/height sequence into origin-anchored boxes.
func AnchorShapes(flat []float64) []common.BoundingBox {
	shapes := make([]common.BoundingBox, len(flat)/2)
	for i := range shapes {
		shapes[i] = common.NewShape(float32(flat[2*i]), float32(flat[2*i+1]))
	}
	return shapes
}

// BestAnchor returns the index of the anchor whose shape overlaps box the most.
func BestAnchor(box common.BoundingBox, anchors []common.BoundingBox) int {
	shape := common.NewShape(box.Width(), box.Height())
	best, bestIoU := 0, float32(-1)
	for i := range anchors {
		if iou := shape.IoU(&anchors[i]); iou > bestIoU {
			best, bestIoU = i, iou
		}
	}
	return best
}

// Strides returns the output stride of each scale, coarsest first.
func Strides(numAnchors int) []int {
	n := numAnchors / AnchorsPerScale
	strides := make([]int, n)
	for s := range strides {
		strides[s] = NetSizeStep >> s
	}
	return strides
}

// EncodeTargets builds the YOLO training targets for a batch.
//
// Anchors are ordered smallest first, so the last AnchorsPerScale anchors belong to
// the coarsest scale. Each box is assigned to its best anchor only. A target cell
// holds (cx, cy, w, h) in network pixels, an objectness of 1 and a one-hot class.
//
// Arguments:
//   - boxes: The boxes of each image, in network coordinates.
//   - netSize: The side of the network input.
//   - anchors: The anchor shapes.
//   - numClasses: The number of classes.
//
// Returns:
//   - []*tensor.Dense: One (B, grid, grid, AnchorsPerScale, 5+numClasses) tensor per scale.
func EncodeTargets(boxes [][]common.BoundingBox, netSize int, anchors []common.BoundingBox, numClasses int) []*tensor.Dense {
	strides := Strides(len(anchors))
	depth := 5 + numClasses
	targets := make([]*tensor.Dense, len(strides))
	data := make([][]float32, len(strides))
	for s, stride := range strides {
		grid := netSize / stride
		data[s] = make([]float32, len(boxes)*grid*grid*AnchorsPerScale*depth)
		targets[s] = tensor.New(
			tensor.WithShape(len(boxes), grid, grid, AnchorsPerScale, depth),
			tensor.WithBacking(data[s]),
		)
	}

	for b, imageBoxes := range boxes {
		for _, box := range imageBoxes {
			if box.Class < 0 || box.Class >= numClasses {
				continue
			}
			best := BestAnchor(box, anchors)
			s := len(strides) - 1 - best/AnchorsPerScale
			a := best % AnchorsPerScale
			stride := strides[s]
			grid := netSize / stride

			cx, cy := box.Center()
			gx := clamp(int(cx)/stride, 0, grid-1)
			gy := clamp(int(cy)/stride, 0, grid-1)

			off := ((((b*grid+gy)*grid+gx)*AnchorsPerScale + a) * depth)
			cell := data[s][off : off+depth]
			for k := range cell {
				cell[k] = 0
			}
			cell[0], cell[1] = cx, cy
			cell[2], cell[3] = box.Width(), box.Height()
			cell[4] = 1
			cell[5+box.Class] = 1
		}
	}

	return targets
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
