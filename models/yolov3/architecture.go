// Package yolov3 - Darknet YOLOv3 parameters, darknet weight conversion and native checkpoints.
package yolov3

import "fmt"

// AnchorsPerScale is the number of anchor boxes each detection layer predicts per grid cell.
const AnchorsPerScale = 3

// ConvSpec describes one convolution layer in darknet order.
type ConvSpec struct {
	// Filters is the number of output channels. Ignored for detection layers, whose
	// output width follows from the class count.
	Filters int `json:"filters"`
	// In is the number of input channels.
	In int `json:"in"`
	// Size is the square kernel size.
	Size int `json:"size"`
	// Stride is the convolution stride.
	Stride int `json:"stride"`
	// BatchNorm is true when the layer is followed by batch normalisation.
	BatchNorm bool `json:"batch_norm"`
	// Detect marks the linear convolutions that feed a YOLO output layer.
	Detect bool `json:"detect"`
}

// Architecture is the ordered list of convolution layers of a network.
type Architecture []ConvSpec

// DetectFilters returns the output width of a detection layer for numClasses classes.
func DetectFilters(numClasses int) int {
	return AnchorsPerScale * (5 + numClasses)
}

// OutChannels returns the number of output channels of layer i.
func (a Architecture) OutChannels(i, numClasses int) int {
	if a[i].Detect {
		return DetectFilters(numClasses)
	}
	return a[i].Filters
}

// DetectLayers returns the indices of the detection layers.
func (a Architecture) DetectLayers() []int {
	var idx []int
	for i, spec := range a {
		if spec.Detect {
			idx = append(idx, i)
		}
	}
	return idx
}

// NumParams returns the number of float32 values the layers occupy in a darknet
// weight file, batch-norm statistics included.
func (a Architecture) NumParams(numClasses int) int {
	n := 0
	for i, spec := range a {
		filters := a.OutChannels(i, numClasses)
		n += filters * spec.In * spec.Size * spec.Size
		if spec.BatchNorm {
			n += 4 * filters
		} else {
			n += filters
		}
	}
	return n
}

// Validate checks that every layer has positive geometry.
func (a Architecture) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("architecture has no layers")
	}
	for i, spec := range a {
		if spec.In <= 0 || spec.Size <= 0 || spec.Stride <= 0 {
			return fmt.Errorf("layer %d: invalid geometry %+v", i, spec)
		}
		if !spec.Detect && spec.Filters <= 0 {
			return fmt.Errorf("layer %d: filters must be positive", i)
		}
		if spec.Detect && spec.BatchNorm {
			return fmt.Errorf("layer %d: detection layers have no batch normalisation", i)
		}
	}
	return nil
}

func conv(in, filters, size, stride int) ConvSpec {
	return ConvSpec{Filters: filters, In: in, Size: size, Stride: stride, BatchNorm: true}
}

func detect(in int) ConvSpec {
	return ConvSpec{In: in, Size: 1, Stride: 1, Detect: true}
}

// residual appends n darknet residual blocks operating on channels c.
func residual(layers Architecture, c, n int) Architecture {
	for i := 0; i < n; i++ {
		layers = append(layers, conv(c, c/2, 1, 1), conv(c/2, c, 3, 1))
	}
	return layers
}

// head appends the five alternating 1x1/3x3 layers, the 3x3 expansion and the
// detection layer of one YOLO output branch.
func head(layers Architecture, in, c int) Architecture {
	layers = append(layers,
		conv(in, c, 1, 1),
		conv(c, 2*c, 3, 1),
		conv(2*c, c, 1, 1),
		conv(c, 2*c, 3, 1),
		conv(2*c, c, 1, 1),
		conv(c, 2*c, 3, 1),
		detect(2*c),
	)
	return layers
}

// YOLOv3Architecture returns the 75 convolution layers of darknet's yolov3.cfg in
// file order: the Darknet-53 backbone followed by three detection branches.
func YOLOv3Architecture() Architecture {
	var a Architecture

	// Darknet-53 backbone.
	a = append(a, conv(3, 32, 3, 1), conv(32, 64, 3, 2))
	a = residual(a, 64, 1)
	a = append(a, conv(64, 128, 3, 2))
	a = residual(a, 128, 2)
	a = append(a, conv(128, 256, 3, 2))
	a = residual(a, 256, 8)
	a = append(a, conv(256, 512, 3, 2))
	a = residual(a, 512, 8)
	a = append(a, conv(512, 1024, 3, 2))
	a = residual(a, 1024, 4)

	// Stride 32 branch.
	a = head(a, 1024, 512)

	// Stride 16 branch: route from the branch above, 1x1 reduce, upsample and
	// concatenate with the 512-channel backbone output.
	a = append(a, conv(512, 256, 1, 1))
	a = head(a, 256+512, 256)

	// Stride 8 branch.
	a = append(a, conv(256, 128, 1, 1))
	a = head(a, 128+256, 128)

	return a
}
