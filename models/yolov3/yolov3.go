package yolov3

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo-train/models/model"
)

// DarknetSourceClasses is the class count of the published COCO darknet weights.
var DarknetSourceClasses = model.DarknetLabels.Len()

// Source tells where the current values of a layer came from.
type Source int

const (
	// SourceRandom is a freshly initialised layer.
	SourceRandom Source = iota
	// SourceDarknet is a layer converted from a darknet weight file.
	SourceDarknet
	// SourceCheckpoint is a layer restored from a native checkpoint.
	SourceCheckpoint
)

func (s Source) String() string {
	switch s {
	case SourceRandom:
		return "random"
	case SourceDarknet:
		return "darknet"
	case SourceCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ConvLayer holds the parameters of one convolution.
//
// Batch-normalised layers carry Gamma, Mean and Variance; Bias then holds the
// batch-norm beta. Layers without batch norm have a plain Bias and nil statistics.
type ConvLayer struct {
	Spec     ConvSpec
	Weights  *tensor.Dense // (filters, in, size, size)
	Bias     *tensor.Dense // (filters)
	Gamma    *tensor.Dense
	Mean     *tensor.Dense
	Variance *tensor.Dense
	Source   Source
}

// params returns the layer tensors in darknet file order, weights last.
func (l *ConvLayer) params() []*tensor.Dense {
	if l.Spec.BatchNorm {
		return []*tensor.Dense{l.Bias, l.Gamma, l.Mean, l.Variance, l.Weights}
	}
	return []*tensor.Dense{l.Bias, l.Weights}
}

// Option configures a YOLOv3 model.
type Option func(*YOLOv3)

// WithArchitecture replaces the darknet yolov3 layer table.
func WithArchitecture(arch Architecture) Option {
	return func(m *YOLOv3) {
		m.arch = arch
	}
}

// WithDarknetSourceClasses sets the class count the darknet weight file was trained with.
func WithDarknetSourceClasses(n int) Option {
	return func(m *YOLOv3) {
		m.sourceClasses = n
	}
}

// YOLOv3 is the instance of the YOLOv3 model.
type YOLOv3 struct {
	arch          Architecture
	numClasses    int
	sourceClasses int
	layers        []*ConvLayer
}

// NewModel creates a new model with freshly initialised parameters.
//
// Arguments:
//   - args: The arguments for creating a new model.
//   - opts: Optional overrides.
//
// Returns:
//   - The model.
//   - An error if the class count or architecture is invalid.
func NewModel(args model.NewModelArgs, opts ...Option) (*YOLOv3, error) {
	if args.NumClasses <= 0 {
		return nil, fmt.Errorf("NewModel requires a positive class count, got %d", args.NumClasses)
	}

	m := &YOLOv3{
		arch:          YOLOv3Architecture(),
		numClasses:    args.NumClasses,
		sourceClasses: DarknetSourceClasses,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.arch.Validate(); err != nil {
		return nil, err
	}
	if m.sourceClasses <= 0 {
		return nil, fmt.Errorf("NewModel requires a positive darknet source class count")
	}

	m.layers = make([]*ConvLayer, len(m.arch))
	for i, spec := range m.arch {
		m.layers[i] = newConvLayer(spec, m.arch.OutChannels(i, m.numClasses))
	}

	return m, nil
}

func newConvLayer(spec ConvSpec, filters int) *ConvLayer {
	shape := []int{filters, spec.In, spec.Size, spec.Size}
	l := &ConvLayer{
		Spec: spec,
		Weights: tensor.New(
			tensor.WithShape(shape...),
			tensor.WithBacking(G.GlorotN(1.0)(tensor.Float32, shape...)),
		),
		Bias: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(filters)),
	}
	if spec.BatchNorm {
		l.Gamma = tensor.Ones(tensor.Float32, filters)
		l.Mean = tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(filters))
		l.Variance = tensor.Ones(tensor.Float32, filters)
	}
	return l
}

// Options returns the description of the model.
func (m *YOLOv3) Options() model.BaseModel {
	return model.BaseModel{
		Name:       model.ModelNameYOLOv3,
		Family:     model.ModelFamilyYOLO,
		NumClasses: m.numClasses,
	}
}

// NumClasses returns the number of classes the detection layers predict.
func (m *YOLOv3) NumClasses() int {
	return m.numClasses
}

// Architecture returns the layer table.
func (m *YOLOv3) Architecture() Architecture {
	return m.arch
}

// Layers returns the convolution layers in darknet order.
func (m *YOLOv3) Layers() []*ConvLayer {
	return m.layers
}

// NumParams returns the number of scalar parameters, batch-norm statistics included.
func (m *YOLOv3) NumParams() int {
	n := 0
	for _, l := range m.layers {
		for _, p := range l.params() {
			n += p.Shape().TotalSize()
		}
	}
	return n
}

// Graph builds an expression graph holding one node per parameter tensor.
//
// The nodes share backing memory with the model, so a training loop that updates
// the learnables updates the model. Batch-norm running statistics are not learnable
// and are left out.
//
// Returns:
//   - *G.ExprGraph: The graph.
//   - G.Nodes: The learnable nodes in darknet order.
func (m *YOLOv3) Graph() (*G.ExprGraph, G.Nodes) {
	g := G.NewGraph()
	var learnables G.Nodes

	for i, l := range m.layers {
		w := G.NewTensor(g, tensor.Float32, 4,
			G.WithShape(l.Weights.Shape()...),
			G.WithName(fmt.Sprintf("conv_%d_w", i)),
			G.WithValue(l.Weights),
		)
		b := G.NewVector(g, tensor.Float32,
			G.WithShape(l.Bias.Shape()...),
			G.WithName(fmt.Sprintf("conv_%d_b", i)),
			G.WithValue(l.Bias),
		)
		learnables = append(learnables, w, b)

		if l.Spec.BatchNorm {
			gamma := G.NewVector(g, tensor.Float32,
				G.WithShape(l.Gamma.Shape()...),
				G.WithName(fmt.Sprintf("conv_%d_gamma", i)),
				G.WithValue(l.Gamma),
			)
			learnables = append(learnables, gamma)
		}
	}

	return g, learnables
}
