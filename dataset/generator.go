package dataset

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo-train/common"
	"github.com/nvr-ai/go-yolo-train/images"
	"github.com/nvr-ai/go-yolo-train/logger"
)

// NetSizeStep is the granularity of the network input size: the total stride of the
// backbone.
const NetSizeStep = 32

// resizeInterval is the number of batches between two random network size draws.
const resizeInterval = 10

// ErrOutOfRange is returned for batch indices outside [0, Len()).
var ErrOutOfRange = errors.New("batch index out of range")

// GeneratorArgs is the arguments for creating a batch generator.
type GeneratorArgs struct {
	AnnotationPaths []string  `json:"annotation_paths" yaml:"annotation_paths"`
	ImageFolder     string    `json:"image_folder" yaml:"image_folder"`
	BatchSize       int       `json:"batch_size" yaml:"batch_size"`
	Labels          []string  `json:"labels" yaml:"labels"`
	Anchors         []float64 `json:"anchors" yaml:"anchors"`
	MinNetSize      int       `json:"min_net_size" yaml:"min_net_size"`
	MaxNetSize      int       `json:"max_net_size" yaml:"max_net_size"`
	Jitter          bool      `json:"jitter" yaml:"jitter"`
	Shuffle         bool      `json:"shuffle" yaml:"shuffle"`
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
}

// Validate checks the arguments for consistency.
func (a GeneratorArgs) Validate() error {
	if a.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", a.BatchSize)
	}
	if len(a.Labels) == 0 {
		return fmt.Errorf("at least one label is required")
	}
	if len(a.Anchors) == 0 || len(a.Anchors)%2 != 0 {
		return fmt.Errorf("anchors must be width/height pairs, got %d values", len(a.Anchors))
	}
	if len(a.Anchors)/2 != NumScales*AnchorsPerScale {
		return fmt.Errorf("expected %d anchors (%d per output scale), got %d",
			NumScales*AnchorsPerScale, AnchorsPerScale, len(a.Anchors)/2)
	}
	if a.MinNetSize < NetSizeStep || a.MinNetSize > a.MaxNetSize {
		return fmt.Errorf("invalid network size range [%d, %d]", a.MinNetSize, a.MaxNetSize)
	}
	if a.MinNetSize%NetSizeStep != 0 || a.MaxNetSize%NetSizeStep != 0 {
		return fmt.Errorf("network sizes must be multiples of %d, got [%d, %d]", NetSizeStep, a.MinNetSize, a.MaxNetSize)
	}
	return nil
}

// Batch is one training batch.
type Batch struct {
	// NetSize is the side of the square network input used for this batch.
	NetSize int
	// Images is the (B, 3, NetSize, NetSize) input tensor, values in [0, 1].
	Images *tensor.Dense
	// Targets holds one (B, grid, grid, 3, 5+classes) tensor per output scale,
	// coarsest first.
	Targets []*tensor.Dense
	// Boxes are the ground-truth boxes of each image in network coordinates.
	Boxes [][]common.BoundingBox
	// Sources are the annotation files the batch was built from.
	Sources []string
}

// Generator yields training batches.
type Generator interface {
	// Options returns the arguments the generator was built with.
	Options() GeneratorArgs
	// NumSamples returns the number of usable annotated images.
	NumSamples() int
	// Len returns the number of batches per epoch.
	Len() int
	// Batch builds batch i of the current epoch.
	Batch(i int) (*Batch, error)
	// OnEpochEnd prepares the next epoch.
	OnEpochEnd()
}

// BatchGenerator builds batches from PASCAL VOC annotations.
type BatchGenerator struct {
	args        GeneratorArgs
	annotations []Annotation
	anchors     []common.BoundingBox
	jitter      images.JitterOptions

	mu      sync.Mutex
	rng     *rand.Rand
	order   []int
	netSize int
}

var _ Generator = (*BatchGenerator)(nil)

// NewBatchGenerator parses every annotation and prepares the first epoch.
//
// Annotations without any usable object are skipped. An empty annotation list is
// valid and yields a generator with no batches.
//
// Arguments:
//   - args: The arguments for creating the generator.
//
// Returns:
//   - *BatchGenerator: The generator.
//   - error: An error if the arguments are invalid or an annotation cannot be parsed.
func NewBatchGenerator(args GeneratorArgs) (*BatchGenerator, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	log, _ := logger.GetZapLogger(context.Background())

	g := &BatchGenerator{
		args:    args,
		anchors: AnchorShapes(args.Anchors),
		jitter:  images.DefaultJitter(),
		netSize: args.MaxNetSize,
	}

	for _, path := range args.AnnotationPaths {
		ann, err := ParseAnnotation(path, args.ImageFolder, args.Labels)
		if err != nil {
			return nil, err
		}
		if len(ann.Objects) == 0 {
			log.Debug("skipping annotation without objects", zap.String("path", path))
			continue
		}
		g.annotations = append(g.annotations, ann)
	}

	seed := args.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g.rng = rand.New(rand.NewSource(seed))

	g.order = make([]int, len(g.annotations))
	for i := range g.order {
		g.order[i] = i
	}
	if args.Shuffle {
		g.shuffle()
	}

	return g, nil
}

// Options returns the arguments the generator was built with.
func (g *BatchGenerator) Options() GeneratorArgs {
	return g.args
}

// NumSamples returns the number of usable annotated images.
func (g *BatchGenerator) NumSamples() int {
	return len(g.annotations)
}

// Annotations returns the parsed annotations in epoch order.
func (g *BatchGenerator) Annotations() []Annotation {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Annotation, len(g.order))
	for i, idx := range g.order {
		out[i] = g.annotations[idx]
	}
	return out
}

// Len returns the number of batches per epoch; the last batch may be short.
func (g *BatchGenerator) Len() int {
	return (len(g.annotations) + g.args.BatchSize - 1) / g.args.BatchSize
}

// OnEpochEnd reshuffles the sample order when shuffling is enabled.
func (g *BatchGenerator) OnEpochEnd() {
	if !g.args.Shuffle {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shuffle()
}

func (g *BatchGenerator) shuffle() {
	g.rng.Shuffle(len(g.order), func(i, j int) {
		g.order[i], g.order[j] = g.order[j], g.order[i]
	})
}

// netSizeFor returns the network size for batch i, drawing a new one every
// resizeInterval batches.
func (g *BatchGenerator) netSizeFor(i int) int {
	if i%resizeInterval == 0 {
		lo := g.args.MinNetSize / NetSizeStep
		hi := g.args.MaxNetSize / NetSizeStep
		g.netSize = (lo + g.rng.Intn(hi-lo+1)) * NetSizeStep
	}
	return g.netSize
}

// Batch builds batch i of the current epoch.
//
// Arguments:
//   - i: The batch index in [0, Len()).
//
// Returns:
//   - *Batch: The images, targets and boxes.
//   - error: ErrOutOfRange, or an error if an image cannot be loaded.
func (g *BatchGenerator) Batch(i int) (*Batch, error) {
	if i < 0 || i >= g.Len() {
		return nil, errors.Wrapf(ErrOutOfRange, "batch %d of %d", i, g.Len())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	size := g.netSizeFor(i)
	start := i * g.args.BatchSize
	end := start + g.args.BatchSize
	if end > len(g.order) {
		end = len(g.order)
	}
	n := end - start

	plane := 3 * size * size
	pixels := make([]float32, n*plane)
	batch := &Batch{
		NetSize: size,
		Boxes:   make([][]common.BoundingBox, n),
		Sources: make([]string, n),
	}

	for b, idx := range g.order[start:end] {
		ann := g.annotations[idx]
		img, err := images.Load(ann.ImagePath)
		if err != nil {
			return nil, errors.WithMessage(err, ann.Source)
		}

		var (
			canvas *image.RGBA
			tr     images.Transform
		)
		if g.args.Jitter {
			canvas, tr = images.Jitter(img.Pixels, size, g.rng, g.jitter)
		} else {
			canvas, tr = images.Letterbox(img.Pixels, size)
		}
		images.ToCHW(canvas, pixels[b*plane:(b+1)*plane])

		// Annotation coordinates refer to the recorded size; rescale when the file differs.
		sx, sy := float32(1), float32(1)
		if ann.Width > 0 && ann.Height > 0 {
			sx = float32(img.Width) / float32(ann.Width)
			sy = float32(img.Height) / float32(ann.Height)
		}
		for _, obj := range ann.Objects {
			box := tr.Apply(obj.Transform(sx, sy, 0, 0))
			if box.Area() <= 0 {
				continue
			}
			batch.Boxes[b] = append(batch.Boxes[b], box)
		}
		batch.Sources[b] = ann.Source
	}

	batch.Images = tensor.New(
		tensor.WithShape(n, 3, size, size),
		tensor.WithBacking(pixels),
	)
	batch.Targets = EncodeTargets(batch.Boxes, size, g.anchors, len(g.args.Labels))

	return batch, nil
}
