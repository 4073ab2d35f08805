package images

import (
	"image"
	"image/color"
	"math/rand"
	"runtime"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/nvr-ai/go-yolo-train/common"
)

// PadColor fills the parts of the canvas not covered by the resized image.
var PadColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}

// Transform records how source pixel coordinates map onto the square network canvas.
type Transform struct {
	// Size is the side of the square canvas.
	Size int
	// ScaleX and ScaleY are applied before the offset.
	ScaleX, ScaleY float32
	// DX and DY place the scaled image on the canvas.
	DX, DY float32
	// Flip mirrors the canvas horizontally after placement.
	Flip bool
}

// Apply maps a box from source coordinates to canvas coordinates, clipped to the canvas.
func (t Transform) Apply(box common.BoundingBox) common.BoundingBox {
	size := float32(t.Size)
	out := box.Transform(t.ScaleX, t.ScaleY, t.DX, t.DY)
	if t.Flip {
		out = out.FlipHorizontal(size)
	}
	return out.Clip(size, size)
}

// JitterOptions bounds the random geometric augmentation.
type JitterOptions struct {
	// AspectJitter is the fraction by which width and height are independently perturbed.
	AspectJitter float32
	// MinScale and MaxScale bound the size of the placed image relative to the canvas.
	MinScale, MaxScale float32
	// FlipProbability is the chance of a horizontal flip.
	FlipProbability float32
}

// DefaultJitter returns the augmentation ranges used for darknet-style training.
func DefaultJitter() JitterOptions {
	return JitterOptions{
		AspectJitter:    0.3,
		MinScale:        0.25,
		MaxScale:        2,
		FlipProbability: 0.5,
	}
}

// Letterbox resizes img to fit a size x size canvas, keeping its aspect ratio and
// centring it on PadColor.
//
// Arguments:
//   - img: The source image.
//   - size: The side of the square canvas.
//
// Returns:
//   - *image.RGBA: The canvas.
//   - Transform: The mapping from source to canvas coordinates.
func Letterbox(img image.Image, size int) (*image.RGBA, Transform) {
	bounds := img.Bounds()
	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	scale := math32.Min(float32(size)/w, float32(size)/h)

	newW := maxInt(1, int(math32.Floor(w*scale+0.5)))
	newH := maxInt(1, int(math32.Floor(h*scale+0.5)))
	dx := (size - newW) / 2
	dy := (size - newH) / 2

	canvas := place(img, size, newW, newH, dx, dy)

	return canvas, Transform{
		Size:   size,
		ScaleX: float32(newW) / w,
		ScaleY: float32(newH) / h,
		DX:     float32(dx),
		DY:     float32(dy),
	}
}

// Jitter places a randomly rescaled, reshaped and possibly mirrored copy of img on
// a size x size canvas.
//
// Arguments:
//   - img: The source image.
//   - size: The side of the square canvas.
//   - rng: The random source.
//   - opts: The augmentation ranges.
//
// Returns:
//   - *image.RGBA: The canvas.
//   - Transform: The mapping from source to canvas coordinates.
func Jitter(img image.Image, size int, rng *rand.Rand, opts JitterOptions) (*image.RGBA, Transform) {
	bounds := img.Bounds()
	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	net := float32(size)

	dw := opts.AspectJitter * w
	dh := opts.AspectJitter * h
	aspect := (w + uniform(rng, -dw, dw)) / math32.Max(1, h+uniform(rng, -dh, dh))
	aspect = math32.Max(aspect, 1e-2)
	scale := uniform(rng, opts.MinScale, opts.MaxScale)

	var newW, newH float32
	if aspect < 1 {
		newH = scale * net
		newW = newH * aspect
	} else {
		newW = scale * net
		newH = newW / aspect
	}
	iw := maxInt(1, int(newW))
	ih := maxInt(1, int(newH))

	dx := int(uniform(rng, math32.Min(0, net-float32(iw)), math32.Max(0, net-float32(iw))))
	dy := int(uniform(rng, math32.Min(0, net-float32(ih)), math32.Max(0, net-float32(ih))))

	canvas := place(img, size, iw, ih, dx, dy)

	flip := rng.Float32() < opts.FlipProbability
	if flip {
		FlipHorizontal(canvas)
	}

	return canvas, Transform{
		Size:   size,
		ScaleX: float32(iw) / w,
		ScaleY: float32(ih) / h,
		DX:     float32(dx),
		DY:     float32(dy),
		Flip:   flip,
	}
}

// FlipHorizontal mirrors img in place.
func FlipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	width := b.Dx()
	Parallel(b.Dy(), func(start, end int) {
		for y := start; y < end; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+width*4]
			for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
				li, ri := l*4, r*4
				for c := 0; c < 4; c++ {
					row[li+c], row[ri+c] = row[ri+c], row[li+c]
				}
			}
		}
	})
}

// ToCHW writes the RGB channels of img into dst as planar float32 values in [0, 1].
//
// dst must hold at least 3*width*height values.
func ToCHW(img *image.RGBA, dst []float32) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	Parallel(height, func(start, end int) {
		for y := start; y < end; y++ {
			for x := 0; x < width; x++ {
				p := y*img.Stride + x*4
				i := y*width + x
				dst[i] = float32(img.Pix[p]) / 255
				dst[plane+i] = float32(img.Pix[p+1]) / 255
				dst[2*plane+i] = float32(img.Pix[p+2]) / 255
			}
		}
	})
}

// Parallel splits [0, n) into one contiguous range per CPU and runs fn on each.
//
// Small inputs run on the calling goroutine.
func Parallel(n int, fn func(start, end int)) {
	workers := runtime.NumCPU()
	if n < workers*2 {
		fn(0, n)
		return
	}

	part := n / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		start := i * part
		end := start + part
		if i == workers-1 {
			end = n
		}
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

func place(img image.Image, size, w, h, dx, dy int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: PadColor}, image.Point{}, draw.Src)

	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	target := image.Rect(dx, dy, dx+w, dy+h)
	draw.Draw(canvas, target, resized, resized.Bounds().Min, draw.Src)

	return canvas
}

func uniform(rng *rand.Rand, lo, hi float32) float32 {
	return lo + rng.Float32()*(hi-lo)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
