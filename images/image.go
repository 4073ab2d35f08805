// Package images - Image decoding and the geometric transforms used to build training batches.
package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// Image represents a decoded image together with its source format.
type Image struct {
	// The path the image was read from.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The decoded pixels.
	Pixels image.Image `json:"-" yaml:"-"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Load reads and decodes the image at path.
//
// The format is sniffed from the content, not the file extension.
//
// Arguments:
//   - path: The image file path.
//
// Returns:
//   - *Image: The decoded image.
//   - error: An error if the file cannot be read, is not a supported format, or fails to decode.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return Decode(path, data)
}

// Decode decodes an encoded image held in memory.
//
// Arguments:
//   - path: The path recorded on the returned image, used for error messages.
//   - data: The encoded image bytes.
//
// Returns:
//   - *Image: The decoded image.
//   - error: An error if the content is not a supported format or fails to decode.
func Decode(path string, data []byte) (*Image, error) {
	format, ok := DetectFormat(data)
	if !ok {
		return nil, fmt.Errorf("unsupported image format: %s", path)
	}

	pixels, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image %s: %w", format, path, err)
	}

	bounds := pixels.Bounds()
	return &Image{
		Path:   path,
		Format: format,
		Pixels: pixels,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
