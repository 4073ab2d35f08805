package images

import "github.com/gabriel-vasile/mimetype"

// ImageFormat represents supported image formats
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatBMP  ImageFormat = "bmp"
	FormatWebP ImageFormat = "webp"
)

var mimeFormats = map[string]ImageFormat{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/bmp":  FormatBMP,
	"image/webp": FormatWebP,
}

// DetectFormat sniffs the content of an encoded image.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - ImageFormat: The detected format.
//   - bool: False when the content is not one of the supported formats.
func DetectFormat(data []byte) (ImageFormat, bool) {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if format, ok := mimeFormats[m.String()]; ok {
			return format, true
		}
	}
	return "", false
}
