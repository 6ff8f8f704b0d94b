// Package imaging decodes and encodes uploaded images and draws detection
// overlays on them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dmitrijs2005/lscinspector/internal/common"
)

// Supported formats, as reported by image.Decode.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

const jpegQuality = 90

// Decode parses png or jpeg bytes. Anything else, including a truncated
// image, is a validation error.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", common.Validation("image is empty")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", common.Validation("image cannot be decoded: " + err.Error())
	}
	if format != FormatPNG && format != FormatJPEG {
		return nil, "", common.Validation(fmt.Sprintf("unsupported image format %q", format))
	}
	return img, format, nil
}

// Encode writes img in format.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	default:
		return nil, fmt.Errorf("encode: unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Dimensions formats the size of img as "WxH".
func Dimensions(img image.Image) string {
	b := img.Bounds()
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}
