// Package images - Image decoding and geometry helpers shared by the inference pipelines.
//
// Every decoded image is returned as a canonical *image.RGBA anchored at the origin. Channel
// order is RGB throughout this module: the classification normalization constants are authored
// for RGB, and the pose backend converts to whatever its runtime expects on its own.
package images

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DefaultMaxPixels bounds the decoded raster size (64 megapixels).
const DefaultMaxPixels = 64 << 20

// DecodeError reports that a buffer could not be turned into an image.
//
// It is always caused by the input and never by a model, so callers can answer it with a
// client error.
type DecodeError struct {
	// Reason is a short description of what was wrong with the input.
	Reason string
	// Err is the underlying decoder error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "image decoding failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "image decoding failed: " + e.Reason
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Detail returns the human readable cause of the failure.
func (e *DecodeError) Detail() string {
	return e.Error()
}

// IsDecodeError reports whether err (or anything it wraps) is a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decoder turns encoded image bytes into canonical RGBA rasters.
type Decoder struct {
	// MaxPixels rejects images whose width*height exceeds it. Zero means DefaultMaxPixels.
	MaxPixels int
}

// Decode decodes data with the default Decoder.
//
// Arguments:
//   - data: The encoded image bytes (JPEG, PNG, GIF, WebP, BMP or TIFF).
//
// Returns:
//   - *image.RGBA: The decoded image with non-zero width and height.
//   - error: A *DecodeError if the buffer is empty, truncated, not an image or zero-sized.
func Decode(data []byte) (*image.RGBA, error) {
	return Decoder{}.Decode(data)
}

// DecodeFile reads the file at path and decodes it.
//
// Arguments:
//   - path: The path of the encoded image on disk.
//
// Returns:
//   - *image.RGBA: The decoded image.
//   - error: A *DecodeError if the file cannot be read or decoded.
func DecodeFile(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Reason: "unable to read " + path, Err: err}
	}
	return Decode(data)
}

// Detect sniffs the container format of data.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - ImageFormat: The detected format.
//   - bool: False when data is not a supported image container.
func Detect(data []byte) (ImageFormat, bool) {
	mime := strings.Split(mimetype.Detect(data).String(), ";")[0]
	format, ok := mimeFormats[mime]
	return format, ok
}

// Decode decodes data into a canonical *image.RGBA.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - *image.RGBA: The decoded image, origin at (0, 0).
//   - error: A *DecodeError describing why the bytes could not be decoded.
func (d Decoder) Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image buffer"}
	}

	if _, ok := Detect(data); !ok {
		return nil, &DecodeError{
			Reason: "unrecognized image container (" + mimetype.Detect(data).String() + ")",
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed image header", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Reason: "image has zero size"}
	}
	limit := d.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width*cfg.Height > limit {
		return nil, &DecodeError{Reason: "image too large"}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "truncated or corrupt image data", Err: err}
	}
	if src == nil || src.Bounds().Empty() {
		return nil, &DecodeError{Reason: "image has zero size"}
	}

	return ToRGBA(src), nil
}

// ToRGBA copies img into a new opaque *image.RGBA whose bounds start at the origin.
//
// Alpha is dropped rather than composited: every pixel keeps its stored (straight) colour and
// becomes fully opaque, so a transparent background reads as the colour saved under it.
//
// Arguments:
//   - img: Any decoded image.
//
// Returns:
//   - *image.RGBA: An opaque RGB copy of img.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			s := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			d := dst.Pix[y*dst.Stride:]
			for x := 0; x < b.Dx(); x++ {
				i := 4 * x
				d[i], d[i+1], d[i+2], d[i+3] = s[i], s[i+1], s[i+2], 0xff
			}
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := straightRGB(img.At(b.Min.X+x, b.Min.Y+y))
			i := dst.PixOffset(x, y)
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = r, g, bl, 0xff
		}
	}
	return dst
}

// straightRGB returns the un-premultiplied 8-bit colour of c.
func straightRGB(c color.Color) (uint8, uint8, uint8) {
	switch v := c.(type) {
	case color.NRGBA:
		return v.R, v.G, v.B
	case color.NRGBA64:
		return uint8(v.R >> 8), uint8(v.G >> 8), uint8(v.B >> 8)
	}
	r, g, b, a := c.RGBA()
	if a == 0 {
		return 0, 0, 0
	}
	if a != 0xffff {
		r, g, b = r*0xffff/a, g*0xffff/a, b*0xffff/a
	}
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
