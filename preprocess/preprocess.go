// Package preprocess - Deterministic image-to-tensor transforms for classification models.
package preprocess

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-wardrobe/images"
)

// ImageNetMean is the per-channel mean (RGB, [0,1] scale) the backbone was trained with.
var ImageNetMean = []float32{0.485, 0.456, 0.406}

// ImageNetStd is the per-channel standard deviation (RGB, [0,1] scale).
var ImageNetStd = []float32{0.229, 0.224, 0.225}

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string
	// InputWidth is the expected width of the model input.
	InputWidth int
	// InputHeight is the expected height of the model input.
	InputHeight int
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType
	// MeanValues for standardization, expressed on the [0,1] scale in ColorMode order.
	MeanValues []float32
	// StdValues for standardization, expressed on the [0,1] scale in ColorMode order.
	StdValues []float32
	// ChannelOrder defines the tensor layout (CHW or HWC).
	ChannelOrder ChannelOrder
	// ColorMode defines the channel order of the tensor (RGB or BGR).
	ColorMode ColorMode
	// Filter is the interpolation used for the stretch resize.
	Filter resize.InterpolationFunction
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeStandardize scales to [0, 1] then applies per-channel mean and std.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering.
	ChannelOrderHWC
)

// ColorMode defines the channel order written into the tensor.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
)

// Result contains the preprocessed tensor and metadata.
type Result struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// Shape contains the tensor shape [C, H, W] or [H, W, C].
	Shape []int
	// OriginalWidth is the image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the image height before preprocessing.
	OriginalHeight int
	// ScaleX is the horizontal scaling factor applied.
	ScaleX float64
	// ScaleY is the vertical scaling factor applied.
	ScaleY float64
}

// Dense wraps the tensor data in a gorgonia tensor without copying.
func (r *Result) Dense() *tensor.Dense {
	return tensor.New(tensor.WithShape(r.Shape...), tensor.WithBacking(r.Data))
}

// Finite reports whether every element of the tensor is a finite number.
func (r *Result) Finite() bool {
	for _, v := range r.Data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Checksum returns a hex-encoded MD5 of the tensor's bit patterns.
//
// Two results with the same checksum are bit-identical, which makes it useful for verifying
// that the transform is idempotent.
func (r *Result) Checksum() string {
	hash := md5.New()
	buf := make([]byte, 4)
	for _, v := range r.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		hash.Write(buf)
	}
	return fmt.Sprintf("%x", hash.Sum(nil))
}

// Preprocessor turns decoded images into model-ready tensors.
//
// A Preprocessor holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	config ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: An error if the configuration is inconsistent.
//
// @example
//
//	preprocessor, err := NewPreprocessor(ImageNetConfig(224))
func NewPreprocessor(config ModelConfig) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input size: %dx%d", config.InputWidth, config.InputHeight)
	}
	if config.NormalizationType == NormalizeStandardize {
		if len(config.MeanValues) != 3 || len(config.StdValues) != 3 {
			return nil, errors.New("standardization needs 3 mean and 3 std values")
		}
		for c, std := range config.StdValues {
			if std == 0 {
				return nil, fmt.Errorf("std for channel %d is zero", c)
			}
		}
	}
	return &Preprocessor{config: config}, nil
}

// MustNewPreprocessor is like NewPreprocessor but panics on an invalid configuration.
func MustNewPreprocessor(config ModelConfig) *Preprocessor {
	p, err := NewPreprocessor(config)
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns a copy of the preprocessor configuration.
func (p *Preprocessor) Config() ModelConfig {
	return p.config
}

// Transform performs, in order: stretch resize, scaling to [0,1], per-channel
// standardization and reordering into the configured layout.
//
// Arguments:
//   - img: The decoded input image.
//
// Returns:
//   - *Result: The preprocessed tensor and metadata.
//   - error: An error if img is nil or has zero size.
func (p *Preprocessor) Transform(img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	if o, ok := img.(interface{ Opaque() bool }); !ok || !o.Opaque() {
		img = images.ToRGBA(img)
	}

	resized := resize.Resize(uint(p.config.InputWidth), uint(p.config.InputHeight), img, p.config.Filter)

	data := p.imageToTensor(resized)
	p.normalize(data)

	var shape []int
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int{3, p.config.InputHeight, p.config.InputWidth}
	} else {
		shape = []int{p.config.InputHeight, p.config.InputWidth, 3}
	}

	return &Result{
		Data:           data,
		Shape:          shape,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
		ScaleX:         float64(p.config.InputWidth) / float64(bounds.Dx()),
		ScaleY:         float64(p.config.InputHeight) / float64(bounds.Dy()),
	}, nil
}

// imageToTensor converts an image to raw 0-255 float32 values in the configured layout.
func (p *Preprocessor) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width := p.config.InputWidth
	height := p.config.InputHeight
	plane := width * height
	tensor := make([]float32, plane*3)

	idx := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			var ch0, ch1, ch2 float32
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch1, ch2 = float32(b>>8), float32(g>>8), float32(r>>8)
			} else {
				ch0, ch1, ch2 = float32(r>>8), float32(g>>8), float32(b>>8)
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[y*width+x] = ch0
				tensor[plane+y*width+x] = ch1
				tensor[2*plane+y*width+x] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

// normalize applies normalization to the tensor in place.
func (p *Preprocessor) normalize(tensor []float32) {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		for i := range tensor {
			tensor[i] /= 255.0
		}
	case NormalizeStandardize:
		pixelsPerChannel := len(tensor) / 3
		for c := 0; c < 3; c++ {
			mean := p.config.MeanValues[c]
			std := p.config.StdValues[c]

			if p.config.ChannelOrder == ChannelOrderCHW {
				offset := c * pixelsPerChannel
				for i := 0; i < pixelsPerChannel; i++ {
					tensor[offset+i] = (tensor[offset+i]/255.0 - mean) / std
				}
			} else {
				for i := c; i < len(tensor); i += 3 {
					tensor[i] = (tensor[i]/255.0 - mean) / std
				}
			}
		}
	}
}

// ImageNetConfig returns the classification contract: stretch to size×size, scale to [0,1],
// standardize with ImageNet statistics in RGB order and lay out as CHW.
//
// Arguments:
//   - size: The square input size (224 for the garment backbone).
//
// Returns:
//   - ModelConfig: The configuration.
func ImageNetConfig(size int) ModelConfig {
	return ModelConfig{
		Name:              "imagenet",
		InputWidth:        size,
		InputHeight:       size,
		NormalizationType: NormalizeStandardize,
		MeanValues:        append([]float32(nil), ImageNetMean...),
		StdValues:         append([]float32(nil), ImageNetStd...),
		ChannelOrder:      ChannelOrderCHW,
		ColorMode:         ColorModeRGB,
		Filter:            resize.Bilinear,
	}
}
