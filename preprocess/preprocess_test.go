package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wardrobe/images"
)

// uniform builds a single-colored RGBA image.
func uniform(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// gradient builds an image whose channels vary with position.
func gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), uint8((x + y) % 256), 255})
		}
	}
	return img
}

// TestTransformGrayJPEG decodes a uniform mid-gray JPEG and checks every channel lands on
// the standardized value of 128.
func TestTransformGrayJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, uniform(500, 500, color.RGBA{128, 128, 128, 255}), &jpeg.Options{Quality: 100}))

	img, err := images.Decode(buf.Bytes())
	require.NoError(t, err)

	p := MustNewPreprocessor(ImageNetConfig(224))
	res, err := p.Transform(img)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 224, 224}, res.Shape)
	require.Len(t, res.Data, 3*224*224)
	assert.Equal(t, 500, res.OriginalWidth)
	assert.Equal(t, 500, res.OriginalHeight)
	assert.InDelta(t, 224.0/500.0, res.ScaleX, 1e-9)

	plane := 224 * 224
	for c := 0; c < 3; c++ {
		want := (128.0/255.0 - ImageNetMean[c]) / ImageNetStd[c]
		for _, i := range []int{0, plane / 2, plane - 1} {
			assert.InDelta(t, want, res.Data[c*plane+i], 1e-4, "channel %d index %d", c, i)
		}
	}
	assert.True(t, res.Finite())
}

// TestTransformChannelOrder verifies RGB inputs stay in RGB order on the CHW planes.
func TestTransformChannelOrder(t *testing.T) {
	img := uniform(32, 32, color.RGBA{255, 0, 0, 255})
	res, err := MustNewPreprocessor(ImageNetConfig(16)).Transform(img)
	require.NoError(t, err)

	plane := 16 * 16
	assert.InDelta(t, (1-ImageNetMean[0])/ImageNetStd[0], res.Data[0], 1e-5)
	assert.InDelta(t, -ImageNetMean[1]/ImageNetStd[1], res.Data[plane], 1e-5)
	assert.InDelta(t, -ImageNetMean[2]/ImageNetStd[2], res.Data[2*plane], 1e-5)
}

// TestTransformIgnoresAlpha feeds a fully transparent white image straight in and expects the
// stored white, not a composited black.
func TestTransformIgnoresAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 0})
		}
	}

	res, err := MustNewPreprocessor(ImageNetConfig(16)).Transform(img)
	require.NoError(t, err)

	plane := 16 * 16
	for c := 0; c < 3; c++ {
		assert.InDelta(t, (1-ImageNetMean[c])/ImageNetStd[c], res.Data[c*plane+plane/2], 1e-5, "channel %d", c)
	}
}

// TestTransformBGRAndHWC checks the alternative layouts used by OpenCV-trained models.
func TestTransformBGRAndHWC(t *testing.T) {
	cfg := ModelConfig{
		InputWidth:        4,
		InputHeight:       4,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      ChannelOrderHWC,
		ColorMode:         ColorModeBGR,
		Filter:            resize.NearestNeighbor,
	}
	res, err := MustNewPreprocessor(cfg).Transform(uniform(4, 4, color.RGBA{255, 0, 51, 255}))
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4, 3}, res.Shape)
	assert.InDelta(t, 0.2, res.Data[0], 1e-6)
	assert.InDelta(t, 0.0, res.Data[1], 1e-6)
	assert.InDelta(t, 1.0, res.Data[2], 1e-6)
}

// TestTransformDeterministic runs the same image twice and compares bit patterns.
func TestTransformDeterministic(t *testing.T) {
	p := MustNewPreprocessor(ImageNetConfig(224))
	img := gradient(317, 211)

	first, err := p.Transform(img)
	require.NoError(t, err)
	second, err := p.Transform(img)
	require.NoError(t, err)

	assert.Equal(t, first.Checksum(), second.Checksum())
	assert.Equal(t, first.Data, second.Data)
}

// TestTransformSubImage ensures images with a non-zero origin are read from their bounds.
func TestTransformSubImage(t *testing.T) {
	full := uniform(40, 40, color.RGBA{0, 0, 0, 255})
	for y := 20; y < 40; y++ {
		for x := 20; x < 40; x++ {
			full.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	sub := full.SubImage(image.Rect(20, 20, 40, 40))

	res, err := MustNewPreprocessor(ImageNetConfig(8)).Transform(sub)
	require.NoError(t, err)
	assert.InDelta(t, (1-ImageNetMean[0])/ImageNetStd[0], res.Data[0], 1e-5)
	assert.Equal(t, 20, res.OriginalWidth)
}

func TestTransformInvalidInput(t *testing.T) {
	p := MustNewPreprocessor(ImageNetConfig(224))

	_, err := p.Transform(nil)
	assert.Error(t, err)

	_, err = p.Transform(image.NewRGBA(image.Rect(0, 0, 0, 10)))
	assert.Error(t, err)
}

func TestNewPreprocessorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ModelConfig)
	}{
		{"zero width", func(c *ModelConfig) { c.InputWidth = 0 }},
		{"negative height", func(c *ModelConfig) { c.InputHeight = -1 }},
		{"short mean", func(c *ModelConfig) { c.MeanValues = c.MeanValues[:2] }},
		{"zero std", func(c *ModelConfig) { c.StdValues[1] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ImageNetConfig(224)
			tt.mutate(&cfg)
			_, err := NewPreprocessor(cfg)
			assert.Error(t, err)
			assert.Panics(t, func() { MustNewPreprocessor(cfg) })
		})
	}
}

func TestImageNetConfigIsolation(t *testing.T) {
	cfg := ImageNetConfig(224)
	cfg.MeanValues[0] = 99
	assert.InDelta(t, 0.485, ImageNetMean[0], 1e-9)
	assert.Equal(t, 224, ImageNetConfig(224).InputWidth)
}

func TestResultDense(t *testing.T) {
	res, err := MustNewPreprocessor(ImageNetConfig(8)).Transform(gradient(10, 10))
	require.NoError(t, err)

	dense := res.Dense()
	assert.Equal(t, []int{3, 8, 8}, []int(dense.Shape()))
	assert.Equal(t, res.Data, dense.Data().([]float32))
}

func TestResultFinite(t *testing.T) {
	r := &Result{Data: []float32{0, 1, -2}}
	assert.True(t, r.Finite())
	r.Data[1] = float32(1) / float32(zero())
	assert.False(t, r.Finite())
}

func zero() float32 { return 0 }

func BenchmarkTransform(b *testing.B) {
	p := MustNewPreprocessor(ImageNetConfig(224))
	img := gradient(1280, 720)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Transform(img); err != nil {
			b.Fatal(err)
		}
	}
}
