package yolo

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/models/pose"
)

// fakeRunner records the blob it receives and returns a canned output.
type fakeRunner struct {
	output []float32
	err    error
	input  []float32
	closed bool
}

func (f *fakeRunner) Run(inputs ...[]float32) ([][]float32, error) {
	f.input = inputs[0]
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.output}, nil
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 64
	cfg.NumKeypoints = 2
	cfg.Anchors = 2
	return cfg
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(*Config){
		"no path":        func(c *Config) { c.ModelPath = "" },
		"odd input size": func(c *Config) { c.InputSize = 100 },
		"no keypoints":   func(c *Config) { c.NumKeypoints = 0 },
		"no anchors":     func(c *Config) { c.Anchors = 0 },
		"confidence":     func(c *Config) { c.ConfidenceThreshold = 1.5 },
		"iou":            func(c *Config) { c.IoUThreshold = 0 },
		"keypoint":       func(c *Config) { c.KeypointThreshold = -0.1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultConfigMatchesCOCO(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 17, cfg.NumKeypoints)
	assert.Equal(t, 56, cfg.postprocess().Channels())
}

func TestEstimateMapsToOriginalCoordinates(t *testing.T) {
	// A 128×64 frame letterboxes into 64×64 at scale 0.5 with 16px top padding.
	out := make([]float32, 11*2)
	set := func(c int, v0, v1 float32) { out[c*2], out[c*2+1] = v0, v1 }
	set(0, 32, 10) // cx
	set(1, 32, 10) // cy
	set(2, 10, 4)  // w
	set(3, 20, 4)  // h
	set(4, 0.8, 0.1)
	set(5, 20, 0) // kp0 x
	set(6, 26, 0) // kp0 y
	set(7, 0.9, 0)
	set(8, 40, 0) // kp1 x
	set(9, 36, 0) // kp1 y
	set(10, 0.9, 0)

	runner := &fakeRunner{output: out}
	model := NewModelWithRunner(smallConfig(), runner)

	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	sets, err := model.Estimate(img)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, pose.KeypointSet{{X: 40, Y: 20}, {X: 80, Y: 40}}, sets[0])
	assert.Len(t, runner.input, 3*64*64)
}

func TestEstimateZeroesOccludedJoints(t *testing.T) {
	out := make([]float32, 11*2)
	set := func(c int, v0, v1 float32) { out[c*2], out[c*2+1] = v0, v1 }
	set(0, 32, 10)
	set(1, 32, 10)
	set(2, 10, 4)
	set(3, 20, 4)
	set(4, 0.8, 0.1)
	set(5, 20, 0)
	set(6, 26, 0)
	set(7, 0.05, 0) // occluded
	set(8, 40, 0)
	set(9, 36, 0)
	set(10, 0.9, 0)

	model := NewModelWithRunner(smallConfig(), &fakeRunner{output: out})
	sets, err := model.Estimate(image.NewRGBA(image.Rect(0, 0, 128, 64)))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, pose.KeypointSet{{X: 0, Y: 0}, {X: 80, Y: 40}}, sets[0])
}

func TestPreprocessPadsWithGrayAndKeepsRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 128; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	model := NewModelWithRunner(smallConfig(), &fakeRunner{})
	blob, box, err := model.preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, float32(16), box.PadTop)

	plane := 64 * 64
	// Top-left pixel lies in the padding.
	assert.InDelta(t, 114.0/255.0, blob[0], 1e-3)
	// Center pixel is red in the R plane only.
	center := 32*64 + 32
	assert.InDelta(t, 1.0, blob[center], 1e-3)
	assert.InDelta(t, 0.0, blob[plane+center], 1e-3)
	assert.InDelta(t, 0.0, blob[2*plane+center], 1e-3)
}

func TestEstimateNoPeople(t *testing.T) {
	model := NewModelWithRunner(smallConfig(), &fakeRunner{output: make([]float32, 22)})
	sets, err := model.Estimate(image.NewRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)
	assert.NotNil(t, sets)
	assert.Empty(t, sets)
}

func TestEstimateRunnerFailure(t *testing.T) {
	model := NewModelWithRunner(smallConfig(), &fakeRunner{err: errors.New("ort failure")})
	_, err := model.Estimate(image.NewRGBA(image.Rect(0, 0, 64, 64)))
	assert.EqualError(t, err, "ort failure")
}

func TestEstimateMalformedOutput(t *testing.T) {
	model := NewModelWithRunner(smallConfig(), &fakeRunner{output: make([]float32, 5)})
	_, err := model.Estimate(image.NewRGBA(image.Rect(0, 0, 64, 64)))
	assert.Error(t, err)
}

func TestModelClose(t *testing.T) {
	runner := &fakeRunner{}
	model := NewModelWithRunner(smallConfig(), runner)
	require.NoError(t, model.Close())
	assert.True(t, runner.closed)

	_, ok := model.Stats()
	assert.False(t, ok)
}

func TestNewModelRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = ""
	_, err := NewModel(cfg, providersConfigForTest())
	assert.Error(t, err)
}

func providersConfigForTest() providers.Config {
	return providers.DefaultConfig()
}
