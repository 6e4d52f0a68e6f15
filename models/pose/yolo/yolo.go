// Package yolo - YOLO-pose ONNX backend for the pose estimator.
package yolo

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/models/pose"
	"github.com/nvr-ai/go-wardrobe/models/postprocess"
)

// Config describes the exported YOLO-pose model.
type Config struct {
	// ModelPath is the path to the ONNX export.
	ModelPath string `koanf:"modelpath"`
	// InputSize is the square input resolution.
	InputSize int `koanf:"inputsize"`
	// NumKeypoints is the number of joints per person.
	NumKeypoints int `koanf:"numkeypoints"`
	// Anchors is the number of candidate columns in the output tensor.
	Anchors int `koanf:"anchors"`
	// ConfidenceThreshold drops weaker person candidates.
	ConfidenceThreshold float32 `koanf:"confidencethreshold"`
	// KeypointThreshold reports joints with a lower confidence at (0, 0).
	KeypointThreshold float32 `koanf:"keypointthreshold"`
	// IoUThreshold is the NMS overlap limit.
	IoUThreshold float32 `koanf:"iouthreshold"`
	// InputName is the graph's input node.
	InputName string `koanf:"inputname"`
	// OutputName is the graph's output node.
	OutputName string `koanf:"outputname"`
}

// DefaultConfig matches a 640×640 COCO-17 export such as yolo11s-pose.
func DefaultConfig() Config {
	return Config{
		ModelPath:           "models/yolo11s-pose.onnx",
		InputSize:           640,
		NumKeypoints:        len(pose.JointNames),
		Anchors:             8400,
		ConfidenceThreshold: 0.25,
		KeypointThreshold:   0.5,
		IoUThreshold:        0.45,
		InputName:           "images",
		OutputName:          "output0",
	}
}

// Validate checks the configuration for values the model cannot run with.
func (c Config) Validate() error {
	switch {
	case c.ModelPath == "":
		return errors.New("pose model path is required")
	case c.InputSize <= 0 || c.InputSize%32 != 0:
		return fmt.Errorf("pose input size must be a positive multiple of 32, got %d", c.InputSize)
	case c.NumKeypoints <= 0:
		return fmt.Errorf("invalid keypoint count %d", c.NumKeypoints)
	case c.Anchors <= 0:
		return fmt.Errorf("invalid anchor count %d", c.Anchors)
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence threshold %f out of [0,1]", c.ConfidenceThreshold)
	case c.KeypointThreshold < 0 || c.KeypointThreshold > 1:
		return fmt.Errorf("keypoint threshold %f out of [0,1]", c.KeypointThreshold)
	case c.IoUThreshold <= 0 || c.IoUThreshold > 1:
		return fmt.Errorf("iou threshold %f out of (0,1]", c.IoUThreshold)
	}
	return nil
}

func (c Config) postprocess() postprocess.PoseConfig {
	return postprocess.PoseConfig{
		NumKeypoints:        c.NumKeypoints,
		ConfidenceThreshold: c.ConfidenceThreshold,
		KeypointThreshold:   c.KeypointThreshold,
		NMS:                 postprocess.NMSConfig{IoUThreshold: c.IoUThreshold},
	}
}

// Runner executes a forward pass. *providers.Session satisfies it.
type Runner interface {
	Run(inputs ...[]float32) ([][]float32, error)
	Close() error
}

// Model runs YOLO-pose through ONNX Runtime.
type Model struct {
	config Config
	runner Runner
}

// NewModel opens an ONNX session for the pose export.
//
// Arguments:
//   - config: The model description.
//   - provider: The runtime library and execution provider.
//
// Returns:
//   - *Model: The loaded model.
//   - error: An error if the configuration is invalid or the session cannot be created.
func NewModel(config Config, provider providers.Config) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	size := int64(config.InputSize)
	session, err := providers.NewSession(providers.SessionArgs{
		Name:      "pose",
		ModelPath: config.ModelPath,
		Inputs:    []providers.TensorSpec{{Name: config.InputName, Shape: []int64{1, 3, size, size}}},
		Outputs: []providers.TensorSpec{{
			Name:  config.OutputName,
			Shape: []int64{1, int64(config.postprocess().Channels()), int64(config.Anchors)},
		}},
		Provider: provider,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error loading pose model")
	}
	return NewModelWithRunner(config, session), nil
}

// NewModelWithRunner builds a model around an existing runner.
func NewModelWithRunner(config Config, runner Runner) *Model {
	return &Model{config: config, runner: runner}
}

// Stats returns the session counters when the runner is an ONNX session.
func (m *Model) Stats() (providers.Stats, bool) {
	if s, ok := m.runner.(*providers.Session); ok {
		return s.Stats(), true
	}
	return providers.Stats{}, false
}

// Estimate letterboxes img, runs the model and decodes one KeypointSet per person in the
// original image's coordinates.
func (m *Model) Estimate(img image.Image) ([]pose.KeypointSet, error) {
	blob, box, err := m.preprocess(img)
	if err != nil {
		return nil, err
	}

	outputs, err := m.runner.Run(blob)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.New("pose model returned no outputs")
	}

	results, err := postprocess.DecodePose(outputs[0], m.config.postprocess(), box)
	if err != nil {
		return nil, err
	}

	sets := make([]pose.KeypointSet, 0, len(results))
	for _, r := range results {
		set := make(pose.KeypointSet, len(r.Keypoints))
		for i, p := range r.Keypoints {
			set[i] = pose.Keypoint{X: p.X, Y: p.Y}
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// preprocess fits img into the square input with gray padding and returns an RGB NCHW blob
// scaled to [0,1].
func (m *Model) preprocess(img image.Image) ([]float32, postprocess.Letterbox, error) {
	bounds := img.Bounds()
	size := m.config.InputSize
	box := postprocess.NewLetterbox(bounds.Dx(), bounds.Dy(), size)

	// The Mat is BGR; swapRB on the blob restores RGB.
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, box, errors.Wrap(err, "error converting image to mat")
	}
	defer mat.Close()

	newW, newH := box.ScaledSize()
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)
	if resized.Empty() {
		return nil, box, errors.New("error resizing image")
	}

	top, left := int(box.PadTop), int(box.PadLeft)
	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(resized, &padded,
		top, size-newH-top, left, size-newW-left,
		gocv.BorderConstant, color.RGBA{R: 114, G: 114, B: 114, A: 0})
	if padded.Empty() {
		return nil, box, errors.New("error padding image")
	}

	blob := gocv.BlobFromImage(padded, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, box, errors.Wrap(err, "error reading blob")
	}
	if len(data) != 3*size*size {
		return nil, box, fmt.Errorf("blob has %d values, expected %d", len(data), 3*size*size)
	}
	return append([]float32(nil), data...), box, nil
}

// Close releases the session.
func (m *Model) Close() error {
	return m.runner.Close()
}
