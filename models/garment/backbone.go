package garment

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
)

// Backbone turns a preprocessed (3, size, size) tensor into a pooled feature vector.
type Backbone interface {
	Features(input []float32) ([]float32, error)
	Close() error
}

// Runner executes a forward pass. *providers.Session satisfies it.
type Runner interface {
	Run(inputs ...[]float32) ([][]float32, error)
	Close() error
}

// BackboneConfig names the exported feature extractor and its graph nodes.
type BackboneConfig struct {
	// ModelPath is the ONNX export of the backbone without its final layer.
	ModelPath string `koanf:"modelpath"`
	// InputName is the graph's input node.
	InputName string `koanf:"inputname"`
	// OutputName is the graph's pooled feature output, shaped (1, BackboneDim).
	OutputName string `koanf:"outputname"`
}

// ONNXBackbone runs the feature extractor through ONNX Runtime.
type ONNXBackbone struct {
	runner Runner
	dim    int
}

// OpenONNXBackbone creates a session for the backbone export.
func OpenONNXBackbone(config BackboneConfig, arch Architecture, provider providers.Config) (*ONNXBackbone, error) {
	size := int64(arch.InputSize)
	session, err := providers.NewSession(providers.SessionArgs{
		Name:      "backbone",
		ModelPath: config.ModelPath,
		Inputs:    []providers.TensorSpec{{Name: config.InputName, Shape: []int64{1, 3, size, size}}},
		Outputs:   []providers.TensorSpec{{Name: config.OutputName, Shape: []int64{1, int64(arch.BackboneDim)}}},
		Provider:  provider,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error loading backbone")
	}
	return NewONNXBackbone(session, arch.BackboneDim), nil
}

// NewONNXBackbone wraps an existing runner that yields dim features.
func NewONNXBackbone(runner Runner, dim int) *ONNXBackbone {
	return &ONNXBackbone{runner: runner, dim: dim}
}

// Features runs the backbone on one input tensor.
func (b *ONNXBackbone) Features(input []float32) ([]float32, error) {
	outputs, err := b.runner.Run(input)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 || len(outputs[0]) != b.dim {
		return nil, fmt.Errorf("backbone returned unexpected output, expected %d features", b.dim)
	}
	return outputs[0], nil
}

// Stats returns the session counters when the runner is an ONNX session.
func (b *ONNXBackbone) Stats() (providers.Stats, bool) {
	if s, ok := b.runner.(*providers.Session); ok {
		return s.Stats(), true
	}
	return providers.Stats{}, false
}

// Close releases the session.
func (b *ONNXBackbone) Close() error {
	return b.runner.Close()
}
