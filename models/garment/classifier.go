// Package garment - Garment category classification.
//
// A Classifier runs a pretrained convolutional backbone through ONNX Runtime and a fine-tuned
// head as a gorgonia graph, then maps the argmax of the 11 logits to a label and its coarse
// garment class.
package garment

import (
	"fmt"
	"image"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/preprocess"
)

// Config locates the classifier's artifacts.
type Config struct {
	Backbone     BackboneConfig `koanf:"backbone"`
	WeightsDir   string         `koanf:"weightsdir"`
	Architecture Architecture   `koanf:"architecture"`
	Freeze       FreezePolicy   `koanf:"freeze"`
}

// DefaultConfig matches the trained ResNet-50 classifier.
func DefaultConfig() Config {
	return Config{
		Backbone: BackboneConfig{
			ModelPath:  "models/resnet50_features.onnx",
			InputName:  "input",
			OutputName: "features",
		},
		WeightsDir:   "models/garment_head",
		Architecture: DefaultArchitecture(),
		Freeze:       DefaultFreezePolicy(),
	}
}

// Validate checks the configuration before anything is loaded.
func (c Config) Validate() error {
	if c.Backbone.ModelPath == "" {
		return errors.New("backbone model path is required")
	}
	if c.Backbone.InputName == "" || c.Backbone.OutputName == "" {
		return errors.New("backbone input and output names are required")
	}
	if c.WeightsDir == "" {
		return errors.New("head weights directory is required")
	}
	if err := c.Freeze.Validate(); err != nil {
		return err
	}
	return c.Architecture.Validate()
}

// Classifier predicts a garment label and class from an image.
type Classifier struct {
	arch         Architecture
	freeze       FreezePolicy
	preprocessor *preprocess.Preprocessor
	backbone     Backbone
	head         *Head
	logger       *zap.Logger
}

// Load opens the backbone session and reads the head weights. Any failure is returned so the
// caller can refuse to start.
//
// Arguments:
//   - config: The artifact locations and architecture.
//   - provider: The runtime library and execution provider for the backbone.
//   - logger: The logger. Nil disables logging.
//
// Returns:
//   - *Classifier: The ready classifier.
//   - error: An error if any artifact fails to load.
func Load(config Config, provider providers.Config, logger *zap.Logger) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid garment classifier config")
	}

	weights, err := LoadHeadWeights(config.WeightsDir, config.Architecture)
	if err != nil {
		return nil, err
	}

	backbone, err := OpenONNXBackbone(config.Backbone, config.Architecture, provider)
	if err != nil {
		return nil, err
	}

	c, err := New(config.Architecture, config.Freeze, backbone, weights, logger)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	return c, nil
}

// New assembles a classifier from a backbone and head weights.
func New(arch Architecture, freeze FreezePolicy, backbone Backbone, weights *HeadWeights, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if err := freeze.Validate(); err != nil {
		return nil, err
	}
	if backbone == nil {
		return nil, errors.New("backbone is required")
	}

	preprocessor, err := preprocess.NewPreprocessor(preprocess.ImageNetConfig(arch.InputSize))
	if err != nil {
		return nil, err
	}

	head, err := NewHead(arch, weights)
	if err != nil {
		return nil, errors.Wrap(err, "error building head")
	}

	logger.Info("garment classifier ready",
		zap.Int("backbone_dim", arch.BackboneDim),
		zap.Ints("head_widths", arch.HeadWidths),
		zap.Int("classes", arch.NumClasses),
		zap.Int("trainable_backbone_tensors", freeze.TrainableBackboneTensors),
	)

	return &Classifier{
		arch:         arch,
		freeze:       freeze,
		preprocessor: preprocessor,
		backbone:     backbone,
		head:         head,
		logger:       logger,
	}, nil
}

// FreezePolicy returns the policy the weights were trained with.
func (c *Classifier) FreezePolicy() FreezePolicy {
	return c.freeze
}

// Predict classifies img.
//
// Returns:
//   - Result: The label and its garment class.
//   - error: *PredictionError for any failure during this call.
func (c *Classifier) Predict(img image.Image) (Result, error) {
	start := time.Now()

	logits, err := c.Logits(img)
	if err != nil {
		return Result{}, err
	}

	index, err := argmax(logits)
	if err != nil {
		return Result{}, &PredictionError{Err: err}
	}
	result, err := ResultForIndex(index)
	if err != nil {
		return Result{}, &PredictionError{Err: err}
	}

	c.logger.Debug("garment prediction completed",
		zap.String("label", result.Label),
		zap.String("garment_class", string(result.Class)),
		zap.Duration("latency", time.Since(start)),
	)
	return result, nil
}

// Logits runs preprocessing, the backbone and the head and returns the raw class scores.
func (c *Classifier) Logits(img image.Image) (logits []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("garment classifier panicked", zap.Any("panic", r), zap.Stack("stack"))
			logits, err = nil, &PredictionError{Err: panicError{value: r}}
		}
	}()

	input, err := c.preprocessor.Transform(img)
	if err != nil {
		return nil, &PredictionError{Err: errors.Wrap(err, "error preprocessing image")}
	}
	return c.LogitsFromTensor(input)
}

// LogitsFromTensor runs the backbone and the head on an already preprocessed tensor.
func (c *Classifier) LogitsFromTensor(t *preprocess.Result) ([]float32, error) {
	want := []int{3, c.arch.InputSize, c.arch.InputSize}
	if t == nil || len(t.Shape) != 3 || t.Shape[0] != want[0] || t.Shape[1] != want[1] || t.Shape[2] != want[2] || len(t.Data) != 3*want[1]*want[2] {
		return nil, &PredictionError{Err: fmt.Errorf("input tensor must have shape %v", want)}
	}

	features, err := c.backbone.Features(t.Data)
	if err != nil {
		c.logger.Error("backbone failed", zap.Error(err))
		return nil, &PredictionError{Err: errors.Wrap(err, "error running backbone")}
	}

	logits, err := c.head.Forward(features)
	if err != nil {
		c.logger.Error("head failed", zap.Error(err))
		return nil, &PredictionError{Err: err}
	}
	return logits, nil
}

// Stats returns the backbone session counters when it runs on ONNX Runtime.
func (c *Classifier) Stats() (providers.Stats, bool) {
	if b, ok := c.backbone.(*ONNXBackbone); ok {
		return b.Stats()
	}
	return providers.Stats{}, false
}

// Close releases the head and the backbone.
func (c *Classifier) Close() error {
	herr := c.head.Close()
	berr := c.backbone.Close()
	if herr != nil {
		return herr
	}
	return berr
}

// argmax returns the index of the largest logit. Ties resolve to the lowest index.
func argmax(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, errors.New("no logits")
	}
	best := 0
	for i, v := range logits {
		if math32.IsNaN(v) {
			return 0, fmt.Errorf("logit %d is NaN", i)
		}
		if v > logits[best] {
			best = i
		}
	}
	return best, nil
}
