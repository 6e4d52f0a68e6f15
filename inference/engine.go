// Package inference - The inference engine shared by the HTTP service and the CLI.
package inference

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-wardrobe/images"
	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/models"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/models/pose"
)

// PoseEstimator is the pose capability the engine needs.
type PoseEstimator interface {
	Estimate(img image.Image) ([]pose.KeypointSet, error)
	CheckAvailable() error
	Close() error
}

// GarmentClassifier is the classification capability the engine needs.
type GarmentClassifier interface {
	Predict(img image.Image) (garment.Result, error)
	Close() error
}

// statser is implemented by components backed by an ONNX session.
type statser interface {
	Stats() (providers.Stats, bool)
}

// Engine owns the loaded models for the life of the process. It is safe for concurrent use.
type Engine struct {
	pose       PoseEstimator
	classifier GarmentClassifier
	decoder    images.Decoder
	sessions   []statser
	logger     *zap.Logger
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	logger     *zap.Logger
	provider   providers.Config
	pose       PoseEstimator
	classifier GarmentClassifier
	decoder    images.Decoder
	sessions   []statser
	err        error
}

// NewEngineBuilder creates a new engine builder.
//
// Arguments:
//   - logger: The logger shared by every component. Nil disables logging.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder(logger *zap.Logger) *EngineBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineBuilder{
		logger:   logger,
		provider: providers.DefaultConfig(),
		decoder:  images.Decoder{MaxPixels: images.DefaultMaxPixels},
	}
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// WithProvider sets the runtime used by models loaded afterwards.
func (b *EngineBuilder) WithProvider(config providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := config.Validate(); err != nil {
		b.err = errors.Wrap(err, "invalid runtime config")
		return b
	}
	b.provider = config
	return b
}

// WithDecoder overrides the image decoder limits.
func (b *EngineBuilder) WithDecoder(decoder images.Decoder) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.decoder = decoder
	return b
}

// WithPoseModel loads a pose backend. A load failure does not fail the build: the engine
// reports the pose capability as unavailable on every call instead.
func (b *EngineBuilder) WithPoseModel(args models.PoseArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	args.Provider = b.provider
	estimator := pose.Open(func() (pose.Model, error) {
		m, err := models.NewPoseModel(args)
		if err == nil {
			if s, ok := m.(statser); ok {
				b.sessions = append(b.sessions, s)
			}
		}
		return m, err
	}, b.logger.Named("pose"))
	b.pose = estimator
	return b
}

// WithPoseEstimator sets an already constructed pose estimator.
func (b *EngineBuilder) WithPoseEstimator(estimator PoseEstimator) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.pose = estimator
	return b
}

// WithGarmentClassifier loads the classifier. A load failure fails the build.
func (b *EngineBuilder) WithGarmentClassifier(config garment.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	c, err := garment.Load(config, b.provider, b.logger.Named("garment"))
	if err != nil {
		b.err = errors.Wrap(err, "error loading garment classifier")
		return b
	}
	b.classifier = c
	b.sessions = append(b.sessions, c)
	return b
}

// WithClassifier sets an already constructed classifier.
func (b *EngineBuilder) WithClassifier(classifier GarmentClassifier) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.classifier = classifier
	if s, ok := classifier.(statser); ok {
		b.sessions = append(b.sessions, s)
	}
	return b
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The first error recorded by the builder, or a missing classifier.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		b.closeLoaded()
		return nil, b.err
	}
	if b.classifier == nil {
		b.closeLoaded()
		return nil, errors.New("garment classifier not configured")
	}
	if b.pose == nil {
		b.pose = pose.NewEstimator(nil, errors.New("pose model not configured"), b.logger.Named("pose"))
	}

	return &Engine{
		pose:       b.pose,
		classifier: b.classifier,
		decoder:    b.decoder,
		sessions:   b.sessions,
		logger:     b.logger,
	}, nil
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// closeLoaded releases whatever the builder loaded before failing.
func (b *EngineBuilder) closeLoaded() {
	if b.pose != nil {
		b.pose.Close()
	}
	if b.classifier != nil {
		b.classifier.Close()
	}
}

// PoseAvailable reports whether the pose model loaded.
func (e *Engine) PoseAvailable() bool {
	return e.pose.CheckAvailable() == nil
}

// EstimatePose decodes data and returns the keypoints of every person in it. Availability is
// checked before any decoding work.
func (e *Engine) EstimatePose(data []byte) ([]pose.KeypointSet, error) {
	if err := e.pose.CheckAvailable(); err != nil {
		return nil, err
	}
	img, err := e.decoder.Decode(data)
	if err != nil {
		return nil, err
	}
	return e.pose.Estimate(img)
}

// EstimatePoseImage returns the keypoints of every person in an already decoded image.
func (e *Engine) EstimatePoseImage(img image.Image) ([]pose.KeypointSet, error) {
	return e.pose.Estimate(img)
}

// Classify decodes data and classifies the garment in it.
func (e *Engine) Classify(data []byte) (garment.Result, error) {
	img, err := e.decoder.Decode(data)
	if err != nil {
		return garment.Result{}, err
	}
	return e.classifier.Predict(img)
}

// ClassifyImage classifies an already decoded image.
func (e *Engine) ClassifyImage(img image.Image) (garment.Result, error) {
	return e.classifier.Predict(img)
}

// ClassifyFile reads, decodes and classifies an image file.
func (e *Engine) ClassifyFile(path string) (garment.Result, error) {
	img, err := images.DecodeFile(path)
	if err != nil {
		return garment.Result{}, err
	}
	return e.classifier.Predict(img)
}

// Stats returns the counters of every ONNX session the engine owns.
func (e *Engine) Stats() []providers.Stats {
	out := make([]providers.Stats, 0, len(e.sessions))
	for _, s := range e.sessions {
		if st, ok := s.Stats(); ok {
			out = append(out, st)
		}
	}
	return out
}

// Close releases every model.
func (e *Engine) Close() error {
	perr := e.pose.Close()
	cerr := e.classifier.Close()
	if perr != nil {
		return perr
	}
	return cerr
}
