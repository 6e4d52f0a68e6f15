package pose

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Estimator guards a pose Model with availability and failure isolation.
type Estimator struct {
	model   Model
	loadErr error
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewEstimator wraps the outcome of loading a pose model.
//
// Arguments:
//   - model: The loaded model, or nil if loading failed.
//   - loadErr: The load error, or nil if model is usable.
//   - logger: The logger for per-call diagnostics. Nil disables logging.
//
// Returns:
//   - *Estimator: An estimator that is unavailable when loadErr is set or model is nil.
func NewEstimator(model Model, loadErr error, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loadErr == nil && model == nil {
		loadErr = errors.New("no pose model configured")
	}
	if loadErr != nil {
		logger.Warn("pose model unavailable", zap.Error(loadErr))
	}
	return &Estimator{model: model, loadErr: loadErr, logger: logger}
}

// Open loads a model with the given constructor and wraps the result. A load failure does not
// fail Open: it yields an estimator whose every call reports UnavailableError.
func Open(load func() (Model, error), logger *zap.Logger) *Estimator {
	model, err := load()
	if err != nil {
		model = nil
	}
	return NewEstimator(model, err, logger)
}

// Available reports whether the model loaded.
func (e *Estimator) Available() bool {
	return e.loadErr == nil
}

// CheckAvailable returns an UnavailableError when the model failed to load.
func (e *Estimator) CheckAvailable() error {
	if e.loadErr != nil {
		return &UnavailableError{Err: e.loadErr}
	}
	return nil
}

// Estimate returns the keypoints of every person in img.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - []KeypointSet: One set per detected person. Empty, never nil, when nobody is found.
//   - error: *UnavailableError without touching the model when it failed to load, otherwise
//     *EstimationError for any failure or panic raised by the model during this call.
func (e *Estimator) Estimate(img image.Image) (sets []KeypointSet, err error) {
	if err := e.CheckAvailable(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, &EstimationError{Err: errors.New("empty image")}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pose model panicked", zap.Any("panic", r), zap.Stack("stack"))
			sets, err = nil, &EstimationError{Err: panicError{value: r}}
		}
	}()

	sets, err = e.model.Estimate(img)
	if err != nil {
		e.logger.Error("pose estimation failed", zap.Error(err))
		return nil, &EstimationError{Err: err}
	}
	if sets == nil {
		sets = []KeypointSet{}
	}

	e.logger.Debug("pose estimation completed",
		zap.Int("people", len(sets)),
		zap.Duration("latency", time.Since(start)),
	)
	return sets, nil
}

// Close releases the underlying model once.
func (e *Estimator) Close() error {
	e.closeOnce.Do(func() {
		if e.model != nil {
			e.closeErr = e.model.Close()
		}
	})
	return e.closeErr
}
