package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-wardrobe/images"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/models/pose"
)

// Kind tags an error with the stage that produced it.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	// KindDecode is a malformed or unreadable image. The client is at fault.
	KindDecode
	// KindUnavailable is a model that failed to load. The operator is at fault.
	KindUnavailable
	// KindEstimation is a failed pose estimation call.
	KindEstimation
	// KindPrediction is a failed garment prediction call.
	KindPrediction
	// KindInternal is anything else.
	KindInternal
)

var kindNames = map[Kind]string{
	KindNone:        "none",
	KindDecode:      "decode",
	KindUnavailable: "unavailable",
	KindEstimation:  "estimation",
	KindPrediction:  "prediction",
	KindInternal:    "internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// detailer is implemented by every typed error of the pipeline.
type detailer interface {
	Detail() string
}

// Classify returns the Kind of err.
func Classify(err error) Kind {
	var (
		decodeErr      *images.DecodeError
		unavailableErr *pose.UnavailableError
		estimationErr  *pose.EstimationError
		predictionErr  *garment.PredictionError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &unavailableErr):
		return KindUnavailable
	case errors.As(err, &estimationErr):
		return KindEstimation
	case errors.As(err, &predictionErr):
		return KindPrediction
	default:
		return KindInternal
	}
}

// Message returns the short user-facing summary for a Kind.
func (k Kind) Message() string {
	switch k {
	case KindDecode:
		return "Error decoding image"
	case KindUnavailable:
		return "Model unavailable"
	case KindEstimation:
		return "Error during pose estimation"
	case KindPrediction:
		return "Error during garment prediction"
	case KindNone:
		return ""
	default:
		return "Internal error"
	}
}

// Detail returns the human-readable cause carried by err.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var d detailer
	if errors.As(err, &d) {
		return d.Detail()
	}
	return err.Error()
}
