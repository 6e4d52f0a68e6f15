package garment

import "fmt"

// PredictionError reports a failure scoped to one classification.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return "garment prediction failed: " + e.Detail()
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// Detail returns the cause of the failure.
func (e *PredictionError) Detail() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
