package pose

import "fmt"

// UnavailableError reports that the pose model failed to initialize. Every call returns it
// until the process is restarted with a working model.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "pose model unavailable: " + e.Detail()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Detail returns the cause of the load failure.
func (e *UnavailableError) Detail() string {
	if e.Err == nil {
		return "model not loaded"
	}
	return e.Err.Error()
}

// EstimationError reports a failure scoped to a single Estimate call.
type EstimationError struct {
	Err error
}

func (e *EstimationError) Error() string {
	return "pose estimation failed: " + e.Detail()
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

// Detail returns the cause of the failure.
func (e *EstimationError) Detail() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
