package pose

import (
	"image"
	"sync/atomic"
)

// StaticModel is a Model that returns canned results. It counts calls so tests can assert
// whether the model was reached.
type StaticModel struct {
	// Sets is returned on every call.
	Sets []KeypointSet
	// Err, when set, is returned instead of Sets.
	Err error
	// Panic, when set, is raised by Estimate.
	Panic any

	calls  atomic.Int64
	closed atomic.Bool
}

// Estimate returns the canned result.
func (m *StaticModel) Estimate(image.Image) ([]KeypointSet, error) {
	m.calls.Add(1)
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Sets, nil
}

// Close marks the model closed.
func (m *StaticModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Calls returns how many times Estimate ran.
func (m *StaticModel) Calls() int64 {
	return m.calls.Load()
}

// Closed reports whether Close was called.
func (m *StaticModel) Closed() bool {
	return m.closed.Load()
}
