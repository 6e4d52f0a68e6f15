package providers

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// TensorSpec names a model input or output and fixes its shape.
type TensorSpec struct {
	Name  string
	Shape []int64
}

// Elements returns the number of float32 values the tensor holds.
func (t TensorSpec) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Validate rejects specs without a name or with non-positive dimensions.
func (t TensorSpec) Validate() error {
	if t.Name == "" {
		return errors.New("tensor name is required")
	}
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor %q has no shape", t.Name)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor %q has invalid shape %v", t.Name, t.Shape)
		}
	}
	return nil
}

// SessionArgs represents the arguments for creating a new session.
type SessionArgs struct {
	// Name identifies the session in logs and stats.
	Name string
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// Inputs of the model, in binding order.
	Inputs []TensorSpec
	// Outputs of the model, in binding order.
	Outputs []TensorSpec
	// Provider selects the library and execution provider.
	Provider Config
}

// Stats summarizes how a session has been used.
type Stats struct {
	Name         string        `json:"name"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	LastLatency  time.Duration `json:"last_latency_ns"`
}

// AverageLatency returns the mean latency of successful and failed runs.
func (s Stats) AverageLatency() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Runs)
}

// Session wraps an ONNX Runtime AdvancedSession with its preallocated tensors.
//
// The bound tensors make the native session non-reentrant, so Run serializes callers behind a
// mutex. Inputs are copied in and outputs copied out; callers never see the bound buffers.
type Session struct {
	name    string
	mu      sync.Mutex
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	specs   []TensorSpec
	outs    []TensorSpec
	stats   Stats
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Environment setup: loads the shared library once per process.
//  2. Tensor allocation: fixed-shape buffers for input/output data.
//  3. Session options: threading, optimization level and execution provider.
//  4. Session creation: loads the model and binds the tensors.
//
// Arguments:
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session, ready for Run.
//   - error: An error if any step fails. Partially created native resources are released.
func NewSession(args SessionArgs) (*Session, error) {
	if args.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if len(args.Inputs) == 0 || len(args.Outputs) == 0 {
		return nil, errors.New("at least one input and one output are required")
	}
	for _, spec := range append(append([]TensorSpec{}, args.Inputs...), args.Outputs...) {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	if err := InitEnvironment(args.Provider.SharedLibrary()); err != nil {
		return nil, err
	}

	s := &Session{
		name:  args.Name,
		specs: args.Inputs,
		outs:  args.Outputs,
		stats: Stats{Name: args.Name},
	}

	inputValues := make([]ort.ArbitraryTensor, 0, len(args.Inputs))
	for _, spec := range args.Inputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "error creating input tensor %s", spec.Name)
		}
		s.inputs = append(s.inputs, t)
		inputValues = append(inputValues, t)
	}

	outputValues := make([]ort.ArbitraryTensor, 0, len(args.Outputs))
	for _, spec := range args.Outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.Shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "error creating output tensor %s", spec.Name)
		}
		s.outputs = append(s.outputs, t)
		outputValues = append(outputValues, t)
	}

	options, err := args.Provider.SessionOptions()
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		names(args.Inputs),
		names(args.Outputs),
		inputValues,
		outputValues,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "error creating ORT session for %s", args.ModelPath)
	}
	s.session = session

	return s, nil
}

func names(specs []TensorSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// Name returns the session's name.
func (s *Session) Name() string {
	return s.name
}

// Run copies the inputs into the bound tensors, executes the model and returns copies of every
// output in binding order.
//
// Arguments:
//   - inputs: One flat slice per input, each exactly as long as its TensorSpec requires.
//
// Returns:
//   - [][]float32: One freshly allocated slice per output.
//   - error: An error on input mismatch, a closed session or a runtime failure.
func (s *Session) Run(inputs ...[]float32) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	if err := checkInputs(s.specs, inputs); err != nil {
		return nil, err
	}

	for i, in := range inputs {
		copy(s.inputs[i].GetData(), in)
	}

	start := time.Now()
	err := s.session.Run()
	s.record(time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "error running session %s", s.name)
	}

	results := make([][]float32, len(s.outputs))
	for i, out := range s.outputs {
		results[i] = append([]float32(nil), out.GetData()...)
	}
	return results, nil
}

// checkInputs verifies the number and length of the inputs against their specs.
func checkInputs(specs []TensorSpec, inputs [][]float32) error {
	if len(inputs) != len(specs) {
		return fmt.Errorf("expected %d inputs, got %d", len(specs), len(inputs))
	}
	for i, in := range inputs {
		if want := specs[i].Elements(); len(in) != want {
			return fmt.Errorf("input %s: expected %d values for shape %v, got %d", specs[i].Name, want, specs[i].Shape, len(in))
		}
	}
	return nil
}

// record updates the counters. Callers hold s.mu.
func (s *Session) record(latency time.Duration, err error) {
	s.stats.Runs++
	s.stats.TotalLatency += latency
	s.stats.LastLatency = latency
	if err != nil {
		s.stats.Failures++
	}
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OutputSpecs returns the output specs in binding order.
func (s *Session) OutputSpecs() []TensorSpec {
	return append([]TensorSpec(nil), s.outs...)
}

// Close releases the native session and tensors. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		if derr := s.session.Destroy(); derr != nil {
			err = errors.Wrap(derr, "error destroying ORT session")
		}
		s.session = nil
	}
	for _, t := range s.inputs {
		t.Destroy()
	}
	s.inputs = nil
	for _, t := range s.outputs {
		t.Destroy()
	}
	s.outputs = nil
	return err
}
