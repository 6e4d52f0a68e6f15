package providers

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Config selects the ONNX Runtime library and how sessions execute.
type Config struct {
	// Backend is the execution provider name: cpu, cuda, coreml or openvino.
	Backend string `koanf:"backend"`
	// LibraryPath points at the onnxruntime shared library. Empty selects SharedLibPath().
	LibraryPath string `koanf:"librarypath"`
	// GraphOptimization is one of disable, basic, extended or all.
	GraphOptimization string `koanf:"graphoptimization"`
	// ParallelExecution runs independent graph nodes concurrently.
	ParallelExecution bool `koanf:"parallelexecution"`
	// IntraOpThreads sets threads for parallelizing ops. Zero lets the runtime decide.
	IntraOpThreads int `koanf:"intraopthreads"`
	// InterOpThreads sets threads for parallelizing independent ops. Zero lets the runtime decide.
	InterOpThreads int `koanf:"interopthreads"`

	CUDA     CUDAOptions     `koanf:"cuda"`
	CoreML   CoreMLOptions   `koanf:"coreml"`
	OpenVINO OpenVINOOptions `koanf:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimizations.
//
// Returns:
//   - Config: The default configuration.
//
// @example
// config := DefaultConfig()
// config.Backend = "cuda"
// options, err := config.SessionOptions()
func DefaultConfig() Config {
	return Config{
		Backend:           string(CPUProviderBackend),
		GraphOptimization: "extended",
		IntraOpThreads:    maxInt(1, runtime.NumCPU()/2),
		InterOpThreads:    1,
	}
}

// Validate checks that the backend and optimization level are known.
func (c Config) Validate() error {
	if _, err := ParseBackend(c.Backend); err != nil {
		return err
	}
	if _, err := parseGraphOptimization(c.GraphOptimization); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got intra=%d inter=%d", c.IntraOpThreads, c.InterOpThreads)
	}
	return nil
}

// SharedLibrary returns the configured library path, falling back to the platform default.
func (c Config) SharedLibrary() string {
	if c.LibraryPath != "" {
		return c.LibraryPath
	}
	return SharedLibPath()
}

func parseGraphOptimization(s string) (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(s) {
	case "disable", "none":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unknown graph optimization level: %s", s)
	}
}

// SessionOptions builds native session options with threading, optimization level and the
// selected execution provider applied.
//
// The caller must Destroy the returned options after the session has been created.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: Configuration error if any.
//
// @example
// options, err := DefaultConfig().SessionOptions()
//
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// defer options.Destroy()
func (c Config) SessionOptions() (*ort.SessionOptions, error) {
	backend, err := ParseBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	level, err := parseGraphOptimization(c.GraphOptimization)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	var mode ort.ExecutionMode = ort.ExecutionModeSequential
	if c.ParallelExecution {
		mode = ort.ExecutionModeParallel
	}

	apply := []struct {
		what string
		fn   func() error
	}{
		{"graph optimization level", func() error { return options.SetGraphOptimizationLevel(level) }},
		{"execution mode", func() error { return options.SetExecutionMode(mode) }},
		{"intra-op threads", func() error { return options.SetIntraOpNumThreads(c.IntraOpThreads) }},
		{"inter-op threads", func() error { return options.SetInterOpNumThreads(c.InterOpThreads) }},
		{"execution provider " + string(backend), func() error { return c.appendProvider(options, backend) }},
	}
	for _, step := range apply {
		if err := step.fn(); err != nil {
			options.Destroy()
			return nil, errors.Wrapf(err, "error setting %s", step.what)
		}
	}

	return options, nil
}

// appendProvider enables the selected execution provider on the options.
func (c Config) appendProvider(options *ort.SessionOptions, backend ProviderBackend) error {
	switch backend {
	case CUDAProviderBackend:
		cuda, err := c.CUDA.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		defer cuda.Destroy()
		return options.AppendExecutionProviderCUDA(cuda)
	case CoreMLProviderBackend:
		return options.AppendExecutionProviderCoreML(c.CoreML.Flags())
	case OpenVINOProviderBackend:
		return options.AppendExecutionProviderOpenVINO(c.OpenVINO.Map())
	default:
		// The CPU provider is always registered.
		return nil
	}
}

// maxInt returns the maximum of two integers
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
