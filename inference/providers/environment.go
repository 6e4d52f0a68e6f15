package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu       sync.Mutex
	envLibrary  string
	envInitDone bool
)

// SharedLibPath returns the default path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitEnvironment loads the onnxruntime shared library and initializes the process-wide
// environment. It is safe to call more than once with the same path; later calls are no-ops.
//
// Arguments:
//   - libPath: The path to the onnxruntime shared library.
//
// Returns:
//   - error: An error if the library is missing, a different library was already loaded, or
//     the native environment fails to initialize.
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitDone {
		if libPath != envLibrary {
			return errors.Errorf("ORT environment already initialized with %s", envLibrary)
		}
		return nil
	}

	// Check if the shared library exists before trying to use it.
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}

	envLibrary = libPath
	envInitDone = true
	return nil
}

// DestroyEnvironment tears down the process-wide environment. Every session must be closed
// before it is called.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !envInitDone {
		return nil
	}
	envInitDone = false
	envLibrary = ""
	return ort.DestroyEnvironment()
}
