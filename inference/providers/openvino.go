package providers

import "fmt"

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU) at runtime.
	DeviceType string `koanf:"devicetype"`
	// Inference precision: FP32, FP16 or ACCURACY.
	Precision string `koanf:"precision"`
	// Overrides the accelerator default number of threads. Zero leaves the default.
	NumOfThreads int `koanf:"numofthreads"`
	// Rewrites dynamic shaped models to static shape at runtime.
	DisableDynamicShapes bool `koanf:"disabledynamicshapes"`
}

// Map renders the options with the key names the OpenVINO provider expects.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	if o.DisableDynamicShapes {
		m["disable_dynamic_shapes"] = "true"
	}
	return m
}
