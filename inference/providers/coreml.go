package providers

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// CPUOnly limits CoreML to the CPU.
	CPUOnly bool `koanf:"cpuonly"`
	// EnableOnSubgraphs lets CoreML run subgraphs inside control flow operators.
	EnableOnSubgraphs bool `koanf:"enableonsubgraphs"`
	// ANEOnly restricts CoreML to devices with an Apple Neural Engine.
	ANEOnly bool `koanf:"aneonly"`
}

// CoreML flag bits as defined by coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly          uint32 = 0x001
	coreMLFlagEnableOnSubgraph    uint32 = 0x002
	coreMLFlagOnlyEnableDeviceANE uint32 = 0x004
)

// Flags packs the options into the bit set expected by the CoreML provider factory.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= coreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraphs {
		flags |= coreMLFlagEnableOnSubgraph
	}
	if o.ANEOnly {
		flags |= coreMLFlagOnlyEnableDeviceANE
	}
	return flags
}
