package garment

import "fmt"

// FreezePolicy decides which backbone parameter tensors were trainable during fine-tuning.
//
// The trailing TrainableBackboneTensors tensors, in state-dict order, receive gradients; the
// rest are frozen. Inference treats every parameter as read-only whatever the policy says.
type FreezePolicy struct {
	TrainableBackboneTensors int `koanf:"trainablebackbonetensors"`
}

// DefaultFreezePolicy leaves the last 60 backbone tensors trainable.
func DefaultFreezePolicy() FreezePolicy {
	return FreezePolicy{TrainableBackboneTensors: 60}
}

// Validate rejects negative counts.
func (p FreezePolicy) Validate() error {
	if p.TrainableBackboneTensors < 0 {
		return fmt.Errorf("trainable backbone tensors must not be negative, got %d", p.TrainableBackboneTensors)
	}
	return nil
}

// Trainable returns, for each tensor name in state-dict order, whether the tensor is trainable.
func (p FreezePolicy) Trainable(names []string) []bool {
	out := make([]bool, len(names))
	start := len(names) - p.TrainableBackboneTensors
	if start < 0 {
		start = 0
	}
	for i := start; i < len(names); i++ {
		out[i] = true
	}
	return out
}

// Frozen returns the names of the tensors that stay frozen.
func (p FreezePolicy) Frozen(names []string) []string {
	var frozen []string
	for i, trainable := range p.Trainable(names) {
		if !trainable {
			frozen = append(frozen, names[i])
		}
	}
	return frozen
}
