package garment

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Head is the projection, the four blocks and the classifier compiled into one graph.
//
// The tape machine binds the input node, so Forward serializes callers. Parameter nodes hold
// their values from construction and are never written afterwards.
type Head struct {
	mu     sync.Mutex
	arch   Architecture
	graph  *G.ExprGraph
	input  *G.Node
	logits *G.Node
	vm     G.VM
}

// NewHead builds the head graph.
//
// Arguments:
//   - arch: The layer sizes.
//   - weights: The parameters, already validated against arch.
//
// Returns:
//   - *Head: The compiled head.
//   - error: An error if the graph cannot be built.
func NewHead(arch Architecture, weights *HeadWeights) (*Head, error) {
	if weights == nil {
		return nil, errors.New("head weights are required")
	}
	if len(weights.Blocks) != len(arch.HeadWidths) {
		return nil, fmt.Errorf("weights have %d blocks, architecture has %d", len(weights.Blocks), len(arch.HeadWidths))
	}

	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float32, G.WithShape(1, arch.BackboneDim), G.WithName("features"))

	x, err := linear(g, input, weights.Projection, "projection")
	if err != nil {
		return nil, err
	}
	for i, block := range weights.Blocks {
		if x, err = headBlock(g, x, block, fmt.Sprintf("head.%d", i)); err != nil {
			return nil, err
		}
	}
	logits, err := linear(g, x, weights.Classifier, "classifier")
	if err != nil {
		return nil, err
	}

	return &Head{
		arch:   arch,
		graph:  g,
		input:  input,
		logits: logits,
		vm:     G.NewTapeMachine(g),
	}, nil
}

// linear adds x·W + b.
func linear(g *G.ExprGraph, x *G.Node, l Linear, name string) (*G.Node, error) {
	w := G.NewMatrix(g, tensor.Float32, G.WithShape(l.Weight.Shape()...), G.WithValue(l.Weight), G.WithName(name+".weight"))
	b := G.NewMatrix(g, tensor.Float32, G.WithShape(l.Bias.Shape()...), G.WithValue(l.Bias), G.WithName(name+".bias"))

	xw, err := G.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: matmul", name)
	}
	out, err := G.Add(xw, b)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: bias", name)
	}
	return out, nil
}

// headBlock adds linear → batchnorm → ReLU. Dropout is the identity at inference.
func headBlock(g *G.ExprGraph, x *G.Node, b Block, name string) (*G.Node, error) {
	h, err := linear(g, x, b.Linear, name+".linear")
	if err != nil {
		return nil, err
	}

	scale := G.NewMatrix(g, tensor.Float32, G.WithShape(b.Norm.Scale.Shape()...), G.WithValue(b.Norm.Scale), G.WithName(name+".bn.scale"))
	shift := G.NewMatrix(g, tensor.Float32, G.WithShape(b.Norm.Shift.Shape()...), G.WithValue(b.Norm.Shift), G.WithName(name+".bn.shift"))
	if h, err = G.HadamardProd(h, scale); err != nil {
		return nil, errors.Wrapf(err, "%s: batchnorm scale", name)
	}
	if h, err = G.Add(h, shift); err != nil {
		return nil, errors.Wrapf(err, "%s: batchnorm shift", name)
	}

	if h, err = G.Rectify(h); err != nil {
		return nil, errors.Wrapf(err, "%s: relu", name)
	}
	return h, nil
}

// Forward maps one backbone feature vector to the class logits.
//
// Arguments:
//   - features: BackboneDim values.
//
// Returns:
//   - []float32: NumClasses logits, owned by the caller.
//   - error: An error on a length mismatch or a graph failure.
func (h *Head) Forward(features []float32) ([]float32, error) {
	if len(features) != h.arch.BackboneDim {
		return nil, fmt.Errorf("expected %d backbone features, got %d", h.arch.BackboneDim, len(features))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.vm == nil {
		return nil, errors.New("head is closed")
	}
	defer h.vm.Reset()

	in := tensor.New(tensor.WithShape(1, h.arch.BackboneDim), tensor.WithBacking(append([]float32(nil), features...)))
	if err := G.Let(h.input, in); err != nil {
		return nil, errors.Wrap(err, "error binding features")
	}
	if err := h.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "error running head")
	}

	value := h.logits.Value()
	if value == nil {
		return nil, errors.New("head produced no logits")
	}
	data, ok := value.Data().([]float32)
	if !ok || len(data) != h.arch.NumClasses {
		return nil, fmt.Errorf("head produced %v, expected %d logits", value.Shape(), h.arch.NumClasses)
	}
	return append([]float32(nil), data...), nil
}

// Close releases the tape machine.
func (h *Head) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.vm == nil {
		return nil
	}
	err := h.vm.Close()
	h.vm = nil
	return err
}
