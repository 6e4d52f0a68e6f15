package garment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Linear holds a fully connected layer laid out for row-vector inputs.
type Linear struct {
	// Weight has shape (in, out).
	Weight *tensor.Dense
	// Bias has shape (1, out).
	Bias *tensor.Dense
}

// BatchNorm holds inference-time batch normalization folded into a per-feature affine:
// y = x*Scale + Shift, where Scale = gamma/sqrt(var+eps) and Shift = beta - mean*Scale.
type BatchNorm struct {
	Scale *tensor.Dense
	Shift *tensor.Dense
}

// Block is one linear → batchnorm → ReLU → dropout stage of the head.
type Block struct {
	Linear Linear
	Norm   BatchNorm
}

// HeadWeights are every parameter after the backbone.
type HeadWeights struct {
	Projection Linear
	Blocks     []Block
	Classifier Linear
}

// StateDictKeys lists the tensor names the head is loaded from, in forward order.
func StateDictKeys(arch Architecture) []string {
	keys := []string{"projection.weight", "projection.bias"}
	for _, b := range arch.blockShapes() {
		keys = append(keys,
			b.name+".linear.weight",
			b.name+".linear.bias",
			b.name+".bn.weight",
			b.name+".bn.bias",
			b.name+".bn.running_mean",
			b.name+".bn.running_var",
		)
	}
	return append(keys, "classifier.weight", "classifier.bias")
}

// LoadHeadWeights reads one float32 .npy file per state-dict key from dir.
//
// Arguments:
//   - dir: The directory holding <key>.npy files.
//   - arch: The architecture the shapes are validated against.
//
// Returns:
//   - *HeadWeights: The parameters with batchnorm folded.
//   - error: An error if a file is missing, unreadable, not float32 or has the wrong shape.
func LoadHeadWeights(dir string, arch Architecture) (*HeadWeights, error) {
	state := make(map[string]*tensor.Dense)
	for _, key := range StateDictKeys(arch) {
		d, err := readNpy(filepath.Join(dir, key+".npy"))
		if err != nil {
			return nil, errors.Wrapf(err, "error loading %s", key)
		}
		state[key] = d
	}
	return HeadWeightsFromStateDict(state, arch)
}

func readNpy(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := new(tensor.Dense)
	if err := d.ReadNpy(f); err != nil {
		return nil, err
	}
	return d, nil
}

// HeadWeightsFromStateDict converts PyTorch-layout tensors into head parameters.
//
// Linear weights arrive as (out, in) and are transposed; vectors arrive as (out).
func HeadWeightsFromStateDict(state map[string]*tensor.Dense, arch Architecture) (*HeadWeights, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	w := &HeadWeights{}
	var err error
	if w.Projection, err = linearFrom(state, "projection", arch.projectionShape()); err != nil {
		return nil, err
	}
	for _, shape := range arch.blockShapes() {
		var b Block
		if b.Linear, err = linearFrom(state, shape.name+".linear", shape); err != nil {
			return nil, err
		}
		if b.Norm, err = batchNormFrom(state, shape.name+".bn", shape.out, arch.BatchNormEps); err != nil {
			return nil, err
		}
		w.Blocks = append(w.Blocks, b)
	}
	if w.Classifier, err = linearFrom(state, "classifier", arch.classifierShape()); err != nil {
		return nil, err
	}
	return w, nil
}

func linearFrom(state map[string]*tensor.Dense, prefix string, shape layerShape) (Linear, error) {
	weight, err := vectorData(state, prefix+".weight", shape.out, shape.in)
	if err != nil {
		return Linear{}, err
	}
	bias, err := vectorData(state, prefix+".bias", shape.out)
	if err != nil {
		return Linear{}, err
	}

	// (out, in) → (in, out)
	transposed := make([]float32, len(weight))
	for o := 0; o < shape.out; o++ {
		for i := 0; i < shape.in; i++ {
			transposed[i*shape.out+o] = weight[o*shape.in+i]
		}
	}

	return Linear{
		Weight: tensor.New(tensor.WithShape(shape.in, shape.out), tensor.WithBacking(transposed)),
		Bias:   rowVector(bias),
	}, nil
}

func batchNormFrom(state map[string]*tensor.Dense, prefix string, width int, eps float32) (BatchNorm, error) {
	gamma, err := vectorData(state, prefix+".weight", width)
	if err != nil {
		return BatchNorm{}, err
	}
	beta, err := vectorData(state, prefix+".bias", width)
	if err != nil {
		return BatchNorm{}, err
	}
	mean, err := vectorData(state, prefix+".running_mean", width)
	if err != nil {
		return BatchNorm{}, err
	}
	variance, err := vectorData(state, prefix+".running_var", width)
	if err != nil {
		return BatchNorm{}, err
	}

	scale := make([]float32, width)
	shift := make([]float32, width)
	for i := 0; i < width; i++ {
		if variance[i] < 0 {
			return BatchNorm{}, fmt.Errorf("%s.running_var[%d] is negative", prefix, i)
		}
		scale[i] = gamma[i] / math32.Sqrt(variance[i]+eps)
		shift[i] = beta[i] - mean[i]*scale[i]
	}
	return BatchNorm{Scale: rowVector(scale), Shift: rowVector(shift)}, nil
}

// vectorData returns a copy of the float32 data of a tensor after checking its shape.
func vectorData(state map[string]*tensor.Dense, key string, shape ...int) ([]float32, error) {
	d, ok := state[key]
	if !ok || d == nil {
		return nil, fmt.Errorf("missing tensor %s", key)
	}
	if d.Dtype() != tensor.Float32 {
		return nil, fmt.Errorf("tensor %s has dtype %v, expected float32", key, d.Dtype())
	}
	if !d.Shape().Eq(tensor.Shape(shape)) {
		return nil, fmt.Errorf("tensor %s has shape %v, expected %v", key, d.Shape(), shape)
	}
	data := d.Float32s()
	for i, v := range data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return nil, fmt.Errorf("tensor %s has non-finite value at %d", key, i)
		}
	}
	return append([]float32(nil), data...), nil
}

func rowVector(data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(1, len(data)), tensor.WithBacking(data))
}
