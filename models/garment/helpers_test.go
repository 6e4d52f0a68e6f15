package garment

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// testArch is a small architecture with the real label count.
func testArch() Architecture {
	return Architecture{
		InputSize:     8,
		BackboneDim:   6,
		ProjectionDim: 5,
		HeadWidths:    []int{5, 4, 3, 3},
		NumClasses:    len(Labels),
		Dropout:       0.2,
		BatchNormEps:  1e-5,
	}
}

// randomStateDict builds PyTorch-layout tensors for arch from a fixed seed.
func randomStateDict(arch Architecture, seed int64) map[string]*tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	fill := func(n int, lo, hi float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = lo + (hi-lo)*rng.Float32()
		}
		return out
	}
	state := map[string]*tensor.Dense{}
	addLinear := func(prefix string, s layerShape) {
		state[prefix+".weight"] = tensor.New(tensor.WithShape(s.out, s.in), tensor.WithBacking(fill(s.out*s.in, -1, 1)))
		state[prefix+".bias"] = tensor.New(tensor.WithShape(s.out), tensor.WithBacking(fill(s.out, -0.5, 0.5)))
	}

	addLinear("projection", arch.projectionShape())
	for _, s := range arch.blockShapes() {
		addLinear(s.name+".linear", s)
		state[s.name+".bn.weight"] = tensor.New(tensor.WithShape(s.out), tensor.WithBacking(fill(s.out, 0.5, 1.5)))
		state[s.name+".bn.bias"] = tensor.New(tensor.WithShape(s.out), tensor.WithBacking(fill(s.out, -0.2, 0.2)))
		state[s.name+".bn.running_mean"] = tensor.New(tensor.WithShape(s.out), tensor.WithBacking(fill(s.out, -0.1, 0.1)))
		state[s.name+".bn.running_var"] = tensor.New(tensor.WithShape(s.out), tensor.WithBacking(fill(s.out, 0.5, 2)))
	}
	addLinear("classifier", arch.classifierShape())
	return state
}

// referenceForward evaluates the head directly from a PyTorch-layout state dict.
func referenceForward(state map[string]*tensor.Dense, arch Architecture, features []float32) []float32 {
	lin := func(x []float32, prefix string, s layerShape) []float32 {
		w := state[prefix+".weight"].Float32s()
		b := state[prefix+".bias"].Float32s()
		out := make([]float32, s.out)
		for o := 0; o < s.out; o++ {
			sum := b[o]
			for i := 0; i < s.in; i++ {
				sum += w[o*s.in+i] * x[i]
			}
			out[o] = sum
		}
		return out
	}

	x := lin(features, "projection", arch.projectionShape())
	for _, s := range arch.blockShapes() {
		x = lin(x, s.name+".linear", s)
		gamma := state[s.name+".bn.weight"].Float32s()
		beta := state[s.name+".bn.bias"].Float32s()
		mean := state[s.name+".bn.running_mean"].Float32s()
		variance := state[s.name+".bn.running_var"].Float32s()
		for i := range x {
			x[i] = (x[i]-mean[i])/math32.Sqrt(variance[i]+arch.BatchNormEps)*gamma[i] + beta[i]
			if x[i] < 0 {
				x[i] = 0
			}
		}
	}
	return lin(x, "classifier", arch.classifierShape())
}

// writeStateDict saves every tensor as <key>.npy under a temp dir.
func writeStateDict(t *testing.T, state map[string]*tensor.Dense) string {
	t.Helper()
	dir := t.TempDir()
	for key, d := range state {
		f, err := os.Create(filepath.Join(dir, key+".npy"))
		require.NoError(t, err)
		require.NoError(t, d.WriteNpy(f))
		require.NoError(t, f.Close())
	}
	return dir
}

// fakeBackbone summarizes each channel plane so different images give different features.
type fakeBackbone struct {
	dim    int
	err    error
	panics bool
	calls  atomic.Int64
	closed atomic.Bool
}

func (b *fakeBackbone) Features(input []float32) ([]float32, error) {
	b.calls.Add(1)
	if b.panics {
		var s []float32
		_ = s[len(input)]
	}
	if b.err != nil {
		return nil, b.err
	}
	plane := len(input) / 3
	out := make([]float32, b.dim)
	for c := 0; c < 3 && c < b.dim; c++ {
		var sum float32
		for _, v := range input[c*plane : (c+1)*plane] {
			sum += v
		}
		out[c] = sum / float32(plane)
	}
	for i := 3; i < b.dim; i++ {
		out[i] = float32(i) * 0.25
	}
	return out, nil
}

func (b *fakeBackbone) Close() error {
	b.closed.Store(true)
	return nil
}
