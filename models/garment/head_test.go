package garment

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadMatchesReference(t *testing.T) {
	arch := testArch()
	state := randomStateDict(arch, 7)
	weights, err := HeadWeightsFromStateDict(state, arch)
	require.NoError(t, err)

	head, err := NewHead(arch, weights)
	require.NoError(t, err)
	defer head.Close()

	for _, features := range [][]float32{
		{0, 0, 0, 0, 0, 0},
		{1, -1, 0.5, 2, -2, 0.25},
		{-3, 0.1, 0.2, 0.3, 4, -0.7},
	} {
		got, err := head.Forward(features)
		require.NoError(t, err)
		want := referenceForward(state, arch, features)
		assert.InDeltaSlice(t, want, got, 1e-4)
	}
}

func TestHeadForwardIsRepeatable(t *testing.T) {
	arch := testArch()
	weights, err := HeadWeightsFromStateDict(randomStateDict(arch, 3), arch)
	require.NoError(t, err)
	head, err := NewHead(arch, weights)
	require.NoError(t, err)
	defer head.Close()

	features := []float32{0.3, -0.2, 0.1, 1, -1, 2}
	first, err := head.Forward(features)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := head.Forward(features)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []float32{0.3, -0.2, 0.1, 1, -1, 2}, features)
}

func TestHeadForwardConcurrent(t *testing.T) {
	arch := testArch()
	weights, err := HeadWeightsFromStateDict(randomStateDict(arch, 5), arch)
	require.NoError(t, err)
	head, err := NewHead(arch, weights)
	require.NoError(t, err)
	defer head.Close()

	inputs := [][]float32{
		{1, 2, 3, 4, 5, 6},
		{-1, -2, -3, -4, -5, -6},
	}
	want := make([][]float32, len(inputs))
	for i, in := range inputs {
		want[i], err = head.Forward(in)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for n := 0; n < 32; n++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := head.Forward(inputs[i])
			assert.NoError(t, err)
			assert.Equal(t, want[i], got)
		}(n % 2)
	}
	wg.Wait()
}

func TestHeadForwardRejectsWrongLength(t *testing.T) {
	arch := testArch()
	weights, err := HeadWeightsFromStateDict(randomStateDict(arch, 1), arch)
	require.NoError(t, err)
	head, err := NewHead(arch, weights)
	require.NoError(t, err)

	_, err = head.Forward([]float32{1, 2, 3})
	assert.Error(t, err)

	require.NoError(t, head.Close())
	require.NoError(t, head.Close())
	_, err = head.Forward(make([]float32, arch.BackboneDim))
	assert.Error(t, err)
}

func TestNewHeadRequiresMatchingBlocks(t *testing.T) {
	arch := testArch()
	weights, err := HeadWeightsFromStateDict(randomStateDict(arch, 1), arch)
	require.NoError(t, err)
	weights.Blocks = weights.Blocks[:2]

	_, err = NewHead(arch, weights)
	assert.Error(t, err)

	_, err = NewHead(arch, nil)
	assert.Error(t, err)
}
