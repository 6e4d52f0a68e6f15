package garment

import (
	"fmt"

	"github.com/pkg/errors"
)

// Architecture fixes the layer sizes the trained weights were produced with.
type Architecture struct {
	// InputSize is the square input of the backbone.
	InputSize int `koanf:"inputsize"`
	// BackboneDim is the pooled feature size of the backbone.
	BackboneDim int `koanf:"backbonedim"`
	// ProjectionDim is the output of the projection layer.
	ProjectionDim int `koanf:"projectiondim"`
	// HeadWidths are the output widths of the head blocks, in order.
	HeadWidths []int `koanf:"headwidths"`
	// NumClasses is the output size of the final layer.
	NumClasses int `koanf:"numclasses"`
	// Dropout is the dropout rate of each block. Identity at inference.
	Dropout float32 `koanf:"dropout"`
	// BatchNormEps is added to the running variance before normalizing.
	BatchNormEps float32 `koanf:"batchnormeps"`
}

// DefaultArchitecture is the ResNet-50 backbone with a 2048→1024 projection, four
// linear/batchnorm/ReLU/dropout blocks and an 11-way classifier.
func DefaultArchitecture() Architecture {
	return Architecture{
		InputSize:     224,
		BackboneDim:   2048,
		ProjectionDim: 1024,
		HeadWidths:    []int{1024, 512, 256, 128},
		NumClasses:    len(Labels),
		Dropout:       0.2,
		BatchNormEps:  1e-5,
	}
}

// Validate checks the dimensions and that the classifier output matches Labels.
func (a Architecture) Validate() error {
	if err := checkLabels(); err != nil {
		return err
	}
	if a.InputSize <= 0 || a.BackboneDim <= 0 || a.ProjectionDim <= 0 {
		return fmt.Errorf("invalid dimensions: input=%d backbone=%d projection=%d", a.InputSize, a.BackboneDim, a.ProjectionDim)
	}
	if len(a.HeadWidths) == 0 {
		return errors.New("head needs at least one block")
	}
	for i, w := range a.HeadWidths {
		if w <= 0 {
			return fmt.Errorf("head block %d has invalid width %d", i, w)
		}
	}
	if a.NumClasses != len(Labels) {
		return fmt.Errorf("classifier outputs %d classes but there are %d labels", a.NumClasses, len(Labels))
	}
	if a.Dropout < 0 || a.Dropout >= 1 {
		return fmt.Errorf("dropout %f out of [0,1)", a.Dropout)
	}
	if a.BatchNormEps <= 0 {
		return fmt.Errorf("batchnorm eps must be positive, got %f", a.BatchNormEps)
	}
	return nil
}

// Linear layer dimensions in forward order: projection, each block, classifier.
type layerShape struct {
	name string
	in   int
	out  int
}

func (a Architecture) projectionShape() layerShape {
	return layerShape{name: "projection", in: a.BackboneDim, out: a.ProjectionDim}
}

func (a Architecture) blockShapes() []layerShape {
	shapes := make([]layerShape, len(a.HeadWidths))
	in := a.ProjectionDim
	for i, w := range a.HeadWidths {
		shapes[i] = layerShape{name: fmt.Sprintf("head.%d", i), in: in, out: w}
		in = w
	}
	return shapes
}

func (a Architecture) classifierShape() layerShape {
	in := a.ProjectionDim
	if n := len(a.HeadWidths); n > 0 {
		in = a.HeadWidths[n-1]
	}
	return layerShape{name: "classifier", in: in, out: a.NumClasses}
}
