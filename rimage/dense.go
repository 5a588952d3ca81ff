package rimage

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/depth360/utils"
)

// ToDense converts t into a float32 NHWC *tensor.Dense, the layout inference engines exchange.
func (t *Tensor) ToDense() *tensor.Dense {
	backing := make([]float32, len(t.data))
	for i, v := range t.data {
		backing[i] = float32(v)
	}
	s := t.shape
	return tensor.New(tensor.WithShape(s.N, s.H, s.W, s.C), tensor.WithBacking(backing))
}

// FromDense converts a rank 4 NHWC *tensor.Dense of float32 or float64 into a Tensor. A rank 3
// tensor is read as a single sample.
func FromDense(d *tensor.Dense) (*Tensor, error) {
	dims := d.Shape()
	var s Shape
	switch len(dims) {
	case 3:
		s = Shape{1, dims[0], dims[1], dims[2]}
	case 4:
		s = Shape{dims[0], dims[1], dims[2], dims[3]}
	default:
		return nil, utils.NewShapeMismatchError("dense tensor rank", "3 or 4", len(dims))
	}

	var data []float64
	switch backing := d.Data().(type) {
	case []float32:
		data = make([]float64, len(backing))
		for i, v := range backing {
			data[i] = float64(v)
		}
	case []float64:
		data = make([]float64, len(backing))
		copy(data, backing)
	default:
		return nil, errors.Errorf("don't know how to convert tensor.Dense of type %T", backing)
	}
	return NewTensorFromData(s, data)
}
