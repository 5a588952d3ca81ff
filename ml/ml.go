// Package ml provides the disparity backbone contract and the tensor boundary to external
// inference engines.
package ml

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// MaxDisparity bounds every backbone output.
const MaxDisparity = 0.3

// DisparityChannels is the channel count of a backbone output: top then bottom disparity.
const DisparityChannels = 2

// Tensors are named dense tensors passed to and from an inference engine.
type Tensors map[string]*tensor.Dense

// Pyramid is a disparity map per pyramid level, finest first.
type Pyramid [rimage.NumScales]*rimage.Tensor

// Backbone turns one cube face into a disparity pyramid. For a face of size F the levels are
// F, F/2, F/4 and F/8 wide with DisparityChannels channels in [0, MaxDisparity]. A Backbone is
// invoked for every face with the same parameters and must not mutate them.
type Backbone interface {
	DisparityPyramid(ctx context.Context, face *rimage.Tensor) (Pyramid, error)
}

// CheckPyramid verifies that p has the layout and value range a Backbone must produce for face.
// Zero disparity is accepted; depth conversion offsets it by an epsilon.
func CheckPyramid(face *rimage.Tensor, p Pyramid) error {
	for _, level := range rimage.ScaleLevels {
		d := p[level]
		if d == nil {
			return errors.Errorf("missing disparity at %v", level)
		}
		size := face.Height() / level.Divisor()
		expected := face.Shape().Spatial(size, size).WithChannels(DisparityChannels)
		if d.Shape() != expected {
			return errors.Wrap(utils.NewShapeMismatchError("disparity", expected, d.Shape()), level.String())
		}
		for _, v := range d.Data() {
			if !(v >= 0 && v <= MaxDisparity) {
				return errors.Errorf("disparity %v at %v outside [0, %v]", v, level, MaxDisparity)
			}
		}
	}
	return nil
}

// ConstantBackbone predicts the same disparity everywhere.
type ConstantBackbone struct {
	Value float64
}

// DisparityPyramid returns a pyramid filled with the constant.
func (b ConstantBackbone) DisparityPyramid(ctx context.Context, face *rimage.Tensor) (Pyramid, error) {
	var p Pyramid
	for _, level := range rimage.ScaleLevels {
		size := face.Height() / level.Divisor()
		p[level] = rimage.NewTensorFilled(face.Shape().Spatial(size, size).WithChannels(DisparityChannels), b.Value)
	}
	return p, nil
}

// Engine runs a tensor in, tensor out model.
type Engine interface {
	Infer(ctx context.Context, in Tensors) (Tensors, error)
}

// Tensor names used by InferenceBackbone.
const (
	FaceTensorName      = "face"
	disparityNamePrefix = "disp_"
)

// DisparityTensorName is the output name of a pyramid level.
func DisparityTensorName(level rimage.ScaleLevel) string {
	return disparityNamePrefix + strconv.Itoa(int(level))
}

// InferenceBackbone adapts an Engine into a Backbone. The face is sent as a float32 NHWC tensor
// named "face" and the levels are read back from "disp_0" to "disp_3".
type InferenceBackbone struct {
	Engine Engine
}

// DisparityPyramid runs the engine on face.
func (b InferenceBackbone) DisparityPyramid(ctx context.Context, face *rimage.Tensor) (Pyramid, error) {
	var p Pyramid
	out, err := b.Engine.Infer(ctx, Tensors{FaceTensorName: face.ToDense()})
	if err != nil {
		return p, errors.Wrap(err, "inference failed")
	}
	for _, level := range rimage.ScaleLevels {
		name := DisparityTensorName(level)
		d, ok := out[name]
		if !ok {
			return p, errors.Errorf("no tensor named %q among output tensors %v", name, tensorNames(out))
		}
		if p[level], err = denseToTensor(d); err != nil {
			return p, errors.Wrap(err, name)
		}
	}
	if err := CheckPyramid(face, p); err != nil {
		return p, err
	}
	return p, nil
}

func denseToTensor(d *tensor.Dense) (*rimage.Tensor, error) {
	dims := d.Shape()
	if len(dims) != 4 {
		return nil, utils.NewShapeMismatchError("output tensor rank", 4, len(dims))
	}
	data, err := convertToFloat64Slice(d.Data())
	if err != nil {
		return nil, err
	}
	return rimage.NewTensorFromData(rimage.Shape{N: dims[0], H: dims[1], W: dims[2], C: dims[3]}, data)
}

// tensorNames returns all the names of the tensors, sorted.
func tensorNames(t Tensors) []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

func convertToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return convertNumberSlice[float64, float64](v), nil
	case []float32:
		return convertNumberSlice[float32, float64](v), nil
	case []int:
		return convertNumberSlice[int, float64](v), nil
	case []int8:
		return convertNumberSlice[int8, float64](v), nil
	case []int16:
		return convertNumberSlice[int16, float64](v), nil
	case []int32:
		return convertNumberSlice[int32, float64](v), nil
	case []int64:
		return convertNumberSlice[int64, float64](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float64](v), nil
	case []uint16:
		return convertNumberSlice[uint16, float64](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float64](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float64", slice)
	}
}
