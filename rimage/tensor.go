// Package rimage holds the dense float image batches and the image-space operations used by the
// depth pipeline: pyramids, gradients, pooling, resampling and image file conversion.
package rimage

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/depth360/utils"
)

// Shape is the (batch, height, width, channels) extent of a Tensor.
type Shape struct {
	N, H, W, C int
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", s.N, s.H, s.W, s.C)
}

// Size is the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	return s.N * s.H * s.W * s.C
}

// Spatial returns the shape with a different height and width.
func (s Shape) Spatial(h, w int) Shape {
	return Shape{s.N, h, w, s.C}
}

// WithChannels returns the shape with a different channel count.
func (s Shape) WithChannels(c int) Shape {
	return Shape{s.N, s.H, s.W, c}
}

// Tensor is a dense float64 image batch laid out as NHWC in a flat slice.
type Tensor struct {
	shape Shape
	data  []float64
}

// NewTensor returns a zero filled tensor.
func NewTensor(shape Shape) *Tensor {
	if shape.N < 0 || shape.H < 0 || shape.W < 0 || shape.C < 0 {
		panic(fmt.Sprintf("negative tensor shape %v", shape))
	}
	return &Tensor{shape: shape, data: make([]float64, shape.Size())}
}

// NewTensorFromData wraps data, which must hold exactly shape.Size() values.
func NewTensorFromData(shape Shape, data []float64) (*Tensor, error) {
	if len(data) != shape.Size() {
		return nil, utils.NewShapeMismatchError("tensor data length", shape.Size(), len(data))
	}
	return &Tensor{shape: shape, data: data}, nil
}

// NewTensorFilled returns a tensor with every element set to v.
func NewTensorFilled(shape Shape, v float64) *Tensor {
	t := NewTensor(shape)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Shape returns the extent of the tensor.
func (t *Tensor) Shape() Shape { return t.shape }

// Batch returns the batch size.
func (t *Tensor) Batch() int { return t.shape.N }

// Height returns the number of rows.
func (t *Tensor) Height() int { return t.shape.H }

// Width returns the number of columns.
func (t *Tensor) Width() int { return t.shape.W }

// Channels returns the number of channels.
func (t *Tensor) Channels() int { return t.shape.C }

// Data returns the flat NHWC backing slice.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) kxy(n, y, x, c int) int {
	return ((n*t.shape.H+y)*t.shape.W+x)*t.shape.C + c
}

// At returns the value at batch n, row y, column x and channel c.
func (t *Tensor) At(n, y, x, c int) float64 {
	return t.data[t.kxy(n, y, x, c)]
}

// Set stores v at batch n, row y, column x and channel c.
func (t *Tensor) Set(n, y, x, c int, v float64) {
	t.data[t.kxy(n, y, x, c)] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := NewTensor(t.shape)
	copy(out.data, t.data)
	return out
}

// SameShape returns a shape mismatch error naming what when other differs from t.
func (t *Tensor) SameShape(what string, other *Tensor) error {
	if t.shape != other.shape {
		return utils.NewShapeMismatchError(what, t.shape, other.shape)
	}
	return nil
}

// Channel extracts channel c as a one channel tensor.
func (t *Tensor) Channel(c int) *Tensor {
	return t.ChannelRange(c, c+1)
}

// ChannelRange extracts channels [from, to).
func (t *Tensor) ChannelRange(from, to int) *Tensor {
	if from < 0 || to > t.shape.C || from >= to {
		panic(fmt.Sprintf("channel range [%d, %d) out of bounds for %d channels", from, to, t.shape.C))
	}
	out := NewTensor(t.shape.WithChannels(to - from))
	pixels := t.shape.N * t.shape.H * t.shape.W
	for p := 0; p < pixels; p++ {
		copy(out.data[p*out.shape.C:(p+1)*out.shape.C], t.data[p*t.shape.C+from:p*t.shape.C+to])
	}
	return out
}

// ConcatChannels stacks tensors of equal batch and spatial extent along the channel axis.
func ConcatChannels(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	base := ts[0].shape
	channels := 0
	for _, t := range ts {
		if t.shape.WithChannels(0) != base.WithChannels(0) {
			return nil, utils.NewShapeMismatchError("concatenated tensor", base.WithChannels(t.shape.C), t.shape)
		}
		channels += t.shape.C
	}
	out := NewTensor(base.WithChannels(channels))
	pixels := base.N * base.H * base.W
	for p := 0; p < pixels; p++ {
		offset := p * channels
		for _, t := range ts {
			copy(out.data[offset:offset+t.shape.C], t.data[p*t.shape.C:(p+1)*t.shape.C])
			offset += t.shape.C
		}
	}
	return out, nil
}

// BatchRange returns a copy of batch entries [from, to).
func (t *Tensor) BatchRange(from, to int) *Tensor {
	if from < 0 || to > t.shape.N || from > to {
		panic(fmt.Sprintf("batch range [%d, %d) out of bounds for batch %d", from, to, t.shape.N))
	}
	out := NewTensor(Shape{to - from, t.shape.H, t.shape.W, t.shape.C})
	per := t.shape.H * t.shape.W * t.shape.C
	copy(out.data, t.data[from*per:to*per])
	return out
}

// ConcatBatch stacks tensors of equal per-sample shape along the batch axis.
func ConcatBatch(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	base := ts[0].shape
	n := 0
	for _, t := range ts {
		if (Shape{0, t.shape.H, t.shape.W, t.shape.C}) != (Shape{0, base.H, base.W, base.C}) {
			return nil, utils.NewShapeMismatchError("batched tensor", Shape{t.shape.N, base.H, base.W, base.C}, t.shape)
		}
		n += t.shape.N
	}
	out := NewTensor(Shape{n, base.H, base.W, base.C})
	offset := 0
	for _, t := range ts {
		copy(out.data[offset:], t.data)
		offset += len(t.data)
	}
	return out, nil
}

// Map returns a new tensor with f applied to every element.
func (t *Tensor) Map(f func(v float64) float64) *Tensor {
	out := NewTensor(t.shape)
	for i, v := range t.data {
		out.data[i] = f(v)
	}
	return out
}

// ZipWith combines two tensors of the same shape element by element.
func (t *Tensor) ZipWith(other *Tensor, f func(a, b float64) float64) (*Tensor, error) {
	if err := t.SameShape("zipped tensor", other); err != nil {
		return nil, err
	}
	out := NewTensor(t.shape)
	for i, v := range t.data {
		out.data[i] = f(v, other.data[i])
	}
	return out, nil
}

// Scale returns t multiplied by s.
func (t *Tensor) Scale(s float64) *Tensor {
	out := t.Clone()
	floats.Scale(s, out.data)
	return out
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float64 {
	return floats.Sum(t.data)
}

// Mean returns the mean of all elements, or 0 for an empty tensor.
func (t *Tensor) Mean() float64 {
	if len(t.data) == 0 {
		return 0
	}
	return stat.Mean(t.data, nil)
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (float64, float64) {
	if len(t.data) == 0 {
		return 0, 0
	}
	return floats.Min(t.data), floats.Max(t.data)
}

// AllFinite reports whether no element is NaN or infinite.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.data {
		if !utils.IsFinite(v) {
			return false
		}
	}
	return true
}

// MaxAbsDiff returns the L-infinity distance between two tensors of equal shape.
func (t *Tensor) MaxAbsDiff(other *Tensor) (float64, error) {
	if err := t.SameShape("compared tensor", other); err != nil {
		return 0, err
	}
	var maxDiff float64
	for i, v := range t.data {
		maxDiff = math.Max(maxDiff, math.Abs(v-other.data[i]))
	}
	return maxDiff, nil
}

// Plane copies batch n, channel c into a height by width matrix.
func (t *Tensor) Plane(n, c int) *mat.Dense {
	m := mat.NewDense(t.shape.H, t.shape.W, nil)
	for y := 0; y < t.shape.H; y++ {
		for x := 0; x < t.shape.W; x++ {
			m.Set(y, x, t.At(n, y, x, c))
		}
	}
	return m
}

// SetPlane overwrites batch n, channel c from a height by width matrix.
func (t *Tensor) SetPlane(n, c int, m mat.Matrix) error {
	r, cols := m.Dims()
	if r != t.shape.H || cols != t.shape.W {
		return utils.NewShapeMismatchError("plane", fmt.Sprintf("%dx%d", t.shape.H, t.shape.W), fmt.Sprintf("%dx%d", r, cols))
	}
	for y := 0; y < r; y++ {
		for x := 0; x < cols; x++ {
			t.Set(n, y, x, c, m.At(y, x))
		}
	}
	return nil
}
