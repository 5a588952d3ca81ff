package encdec

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// Conv is a square kernel convolution with zero padding of Kernel/2. Weights are laid out
// [ky][kx][in][out].
type Conv struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Kernel  int       `json:"kernel"`
	Stride  int       `json:"stride"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// newConv returns a He initialised convolution.
func newConv(rng *rand.Rand, in, out, kernel, stride int) *Conv {
	c := &Conv{
		In:      in,
		Out:     out,
		Kernel:  kernel,
		Stride:  stride,
		Weights: make([]float64, kernel*kernel*in*out),
		Bias:    make([]float64, out),
	}
	std := math.Sqrt(2 / float64(kernel*kernel*in))
	for i := range c.Weights {
		c.Weights[i] = std * rng.NormFloat64()
	}
	return c
}

func (c *Conv) validate() error {
	if c.In <= 0 || c.Out <= 0 || c.Kernel <= 0 || c.Kernel%2 == 0 || c.Stride <= 0 {
		return errors.Errorf("invalid convolution %dx%d %d->%d stride %d", c.Kernel, c.Kernel, c.In, c.Out, c.Stride)
	}
	if len(c.Weights) != c.Kernel*c.Kernel*c.In*c.Out {
		return utils.NewShapeMismatchError("convolution weights", c.Kernel*c.Kernel*c.In*c.Out, len(c.Weights))
	}
	if len(c.Bias) != c.Out {
		return utils.NewShapeMismatchError("convolution bias", c.Out, len(c.Bias))
	}
	return nil
}

// Forward convolves in. Each sample is lowered to a patch matrix and multiplied with the kernel
// matrix.
func (c *Conv) Forward(in *rimage.Tensor) (*rimage.Tensor, error) {
	if in.Channels() != c.In {
		return nil, utils.NewShapeMismatchError("convolution input channels", c.In, in.Channels())
	}
	pad := c.Kernel / 2
	outH := (in.Height()+2*pad-c.Kernel)/c.Stride + 1
	outW := (in.Width()+2*pad-c.Kernel)/c.Stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, utils.NewShapeMismatchError("convolution input", "at least one output pixel", in.Shape())
	}
	patchLen := c.Kernel * c.Kernel * c.In
	kernel := mat.NewDense(patchLen, c.Out, c.Weights)
	out := rimage.NewTensor(in.Shape().Spatial(outH, outW).WithChannels(c.Out))

	patches := mat.NewDense(outH*outW, patchLen, nil)
	var product mat.Dense
	for n := 0; n < in.Batch(); n++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				row := patches.RawRowView(oy*outW + ox)
				col := 0
				for ky := 0; ky < c.Kernel; ky++ {
					y := oy*c.Stride + ky - pad
					for kx := 0; kx < c.Kernel; kx++ {
						x := ox*c.Stride + kx - pad
						inside := y >= 0 && y < in.Height() && x >= 0 && x < in.Width()
						for ch := 0; ch < c.In; ch++ {
							if inside {
								row[col] = in.At(n, y, x, ch)
							} else {
								row[col] = 0
							}
							col++
						}
					}
				}
			}
		}
		product.Mul(patches, kernel)
		for i := 0; i < outH*outW; i++ {
			for o := 0; o < c.Out; o++ {
				out.Set(n, i/outW, i%outW, o, product.At(i, o)+c.Bias[o])
			}
		}
	}
	return out, nil
}

// ELU is the exponential linear unit.
func ELU(t *rimage.Tensor) *rimage.Tensor {
	return t.Map(func(v float64) float64 {
		if v > 0 {
			return v
		}
		return math.Expm1(v)
	})
}

// ZeroInsert spreads the pixels of t two apart, filling the gaps with zeros. Followed by a
// convolution this is a stride 2 transposed convolution.
func ZeroInsert(t *rimage.Tensor) *rimage.Tensor {
	s := t.Shape()
	out := rimage.NewTensor(s.Spatial(2*s.H, 2*s.W))
	for n := 0; n < s.N; n++ {
		for y := 0; y < s.H; y++ {
			for x := 0; x < s.W; x++ {
				for c := 0; c < s.C; c++ {
					out.Set(n, 2*y, 2*x, c, t.At(n, y, x, c))
				}
			}
		}
	}
	return out
}
