package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depth360/utils"
)

// BorderMode decides what a sample outside the image contributes.
type BorderMode int

const (
	// BorderZero treats pixels outside the image as zero.
	BorderZero BorderMode = iota
	// BorderClamp repeats the nearest edge pixel.
	BorderClamp
	// BorderWrapX wraps columns around (a full turn of longitude) and clamps rows.
	BorderWrapX
)

func (b BorderMode) String() string {
	switch b {
	case BorderZero:
		return "zero"
	case BorderClamp:
		return "clamp"
	case BorderWrapX:
		return "wrap_x"
	}
	return "unknown"
}

// resolve maps a possibly out of range index to a valid one. ok is false when the sample must
// contribute nothing.
func (b BorderMode) resolve(i, n int, wrap bool) (int, bool) {
	if i >= 0 && i < n {
		return i, true
	}
	switch b {
	case BorderClamp:
		return utils.ClampInt(i, 0, n-1), true
	case BorderWrapX:
		if wrap {
			return ((i % n) + n) % n, true
		}
		return utils.ClampInt(i, 0, n-1), true
	default:
		return 0, false
	}
}

// bilinearTaps holds the four neighbour positions and weights of one sample.
type bilinearTaps struct {
	x0, x1, y0, y1 int
	okX0, okX1     bool
	okY0, okY1     bool
	fx, fy         float64
}

func newBilinearTaps(sx, sy float64, w, h int, border BorderMode) bilinearTaps {
	fx0 := math.Floor(sx)
	fy0 := math.Floor(sy)
	t := bilinearTaps{fx: sx - fx0, fy: sy - fy0}
	ix, iy := int(fx0), int(fy0)
	t.x0, t.okX0 = border.resolve(ix, w, true)
	t.x1, t.okX1 = border.resolve(ix+1, w, true)
	t.y0, t.okY0 = border.resolve(iy, h, false)
	t.y1, t.okY1 = border.resolve(iy+1, h, false)
	return t
}

func (t bilinearTaps) value(img *Tensor, n, c int) (v00, v01, v10, v11 float64) {
	if t.okY0 && t.okX0 {
		v00 = img.At(n, t.y0, t.x0, c)
	}
	if t.okY0 && t.okX1 {
		v01 = img.At(n, t.y0, t.x1, c)
	}
	if t.okY1 && t.okX0 {
		v10 = img.At(n, t.y1, t.x0, c)
	}
	if t.okY1 && t.okX1 {
		v11 = img.At(n, t.y1, t.x1, c)
	}
	return
}

// SampleAt bilinearly interpolates channel c of batch n at the continuous index position (sx, sy),
// where integer positions are pixel centres.
func SampleAt(img *Tensor, n int, sx, sy float64, c int, border BorderMode) float64 {
	if math.IsNaN(sx) || math.IsNaN(sy) {
		return math.NaN()
	}
	t := newBilinearTaps(sx, sy, img.Width(), img.Height(), border)
	v00, v01, v10, v11 := t.value(img, n, c)
	return (1-t.fy)*((1-t.fx)*v00+t.fx*v01) + t.fy*((1-t.fx)*v10+t.fx*v11)
}

func checkOffset(img, offset *Tensor, what string) error {
	if offset == nil {
		return nil
	}
	if offset.Shape() != img.Shape().WithChannels(1) {
		return utils.NewShapeMismatchError(what, img.Shape().WithChannels(1), offset.Shape())
	}
	return nil
}

func offsetAt(offset *Tensor, n, y, x int) float64 {
	if offset == nil {
		return 0
	}
	return offset.At(n, y, x, 0)
}

// BilinearSample resamples img so that output pixel (x, y) is read from (x + xOffset, y + yOffset).
// Offsets are single channel fields in pixels matching img's batch and spatial extent; a nil offset
// is zero everywhere. Neighbours outside the image are handled according to border.
func BilinearSample(img, xOffset, yOffset *Tensor, border BorderMode) (*Tensor, error) {
	if err := checkOffset(img, xOffset, "x offset"); err != nil {
		return nil, err
	}
	if err := checkOffset(img, yOffset, "y offset"); err != nil {
		return nil, err
	}
	out := NewTensor(img.Shape())
	w, h, channels := img.Width(), img.Height(), img.Channels()
	for n := 0; n < img.Batch(); n++ {
		n := n
		utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
			sx := float64(x) + offsetAt(xOffset, n, y, x)
			sy := float64(y) + offsetAt(yOffset, n, y, x)
			for c := 0; c < channels; c++ {
				out.Set(n, y, x, c, SampleAt(img, n, sx, sy, c, border))
			}
		})
	}
	return out, nil
}

// SampleGradients is the vector-Jacobian product of BilinearSample.
type SampleGradients struct {
	Image   *Tensor
	XOffset *Tensor
	YOffset *Tensor
}

// BilinearSampleBackward propagates the gradient of a loss with respect to the output of
// BilinearSample back onto the source image and both offset fields. The interpolation weights are
// piecewise linear, so the offset gradients are the one sided slopes inside each pixel cell.
func BilinearSampleBackward(img, xOffset, yOffset, gradOut *Tensor, border BorderMode) (SampleGradients, error) {
	if err := checkOffset(img, xOffset, "x offset"); err != nil {
		return SampleGradients{}, err
	}
	if err := checkOffset(img, yOffset, "y offset"); err != nil {
		return SampleGradients{}, err
	}
	if err := img.SameShape("output gradient", gradOut); err != nil {
		return SampleGradients{}, err
	}
	if border == BorderWrapX {
		return SampleGradients{}, errors.New("backward pass does not support wrapped borders")
	}

	grads := SampleGradients{
		Image:   NewTensor(img.Shape()),
		XOffset: NewTensor(img.Shape().WithChannels(1)),
		YOffset: NewTensor(img.Shape().WithChannels(1)),
	}
	w, h, channels := img.Width(), img.Height(), img.Channels()
	// Image gradients scatter into neighbours shared between output pixels, so this stays serial.
	for n := 0; n < img.Batch(); n++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sx := float64(x) + offsetAt(xOffset, n, y, x)
				sy := float64(y) + offsetAt(yOffset, n, y, x)
				t := newBilinearTaps(sx, sy, w, h, border)
				var gx, gy float64
				for c := 0; c < channels; c++ {
					g := gradOut.At(n, y, x, c)
					v00, v01, v10, v11 := t.value(img, n, c)
					gx += g * ((1-t.fy)*(v01-v00) + t.fy*(v11-v10))
					gy += g * ((1-t.fx)*(v10-v00) + t.fx*(v11-v01))

					scatter := func(ok bool, yy, xx int, weight float64) {
						if ok {
							idx := grads.Image.kxy(n, yy, xx, c)
							grads.Image.data[idx] += g * weight
						}
					}
					scatter(t.okY0 && t.okX0, t.y0, t.x0, (1-t.fx)*(1-t.fy))
					scatter(t.okY0 && t.okX1, t.y0, t.x1, t.fx*(1-t.fy))
					scatter(t.okY1 && t.okX0, t.y1, t.x0, (1-t.fx)*t.fy)
					scatter(t.okY1 && t.okX1, t.y1, t.x1, t.fx*t.fy)
				}
				grads.XOffset.Set(n, y, x, 0, gx)
				grads.YOffset.Set(n, y, x, 0, gy)
			}
		}
	}
	return grads, nil
}
