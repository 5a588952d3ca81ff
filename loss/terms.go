// Package loss computes the self supervised training objective: a latitude weighted photometric
// term, an edge aware depth smoothness term and a top/bottom depth consistency term at every
// pyramid level.
package loss

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// SSIM stabilizing constants.
const (
	C1 = 0.01 * 0.01
	C2 = 0.03 * 0.03
)

// WeightMask returns a one channel map of the given batch and spatial extent whose rows follow
// exp(-t²) for t evenly spaced over [-1, 1]. It damps the oversampled polar rows.
func WeightMask(shape rimage.Shape) *rimage.Tensor {
	mask := rimage.NewTensor(shape.WithChannels(1))
	rows := utils.Linspace(-1, 1, shape.H)
	for n := 0; n < shape.N; n++ {
		for y, t := range rows {
			weight := math.Exp(-t * t)
			for x := 0; x < shape.W; x++ {
				mask.Set(n, y, x, 0, weight)
			}
		}
	}
	return mask
}

// MaskedMean returns mean(mask·x) over every element of x, broadcasting the one channel mask over
// x's channels.
func MaskedMean(x, mask *rimage.Tensor) (float64, error) {
	if x.Shape().WithChannels(1) != mask.Shape() {
		return 0, utils.NewShapeMismatchError("weight mask", x.Shape().WithChannels(1), mask.Shape())
	}
	var sum float64
	channels := x.Channels()
	data, weights := x.Data(), mask.Data()
	for i, v := range data {
		sum += weights[i/channels] * v
	}
	if len(data) == 0 {
		return 0, nil
	}
	return sum / float64(len(data)), nil
}

// L1 returns the per element absolute difference.
func L1(x, y *rimage.Tensor) (*rimage.Tensor, error) {
	return x.ZipWith(y, func(a, b float64) float64 { return math.Abs(a - b) })
}

func product(x, y *rimage.Tensor) *rimage.Tensor {
	out, err := x.ZipWith(y, func(a, b float64) float64 { return a * b })
	if err != nil {
		panic(err)
	}
	return out
}

// SSIM returns the structural dissimilarity map clip((1-SSIM)/2, 0, 1) of two images, with local
// statistics taken over unpadded 3x3 windows. The map is two rows and two columns smaller than the
// inputs.
func SSIM(x, y *rimage.Tensor) (*rimage.Tensor, error) {
	if err := x.SameShape("ssim input", y); err != nil {
		return nil, err
	}
	if x.Height() < 3 || x.Width() < 3 {
		return nil, utils.NewShapeMismatchError("ssim input", "at least 3x3", x.Shape())
	}
	muX := rimage.AvgPool3x3(x)
	muY := rimage.AvgPool3x3(y)
	sigmaXX := rimage.AvgPool3x3(product(x, x))
	sigmaYY := rimage.AvgPool3x3(product(y, y))
	sigmaXY := rimage.AvgPool3x3(product(x, y))

	out := rimage.NewTensor(muX.Shape())
	mx, my := muX.Data(), muY.Data()
	sxx, syy, sxy := sigmaXX.Data(), sigmaYY.Data(), sigmaXY.Data()
	res := out.Data()
	for i := range res {
		varX := sxx[i] - mx[i]*mx[i]
		varY := syy[i] - my[i]*my[i]
		cov := sxy[i] - mx[i]*my[i]
		num := (2*mx[i]*my[i] + C1) * (2*cov + C2)
		den := (mx[i]*mx[i] + my[i]*my[i] + C1) * (varX + varY + C2)
		res[i] = utils.ClampF64((1-num/den)/2, 0, 1)
	}
	return out, nil
}

// Smoothness returns the edge aware depth gradients along x and y. The depth gradient of the given
// order is multiplied by exp(-mean_c |∇img|) so that depth may change freely across image edges.
// The image weights are cropped to the extent of the higher order depth gradient.
func Smoothness(depthMap, img *rimage.Tensor, order int) (*rimage.Tensor, *rimage.Tensor, error) {
	if order < 1 || order > 2 {
		return nil, nil, errors.Errorf("smoothness order must be 1 or 2, got %d", order)
	}
	if depthMap.Shape().WithChannels(1) != img.Shape().WithChannels(1) || depthMap.Channels() != 1 {
		return nil, nil, utils.NewShapeMismatchError("smoothness depth", img.Shape().WithChannels(1), depthMap.Shape())
	}
	if depthMap.Height() <= order || depthMap.Width() <= order {
		return nil, nil, utils.NewShapeMismatchError("smoothness depth", "larger than the gradient order", depthMap.Shape())
	}
	gx, gy := depthMap, depthMap
	for i := 0; i < order; i++ {
		gx = rimage.GradientX(gx)
		gy = rimage.GradientY(gy)
	}
	wx := rimage.EdgeWeights(rimage.GradientX(img))
	wy := rimage.EdgeWeights(rimage.GradientY(img))
	wx = rimage.Crop(wx, gx.Height(), gx.Width())
	wy = rimage.Crop(wy, gy.Height(), gy.Width())
	return product(gx, wx), product(gy, wy), nil
}

// MeanAbs returns mean(|x|).
func MeanAbs(x *rimage.Tensor) float64 {
	return x.Map(math.Abs).Mean()
}
