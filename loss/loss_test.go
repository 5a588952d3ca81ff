package loss

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

func randomTensor(rng *rand.Rand, shape rimage.Shape, lo, hi float64) *rimage.Tensor {
	t := rimage.NewTensor(shape)
	for i := range t.Data() {
		t.Data()[i] = lo + (hi-lo)*rng.Float64()
	}
	return t
}

func TestWeightMask(t *testing.T) {
	mask := WeightMask(rimage.Shape{N: 2, H: 5, W: 3, C: 3})
	test.That(t, mask.Shape(), test.ShouldResemble, rimage.Shape{N: 2, H: 5, W: 3, C: 1})
	test.That(t, mask.At(1, 0, 2, 0), test.ShouldAlmostEqual, math.Exp(-1))
	test.That(t, mask.At(0, 4, 0, 0), test.ShouldAlmostEqual, math.Exp(-1))
	test.That(t, mask.At(0, 2, 1, 0), test.ShouldAlmostEqual, 1.)
	test.That(t, mask.At(0, 1, 1, 0), test.ShouldAlmostEqual, math.Exp(-0.25))
	test.That(t, mask.At(0, 1, 0, 0), test.ShouldEqual, mask.At(1, 3, 2, 0))
}

func TestMaskedMean(t *testing.T) {
	x := rimage.NewTensorFilled(rimage.Shape{N: 1, H: 5, W: 4, C: 3}, 2)
	mask := WeightMask(x.Shape())
	mean, err := MaskedMean(x, mask)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mean, test.ShouldAlmostEqual, 2*mask.Mean())

	_, err = MaskedMean(x, WeightMask(rimage.Shape{N: 1, H: 4, W: 4, C: 1}))
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
}

func TestSSIM(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomTensor(rng, rimage.Shape{N: 2, H: 8, W: 10, C: 3}, 0, 1)

	same, err := SSIM(x, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same.Shape(), test.ShouldResemble, rimage.Shape{N: 2, H: 6, W: 8, C: 3})
	_, hi := same.MinMax()
	test.That(t, hi, test.ShouldAlmostEqual, 0, 1e-9)

	y := randomTensor(rng, x.Shape(), 0, 1)
	diff, err := SSIM(x, y)
	test.That(t, err, test.ShouldBeNil)
	lo, hi := diff.MinMax()
	test.That(t, lo, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, hi, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, diff.Mean(), test.ShouldBeGreaterThan, 0.1)

	// an inverted pattern has negative covariance
	inverted := x.Map(func(v float64) float64 { return 1 - v })
	opposite, err := SSIM(x, inverted)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opposite.Mean(), test.ShouldBeGreaterThan, diff.Mean())

	_, err = SSIM(x, rimage.NewTensor(rimage.Shape{N: 2, H: 8, W: 9, C: 3}))
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
	_, err = SSIM(rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 4, C: 1}), rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 4, C: 1}))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSmoothness(t *testing.T) {
	shape := rimage.Shape{N: 1, H: 6, W: 8, C: 1}
	img := rimage.NewTensorFilled(shape.WithChannels(3), 0.5)

	// a linear ramp has no curvature
	ramp := rimage.NewTensor(shape)
	for y := 0; y < shape.H; y++ {
		for x := 0; x < shape.W; x++ {
			ramp.Set(0, y, x, 0, float64(2*x+3*y))
		}
	}
	sx, sy, err := Smoothness(ramp, img, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sx.Shape(), test.ShouldResemble, rimage.Shape{N: 1, H: 6, W: 6, C: 1})
	test.That(t, sy.Shape(), test.ShouldResemble, rimage.Shape{N: 1, H: 4, W: 8, C: 1})
	test.That(t, MeanAbs(sx), test.ShouldAlmostEqual, 0)
	test.That(t, MeanAbs(sy), test.ShouldAlmostEqual, 0)

	sx, sy, err = Smoothness(ramp, img, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, MeanAbs(sx), test.ShouldAlmostEqual, 2)
	test.That(t, MeanAbs(sy), test.ShouldAlmostEqual, 3)

	// a vertical image edge between columns 3 and 4 damps the x gradient there
	edged := img.Clone()
	for y := 0; y < shape.H; y++ {
		for x := 4; x < shape.W; x++ {
			for c := 0; c < 3; c++ {
				edged.Set(0, y, x, c, 1.5)
			}
		}
	}
	sx, _, err = Smoothness(ramp, edged, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(sx.At(0, 2, 3, 0)), test.ShouldAlmostEqual, 2*math.Exp(-1))
	test.That(t, math.Abs(sx.At(0, 2, 1, 0)), test.ShouldAlmostEqual, 2)

	_, _, err = Smoothness(ramp, img, 3)
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = Smoothness(ramp, rimage.NewTensor(rimage.Shape{N: 1, H: 5, W: 8, C: 3}), 2)
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
	_, _, err = Smoothness(img, img, 2)
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
}

func TestWeights(t *testing.T) {
	test.That(t, DefaultWeights().Validate(), test.ShouldBeNil)
	for _, w := range []Weights{
		{AlphaImage: 1.5, SmoothnessOrder: 2},
		{AlphaImage: 0.5, Smoothness: -1, SmoothnessOrder: 2},
		{AlphaImage: 0.5, SmoothnessOrder: 0},
	} {
		test.That(t, w.Validate(), test.ShouldNotBeNil)
	}
}

func scaleInputs(rng *rand.Rand, identical bool) [rimage.NumScales]ScaleInputs {
	var inputs [rimage.NumScales]ScaleInputs
	for _, level := range rimage.ScaleLevels {
		shape := rimage.Shape{N: 2, H: 32 / level.Divisor(), W: 64 / level.Divisor(), C: 3}
		view := func() ViewInputs {
			img := randomTensor(rng, shape, 0, 1)
			depthMap := randomTensor(rng, shape.WithChannels(1), 1/0.3, 10)
			if identical {
				return ViewInputs{Image: img, Estimate: img, Depth: depthMap, CrossDepth: depthMap}
			}
			return ViewInputs{
				Image:      img,
				Estimate:   randomTensor(rng, shape, 0, 1),
				Depth:      depthMap,
				CrossDepth: randomTensor(rng, shape.WithChannels(1), 1/0.3, 10),
			}
		}
		inputs[level] = ScaleInputs{Top: view(), Bottom: view()}
	}
	return inputs
}

func TestAssembleNonNegativeAndFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	losses, err := Assemble(context.Background(), scaleInputs(rng, false), DefaultWeights())
	test.That(t, err, test.ShouldBeNil)
	for _, v := range []float64{losses.Image, losses.Smoothness, losses.Consistency, losses.Total} {
		test.That(t, utils.IsFinite(v), test.ShouldBeTrue)
		test.That(t, v, test.ShouldBeGreaterThan, 0)
	}
	test.That(t, losses.Total, test.ShouldAlmostEqual, losses.Image+losses.Smoothness+losses.Consistency)

	var image float64
	for i, s := range losses.Scales {
		test.That(t, s.Level, test.ShouldEqual, rimage.ScaleLevels[i])
		test.That(t, s.Top.L1Map.Shape(), test.ShouldResemble, rimage.Shape{N: 2, H: 32 / s.Level.Divisor(), W: 64 / s.Level.Divisor(), C: 3})
		test.That(t, s.Image(), test.ShouldAlmostEqual, 0.75*s.SSIM()+0.25*s.L1())
		image += s.Image()
	}
	test.That(t, losses.Image, test.ShouldAlmostEqual, image)

	weights := DefaultWeights()
	weights.Smoothness = 0
	weights.Consistency = 2
	reweighted, err := Assemble(context.Background(), scaleInputs(rand.New(rand.NewSource(7)), false), weights)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reweighted.Total, test.ShouldAlmostEqual, losses.Image+2*losses.Consistency)
}

func TestAssemblePerfectReconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	losses, err := Assemble(context.Background(), scaleInputs(rng, true), DefaultWeights())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, losses.Image, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, losses.Consistency, test.ShouldAlmostEqual, 0)
	test.That(t, losses.Smoothness, test.ShouldBeGreaterThan, 0)
}

func TestAssembleErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	inputs := scaleInputs(rng, false)
	inputs[rimage.Scale2].Bottom.Estimate = nil
	_, err := Assemble(context.Background(), inputs, DefaultWeights())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bottom view at scale_2")

	inputs = scaleInputs(rng, false)
	inputs[rimage.Scale1].Top.CrossDepth = rimage.NewTensor(rimage.Shape{N: 2, H: 3, W: 3, C: 1})
	_, err = Assemble(context.Background(), inputs, DefaultWeights())
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)

	_, err = Assemble(context.Background(), scaleInputs(rng, false), Weights{AlphaImage: 2, SmoothnessOrder: 2})
	test.That(t, err, test.ShouldNotBeNil)
}
