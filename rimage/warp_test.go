package rimage

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
)

func randomTensor(shape Shape, seed int64) *Tensor {
	r := rand.New(rand.NewSource(seed))
	t := NewTensor(shape)
	for i := range t.data {
		t.data[i] = r.Float64()
	}
	return t
}

func TestBilinearSampleIdentity(t *testing.T) {
	img := randomTensor(Shape{2, 8, 16, 3}, 1)
	zeros := NewTensor(img.Shape().WithChannels(1))
	for _, border := range []BorderMode{BorderZero, BorderClamp, BorderWrapX} {
		out, err := BilinearSample(img, zeros, zeros, border)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Data(), test.ShouldResemble, img.Data())

		out, err = BilinearSample(img, nil, nil, border)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Data(), test.ShouldResemble, img.Data())
	}
}

func TestBilinearSampleOutOfBounds(t *testing.T) {
	ones := NewTensorFilled(Shape{1, 6, 12, 3}, 1)
	far := NewTensorFilled(ones.Shape().WithChannels(1), 100)
	out, err := BilinearSample(ones, far, nil, BorderZero)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Sum(), test.ShouldEqual, 0.)

	out, err = BilinearSample(ones, nil, far.Scale(-1), BorderZero)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Sum(), test.ShouldEqual, 0.)

	// clamping keeps the edge value instead
	out, err = BilinearSample(ones, far, nil, BorderClamp)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Mean(), test.ShouldEqual, 1.)
}

func TestBilinearSampleFractional(t *testing.T) {
	img := NewTensor(Shape{1, 2, 2, 1})
	img.Set(0, 0, 1, 0, 1)
	img.Set(0, 1, 1, 0, 3)

	half := NewTensorFilled(img.Shape(), 0.5)
	out, err := BilinearSample(img, half, half, BorderZero)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.At(0, 0, 0, 0), test.ShouldAlmostEqual, 1.)
	// half of the taps of the last column fall outside and contribute nothing
	test.That(t, out.At(0, 0, 1, 0), test.ShouldAlmostEqual, 1.)
	test.That(t, out.At(0, 1, 1, 0), test.ShouldAlmostEqual, 0.75)

	test.That(t, SampleAt(img, 0, 1, 0.25, 0, BorderZero), test.ShouldAlmostEqual, 1.5)
	test.That(t, math.IsNaN(SampleAt(img, 0, math.NaN(), 0, 0, BorderZero)), test.ShouldBeTrue)
}

func TestBilinearSampleWrap(t *testing.T) {
	img := NewTensor(Shape{1, 1, 4, 1})
	img.Set(0, 0, 0, 0, 4)
	img.Set(0, 0, 3, 0, 2)
	// halfway between the last and the first column
	test.That(t, SampleAt(img, 0, 3.5, 0, 0, BorderWrapX), test.ShouldAlmostEqual, 3.)
	test.That(t, SampleAt(img, 0, -0.5, 0, 0, BorderWrapX), test.ShouldAlmostEqual, 3.)
	test.That(t, SampleAt(img, 0, 3.5, 0, 0, BorderZero), test.ShouldAlmostEqual, 1.)
	test.That(t, BorderWrapX.String(), test.ShouldEqual, "wrap_x")
}

func TestBilinearSampleShapeChecks(t *testing.T) {
	img := NewTensor(Shape{1, 4, 4, 3})
	_, err := BilinearSample(img, NewTensor(Shape{1, 4, 4, 3}), nil, BorderZero)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = BilinearSample(img, nil, NewTensor(Shape{1, 3, 4, 1}), BorderZero)
	test.That(t, err, test.ShouldNotBeNil)
}

// loss(offset) = sum(gradOut * sample(img, offset)) so the finite difference of loss must match the
// backward pass.
func TestBilinearSampleBackward(t *testing.T) {
	img := randomTensor(Shape{1, 6, 7, 2}, 2)
	xOff := randomTensor(img.Shape().WithChannels(1), 3).Map(func(v float64) float64 { return 2*v - 1 })
	yOff := randomTensor(img.Shape().WithChannels(1), 4).Map(func(v float64) float64 { return 3*v - 1.5 })
	gradOut := randomTensor(img.Shape(), 5)

	loss := func(img, xOff, yOff *Tensor) float64 {
		out, err := BilinearSample(img, xOff, yOff, BorderZero)
		test.That(t, err, test.ShouldBeNil)
		prod, err := out.ZipWith(gradOut, func(a, b float64) float64 { return a * b })
		test.That(t, err, test.ShouldBeNil)
		return prod.Sum()
	}

	grads, err := BilinearSampleBackward(img, xOff, yOff, gradOut, BorderZero)
	test.That(t, err, test.ShouldBeNil)

	const eps = 1e-6
	for _, idx := range []int{0, 5, 11, 23, 41} {
		bumped := xOff.Clone()
		bumped.data[idx] += eps
		numeric := (loss(img, bumped, yOff) - loss(img, xOff, yOff)) / eps
		test.That(t, grads.XOffset.data[idx], test.ShouldAlmostEqual, numeric, 1e-4)

		bumped = yOff.Clone()
		bumped.data[idx] += eps
		numeric = (loss(img, xOff, bumped) - loss(img, xOff, yOff)) / eps
		test.That(t, grads.YOffset.data[idx], test.ShouldAlmostEqual, numeric, 1e-4)
	}

	// the output is linear in the image, so the image gradient is exact
	for _, idx := range []int{0, 17, 50, 83} {
		bumped := img.Clone()
		bumped.data[idx]++
		numeric := loss(bumped, xOff, yOff) - loss(img, xOff, yOff)
		test.That(t, grads.Image.data[idx], test.ShouldAlmostEqual, numeric, 1e-9)
	}

	_, err = BilinearSampleBackward(img, xOff, yOff, gradOut, BorderWrapX)
	test.That(t, err, test.ShouldNotBeNil)
}
