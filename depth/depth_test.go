package depth

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
	"go.viam.com/depth360/utils"
)

func TestFaceDisparityToDepth(t *testing.T) {
	disp := rimage.NewTensorFilled(rimage.Shape{N: 1, H: 4, W: 4, C: 2}, 0.25)
	for _, face := range spherical.Faces {
		d, err := FaceDisparityToDepth(disp, face)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.Shape(), test.ShouldResemble, disp.Shape())
		for j := 0; j < 4; j++ {
			for i := 0; i < 4; i++ {
				scale := spherical.HorizontalRangeScale(face, spherical.FaceLocal(i, 4), spherical.FaceLocal(j, 4))
				test.That(t, d.At(0, j, i, 1), test.ShouldAlmostEqual, scale/(0.25+Epsilon))
				test.That(t, d.At(0, j, i, 0), test.ShouldBeGreaterThan, 0)
			}
		}
	}

	// zero disparity is guarded by the epsilon
	d, err := FaceDisparityToDepth(rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 2, C: 1}), spherical.PZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.AllFinite(), test.ShouldBeTrue)
	_, hi := d.MinMax()
	test.That(t, hi, test.ShouldBeGreaterThan, 1e5)

	_, err = FaceDisparityToDepth(rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 3, C: 1}), spherical.PZ)
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
}

func TestDepthDisparityInversion(t *testing.T) {
	const h, w = 32, 64
	depthMap := rimage.NewTensor(rimage.Shape{N: 2, H: h, W: w, C: 1})
	for n := 0; n < 2; n++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				depthMap.Set(n, y, x, 0, 1+float64(x%7)+0.5*float64(n)+0.1*float64(y%3))
			}
		}
	}
	for _, position := range []Position{Top, Bottom} {
		angular, err := DepthToAngularDisparity(depthMap, position)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angular.AllFinite(), test.ShouldBeTrue)
		lo, hi := angular.MinMax()
		test.That(t, lo, test.ShouldBeGreaterThan, 0)
		test.That(t, hi, test.ShouldBeLessThan, math.Pi)

		back, err := AngularDisparityToDepth(angular, position)
		test.That(t, err, test.ShouldBeNil)
		for y := 0; y < h; y++ {
			// stay away from the poles
			if math.Abs(spherical.RowLatitude(y, h)) > 1.3 {
				continue
			}
			for x := 0; x < w; x++ {
				test.That(t, back.At(1, y, x, 0), test.ShouldAlmostEqual, depthMap.At(1, y, x, 0), 1e-6)
			}
		}
	}
}

// A point at range d seen by the top camera at latitude T is d·tanT below it, and Baseline less
// than that below the bottom camera.
func TestAngularDisparityGeometry(t *testing.T) {
	depthMap := rimage.NewTensorFilled(rimage.Shape{N: 1, H: 2, W: 4, C: 1}, 2)
	angular, err := DepthToAngularDisparity(depthMap, Top)
	test.That(t, err, test.ShouldBeNil)
	lat := spherical.RowLatitude(1, 2)
	tanLat := math.Tan(lat)
	latBottom := math.Atan((2*tanLat - Baseline) / 2)
	test.That(t, angular.At(0, 1, 0, 0), test.ShouldAlmostEqual, lat-latBottom)

	zero, err := AngularDisparityToDepth(rimage.NewTensor(depthMap.Shape()), Top)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsInf(zero.At(0, 0, 0, 0), 1), test.ShouldBeTrue)

	_, err = DepthToAngularDisparity(rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 4, C: 2}), Top)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = AngularDisparityToDepth(rimage.NewTensor(rimage.Shape{N: 1, H: 2, W: 4, C: 2}), Top)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPositions(t *testing.T) {
	test.That(t, Top.String(), test.ShouldEqual, "top")
	test.That(t, Bottom.Other(), test.ShouldEqual, Top)
	test.That(t, Top.Other(), test.ShouldEqual, Bottom)

	angular := rimage.NewTensorFilled(rimage.Shape{N: 1, H: 8, W: 16, C: 1}, math.Pi/8)
	test.That(t, AngularToPixelOffset(angular).At(0, 0, 0, 0), test.ShouldAlmostEqual, 1.)
	test.That(t, SynthesisOffset(angular, Top).At(0, 3, 3, 0), test.ShouldAlmostEqual, -1.)
	test.That(t, SynthesisOffset(angular, Bottom).At(0, 3, 3, 0), test.ShouldAlmostEqual, 1.)
}

// A textured cylinder of radius r around the rig: both cameras see the same wall, the bottom one
// from Baseline lower. Warping the bottom image with the top camera's disparity must reproduce the
// top image, and vice versa.
func TestSynthesizeViewCylinder(t *testing.T) {
	const h, w, r = 64, 128, 2.0
	texture := func(height float64) float64 { return 0.5 + 0.4*math.Sin(2*height) }
	top := rimage.NewTensor(rimage.Shape{N: 1, H: h, W: w, C: 1})
	bottom := rimage.NewTensor(top.Shape())
	for y := 0; y < h; y++ {
		tanLat := math.Tan(spherical.RowLatitude(y, h))
		for x := 0; x < w; x++ {
			top.Set(0, y, x, 0, texture(r*tanLat))
			bottom.Set(0, y, x, 0, texture(Baseline+r*tanLat))
		}
	}
	wall := rimage.NewTensorFilled(top.Shape(), r)

	for _, tc := range []struct {
		position       Position
		source, target *rimage.Tensor
	}{
		{Top, bottom, top},
		{Bottom, top, bottom},
	} {
		angular, err := DepthToAngularDisparity(wall, tc.position)
		test.That(t, err, test.ShouldBeNil)
		estimate, err := SynthesizeView(tc.source, angular, tc.position)
		test.That(t, err, test.ShouldBeNil)
		for y := 0; y < h; y++ {
			if math.Abs(spherical.RowLatitude(y, h)) > 0.6 {
				continue
			}
			for x := 0; x < w; x += 9 {
				test.That(t, estimate.At(0, y, x, 0), test.ShouldAlmostEqual, tc.target.At(0, y, x, 0), 0.02)
			}
		}
	}

	_, err := SynthesizeView(top, rimage.NewTensor(rimage.Shape{N: 1, H: 8, W: 16, C: 1}), Top)
	test.That(t, errors.Is(err, utils.ErrShapeMismatch), test.ShouldBeTrue)
}
