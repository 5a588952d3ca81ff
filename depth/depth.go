// Package depth converts between cube face disparities, depth and the angular disparity of the
// vertically stacked stereo rig.
//
// Depth here is the horizontal distance from the rig's vertical axis. The bottom camera sits
// Baseline below the top camera.
package depth

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
	"go.viam.com/depth360/utils"
)

// Baseline is the vertical distance between the two cameras.
const Baseline = 0.5

// Epsilon guards the disparity to distance inversion.
const Epsilon = 1e-6

// Position says which camera a map is referenced from.
type Position int

const (
	// Top is the upper camera.
	Top Position = iota
	// Bottom is the lower camera.
	Bottom
)

func (p Position) String() string {
	switch p {
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	}
	return "unknown"
}

// Other returns the opposite camera.
func (p Position) Other() Position {
	if p == Top {
		return Bottom
	}
	return Top
}

// sign is -1 for the top camera and +1 for the bottom camera.
func (p Position) sign() float64 {
	if p == Top {
		return -1
	}
	return 1
}

// FaceDisparityToDepth back-projects every channel of a face disparity map. The perpendicular
// distance 1/(disp+Epsilon) is scaled by the face geometry of each pixel into horizontal range.
func FaceDisparityToDepth(disp *rimage.Tensor, face spherical.FaceID) (*rimage.Tensor, error) {
	if disp.Height() != disp.Width() {
		return nil, utils.NewShapeMismatchError("face disparity", "square face", disp.Shape())
	}
	size := disp.Height()
	out := rimage.NewTensor(disp.Shape())
	for j := 0; j < size; j++ {
		b := spherical.FaceLocal(j, size)
		for i := 0; i < size; i++ {
			scale := spherical.HorizontalRangeScale(face, spherical.FaceLocal(i, size), b)
			for n := 0; n < disp.Batch(); n++ {
				for c := 0; c < disp.Channels(); c++ {
					out.Set(n, j, i, c, scale/(disp.At(n, j, i, c)+Epsilon))
				}
			}
		}
	}
	return out, nil
}

func checkSingleChannel(t *rimage.Tensor, what string) error {
	if t.Channels() != 1 {
		return utils.NewShapeMismatchError(what+" channels", 1, t.Channels())
	}
	return nil
}

// DepthToAngularDisparity returns, for every pixel of a one channel equirectangular depth map seen
// from position, the latitude difference to the same point seen from the other camera:
//
//	atan2(b·d, (1+tan²T)·d² ∓ b·d·tanT)
//
// with minus for Top and plus for Bottom. The latitude grid follows the map's own resolution, so
// this must be evaluated per pyramid level.
func DepthToAngularDisparity(depthMap *rimage.Tensor, position Position) (*rimage.Tensor, error) {
	if err := checkSingleChannel(depthMap, "depth"); err != nil {
		return nil, err
	}
	_, T := spherical.LatLongGrid(depthMap.Height(), depthMap.Width())
	out := rimage.NewTensor(depthMap.Shape())
	sign := position.sign()
	for n := 0; n < depthMap.Batch(); n++ {
		for y := 0; y < depthMap.Height(); y++ {
			for x := 0; x < depthMap.Width(); x++ {
				tanLat := math.Tan(spherical.ClampLatitude(T.At(y, x)))
				d := depthMap.At(n, y, x, 0)
				out.Set(n, y, x, 0, spherical.Atan2(Baseline*d, (1+tanLat*tanLat)*d*d+sign*Baseline*d*tanLat))
			}
		}
	}
	return out, nil
}

// AngularDisparityToDepth inverts DepthToAngularDisparity: d = b(1/tanΔ ± tanT)/(1+tan²T) with plus
// for Top and minus for Bottom. A zero disparity maps to +Inf.
func AngularDisparityToDepth(disp *rimage.Tensor, position Position) (*rimage.Tensor, error) {
	if err := checkSingleChannel(disp, "angular disparity"); err != nil {
		return nil, err
	}
	out := rimage.NewTensor(disp.Shape())
	sign := -position.sign()
	for n := 0; n < disp.Batch(); n++ {
		for y := 0; y < disp.Height(); y++ {
			tanLat := math.Tan(spherical.ClampLatitude(spherical.RowLatitude(y, disp.Height())))
			for x := 0; x < disp.Width(); x++ {
				delta := disp.At(n, y, x, 0)
				if delta == 0 {
					out.Set(n, y, x, 0, math.Inf(1))
					continue
				}
				out.Set(n, y, x, 0, Baseline*(1/math.Tan(delta)+sign*tanLat)/(1+tanLat*tanLat))
			}
		}
	}
	return out, nil
}

// AngularToPixelOffset converts an angular disparity into rows of its own equirectangular map, where
// the full height spans π of latitude.
func AngularToPixelOffset(disp *rimage.Tensor) *rimage.Tensor {
	return disp.Scale(float64(disp.Height()) / math.Pi)
}

// SynthesisOffset is the vertical sampling offset, in rows, that reconstructs the view at position
// from the other camera's image. The lower camera sees a point higher up, so the top view reads
// upward from the bottom image and the bottom view reads downward from the top image.
func SynthesisOffset(angular *rimage.Tensor, position Position) *rimage.Tensor {
	return AngularToPixelOffset(angular).Scale(position.sign())
}

// SynthesizeView warps source, the image of the camera opposite to position, with the angular
// disparity of position. Samples beyond the image edge read as zero.
func SynthesizeView(source, angular *rimage.Tensor, position Position) (*rimage.Tensor, error) {
	if source.Height() != angular.Height() || source.Width() != angular.Width() {
		return nil, errors.Wrap(
			utils.NewShapeMismatchError("view synthesis", source.Shape().WithChannels(1), angular.Shape()),
			position.String())
	}
	return rimage.BilinearSample(source, nil, SynthesisOffset(angular, position), rimage.BorderZero)
}
