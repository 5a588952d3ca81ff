package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
	"go.viam.com/depth360/utils"
)

// BackProject returns the point seen at (lon, lat) whose horizontal distance from the vertical
// axis is depth: (d·sin lon, d·tan lat, d·cos lon).
func BackProject(lon, lat, depth float64) r3.Vector {
	return r3.Vector{
		X: depth * math.Sin(lon),
		Y: depth * math.Tan(spherical.ClampLatitude(lat)),
		Z: depth * math.Cos(lon),
	}
}

// FromEquirectangularDepth back-projects sample n of a one channel equirectangular depth map into
// a point cloud. colors, when given, is an image of the same extent whose first three channels in
// [0, 1] color the points. Pixels without a finite positive depth are skipped.
func FromEquirectangularDepth(depthMap *rimage.Tensor, n int, colors *rimage.Tensor) (PointCloud, error) {
	if depthMap.Channels() != 1 {
		return nil, utils.NewShapeMismatchError("depth channels", 1, depthMap.Channels())
	}
	if n < 0 || n >= depthMap.Batch() {
		return nil, errors.Errorf("sample %d out of range [0, %d)", n, depthMap.Batch())
	}
	h, w := depthMap.Height(), depthMap.Width()
	if colors != nil {
		if colors.Height() != h || colors.Width() != w || colors.Channels() < 3 || colors.Batch() <= n {
			return nil, utils.NewShapeMismatchError("point colors", depthMap.Shape().WithChannels(3), colors.Shape())
		}
	}

	cloud := NewWithPrealloc(h * w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := depthMap.At(n, y, x, 0)
			if !utils.IsFinite(d) || d <= 0 {
				continue
			}
			lon, lat := spherical.PixelToLonLat(float64(x)+0.5, float64(y)+0.5, w, h)
			var data Data
			if colors != nil {
				data = NewColoredValueData(color.NRGBA{
					R: to8(colors.At(n, y, x, 0)),
					G: to8(colors.At(n, y, x, 1)),
					B: to8(colors.At(n, y, x, 2)),
					A: 255,
				}, d)
			} else {
				data = NewValueData(d)
			}
			if err := cloud.Set(BackProject(lon, lat, d), data); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}

func to8(v float64) uint8 {
	return uint8(utils.ClampF64(v, 0, 1)*255 + 0.5)
}
