// Package spherical implements the coordinate transforms between equirectangular pixels,
// longitude/latitude angles, 3D rays and cube face coordinates.
//
// Conventions: a pixel with index i covers [i, i+1) and has its centre at i+0.5. Longitude grows
// with the column and latitude grows downward with the row. The 3D frame is X right, Y down and
// Z forward, so longitude 0 at the equator looks along +Z.
package spherical

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depth360/utils"
)

// PoleMargin keeps latitudes handed to tan away from ±π/2.
const PoleMargin = 1e-6

// PixelToLonLat converts the continuous equirectangular position (x, y) in an image of w by h
// pixels to longitude in [-π, π) and latitude in [-π/2, π/2).
func PixelToLonLat(x, y float64, w, h int) (lon, lat float64) {
	lon = 2 * math.Pi * (x/float64(w) - 0.5)
	lat = math.Pi * (y/float64(h) - 0.5)
	return lon, lat
}

// LonLatToIndex is the inverse of PixelToLonLat expressed in index space, where integer values are
// pixel centres. This is the coordinate resamplers take.
func LonLatToIndex(lon, lat float64, w, h int) (x, y float64) {
	x = (lon/(2*math.Pi)+0.5)*float64(w) - 0.5
	y = (lat/math.Pi+0.5)*float64(h) - 0.5
	return x, y
}

// LatLongGrid returns longitude (S) and latitude (T) for the centre of every pixel of an h by w
// equirectangular image. Both matrices are h by w. No centre lies on a pole or on the ±π seam.
func LatLongGrid(h, w int) (S, T *mat.Dense) {
	S = mat.NewDense(h, w, nil)
	T = mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lon, lat := PixelToLonLat(float64(x)+0.5, float64(y)+0.5, w, h)
			S.Set(y, x, lon)
			T.Set(y, x, lat)
		}
	}
	return S, T
}

// RowLatitude returns the latitude of the centre of row y in an image h rows tall.
func RowLatitude(y, h int) float64 {
	return math.Pi * ((float64(y)+0.5)/float64(h) - 0.5)
}

// ClampLatitude restricts lat to [-π/2+PoleMargin, π/2-PoleMargin].
func ClampLatitude(lat float64) float64 {
	return utils.ClampF64(lat, -math.Pi/2+PoleMargin, math.Pi/2-PoleMargin)
}

// Atan2 is the four quadrant arctangent. With x == 0 it returns ±π/2 for y ≠ 0 and 0 for y == 0.
func Atan2(y, x float64) float64 {
	return math.Atan2(y, x)
}

// Direction returns the unit ray for a longitude and latitude.
func Direction(lon, lat float64) r3.Vector {
	cosLat := math.Cos(lat)
	return r3.Vector{X: cosLat * math.Sin(lon), Y: math.Sin(lat), Z: cosLat * math.Cos(lon)}
}

// DirectionToLonLat returns the longitude and latitude of a (not necessarily unit) ray.
func DirectionToLonLat(v r3.Vector) (lon, lat float64) {
	return Atan2(v.X, v.Z), Atan2(v.Y, math.Hypot(v.X, v.Z))
}
