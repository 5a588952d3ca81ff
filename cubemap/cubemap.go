// Package cubemap re-projects between equirectangular panoramas and the six faces of a cube map.
package cubemap

import (
	"image"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
	"go.viam.com/depth360/utils"
)

// Faces holds one tensor per cube face, indexed by spherical.FaceID.
type Faces [spherical.NumFaces]*rimage.Tensor

// Size returns the side length of the faces.
func (f Faces) Size() int {
	if f[0] == nil {
		return 0
	}
	return f[0].Height()
}

// Validate checks that every face is present, square and of the same shape.
func (f Faces) Validate() error {
	for _, face := range spherical.Faces {
		t := f[face]
		if t == nil {
			return errors.Errorf("missing cube face %v", face)
		}
		if t.Height() != t.Width() {
			return utils.NewShapeMismatchError("cube face "+face.String(), "square face", t.Shape())
		}
		if err := f[0].SameShape("cube face "+face.String(), t); err != nil {
			return err
		}
	}
	return nil
}

// CheckEquirectangular fails unless img is non empty with width == 2*height.
func CheckEquirectangular(img *rimage.Tensor) error {
	if img.Height() == 0 || img.Width() != 2*img.Height() {
		return utils.NewShapeMismatchError("equirectangular width", 2*img.Height(), img.Width())
	}
	return nil
}

// EquirectangularToCubic samples img onto six faceSize by faceSize faces. For every face pixel the
// ray through its centre is converted to longitude and latitude and the panorama is bilinearly
// sampled there, wrapping across the ±π seam.
func EquirectangularToCubic(img *rimage.Tensor, faceSize int) (Faces, error) {
	var faces Faces
	if err := CheckEquirectangular(img); err != nil {
		return faces, err
	}
	if faceSize <= 0 {
		return faces, errors.Errorf("face size must be positive, got %d", faceSize)
	}
	w, h, channels := img.Width(), img.Height(), img.Channels()
	for _, face := range spherical.Faces {
		out := rimage.NewTensor(img.Shape().Spatial(faceSize, faceSize))
		face := face
		utils.ParallelForEachPixel(image.Point{faceSize, faceSize}, func(i, j int) {
			ray := spherical.FaceRay(face, spherical.FaceLocal(i, faceSize), spherical.FaceLocal(j, faceSize))
			lon, lat := spherical.DirectionToLonLat(ray)
			sx, sy := spherical.LonLatToIndex(lon, lat, w, h)
			for n := 0; n < img.Batch(); n++ {
				for c := 0; c < channels; c++ {
					out.Set(n, j, i, c, rimage.SampleAt(img, n, sx, sy, c, rimage.BorderWrapX))
				}
			}
		})
		faces[face] = out
	}
	return faces, nil
}

// FaceSample is where on the cube a ray lands: the face and the index space position on it.
type FaceSample struct {
	Face     spherical.FaceID
	Col, Row float64
}

// Locate returns the face pierced by ray and the clamped position of the hit in face index space.
func Locate(ray r3.Vector, faceSize int) FaceSample {
	face := spherical.FaceForRay(ray)
	a, b := spherical.FaceCoords(face, ray)
	limit := float64(faceSize - 1)
	return FaceSample{
		Face: face,
		Col:  utils.ClampF64(spherical.LocalToFaceIndex(a, faceSize), 0, limit),
		Row:  utils.ClampF64(spherical.LocalToFaceIndex(b, faceSize), 0, limit),
	}
}

// CubicToEquirectangular assembles an h by w panorama from the six faces. Each destination pixel
// takes its value from exactly one face, chosen by the dominant axis of its ray, so there is no
// blending across seams.
func CubicToEquirectangular(faces Faces, h, w int) (*rimage.Tensor, error) {
	if err := faces.Validate(); err != nil {
		return nil, err
	}
	if h <= 0 || w <= 0 {
		return nil, utils.NewShapeMismatchError("equirectangular target", "positive extent", image.Point{w, h})
	}
	faceSize := faces.Size()
	out := rimage.NewTensor(faces[0].Shape().Spatial(h, w))
	channels := out.Channels()
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		lon, lat := spherical.PixelToLonLat(float64(x)+0.5, float64(y)+0.5, w, h)
		hit := Locate(spherical.Direction(lon, lat), faceSize)
		src := faces[hit.Face]
		for n := 0; n < out.Batch(); n++ {
			for c := 0; c < channels; c++ {
				out.Set(n, y, x, c, rimage.SampleAt(src, n, hit.Col, hit.Row, c, rimage.BorderClamp))
			}
		}
	})
	return out, nil
}

// FaceMap returns, for an h by w panorama, which face each pixel is read from. It is used to
// inspect the face layout.
func FaceMap(h, w, faceSize int) [][]spherical.FaceID {
	layout := make([][]spherical.FaceID, h)
	for y := range layout {
		layout[y] = make([]spherical.FaceID, w)
		for x := range layout[y] {
			lon, lat := spherical.PixelToLonLat(float64(x)+0.5, float64(y)+0.5, w, h)
			layout[y][x] = Locate(spherical.Direction(lon, lat), faceSize).Face
		}
	}
	return layout
}
