package spherical

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// FaceID names one of the six axis aligned cube faces.
type FaceID int

// The faces in the order face arrays are indexed by.
const (
	PX FaceID = iota
	NX
	PY
	NY
	PZ
	NZ
)

// NumFaces is the number of cube faces.
const NumFaces = 6

// Faces lists every face in index order.
var Faces = [NumFaces]FaceID{PX, NX, PY, NY, PZ, NZ}

var faceNames = [NumFaces]string{"px", "nx", "py", "ny", "pz", "nz"}

func (f FaceID) String() string {
	if f < 0 || int(f) >= NumFaces {
		return "unknown"
	}
	return faceNames[f]
}

// FaceForIndex returns the face stored at index i of a face array.
func FaceForIndex(i int) (FaceID, error) {
	if i < 0 || i >= NumFaces {
		return 0, errors.Errorf("face index %d out of range [0, %d)", i, NumFaces)
	}
	return Faces[i], nil
}

// ParseFaceID reads a face name such as "pz".
func ParseFaceID(name string) (FaceID, error) {
	for i, n := range faceNames {
		if n == name {
			return Faces[i], nil
		}
	}
	return 0, errors.Errorf("unknown cube face %q", name)
}

// IsPolar reports whether the face looks along the vertical (Y) axis.
func (f FaceID) IsPolar() bool {
	return f == PY || f == NY
}

// FaceRay returns the (unnormalized) ray through face local coordinates (a, b) in (-1, 1), where a
// runs along the face columns and b along the rows. The ray's dominant component is ±1.
func FaceRay(face FaceID, a, b float64) r3.Vector {
	switch face {
	case PX:
		return r3.Vector{X: 1, Y: b, Z: -a}
	case NX:
		return r3.Vector{X: -1, Y: b, Z: a}
	case PY:
		return r3.Vector{X: a, Y: 1, Z: -b}
	case NY:
		return r3.Vector{X: a, Y: -1, Z: b}
	case PZ:
		return r3.Vector{X: a, Y: b, Z: 1}
	case NZ:
		return r3.Vector{X: -a, Y: b, Z: -1}
	}
	panic(errors.Errorf("unreachable: face %d", face))
}

// FaceForRay picks the face a ray pierces: the axis with the largest magnitude component, ties
// going to X before Y before Z.
func FaceForRay(v r3.Vector) FaceID {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	switch {
	case ax >= ay && ax >= az:
		if v.X >= 0 {
			return PX
		}
		return NX
	case ay >= az:
		if v.Y >= 0 {
			return PY
		}
		return NY
	default:
		if v.Z >= 0 {
			return PZ
		}
		return NZ
	}
}

// FaceCoords projects a ray onto face and returns its face local coordinates. It inverts FaceRay
// for rays that pierce the face.
func FaceCoords(face FaceID, v r3.Vector) (a, b float64) {
	switch face {
	case PX:
		return -v.Z / v.X, v.Y / v.X
	case NX:
		return v.Z / -v.X, v.Y / -v.X
	case PY:
		return v.X / v.Y, -v.Z / v.Y
	case NY:
		return v.X / -v.Y, v.Z / -v.Y
	case PZ:
		return v.X / v.Z, v.Y / v.Z
	case NZ:
		return -v.X / -v.Z, v.Y / -v.Z
	}
	panic(errors.Errorf("unreachable: face %d", face))
}

// FaceLocal returns the local coordinate of the centre of face pixel i on a face size pixels wide.
func FaceLocal(i, size int) float64 {
	return (2*float64(i)+1)/float64(size) - 1
}

// LocalToFaceIndex maps a local coordinate back to face index space, where integer values are pixel
// centres.
func LocalToFaceIndex(a float64, size int) float64 {
	return (a+1)/2*float64(size) - 0.5
}

// HorizontalRangeScale is the factor turning the perpendicular distance of a face pixel at local
// coordinates (a, b) into its distance from the vertical axis. On the side faces the face normal is
// horizontal, so the range is p·sqrt(1+a²); on the polar faces the horizontal offset of a point at
// perpendicular distance p is p·sqrt(a²+b²).
func HorizontalRangeScale(face FaceID, a, b float64) float64 {
	if face.IsPolar() {
		return math.Hypot(a, b)
	}
	return math.Sqrt(1 + a*a)
}
