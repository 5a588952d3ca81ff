// Package pointcloud defines a point cloud, back-projects equirectangular depth maps into one and
// writes it out as PCD or XYZ.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty bounding box.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge grows the metadata to include p.
func (meta *MetaData) Merge(p r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}
	meta.MinX = math.Min(meta.MinX, p.X)
	meta.MaxX = math.Max(meta.MaxX, p.X)
	meta.MinY = math.Min(meta.MinY, p.Y)
	meta.MaxY = math.Max(meta.MaxY, p.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Z)
	meta.MaxZ = math.Max(meta.MaxZ, p.Z)
}

// PointCloud is a general purpose container of points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud, replacing the data of an existing point at the
	// same position.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate calls fn for every point in insertion order. If fn returns false, iteration stops.
	Iterate(fn func(p r3.Vector, d Data) bool)
}
