package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// HasValue returns whether or not this point has a value, the depth it was back-projected
	// from.
	HasValue() bool

	// Value returns the value, if it exists.
	Value() float64
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasValue bool
	value    float64
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewValueData returns a point that has both position and a value.
func NewValueData(v float64) Data {
	return &basicData{value: v, hasValue: true}
}

// NewColoredValueData returns a point with a color and a value.
func NewColoredValueData(c color.NRGBA, v float64) Data {
	return &basicData{c: c, hasColor: true, value: v, hasValue: true}
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return &bp.c
}

func (bp *basicData) HasValue() bool {
	return bp.hasValue
}

func (bp *basicData) Value() float64 {
	return bp.value
}
