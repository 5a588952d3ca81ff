package rimage

import (
	"image"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/depth360/utils"
)

// Kernel is a 2D correlation filter.
type Kernel struct {
	m *mat.Dense
}

// NewKernel builds a kernel from rows of equal length.
func NewKernel(rows [][]float64) Kernel {
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	m := mat.NewDense(h, w, nil)
	for y, row := range rows {
		m.SetRow(y, row)
	}
	return Kernel{m}
}

// BoxKernel returns the size by size averaging kernel.
func BoxKernel(size int) Kernel {
	data := make([]float64, size*size)
	for i := range data {
		data[i] = 1 / float64(size*size)
	}
	return Kernel{mat.NewDense(size, size, data)}
}

// Size returns the kernel extent as (width, height).
func (k Kernel) Size() image.Point {
	h, w := k.m.Dims()
	return image.Point{w, h}
}

// At returns the coefficient at column x and row y.
func (k Kernel) At(x, y int) float64 {
	return k.m.At(y, x)
}

// ConvolveValid correlates every channel of img with the kernel at all positions where the kernel
// fits entirely inside the image. The output shrinks by the kernel size minus one in each axis.
func ConvolveValid(img *Tensor, kernel Kernel) *Tensor {
	kernelSize := kernel.Size()
	h := img.Height() - kernelSize.Y + 1
	w := img.Width() - kernelSize.X + 1
	if h < 0 {
		h = 0
	}
	if w < 0 {
		w = 0
	}
	out := NewTensor(img.Shape().Spatial(h, w))
	channels := img.Channels()
	for n := 0; n < img.Batch(); n++ {
		n := n
		utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
			for c := 0; c < channels; c++ {
				sum := float64(0)
				for ky := 0; ky < kernelSize.Y; ky++ {
					for kx := 0; kx < kernelSize.X; kx++ {
						sum += img.At(n, y+ky, x+kx, c) * kernel.At(kx, ky)
					}
				}
				out.Set(n, y, x, c, sum)
			}
		})
	}
	return out
}

// AvgPool3x3 is a stride one, unpadded 3x3 mean filter.
func AvgPool3x3(img *Tensor) *Tensor {
	return ConvolveValid(img, BoxKernel(3))
}
