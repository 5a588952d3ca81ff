package rimage

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depth360/utils"
)

// NumScales is the number of pyramid levels the model works at.
const NumScales = 4

// ScaleLevel names a pyramid level. Level 0 is full resolution and every following level
// halves both dimensions.
type ScaleLevel int

// The four pyramid levels.
const (
	Scale0 ScaleLevel = iota
	Scale1
	Scale2
	Scale3
)

// ScaleLevels lists the levels from finest to coarsest.
var ScaleLevels = [NumScales]ScaleLevel{Scale0, Scale1, Scale2, Scale3}

func (s ScaleLevel) String() string {
	return fmt.Sprintf("scale_%d", int(s))
}

// Divisor returns 2^level.
func (s ScaleLevel) Divisor() int {
	return 1 << uint(s)
}

// Of returns the extent of this level for a full resolution extent.
func (s ScaleLevel) Of(size image.Point) image.Point {
	return image.Point{size.X / s.Divisor(), size.Y / s.Divisor()}
}

// PyramidShapes returns the (width, height) of each of numScales levels, floor dividing by 2^i.
func PyramidShapes(size image.Point, numScales int) []image.Point {
	shapes := make([]image.Point, 0, numScales)
	for i := 0; i < numScales; i++ {
		shapes = append(shapes, image.Point{size.X >> uint(i), size.Y >> uint(i)})
	}
	return shapes
}

// ScalePyramid returns img followed by numScales-1 area downsampled copies, each half the size of
// the previous level.
func ScalePyramid(img *Tensor, numScales int) ([]*Tensor, error) {
	if numScales < 1 {
		return nil, errors.Errorf("pyramid needs at least one scale, got %d", numScales)
	}
	shapes := PyramidShapes(image.Point{img.Width(), img.Height()}, numScales)
	pyramid := make([]*Tensor, 0, numScales)
	pyramid = append(pyramid, img)
	for _, size := range shapes[1:] {
		scaled, err := ResizeArea(img, size.Y, size.X)
		if err != nil {
			return nil, err
		}
		pyramid = append(pyramid, scaled)
	}
	return pyramid, nil
}

type areaTap struct {
	src    int
	weight float64
}

// areaTaps returns, for every output index, the source indices it covers and how much of each.
func areaTaps(srcLen, dstLen int) [][]areaTap {
	scale := float64(srcLen) / float64(dstLen)
	taps := make([][]areaTap, dstLen)
	for o := 0; o < dstLen; o++ {
		start := float64(o) * scale
		end := float64(o+1) * scale
		for s := int(math.Floor(start)); s < int(math.Ceil(end)) && s < srcLen; s++ {
			overlap := math.Min(end, float64(s+1)) - math.Max(start, float64(s))
			if overlap > 0 {
				taps[o] = append(taps[o], areaTap{s, overlap / scale})
			}
		}
	}
	return taps
}

// ResizeArea resamples img to h by w by averaging the source area each output pixel covers.
func ResizeArea(img *Tensor, h, w int) (*Tensor, error) {
	if h <= 0 || w <= 0 {
		return nil, utils.NewShapeMismatchError("resize target", "positive extent", image.Point{w, h})
	}
	if h == img.Height() && w == img.Width() {
		return img.Clone(), nil
	}
	rowTaps := areaTaps(img.Height(), h)
	colTaps := areaTaps(img.Width(), w)
	out := NewTensor(img.Shape().Spatial(h, w))
	channels := img.Channels()
	for n := 0; n < img.Batch(); n++ {
		n := n
		utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
			for c := 0; c < channels; c++ {
				var sum float64
				for _, ry := range rowTaps[y] {
					for _, cx := range colTaps[x] {
						sum += ry.weight * cx.weight * img.At(n, ry.src, cx.src, c)
					}
				}
				out.Set(n, y, x, c, sum)
			}
		})
	}
	return out, nil
}

// UpsampleNearest repeats every pixel ratio times along both axes.
func UpsampleNearest(img *Tensor, ratio int) *Tensor {
	out := NewTensor(img.Shape().Spatial(img.Height()*ratio, img.Width()*ratio))
	for n := 0; n < out.Batch(); n++ {
		for y := 0; y < out.Height(); y++ {
			for x := 0; x < out.Width(); x++ {
				for c := 0; c < out.Channels(); c++ {
					out.Set(n, y, x, c, img.At(n, y/ratio, x/ratio, c))
				}
			}
		}
	}
	return out
}
