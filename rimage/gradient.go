package rimage

import "math"

// GradientX returns the forward difference img[x] - img[x+1] along the columns. The result is one
// column narrower than img.
func GradientX(img *Tensor) *Tensor {
	s := img.Shape()
	if s.W < 1 {
		return NewTensor(s)
	}
	out := NewTensor(s.Spatial(s.H, s.W-1))
	for n := 0; n < s.N; n++ {
		for y := 0; y < s.H; y++ {
			for x := 0; x < s.W-1; x++ {
				for c := 0; c < s.C; c++ {
					out.Set(n, y, x, c, img.At(n, y, x, c)-img.At(n, y, x+1, c))
				}
			}
		}
	}
	return out
}

// GradientY returns the forward difference img[y] - img[y+1] along the rows. The result is one row
// shorter than img.
func GradientY(img *Tensor) *Tensor {
	s := img.Shape()
	if s.H < 1 {
		return NewTensor(s)
	}
	out := NewTensor(s.Spatial(s.H-1, s.W))
	for n := 0; n < s.N; n++ {
		for y := 0; y < s.H-1; y++ {
			for x := 0; x < s.W; x++ {
				for c := 0; c < s.C; c++ {
					out.Set(n, y, x, c, img.At(n, y, x, c)-img.At(n, y+1, x, c))
				}
			}
		}
	}
	return out
}

// Crop returns the top left h by w window of img.
func Crop(img *Tensor, h, w int) *Tensor {
	s := img.Shape()
	out := NewTensor(s.Spatial(h, w))
	for n := 0; n < s.N; n++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < s.C; c++ {
					out.Set(n, y, x, c, img.At(n, y, x, c))
				}
			}
		}
	}
	return out
}

// EdgeWeights turns an image gradient into the per-pixel weight exp(-mean_c |g|), a single channel
// map that decays across strong edges.
func EdgeWeights(grad *Tensor) *Tensor {
	s := grad.Shape()
	out := NewTensor(s.WithChannels(1))
	for n := 0; n < s.N; n++ {
		for y := 0; y < s.H; y++ {
			for x := 0; x < s.W; x++ {
				var sum float64
				for c := 0; c < s.C; c++ {
					sum += math.Abs(grad.At(n, y, x, c))
				}
				out.Set(n, y, x, 0, math.Exp(-sum/float64(s.C)))
			}
		}
	}
	return out
}
