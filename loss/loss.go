package loss

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// Weights mixes the loss terms.
type Weights struct {
	// AlphaImage balances SSIM against L1 in the photometric term.
	AlphaImage float64
	// Smoothness scales the summed depth smoothness term.
	Smoothness float64
	// Consistency scales the summed top/bottom consistency term.
	Consistency float64
	// SmoothnessOrder is the order of the depth gradient, 1 or 2.
	SmoothnessOrder int
}

// DefaultWeights returns the usual training mix.
func DefaultWeights() Weights {
	return Weights{AlphaImage: 0.75, Smoothness: 1, Consistency: 1, SmoothnessOrder: 2}
}

// Validate checks the weights are usable.
func (w Weights) Validate() error {
	if w.AlphaImage < 0 || w.AlphaImage > 1 {
		return errors.Errorf("alpha image loss must be in [0, 1], got %v", w.AlphaImage)
	}
	if w.Smoothness < 0 || w.Consistency < 0 {
		return errors.Errorf("loss weights must be non negative, got smoothness %v and consistency %v",
			w.Smoothness, w.Consistency)
	}
	if w.SmoothnessOrder != 1 && w.SmoothnessOrder != 2 {
		return errors.Errorf("smoothness order must be 1 or 2, got %d", w.SmoothnessOrder)
	}
	return nil
}

// ViewInputs are the maps of one view at one pyramid level.
type ViewInputs struct {
	// Image is the view's own pyramid image.
	Image *rimage.Tensor
	// Estimate is the view synthesized from the other camera's image.
	Estimate *rimage.Tensor
	// Depth is the view's one channel depth.
	Depth *rimage.Tensor
	// CrossDepth is the other view's depth warped with this view's disparity.
	CrossDepth *rimage.Tensor
}

// ViewTerms are the loss terms of one view at one pyramid level.
type ViewTerms struct {
	// L1Map is the latitude weighted absolute reconstruction error.
	L1Map *rimage.Tensor
	// SSIMMap is the unweighted structural dissimilarity.
	SSIMMap *rimage.Tensor

	L1          float64
	SSIM        float64
	Image       float64
	Smoothness  float64
	Consistency float64
}

// View evaluates every term of one view at a pyramid level.
func View(in ViewInputs, level rimage.ScaleLevel, w Weights) (ViewTerms, error) {
	var terms ViewTerms
	if in.Image == nil || in.Estimate == nil || in.Depth == nil || in.CrossDepth == nil {
		return terms, errors.Errorf("incomplete inputs at %v", level)
	}
	mask := WeightMask(in.Image.Shape())

	l1, err := L1(in.Estimate, in.Image)
	if err != nil {
		return terms, errors.Wrap(err, "l1")
	}
	if terms.L1Map, err = l1.ZipWith(broadcast(mask, l1.Channels()), func(a, b float64) float64 { return a * b }); err != nil {
		return terms, err
	}
	terms.L1 = terms.L1Map.Mean()

	if terms.SSIMMap, err = SSIM(in.Estimate, in.Image); err != nil {
		return terms, errors.Wrap(err, "ssim")
	}
	if terms.SSIM, err = MaskedMean(terms.SSIMMap, WeightMask(terms.SSIMMap.Shape())); err != nil {
		return terms, err
	}
	terms.Image = w.AlphaImage*terms.SSIM + (1-w.AlphaImage)*terms.L1

	sx, sy, err := Smoothness(in.Depth, in.Image, w.SmoothnessOrder)
	if err != nil {
		return terms, err
	}
	terms.Smoothness = (MeanAbs(sx) + MeanAbs(sy)) / float64(level.Divisor())

	diff, err := L1(in.CrossDepth, in.Depth)
	if err != nil {
		return terms, errors.Wrap(err, "top bottom consistency")
	}
	if terms.Consistency, err = MaskedMean(diff, WeightMask(diff.Shape())); err != nil {
		return terms, err
	}
	return terms, nil
}

func broadcast(mask *rimage.Tensor, channels int) *rimage.Tensor {
	if channels == 1 {
		return mask
	}
	out := rimage.NewTensor(mask.Shape().WithChannels(channels))
	src, dst := mask.Data(), out.Data()
	for i := range dst {
		dst[i] = src[i/channels]
	}
	return out
}

// ScaleInputs pairs the two views at one level.
type ScaleInputs struct {
	Top, Bottom ViewInputs
}

// ScaleTerms pairs the two views' terms at one level.
type ScaleTerms struct {
	Level       rimage.ScaleLevel
	Top, Bottom ViewTerms
}

// L1 is the summed L1 term of both views.
func (s ScaleTerms) L1() float64 { return s.Top.L1 + s.Bottom.L1 }

// SSIM is the summed SSIM term of both views.
func (s ScaleTerms) SSIM() float64 { return s.Top.SSIM + s.Bottom.SSIM }

// Image is the summed photometric term of both views.
func (s ScaleTerms) Image() float64 { return s.Top.Image + s.Bottom.Image }

// Smoothness is the summed smoothness term of both views.
func (s ScaleTerms) Smoothness() float64 { return s.Top.Smoothness + s.Bottom.Smoothness }

// Consistency is the summed consistency term of both views.
func (s ScaleTerms) Consistency() float64 { return s.Top.Consistency + s.Bottom.Consistency }

// Losses is the full objective with its breakdown.
type Losses struct {
	Scales      [rimage.NumScales]ScaleTerms
	Image       float64
	Smoothness  float64
	Consistency float64
	Total       float64
}

// Assemble evaluates the views of every level concurrently and combines them into
// image + Smoothness·smoothness + Consistency·consistency.
func Assemble(ctx context.Context, inputs [rimage.NumScales]ScaleInputs, w Weights) (Losses, error) {
	var out Losses
	if err := w.Validate(); err != nil {
		return out, err
	}
	funcs := make([]utils.SimpleFunc, 0, 2*rimage.NumScales)
	for _, level := range rimage.ScaleLevels {
		level := level
		out.Scales[level].Level = level
		funcs = append(funcs,
			func(ctx context.Context) (err error) {
				out.Scales[level].Top, err = View(inputs[level].Top, level, w)
				return errors.Wrapf(err, "top view at %v", level)
			},
			func(ctx context.Context) (err error) {
				out.Scales[level].Bottom, err = View(inputs[level].Bottom, level, w)
				return errors.Wrapf(err, "bottom view at %v", level)
			},
		)
	}
	if _, err := utils.RunInParallel(ctx, funcs); err != nil {
		return Losses{}, err
	}
	for _, s := range out.Scales {
		out.Image += s.Image()
		out.Smoothness += s.Smoothness()
		out.Consistency += s.Consistency()
	}
	out.Total = out.Image + w.Smoothness*out.Smoothness + w.Consistency*out.Consistency
	return out, nil
}
