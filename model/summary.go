package model

import (
	"sort"
	"strconv"

	"github.com/samber/lo"

	"go.viam.com/depth360/loss"
	"go.viam.com/depth360/rimage"
)

// Summaries are the named scalars and images reported for a batch.
type Summaries struct {
	Scalars map[string]float64
	Images  map[string]*rimage.Tensor
}

// ScalarNames returns the scalar names in sorted order.
func (s Summaries) ScalarNames() []string {
	names := lo.Keys(s.Scalars)
	sort.Strings(names)
	return names
}

// ImageNames returns the image names in sorted order.
func (s Summaries) ImageNames() []string {
	names := lo.Keys(s.Images)
	sort.Strings(names)
	return names
}

// Summaries names the per scale losses and disparity maps of a pass. Top and bottom are summed
// for every scalar. Synthesized views, error maps and the inputs are only added with full_summary.
func (m *Model) Summaries(out *Outputs, losses loss.Losses) Summaries {
	s := Summaries{
		Scalars: map[string]float64{"total_loss": losses.Total},
		Images:  map[string]*rimage.Tensor{},
	}
	for _, level := range rimage.ScaleLevels {
		i := suffix(level)
		terms := losses.Scales[level]
		s.Scalars["ssim_loss_"+i] = terms.SSIM()
		s.Scalars["l1_loss_"+i] = terms.L1()
		s.Scalars["image_loss_"+i] = terms.Image()
		s.Scalars["depth_gradient_loss_"+i] = terms.Smoothness()
		s.Scalars["tb_loss_"+i] = terms.Consistency()

		scale := out.Scales[level]
		s.Images["disp_top_est_"+i] = scale.Disparity.Channel(0)
		s.Images["disp_bottom_est_"+i] = scale.Disparity.Channel(1)
		if !m.cfg.FullSummary {
			continue
		}
		s.Images["top_est_"+i] = scale.TopEstimate
		s.Images["bottom_est_"+i] = scale.BottomEstimate
		s.Images["ssim_top_"+i] = terms.Top.SSIMMap
		s.Images["ssim_bottom_"+i] = terms.Bottom.SSIMMap
		s.Images["l1_top_"+i] = terms.Top.L1Map
		s.Images["l1_bottom_"+i] = terms.Bottom.L1Map
	}
	if m.cfg.FullSummary {
		s.Images["top"] = out.Top
		s.Images["bottom"] = out.Bottom
	}
	return s
}

func suffix(level rimage.ScaleLevel) string {
	return strconv.Itoa(int(level))
}
