// Package model runs the top/bottom spherical stereo pipeline: pyramids and cube faces of the
// inputs, the per face backbone, re-assembled equirectangular depth, synthesized counter views and
// the multi-scale loss.
package model

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/depth360/config"
	"go.viam.com/depth360/cubemap"
	"go.viam.com/depth360/depth"
	"go.viam.com/depth360/logging"
	"go.viam.com/depth360/loss"
	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
	"go.viam.com/depth360/utils"
)

// Model evaluates one backbone over batches of top/bottom panoramas. It holds no per batch state
// and is safe for concurrent use as long as its backbone is.
type Model struct {
	cfg      config.Config
	backbone ml.Backbone
	logger   logging.Logger
}

// New returns a model for the given config. The config is validated and copied.
func New(cfg *config.Config, backbone ml.Backbone, logger logging.Logger) (*Model, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if backbone == nil {
		return nil, errors.New("backbone is required")
	}
	c := *cfg
	if err := c.Validate(""); err != nil {
		return nil, err
	}
	return &Model{cfg: c, backbone: backbone, logger: logger}, nil
}

// Config returns the validated config.
func (m *Model) Config() config.Config {
	return m.cfg
}

// ScaleOutputs holds every map of one pyramid level.
type ScaleOutputs struct {
	Level rimage.ScaleLevel

	// Disparity is the equirectangular face disparity, channel 0 top and channel 1 bottom.
	Disparity *rimage.Tensor
	// Depth is the equirectangular depth with the same channel layout.
	Depth *rimage.Tensor

	TopDepth, BottomDepth *rimage.Tensor
	// TopAngular and BottomAngular are the angular disparities towards the other camera.
	TopAngular, BottomAngular *rimage.Tensor
	// TopEstimate is the top view synthesized from the bottom image, and vice versa.
	TopEstimate, BottomEstimate *rimage.Tensor
	// TopCrossDepth is the bottom depth warped into the top view, and vice versa.
	TopCrossDepth, BottomCrossDepth *rimage.Tensor
}

// Outputs is the result of a forward pass.
type Outputs struct {
	Top, Bottom   *rimage.Tensor
	TopPyramid    [rimage.NumScales]*rimage.Tensor
	BottomPyramid [rimage.NumScales]*rimage.Tensor

	TopFaces cubemap.Faces
	// FaceDisparities is the backbone output per face.
	FaceDisparities [spherical.NumFaces]ml.Pyramid

	Scales [rimage.NumScales]ScaleOutputs
}

// LossInputs arranges the outputs for loss.Assemble.
func (o *Outputs) LossInputs() [rimage.NumScales]loss.ScaleInputs {
	var in [rimage.NumScales]loss.ScaleInputs
	for _, level := range rimage.ScaleLevels {
		s := o.Scales[level]
		in[level] = loss.ScaleInputs{
			Top: loss.ViewInputs{
				Image:      o.TopPyramid[level],
				Estimate:   s.TopEstimate,
				Depth:      s.TopDepth,
				CrossDepth: s.TopCrossDepth,
			},
			Bottom: loss.ViewInputs{
				Image:      o.BottomPyramid[level],
				Estimate:   s.BottomEstimate,
				Depth:      s.BottomDepth,
				CrossDepth: s.BottomCrossDepth,
			},
		}
	}
	return in
}

func (m *Model) checkInputs(top, bottom *rimage.Tensor) error {
	if top == nil || bottom == nil {
		return errors.New("top and bottom images are required")
	}
	if err := top.SameShape("bottom image", bottom); err != nil {
		return err
	}
	if err := cubemap.CheckEquirectangular(top); err != nil {
		return err
	}
	if top.Height() != m.cfg.Height || top.Width() != m.cfg.Width {
		return utils.NewShapeMismatchError("input image",
			top.Shape().Spatial(m.cfg.Height, m.cfg.Width), top.Shape())
	}
	return nil
}

// Forward runs the pipeline on a batch. The backbone only sees the faces of the top image.
func (m *Model) Forward(ctx context.Context, top, bottom *rimage.Tensor) (*Outputs, error) {
	if err := m.checkInputs(top, bottom); err != nil {
		return nil, err
	}
	start := time.Now()
	out := &Outputs{Top: top, Bottom: bottom}

	bottomSource := bottom
	if m.cfg.LegacyBottomPyramid {
		bottomSource = top
	}
	topPyramid, err := rimage.ScalePyramid(top, rimage.NumScales)
	if err != nil {
		return nil, errors.Wrap(err, "top pyramid")
	}
	bottomPyramid, err := rimage.ScalePyramid(bottomSource, rimage.NumScales)
	if err != nil {
		return nil, errors.Wrap(err, "bottom pyramid")
	}
	copy(out.TopPyramid[:], topPyramid)
	copy(out.BottomPyramid[:], bottomPyramid)

	if out.TopFaces, err = cubemap.EquirectangularToCubic(top, m.cfg.FaceSize); err != nil {
		return nil, err
	}
	if err := m.runBackbone(ctx, out); err != nil {
		return nil, err
	}

	funcs := make([]utils.SimpleFunc, 0, rimage.NumScales)
	for _, level := range rimage.ScaleLevels {
		level := level
		funcs = append(funcs, func(ctx context.Context) error {
			s, err := m.scale(out, level)
			if err != nil {
				return errors.Wrap(err, level.String())
			}
			out.Scales[level] = s
			return nil
		})
	}
	if _, err := utils.RunInParallel(ctx, funcs); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Debugw("forward pass", "batch", top.Batch(), "took", time.Since(start))
	}
	return out, nil
}

// runBackbone evaluates every face concurrently and stores the pyramids by face id.
func (m *Model) runBackbone(ctx context.Context, out *Outputs) error {
	funcs := make([]utils.SimpleFunc, 0, spherical.NumFaces)
	for _, face := range spherical.Faces {
		face := face
		funcs = append(funcs, func(ctx context.Context) error {
			p, err := m.backbone.DisparityPyramid(ctx, out.TopFaces[face])
			if err != nil {
				return errors.Wrapf(err, "backbone on face %v", face)
			}
			if err := ml.CheckPyramid(out.TopFaces[face], p); err != nil {
				return errors.Wrapf(err, "backbone on face %v", face)
			}
			out.FaceDisparities[face] = p
			return nil
		})
	}
	_, err := utils.RunInParallel(ctx, funcs)
	return err
}

func (m *Model) scale(out *Outputs, level rimage.ScaleLevel) (ScaleOutputs, error) {
	s := ScaleOutputs{Level: level}
	var dispFaces, depthFaces cubemap.Faces
	for _, face := range spherical.Faces {
		disp := out.FaceDisparities[face][level]
		faceDepth, err := depth.FaceDisparityToDepth(disp, face)
		if err != nil {
			return s, err
		}
		dispFaces[face] = disp
		depthFaces[face] = faceDepth
	}

	h, w := out.TopPyramid[level].Height(), out.TopPyramid[level].Width()
	var err error
	if s.Disparity, err = cubemap.CubicToEquirectangular(dispFaces, h, w); err != nil {
		return s, errors.Wrap(err, "disparity")
	}
	if s.Depth, err = cubemap.CubicToEquirectangular(depthFaces, h, w); err != nil {
		return s, errors.Wrap(err, "depth")
	}
	s.TopDepth = s.Depth.Channel(0)
	s.BottomDepth = s.Depth.Channel(1)

	if s.TopAngular, err = depth.DepthToAngularDisparity(s.TopDepth, depth.Top); err != nil {
		return s, err
	}
	if s.BottomAngular, err = depth.DepthToAngularDisparity(s.BottomDepth, depth.Bottom); err != nil {
		return s, err
	}

	if s.TopEstimate, err = depth.SynthesizeView(out.BottomPyramid[level], s.TopAngular, depth.Top); err != nil {
		return s, err
	}
	if s.BottomEstimate, err = depth.SynthesizeView(out.TopPyramid[level], s.BottomAngular, depth.Bottom); err != nil {
		return s, err
	}
	if s.TopCrossDepth, err = depth.SynthesizeView(s.BottomDepth, s.TopAngular, depth.Top); err != nil {
		return s, err
	}
	if s.BottomCrossDepth, err = depth.SynthesizeView(s.TopDepth, s.BottomAngular, depth.Bottom); err != nil {
		return s, err
	}
	return s, nil
}

// Losses evaluates the multi-scale objective of a forward pass.
func (m *Model) Losses(ctx context.Context, out *Outputs) (loss.Losses, error) {
	losses, err := loss.Assemble(ctx, out.LossInputs(), m.cfg.LossWeights())
	if err != nil {
		return losses, err
	}
	if m.logger != nil {
		m.logger.Debugw("losses",
			"total", losses.Total,
			"image", losses.Image,
			"smoothness", losses.Smoothness,
			"consistency", losses.Consistency)
	}
	return losses, nil
}

// Evaluate runs Forward followed by Losses.
func (m *Model) Evaluate(ctx context.Context, top, bottom *rimage.Tensor) (*Outputs, loss.Losses, error) {
	out, err := m.Forward(ctx, top, bottom)
	if err != nil {
		return nil, loss.Losses{}, err
	}
	losses, err := m.Losses(ctx, out)
	if err != nil {
		return nil, loss.Losses{}, err
	}
	return out, losses, nil
}
