// Package config defines the configuration of the depth estimator.
package config

import (
	"github.com/pkg/errors"

	"go.viam.com/depth360/logging"
	"go.viam.com/depth360/loss"
	"go.viam.com/depth360/ml/encdec"
	"go.viam.com/depth360/utils"
)

// Config describes the images, the loss mix and the backbone.
type Config struct {
	Height     int  `json:"height"`
	Width      int  `json:"width"`
	BatchSize  int  `json:"batch_size"`
	FaceSize   int  `json:"face_size,omitempty"`
	NumThreads int  `json:"num_threads,omitempty"`
	NumEpochs  int  `json:"num_epochs"`
	UseDeconv  bool `json:"use_deconv"`

	AlphaImageLoss       float64 `json:"alpha_image_loss"`
	SmoothnessLossWeight float64 `json:"smoothness_loss_weight"`
	TBLossWeight         float64 `json:"tb_loss_weight"`
	SmoothnessOrder      int     `json:"smoothness_order"`

	FullSummary bool `json:"full_summary"`
	// LegacyBottomPyramid builds the bottom pyramid from the top image.
	LegacyBottomPyramid bool `json:"legacy_bottom_pyramid"`

	Backbone BackboneConfig `json:"backbone"`
	LogLevel logging.Level  `json:"log_level"`
}

// BackboneConfig configures the default encoder-decoder.
type BackboneConfig struct {
	BaseChannels int   `json:"base_channels"`
	Seed         int64 `json:"seed"`
	// Weights is an optional file written by encdec.Network.Save.
	Weights string `json:"weights,omitempty"`
	// ONNXModel replaces the encoder-decoder with an exported model run by onnxruntime.
	ONNXModel   string `json:"onnx_model,omitempty"`
	ONNXLibrary string `json:"onnx_library,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (bc *BackboneConfig) Validate(path string) error {
	if bc.ONNXModel != "" {
		if bc.Weights != "" {
			return utils.NewConfigValidationError(path, errors.New("weights and onnx_model are exclusive"))
		}
		return nil
	}
	if bc.BaseChannels <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "base_channels")
	}
	return nil
}

const minHeight = 24

// Default returns the training defaults for 256x512 panoramas.
func Default() *Config {
	return &Config{
		Height:               256,
		Width:                512,
		BatchSize:            8,
		NumEpochs:            50,
		AlphaImageLoss:       0.75,
		SmoothnessLossWeight: 1,
		TBLossWeight:         1,
		SmoothnessOrder:      2,
		Backbone:             BackboneConfig{BaseChannels: 8},
		LogLevel:             logging.INFO,
	}
}

// Validate ensures all parts of the config are valid. A zero face size defaults to half the
// height.
func (c *Config) Validate(path string) error {
	if c.Height <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "height")
	}
	if c.Height%8 != 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("height must be divisible by 8, got %d", c.Height))
	}
	// The coarsest level is height/8 rows and SSIM needs a 3x3 window.
	if c.Height < minHeight {
		return utils.NewConfigValidationError(path, errors.Errorf("height must be at least %d, got %d", minHeight, c.Height))
	}
	if c.Width != 2*c.Height {
		return utils.NewConfigValidationError(path, errors.Errorf("width must be twice the height, got %dx%d", c.Width, c.Height))
	}
	if c.BatchSize <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "batch_size")
	}
	if c.FaceSize == 0 {
		c.FaceSize = c.Height / 2
	}
	if c.FaceSize < 0 || c.FaceSize%8 != 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("face_size must be a positive multiple of 8, got %d", c.FaceSize))
	}
	if c.NumThreads < 0 || c.NumEpochs < 0 {
		return utils.NewConfigValidationError(path, errors.New("num_threads and num_epochs cannot be negative"))
	}
	if err := c.LossWeights().Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return c.Backbone.Validate(utils.JoinPath(path, "backbone"))
}

// LossWeights returns the loss mix.
func (c *Config) LossWeights() loss.Weights {
	return loss.Weights{
		AlphaImage:      c.AlphaImageLoss,
		Smoothness:      c.SmoothnessLossWeight,
		Consistency:     c.TBLossWeight,
		SmoothnessOrder: c.SmoothnessOrder,
	}
}

// EncoderDecoder returns the configuration of the default backbone.
func (c *Config) EncoderDecoder() encdec.Config {
	return encdec.Config{
		BaseChannels: c.Backbone.BaseChannels,
		UseDeconv:    c.UseDeconv,
		Seed:         c.Backbone.Seed,
	}
}
