// Package encdec is a small convolutional encoder-decoder that predicts a disparity pyramid for a
// cube face.
//
// The encoder runs a stride one stage and three stride two stages, each feeding a skip connection.
// Every decoder stage upsamples the previous features (nearest neighbour then a convolution, or a
// stride two transposed convolution), concatenates the skip features and the upsampled coarser
// disparity, and emits MaxDisparity·sigmoid(conv) as the disparity of its level.
package encdec

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/utils"
)

// InputChannels is the channel count of a face.
const InputChannels = 3

// Config shapes the network.
type Config struct {
	BaseChannels int   `json:"base_channels"`
	UseDeconv    bool  `json:"use_deconv"`
	Seed         int64 `json:"seed"`
}

// Validate ensures all parts of the config are valid.
func (c Config) Validate(path string) error {
	if c.BaseChannels <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "base_channels")
	}
	return nil
}

// layer names, encoder first.
var layerNames = []string{
	"enc0", "enc1", "enc2", "enc3",
	"iconv3", "disp3",
	"up2", "iconv2", "disp2",
	"up1", "iconv1", "disp1",
	"up0", "iconv0", "disp0",
}

// Network is an initialised encoder-decoder. Its weights are read only during DisparityPyramid so
// a single Network serves every face concurrently.
type Network struct {
	Config Config           `json:"config"`
	Layers map[string]*Conv `json:"layers"`
}

var _ ml.Backbone = (*Network)(nil)

// New returns a network with He initialised weights drawn from cfg.Seed.
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate("backbone"); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec
	c := cfg.BaseChannels
	d := ml.DisparityChannels
	net := &Network{Config: cfg, Layers: map[string]*Conv{
		"enc0": newConv(rng, InputChannels, c, 3, 1),
		"enc1": newConv(rng, c, 2*c, 3, 2),
		"enc2": newConv(rng, 2*c, 4*c, 3, 2),
		"enc3": newConv(rng, 4*c, 8*c, 3, 2),

		"iconv3": newConv(rng, 8*c, 4*c, 3, 1),
		"disp3":  newConv(rng, 4*c, d, 3, 1),

		"up2":    newConv(rng, 4*c, 2*c, 3, 1),
		"iconv2": newConv(rng, 2*c+4*c+d, 2*c, 3, 1),
		"disp2":  newConv(rng, 2*c, d, 3, 1),

		"up1":    newConv(rng, 2*c, c, 3, 1),
		"iconv1": newConv(rng, c+2*c+d, c, 3, 1),
		"disp1":  newConv(rng, c, d, 3, 1),

		"up0":    newConv(rng, c, c, 3, 1),
		"iconv0": newConv(rng, c+c+d, c, 3, 1),
		"disp0":  newConv(rng, c, d, 3, 1),
	}}
	return net, nil
}

// Validate checks that every layer is present and well formed.
func (net *Network) Validate() error {
	if err := net.Config.Validate("backbone"); err != nil {
		return err
	}
	for _, name := range layerNames {
		layer, ok := net.Layers[name]
		if !ok {
			return errors.Errorf("missing layer %q", name)
		}
		if err := layer.validate(); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}

func (net *Network) conv(name string, in *rimage.Tensor) (*rimage.Tensor, error) {
	out, err := net.Layers[name].Forward(in)
	return out, errors.Wrap(err, name)
}

func (net *Network) convELU(name string, in *rimage.Tensor) (*rimage.Tensor, error) {
	out, err := net.conv(name, in)
	if err != nil {
		return nil, err
	}
	return ELU(out), nil
}

func (net *Network) disparity(name string, in *rimage.Tensor) (*rimage.Tensor, error) {
	out, err := net.conv(name, in)
	if err != nil {
		return nil, err
	}
	squashed, err := stats.Sigmoid(out.Data())
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	disp, err := rimage.NewTensorFromData(out.Shape(), squashed)
	if err != nil {
		return nil, err
	}
	return disp.Scale(ml.MaxDisparity), nil
}

func (net *Network) upsample(name string, in *rimage.Tensor) (*rimage.Tensor, error) {
	if net.Config.UseDeconv {
		return net.convELU(name, ZeroInsert(in))
	}
	return net.convELU(name, rimage.UpsampleNearest(in, 2))
}

// decode runs one decoder stage and returns its features and disparity.
func (net *Network) decode(level int, features, skip, coarser *rimage.Tensor) (*rimage.Tensor, *rimage.Tensor, error) {
	suffix := strconv.Itoa(level)
	up, err := net.upsample("up"+suffix, features)
	if err != nil {
		return nil, nil, err
	}
	joined, err := rimage.ConcatChannels(up, skip, rimage.UpsampleNearest(coarser, 2))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoder stage %d", level)
	}
	iconv, err := net.convELU("iconv"+suffix, joined)
	if err != nil {
		return nil, nil, err
	}
	disp, err := net.disparity("disp"+suffix, iconv)
	if err != nil {
		return nil, nil, err
	}
	return iconv, disp, nil
}

// DisparityPyramid runs the network on a face whose size is divisible by 8.
func (net *Network) DisparityPyramid(ctx context.Context, face *rimage.Tensor) (ml.Pyramid, error) {
	var p ml.Pyramid
	if face.Channels() != InputChannels {
		return p, utils.NewShapeMismatchError("face channels", InputChannels, face.Channels())
	}
	if face.Height() != face.Width() || face.Height()%8 != 0 || face.Height() == 0 {
		return p, utils.NewShapeMismatchError("face", "square, divisible by 8", face.Shape())
	}

	skip0, err := net.convELU("enc0", face)
	if err != nil {
		return p, err
	}
	skip1, err := net.convELU("enc1", skip0)
	if err != nil {
		return p, err
	}
	skip2, err := net.convELU("enc2", skip1)
	if err != nil {
		return p, err
	}
	bottleneck, err := net.convELU("enc3", skip2)
	if err != nil {
		return p, err
	}
	if err := ctx.Err(); err != nil {
		return p, err
	}

	iconv3, err := net.convELU("iconv3", bottleneck)
	if err != nil {
		return p, err
	}
	if p[rimage.Scale3], err = net.disparity("disp3", iconv3); err != nil {
		return p, err
	}
	iconv2, disp2, err := net.decode(2, iconv3, skip2, p[rimage.Scale3])
	if err != nil {
		return p, err
	}
	p[rimage.Scale2] = disp2
	iconv1, disp1, err := net.decode(1, iconv2, skip1, disp2)
	if err != nil {
		return p, err
	}
	p[rimage.Scale1] = disp1
	_, disp0, err := net.decode(0, iconv1, skip0, disp1)
	if err != nil {
		return p, err
	}
	p[rimage.Scale0] = disp0
	return p, ml.CheckPyramid(face, p)
}

// Save writes the network as JSON.
func (net *Network) Save(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	return enc.Encode(net)
}

// Load reads a network written by Save.
func Load(path string) (*Network, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var net Network
	if err := json.Unmarshal(data, &net); err != nil {
		return nil, errors.Wrapf(err, "cannot parse network weights %q", path)
	}
	if err := net.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid network weights %q", path)
	}
	return &net, nil
}
