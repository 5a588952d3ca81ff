package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/depth360/dataset"
	"go.viam.com/depth360/logging"
	"go.viam.com/depth360/model"
	"go.viam.com/depth360/pointcloud"
	"go.viam.com/depth360/rimage"
)

type inferOptions struct {
	OutputDir string
	// ImageFormat is the extension of the written pictures: "jpg", "png" or "ppm".
	ImageFormat string
	// PointCloudFormat is "xyz" or "pcd".
	PointCloudFormat string
	// PointCloudInterval writes a point cloud for every image whose index is a multiple of it.
	PointCloudInterval int
}

func (o inferOptions) validate() error {
	if o.OutputDir == "" {
		return errors.New("output directory is required")
	}
	switch o.ImageFormat {
	case "jpg", "png", "ppm":
	default:
		return errors.Errorf("unknown image format %q", o.ImageFormat)
	}
	if o.PointCloudFormat != "xyz" && o.PointCloudFormat != "pcd" {
		return errors.Errorf("unknown point cloud format %q", o.PointCloudFormat)
	}
	if o.PointCloudInterval < 0 {
		return errors.Errorf("point cloud interval must not be negative, got %d", o.PointCloudInterval)
	}
	return nil
}

// rateMeter tracks an exponentially smoothed images per second rate.
type rateMeter struct {
	clk  clock.Clock
	rate float64
}

func (r *rateMeter) start() time.Time {
	return r.clk.Now()
}

// observe folds in a batch of n images started at start. New batches weigh 0.9.
func (r *rateMeter) observe(start time.Time, n int) float64 {
	elapsed := r.clk.Since(start).Seconds()
	if elapsed > 0 {
		r.rate = 0.9*float64(n)/elapsed + 0.1*r.rate
	}
	return r.rate
}

// runInference writes, for the i-th pair, i_depth_top.jpg, i_depth_bottom.jpg, i_top.jpg and
// i_bottom_est.jpg (or the configured image format), plus i_pc.xyz (or .pcd) at the point cloud interval. It returns the number of
// pairs written.
func runInference(
	ctx context.Context,
	m *model.Model,
	loader *dataset.Loader,
	opts inferOptions,
	logger logging.Logger,
	clk clock.Clock,
) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return 0, err
	}
	meter := &rateMeter{clk: clk}
	index := 0
	for {
		logger.Infof("processing image %d, current rate: %.2f fps", index, meter.rate)
		batch, err := loader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return index, nil
		}
		if err != nil {
			return index, err
		}
		start := meter.start()
		out, err := m.Forward(ctx, batch.Top, batch.Bottom)
		if err != nil {
			return index, errors.Wrapf(err, "batch starting at image %d", index)
		}
		meter.observe(start, batch.Top.Batch())

		for n := 0; n < batch.Top.Batch(); n++ {
			if err := writeResults(out, n, index, opts); err != nil {
				return index, err
			}
			index++
		}
	}
}

func writeResults(out *model.Outputs, n, index int, opts inferOptions) error {
	scale := out.Scales[rimage.Scale0]
	name := func(suffix string) string {
		return filepath.Join(opts.OutputDir, fmt.Sprintf("%d_%s", index, suffix))
	}

	depthTop, err := rimage.PrettyDepth(scale.TopDepth, n)
	if err != nil {
		return err
	}
	depthBottom, err := rimage.PrettyDepth(scale.BottomDepth, n)
	if err != nil {
		return err
	}
	top, err := rimage.TensorToImage(out.Top, n)
	if err != nil {
		return err
	}
	bottomEst, err := rimage.TensorToImage(scale.BottomEstimate, n)
	if err != nil {
		return err
	}
	for _, result := range []struct {
		suffix string
		img    image.Image
	}{
		{"depth_top", depthTop},
		{"depth_bottom", depthBottom},
		{"top", top},
		{"bottom_est", bottomEst},
	} {
		path := name(result.suffix + "." + opts.ImageFormat)
		if err := rimage.WriteImageToFile(path, result.img); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
	}

	if opts.PointCloudInterval == 0 || index%opts.PointCloudInterval != 0 {
		return nil
	}
	cloud, err := pointcloud.FromEquirectangularDepth(scale.TopDepth, n, out.Top)
	if err != nil {
		return err
	}
	return pointcloud.WriteToFile(cloud, name("pc."+opts.PointCloudFormat))
}
