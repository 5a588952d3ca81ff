package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/depth360/config"
	"go.viam.com/depth360/dataset"
	"go.viam.com/depth360/logging"
	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/model"
	"go.viam.com/depth360/rimage"
	"go.viam.com/depth360/spherical"
)

const (
	testHeight = 32
	testWidth  = 64
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Height = testHeight
	cfg.Width = testWidth
	cfg.BatchSize = 2
	cfg.Backbone.BaseChannels = 2
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
	return cfg
}

// writePanorama writes a smooth testWidth by testHeight image.
func writePanorama(t *testing.T, path string, phase float64) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, testWidth, testHeight))
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			v := func(c float64) uint8 {
				return uint8(127 + 60*math.Sin(2*math.Pi*float64(x)/testWidth+phase+c) +
					40*math.Cos(math.Pi*float64(y)/testHeight))
			}
			img.SetNRGBA(x, y, color.NRGBA{v(0), v(1), v(2), 255})
		}
	}
	test.That(t, rimage.WriteImageToFile(path, img), test.ShouldBeNil)
}

// writePairs writes n pairs and their filenames file, returning its path.
func writePairs(t *testing.T, dir string, n int) string {
	t.Helper()
	var lines []string
	for i := 0; i < n; i++ {
		top, bottom := fmt.Sprintf("top_%d.png", i), fmt.Sprintf("bottom_%d.png", i)
		writePanorama(t, filepath.Join(dir, top), float64(i))
		writePanorama(t, filepath.Join(dir, bottom), float64(i)+0.1)
		lines = append(lines, top+" "+bottom)
	}
	path := filepath.Join(dir, "filenames.txt")
	test.That(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600), test.ShouldBeNil)
	return path
}

func TestRateMeter(t *testing.T) {
	clk := clock.NewMock()
	meter := &rateMeter{clk: clk}

	start := meter.start()
	clk.Add(time.Second)
	test.That(t, meter.observe(start, 8), test.ShouldAlmostEqual, 7.2, 1e-9)

	start = meter.start()
	clk.Add(500 * time.Millisecond)
	test.That(t, meter.observe(start, 8), test.ShouldAlmostEqual, 0.9*16+0.72, 1e-9)

	start = meter.start()
	test.That(t, meter.observe(start, 8), test.ShouldAlmostEqual, 0.9*16+0.72, 1e-9)
}

func TestInferOptionsValidate(t *testing.T) {
	good := inferOptions{OutputDir: "out", ImageFormat: "ppm", PointCloudFormat: "pcd", PointCloudInterval: 200}
	test.That(t, good.validate(), test.ShouldBeNil)

	for _, tc := range []struct {
		name string
		opts inferOptions
		err  string
	}{
		{"no dir", inferOptions{ImageFormat: "jpg", PointCloudFormat: "xyz"}, "output directory"},
		{"image format", inferOptions{OutputDir: "out", ImageFormat: "gif", PointCloudFormat: "xyz"}, "unknown image format"},
		{"format", inferOptions{OutputDir: "out", ImageFormat: "jpg", PointCloudFormat: "ply"}, "unknown point cloud format"},
		{"interval", inferOptions{OutputDir: "out", ImageFormat: "png", PointCloudFormat: "xyz", PointCloudInterval: -1}, "negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}
}

func TestRunInference(t *testing.T) {
	dir := t.TempDir()
	pairs, err := dataset.ReadFilenames(writePairs(t, dir, 3), dir)
	test.That(t, err, test.ShouldBeNil)

	cfg := testConfig(t)
	logger, logs := logging.NewObservedTestLogger(t)
	m, err := model.New(cfg, ml.ConstantBackbone{Value: 0.1}, logger)
	test.That(t, err, test.ShouldBeNil)
	loader, err := dataset.NewLoader(pairs, cfg.BatchSize, cfg.Height, cfg.Width)
	test.That(t, err, test.ShouldBeNil)

	out := filepath.Join(dir, "results")
	opts := inferOptions{OutputDir: out, ImageFormat: "jpg", PointCloudFormat: "xyz", PointCloudInterval: 2}
	written, err := runInference(context.Background(), m, loader, opts, logger, clock.NewMock())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, written, test.ShouldEqual, 3)

	for i := 0; i < 3; i++ {
		for _, suffix := range []string{"depth_top.jpg", "depth_bottom.jpg", "top.jpg", "bottom_est.jpg"} {
			_, err := os.Stat(filepath.Join(out, fmt.Sprintf("%d_%s", i, suffix)))
			test.That(t, err, test.ShouldBeNil)
		}
	}
	_, err = os.Stat(filepath.Join(out, "0_pc.xyz"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(out, "2_pc.xyz"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(out, "1_pc.xyz"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	test.That(t, logs.FilterMessageSnippet("processing image 2").Len(), test.ShouldEqual, 1)

	img, err := rimage.ReadImageFromFile(filepath.Join(out, "0_depth_top.jpg"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, testWidth)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, testHeight)

	t.Run("bad options", func(t *testing.T) {
		_, err := runInference(context.Background(), m, loader, inferOptions{}, logger, clock.NewMock())
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("ppm pictures", func(t *testing.T) {
		loader, err := dataset.NewLoader(pairs[:1], cfg.BatchSize, cfg.Height, cfg.Width)
		test.That(t, err, test.ShouldBeNil)
		ppmDir := filepath.Join(dir, "ppm")
		opts := inferOptions{OutputDir: ppmDir, ImageFormat: "ppm", PointCloudFormat: "xyz"}
		written, err := runInference(context.Background(), m, loader, opts, logger, clock.NewMock())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, written, test.ShouldEqual, 1)
		for _, suffix := range []string{"depth_top", "depth_bottom", "top", "bottom_est"} {
			img, err := rimage.ReadImageFromFile(filepath.Join(ppmDir, "0_"+suffix+".ppm"))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, testWidth, testHeight))
		}
		_, err = os.Stat(filepath.Join(ppmDir, "0_pc.xyz"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})
}

func TestEvaluateBatch(t *testing.T) {
	dir := t.TempDir()
	pairs, err := dataset.ReadFilenames(writePairs(t, dir, 2), dir)
	test.That(t, err, test.ShouldBeNil)
	cfg := testConfig(t)
	m, err := model.New(cfg, ml.ConstantBackbone{Value: 0.1}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	batch, err := dataset.LoadBatch(context.Background(), pairs, cfg.Height, cfg.Width)
	test.That(t, err, test.ShouldBeNil)

	report, err := evaluateBatch(context.Background(), m, batch, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.shardedTotal, test.ShouldBeNil)
	test.That(t, report.Table(), test.ShouldContainSubstring, "tb_loss_3")

	sharded, err := evaluateBatch(context.Background(), m, batch, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sharded.shardedTotal, test.ShouldNotBeNil)
	test.That(t, *sharded.shardedTotal, test.ShouldAlmostEqual, sharded.losses.Total, 1e-6)

	var hist bytes.Buffer
	test.That(t, report.DepthHistogram(&hist, 1), test.ShouldBeNil)
	test.That(t, hist.Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, report.DepthHistogram(&hist, 2), test.ShouldNotBeNil)

	chart := filepath.Join(dir, "losses.png")
	test.That(t, report.SavePlot(chart), test.ShouldBeNil)
	_, err = os.Stat(chart)
	test.That(t, err, test.ShouldBeNil)

	_, err = evaluateBatch(context.Background(), m, batch, 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvertPanorama(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "pano.png")
	writePanorama(t, in, 0)
	out := filepath.Join(dir, "faces")

	maxErr, err := convertPanorama(in, out, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxErr, test.ShouldBeBetweenOrEqual, 0, 1)

	for _, face := range spherical.Faces {
		img, err := rimage.ReadImageFromFile(filepath.Join(out, face.String()+".png"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, testHeight/2)
	}
	for _, name := range []string{"equirectangular.png", "facemap.png"} {
		img, err := rimage.ReadImageFromFile(filepath.Join(out, name))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, testWidth, testHeight))
	}

	_, err = convertPanorama(filepath.Join(dir, "missing.png"), out, testConfig(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFaceMapImage(t *testing.T) {
	img := faceMapImage(testHeight, testWidth, testHeight/2)
	// the centre of the panorama looks down +Z and its top row is read from a polar face.
	centre := img.At(testWidth/2, testHeight/2)
	top := img.At(testWidth/2, 0)
	test.That(t, centre, test.ShouldNotResemble, top)
}

func TestPlanTable(t *testing.T) {
	s, err := model.NewSchedule(10, 4, 5, 1e-4)
	test.That(t, err, test.ShouldBeNil)
	out := planTable(10, s)
	for _, want := range []string{"15", "0.0001", "5e-05", "2.5e-05"} {
		test.That(t, out, test.ShouldContainSubstring, want)
	}
}

func TestApp(t *testing.T) {
	t.Run("config schema", func(t *testing.T) {
		var buf bytes.Buffer
		app := newApp()
		app.Writer = &buf
		test.That(t, app.Run([]string{"depth360", "config-schema"}), test.ShouldBeNil)
		test.That(t, buf.String(), test.ShouldContainSubstring, "smoothness_loss_weight")
	})

	t.Run("plan", func(t *testing.T) {
		dir := t.TempDir()
		filenames := writePairs(t, dir, 3)
		var buf bytes.Buffer
		app := newApp()
		app.Writer = &buf
		err := app.Run([]string{
			"depth360", "--set", "height=32", "--set", "width=64", "--set", "batch_size=2",
			"plan", "--filenames-file", filenames, "--data-path", dir,
		})
		test.That(t, err, test.ShouldBeNil)
		// 3 samples in batches of 2 for the default 50 epochs.
		test.That(t, buf.String(), test.ShouldContainSubstring, "100")
	})

	t.Run("bad override", func(t *testing.T) {
		app := newApp()
		app.Writer = &bytes.Buffer{}
		err := app.Run([]string{"depth360", "--set", "height", "convert", "a.png", "out"})
		test.That(t, err, test.ShouldNotBeNil)

		err = app.Run([]string{"depth360", "--set", "height=33", "convert", "a.png", "out"})
		test.That(t, err, test.ShouldNotBeNil)
	})
}
