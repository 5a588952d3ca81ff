package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/depth360/config"
	"go.viam.com/depth360/dataset"
	"go.viam.com/depth360/logging"
	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/ml/encdec"
	"go.viam.com/depth360/ml/onnx"
	"go.viam.com/depth360/model"
	"go.viam.com/depth360/utils"
)

// logFileMaxSizeMB is the size at which the --log-file output is rotated.
const logFileMaxSizeMB = 100

// setup loads the config, applies the --set overrides and builds the logger.
func setup(c *cli.Context) (*config.Config, logging.Logger, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, nil, err
		}
	}
	attrs, err := config.ParseAttributes(c.StringSlice(flagSet))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Apply(attrs); err != nil {
		return nil, nil, err
	}
	if cfg.NumThreads > 0 {
		utils.ParallelFactor = cfg.NumThreads
	}

	logger := logging.NewLogger("depth360")
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(cfg.LogLevel)
	}
	if path := c.String(flagLogFile); path != "" {
		logger.AddAppender(logging.NewFileAppender(path, logFileMaxSizeMB))
	}
	logging.ReplaceGlobal(logger)
	return cfg, logger, nil
}

// newBackbone picks the backbone named by the config: an onnx model, saved encoder-decoder
// weights, or a freshly initialized encoder-decoder. The returned function releases it.
func newBackbone(cfg *config.Config, logger logging.Logger) (ml.Backbone, func() error, error) {
	noop := func() error { return nil }
	switch {
	case cfg.Backbone.ONNXModel != "":
		engine, err := onnx.NewEngine(onnx.Options{
			ModelPath:         cfg.Backbone.ONNXModel,
			SharedLibraryPath: cfg.Backbone.ONNXLibrary,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("using onnx backbone", "model", cfg.Backbone.ONNXModel)
		return ml.InferenceBackbone{Engine: engine}, engine.Close, nil
	case cfg.Backbone.Weights != "":
		net, err := encdec.Load(cfg.Backbone.Weights)
		if err != nil {
			return nil, nil, err
		}
		logger.Infow("loaded backbone weights", "path", cfg.Backbone.Weights)
		return net, noop, nil
	default:
		net, err := encdec.New(cfg.EncoderDecoder())
		if err != nil {
			return nil, nil, err
		}
		logger.Warnw("backbone has untrained weights", "seed", cfg.Backbone.Seed)
		return net, noop, nil
	}
}

// restore points the backbone at the weights of a checkpoint unless the config names some.
func restore(c *cli.Context, cfg *config.Config, logger logging.Logger) error {
	path := c.String(flagCheckpt)
	if path == "" {
		return nil
	}
	ckpt, err := model.ReadCheckpoint(path, false)
	if err != nil {
		return err
	}
	logger.Infow("restored checkpoint", "path", path, "global_step", ckpt.GlobalStep)
	if ckpt.Weights != "" && cfg.Backbone.Weights == "" && cfg.Backbone.ONNXModel == "" {
		weights := ckpt.Weights
		if !filepath.IsAbs(weights) {
			weights = filepath.Join(filepath.Dir(path), weights)
		}
		cfg.Backbone.Weights = weights
	}
	return nil
}

// newModel builds the model and its backbone for a command.
func newModel(c *cli.Context, cfg *config.Config, logger logging.Logger) (*model.Model, func() error, error) {
	if err := restore(c, cfg, logger); err != nil {
		return nil, nil, err
	}
	backbone, release, err := newBackbone(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	m, err := model.New(cfg, backbone, logger.Sublogger("model"))
	if err != nil {
		return nil, nil, multierr.Combine(err, release())
	}
	return m, release, nil
}

func readPairs(c *cli.Context) ([]dataset.Pair, error) {
	pairs, err := dataset.ReadFilenames(c.String(flagFilenames), c.String(flagDataPath))
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errors.Errorf("no image pairs in %q", c.String(flagFilenames))
	}
	return pairs, nil
}

// InferAction runs the model over every pair of the filenames file.
func InferAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	pairs, err := readPairs(c)
	if err != nil {
		return err
	}
	m, release, err := newModel(c, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, release())
	}()
	loader, err := dataset.NewLoader(pairs, cfg.BatchSize, cfg.Height, cfg.Width)
	if err != nil {
		return err
	}
	opts := inferOptions{
		OutputDir:          c.String(flagOutput),
		ImageFormat:        c.String(flagImgFormat),
		PointCloudFormat:   c.String(flagPCFormat),
		PointCloudInterval: c.Int(flagPCEvery),
	}
	logger.Infow("testing", "files", len(pairs), "batches", (len(pairs)+cfg.BatchSize-1)/cfg.BatchSize)
	written, err := runInference(c.Context, m, loader, opts, logger, clock.New())
	logger.Infow("done", "images", written)
	return err
}

// LossAction evaluates the first batch and prints its summaries.
func LossAction(c *cli.Context) (err error) {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	pairs, err := readPairs(c)
	if err != nil {
		return err
	}
	m, release, err := newModel(c, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, release())
	}()
	loader, err := dataset.NewLoader(pairs, cfg.BatchSize, cfg.Height, cfg.Width)
	if err != nil {
		return err
	}
	batch, err := loader.Next(c.Context)
	if err != nil {
		return err
	}
	report, err := evaluateBatch(c.Context, m, batch, c.Int(flagShards))
	if err != nil {
		return err
	}
	w := c.App.Writer
	if _, err := fmt.Fprintln(w, report.Table()); err != nil {
		return err
	}
	if c.Bool(flagHistogram) {
		if err := report.DepthHistogram(w, 0); err != nil {
			return err
		}
	}
	if path := c.String(flagPlot); path != "" {
		if err := report.SavePlot(path); err != nil {
			return err
		}
		logger.Infow("saved loss chart", "path", path)
	}
	return nil
}

// ConvertAction writes the cube faces of a panorama, the panorama reassembled from them and the
// face layout.
func ConvertAction(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() != 2 {
		return errors.New("need two args <panorama> <output directory>")
	}
	maxErr, err := convertPanorama(c.Args().Get(0), c.Args().Get(1), cfg)
	if err != nil {
		return err
	}
	logger.Infow("converted panorama", "face_size", cfg.FaceSize, "max_round_trip_error", maxErr)
	return nil
}

// PlanAction prints the schedule of a training run over the filenames file.
func PlanAction(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	pairs, err := readPairs(c)
	if err != nil {
		return err
	}
	schedule, err := model.NewSchedule(len(pairs), cfg.BatchSize, cfg.NumEpochs, c.Float64(flagLR))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, planTable(len(pairs), schedule))
	return err
}

// SchemaAction prints the config schema.
func SchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}

// evaluateBatch runs the model on a batch and, with more than one shard, the sharded mean too.
func evaluateBatch(ctx context.Context, m *model.Model, batch *dataset.Batch, shards int) (*lossReport, error) {
	out, losses, err := m.Evaluate(ctx, batch.Top, batch.Bottom)
	if err != nil {
		return nil, err
	}
	report := &lossReport{outputs: out, losses: losses, summaries: m.Summaries(out, losses)}
	if shards > 1 {
		split, err := model.SplitBatch(batch.Top, batch.Bottom, shards)
		if err != nil {
			return nil, err
		}
		mean, err := m.ShardedTotalLoss(ctx, split)
		if err != nil {
			return nil, err
		}
		report.shardedTotal = &mean
	}
	return report, nil
}
