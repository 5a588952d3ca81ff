// Package main is the depth360 command line tool: batch inference, loss reports, cube map
// conversion and training plans for top/bottom 360° stereo panoramas.
package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"go.viam.com/depth360/logging"
)

const (
	flagConfig    = "config"
	flagSet       = "set"
	flagDebug     = "debug"
	flagLogFile   = "log-file"
	flagDataPath  = "data-path"
	flagFilenames = "filenames-file"
	flagOutput    = "output-directory"
	flagCheckpt   = "checkpoint"
	flagImgFormat = "image-format"
	flagPCFormat  = "pc-format"
	flagPCEvery   = "pc-interval"
	flagShards    = "shards"
	flagPlot      = "plot"
	flagHistogram = "histogram"
	flagLR        = "learning-rate"
)

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagDataPath,
			Usage: "directory the filenames file is relative to",
		},
		&cli.StringFlag{
			Name:     flagFilenames,
			Usage:    "`FILE` with one \"top bottom\" image pair per line",
			Required: true,
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "depth360",
		Usage:           "self-supervised depth for top/bottom 360° stereo panoramas",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringSliceFlag{
				Name:  flagSet,
				Usage: "override a config field, as in --set height=128 --set backbone.seed=3",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to a rotated `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "infer",
				Usage: "write depth maps, synthesized views and point clouds for every pair",
				Flags: append(dataFlags(),
					&cli.StringFlag{
						Name:     flagOutput,
						Aliases:  []string{"o"},
						Usage:    "`DIR` to write results to",
						Required: true,
					},
					&cli.StringFlag{
						Name:  flagCheckpt,
						Usage: "resume backbone weights from a checkpoint `FILE`",
					},
					&cli.StringFlag{
						Name:  flagImgFormat,
						Value: "jpg",
						Usage: "picture format, jpg, png or ppm",
					},
					&cli.StringFlag{
						Name:  flagPCFormat,
						Value: "xyz",
						Usage: "point cloud format, xyz or pcd",
					},
					&cli.IntFlag{
						Name:  flagPCEvery,
						Value: 200,
						Usage: "write a point cloud every `N` images, 0 disables them",
					},
				),
				Action: InferAction,
			},
			{
				Name:  "loss",
				Usage: "print the total loss and the loss summaries of the first batch",
				Flags: append(dataFlags(),
					&cli.StringFlag{
						Name:  flagCheckpt,
						Usage: "resume backbone weights from a checkpoint `FILE`",
					},
					&cli.IntFlag{
						Name:  flagShards,
						Value: 1,
						Usage: "split the batch into `N` concurrently evaluated shards",
					},
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save a chart of the per scale losses to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagHistogram,
						Usage: "print a histogram of the top depth of the first pair",
					},
				),
				Action: LossAction,
			},
			{
				Name:      "convert",
				Usage:     "split a panorama into cube faces and reassemble it",
				ArgsUsage: "<panorama> <output directory>",
				Action:    ConvertAction,
			},
			{
				Name:  "plan",
				Usage: "print the step and learning rate schedule of a training run",
				Flags: append(dataFlags(),
					&cli.Float64Flag{
						Name:  flagLR,
						Value: 1e-4,
						Usage: "initial learning rate",
					},
				),
				Action: PlanAction,
			},
			{
				Name:   "config-schema",
				Usage:  "print the JSON schema of the config file",
				Action: SchemaAction,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Global().Fatal(err)
	}
}
