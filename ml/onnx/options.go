// Package onnx runs exported backbones through ONNX Runtime. The engine needs cgo; without it
// NewEngine returns ErrCGORequired.
package onnx

import (
	"os"

	"github.com/pkg/errors"

	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/rimage"
)

// ErrCGORequired is returned when the engine is built without cgo.
var ErrCGORequired = errors.New("onnx engine requires cgo; rebuild with CGO_ENABLED=1")

// LibraryPathEnv names the environment variable consulted when no shared library path is set.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// Options configures an engine.
type Options struct {
	// ModelPath is the .onnx file. It must take a float32 NHWC input named ml.FaceTensorName and
	// produce the outputs named by ml.DisparityTensorName.
	ModelPath string
	// SharedLibraryPath is the onnxruntime shared library. Empty falls back to LibraryPathEnv.
	SharedLibraryPath string
}

// Validate checks that the model exists.
func (o Options) Validate() error {
	if o.ModelPath == "" {
		return errors.New("onnx model path is required")
	}
	if _, err := os.Stat(o.ModelPath); err != nil {
		return errors.Wrap(err, "cannot find onnx model")
	}
	return nil
}

func (o Options) libraryPath() string {
	if o.SharedLibraryPath != "" {
		return o.SharedLibraryPath
	}
	return os.Getenv(LibraryPathEnv)
}

// outputShapes returns the NHWC shape of every pyramid level produced for an input of shape in.
func outputShapes(in []int) ([rimage.NumScales][]int64, error) {
	var shapes [rimage.NumScales][]int64
	if len(in) != 4 || in[1] != in[2] {
		return shapes, errors.Errorf("expected a square NHWC face tensor, got shape %v", in)
	}
	for _, level := range rimage.ScaleLevels {
		size := int64(in[1] / level.Divisor())
		shapes[level] = []int64{int64(in[0]), size, size, ml.DisparityChannels}
	}
	return shapes, nil
}
