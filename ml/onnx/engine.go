//go:build cgo

package onnx

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"go.viam.com/depth360/ml"
	"go.viam.com/depth360/rimage"
)

// Engine runs one ONNX model. Calls to Infer are serialized.
type Engine struct {
	opts Options
	mu   sync.Mutex
}

// NewEngine initializes the runtime environment for the model in opts.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if p := opts.libraryPath(); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "cannot initialize onnxruntime")
	}
	return &Engine{opts: opts}, nil
}

// Infer sends the face tensor through the model and returns the disparity levels.
func (e *Engine) Infer(ctx context.Context, in ml.Tensors) (_ ml.Tensors, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	face, ok := in[ml.FaceTensorName]
	if !ok {
		return nil, errors.Errorf("missing input tensor %q", ml.FaceTensorName)
	}
	data, ok := face.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("input tensor %q must be float32, got %T", ml.FaceTensorName, face.Data())
	}
	shapes, err := outputShapes(face.Shape())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dims := make([]int64, len(face.Shape()))
	for i, d := range face.Shape() {
		dims[i] = int64(d)
	}
	input, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, input.Destroy())
	}()

	names := make([]string, 0, rimage.NumScales)
	outputs := make([]*ort.Tensor[float32], 0, rimage.NumScales)
	values := make([]ort.Value, 0, rimage.NumScales)
	defer func() {
		for _, o := range outputs {
			err = multierr.Combine(err, o.Destroy())
		}
	}()
	for _, level := range rimage.ScaleLevels {
		o, err := ort.NewEmptyTensor[float32](ort.NewShape(shapes[level]...))
		if err != nil {
			return nil, err
		}
		names = append(names, ml.DisparityTensorName(level))
		outputs = append(outputs, o)
		values = append(values, o)
	}

	session, err := ort.NewAdvancedSession(
		e.opts.ModelPath,
		[]string{ml.FaceTensorName},
		names,
		[]ort.Value{input},
		values,
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create onnx session")
	}
	defer func() {
		err = multierr.Combine(err, session.Destroy())
	}()
	if err := session.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx inference failed")
	}

	result := make(ml.Tensors, len(outputs))
	for i, o := range outputs {
		backing := make([]float32, len(o.GetData()))
		copy(backing, o.GetData())
		s := shapes[i]
		result[names[i]] = tensor.New(
			tensor.WithShape(int(s[0]), int(s[1]), int(s[2]), int(s[3])),
			tensor.WithBacking(backing))
	}
	return result, nil
}

// Close tears down the runtime environment.
func (e *Engine) Close() error {
	return ort.DestroyEnvironment()
}
