//go:build !cgo

package onnx

import (
	"context"

	"go.viam.com/depth360/ml"
)

// Engine is unavailable without cgo.
type Engine struct{}

// NewEngine returns ErrCGORequired.
func NewEngine(opts Options) (*Engine, error) {
	return nil, ErrCGORequired
}

// Infer returns ErrCGORequired.
func (e *Engine) Infer(ctx context.Context, in ml.Tensors) (ml.Tensors, error) {
	return nil, ErrCGORequired
}

// Close does nothing.
func (e *Engine) Close() error {
	return nil
}
