package service

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/krau/mlaxios/tensor"
)

// ImageSize is the square resolution raw input is resized to.
const ImageSize = 224

var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

var ErrUnknownInput = errors.New("unknown input variant")

// Input is what a caller hands to Predict. It is one of ImageInput,
// EncodedInput, PixelsInput or TensorInput.
type Input interface {
	isInput()
}

// ImageInput is an already decoded image.
type ImageInput struct {
	Image image.Image
}

// EncodedInput is an encoded image file (jpeg, png, webp or avif).
type EncodedInput struct {
	Data []byte
}

// PixelsInput is raw 8-bit RGBA pixel data in row-major order.
type PixelsInput struct {
	Width  int
	Height int
	Pix    []uint8
}

// TensorInput is a buffer the caller already owns. Predict never disposes it.
type TensorInput struct {
	Tensor tensor.Handle
}

func (ImageInput) isInput()   {}
func (EncodedInput) isInput() {}
func (PixelsInput) isInput()  {}
func (TensorInput) isInput()  {}

// Model is a loaded inference graph.
// Implementations must be safe for concurrent Predict calls.
type Model interface {
	Predict(ctx context.Context, input tensor.Handle) (tensor.Value, error)
}

// Allocator creates buffers on a compute device.
type Allocator interface {
	Name() string
	NewFloat32(shape tensor.Shape, data []float32) (tensor.Handle, error)
}

type (
	RequestInterceptor  func(ctx context.Context, in Input) (Input, error)
	ResponseInterceptor func(ctx context.Context, out tensor.Value) (tensor.Value, error)
)

// Result is the outcome of one prediction. The caller owns Data and must
// dispose it.
type Result struct {
	Data    tensor.Value
	Latency time.Duration
	Device  string
}

// Dispose releases Data.
func (r *Result) Dispose() error {
	if r == nil {
		return nil
	}
	return r.Data.Dispose()
}
