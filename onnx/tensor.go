package onnx

import (
	"fmt"

	"github.com/krau/mlaxios/config"
	"github.com/krau/mlaxios/tensor"
	ort "github.com/yalue/onnxruntime_go"
)

// Tensor is a tensor.Handle over an OrtValue. Dispose destroys the OrtValue
// exactly once.
type Tensor struct {
	tensor.Guard
	value   ort.Value
	shape   tensor.Shape
	dtype   tensor.DType
	destroy func() error
}

func newTensor(v ort.Value) *Tensor {
	t := &Tensor{
		value:   v,
		shape:   tensor.Shape(v.GetShape()).Clone(),
		dtype:   dtypeOf(v),
		destroy: v.Destroy,
	}
	t.Open()
	return t
}

func dtypeOf(v ort.Value) tensor.DType {
	switch v.(type) {
	case *ort.Tensor[float32]:
		return tensor.Float32
	case *ort.Tensor[float64]:
		return tensor.Float64
	case *ort.Tensor[int32]:
		return tensor.Int32
	case *ort.Tensor[int64]:
		return tensor.Int64
	case *ort.Tensor[uint8]:
		return tensor.Uint8
	default:
		return tensor.Undefined
	}
}

// Value returns the underlying OrtValue, or nil once disposed.
func (t *Tensor) Value() ort.Value {
	if t.Disposed() {
		return nil
	}
	return t.value
}

func (t *Tensor) Shape() tensor.Shape { return t.shape }

func (t *Tensor) DType() tensor.DType { return t.dtype }

func (t *Tensor) Dispose() error {
	return t.Close(func() error {
		destroy := t.destroy
		t.value = nil
		t.destroy = nil
		if destroy == nil {
			return nil
		}
		return destroy()
	})
}

func (t *Tensor) Float32s() ([]float32, error) {
	if t.Disposed() {
		return nil, tensor.ErrDisposed
	}
	ft, ok := t.value.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("tensor holds %s data, not float32", t.dtype)
	}
	return ft.GetData(), nil
}

// Backend allocates ONNX Runtime tensors.
type Backend struct {
	device string
}

func NewBackend(cfg config.Config) Backend {
	return Backend{device: deviceOf(cfg)}
}

func deviceOf(cfg config.Config) string {
	if cfg.Device == "cuda" || cfg.Device == "gpu" {
		return "cuda"
	}
	return "cpu"
}

// Name identifies the execution provider, e.g. "onnxruntime-cpu".
func (b Backend) Name() string {
	if b.device == "" {
		return "onnxruntime-cpu"
	}
	return "onnxruntime-" + b.device
}

func (b Backend) NewFloat32(shape tensor.Shape, data []float32) (tensor.Handle, error) {
	if !ort.IsInitialized() {
		return nil, ErrNotInitialized
	}
	t, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return newTensor(t), nil
}
