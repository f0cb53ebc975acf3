package tensor

import (
	"errors"
	"fmt"
)

// Element lists the element types a host buffer can hold.
type Element interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8
}

// Dense is a host-memory buffer. It backs the "cpu" device and is the type
// the built-in interceptors produce.
type Dense[T Element] struct {
	Guard
	shape Shape
	data  []T
}

// NewDense wraps data as a buffer of the given shape. The slice is not copied.
func NewDense[T Element](shape Shape, data []T) (*Dense[T], error) {
	count, err := shape.ElementCount()
	if err != nil {
		return nil, err
	}
	if len(data) != count {
		return nil, fmt.Errorf("data length mismatch: got %d elements, expected %d for shape %v", len(data), count, shape)
	}
	d := &Dense[T]{shape: shape.Clone(), data: data}
	d.Open()
	return d, nil
}

// Data returns the backing slice, or nil once disposed.
func (d *Dense[T]) Data() []T {
	if d == nil || d.Disposed() {
		return nil
	}
	return d.data
}

func (d *Dense[T]) Shape() Shape {
	if d == nil {
		return nil
	}
	return d.shape
}

func (d *Dense[T]) DType() DType {
	return dtypeOf[T]()
}

func (d *Dense[T]) Dispose() error {
	if d == nil {
		return nil
	}
	return d.Close(func() error {
		d.data = nil
		return nil
	})
}

func dtypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	default:
		return Undefined
	}
}

// ErrDisposed is returned when reading a buffer that was already released.
var ErrDisposed = errors.New("tensor: buffer already disposed")

// Float32Reader is implemented by handles that expose float32 host data.
type Float32Reader interface {
	Float32s() ([]float32, error)
}

func (d *Dense[T]) Float32s() ([]float32, error) {
	if d.Disposed() {
		return nil, ErrDisposed
	}
	if out, ok := any(d.data).([]float32); ok {
		return out, nil
	}
	out := make([]float32, len(d.data))
	for i, v := range d.data {
		out[i] = float32(v)
	}
	return out, nil
}

// Float32s reads h as float32 host data.
func Float32s(h Handle) ([]float32, error) {
	if isNilHandle(h) {
		return nil, fmt.Errorf("nil handle")
	}
	if h.Disposed() {
		return nil, ErrDisposed
	}
	r, ok := h.(Float32Reader)
	if !ok {
		return nil, fmt.Errorf("handle %T (%s) does not expose host data", h, h.DType())
	}
	return r.Float32s()
}

// Host is the host-memory allocator.
type Host struct{}

func (Host) Name() string { return "cpu" }

func (Host) NewFloat32(shape Shape, data []float32) (Handle, error) {
	return NewDense(shape, data)
}
