// Package tensor defines the disposable buffer handles that flow through a
// prediction, and the bookkeeping used to release them exactly once.
package tensor

import (
	"fmt"
	"slices"
)

// Shape is the dimension list of a buffer.
type Shape []int64

// ElementCount returns the product of the dimensions.
// Dimensions must be non-negative; a zero dimension yields zero elements.
func (s Shape) ElementCount() (int, error) {
	count := 1
	for i, dim := range s {
		if dim < 0 {
			return 0, fmt.Errorf("invalid shape dimension at index %d: %d (must be >= 0)", i, dim)
		}
		count *= int(dim)
	}
	return count, nil
}

func (s Shape) Clone() Shape {
	if len(s) == 0 {
		return Shape{}
	}
	return slices.Clone(s)
}

type DType int

const (
	Undefined DType = iota
	Float32
	Float64
	Int32
	Int64
	Uint8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	default:
		return "undefined"
	}
}

// Handle is one explicitly released numeric buffer.
//
// Dispose must be idempotent: the first call releases the buffer, later
// calls return nil without touching it. Handles are told apart by identity,
// so implementations should be pointer types; a handle whose dynamic type is
// not comparable is never matched against another one.
type Handle interface {
	Shape() Shape
	DType() DType
	Dispose() error
	Disposed() bool
}

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindSingle
	KindList
	KindNamed
)

// Value is a single handle, an ordered list of handles, or a keyed set of
// handles. The zero Value holds nothing.
type Value struct {
	kind  Kind
	one   Handle
	list  []Handle
	named map[string]Handle
}

func Single(h Handle) Value {
	return Value{kind: KindSingle, one: h}
}

func List(hs ...Handle) Value {
	return Value{kind: KindList, list: hs}
}

func Named(m map[string]Handle) Value {
	return Value{kind: KindNamed, named: m}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsZero() bool { return v.kind == KindNone }

// Single returns the handle of a KindSingle value.
func (v Value) Single() (Handle, bool) {
	return v.one, v.kind == KindSingle
}

// List returns the handles of a KindList value.
func (v Value) List() ([]Handle, bool) {
	return v.list, v.kind == KindList
}

// Get returns a named handle of a KindNamed value.
func (v Value) Get(name string) (Handle, bool) {
	if v.kind != KindNamed {
		return nil, false
	}
	h, ok := v.named[name]
	return h, ok
}

// Names returns the keys of a KindNamed value, sorted.
func (v Value) Names() []string {
	if v.kind != KindNamed {
		return nil
	}
	names := make([]string, 0, len(v.named))
	for name := range v.named {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handles returns every non-nil handle in v once. Named values are visited in
// key order.
func (v Value) Handles() []Handle {
	var out []Handle
	add := func(h Handle) {
		if h == nil || slices.ContainsFunc(out, func(o Handle) bool { return sameHandle(o, h) }) {
			return
		}
		out = append(out, h)
	}
	switch v.kind {
	case KindSingle:
		add(v.one)
	case KindList:
		for _, h := range v.list {
			add(h)
		}
	case KindNamed:
		for _, name := range v.Names() {
			add(v.named[name])
		}
	}
	return out
}

// Contains reports whether h is one of the handles in v.
func (v Value) Contains(h Handle) bool {
	return slices.ContainsFunc(v.Handles(), func(o Handle) bool { return sameHandle(o, h) })
}

// Dispose releases every handle in v.
func (v Value) Dispose() error {
	return DisposeAll(v.Handles()...)
}
