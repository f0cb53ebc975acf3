package interceptors

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/krau/mlaxios/service"
	"github.com/krau/mlaxios/tensor"
	"gonum.org/v1/gonum/floats"
)

// Output names produced by TopK and Threshold.
const (
	IndicesName = "indices"
	ScoresName  = "scores"
)

// Sigmoid applies the logistic function to every element.
func Sigmoid() service.ResponseInterceptor {
	return elementwise(func(row []float32) {
		for i, v := range row {
			row[i] = service.Sigmoid(v)
		}
	})
}

// Softmax normalizes each row along the last dimension.
func Softmax() service.ResponseInterceptor {
	return elementwise(func(row []float32) {
		xs := make([]float64, len(row))
		for i, v := range row {
			xs[i] = float64(v)
		}
		lse := floats.LogSumExp(xs)
		for i, x := range xs {
			row[i] = float32(math.Exp(x - lse))
		}
	})
}

// elementwise copies each handle of the value, applies fn to every row of the
// copy and returns the copies in the same variant.
func elementwise(fn func(row []float32)) service.ResponseInterceptor {
	return func(_ context.Context, v tensor.Value) (tensor.Value, error) {
		return mapValue(v, func(h tensor.Handle) (tensor.Handle, error) {
			data, err := tensor.Float32s(h)
			if err != nil {
				return nil, err
			}
			out := slices.Clone(data)
			width := lastDim(h.Shape(), len(out))
			for start := 0; start+width <= len(out) && width > 0; start += width {
				fn(out[start : start+width])
			}
			return tensor.NewDense(h.Shape(), out)
		})
	}
}

func lastDim(shape tensor.Shape, n int) int {
	if len(shape) == 0 {
		return n
	}
	return int(shape[len(shape)-1])
}

// mapValue applies fn to every handle and rebuilds the variant. Handles
// created before a failure are disposed.
func mapValue(v tensor.Value, fn func(tensor.Handle) (tensor.Handle, error)) (tensor.Value, error) {
	var made []tensor.Handle
	apply := func(h tensor.Handle) (tensor.Handle, error) {
		out, err := fn(h)
		if err != nil {
			tensor.DisposeAll(made...)
			return nil, err
		}
		made = append(made, out)
		return out, nil
	}

	switch v.Kind() {
	case tensor.KindSingle:
		h, _ := v.Single()
		out, err := apply(h)
		if err != nil {
			return tensor.Value{}, err
		}
		return tensor.Single(out), nil
	case tensor.KindList:
		hs, _ := v.List()
		outs := make([]tensor.Handle, len(hs))
		for i, h := range hs {
			out, err := apply(h)
			if err != nil {
				return tensor.Value{}, err
			}
			outs[i] = out
		}
		return tensor.List(outs...), nil
	case tensor.KindNamed:
		outs := make(map[string]tensor.Handle)
		for _, name := range v.Names() {
			h, _ := v.Get(name)
			out, err := apply(h)
			if err != nil {
				return tensor.Value{}, err
			}
			outs[name] = out
		}
		return tensor.Named(outs), nil
	default:
		return tensor.Value{}, fmt.Errorf("empty model output")
	}
}

// scores returns the first handle of v as a [batch, classes] matrix.
func scores(v tensor.Value) ([]float32, int, int, error) {
	hs := v.Handles()
	if len(hs) == 0 {
		return nil, 0, 0, fmt.Errorf("empty model output")
	}
	h := hs[0]
	data, err := tensor.Float32s(h)
	if err != nil {
		return nil, 0, 0, err
	}
	classes := lastDim(h.Shape(), len(data))
	if classes <= 0 || len(data)%classes != 0 {
		return nil, 0, 0, fmt.Errorf("cannot read scores from shape %v", h.Shape())
	}
	return data, len(data) / classes, classes, nil
}

// TopK keeps the k highest scores of each row of the first output. The
// result is a named value: "indices" ([batch, k] int64) and "scores"
// ([batch, k] float32), best first.
func TopK(k int) service.ResponseInterceptor {
	return func(_ context.Context, v tensor.Value) (tensor.Value, error) {
		if k <= 0 {
			return tensor.Value{}, fmt.Errorf("k must be > 0, got %d", k)
		}
		data, batch, classes, err := scores(v)
		if err != nil {
			return tensor.Value{}, err
		}
		k := min(k, classes)

		indices := make([]int64, 0, batch*k)
		top := make([]float32, 0, batch*k)
		for row := 0; row < batch; row++ {
			idx, vals := rank(data[row*classes : (row+1)*classes])
			for i := 0; i < k; i++ {
				indices = append(indices, int64(idx[i]))
				top = append(top, vals[i])
			}
		}
		return named(tensor.Shape{int64(batch), int64(k)}, indices, top)
	}
}

// Threshold keeps every score above p from a single-row output, best first.
// The result has the same names as TopK with shape [1, n].
func Threshold(p float32) service.ResponseInterceptor {
	return func(_ context.Context, v tensor.Value) (tensor.Value, error) {
		data, batch, _, err := scores(v)
		if err != nil {
			return tensor.Value{}, err
		}
		if batch != 1 {
			return tensor.Value{}, fmt.Errorf("threshold needs a batch of one, got %d", batch)
		}
		idx, vals := rank(data)
		var indices []int64
		var kept []float32
		for i, s := range vals {
			if s <= p {
				break
			}
			indices = append(indices, int64(idx[i]))
			kept = append(kept, s)
		}
		return named(tensor.Shape{1, int64(len(kept))}, indices, kept)
	}
}

// rank returns the positions and values of row sorted by descending value.
// Equal values keep their original order.
func rank(row []float32) ([]int, []float32) {
	neg := make([]float64, len(row))
	for i, v := range row {
		neg[i] = -float64(v)
	}
	idx := make([]int, len(row))
	floats.ArgsortStable(neg, idx)
	vals := make([]float32, len(row))
	for i, j := range idx {
		vals[i] = row[j]
	}
	return idx, vals
}

func named(shape tensor.Shape, indices []int64, scores []float32) (tensor.Value, error) {
	if indices == nil {
		indices = []int64{}
		scores = []float32{}
	}
	ih, err := tensor.NewDense(shape, indices)
	if err != nil {
		return tensor.Value{}, err
	}
	sh, err := tensor.NewDense(shape, scores)
	if err != nil {
		ih.Dispose()
		return tensor.Value{}, err
	}
	return tensor.Named(map[string]tensor.Handle{IndicesName: ih, ScoresName: sh}), nil
}
