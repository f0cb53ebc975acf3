package interceptors

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/krau/mlaxios/service"
	"github.com/krau/mlaxios/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dense(t *testing.T, shape tensor.Shape, data []float32) *tensor.Dense[float32] {
	t.Helper()
	d, err := tensor.NewDense(shape, data)
	require.NoError(t, err)
	return d
}

func floatsOf(t *testing.T, v tensor.Value, name string) []float32 {
	t.Helper()
	h, ok := v.Get(name)
	require.True(t, ok)
	data, err := tensor.Float32s(h)
	require.NoError(t, err)
	return data
}

func TestSigmoidCopiesInput(t *testing.T) {
	in := dense(t, tensor.Shape{1, 3}, []float32{0, 100, -100})
	out, err := Sigmoid()(context.Background(), tensor.Single(in))
	require.NoError(t, err)

	h, ok := out.Single()
	require.True(t, ok)
	assert.NotSame(t, in, h)
	got, err := tensor.Float32s(h)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 1, 0}, got, 1e-6)
	assert.Equal(t, []float32{0, 100, -100}, in.Data())
}

func TestSoftmaxRows(t *testing.T) {
	in := dense(t, tensor.Shape{2, 2}, []float32{0, 0, 1, 1})
	out, err := Softmax()(context.Background(), tensor.List(in))
	require.NoError(t, err)

	hs, ok := out.List()
	require.True(t, ok)
	got, err := tensor.Float32s(hs[0])
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, got, 1e-6)
}

func TestElementwiseDisposesPartialOutputOnError(t *testing.T) {
	good := dense(t, tensor.Shape{1}, []float32{1})
	gone := dense(t, tensor.Shape{1}, []float32{1})
	require.NoError(t, gone.Dispose())

	before := tensor.Memory().Live
	_, err := Sigmoid()(context.Background(), tensor.List(good, gone))
	assert.ErrorIs(t, err, tensor.ErrDisposed)
	assert.Equal(t, before, tensor.Memory().Live)
}

func TestTopK(t *testing.T) {
	in := dense(t, tensor.Shape{2, 4}, []float32{
		0.1, 0.7, 0.2, 0.05,
		0.9, 0.01, 0.3, 0.6,
	})
	out, err := TopK(2)(context.Background(), tensor.Single(in))
	require.NoError(t, err)

	idx, ok := out.Get(IndicesName)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{2, 2}, idx.Shape())
	assert.Equal(t, []int64{1, 2, 0, 3}, idx.(*tensor.Dense[int64]).Data())
	assert.Equal(t, []float32{0.7, 0.2, 0.9, 0.6}, floatsOf(t, out, ScoresName))
}

func TestTopKClampsAndValidates(t *testing.T) {
	in := dense(t, tensor.Shape{1, 2}, []float32{0.2, 0.8})
	out, err := TopK(10)(context.Background(), tensor.Single(in))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.8, 0.2}, floatsOf(t, out, ScoresName))

	_, err = TopK(0)(context.Background(), tensor.Single(in))
	assert.Error(t, err)

	_, err = TopK(1)(context.Background(), tensor.Value{})
	assert.ErrorContains(t, err, "empty model output")
}

func TestRankingKeepsTiesInClassOrder(t *testing.T) {
	in := dense(t, tensor.Shape{1, 6}, []float32{0.5, 0.9, 0.5, 0.5, 0.1, 0.5})
	for i := 0; i < 20; i++ {
		out, err := TopK(6)(context.Background(), tensor.Single(in))
		require.NoError(t, err)
		idx, _ := out.Get(IndicesName)
		assert.Equal(t, []int64{1, 0, 2, 3, 5, 4}, idx.(*tensor.Dense[int64]).Data())
		require.NoError(t, out.Dispose())

		out, err = Threshold(0.2)(context.Background(), tensor.Single(in))
		require.NoError(t, err)
		idx, _ = out.Get(IndicesName)
		assert.Equal(t, []int64{1, 0, 2, 3, 5}, idx.(*tensor.Dense[int64]).Data())
		require.NoError(t, out.Dispose())
	}
}

func TestThreshold(t *testing.T) {
	in := dense(t, tensor.Shape{1, 4}, []float32{0.5, 0.1, 0.95, 0.4})
	out, err := Threshold(0.4)(context.Background(), tensor.Single(in))
	require.NoError(t, err)

	idx, _ := out.Get(IndicesName)
	assert.Equal(t, []int64{2, 0}, idx.(*tensor.Dense[int64]).Data())
	assert.Equal(t, []float32{0.95, 0.5}, floatsOf(t, out, ScoresName))

	out, err = Threshold(0.99)(context.Background(), tensor.Single(in))
	require.NoError(t, err)
	idx, _ = out.Get(IndicesName)
	assert.Equal(t, tensor.Shape{1, 0}, idx.Shape())

	batch := dense(t, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	_, err = Threshold(0.5)(context.Background(), tensor.Single(batch))
	assert.ErrorContains(t, err, "batch of one")
}

func TestDecode(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	out, err := Decode()(context.Background(), service.EncodedInput{Data: buf.Bytes()})
	require.NoError(t, err)
	img, ok := out.(service.ImageInput)
	require.True(t, ok)
	assert.Equal(t, 3, img.Image.Bounds().Dx())

	th := service.TensorInput{Tensor: dense(t, tensor.Shape{1}, []float32{1})}
	out, err = Decode()(context.Background(), th)
	require.NoError(t, err)
	assert.Equal(t, th, out)
}

func TestPadSquare(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			src.Set(x, y, color.Black)
		}
	}
	out, err := PadSquare(color.White)(context.Background(), service.ImageInput{Image: src})
	require.NoError(t, err)

	img := out.(service.ImageInput).Image
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b})
	r, _, _, _ = img.At(0, 1).RGBA()
	assert.Zero(t, r)
}
