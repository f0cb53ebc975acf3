package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/krau/mlaxios/tensor"
)

// Layout is the memory order of a materialized image batch.
type Layout int

const (
	NHWC Layout = iota
	NCHW
)

// Normalization is a per-channel affine transform applied after scaling pixel
// values into [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var ClipNormalization = &Normalization{Mean: ClipMean, Std: ClipStd}

// Materializer turns raw input into a batched float32 buffer.
//
// The zero value resizes to ImageSize with a bilinear filter, keeps pixel
// values in 0..255 and produces an NHWC batch of one.
type Materializer struct {
	Size      int
	Layout    Layout
	Filter    *imaging.ResampleFilter
	Normalize *Normalization
}

func (m Materializer) size() int {
	if m.Size > 0 {
		return m.Size
	}
	return ImageSize
}

// Shape returns the shape of the buffers Materialize allocates.
func (m Materializer) Shape() tensor.Shape {
	s := int64(m.size())
	if m.Layout == NCHW {
		return tensor.Shape{1, 3, s, s}
	}
	return tensor.Shape{1, s, s, 3}
}

// Materialize converts in into a new buffer from alloc. The returned handle is
// owned by the caller.
func (m Materializer) Materialize(alloc Allocator, in Input) (tensor.Handle, error) {
	img, err := DecodeInput(in)
	if err != nil {
		return nil, err
	}
	data := m.Pixels(img)
	h, err := alloc.NewFloat32(m.Shape(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	return h, nil
}

// DecodeInput returns the image carried by a raw input variant.
func DecodeInput(in Input) (image.Image, error) {
	switch v := in.(type) {
	case ImageInput:
		if v.Image == nil {
			return nil, fmt.Errorf("image input is nil")
		}
		return v.Image, nil
	case EncodedInput:
		img, _, err := image.Decode(bytes.NewReader(v.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return img, nil
	case PixelsInput:
		if v.Width <= 0 || v.Height <= 0 {
			return nil, fmt.Errorf("invalid pixel dimensions %dx%d", v.Width, v.Height)
		}
		if v.Width > math.MaxInt/4/v.Height {
			return nil, fmt.Errorf("invalid pixel dimensions %dx%d: too large", v.Width, v.Height)
		}
		if len(v.Pix) != 4*v.Width*v.Height {
			return nil, fmt.Errorf("pixel data length mismatch: got %d, expected %d", len(v.Pix), 4*v.Width*v.Height)
		}
		return &image.NRGBA{
			Pix:    v.Pix,
			Stride: 4 * v.Width,
			Rect:   image.Rect(0, 0, v.Width, v.Height),
		}, nil
	case TensorInput:
		return nil, fmt.Errorf("tensor input cannot be decoded as an image")
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnknownInput)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownInput, in)
	}
}

// Pixels resizes img and lays it out as float32 values.
func (m Materializer) Pixels(img image.Image) []float32 {
	size := m.size()
	filter := imaging.Linear
	if m.Filter != nil {
		filter = *m.Filter
	}
	resized := imaging.Resize(img, size, size, filter)

	plane := size * size
	out := make([]float32, 3*plane)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := resized.NRGBAAt(x, y)
			rgb := [3]float32{float32(c.R), float32(c.G), float32(c.B)}
			if n := m.Normalize; n != nil {
				for ch := range rgb {
					rgb[ch] = (rgb[ch]/255.0 - n.Mean[ch]) / n.Std[ch]
				}
			}
			if m.Layout == NCHW {
				out[i] = rgb[0]
				out[plane+i] = rgb[1]
				out[2*plane+i] = rgb[2]
			} else {
				copy(out[3*i:3*i+3], rgb[:])
			}
			i++
		}
	}
	return out
}

func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

// ReadLines returns the non-empty trimmed lines of a file.
func ReadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(b), nil
}

func SplitLines(b []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
