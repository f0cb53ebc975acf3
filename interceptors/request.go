// Package interceptors provides ready-made request and response interceptors.
//
// Response interceptors never modify the buffers they receive. They allocate
// new host buffers for their output and leave the originals to the
// orchestrator, which disposes whatever is no longer referenced.
package interceptors

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/krau/mlaxios/service"
)

// Decode turns encoded and raw pixel input into an ImageInput. Other
// variants pass through.
func Decode() service.RequestInterceptor {
	return func(_ context.Context, in service.Input) (service.Input, error) {
		switch in.(type) {
		case service.EncodedInput, service.PixelsInput:
			img, err := service.DecodeInput(in)
			if err != nil {
				return nil, err
			}
			return service.ImageInput{Image: img}, nil
		default:
			return in, nil
		}
	}
}

// PadSquare centers the image on a square canvas filled with bg so the resize
// keeps its aspect ratio. Tensor input passes through.
func PadSquare(bg color.Color) service.RequestInterceptor {
	return func(_ context.Context, in service.Input) (service.Input, error) {
		if _, ok := in.(service.TensorInput); ok {
			return in, nil
		}
		img, err := service.DecodeInput(in)
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w == h {
			return service.ImageInput{Image: img}, nil
		}
		side := max(w, h)
		canvas := imaging.New(side, side, bg)
		return service.ImageInput{Image: imaging.Paste(canvas, img, image.Pt((side-w)/2, (side-h)/2))}, nil
	}
}
