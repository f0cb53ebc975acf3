package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/krau/mlaxios/tensor"
	"github.com/rs/zerolog"
)

var ErrNilModel = errors.New("model is nil")

// Orchestrator runs one prediction and owns every buffer it allocates along
// the way. A buffer it allocated is disposed before Predict returns unless it
// ends up in Result.Data. Buffers passed in through TensorInput are never
// disposed.
type Orchestrator struct {
	Request      []RequestInterceptor
	Response     []ResponseInterceptor
	Allocator    Allocator
	Materializer Materializer
	Logger       zerolog.Logger
}

func (o *Orchestrator) allocator() Allocator {
	if o.Allocator != nil {
		return o.Allocator
	}
	return tensor.Host{}
}

// Predict runs the request chain, the model and the response chain.
//
// Errors from interceptors and from the model are returned unwrapped. If a
// response interceptor fails, the raw model output is disposed first.
func (o *Orchestrator) Predict(ctx context.Context, model Model, in Input) (res *Result, err error) {
	if model == nil {
		return nil, ErrNilModel
	}
	alloc := o.allocator()
	log := o.Logger.With().Str("call", uuid.NewString()).Logger()

	processed, err := RunChain(ctx, o.Request, in)
	if err != nil {
		log.Debug().Err(err).Msg("request interceptor failed")
		return nil, err
	}

	var scope tensor.Scope
	defer func() {
		var keep tensor.Value
		if res != nil {
			keep = res.Data
		}
		if relErr := scope.Release(keep); relErr != nil {
			log.Warn().Err(relErr).Msg("failed to dispose prediction buffers")
		}
	}()

	input, owned, err := o.materialize(alloc, processed)
	if err != nil {
		return nil, err
	}
	if err := scope.Track(input, owned); err != nil {
		if owned {
			input.Dispose()
		}
		return nil, err
	}

	raw, latency, err := o.invoke(ctx, log, &scope, model, input)
	if err != nil {
		log.Debug().Err(err).Msg("inference failed")
		return nil, err
	}

	out, err := RunChain(ctx, o.Response, raw)
	if err != nil {
		log.Debug().Err(err).Msg("response interceptor failed")
		return nil, err
	}

	log.Debug().
		Dur("latency", latency).
		Str("device", alloc.Name()).
		Int("outputs", len(out.Handles())).
		Msg("prediction finished")
	return &Result{Data: out, Latency: latency, Device: alloc.Name()}, nil
}

func (o *Orchestrator) materialize(alloc Allocator, in Input) (tensor.Handle, bool, error) {
	if t, ok := in.(TensorInput); ok {
		if t.Tensor == nil {
			return nil, false, errors.New("tensor input is nil")
		}
		return t.Tensor, false, nil
	}
	h, err := o.Materializer.Materialize(alloc, in)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// invoke calls the model and records its output as owned by scope; output
// handles that cannot be recorded are disposed and fail the call. The
// materialized input is released as soon as the call settles, whatever the
// outcome, unless the model handed that same buffer back.
func (o *Orchestrator) invoke(ctx context.Context, log zerolog.Logger, scope *tensor.Scope, model Model, input tensor.Handle) (raw tensor.Value, latency time.Duration, err error) {
	defer func() {
		if !scope.Owns(input) || raw.Contains(input) {
			return
		}
		scope.Disown(input)
		if disposeErr := input.Dispose(); disposeErr != nil {
			log.Warn().Err(disposeErr).Msg("failed to dispose input tensor")
		}
	}()

	if err := ctx.Err(); err != nil {
		return tensor.Value{}, 0, err
	}

	start := time.Now()
	raw, err = model.Predict(ctx, input)
	latency = time.Since(start)

	if trackErr := scope.TrackValue(raw, true); trackErr != nil {
		var stray []tensor.Handle
		for _, h := range raw.Handles() {
			if !scope.Tracks(h) {
				stray = append(stray, h)
			}
		}
		if disposeErr := tensor.DisposeAll(stray...); disposeErr != nil {
			log.Warn().Err(disposeErr).Msg("failed to dispose model output")
		}
		if err == nil {
			err = trackErr
		}
	}
	if err != nil {
		return tensor.Value{}, latency, err
	}
	return raw, latency, nil
}
