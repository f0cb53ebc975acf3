package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/krau/mlaxios/config"
	"github.com/krau/mlaxios/tensor"
	ort "github.com/yalue/onnxruntime_go"
)

// Session is a loaded ONNX model. It implements service.Model; concurrent
// Predict calls are allowed because ONNX Runtime sessions are safe for
// concurrent Run.
type Session struct {
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputNames []string
	labels      []string
}

func newSession(cfg config.Config, data []byte, labels []string) (*Session, error) {
	if !ort.IsInitialized() {
		return nil, ErrNotInitialized
	}
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected exactly one model input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("model declares no outputs")
	}
	outputNames := make([]string, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
	}

	opts, err := sessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data, []string{inputs[0].Name}, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return &Session{
		session:     session,
		inputName:   inputs[0].Name,
		outputNames: outputNames,
		labels:      labels,
	}, nil
}

func sessionOptions(cfg config.Config) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if deviceOf(cfg) == "cuda" {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA execution provider: %w", err)
		}
	}
	return opts, nil
}

// Predict runs the model on input. Outputs are allocated by ONNX Runtime and
// owned by the caller: one output comes back as a single value, several as a
// list in declaration order.
func (s *Session) Predict(ctx context.Context, input tensor.Handle) (tensor.Value, error) {
	if err := ctx.Err(); err != nil {
		return tensor.Value{}, err
	}
	if s.session == nil {
		return tensor.Value{}, errors.New("session is closed")
	}
	in, release, err := ortInput(input)
	if err != nil {
		return tensor.Value{}, err
	}
	defer release()

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
		return tensor.Value{}, err
	}

	handles := make([]tensor.Handle, len(outputs))
	for i, o := range outputs {
		handles[i] = newTensor(o)
	}
	if len(handles) == 1 {
		return tensor.Single(handles[0]), nil
	}
	return tensor.List(handles...), nil
}

// ortInput returns the OrtValue behind h. Host buffers are copied into a
// temporary tensor that release destroys.
func ortInput(h tensor.Handle) (ort.Value, func(), error) {
	noop := func() {}
	if t, ok := h.(*Tensor); ok {
		v := t.Value()
		if v == nil {
			return nil, noop, tensor.ErrDisposed
		}
		return v, noop, nil
	}
	data, err := tensor.Float32s(h)
	if err != nil {
		return nil, noop, err
	}
	tmp, err := ort.NewTensor(ort.NewShape(h.Shape()...), data)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return tmp, func() { tmp.Destroy() }, nil
}

func (s *Session) InputName() string { return s.inputName }

func (s *Session) OutputNames() []string { return s.outputNames }

// Labels returns the class labels shipped with the model, if any.
func (s *Session) Labels() []string { return s.labels }

func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
