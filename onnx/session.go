package onnx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/krau/signtagger/service"
	ort "github.com/yalue/onnxruntime_go"
)

type SessionConfig struct {
	InputShape []int64
	InputName  string
	OutputName string
	// NumClasses sizes the output tensor when the model leaves the class
	// dimension dynamic.
	NumClasses int
	PoolSize   int
}

type worker struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (w *worker) destroy() {
	if w.session != nil {
		w.session.Destroy()
	}
	if w.input != nil {
		w.input.Destroy()
	}
	if w.output != nil {
		w.output.Destroy()
	}
}

// Session runs forward passes on a fixed pool of ONNX Runtime sessions.
// An AdvancedSession is bound to one input/output tensor pair, so each
// concurrent caller needs its own.
type Session struct {
	pool       chan *worker
	workers    []*worker
	inputShape ort.Shape
	numClasses int
}

var _ service.Model = (*Session)(nil)

// NewSession requires ort.InitializeEnvironment to have been called.
func NewSession(modelPath string, cfg SessionConfig) (*Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	in, err := pickInfo(inputs, cfg.InputName)
	if err != nil {
		return nil, fmt.Errorf("model input: %w", err)
	}
	out, err := pickInfo(outputs, cfg.OutputName)
	if err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	if err := checkInputShape(in.Dimensions, cfg.InputShape); err != nil {
		return nil, err
	}
	numClasses, err := outputClasses(out.Dimensions, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	size := max(cfg.PoolSize, 1)
	s := &Session{
		pool:       make(chan *worker, size),
		inputShape: ort.NewShape(cfg.InputShape...),
		numClasses: numClasses,
	}
	for range size {
		w, err := newWorker(modelPath, in.Name, out.Name, s.inputShape, numClasses)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.workers = append(s.workers, w)
		s.pool <- w
	}

	slog.Info("ONNX model loaded",
		slog.String("path", modelPath),
		slog.String("input", in.Name),
		slog.String("output", out.Name),
		slog.Any("input_shape", cfg.InputShape),
		slog.Int("classes", numClasses),
		slog.Int("pool", size))
	return s, nil
}

func newWorker(modelPath, inputName, outputName string, inputShape ort.Shape, numClasses int) (*worker, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	w := &worker{}
	w.input, err = ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	w.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(numClasses)))
	if err != nil {
		w.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	w.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{w.input},
		[]ort.Value{w.output},
		opts,
	)
	if err != nil {
		w.destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}
	return w, nil
}

func (s *Session) NumClasses() int {
	return s.numClasses
}

func (s *Session) Forward(in service.Tensor) ([]float32, error) {
	if !sameShape(s.inputShape, in.Shape) {
		return nil, fmt.Errorf("input shape %v does not match model shape %v", in.Shape, s.inputShape)
	}
	if int64(len(in.Data)) != s.inputShape.FlattenedSize() {
		return nil, fmt.Errorf("input has %d values, want %d", len(in.Data), s.inputShape.FlattenedSize())
	}

	w := <-s.pool
	defer func() { s.pool <- w }()

	copy(w.input.GetData(), in.Data)
	if err := w.session.Run(); err != nil {
		return nil, err
	}

	logits := w.output.GetData()
	scores := make([]float32, len(logits))
	copy(scores, logits)
	return scores, nil
}

// Close must not race with Forward.
func (s *Session) Close() {
	for _, w := range s.workers {
		w.destroy()
	}
	s.workers = nil
}

func pickInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, errors.New("model declares none")
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("no tensor named %q", name)
}

// checkInputShape accepts dynamic (negative) model dimensions.
func checkInputShape(model ort.Shape, want []int64) error {
	if len(model) != len(want) {
		return fmt.Errorf("model expects rank %d input %v, configured %v", len(model), model, want)
	}
	for i, d := range model {
		if d > 0 && d != want[i] {
			return fmt.Errorf("model expects input %v, configured %v", model, want)
		}
	}
	return nil
}

func outputClasses(dims ort.Shape, fallback int) (int, error) {
	if len(dims) == 0 {
		return 0, errors.New("model output has no dimensions")
	}
	if n := dims[len(dims)-1]; n > 0 {
		return int(n), nil
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, errors.New("model output class dimension is dynamic and no label count given")
}

func sameShape(a ort.Shape, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
