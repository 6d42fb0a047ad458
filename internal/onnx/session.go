// Package onnx wraps the ONNX Runtime bindings with the small surface the
// transcription engines need: one-time environment setup, session loading
// with input/output name introspection, and named-input inference with
// runtime-allocated outputs.
package onnx

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibraryEnv names the environment variable that points at the ONNX
// Runtime shared library when it is not on the default loader path.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	initOnce sync.Once
	initErr  error
)

// Initialize prepares the process-wide ONNX Runtime environment. Safe to
// call from every session open; only the first call does work.
func Initialize() error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if path := os.Getenv(SharedLibraryEnv); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Session owns one loaded ONNX graph plus its introspected I/O names.
type Session struct {
	sess        *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	inputInfo   map[string]ort.InputOutputInfo
}

// Open loads an ONNX model file and introspects its input/output names.
func Open(path string) (*Session, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: introspect %q: %w", path, err)
	}

	s := &Session{
		inputNames:  make([]string, len(inputs)),
		outputNames: make([]string, len(outputs)),
		inputInfo:   make(map[string]ort.InputOutputInfo, len(inputs)),
	}
	for i, in := range inputs {
		s.inputNames[i] = in.Name
		s.inputInfo[in.Name] = in
	}
	for i, out := range outputs {
		s.outputNames[i] = out.Name
	}

	slog.Debug("onnx session", "path", path, "inputs", s.inputNames, "outputs", s.outputNames)

	s.sess, err = ort.NewDynamicAdvancedSession(path, s.inputNames, s.outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx: load session %q: %w", path, err)
	}
	return s, nil
}

// Close releases the session resources.
func (s *Session) Close() error {
	if s.sess != nil {
		err := s.sess.Destroy()
		s.sess = nil
		return err
	}
	return nil
}

// InputNames returns the model's input names in graph order.
func (s *Session) InputNames() []string { return s.inputNames }

// OutputNames returns the model's output names in graph order.
func (s *Session) OutputNames() []string { return s.outputNames }

// InputDims returns the declared dimensions for the named input. Dynamic
// axes are reported as -1.
func (s *Session) InputDims(name string) ([]int64, bool) {
	info, ok := s.inputInfo[name]
	if !ok {
		return nil, false
	}
	return info.Dimensions, true
}

// Run executes the graph with the given named inputs. Every model input
// must be present. Outputs are allocated by the runtime and owned by the
// returned Result; call Result.Close when done.
func (s *Session) Run(inputs map[string]ort.Value) (*Result, error) {
	ordered := make([]ort.Value, len(s.inputNames))
	for i, name := range s.inputNames {
		v, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("onnx: missing input tensor for %q", name)
		}
		ordered[i] = v
	}

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.sess.Run(ordered, outputs); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	return &Result{names: s.outputNames, values: outputs}, nil
}

// Result holds the output tensors of one Run call.
type Result struct {
	names  []string
	values []ort.Value
}

// Value returns the named output tensor, or nil when absent (or already
// taken).
func (r *Result) Value(name string) ort.Value {
	for i, n := range r.names {
		if n == name {
			return r.values[i]
		}
	}
	return nil
}

// Take removes the named output from the result and transfers ownership to
// the caller, who becomes responsible for destroying it.
func (r *Result) Take(name string) ort.Value {
	for i, n := range r.names {
		if n == name && r.values[i] != nil {
			v := r.values[i]
			r.values[i] = nil
			return v
		}
	}
	return nil
}

// Float32 copies the named output into a fresh slice and returns it with
// its shape.
func (r *Result) Float32(name string) ([]float32, []int64, error) {
	v := r.Value(name)
	if v == nil {
		return nil, nil, fmt.Errorf("onnx: no output tensor %q (have %v)", name, r.names)
	}
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("onnx: output %q is not a float32 tensor", name)
	}
	data := make([]float32, len(t.GetData()))
	copy(data, t.GetData())
	return data, t.GetShape(), nil
}

// Int64 copies the named output into a fresh slice. Accepts int32 tensors
// too, widening the values, since exported models disagree on length dtypes.
func (r *Result) Int64(name string) ([]int64, error) {
	v := r.Value(name)
	if v == nil {
		return nil, fmt.Errorf("onnx: no output tensor %q (have %v)", name, r.names)
	}
	switch t := v.(type) {
	case *ort.Tensor[int64]:
		data := make([]int64, len(t.GetData()))
		copy(data, t.GetData())
		return data, nil
	case *ort.Tensor[int32]:
		data := make([]int64, len(t.GetData()))
		for i, x := range t.GetData() {
			data[i] = int64(x)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("onnx: output %q is not an integer tensor", name)
	}
}

// Close destroys every output tensor still owned by the result.
func (r *Result) Close() {
	for i, v := range r.values {
		if v != nil {
			_ = v.Destroy()
			r.values[i] = nil
		}
	}
}

// HasNaN reports whether the slice contains a NaN. Decode loops use this to
// surface numeric failures instead of propagating garbage tokens.
func HasNaN(data []float32) bool {
	for _, x := range data {
		if math.IsNaN(float64(x)) {
			return true
		}
	}
	return false
}
