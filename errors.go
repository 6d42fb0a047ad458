package transcribe

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across engines. Match with errors.Is.
var (
	// ErrNotLoaded is returned by transcription calls made before a
	// successful LoadModel, or after UnloadModel.
	ErrNotLoaded = errors.New("transcribe: model not loaded")
	// ErrServerStartTimeout is returned by the server-proxy engine when the
	// spawned process never passes its health check within the retry budget.
	ErrServerStartTimeout = errors.New("transcribe: server failed to start before timeout")
	// ErrServerCrashed is returned when the server-proxy process exits while
	// a transcription request is in flight.
	ErrServerCrashed = errors.New("transcribe: server process exited unexpectedly")
)

// ModelFilesMissingError reports the component files absent from a model
// directory, so the caller knows exactly what to fetch.
type ModelFilesMissingError struct {
	Dir     string
	Missing []string
}

func (e *ModelFilesMissingError) Error() string {
	return fmt.Sprintf("transcribe: model directory %s missing required files: %s",
		e.Dir, strings.Join(e.Missing, ", "))
}

// InvalidAudioError reports audio that violates the required input format
// (mono 16kHz PCM).
type InvalidAudioError struct {
	Reason string
}

func (e *InvalidAudioError) Error() string {
	return "transcribe: invalid audio: " + e.Reason
}

// UnknownTokenError reports a decoded token id outside the vocabulary range.
type UnknownTokenError struct {
	ID int
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("transcribe: unknown token id %d", e.ID)
}

// InferenceError wraps a fatal model-step failure (session error, NaN
// propagation) with the operation that produced it.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("transcribe: inference failure in %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
