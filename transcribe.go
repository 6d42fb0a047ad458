// Package transcribe defines the common contract shared by all
// speech-to-text engines in this module.
//
// Supported backends:
//   - engines/whisper: quantized GGML models via whisper.cpp bindings
//   - engines/parakeet: Parakeet TDT transducer models via ONNX Runtime
//   - engines/moonshine: Moonshine encoder-decoder models via ONNX Runtime
//   - engines/whisperfile: an externally spawned whisperfile server process
//
// An Engine owns at most one loaded model at a time. Loading a new model
// releases the previous one first. Engines are not safe for concurrent
// transcription calls; run one transcription at a time per Engine instance,
// or use separate instances.
package transcribe

import "time"

// Engine converts recorded audio into text. All implementations block the
// calling goroutine until the operation completes; there is no background
// execution and no cancellation once a call starts.
type Engine interface {
	// LoadModel loads model weights from path with default parameters,
	// replacing any previously loaded model.
	LoadModel(path string) error
	// UnloadModel releases the loaded model and its resources. Safe to call
	// when nothing is loaded.
	UnloadModel()
	// Loaded reports whether a model is currently loaded.
	Loaded() bool
	// Transcribe converts mono 16kHz float32 samples to text using default
	// inference parameters. Fails with ErrNotLoaded when no model is loaded
	// and with *InvalidAudioError when the buffer is empty.
	Transcribe(samples []float32) (*TranscriptionResult, error)
	// TranscribeFile decodes a WAV file (down-mixing and resampling to
	// 16kHz mono as needed) and transcribes it.
	TranscribeFile(path string) (*TranscriptionResult, error)
}

// TranscriptionResult is the outcome of one transcription call.
type TranscriptionResult struct {
	// Text is the full transcription, whitespace-trimmed.
	Text string
	// Segments holds timing metadata when the backend provides it, ordered
	// by non-decreasing start time with non-overlapping spans. Nil when the
	// backend produces no segment information.
	Segments []Segment
}

// Segment is a timed span of the transcription.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}
