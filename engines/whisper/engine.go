// Package whisper implements transcription with whisper.cpp GGML models
// through the upstream Go bindings.
package whisper

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
)

// minSamples pads input below ~1.1s: whisper.cpp rejects clips shorter
// than one second.
const minSamples = audio.SampleRate * 11 / 10

// InferenceParams configures one transcription call. The zero value is
// auto-detected language, transcription (not translation), greedy decoding
// on the library's default thread count.
type InferenceParams struct {
	// Language is an ISO 639-1 code, or "auto" / empty for detection.
	Language string
	// Translate requests translation to English instead of transcription.
	Translate bool
	// InitialPrompt biases decoding, e.g. toward domain vocabulary.
	InitialPrompt string
	// BeamSize enables beam search when greater than one.
	BeamSize int
	// Threads overrides the worker thread count when positive.
	Threads int
}

// DefaultInferenceParams returns the zero configuration.
func DefaultInferenceParams() InferenceParams { return InferenceParams{} }

// Engine transcribes audio with a whisper.cpp GGML model. A fresh decoding
// context is created per call, so concurrent calls on one Engine are safe
// as long as the model stays loaded.
type Engine struct {
	model whisper.Model
}

var _ transcribe.Engine = (*Engine)(nil)

// NewEngine returns an Engine with no model loaded.
func NewEngine() *Engine { return &Engine{} }

// LoadModel loads a GGML model file, e.g. ggml-base.en.bin.
func (e *Engine) LoadModel(path string) error {
	if _, err := os.Stat(path); err != nil {
		return &transcribe.ModelFilesMissingError{Dir: path, Missing: []string{path}}
	}
	model, err := whisper.New(path)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	e.UnloadModel()
	e.model = model
	slog.Debug("whisper model loaded", "path", path)
	return nil
}

// UnloadModel releases the model. Safe to call when nothing is loaded.
func (e *Engine) UnloadModel() {
	if e.model != nil {
		_ = e.model.Close()
		e.model = nil
	}
}

// Loaded reports whether a model is currently loaded.
func (e *Engine) Loaded() bool { return e.model != nil }

// Transcribe transcribes mono 16kHz samples with default parameters.
func (e *Engine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeWithParams(samples, DefaultInferenceParams())
}

// TranscribeFile transcribes a WAV file with default parameters.
func (e *Engine) TranscribeFile(path string) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeFileWithParams(path, DefaultInferenceParams())
}

// TranscribeFileWithParams decodes a WAV file and transcribes it.
func (e *Engine) TranscribeFileWithParams(path string, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	samples, err := audio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.TranscribeWithParams(samples, params)
}

// TranscribeWithParams transcribes mono 16kHz samples.
func (e *Engine) TranscribeWithParams(samples []float32, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	if !e.Loaded() {
		return nil, transcribe.ErrNotLoaded
	}
	if len(samples) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "empty sample buffer"}
	}
	samples = padShortClip(samples)

	ctx, err := e.model.NewContext()
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "whisper context", Err: err}
	}
	if err := applyParams(ctx, params); err != nil {
		return nil, err
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &transcribe.InferenceError{Op: "whisper process", Err: err}
	}

	var (
		texts    []string
		segments []transcribe.Segment
	)
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &transcribe.InferenceError{Op: "whisper segment", Err: err}
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		segments = append(segments, transcribe.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}

	return &transcribe.TranscriptionResult{
		Text:     strings.Join(texts, " "),
		Segments: segments,
	}, nil
}

func applyParams(ctx whisper.Context, params InferenceParams) error {
	lang := params.Language
	if lang == "" {
		lang = "auto"
	}
	if err := ctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	ctx.SetTranslate(params.Translate)
	if params.InitialPrompt != "" {
		ctx.SetInitialPrompt(params.InitialPrompt)
	}
	if params.BeamSize > 1 {
		ctx.SetBeamSize(params.BeamSize)
	}
	if params.Threads > 0 {
		ctx.SetThreads(uint(params.Threads))
	}
	return nil
}

// padShortClip extends sub-second clips with trailing silence.
func padShortClip(samples []float32) []float32 {
	if len(samples) >= minSamples {
		return samples
	}
	padded := make([]float32, minSamples)
	copy(padded, samples)
	return padded
}
