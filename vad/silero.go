// Package vad wraps the Silero voice activity detection ONNX model.
package vad

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
	"github.com/oberonlabs/transcribe-go/internal/onnx"
)

// FrameSize is the samples per VAD frame: 30ms at 16kHz.
const FrameSize = 480

// SpeechThreshold is the probability above which a frame counts as speech.
const SpeechThreshold = 0.5

// Silero model recurrent state layout.
const (
	stateLayers = 2
	stateDim    = 64
)

// Silero runs the Silero VAD model frame by frame, carrying recurrent state
// between frames. Not safe for concurrent use.
type Silero struct {
	sess *onnx.Session
	h    []float32
	c    []float32
}

// NewSilero loads the Silero VAD ONNX model.
func NewSilero(modelPath string) (*Silero, error) {
	sess, err := onnx.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vad: load silero model: %w", err)
	}
	return &Silero{
		sess: sess,
		h:    make([]float32, stateLayers*stateDim),
		c:    make([]float32, stateLayers*stateDim),
	}, nil
}

// Close releases the model session.
func (v *Silero) Close() error {
	if v.sess == nil {
		return nil
	}
	err := v.sess.Close()
	v.sess = nil
	return err
}

// Reset clears the recurrent state, e.g. between independent recordings.
func (v *Silero) Reset() {
	clear(v.h)
	clear(v.c)
}

// PushFrame feeds one frame and returns the speech probability. Frames are
// expected to be FrameSize mono 16kHz samples.
func (v *Silero) PushFrame(frame []float32) (float32, error) {
	if len(frame) == 0 {
		return 0, &transcribe.InvalidAudioError{Reason: "empty VAD frame"}
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(frame))), frame)
	if err != nil {
		return 0, fmt.Errorf("vad: create input tensor: %w", err)
	}
	defer input.Destroy()

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{audio.SampleRate})
	if err != nil {
		return 0, fmt.Errorf("vad: create sr tensor: %w", err)
	}
	defer sr.Destroy()

	stateShape := ort.NewShape(stateLayers, 1, stateDim)
	h, err := ort.NewTensor(stateShape, v.h)
	if err != nil {
		return 0, fmt.Errorf("vad: create h tensor: %w", err)
	}
	defer h.Destroy()
	c, err := ort.NewTensor(stateShape, v.c)
	if err != nil {
		return 0, fmt.Errorf("vad: create c tensor: %w", err)
	}
	defer c.Destroy()

	result, err := v.sess.Run(map[string]ort.Value{
		"input": input,
		"sr":    sr,
		"h":     h,
		"c":     c,
	})
	if err != nil {
		return 0, &transcribe.InferenceError{Op: "silero vad", Err: err}
	}
	defer result.Close()

	prob, _, err := result.Float32("output")
	if err != nil {
		return 0, &transcribe.InferenceError{Op: "silero vad", Err: err}
	}
	if len(prob) == 0 {
		return 0, &transcribe.InferenceError{Op: "silero vad", Err: fmt.Errorf("empty output")}
	}

	hn, _, err := result.Float32("hn")
	if err != nil {
		return 0, &transcribe.InferenceError{Op: "silero vad", Err: err}
	}
	cn, _, err := result.Float32("cn")
	if err != nil {
		return 0, &transcribe.InferenceError{Op: "silero vad", Err: err}
	}
	copy(v.h, hn)
	copy(v.c, cn)

	return prob[0], nil
}

// IsSpeech reports whether a frame contains speech.
func (v *Silero) IsSpeech(frame []float32) (bool, error) {
	prob, err := v.PushFrame(frame)
	if err != nil {
		return false, err
	}
	return prob > SpeechThreshold, nil
}
