// Package parakeet implements transcription with Parakeet TDT transducer
// models exported to ONNX. A model directory holds four components: the
// nemo128 mel-spectrogram preprocessor, the conformer encoder, the combined
// prediction/joint network, and the SentencePiece vocabulary.
package parakeet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
	"github.com/oberonlabs/transcribe-go/internal/onnx"
)

// frameDuration is the time covered by one encoder output frame: a 10ms
// preprocessor hop with 8x encoder subsampling.
const frameDuration = 80 * time.Millisecond

// Engine transcribes audio with a Parakeet TDT model. Not safe for
// concurrent transcription calls; use one in-flight call per Engine.
type Engine struct {
	preprocessor *onnx.Session
	encoder      *onnx.Session
	decoderJoint *onnx.Session

	vocab       []string
	blankID     int32
	stateLayers int64
	stateDim    int64
}

var _ transcribe.Engine = (*Engine)(nil)

// NewEngine returns an Engine with no model loaded.
func NewEngine() *Engine { return &Engine{} }

// requiredFiles lists the component files a model directory must contain
// for the given parameters.
func requiredFiles(params ModelParams) []string {
	suffix := ""
	if params.Quantization == QuantInt8 {
		suffix = ".int8"
	}
	return []string{
		"encoder-model" + suffix + ".onnx",
		"decoder_joint-model" + suffix + ".onnx",
		"nemo128.onnx",
		"vocab.txt",
	}
}

// LoadModel loads the full-precision model from dir.
func (e *Engine) LoadModel(dir string) error {
	return e.LoadModelWithParams(dir, DefaultModelParams())
}

// LoadModelWithParams validates the directory layout and loads the three
// ONNX sessions plus the vocabulary, replacing any previously loaded model.
// On failure the engine is left unloaded with no partially acquired
// resources.
func (e *Engine) LoadModelWithParams(dir string, params ModelParams) error {
	files := requiredFiles(params)
	var missing []string
	for _, name := range files {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &transcribe.ModelFilesMissingError{Dir: dir, Missing: missing}
	}

	vocab, err := loadVocabulary(filepath.Join(dir, "vocab.txt"))
	if err != nil {
		return fmt.Errorf("parakeet: %w", err)
	}

	preprocessor, err := onnx.Open(filepath.Join(dir, "nemo128.onnx"))
	if err != nil {
		return fmt.Errorf("parakeet: load preprocessor: %w", err)
	}
	encoder, err := onnx.Open(filepath.Join(dir, files[0]))
	if err != nil {
		preprocessor.Close()
		return fmt.Errorf("parakeet: load encoder: %w", err)
	}
	decoderJoint, err := onnx.Open(filepath.Join(dir, files[1]))
	if err != nil {
		preprocessor.Close()
		encoder.Close()
		return fmt.Errorf("parakeet: load decoder_joint: %w", err)
	}

	// The prediction network state shape is [layers, batch, dim]; read it
	// from the model instead of hardcoding the export's LSTM size.
	layers, dim := int64(2), int64(640)
	if dims, ok := decoderJoint.InputDims("input_states_1"); ok && len(dims) == 3 {
		if dims[0] > 0 {
			layers = dims[0]
		}
		if dims[2] > 0 {
			dim = dims[2]
		}
	}

	e.UnloadModel()
	e.preprocessor = preprocessor
	e.encoder = encoder
	e.decoderJoint = decoderJoint
	e.vocab = vocab
	e.blankID = int32(len(vocab))
	e.stateLayers = layers
	e.stateDim = dim

	slog.Debug("parakeet model loaded",
		"dir", dir, "vocab", len(vocab), "stateLayers", layers, "stateDim", dim)
	return nil
}

// UnloadModel releases all sessions. Safe to call when nothing is loaded.
func (e *Engine) UnloadModel() {
	for _, s := range []**onnx.Session{&e.preprocessor, &e.encoder, &e.decoderJoint} {
		if *s != nil {
			(*s).Close()
			*s = nil
		}
	}
	e.vocab = nil
}

// Loaded reports whether a model is currently loaded.
func (e *Engine) Loaded() bool { return e.encoder != nil }

// Transcribe decodes mono 16kHz samples with default parameters.
func (e *Engine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeWithParams(samples, DefaultInferenceParams())
}

// TranscribeFile decodes a WAV file with default parameters.
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

// TranscribeWithParams runs preprocessing, the encoder, and the TDT decode
// loop over the sample buffer. Deterministic for identical model state and
// input.
func (e *Engine) TranscribeWithParams(samples []float32, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	if !e.Loaded() {
		return nil, transcribe.ErrNotLoaded
	}
	if len(samples) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "empty sample buffer"}
	}

	encoderOutput, hidden, encoderLength, err := e.encode(samples)
	if err != nil {
		return nil, err
	}

	stateSize := int(e.stateLayers * e.stateDim)
	emissions, err := tdtDecode(encoderOutput, hidden, encoderLength, e.blankID, stateSize, e)
	if err != nil {
		return nil, fmt.Errorf("parakeet: decode: %w", err)
	}

	tokens := make([]int32, len(emissions))
	for i, em := range emissions {
		tokens[i] = em.tokenID
	}
	text, err := decodeTokens(tokens, e.vocab)
	if err != nil {
		return nil, err
	}

	return &transcribe.TranscriptionResult{
		Text:     text,
		Segments: buildSegments(emissions, e.vocab, params.TimestampGranularity),
	}, nil
}

// encode runs the mel preprocessor and the conformer encoder, returning the
// encoder output transposed to [T, hidden] flat layout.
func (e *Engine) encode(samples []float32) (data []float32, hidden, frames int, err error) {
	waveforms, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parakeet: create waveforms tensor: %w", err)
	}
	defer waveforms.Destroy()

	waveformsLens, err := ort.NewTensor(ort.NewShape(1), []int64{int64(len(samples))})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("parakeet: create waveforms_lens tensor: %w", err)
	}
	defer waveformsLens.Destroy()

	prep, err := e.preprocessor.Run(map[string]ort.Value{
		"waveforms":      waveforms,
		"waveforms_lens": waveformsLens,
	})
	if err != nil {
		return nil, 0, 0, &transcribe.InferenceError{Op: "parakeet preprocessor", Err: err}
	}
	defer prep.Close()

	features := prep.Value("features")
	featuresLens := prep.Value("features_lens")
	if features == nil || featuresLens == nil {
		return nil, 0, 0, &transcribe.InferenceError{
			Op:  "parakeet preprocessor",
			Err: fmt.Errorf("missing features outputs"),
		}
	}

	enc, err := e.encoder.Run(map[string]ort.Value{
		"audio_signal": features,
		"length":       featuresLens,
	})
	if err != nil {
		return nil, 0, 0, &transcribe.InferenceError{Op: "parakeet encoder", Err: err}
	}
	defer enc.Close()

	raw, shape, err := enc.Float32("outputs")
	if err != nil {
		return nil, 0, 0, &transcribe.InferenceError{Op: "parakeet encoder", Err: err}
	}
	if len(shape) != 3 {
		return nil, 0, 0, &transcribe.InferenceError{
			Op:  "parakeet encoder",
			Err: fmt.Errorf("encoder output has rank %d, expected 3", len(shape)),
		}
	}
	if onnx.HasNaN(raw) {
		return nil, 0, 0, &transcribe.InferenceError{
			Op:  "parakeet encoder",
			Err: fmt.Errorf("NaN in encoder output"),
		}
	}

	hidden = int(shape[1])
	frames = int(shape[2])
	if lens, err := enc.Int64("encoded_lengths"); err == nil && len(lens) > 0 && int(lens[0]) < frames {
		frames = int(lens[0])
	}

	// Encoder output layout is [1, hidden, T]; the decode loop indexes by
	// frame, so transpose to [T, hidden].
	data = make([]float32, hidden*int(shape[2]))
	for h := 0; h < hidden; h++ {
		for t := 0; t < int(shape[2]); t++ {
			data[t*hidden+h] = raw[h*int(shape[2])+t]
		}
	}

	slog.Debug("parakeet encoder", "frames", frames, "hidden", hidden)
	return data, hidden, frames, nil
}

var _ stepRunner = (*Engine)(nil)

// runStep evaluates the combined prediction/joint network for one frame.
func (e *Engine) runStep(encoderFrame []float32, lastToken int32, h, c []float32) (*stepResult, error) {
	frame := make([]float32, len(encoderFrame))
	copy(frame, encoderFrame)
	frameTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frame)), 1), frame)
	if err != nil {
		return nil, fmt.Errorf("create encoder_outputs tensor: %w", err)
	}
	defer frameTensor.Destroy()

	targets, err := ort.NewTensor(ort.NewShape(1, 1), []int32{lastToken})
	if err != nil {
		return nil, fmt.Errorf("create targets tensor: %w", err)
	}
	defer targets.Destroy()

	targetLength, err := ort.NewTensor(ort.NewShape(1), []int32{1})
	if err != nil {
		return nil, fmt.Errorf("create target_length tensor: %w", err)
	}
	defer targetLength.Destroy()

	stateShape := ort.NewShape(e.stateLayers, 1, e.stateDim)
	hIn := make([]float32, len(h))
	copy(hIn, h)
	hTensor, err := ort.NewTensor(stateShape, hIn)
	if err != nil {
		return nil, fmt.Errorf("create input_states_1 tensor: %w", err)
	}
	defer hTensor.Destroy()

	cIn := make([]float32, len(c))
	copy(cIn, c)
	cTensor, err := ort.NewTensor(stateShape, cIn)
	if err != nil {
		return nil, fmt.Errorf("create input_states_2 tensor: %w", err)
	}
	defer cTensor.Destroy()

	result, err := e.decoderJoint.Run(map[string]ort.Value{
		"encoder_outputs": frameTensor,
		"targets":         targets,
		"target_length":   targetLength,
		"input_states_1":  hTensor,
		"input_states_2":  cTensor,
	})
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "parakeet decoder_joint", Err: err}
	}
	defer result.Close()

	logits, _, err := result.Float32("outputs")
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "parakeet decoder_joint", Err: err}
	}
	if onnx.HasNaN(logits) {
		return nil, &transcribe.InferenceError{
			Op:  "parakeet decoder_joint",
			Err: fmt.Errorf("NaN in joint logits"),
		}
	}

	// The joint head emits vocabulary+blank logits followed by the TDT
	// duration-bin logits.
	tokenEnd := len(e.vocab) + 1
	if len(logits) <= tokenEnd {
		return nil, &transcribe.InferenceError{
			Op:  "parakeet decoder_joint",
			Err: fmt.Errorf("joint logits length %d too short for vocab %d", len(logits), len(e.vocab)),
		}
	}
	tokenID := int32(argmax(logits[:tokenEnd]))
	duration := int32(argmax(logits[tokenEnd:]))

	hOut, _, err := result.Float32("output_states_1")
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "parakeet decoder_joint", Err: err}
	}
	cOut, _, err := result.Float32("output_states_2")
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "parakeet decoder_joint", Err: err}
	}

	return &stepResult{tokenID: tokenID, duration: duration, h: hOut, c: cOut}, nil
}

// argmax returns the index of the largest value; ties go to the lowest
// index so decoding stays deterministic.
func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
