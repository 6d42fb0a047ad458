// Package moonshine implements transcription with Moonshine
// encoder-decoder models exported to ONNX. The decoder is the merged
// export: one graph serving both the first (cache-building) step and the
// cached autoregressive steps, selected by the use_cache_branch input.
package moonshine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
	"github.com/oberonlabs/transcribe-go/internal/onnx"
)

// Control token pieces used when the tokenizer does not describe them.
const (
	startPiece = "<s>"
	eosPiece   = "</s>"

	fallbackStartID = 1
	fallbackEOSID   = 2
)

var requiredFiles = []string{
	"encoder_model.onnx",
	"decoder_model_merged.onnx",
	"tokenizer.json",
}

// kvSlot describes one key/value cache input of the merged decoder and the
// present output that refreshes it.
type kvSlot struct {
	inputName  string
	outputName string
	heads      int64
	dim        int64
	// selfAttention distinguishes decoder self-attention cache (grows every
	// step) from encoder cross-attention cache (computed once).
	selfAttention bool
}

// Engine transcribes audio with a Moonshine model. Not safe for concurrent
// transcription calls; use one in-flight call per Engine.
type Engine struct {
	encoder *onnx.Session
	decoder *onnx.Session
	tok     *Tokenizer
	variant Variant

	encoderInput  string
	encoderOutput string
	kv            []kvSlot
	startID       int64
	eosID         int64
}

var _ transcribe.Engine = (*Engine)(nil)

// NewEngine returns an Engine with no model loaded.
func NewEngine() *Engine { return &Engine{} }

// LoadModel loads the base English variant from dir.
func (e *Engine) LoadModel(dir string) error {
	return e.LoadModelWithParams(dir, DefaultModelParams())
}

// LoadModelWithParams validates the directory layout, loads both sessions
// and the tokenizer, and introspects the decoder's cache slots. On failure
// the engine stays unloaded with nothing leaked.
func (e *Engine) LoadModelWithParams(dir string, params ModelParams) error {
	if err := params.Variant.validate(); err != nil {
		return err
	}

	var missing []string
	for _, name := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &transcribe.ModelFilesMissingError{Dir: dir, Missing: missing}
	}

	tok, err := loadTokenizer(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return fmt.Errorf("moonshine: %w", err)
	}

	encoder, err := onnx.Open(filepath.Join(dir, "encoder_model.onnx"))
	if err != nil {
		return fmt.Errorf("moonshine: load encoder: %w", err)
	}
	decoder, err := onnx.Open(filepath.Join(dir, "decoder_model_merged.onnx"))
	if err != nil {
		encoder.Close()
		return fmt.Errorf("moonshine: load decoder: %w", err)
	}

	kv, err := introspectCache(decoder)
	if err != nil {
		encoder.Close()
		decoder.Close()
		return fmt.Errorf("moonshine: %w", err)
	}

	e.UnloadModel()
	e.encoder = encoder
	e.decoder = decoder
	e.tok = tok
	e.variant = params.Variant
	e.encoderInput = encoder.InputNames()[0]
	e.encoderOutput = encoder.OutputNames()[0]
	e.kv = kv

	e.startID, e.eosID = fallbackStartID, fallbackEOSID
	if id, ok := tok.TokenID(startPiece); ok {
		e.startID = id
	}
	if id, ok := tok.TokenID(eosPiece); ok {
		e.eosID = id
	}

	slog.Debug("moonshine model loaded",
		"dir", dir, "variant", string(params.Variant), "cacheSlots", len(kv))
	return nil
}

// introspectCache maps every past_key_values input of the merged decoder to
// its present output, reading the static head-count and head-dim axes from
// the graph.
func introspectCache(decoder *onnx.Session) ([]kvSlot, error) {
	outputs := make(map[string]bool, len(decoder.OutputNames()))
	for _, name := range decoder.OutputNames() {
		outputs[name] = true
	}

	var kv []kvSlot
	for _, name := range decoder.InputNames() {
		if !strings.HasPrefix(name, "past_key_values.") {
			continue
		}
		dims, _ := decoder.InputDims(name)
		if len(dims) != 4 || dims[1] <= 0 || dims[3] <= 0 {
			return nil, fmt.Errorf("cache input %q has unexpected dims %v", name, dims)
		}
		outputName := "present." + strings.TrimPrefix(name, "past_key_values.")
		if !outputs[outputName] {
			return nil, fmt.Errorf("cache input %q has no matching output %q", name, outputName)
		}
		kv = append(kv, kvSlot{
			inputName:     name,
			outputName:    outputName,
			heads:         dims[1],
			dim:           dims[3],
			selfAttention: strings.Contains(name, ".decoder."),
		})
	}
	if len(kv) == 0 {
		return nil, fmt.Errorf("merged decoder exposes no past_key_values inputs")
	}
	return kv, nil
}

// UnloadModel releases both sessions. Safe to call when nothing is loaded.
func (e *Engine) UnloadModel() {
	if e.encoder != nil {
		e.encoder.Close()
		e.encoder = nil
	}
	if e.decoder != nil {
		e.decoder.Close()
		e.decoder = nil
	}
	e.tok = nil
	e.kv = nil
}

// Loaded reports whether a model is currently loaded.
func (e *Engine) Loaded() bool { return e.decoder != nil }

// Transcribe decodes mono 16kHz samples with an automatic length bound.
func (e *Engine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeWithParams(samples, InferenceParams{})
}

// TranscribeFile decodes a WAV file with an automatic length bound.
func (e *Engine) TranscribeFile(path string) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeFileWithParams(path, InferenceParams{})
}

// TranscribeFileWithParams decodes a WAV file and transcribes it.
func (e *Engine) TranscribeFileWithParams(path string, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	samples, err := audio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.TranscribeWithParams(samples, params)
}

// TranscribeWithParams runs the encoder once, then autoregressively decodes
// with a per-call key/value cache that is discarded when the call returns.
// Moonshine provides no timing information, so Segments is always nil.
func (e *Engine) TranscribeWithParams(samples []float32, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	if !e.Loaded() {
		return nil, transcribe.ErrNotLoaded
	}
	if len(samples) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "empty sample buffer"}
	}

	maxLength := params.MaxLength
	if maxLength <= 0 {
		maxLength = autoMaxLength(len(samples))
	}

	hidden, err := e.runEncoder(samples)
	if err != nil {
		return nil, err
	}

	sess := &decodeSession{engine: e, encoderHidden: hidden}
	defer sess.destroy()

	tokens, err := greedyDecode(sess, e.startID, e.eosID, maxLength)
	if err != nil {
		return nil, fmt.Errorf("moonshine: decode: %w", err)
	}

	text, err := e.tok.Decode(tokens)
	if err != nil {
		return nil, err
	}
	return &transcribe.TranscriptionResult{Text: text}, nil
}

// autoMaxLength bounds decoding by the audio duration.
func autoMaxLength(sampleCount int) int {
	n := int(float64(sampleCount) / audio.SampleRate * tokensPerSecond)
	if n < minMaxLength {
		n = minMaxLength
	}
	return n
}

// runEncoder produces the encoder hidden states; the returned value is
// owned by the caller.
func (e *Engine) runEncoder(samples []float32) (ort.Value, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("moonshine: create encoder input: %w", err)
	}
	defer input.Destroy()

	result, err := e.encoder.Run(map[string]ort.Value{e.encoderInput: input})
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "moonshine encoder", Err: err}
	}
	defer result.Close()

	hidden := result.Take(e.encoderOutput)
	if hidden == nil {
		return nil, &transcribe.InferenceError{
			Op:  "moonshine encoder",
			Err: fmt.Errorf("missing output %q", e.encoderOutput),
		}
	}
	return hidden, nil
}

// decodeSession is the call-scoped decode state: the shared encoder output
// plus the growing key/value cache. Destroyed at call end, never reused.
type decodeSession struct {
	engine        *Engine
	encoderHidden ort.Value
	cache         map[string]ort.Value
}

var _ decoderStepper = (*decodeSession)(nil)

func (d *decodeSession) step(token int64, first bool) ([]float32, error) {
	e := d.engine

	inputIDs, err := ort.NewTensor(ort.NewShape(1, 1), []int64{token})
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	useCache, err := ort.NewTensor(ort.NewShape(1), []bool{!first})
	if err != nil {
		return nil, fmt.Errorf("create use_cache_branch tensor: %w", err)
	}
	defer useCache.Destroy()

	inputs := map[string]ort.Value{
		"input_ids":             inputIDs,
		"encoder_hidden_states": d.encoderHidden,
		"use_cache_branch":      useCache,
	}

	// On the first step the cache is empty: zero-length past tensors make
	// the graph take its cache-building branch.
	var scratch []ort.Value
	defer func() {
		for _, v := range scratch {
			_ = v.Destroy()
		}
	}()
	for _, slot := range e.kv {
		if first {
			empty, err := ort.NewEmptyTensor[float32](ort.NewShape(1, slot.heads, 0, slot.dim))
			if err != nil {
				return nil, fmt.Errorf("create empty cache tensor %s: %w", slot.inputName, err)
			}
			scratch = append(scratch, empty)
			inputs[slot.inputName] = empty
			continue
		}
		cached, ok := d.cache[slot.inputName]
		if !ok {
			return nil, fmt.Errorf("cache slot %s missing", slot.inputName)
		}
		inputs[slot.inputName] = cached
	}

	result, err := e.decoder.Run(inputs)
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "moonshine decoder", Err: err}
	}
	defer result.Close()

	logits, shape, err := result.Float32("logits")
	if err != nil {
		return nil, &transcribe.InferenceError{Op: "moonshine decoder", Err: err}
	}
	if onnx.HasNaN(logits) {
		return nil, &transcribe.InferenceError{
			Op:  "moonshine decoder",
			Err: fmt.Errorf("NaN in decoder logits"),
		}
	}

	if d.cache == nil {
		d.cache = make(map[string]ort.Value, len(e.kv))
	}
	for _, slot := range e.kv {
		// Cross-attention cache is computed once from the encoder states;
		// the cached-branch copies are discarded with the result.
		if !first && !slot.selfAttention {
			continue
		}
		fresh := result.Take(slot.outputName)
		if fresh == nil {
			return nil, &transcribe.InferenceError{
				Op:  "moonshine decoder",
				Err: fmt.Errorf("missing cache output %q", slot.outputName),
			}
		}
		if old, ok := d.cache[slot.inputName]; ok {
			_ = old.Destroy()
		}
		d.cache[slot.inputName] = fresh
	}

	// logits shape is [1, positions, vocab]; only the newest position
	// matters.
	vocab := int(shape[len(shape)-1])
	return logits[len(logits)-vocab:], nil
}

func (d *decodeSession) destroy() {
	if d.encoderHidden != nil {
		_ = d.encoderHidden.Destroy()
		d.encoderHidden = nil
	}
	for _, v := range d.cache {
		_ = v.Destroy()
	}
	d.cache = nil
}
