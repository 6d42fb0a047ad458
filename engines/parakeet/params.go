package parakeet

// Quantization selects which exported weights to load from a model
// directory.
type Quantization int

const (
	// QuantFull loads the float32 export (encoder-model.onnx).
	QuantFull Quantization = iota
	// QuantInt8 loads the int8 export (encoder-model.int8.onnx).
	QuantInt8
)

// ModelParams is fixed for the lifetime of a loaded model.
type ModelParams struct {
	Quantization Quantization
}

// DefaultModelParams loads the full-precision export.
func DefaultModelParams() ModelParams { return ModelParams{Quantization: QuantFull} }

// Int8ModelParams loads the int8-quantized export.
func Int8ModelParams() ModelParams { return ModelParams{Quantization: QuantInt8} }

// TimestampGranularity controls how decoded tokens are grouped into result
// segments.
type TimestampGranularity int

const (
	// GranularitySegment groups words into sentence-like spans, splitting at
	// sentence punctuation and long pauses.
	GranularitySegment TimestampGranularity = iota
	// GranularityWord emits one segment per word.
	GranularityWord
	// GranularityToken emits one segment per decoded token.
	GranularityToken
)

// InferenceParams configures one transcription call.
type InferenceParams struct {
	TimestampGranularity TimestampGranularity
}

// DefaultInferenceParams groups timestamps by segment.
func DefaultInferenceParams() InferenceParams {
	return InferenceParams{TimestampGranularity: GranularitySegment}
}
