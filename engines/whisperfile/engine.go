// Package whisperfile implements transcription by proxying to a supervised
// whisperfile server process. Loading a model spawns the server; unloading
// stops it.
package whisperfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
)

// ModelParams configures the supervised server.
type ModelParams struct {
	// Host the server binds to.
	Host string
	// Port the server listens on.
	Port int
	// StartupTimeout bounds the readiness wait after spawning.
	StartupTimeout time.Duration
}

// DefaultModelParams binds to 127.0.0.1:8080 with a 30s startup timeout.
func DefaultModelParams() ModelParams {
	return ModelParams{Host: "127.0.0.1", Port: 8080, StartupTimeout: 30 * time.Second}
}

// InferenceParams configures one transcription request.
type InferenceParams struct {
	// Language is an ISO 639-1 code; empty lets the server auto-detect.
	Language string
	// Translate requests translation to English.
	Translate bool
	// Temperature for sampling; zero is greedy and is still sent explicitly.
	Temperature float32
}

// DefaultInferenceParams returns the zero configuration.
func DefaultInferenceParams() InferenceParams { return InferenceParams{} }

// inferenceResponse is the server's verbose_json payload.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Engine transcribes audio through a whisperfile server it supervises.
type Engine struct {
	binaryPath string
	srv        *server
}

var _ transcribe.Engine = (*Engine)(nil)

// NewEngine returns an Engine that will run the given whisperfile binary.
// No process is spawned until LoadModel.
func NewEngine(binaryPath string) *Engine {
	return &Engine{binaryPath: binaryPath}
}

// LoadModel spawns the server with a GGML/GGUF model and default parameters.
func (e *Engine) LoadModel(modelPath string) error {
	return e.LoadModelWithParams(modelPath, DefaultModelParams())
}

// LoadModelWithParams spawns the server and waits for it to become ready.
// A model that was already loaded is stopped first.
func (e *Engine) LoadModelWithParams(modelPath string, params ModelParams) error {
	if _, err := os.Stat(modelPath); err != nil {
		return &transcribe.ModelFilesMissingError{Dir: modelPath, Missing: []string{modelPath}}
	}

	e.UnloadModel()
	srv, err := startServer(e.binaryPath, modelPath, params.Host, params.Port, params.StartupTimeout)
	if err != nil {
		return fmt.Errorf("whisperfile: %w", err)
	}
	e.srv = srv
	return nil
}

// UnloadModel stops the server. Safe to call when nothing is loaded.
func (e *Engine) UnloadModel() {
	if e.srv != nil {
		e.srv.stop()
		e.srv = nil
	}
}

// Loaded reports whether the supervised server is running. A server whose
// process has exited reports false even before the next request observes the
// crash.
func (e *Engine) Loaded() bool { return e.srv != nil && !e.srv.crashed() }

// Transcribe encodes mono 16kHz samples as WAV and sends them to the server.
func (e *Engine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeWithParams(samples, DefaultInferenceParams())
}

// TranscribeWithParams encodes mono 16kHz samples as WAV and sends them to
// the server.
func (e *Engine) TranscribeWithParams(samples []float32, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	// A crashed server must surface ErrServerCrashed from the request path,
	// so only the never-loaded case short-circuits here.
	if e.srv == nil {
		return nil, transcribe.ErrNotLoaded
	}
	if len(samples) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "empty sample buffer"}
	}
	wavData, err := audio.Encode(samples)
	if err != nil {
		return nil, err
	}
	return e.infer(wavData, params)
}

// TranscribeFile sends a WAV file to the server without re-encoding.
func (e *Engine) TranscribeFile(path string) (*transcribe.TranscriptionResult, error) {
	return e.TranscribeFileWithParams(path, DefaultInferenceParams())
}

// TranscribeFileWithParams sends a WAV file to the server without
// re-encoding.
func (e *Engine) TranscribeFileWithParams(path string, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	if e.srv == nil {
		return nil, transcribe.ErrNotLoaded
	}
	wavData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("whisperfile: read %q: %w", path, err)
	}
	return e.infer(wavData, params)
}

// infer posts the WAV bytes as multipart form data to /inference and decodes
// the verbose_json response.
func (e *Engine) infer(wavData []byte, params InferenceParams) (*transcribe.TranscriptionResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisperfile: create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("whisperfile: write form file: %w", err)
	}
	if params.Language != "" {
		w.WriteField("language", params.Language)
	}
	if params.Translate {
		w.WriteField("translate", "true")
	}
	w.WriteField("temperature", fmt.Sprintf("%.2f", params.Temperature))
	w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("whisperfile: finalize form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.srv.baseURL+"/inference", &buf)
	if err != nil {
		return nil, fmt.Errorf("whisperfile: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.srv.do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperfile: inference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperfile: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &transcribe.InferenceError{
			Op:  "whisperfile inference",
			Err: fmt.Errorf("server status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var out inferenceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("whisperfile: decode response: %w", err)
	}

	result := &transcribe.TranscriptionResult{Text: strings.TrimSpace(out.Text)}
	for _, s := range out.Segments {
		result.Segments = append(result.Segments, transcribe.Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return result, nil
}
