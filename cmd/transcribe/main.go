// Command transcribe converts a WAV file to text with one of the supported
// engines.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	transcribe "github.com/oberonlabs/transcribe-go"
	"github.com/oberonlabs/transcribe-go/audio"
	"github.com/oberonlabs/transcribe-go/chunking"
	"github.com/oberonlabs/transcribe-go/engines/moonshine"
	"github.com/oberonlabs/transcribe-go/engines/parakeet"
	"github.com/oberonlabs/transcribe-go/engines/whisper"
	"github.com/oberonlabs/transcribe-go/engines/whisperfile"
	"github.com/oberonlabs/transcribe-go/internal/config"
	"github.com/oberonlabs/transcribe-go/internal/wer"
	"github.com/oberonlabs/transcribe-go/vad"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/transcribe-go/config.yaml)")
	backend := flag.String("backend", "", "engine backend: parakeet, moonshine, whisper, whisperfile")
	modelPath := flag.String("model", "", "model file or directory")
	binaryPath := flag.String("binary", "", "whisperfile executable path")
	language := flag.String("language", "", "spoken language hint")
	variant := flag.String("variant", "", "moonshine model variant")
	quantized := flag.Bool("int8", false, "use parakeet's int8 quantized exports")
	chunk := flag.Bool("chunk", false, "split long audio at silence before transcribing")
	vadModel := flag.String("vad", "", "Silero VAD model path (required with -chunk)")
	reference := flag.String("reference", "", "reference transcript file for WER scoring")
	timestamps := flag.Bool("timestamps", false, "print per-segment timestamps")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] audio.wav\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	wavPath := flag.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applyFlags(cfg, *backend, *modelPath, *binaryPath, *language, *variant, *quantized, *chunk, *vadModel)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	log.Printf("Loading %s model from %s...", cfg.Engine.Backend, cfg.Engine.ModelPath)
	loadStart := time.Now()
	if err := engine.LoadModel(cfg.Engine.ModelPath); err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer engine.UnloadModel()
	log.Printf("Model loaded in %s", time.Since(loadStart).Round(time.Millisecond))

	result, err := run(engine, cfg, wavPath)
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}

	fmt.Println(result.Text)
	if *timestamps {
		for _, seg := range result.Segments {
			fmt.Printf("[%8s -> %8s] %s\n",
				seg.Start.Round(10*time.Millisecond),
				seg.End.Round(10*time.Millisecond),
				seg.Text)
		}
	}

	if *reference != "" {
		refText, err := os.ReadFile(*reference)
		if err != nil {
			log.Fatalf("read reference transcript: %v", err)
		}
		score := wer.Compute(string(refText), result.Text)
		log.Printf("WER %.3f (%d sub, %d ins, %d del over %d reference words)",
			score.WER, score.Substitutions, score.Insertions, score.Deletions, score.RefWords)
	}
}

// run transcribes the file, splitting it at silence first when chunking is
// enabled.
func run(engine transcribe.Engine, cfg *config.Config, wavPath string) (*transcribe.TranscriptionResult, error) {
	if !cfg.Chunking.Enabled {
		start := time.Now()
		result, err := engine.TranscribeFile(wavPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Transcribed in %s", time.Since(start).Round(time.Millisecond))
		return result, nil
	}

	samples, err := audio.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}

	detector, err := vad.NewSilero(cfg.Chunking.VADModelPath)
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	start := time.Now()
	text, err := chunking.ChunkAudio(samples, detector, func(chunk []float32) (string, error) {
		result, err := engine.Transcribe(chunk)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}, func(percent float64) {
		slog.Info("chunking progress", "percent", fmt.Sprintf("%.0f", percent))
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Transcribed %s of audio in %s",
		audio.Duration(samples).Round(time.Second), time.Since(start).Round(time.Millisecond))

	// Chunked transcription loses per-segment timing.
	return &transcribe.TranscriptionResult{Text: text}, nil
}

// buildEngine constructs the configured backend. Parakeet and moonshine
// model options are bound at load time, so those backends are wrapped to
// carry their params through LoadModel.
func buildEngine(cfg *config.Config) (transcribe.Engine, error) {
	switch cfg.Engine.Backend {
	case "parakeet":
		params := parakeet.DefaultModelParams()
		if cfg.Engine.Int8 {
			params = parakeet.Int8ModelParams()
		}
		return &parakeetEngine{Engine: parakeet.NewEngine(), params: params}, nil
	case "moonshine":
		params := moonshine.DefaultModelParams()
		if cfg.Engine.Variant != "" {
			params = moonshine.VariantParams(moonshine.Variant(cfg.Engine.Variant))
		}
		return &moonshineEngine{Engine: moonshine.NewEngine(), params: params}, nil
	case "whisper":
		return &whisperEngine{Engine: whisper.NewEngine(), language: cfg.Engine.Language}, nil
	case "whisperfile":
		return &whisperfileEngine{Engine: whisperfile.NewEngine(cfg.Engine.BinaryPath), language: cfg.Engine.Language}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Engine.Backend)
	}
}

type parakeetEngine struct {
	*parakeet.Engine
	params parakeet.ModelParams
}

func (e *parakeetEngine) LoadModel(path string) error {
	return e.Engine.LoadModelWithParams(path, e.params)
}

type moonshineEngine struct {
	*moonshine.Engine
	params moonshine.ModelParams
}

func (e *moonshineEngine) LoadModel(path string) error {
	return e.Engine.LoadModelWithParams(path, e.params)
}

type whisperEngine struct {
	*whisper.Engine
	language string
}

func (e *whisperEngine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.Engine.TranscribeWithParams(samples, whisper.InferenceParams{Language: e.language})
}

func (e *whisperEngine) TranscribeFile(path string) (*transcribe.TranscriptionResult, error) {
	return e.Engine.TranscribeFileWithParams(path, whisper.InferenceParams{Language: e.language})
}

type whisperfileEngine struct {
	*whisperfile.Engine
	language string
}

func (e *whisperfileEngine) Transcribe(samples []float32) (*transcribe.TranscriptionResult, error) {
	return e.Engine.TranscribeWithParams(samples, whisperfile.InferenceParams{Language: e.language})
}

func (e *whisperfileEngine) TranscribeFile(path string) (*transcribe.TranscriptionResult, error) {
	return e.Engine.TranscribeFileWithParams(path, whisperfile.InferenceParams{Language: e.language})
}

// loadConfig loads the config from the specified path, or falls back to the
// default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	return config.Default(), nil
}

// applyFlags overlays non-empty CLI flags onto the loaded config.
func applyFlags(cfg *config.Config, backend, model, binary, language, variant string, quantized, chunk bool, vadModel string) {
	if backend != "" {
		cfg.Engine.Backend = backend
	}
	if model != "" {
		cfg.Engine.ModelPath = model
	}
	if binary != "" {
		cfg.Engine.BinaryPath = binary
	}
	if language != "" {
		cfg.Engine.Language = language
	}
	if variant != "" {
		cfg.Engine.Variant = variant
	}
	if quantized {
		cfg.Engine.Int8 = true
	}
	if chunk {
		cfg.Chunking.Enabled = true
	}
	if vadModel != "" {
		cfg.Chunking.VADModelPath = vadModel
	}
}
