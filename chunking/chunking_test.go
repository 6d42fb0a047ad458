package chunking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/oberonlabs/transcribe-go/audio"
)

// funcDetector adapts a func to SpeechDetector; pos tracks how many frames
// have been classified.
type funcDetector struct {
	fn    func(call int, frame []float32) (bool, error)
	calls int
}

func (d *funcDetector) IsSpeech(frame []float32) (bool, error) {
	speech, err := d.fn(d.calls, frame)
	d.calls++
	return speech, err
}

func alwaysSpeech() *funcDetector {
	return &funcDetector{fn: func(int, []float32) (bool, error) { return true, nil }}
}

func alwaysSilent() *funcDetector {
	return &funcDetector{fn: func(int, []float32) (bool, error) { return false, nil }}
}

func TestChunkAudioShortClipSingleChunk(t *testing.T) {
	samples := make([]float32, 10*audio.SampleRate)

	var chunks [][]float32
	text, err := ChunkAudio(samples, alwaysSpeech(), func(chunk []float32) (string, error) {
		chunks = append(chunks, chunk)
		return "hello", nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if len(chunks) != 1 || len(chunks[0]) != len(samples) {
		t.Fatalf("expected one chunk with all samples, got %d chunks", len(chunks))
	}
}

func TestChunkAudioHardCutWhenAllSpeech(t *testing.T) {
	samples := make([]float32, 70*audio.SampleRate)

	var lens []int
	_, err := ChunkAudio(samples, alwaysSpeech(), func(chunk []float32) (string, error) {
		lens = append(lens, len(chunk))
		return "x", nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	if len(lens) != 3 {
		t.Fatalf("got %d chunks, want 3: %v", len(lens), lens)
	}
	if lens[0] != targetChunkSize || lens[1] != targetChunkSize {
		t.Errorf("chunk lengths = %v, want hard cuts at %d", lens, targetChunkSize)
	}
	if lens[0]+lens[1]+lens[2] != len(samples) {
		t.Errorf("chunks do not cover the input: %v", lens)
	}
}

func TestChunkAudioCutsAtFirstSilence(t *testing.T) {
	samples := make([]float32, 40*audio.SampleRate)

	var lens []int
	_, err := ChunkAudio(samples, alwaysSilent(), func(chunk []float32) (string, error) {
		lens = append(lens, len(chunk))
		return "x", nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	// The search window opens 5s before the 30s target; the first frame
	// boundary at or after 25s is sample 399840, so the silent cut lands at
	// the end of that frame.
	wantFirst := 399840 + frameSize
	if len(lens) < 1 || lens[0] != wantFirst {
		t.Fatalf("chunk lengths = %v, want first chunk of %d samples", lens, wantFirst)
	}
	sum := 0
	for _, n := range lens {
		sum += n
	}
	if sum != len(samples) {
		t.Errorf("chunks do not cover the input: %v", lens)
	}
}

func TestChunkAudioDetectorErrorsAreSkipped(t *testing.T) {
	samples := make([]float32, 40*audio.SampleRate)
	failing := &funcDetector{fn: func(int, []float32) (bool, error) {
		return false, errors.New("model unavailable")
	}}

	var lens []int
	_, err := ChunkAudio(samples, failing, func(chunk []float32) (string, error) {
		lens = append(lens, len(chunk))
		return "x", nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	// Every probe errored, so the first chunk falls back to the hard cut.
	if len(lens) < 1 || lens[0] != targetChunkSize {
		t.Errorf("chunk lengths = %v, want hard cut of %d", lens, targetChunkSize)
	}
}

func TestChunkAudioJoinsWithSpaces(t *testing.T) {
	samples := make([]float32, 70*audio.SampleRate)

	n := 0
	text, err := ChunkAudio(samples, alwaysSpeech(), func(chunk []float32) (string, error) {
		n++
		if n == 2 {
			return "", nil // silent chunk contributes nothing
		}
		return fmt.Sprintf("part%d", n), nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	if text != "part1 part3" {
		t.Errorf("text = %q, want %q", text, "part1 part3")
	}
}

func TestChunkAudioTranscribeErrorPropagates(t *testing.T) {
	samples := make([]float32, 10*audio.SampleRate)
	wantErr := errors.New("engine fell over")

	_, err := ChunkAudio(samples, alwaysSpeech(), func([]float32) (string, error) {
		return "", wantErr
	}, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestChunkAudioProgressReachesCompletion(t *testing.T) {
	samples := make([]float32, 70*audio.SampleRate)

	var last float64
	_, err := ChunkAudio(samples, alwaysSpeech(), func([]float32) (string, error) {
		return "x", nil
	}, func(percent float64) {
		if percent < last {
			t.Errorf("progress went backwards: %f after %f", percent, last)
		}
		last = percent
	})
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	if last != 100 {
		t.Errorf("final progress = %f, want 100", last)
	}
}

func TestChunkAudioEmptyInput(t *testing.T) {
	text, err := ChunkAudio(nil, alwaysSpeech(), func([]float32) (string, error) {
		t.Fatal("transcribe called for empty input")
		return "", nil
	}, nil)
	if err != nil {
		t.Fatalf("ChunkAudio: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}
