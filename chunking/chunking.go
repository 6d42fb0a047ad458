// Package chunking splits long recordings into chunks for engines that work
// best on short clips, preferring to cut during silence.
package chunking

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/oberonlabs/transcribe-go/audio"
)

const (
	// targetChunkSize is the preferred chunk length: 30 seconds.
	targetChunkSize = 30 * audio.SampleRate
	// searchWindow is how far each side of the target the silence search
	// extends: 5 seconds.
	searchWindow = 5 * audio.SampleRate
	// frameSize matches the Silero VAD frame: 30ms at 16kHz.
	frameSize = 480
)

// SpeechDetector classifies one frame of samples. Implemented by vad.Silero.
type SpeechDetector interface {
	IsSpeech(frame []float32) (bool, error)
}

// TranscribeFunc transcribes one chunk of mono 16kHz samples.
type TranscribeFunc func(chunk []float32) (string, error)

// ProgressFunc receives progress in percent after each chunk. May be nil.
type ProgressFunc func(percent float64)

// ChunkAudio splits samples into roughly 30-second chunks, transcribes each
// with fn, and joins the results with single spaces. Chunk boundaries prefer
// the first silent frame within ±5 seconds of the target length; when the
// whole window is speech the chunk is cut hard at the target. Detector
// errors on individual frames are logged and skipped, never fatal.
func ChunkAudio(samples []float32, detector SpeechDetector, fn TranscribeFunc, progress ProgressFunc) (string, error) {
	total := len(samples)
	var parts []string

	start := 0
	for start < total {
		end := chunkEnd(samples, start, detector)

		text, err := fn(samples[start:end])
		if err != nil {
			return "", fmt.Errorf("chunking: transcribe chunk at sample %d: %w", start, err)
		}
		if text != "" {
			parts = append(parts, text)
		}

		start = end
		if progress != nil {
			progress(float64(start) / float64(total) * 100)
		}
	}

	return strings.Join(parts, " "), nil
}

// chunkEnd picks the cut point for the chunk beginning at start.
func chunkEnd(samples []float32, start int, detector SpeechDetector) int {
	total := len(samples)
	if start+targetChunkSize >= total {
		return total
	}

	targetEnd := start + targetChunkSize
	searchStart := max(targetEnd-searchWindow, start)
	searchEnd := min(targetEnd+searchWindow, total)

	// Keep frames aligned to the chunk start so the detector sees the same
	// boundaries it would during sequential playback.
	searchStart = start + (searchStart-start)/frameSize*frameSize

	for pos := searchStart; pos+frameSize <= searchEnd; pos += frameSize {
		speech, err := detector.IsSpeech(samples[pos : pos+frameSize])
		if err != nil {
			slog.Warn("speech detection failed", "sample", pos, "error", err)
			continue
		}
		if !speech {
			return pos + frameSize
		}
	}

	slog.Debug("no silence in search window, cutting at target length", "sample", targetEnd)
	return targetEnd
}
