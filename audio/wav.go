// Package audio handles WAV ingestion for the transcription engines.
//
// Engines consume mono float32 samples at 16kHz, normalized to [-1, 1].
// File inputs are converted on decode: multi-channel audio is down-mixed by
// averaging channels and non-16kHz audio is resampled with linear
// interpolation. Both conversions are deliberate policy, not silent
// coercion; callers that need bit-exact inputs should supply conforming
// WAV files.
package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// SampleRate is the sample rate every engine expects.
const SampleRate = 16000

// ReadFile decodes a WAV file into mono 16kHz float32 samples.
func ReadFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes a WAV stream into mono 16kHz float32 samples, down-mixing
// and resampling as needed.
func Decode(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, &transcribe.InvalidAudioError{Reason: "not a valid WAV file"}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, &transcribe.InvalidAudioError{Reason: fmt.Sprintf("decoding PCM data: %v", err)}
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "empty WAV file"}
	}
	if dec.WavAudioFormat != 1 {
		return nil, &transcribe.InvalidAudioError{
			Reason: fmt.Sprintf("unsupported WAV audio format %d (want PCM)", dec.WavAudioFormat),
		}
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	rate := int(dec.SampleRate)
	if rate == 0 && buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if rate <= 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "missing sample rate"}
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	// Normalize and down-mix in one pass.
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	if channels > 1 {
		slog.Debug("audio: down-mixed to mono", "channels", channels)
	}
	if rate != SampleRate {
		slog.Debug("audio: resampling", "from", rate, "to", SampleRate)
		samples = Resample(samples, rate, SampleRate)
	}
	return samples, nil
}

// Resample converts samples from inRate to outRate using linear
// interpolation. Returns the input unchanged when the rates match.
func Resample(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := len(samples) * outRate / inRate
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}

// Encode writes mono 16kHz float32 samples into an in-memory 16-bit PCM WAV
// blob, clipping out-of-range samples.
func Encode(samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, &transcribe.InvalidAudioError{Reason: "no samples to encode"}
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		v := int(s * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		data[i] = v
	}

	var buf seekableBuffer
	enc := wav.NewEncoder(&buf, SampleRate, 16, 1, 1)
	err := enc.Write(&gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		SourceBitDepth: 16,
		Data:           data,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalize WAV: %w", err)
	}
	return buf.data, nil
}

// Duration returns the play time of a 16kHz sample buffer.
func Duration(samples []float32) time.Duration {
	return time.Duration(float64(len(samples)) / SampleRate * float64(time.Second))
}

// seekableBuffer adapts a byte slice to the io.WriteSeeker the WAV encoder
// needs for patching the RIFF header.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.data) + int(offset)
	default:
		return 0, fmt.Errorf("audio: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("audio: seek before start")
	}
	b.pos = next
	return int64(next), nil
}
