package parakeet

import (
	"strings"
	"time"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// segmentPauseGap is the silence between words that forces a segment break
// even without sentence punctuation.
const segmentPauseGap = time.Second

// word is a group of consecutive token emissions forming one spoken word.
type word struct {
	text  string
	start time.Duration
	end   time.Duration
}

// buildSegments groups decoded emissions into result segments at the
// requested granularity. Emission frames are non-decreasing; starts are
// clamped so spans never overlap.
func buildSegments(emissions []emission, vocab []string, g TimestampGranularity) []transcribe.Segment {
	if len(emissions) == 0 {
		return nil
	}

	if g == GranularityToken {
		segments := make([]transcribe.Segment, 0, len(emissions))
		var prevEnd time.Duration
		for _, em := range emissions {
			start := clampStart(frameTime(em.frame), prevEnd)
			end := start + frameDuration
			segments = append(segments, transcribe.Segment{
				Start: start,
				End:   end,
				Text:  strings.TrimSpace(strings.ReplaceAll(vocab[em.tokenID], "▁", " ")),
			})
			prevEnd = end
		}
		return segments
	}

	words := groupWords(emissions, vocab)
	if g == GranularityWord {
		segments := make([]transcribe.Segment, len(words))
		for i, w := range words {
			segments[i] = transcribe.Segment{Start: w.start, End: w.end, Text: w.text}
		}
		return segments
	}

	// Sentence-like segments: split after sentence punctuation or a long
	// pause between words.
	var segments []transcribe.Segment
	var parts []string
	var segStart, segEnd time.Duration
	flush := func() {
		if len(parts) == 0 {
			return
		}
		segments = append(segments, transcribe.Segment{
			Start: segStart,
			End:   segEnd,
			Text:  strings.Join(parts, " "),
		})
		parts = nil
	}
	for i, w := range words {
		if len(parts) == 0 {
			segStart = w.start
		}
		parts = append(parts, w.text)
		segEnd = w.end
		last := i == len(words)-1
		if last || endsSentence(w.text) || words[i+1].start-w.end > segmentPauseGap {
			flush()
		}
	}
	return segments
}

// groupWords merges emissions into words at SentencePiece "▁" boundaries.
func groupWords(emissions []emission, vocab []string) []word {
	var words []word
	var cur *word
	var prevEnd time.Duration
	for _, em := range emissions {
		piece := vocab[em.tokenID]
		startsWord := strings.HasPrefix(piece, "▁")
		text := strings.ReplaceAll(piece, "▁", "")

		if cur == nil || startsWord {
			if cur != nil {
				prevEnd = cur.end
				words = append(words, *cur)
			}
			start := clampStart(frameTime(em.frame), prevEnd)
			cur = &word{text: text, start: start, end: start + frameDuration}
			continue
		}
		cur.text += text
		if end := frameTime(em.frame) + frameDuration; end > cur.end {
			cur.end = end
		}
	}
	if cur != nil {
		words = append(words, *cur)
	}

	// Drop empty words produced by bare "▁" pieces.
	out := words[:0]
	for _, w := range words {
		if w.text != "" {
			out = append(out, w)
		}
	}
	return out
}

func frameTime(frame int) time.Duration {
	return time.Duration(frame) * frameDuration
}

func clampStart(start, prevEnd time.Duration) time.Duration {
	if start < prevEnd {
		return prevEnd
	}
	return start
}

func endsSentence(text string) bool {
	return strings.HasSuffix(text, ".") ||
		strings.HasSuffix(text, "?") ||
		strings.HasSuffix(text, "!")
}
