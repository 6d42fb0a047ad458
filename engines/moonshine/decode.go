package moonshine

import "fmt"

// tokensPerSecond sizes the automatic decode bound from audio duration.
// Moonshine emits roughly five tokens per second of English speech; the
// margin leaves room for denser languages.
const tokensPerSecond = 6.5

// minMaxLength is the floor for the automatic bound so very short clips can
// still produce a few tokens.
const minMaxLength = 16

// decoderStepper runs one autoregressive decoder step. first marks the
// initial step, before any key/value cache exists. The returned slice holds
// the vocabulary logits for the newest position.
type decoderStepper interface {
	step(token int64, first bool) ([]float32, error)
}

// greedyDecode feeds tokens through the stepper until the end-of-sequence
// token appears or maxLength tokens have been emitted. Reaching the bound
// truncates the hypothesis; it is not an error. Ties in the logits resolve
// to the lowest token id, keeping decoding deterministic.
func greedyDecode(s decoderStepper, startID, eosID int64, maxLength int) ([]int64, error) {
	if maxLength < 1 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}

	var tokens []int64
	current := startID
	for i := 0; i < maxLength; i++ {
		logits, err := s.step(current, i == 0)
		if err != nil {
			return nil, fmt.Errorf("decoder step %d: %w", i, err)
		}
		if len(logits) == 0 {
			return nil, fmt.Errorf("decoder step %d: empty logits", i)
		}

		next := int64(0)
		for id, v := range logits {
			if v > logits[next] {
				next = int64(id)
			}
		}
		if next == eosID {
			break
		}
		tokens = append(tokens, next)
		current = next
	}
	return tokens, nil
}
