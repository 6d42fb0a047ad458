package parakeet

import "fmt"

// maxSymbolsPerStep caps token emissions on a single encoder frame so a
// degenerate joint output cannot loop forever. Hitting the cap truncates
// emission at that frame and advances; it is not an error.
const maxSymbolsPerStep = 10

// stepRunner evaluates the prediction and joint networks for one decode
// step: one encoder frame, the last emitted token, and the recurrent state.
type stepRunner interface {
	runStep(encoderFrame []float32, lastToken int32, h, c []float32) (*stepResult, error)
}

// stepResult is one joint decision plus the updated prediction-network
// state.
type stepResult struct {
	tokenID  int32
	duration int32 // frames to advance (TDT duration head)
	h, c     []float32
}

// emission records a decoded token and the encoder frame it was emitted at.
type emission struct {
	tokenID int32
	frame   int
}

// tdtDecode runs the TDT greedy decode over encoder output frames.
// encoderOutput is [T, hidden] flattened; encoderLength is the number of
// valid frames. The prediction-network state advances only when a non-blank
// token is emitted. Blank advances time by the predicted duration (at least
// one frame); a non-blank with duration zero stays on the frame, bounded by
// maxSymbolsPerStep.
func tdtDecode(
	encoderOutput []float32,
	hidden int,
	encoderLength int,
	blankID int32,
	stateSize int,
	runner stepRunner,
) ([]emission, error) {
	h := make([]float32, stateSize)
	c := make([]float32, stateSize)
	lastToken := blankID

	var out []emission
	t := 0

	for t < encoderLength {
		frame := encoderOutput[t*hidden : (t+1)*hidden]

		symCount := 0
		for symCount < maxSymbolsPerStep {
			res, err := runner.runStep(frame, lastToken, h, c)
			if err != nil {
				return nil, fmt.Errorf("decode step at frame %d: %w", t, err)
			}

			dur := res.duration
			if res.tokenID == blankID {
				if dur == 0 {
					dur = 1 // prevent stalling on the same frame
				}
				t += int(dur)
				break
			}

			out = append(out, emission{tokenID: res.tokenID, frame: t})
			lastToken = res.tokenID
			h, c = res.h, res.c

			if dur > 0 {
				t += int(dur)
				break
			}
			symCount++
		}

		if symCount >= maxSymbolsPerStep {
			t++
		}
	}

	return out, nil
}
