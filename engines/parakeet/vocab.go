package parakeet

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// loadVocabulary reads vocab.txt and returns a token id -> piece mapping.
// Lines are either "piece index" pairs or bare pieces (index = line number).
// Pieces use SentencePiece conventions ("▁" marks a word boundary).
func loadVocabulary(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	defer f.Close()

	type entry struct {
		id    int
		piece string
	}
	var entries []entry
	maxID := -1

	scanner := bufio.NewScanner(f)
	line := -1
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if text == "" {
			continue
		}

		id := line
		piece := text
		if idx := strings.LastIndexByte(text, ' '); idx > 0 {
			if parsed, err := strconv.Atoi(text[idx+1:]); err == nil {
				id = parsed
				piece = text[:idx]
			}
		}
		if id < 0 {
			return nil, fmt.Errorf("parsing vocabulary: negative token id %d at line %d", id, line+1)
		}
		entries = append(entries, entry{id: id, piece: piece})
		if id > maxID {
			maxID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("parsing vocabulary: %s is empty", path)
	}

	vocab := make([]string, maxID+1)
	for _, e := range entries {
		vocab[e.id] = e.piece
	}
	return vocab, nil
}

// decodeTokens converts token ids to text using the vocabulary. Ids outside
// the vocabulary range fail with UnknownTokenError rather than being
// dropped.
func decodeTokens(tokens []int32, vocab []string) (string, error) {
	var b strings.Builder
	for _, id := range tokens {
		if int(id) < 0 || int(id) >= len(vocab) {
			return "", &transcribe.UnknownTokenError{ID: int(id)}
		}
		b.WriteString(vocab[id])
	}
	text := strings.ReplaceAll(b.String(), "▁", " ")
	return strings.TrimSpace(text), nil
}
