package moonshine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// Tokenizer decodes Moonshine token ids using the HuggingFace
// tokenizer.json vocabulary: SentencePiece-style pieces with "▁" word
// markers plus "<0xNN>" byte-fallback tokens.
type Tokenizer struct {
	pieces  []string
	present []bool
	special map[int64]bool
	ids     map[string]int64
}

// loadTokenizer parses a tokenizer.json file.
func loadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer: %w", err)
	}

	var raw struct {
		AddedTokens []struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
			Special bool   `json:"special"`
		} `json:"added_tokens"`
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tokenizer JSON: %w", err)
	}
	if len(raw.Model.Vocab) == 0 {
		return nil, fmt.Errorf("parsing tokenizer JSON: empty model vocabulary")
	}

	var maxID int64
	for _, id := range raw.Model.Vocab {
		if id > maxID {
			maxID = id
		}
	}
	for _, tok := range raw.AddedTokens {
		if tok.ID > maxID {
			maxID = tok.ID
		}
	}

	t := &Tokenizer{
		pieces:  make([]string, maxID+1),
		present: make([]bool, maxID+1),
		special: make(map[int64]bool),
		ids:     make(map[string]int64, len(raw.Model.Vocab)),
	}
	for piece, id := range raw.Model.Vocab {
		t.pieces[id] = piece
		t.present[id] = true
		t.ids[piece] = id
	}
	for _, tok := range raw.AddedTokens {
		t.pieces[tok.ID] = tok.Content
		t.present[tok.ID] = true
		t.ids[tok.Content] = tok.ID
		if tok.Special {
			t.special[tok.ID] = true
		}
	}
	return t, nil
}

// TokenID looks up the id of a piece, e.g. the start or end control token.
func (t *Tokenizer) TokenID(piece string) (int64, bool) {
	id, ok := t.ids[piece]
	return id, ok
}

// Decode converts token ids to text, skipping control tokens and expanding
// byte-fallback pieces. An id outside the vocabulary fails with
// UnknownTokenError.
func (t *Tokenizer) Decode(ids []int64) (string, error) {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= int64(len(t.pieces)) || !t.present[id] {
			return "", &transcribe.UnknownTokenError{ID: int(id)}
		}
		if t.special[id] {
			continue
		}
		piece := t.pieces[id]
		if b, ok := byteToken(piece); ok {
			out = append(out, b)
			continue
		}
		out = append(out, strings.ReplaceAll(piece, "▁", " ")...)
	}
	return strings.TrimSpace(string(out)), nil
}

// byteToken recognizes "<0xNN>" byte-fallback pieces.
func byteToken(piece string) (byte, bool) {
	if len(piece) != 6 || !strings.HasPrefix(piece, "<0x") || piece[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(piece[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}
