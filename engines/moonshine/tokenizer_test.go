package moonshine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	transcribe "github.com/oberonlabs/transcribe-go"
)

const testTokenizerJSON = `{
	"added_tokens": [
		{"id": 0, "content": "<unk>", "special": true},
		{"id": 1, "content": "<s>", "special": true},
		{"id": 2, "content": "</s>", "special": true}
	],
	"model": {
		"vocab": {
			"<unk>": 0,
			"<s>": 1,
			"</s>": 2,
			"▁hello": 3,
			"▁world": 4,
			"!": 5,
			"<0xC3>": 6,
			"<0xA9>": 7
		}
	}
}`

func writeTestTokenizer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	return path
}

func TestLoadTokenizer(t *testing.T) {
	tok, err := loadTokenizer(writeTestTokenizer(t))
	if err != nil {
		t.Fatalf("loadTokenizer: %v", err)
	}
	if id, ok := tok.TokenID("<s>"); !ok || id != 1 {
		t.Errorf("TokenID(<s>) = %d, %v; want 1, true", id, ok)
	}
	if id, ok := tok.TokenID("</s>"); !ok || id != 2 {
		t.Errorf("TokenID(</s>) = %d, %v; want 2, true", id, ok)
	}
	if _, ok := tok.TokenID("▁missing"); ok {
		t.Error("TokenID found a piece that is not in the vocabulary")
	}
}

func TestDecode(t *testing.T) {
	tok, err := loadTokenizer(writeTestTokenizer(t))
	if err != nil {
		t.Fatalf("loadTokenizer: %v", err)
	}

	tests := []struct {
		name string
		ids  []int64
		want string
	}{
		{"words", []int64{3, 4, 5}, "hello world!"},
		{"skips special tokens", []int64{1, 3, 2}, "hello"},
		{"byte fallback pair", []int64{6, 7}, "é"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tok.Decode(tt.ids)
			if err != nil {
				t.Fatalf("Decode(%v): %v", tt.ids, err)
			}
			if got != tt.want {
				t.Errorf("Decode(%v) = %q, want %q", tt.ids, got, tt.want)
			}
		})
	}
}

func TestDecodeUnknownID(t *testing.T) {
	tok, err := loadTokenizer(writeTestTokenizer(t))
	if err != nil {
		t.Fatalf("loadTokenizer: %v", err)
	}

	for _, id := range []int64{-1, 99} {
		_, err := tok.Decode([]int64{id})
		var unknown *transcribe.UnknownTokenError
		if !errors.As(err, &unknown) {
			t.Errorf("Decode(%d) err = %v, want *UnknownTokenError", id, err)
		}
	}
}

func TestLoadTokenizerMissingFile(t *testing.T) {
	if _, err := loadTokenizer(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing tokenizer file")
	}
}

func TestLoadTokenizerEmptyVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(`{"model":{"vocab":{}}}`), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	if _, err := loadTokenizer(path); err == nil {
		t.Error("expected error for empty vocabulary")
	}
}

func TestByteToken(t *testing.T) {
	tests := []struct {
		piece string
		want  byte
		ok    bool
	}{
		{"<0x0A>", 0x0a, true},
		{"<0xFF>", 0xff, true},
		{"▁hello", 0, false},
		{"<0xZZ>", 0, false},
		{"<0x1>", 0, false},
	}
	for _, tt := range tests {
		got, ok := byteToken(tt.piece)
		if got != tt.want || ok != tt.ok {
			t.Errorf("byteToken(%q) = %d, %v; want %d, %v", tt.piece, got, ok, tt.want, tt.ok)
		}
	}
}
