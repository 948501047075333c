package chunker

import (
	"fmt"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text in model tokens.
type Counter interface {
	Count(text string) int
}

// NewCounter returns the counter named by the chunker.tokenizer setting.
func NewCounter(name string) (Counter, error) {
	switch name {
	case "", "estimate":
		return EstimateCounter{}, nil
	case "cl100k", "cl100k_base":
		return NewTiktokenCounter("cl100k_base")
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}

// EstimateCounter approximates BPE token counts without a vocabulary.
// Each Hangul, Han or kana rune is one token, a run of other letters and
// digits is one token per four runes, and any other visible rune is one.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n, run := 0, 0
	flush := func() {
		n += (run + 3) / 4
		run = 0
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			n++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			n++
		}
	}
	flush()
	return n
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Hangul, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// TiktokenCounter counts with a real BPE vocabulary. The vocabulary is
// downloaded on first use unless TIKTOKEN_CACHE_DIR already holds it.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
