package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences cuts text after '.', '!' or '?' followed by whitespace, or
// after '。', '！' or '？' followed by optional whitespace, but only when the
// next rune opens a sentence (an uppercase Latin letter or a Hangul
// syllable). Abbreviations such as "e.g. foo" therefore stay intact.
// Trimmed pieces of minChars runes or fewer are dropped.
func SplitSentences(text string, minChars int) []string {
	runes := []rune(text)
	var out []string
	start := 0
	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" && utf8.RuneCountInString(s) > minChars {
			out = append(out, s)
		}
	}

	for i := 0; i < len(runes); i++ {
		var needSpace bool
		switch runes[i] {
		case '.', '!', '?':
			needSpace = true
		case '。', '！', '？':
		default:
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if needSpace && j == i+1 {
			continue
		}
		if j < len(runes) && opensSentence(runes[j]) {
			emit(i + 1)
			start = j
			i = j - 1
		}
	}
	emit(len(runes))
	return out
}

func opensSentence(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '가' && r <= '힣')
}
