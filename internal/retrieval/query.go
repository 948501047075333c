package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxKeywords = 5

// stopwords are Korean particles, fillers and generic question words that
// never narrow a keyword match.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"이", "가", "을", "를", "에", "의", "은", "는", "과", "와", "이다", "입니다",
		"무엇", "무엇인지", "어떻게", "왜", "설명", "설명해주세요", "해주세요", "알려주세요",
		"알려", "해", "주세요", "대해", "대한", "관련", "있는", "없는", "그", "저", "이것",
		"그것", "것", "뭐", "뭔지",
	} {
		stopwords[w] = struct{}{}
	}
}

// Query is a search request split into the two forms the sub-searches use.
type Query struct {
	// Raw is the trimmed query as typed; it is what gets embedded.
	Raw string
	// Keywords feed the keyword search. Keywords[0] is the primary one.
	Keywords []string
}

// NormalizeQuery extracts up to five keywords from runs of Hangul syllables
// and ASCII letters or digits, dropping stopwords and one-rune tokens. When
// nothing survives, the whole trimmed query is the only keyword.
func NormalizeQuery(raw string) Query {
	q := Query{Raw: strings.TrimSpace(raw)}
	for _, tok := range strings.FieldsFunc(q.Raw, func(r rune) bool { return !isWordRune(r) }) {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		q.Keywords = append(q.Keywords, tok)
		if len(q.Keywords) == maxKeywords {
			break
		}
	}
	if len(q.Keywords) == 0 && q.Raw != "" {
		q.Keywords = []string{q.Raw}
	}
	return q
}

// isWordRune matches the class [가-힣a-zA-Z0-9].
func isWordRune(r rune) bool {
	switch {
	case r >= '가' && r <= '힣':
		return true
	case r < unicode.MaxASCII:
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
	}
	return false
}
