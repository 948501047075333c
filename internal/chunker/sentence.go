package chunker

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/pkg/config"
)

const previewRunes = 100

// SentenceChunker groups sentences greedily up to a target size, never
// exceeding a hard ceiling, and carries a short overlap between
// neighbouring chunks.
type SentenceChunker struct {
	target   int
	ceiling  int
	overlap  int
	minChars int
	counter  Counter
	logger   *slog.Logger
}

type Option func(*SentenceChunker)

func WithTargetTokens(n int) Option      { return func(c *SentenceChunker) { c.target = n } }
func WithMaxTokens(n int) Option         { return func(c *SentenceChunker) { c.ceiling = n } }
func WithOverlapTokens(n int) Option     { return func(c *SentenceChunker) { c.overlap = n } }
func WithMinSentenceChars(n int) Option  { return func(c *SentenceChunker) { c.minChars = n } }
func WithCounter(counter Counter) Option { return func(c *SentenceChunker) { c.counter = counter } }

func NewSentenceChunker(opts ...Option) *SentenceChunker {
	c := &SentenceChunker{
		target:   512,
		ceiling:  1024,
		overlap:  50,
		minChars: 10,
		counter:  EstimateCounter{},
		logger:   slog.Default().With("component", "chunker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ceiling < 1 {
		c.ceiling = 1
	}
	if c.target < 1 || c.target > c.ceiling {
		c.target = c.ceiling
	}
	if c.overlap < 0 {
		c.overlap = 0
	}
	return c
}

// FromConfig builds a chunker from the chunker settings.
func FromConfig(cfg config.ChunkerConfig, counter Counter) *SentenceChunker {
	return NewSentenceChunker(
		WithTargetTokens(cfg.TargetTokens),
		WithMaxTokens(cfg.MaxTokens),
		WithOverlapTokens(cfg.OverlapTokens),
		WithMinSentenceChars(cfg.MinSentenceChars),
		WithCounter(counter),
	)
}

type sentence struct {
	text   string
	tokens int
}

// group is one chunk in the making. The first overlap sentences were
// copied from the previous group.
type group struct {
	sentences []sentence
	overlap   int
	tokens    int
}

// Chunk implements Strategy. Whitespace-only text yields no drafts.
func (c *SentenceChunker) Chunk(src Source) ([]Draft, error) {
	raw := SplitSentences(src.Text, c.minChars)
	if len(raw) == 0 {
		return nil, nil
	}

	var units []sentence
	for _, s := range raw {
		units = append(units, c.measure(s)...)
	}
	groups := c.merge(c.accumulate(units))

	drafts := make([]Draft, len(groups))
	for i, g := range groups {
		drafts[i] = buildDraft(i, g)
	}
	c.logger.Debug("chunked document",
		"document_id", src.DocumentID,
		"sentences", len(raw),
		"chunks", len(drafts),
	)
	return drafts, nil
}

func (c *SentenceChunker) accumulate(units []sentence) []group {
	var (
		groups []group
		cur    group
	)
	closeCur := func() {
		groups = append(groups, cur)
		cur = c.seed(cur)
	}

	for _, s := range units {
		fresh := len(cur.sentences) - cur.overlap
		if fresh > 0 && cur.tokens+s.tokens > c.target {
			closeCur()
			fresh = 0
		}
		// A chunk holding only overlap gives up leading sentences until
		// the new one fits under the ceiling.
		for fresh == 0 && cur.overlap > 0 && cur.tokens+s.tokens > c.ceiling {
			cur.tokens -= cur.sentences[0].tokens
			cur.sentences = cur.sentences[1:]
			cur.overlap--
		}
		cur.sentences = append(cur.sentences, s)
		cur.tokens += s.tokens
		if cur.tokens >= c.ceiling {
			closeCur()
		}
	}
	if len(cur.sentences) > cur.overlap {
		groups = append(groups, cur)
	}
	return groups
}

// seed starts the next group with the longest tail of prev that fits in
// the overlap budget.
func (c *SentenceChunker) seed(prev group) group {
	var next group
	if c.overlap == 0 {
		return next
	}
	start := len(prev.sentences)
	for start > 0 {
		t := prev.sentences[start-1].tokens
		if next.tokens+t > c.overlap {
			break
		}
		next.tokens += t
		start--
	}
	next.sentences = append([]sentence(nil), prev.sentences[start:]...)
	next.overlap = len(next.sentences)
	return next
}

// merge folds groups smaller than half the target into their predecessor
// when the result stays under the ceiling. Overlap sentences of the folded
// group are already present in the predecessor and are not repeated.
func (c *SentenceChunker) merge(groups []group) []group {
	out := make([]group, 0, len(groups))
	for _, g := range groups {
		if len(out) > 0 && g.tokens < c.target/2 {
			prev := &out[len(out)-1]
			added := g.sentences[g.overlap:]
			addTokens := 0
			for _, s := range added {
				addTokens += s.tokens
			}
			if prev.tokens+addTokens <= c.ceiling {
				prev.sentences = append(prev.sentences, added...)
				prev.tokens += addTokens
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

// measure counts s and, when it alone exceeds the ceiling, splits it on
// word boundaries, falling back to runes for a single oversized word.
func (c *SentenceChunker) measure(s string) []sentence {
	n := c.counter.Count(s)
	if n <= c.ceiling {
		return []sentence{{text: s, tokens: n}}
	}

	var (
		out []sentence
		cur string
	)
	flush := func() {
		if cur != "" {
			out = append(out, sentence{text: cur, tokens: c.counter.Count(cur)})
			cur = ""
		}
	}
	for _, word := range strings.Fields(s) {
		candidate := word
		if cur != "" {
			candidate = cur + " " + word
		}
		if c.counter.Count(candidate) <= c.ceiling {
			cur = candidate
			continue
		}
		flush()
		if c.counter.Count(word) <= c.ceiling {
			cur = word
			continue
		}
		for _, piece := range c.splitRunes(word) {
			out = append(out, sentence{text: piece, tokens: c.counter.Count(piece)})
		}
	}
	flush()
	return out
}

func (c *SentenceChunker) splitRunes(word string) []string {
	var pieces []string
	runes := []rune(word)
	for len(runes) > 0 {
		end := 1
		for end < len(runes) && c.counter.Count(string(runes[:end+1])) <= c.ceiling {
			end++
		}
		pieces = append(pieces, string(runes[:end]))
		runes = runes[end:]
	}
	return pieces
}

func buildDraft(index int, g group) Draft {
	texts := make([]string, len(g.sentences))
	for i, s := range g.sentences {
		texts[i] = s.text
	}
	content := strings.Join(texts, " ")
	return Draft{
		Index:         index,
		Type:          document.ChunkText,
		Content:       content,
		TokenCount:    g.tokens,
		SentenceCount: len(g.sentences),
		Metadata: document.ChunkMetadata{
			ChunkSize:         g.tokens,
			SentenceCount:     len(g.sentences),
			AvgSentenceLength: float64(g.tokens) / float64(len(g.sentences)),
			FirstSentence:     preview(texts[0]),
			LastSentence:      preview(texts[len(texts)-1]),
			CharCount:         utf8.RuneCountInString(content),
		},
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes])
}
