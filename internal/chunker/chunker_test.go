package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstudio-tyler/company-on/internal/document"
)

// wordCounter makes token arithmetic in tests easy to follow.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		minChars int
		want     []string
	}{
		{"mixed punctuation", "A. B! C?", 0, []string{"A.", "B!", "C?"}},
		{"lowercase continuation", "e.g. this stays. Next one", 0, []string{"e.g. this stays.", "Next one"}},
		{"cjk punctuation without space", "첫 문장입니다。두 번째 문장입니다.", 0, []string{"첫 문장입니다。", "두 번째 문장입니다."}},
		{"hangul after period", "회의는 끝났다. 다음 안건으로 넘어간다.", 0, []string{"회의는 끝났다.", "다음 안건으로 넘어간다."}},
		{"floor drops short pieces", "Short. This sentence is long enough.", 10, []string{"This sentence is long enough."}},
		{"no space after period", "version 1.2 is out", 0, []string{"version 1.2 is out"}},
		{"whitespace only", " \n\t ", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.text, tt.minChars))
		})
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := NewSentenceChunker()
	for _, text := range []string{"", "   \n\n  "} {
		drafts, err := c.Chunk(Source{DocumentID: 1, Text: text})
		require.NoError(t, err)
		assert.Empty(t, drafts)
	}
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence %d here.", i+1)
	}
	return out
}

func TestChunkOverlapCarriesTail(t *testing.T) {
	sentences := numbered(4)
	c := NewSentenceChunker(
		WithCounter(wordCounter{}),
		WithTargetTokens(5),
		WithMaxTokens(8),
		WithOverlapTokens(3),
		WithMinSentenceChars(0),
	)
	drafts, err := c.Chunk(Source{Text: strings.Join(sentences, " ")})
	require.NoError(t, err)
	require.Len(t, drafts, 4)

	assert.Equal(t, sentences[0], drafts[0].Content)
	for i := 1; i < len(drafts); i++ {
		assert.Equal(t, i, drafts[i].Index)
		assert.Equal(t, sentences[i-1]+" "+sentences[i], drafts[i].Content)
		assert.Equal(t, 6, drafts[i].TokenCount)
		assert.Equal(t, sentences[i-1], drafts[i].Metadata.FirstSentence)
		assert.Equal(t, sentences[i], drafts[i].Metadata.LastSentence)
	}
}

func TestChunkMergesSmallTail(t *testing.T) {
	c := NewSentenceChunker(
		WithCounter(wordCounter{}),
		WithTargetTokens(10),
		WithMaxTokens(20),
		WithOverlapTokens(0),
		WithMinSentenceChars(0),
	)
	text := "One two three four five six seven eight. Nine ten eleven."
	drafts, err := c.Chunk(Source{Text: text})
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	d := drafts[0]
	assert.Equal(t, text, d.Content)
	assert.Equal(t, 11, d.TokenCount)
	assert.Equal(t, 2, d.SentenceCount)
	assert.Equal(t, "Nine ten eleven.", d.Metadata.LastSentence)
	assert.Equal(t, 11, d.Metadata.ChunkSize)
	assert.InDelta(t, 5.5, d.Metadata.AvgSentenceLength, 1e-9)
}

func TestChunkSplitsOversizedSentence(t *testing.T) {
	c := NewSentenceChunker(
		WithCounter(wordCounter{}),
		WithTargetTokens(4),
		WithMaxTokens(4),
		WithOverlapTokens(0),
		WithMinSentenceChars(0),
	)
	words := strings.Fields("Alpha b c d e f g h i j.")
	drafts, err := c.Chunk(Source{Text: strings.Join(words, " ")})
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	var rebuilt []string
	for i, d := range drafts {
		assert.Equal(t, i, d.Index)
		assert.LessOrEqual(t, d.TokenCount, 4)
		rebuilt = append(rebuilt, strings.Fields(d.Content)...)
	}
	assert.Equal(t, words, rebuilt)
}

func TestChunkRespectsCeilingAndCoversEverySentence(t *testing.T) {
	var sentences []string
	for i := 0; i < 300; i++ {
		sentences = append(sentences, fmt.Sprintf("문서 번호 %d 에 대한 설명입니다 그리고 조금 더 긴 내용을 여기에 덧붙입니다.", i))
	}
	c := NewSentenceChunker()
	drafts, err := c.Chunk(Source{DocumentID: 7, Text: strings.Join(sentences, " ")})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)

	all := strings.Join(func() []string {
		out := make([]string, len(drafts))
		for i, d := range drafts {
			out[i] = d.Content
		}
		return out
	}(), "\n")
	for i, d := range drafts {
		assert.Equal(t, i, d.Index)
		assert.LessOrEqual(t, d.TokenCount, 1024)
		assert.Equal(t, document.ChunkText, d.Type)
	}
	for _, s := range sentences {
		assert.Contains(t, all, s)
	}
}

func TestPassthroughRowChunkerPassesSegmentsThrough(t *testing.T) {
	segs := []document.Segment{
		{Content: "=== CSV 데이터 ===\n컬럼: a\n\n행 2: a=1", Metadata: document.ChunkMetadata{SheetName: "CSV", RowRange: "2-2"}},
		{Content: "=== CSV 데이터 ===\n컬럼: a\n\n행 3: a=2", Metadata: document.ChunkMetadata{SheetName: "CSV", RowRange: "3-3", SegmentIndex: 1}},
	}
	drafts, err := NewPassthroughRowChunker(nil).Chunk(Source{Text: "ignored", Segments: segs})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	for i, d := range drafts {
		assert.Equal(t, i, d.Index)
		assert.Equal(t, document.ChunkExcelSheet, d.Type)
		assert.Equal(t, segs[i].Content, d.Content)
		assert.Equal(t, segs[i].Metadata.RowRange, d.Metadata.RowRange)
		assert.Positive(t, d.TokenCount)
	}
}

func TestSetForMediaType(t *testing.T) {
	text, rows := NewSentenceChunker(), NewPassthroughRowChunker(nil)
	set := Set{Text: text, Rows: rows}
	assert.Same(t, rows, set.ForMediaType(document.MediaCSV))
	assert.Same(t, rows, set.ForMediaType(document.MediaXLSX))
	assert.Same(t, text, set.ForMediaType(document.MediaPDF))
	assert.Same(t, text, set.ForMediaType(document.MediaPNG))
}

func TestEstimateCounter(t *testing.T) {
	c := EstimateCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 5, c.Count("안녕하세요"))
	assert.Equal(t, 2, c.Count("hello"))
	assert.Equal(t, 5, c.Count("hi, there!"))
	assert.Equal(t, 3, c.Count("12345678 x"))
}

func TestNewCounterRejectsUnknown(t *testing.T) {
	_, err := NewCounter("sentencepiece")
	assert.Error(t, err)
	c, err := NewCounter("")
	require.NoError(t, err)
	assert.IsType(t, EstimateCounter{}, c)
}

func TestStatistics(t *testing.T) {
	assert.Equal(t, Stats{}, Statistics(nil))

	s := Statistics([]Draft{
		{TokenCount: 10, SentenceCount: 2},
		{TokenCount: 30, SentenceCount: 4},
	})
	assert.Equal(t, 2, s.TotalChunks)
	assert.Equal(t, 40, s.TotalTokens)
	assert.Equal(t, 10, s.MinTokens)
	assert.Equal(t, 30, s.MaxTokens)
	assert.InDelta(t, 20.0, s.AvgTokensPerChunk, 1e-9)
	assert.InDelta(t, 3.0, s.AvgSentencesPerChunk, 1e-9)
	assert.Equal(t, 6, s.TotalSentences)
}
