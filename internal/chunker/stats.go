package chunker

import "log/slog"

type Stats struct {
	TotalChunks          int     `json:"total_chunks"`
	TotalTokens          int     `json:"total_tokens"`
	AvgTokensPerChunk    float64 `json:"avg_tokens_per_chunk"`
	MinTokens            int     `json:"min_tokens"`
	MaxTokens            int     `json:"max_tokens"`
	AvgSentencesPerChunk float64 `json:"avg_sentences_per_chunk"`
	TotalSentences       int     `json:"total_sentences"`
}

// Statistics summarises drafts. An empty slice gives the zero Stats.
func Statistics(drafts []Draft) Stats {
	if len(drafts) == 0 {
		return Stats{}
	}
	s := Stats{
		TotalChunks: len(drafts),
		MinTokens:   drafts[0].TokenCount,
		MaxTokens:   drafts[0].TokenCount,
	}
	for _, d := range drafts {
		s.TotalTokens += d.TokenCount
		s.TotalSentences += d.SentenceCount
		s.MinTokens = min(s.MinTokens, d.TokenCount)
		s.MaxTokens = max(s.MaxTokens, d.TokenCount)
	}
	s.AvgTokensPerChunk = float64(s.TotalTokens) / float64(s.TotalChunks)
	s.AvgSentencesPerChunk = float64(s.TotalSentences) / float64(s.TotalChunks)
	return s
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total_chunks", s.TotalChunks),
		slog.Int("total_tokens", s.TotalTokens),
		slog.Float64("avg_tokens", s.AvgTokensPerChunk),
		slog.Int("min_tokens", s.MinTokens),
		slog.Int("max_tokens", s.MaxTokens),
		slog.Int("total_sentences", s.TotalSentences),
	)
}
