package retrieval

import (
	"slices"

	"github.com/devstudio-tyler/company-on/internal/store"
)

// Result is one fused hit. KeywordScore and VectorScore are the raw
// sub-search scores (0 when the chunk was absent from that list);
// CombinedScore is computed from the normalized ones.
type Result struct {
	ChunkID       int64   `json:"chunk_id"`
	DocumentID    int64   `json:"document_id"`
	Text          string  `json:"text"`
	KeywordScore  float64 `json:"keyword_score"`
	VectorScore   float64 `json:"vector_score"`
	CombinedScore float64 `json:"combined_score"`
}

type candidate struct {
	Result
	kwNorm  float64
	vecNorm float64
}

// Fuse unions both hit lists by chunk id, min-max normalizes each list on
// its own, scores alpha×vector + beta×keyword and returns the top limit,
// ties going to the lower chunk id.
func Fuse(keyword, vector []store.Hit, limit int, alpha, beta float64) []Result {
	byID := make(map[int64]*candidate, len(keyword)+len(vector))
	get := func(h store.Hit) *candidate {
		c, ok := byID[h.ChunkID]
		if !ok {
			c = &candidate{Result: Result{ChunkID: h.ChunkID, DocumentID: h.DocumentID, Text: h.Content}}
			byID[h.ChunkID] = c
		}
		return c
	}

	kwNorm := normalize(keyword)
	for i, h := range keyword {
		c := get(h)
		c.KeywordScore = h.Score
		c.kwNorm = kwNorm[i]
	}
	vecNorm := normalize(vector)
	for i, h := range vector {
		c := get(h)
		c.VectorScore = h.Score
		c.vecNorm = vecNorm[i]
	}

	out := make([]Result, 0, len(byID))
	for _, c := range byID {
		c.CombinedScore = alpha*c.vecNorm + beta*c.kwNorm
		out = append(out, c.Result)
	}
	slices.SortFunc(out, func(a, b Result) int {
		switch {
		case a.CombinedScore > b.CombinedScore:
			return -1
		case a.CombinedScore < b.CombinedScore:
			return 1
		case a.ChunkID < b.ChunkID:
			return -1
		case a.ChunkID > b.ChunkID:
			return 1
		}
		return 0
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// normalize min-max scales scores into [0, 1]. With a zero range the raw
// scores are kept.
func normalize(hits []store.Hit) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	for i, h := range hits {
		if hi > lo {
			out[i] = (h.Score - lo) / (hi - lo)
		} else {
			out[i] = h.Score
		}
	}
	return out
}
