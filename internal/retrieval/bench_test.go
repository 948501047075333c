package retrieval

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/devstudio-tyler/company-on/internal/store"
)

func benchHits(n int, seed uint64) []store.Hit {
	r := rand.New(rand.NewPCG(seed, seed))
	hits := make([]store.Hit, n)
	for i := range hits {
		hits[i] = store.Hit{ChunkID: int64(r.IntN(n * 2)), DocumentID: int64(i % 17), Score: r.Float64()}
	}
	return hits
}

func BenchmarkFuse(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		kw, vec := benchHits(n, 1), benchHits(n, 2)
		b.Run(fmt.Sprintf("hits=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				_ = Fuse(kw, vec, 10, 0.7, 0.3)
			}
		})
	}
}

func BenchmarkNormalizeQuery(b *testing.B) {
	queries := []string{
		"연차 휴가는 어떻게 신청하나요?",
		"재택근무 규정이 뭐야",
		"What is the expense report deadline?",
		"보안 교육 일정과 대상자를 알려주세요",
	}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = NormalizeQuery(queries[i%len(queries)])
			i++
		}
	})
}
