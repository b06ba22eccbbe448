package hybrid

import (
	"hash/fnv"
	"math"
)

const pseudoVectorDim = 8

// pseudoVector is the query vector buildQueryVector falls back to when no
// query embedder is configured or the embed call fails: each keyword is
// FNV-1a hashed into one of 8 buckets and the bucket counts are
// L2-normalized.
func pseudoVector(keywords []string) []float32 {
	buckets := make([]float64, pseudoVectorDim)
	for _, kw := range keywords {
		h := fnv.New32a()
		_, _ = h.Write([]byte(kw))
		bucket := int(h.Sum32() % pseudoVectorDim)
		buckets[bucket]++
	}

	var norm float64
	for _, v := range buckets {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, pseudoVectorDim)
	if norm == 0 {
		return out
	}
	for i, v := range buckets {
		out[i] = float32(v / norm)
	}
	return out
}
