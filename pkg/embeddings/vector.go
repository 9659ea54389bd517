package embeddings

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Vector is a fixed-dimension embedding.
type Vector []float32

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Zero-length or all-zero vectors have similarity 0.
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors a hair past 1.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Match is a candidate scored against a query vector.
type Match[T any] struct {
	Item       T
	Similarity float64
}

// FindSimilar scores every candidate against query and returns the top k
// with similarity >= threshold, best first. Ties keep input order.
// Candidates whose embedding has a different dimension are skipped.
// A non-positive k returns every match.
func FindSimilar[T any](query Vector, candidates []T, embedding func(T) Vector, k int, threshold float64) []Match[T] {
	matches := make([]Match[T], 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		sim, err := CosineSimilarity(query, embedding(c))
		if err != nil {
			skipped++
			continue
		}
		if sim >= threshold {
			matches = append(matches, Match[T]{Item: c, Similarity: sim})
		}
	}
	if skipped > 0 {
		slog.Debug("similarity search skipped candidates", "skipped", skipped, "query_dims", len(query))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Encode packs v as little-endian float32 values with no header.
func Encode(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// Decode unpacks a buffer produced by Encode. An empty buffer decodes to an
// empty vector.
func Decode(data []byte) (Vector, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("decode embedding: length %d is not a multiple of 4", len(data))
	}
	v := make(Vector, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

// ContentHash computes an MD5 hash of content for staleness detection.
func ContentHash(content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(content)))
}
