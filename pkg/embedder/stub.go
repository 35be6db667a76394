package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// StubEmbedder produces deterministic unit vectors derived from the
// input text. Identical texts always embed identically, which is all
// tests need.
type StubEmbedder struct {
	dimension int
}

// NewStubEmbedder creates a stub with the given output dimension.
func NewStubEmbedder(dimension int) *StubEmbedder {
	if dimension < 1 {
		dimension = 1536
	}
	return &StubEmbedder{dimension: dimension}
}

func (e *StubEmbedder) Name() string   { return "stub" }
func (e *StubEmbedder) Model() string  { return "stub-deterministic" }
func (e *StubEmbedder) Dimension() int { return e.dimension }

// Embed hashes each text into a normalized vector.
func (e *StubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vectorFor(text)
	}
	return vectors, nil
}

func (e *StubEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, e.dimension)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range vec {
		// Re-hash the seed with the index to fill arbitrary dimensions.
		var buf [36]byte
		copy(buf[:32], seed[:])
		binary.LittleEndian.PutUint32(buf[32:], uint32(i))
		h := sha256.Sum256(buf[:])
		v := float32(int32(binary.LittleEndian.Uint32(h[:4]))) / math.MaxInt32
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
