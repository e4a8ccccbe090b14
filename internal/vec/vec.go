// Package vec holds the embedding vector codec and similarity math shared by
// the store and search layers. Embeddings are persisted as fixed-width
// little-endian float32 arrays (4 bytes per dimension); a legacy JSON array
// format is still recognized for migration.
package vec

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Returns a value between -1 and 1 where 1 means identical direction.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}

// ToBytes converts a float32 slice to a byte slice (little-endian).
func ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// FromBytes converts a little-endian byte slice back to a float32 slice.
// Returns nil for malformed input.
func FromBytes(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// IsLegacyJSON reports whether a stored embedding blob uses the old
// JSON-array format rather than the binary codec.
func IsLegacyJSON(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// FromLegacyJSON decodes a legacy JSON float array embedding.
func FromLegacyJSON(b []byte) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
