package services

import "math"

// MeanPool averages a set of equal-length vectors into one vector.
// Returns nil for an empty input.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}

	pooled := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			pooled[i] += v
		}
	}

	n := float32(len(vectors))
	for i := range pooled {
		pooled[i] /= n
	}
	return pooled
}

// NormalizeL2 scales a vector to unit L2 norm in place and returns it.
// Unit-norm vectors make cosine-similarity search equivalent to
// dot-product search. Zero vectors are returned unchanged.
func NormalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// L2Norm returns the Euclidean norm of a vector.
func L2Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
