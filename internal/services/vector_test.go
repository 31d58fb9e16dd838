package services

import (
	"math"
	"testing"
)

func TestMeanPool(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
		want    []float32
	}{
		{
			name:    "empty input",
			vectors: nil,
			want:    nil,
		},
		{
			name:    "single vector passes through",
			vectors: [][]float32{{1, 2, 3}},
			want:    []float32{1, 2, 3},
		},
		{
			name:    "two vectors averaged",
			vectors: [][]float32{{1, 0, 3}, {3, 2, 1}},
			want:    []float32{2, 1, 2},
		},
		{
			name:    "three vectors averaged",
			vectors: [][]float32{{3, 0}, {0, 3}, {3, 3}},
			want:    []float32{2, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MeanPool(tt.vectors)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d dims, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("dim %d = %g, want %g", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalizeL2(t *testing.T) {
	vec := NormalizeL2([]float32{3, 4})
	if math.Abs(L2Norm(vec)-1.0) > 1e-6 {
		t.Errorf("norm = %g, want 1.0", L2Norm(vec))
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("vec = %v, want [0.6 0.8]", vec)
	}
}

func TestNormalizeL2ZeroVectorUnchanged(t *testing.T) {
	vec := NormalizeL2([]float32{0, 0, 0})
	for i, v := range vec {
		if v != 0 {
			t.Errorf("dim %d = %g, want 0", i, v)
		}
	}
}

func TestNormalizeL2Idempotent(t *testing.T) {
	once := NormalizeL2([]float32{1, 2, 2})
	copied := make([]float32, len(once))
	copy(copied, once)

	twice := NormalizeL2(copied)
	for i := range once {
		if math.Abs(float64(once[i]-twice[i])) > 1e-6 {
			t.Errorf("dim %d changed on renormalization: %g vs %g", i, once[i], twice[i])
		}
	}
}
