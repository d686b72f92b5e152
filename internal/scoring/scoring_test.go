package scoring

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCosineSimilarity_Identical(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0}
	got, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if !almostEqual(got, 1) {
		t.Errorf("CosineSimilarity(v, v) = %v, want 1", got)
	}
}

func TestCosineSimilarity_OrthogonalAndOpposite(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 2, 3}, []float32{-1, -2, -3}, -1},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity: %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_ZeroMagnitude(t *testing.T) {
	got, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if got != 0 {
		t.Errorf("got %v, want 0 for zero vector", got)
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestCosineSimilarity_Bounded(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		a := make([]float32, 16)
		b := make([]float32, 16)
		for j := range a {
			a[j] = float32(r.NormFloat64() * 100)
			b[j] = float32(r.NormFloat64() * 100)
		}
		got, err := CosineSimilarity(a, b)
		if err != nil {
			t.Fatalf("CosineSimilarity: %v", err)
		}
		if got < -1 || got > 1 {
			t.Fatalf("similarity %v out of [-1, 1]", got)
		}
	}
}

func TestAlign_NoReference(t *testing.T) {
	s, err := Align([]float32{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if s.Alignment != NeutralAlignment {
		t.Errorf("Alignment = %v, want %v", s.Alignment, NeutralAlignment)
	}
}

func TestAlign_Bounds(t *testing.T) {
	tests := []struct {
		name          string
		content, ref  []float32
		wantAlignment float64
	}{
		{"same direction", []float32{1, 0}, []float32{2, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Align(tt.content, tt.ref)
			if err != nil {
				t.Fatalf("Align: %v", err)
			}
			if !almostEqual(s.Alignment, tt.wantAlignment) {
				t.Errorf("Alignment = %v, want %v", s.Alignment, tt.wantAlignment)
			}
			if s.Alignment < 0 || s.Alignment > 1 || s.Drift < 0 || s.Drift > 1 {
				t.Errorf("score %+v out of bounds", s)
			}
			if !almostEqual(s.Alignment+s.Drift, 1) {
				t.Errorf("alignment + drift = %v, want 1", s.Alignment+s.Drift)
			}
		})
	}
}

func TestAlign_MismatchedReference(t *testing.T) {
	if _, err := Align([]float32{1, 2}, []float32{1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestScore_Rounded(t *testing.T) {
	s := Score{Drift: 0.23456, Alignment: 0.76544}.Rounded()
	if s.Drift != 0.23 || s.Alignment != 0.77 {
		t.Errorf("Rounded() = %+v, want {0.23 0.77}", s)
	}
}

func TestClampSentiment(t *testing.T) {
	for in, want := range map[float64]float64{-7: -1, -0.4: -0.4, 0: 0, 3.2: 1} {
		if got := ClampSentiment(in); got != want {
			t.Errorf("ClampSentiment(%v) = %v, want %v", in, got, want)
		}
	}
}
