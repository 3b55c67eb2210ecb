package vectorstore

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		wantNorm float64
	}{
		{name: "unit output", in: []float32{3, 4}, wantNorm: 1},
		{name: "already unit", in: []float32{0, 1, 0}, wantNorm: 1},
		{name: "zero vector stays finite", in: []float32{0, 0}, wantNorm: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.in)
			var sum float64
			for _, x := range out {
				if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
					t.Fatalf("Normalize(%v) produced non-finite %v", tt.in, out)
				}
				sum += float64(x) * float64(x)
			}
			if math.Abs(math.Sqrt(sum)-tt.wantNorm) > 1e-6 {
				t.Errorf("||Normalize(%v)|| = %v, want %v", tt.in, math.Sqrt(sum), tt.wantNorm)
			}
		})
	}

	in := []float32{3, 4}
	_ = Normalize(in)
	if in[0] != 3 || in[1] != 4 {
		t.Error("Normalize() must not modify its input")
	}
}
