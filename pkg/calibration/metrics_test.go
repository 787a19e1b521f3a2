package calibration

import (
	"math"
	"testing"
)

func TestRanksAverageTies(t *testing.T) {
	got := ranks([]float64{3, 1, 2, 2})
	want := []float64{4, 1, 2.5, 2.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranks = %v, want %v", got, want)
		}
	}
}

func TestSpearman(t *testing.T) {
	tests := []struct {
		name   string
		x, y   []float64
		want   float64
		wantOK bool
	}{
		{"monotone non-linear", []float64{1, 2, 3, 4}, []float64{1, 4, 9, 16}, 1, true},
		{"reversed", []float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}, -1, true},
		{"constant", []float64{1, 2, 3}, []float64{5, 5, 5}, 0, false},
		{"single point", []float64{1}, []float64{1}, 0, false},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Spearman(tt.x, tt.y)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Spearman = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPearson(t *testing.T) {
	got, ok := Pearson([]float64{1, 2, 3}, []float64{2, 4, 7})
	if !ok {
		t.Fatal("expected a defined correlation")
	}
	if math.Abs(got-0.9934) > 1e-4 {
		t.Errorf("Pearson = %v, want ~0.9934", got)
	}
}

func TestMAE(t *testing.T) {
	if got := MAE([]float64{1, 2, 3}, []float64{2, 2, 5}); got != 1 {
		t.Errorf("MAE = %v, want 1", got)
	}
	if got := MAE(nil, nil); got != 0 {
		t.Errorf("MAE(empty) = %v, want 0", got)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 3},
		{0.9, 4.6},
		{1, 5},
		{2, 5},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.q); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(empty) = %v", got)
	}
	if got := Percentile([]float64{7}, 0.9); got != 7 {
		t.Errorf("Percentile(single) = %v", got)
	}
}
