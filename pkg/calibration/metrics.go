package calibration

import (
	"math"
	"sort"
)

// Pearson returns the linear correlation of x and y. ok is false when the
// slices differ in length, hold fewer than two points, or either has zero
// variance.
func Pearson(x, y []float64) (r float64, ok bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	mx, my := mean(x), mean(y)
	var num, dx, dy float64
	for i := range x {
		a, b := x[i]-mx, y[i]-my
		num += a * b
		dx += a * a
		dy += b * b
	}
	den := math.Sqrt(dx) * math.Sqrt(dy)
	if den == 0 {
		return 0, false
	}
	return clampUnit(num / den), true
}

// Spearman returns the rank correlation of x and y, assigning tied values
// the average of the ranks they span.
func Spearman(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	return Pearson(ranks(x), ranks(y))
}

// MAE is the mean absolute difference between x and y, or 0 for empty input.
func MAE(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	sum := 0.0
	for i := range x {
		sum += math.Abs(x[i] - y[i])
	}
	return sum / float64(len(x))
}

// Percentile returns the q-th quantile (q in [0, 1]) of sorted values using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	q = math.Max(0, math.Min(1, q))
	pos := float64(len(sorted)-1) * q
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	out := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// floating error can push a perfect correlation past 1
func clampUnit(r float64) float64 {
	return math.Max(-1, math.Min(1, r))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
