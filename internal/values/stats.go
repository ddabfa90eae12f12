package values

import (
	"math"
	"slices"
	"sort"

	"datawrangler/internal/domain"
)

// Mean returns the arithmetic mean of xs, or NaN when empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation (n-1 denominator), or NaN
// for fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Quantile returns the q-th quantile with linear interpolation between
// closest ranks. xs need not be sorted.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	return quantileSorted(s, q)
}

func quantileSorted(s []float64, q float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// Median returns the 0.5 quantile.
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// Quartiles returns Q1 and Q3.
func Quartiles(xs []float64) (q1, q3 float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	return quantileSorted(s, 0.25), quantileSorted(s, 0.75)
}

// MinMax returns the smallest and largest of xs.
func MinMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}

// Mode returns the most frequent non-null value. Ties resolve to the
// smallest value under Compare, so the result never depends on row order.
func Mode(vals []any) (any, bool) {
	counts := make(map[string]int)
	first := make(map[string]any)
	for _, v := range vals {
		if v == nil {
			continue
		}
		k := domain.ValueKey(v)
		counts[k]++
		if _, ok := first[k]; !ok {
			first[k] = v
		}
	}
	if len(counts) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return Compare(first[keys[i]], first[keys[j]]) < 0
	})
	return first[keys[0]], true
}

// Distinct returns the distinct non-null values sorted under Compare.
func Distinct(vals []any) []any {
	seen := make(map[string]bool)
	var out []any
	for _, v := range vals {
		if v == nil {
			continue
		}
		k := domain.ValueKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}

// Floats collects the numeric values of vals at the given positions
// (every position when positions is nil), skipping nulls and non-numbers.
func Floats(vals []any, positions []int) []float64 {
	var out []float64
	add := func(v any) {
		if v == nil {
			return
		}
		if f, ok := ToFloat(v); ok && !math.IsNaN(f) {
			out = append(out, f)
		}
	}
	if positions == nil {
		for _, v := range vals {
			add(v)
		}
		return out
	}
	for _, p := range positions {
		add(vals[p])
	}
	return out
}
