package stats

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrNoSamples = errors.New("no samples to summarize")

// Summary describes one parameter's archived posterior draws after burn-in
// discard.
type Summary struct {
	Mean     float64
	SD       float64
	Median   float64
	Lower05  float64
	Upper95  float64
	Retained int
}

// Summarize computes per-parameter posterior summaries over the tail of the
// sample matrix, discarding the leading burnInFraction of rows. A fraction
// outside [0, 1) falls back to the conventional half.
func Summarize(samples *mat.Dense, burnInFraction float64) ([]Summary, error) {
	if samples == nil {
		return nil, ErrNoSamples
	}
	rows, cols := samples.Dims()
	if rows == 0 || cols == 0 {
		return nil, ErrNoSamples
	}
	if burnInFraction < 0 || burnInFraction >= 1 {
		burnInFraction = 0.5
	}
	start := int(float64(rows) * burnInFraction)
	if start >= rows {
		start = rows - 1
	}

	out := make([]Summary, cols)
	vals := make([]float64, 0, rows-start)
	for j := 0; j < cols; j++ {
		vals = vals[:0]
		for i := start; i < rows; i++ {
			vals = append(vals, samples.At(i, j))
		}
		mean, sd := stat.MeanStdDev(vals, nil)
		if len(vals) < 2 {
			sd = 0
		}

		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		out[j] = Summary{
			Mean:     mean,
			SD:       sd,
			Median:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
			Lower05:  stat.Quantile(0.05, stat.Empirical, sorted, nil),
			Upper95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
			Retained: len(vals),
		}
	}
	return out, nil
}

// Means extracts the posterior mean vector from a slice of summaries.
func Means(summaries []Summary) []float64 {
	out := make([]float64, len(summaries))
	for i, s := range summaries {
		out[i] = s.Mean
	}
	return out
}

// SDs extracts the posterior standard deviation vector.
func SDs(summaries []Summary) []float64 {
	out := make([]float64, len(summaries))
	for i, s := range summaries {
		out[i] = s.SD
	}
	return out
}

// FormatSummaries renders a small fixed-width table for CLI reporting.
func FormatSummaries(summaries []Summary) string {
	out := fmt.Sprintf("%-8s %12s %12s %12s %12s %12s\n", "param", "mean", "sd", "median", "q05", "q95")
	for i, s := range summaries {
		out += fmt.Sprintf("%-8d %12.5g %12.5g %12.5g %12.5g %12.5g\n", i, s.Mean, s.SD, s.Median, s.Lower05, s.Upper95)
	}
	return out
}
