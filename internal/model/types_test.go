package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewDatasetValid(t *testing.T) {
	obs := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	ds, err := NewDataset([]float64{0, 0.5, 1.0}, obs)
	require.NoError(t, err)

	points, vars := ds.Dims()
	require.Equal(t, 3, points)
	require.Equal(t, 2, vars)
	require.Equal(t, []bool{true, true}, ds.Observed)
	require.Equal(t, 2, ds.ObservedCount())
	require.Equal(t, []float64{2, 4, 6}, ds.Column(1))
}

func TestNewDatasetCopiesInputs(t *testing.T) {
	time := []float64{0, 1}
	obs := mat.NewDense(2, 1, []float64{1, 2})
	ds, err := NewDataset(time, obs)
	require.NoError(t, err)

	time[0] = 99
	obs.Set(0, 0, 99)
	require.Equal(t, 0.0, ds.Time[0])
	require.Equal(t, 1.0, ds.Observations.At(0, 0))
}

func TestNewDatasetUnobservedColumn(t *testing.T) {
	nan := math.NaN()
	obs := mat.NewDense(3, 2, []float64{
		1, nan,
		3, nan,
		5, nan,
	})
	ds, err := NewDataset([]float64{0, 1, 2}, obs)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, ds.Observed)
	require.Equal(t, 1, ds.ObservedCount())
}

func TestNewDatasetErrors(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name string
		time []float64
		obs  *mat.Dense
		want error
	}{
		{"nil observations", []float64{0, 1}, nil, ErrDimensionMismatch},
		{"length mismatch", []float64{0, 1, 2}, mat.NewDense(2, 1, []float64{1, 2}), ErrDimensionMismatch},
		{"too few points", []float64{0}, mat.NewDense(1, 1, []float64{1}), ErrDimensionMismatch},
		{"non increasing", []float64{0, 0}, mat.NewDense(2, 1, []float64{1, 2}), ErrTimeNotIncreasing},
		{"decreasing", []float64{1, 0}, mat.NewDense(2, 1, []float64{1, 2}), ErrTimeNotIncreasing},
		{"partial column", []float64{0, 1}, mat.NewDense(2, 1, []float64{1, nan}), ErrPartialColumn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDataset(tc.time, tc.obs)
			require.ErrorIs(t, err, tc.want)
		})
	}
}
