package dem_test

import (
	"context"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/ghowl/ghowl/elevation/dem"
)

type testRaster struct {
	scaleX  int
	scaleY  int
	samples [][]float64
}

func (t *testRaster) Samples(ctx context.Context, coords []dem.Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	for i, coord := range coords {
		row, col := coord.Y/t.scaleY, coord.X/t.scaleX
		if row < 0 || row >= len(t.samples) || col < 0 || col >= len(t.samples[row]) {
			samples[i] = math.NaN()
			continue
		}
		samples[i] = t.samples[row][col]
	}
	return samples, nil
}

func (t *testRaster) Scale() (int, int) {
	return t.scaleX, t.scaleY
}

func TestInterpolateBilinear(t *testing.T) {
	simpleRaster := &testRaster{
		scaleX: 10,
		scaleY: 10,
		samples: [][]float64{
			{0, 1, 2},
			{2, 3, 4},
			{4, 5, 6},
		},
	}
	for _, tc := range []struct {
		name     string
		raster   dem.Raster
		coords   [][]float64
		expected []float64
	}{
		{
			name:   "simple",
			raster: simpleRaster,
			coords: [][]float64{
				{0, 0},
				{10, 0},
				{0, 10},
				{10, 10},
				{5, 5},
				{5, 0},
				{0, 5},
				{10, 5},
				{5, 10},
			},
			expected: []float64{
				0,
				1,
				2,
				3,
				1.5,
				0.5,
				1,
				2,
				2.5,
			},
		},
		{
			name:     "edge",
			raster:   simpleRaster,
			coords:   [][]float64{{20, 20}, {20, 15}},
			expected: []float64{6, 5},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := dem.InterpolateBilinear(t.Context(), tc.raster, tc.coords)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestInterpolateBilinear_Missing(t *testing.T) {
	raster := &testRaster{
		scaleX:  10,
		scaleY:  10,
		samples: [][]float64{{1, 2}},
	}
	actual, err := dem.InterpolateBilinear(t.Context(), raster, [][]float64{{5, 5}})
	assert.NoError(t, err)
	assert.True(t, math.IsNaN(actual[0]))
}
