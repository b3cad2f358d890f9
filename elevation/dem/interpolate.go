package dem

import (
	"context"
	"math"
)

// InterpolateBilinear returns the bilinear interpolation of raster at each of
// coords. Corners with zero weight do not contribute, so a coordinate that
// falls exactly on a sample is not affected by missing neighbors.
func InterpolateBilinear(ctx context.Context, raster Raster, coords [][]float64) ([]float64, error) {
	scaleX, scaleY := raster.Scale()
	corners := make([]Coord, 4*len(coords))
	weights := make([]float64, 4*len(coords))
	for i, coord := range coords {
		x0 := scaleX * int(math.Floor(coord[0]/float64(scaleX)))
		y0 := scaleY * int(math.Floor(coord[1]/float64(scaleY)))
		x1, y1 := x0+scaleX, y0+scaleY
		dx := (coord[0] - float64(x0)) / float64(scaleX)
		dy := (coord[1] - float64(y0)) / float64(scaleY)
		corners[4*i+0], weights[4*i+0] = Coord{X: x0, Y: y0}, (1-dx)*(1-dy)
		corners[4*i+1], weights[4*i+1] = Coord{X: x1, Y: y0}, dx*(1-dy)
		corners[4*i+2], weights[4*i+2] = Coord{X: x0, Y: y1}, (1-dx)*dy
		corners[4*i+3], weights[4*i+3] = Coord{X: x1, Y: y1}, dx*dy
	}

	samples, err := raster.Samples(ctx, corners)
	if err != nil {
		return nil, err
	}

	result := make([]float64, len(coords))
	for i := range coords {
		for j := 4 * i; j < 4*i+4; j++ {
			if weights[j] != 0 {
				result[i] += weights[j] * samples[j]
			}
		}
	}
	return result, nil
}
