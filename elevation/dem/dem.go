// Package dem samples elevations from digital elevation models stored as
// GeoTIFF tiles on a local filesystem.
package dem

import (
	"context"
	"errors"
)

// ErrCRSMismatch is returned when a tile's CRS differs from its tile set's.
var ErrCRSMismatch = errors.New("CRS mismatch")

// A Coord is a coordinate in a raster's CRS.
type Coord struct {
	X int
	Y int
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A Raster returns samples at coordinates. Missing samples are NaN.
type Raster interface {
	Samples(ctx context.Context, coords []Coord) ([]float64, error)
	Scale() (int, int)
}

// floorDiv returns a/b rounded towards negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
