package dem

import (
	"context"
	"fmt"
	"io/fs"
	"slices"

	"github.com/twpayne/go-proj/v11"

	"github.com/ghowl/ghowl/elevation"
)

// NewEUDEM returns a TileSet for the Copernicus EU-DEM v1.1 tiles in fsys.
func NewEUDEM(fsys fs.FS, options ...Option) (*TileSet, error) {
	return NewTileSet(slices.Concat(
		[]Option{
			WithFS(fsys),
			WithSRID(3035),
			WithScale(25, 25),
			WithTileCoordFunc(func(coord Coord) (TileCoord, bool) {
				if coord.X < 0 || coord.Y < 0 {
					return TileCoord{}, false
				}
				return TileCoord{
					C: 10 * (coord.X / 1000000),
					R: 10 * (coord.Y / 1000000),
				}, true
			}),
			WithTileFilenameFunc(func(tileCoord TileCoord) string {
				return fmt.Sprintf("eu_dem_v11_E%02dN%02d.TIF", tileCoord.C, tileCoord.R)
			}),
		},
		options,
	)...)
}

// A Service is an elevation.Elevator that interpolates EU-DEM tiles.
type Service struct {
	tileSet *TileSet
	pj      *proj.PJ
}

// NewService returns a new Service reading EU-DEM tiles from fsys.
func NewService(fsys fs.FS, options ...Option) (*Service, error) {
	tileSet, err := NewEUDEM(fsys, options...)
	if err != nil {
		return nil, err
	}
	pj, err := proj.NewCRSToCRS("epsg:4326", "epsg:3035", nil)
	if err != nil {
		return nil, err
	}
	return &Service{
		tileSet: tileSet,
		pj:      pj,
	}, nil
}

// Close closes s's open tiles.
func (s *Service) Close() {
	s.tileSet.Close()
}

// Elevate returns the interpolated elevations at points. Points outside the
// available tiles have NaN elevations.
func (s *Service) Elevate(ctx context.Context, points []elevation.Point) ([]float64, error) {
	// EPSG:4326 has latitude first.
	coords := make([][]float64, len(points))
	for i, point := range points {
		coords[i] = []float64{point.Y, point.X}
	}
	if err := s.pj.ForwardFloat64Slices(coords); err != nil {
		return nil, err
	}
	// EPSG:3035 has northing first.
	for _, coord := range coords {
		coord[0], coord[1] = coord[1], coord[0]
	}
	return InterpolateBilinear(ctx, s.tileSet, coords)
}

var _ elevation.Elevator = (*Service)(nil)
