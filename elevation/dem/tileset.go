package dem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	missingTileHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_dem_missing_tile_hits_total",
		Help: "The total number of lookups of tiles already known to be missing",
	})
	missingTiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_dem_missing_tiles_total",
		Help: "The total number of tiles found to be missing",
	})
	tileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_dem_tile_cache_hits_total",
		Help: "The total number of hits on the open tile cache",
	})
	tileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_dem_tile_cache_misses_total",
		Help: "The total number of misses on the open tile cache",
	})
	tileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_dem_tile_cache_evictions_total",
		Help: "The total number of evictions from the open tile cache",
	})
)

// A TileCoordFunc returns the coordinate of the tile containing a coordinate.
type TileCoordFunc func(Coord) (TileCoord, bool)

// A TileFilenameFunc returns the filename of a tile.
type TileFilenameFunc func(TileCoord) string

// A TileSet is a Raster made of GeoTIFF tiles in a filesystem. Tiles are
// opened on demand and kept open in an LRU cache.
type TileSet struct {
	mutex            sync.Mutex
	fsys             fs.FS
	srid             int
	scaleX           int
	scaleY           int
	tileCoordFunc    TileCoordFunc
	tileFilenameFunc TileFilenameFunc
	tileOptions      []TileOption
	cacheSize        int
	missing          sync.Map
	tiles            *lru.Cache[TileCoord, *Tile]
}

// An Option sets an option on a TileSet.
type Option func(*TileSet)

// NewTileSet returns a new TileSet with the given options.
func NewTileSet(options ...Option) (*TileSet, error) {
	s := &TileSet{
		cacheSize: 32,
	}
	for _, option := range options {
		option(s)
	}
	if s.tileCoordFunc == nil || s.tileFilenameFunc == nil {
		return nil, errors.New("tile coord and tile filename functions are required")
	}

	var err error
	s.tiles, err = lru.NewWithEvict(s.cacheSize, func(_ TileCoord, tile *Tile) {
		_ = tile.Close()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func WithCacheSize(cacheSize int) Option {
	return func(s *TileSet) {
		s.cacheSize = cacheSize
	}
}

func WithFS(fsys fs.FS) Option {
	return func(s *TileSet) {
		s.fsys = fsys
	}
}

// WithSRID sets the EPSG code of the tile set's CRS. Tiles that declare a
// different EPSG code are rejected.
func WithSRID(srid int) Option {
	return func(s *TileSet) {
		s.srid = srid
	}
}

func WithScale(scaleX, scaleY int) Option {
	return func(s *TileSet) {
		s.scaleX = scaleX
		s.scaleY = scaleY
	}
}

func WithTileCoordFunc(tileCoordFunc TileCoordFunc) Option {
	return func(s *TileSet) {
		s.tileCoordFunc = tileCoordFunc
	}
}

func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) Option {
	return func(s *TileSet) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

func WithTileOptions(tileOptions ...TileOption) Option {
	return func(s *TileSet) {
		s.tileOptions = tileOptions
	}
}

// Close closes all open tiles.
func (s *TileSet) Close() {
	s.tiles.Purge()
}

// SRID returns s's SRID.
func (s *TileSet) SRID() int {
	return s.srid
}

// Scale returns s's scale.
func (s *TileSet) Scale() (int, int) {
	return s.scaleX, s.scaleY
}

// Samples returns the samples at coords. Samples in missing tiles are NaN.
func (s *TileSet) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	indexesByTile := make(map[TileCoord][]int)
	for index, coord := range coords {
		tileCoord, ok := s.tileCoordFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByTile[tileCoord] = append(indexesByTile[tileCoord], index)
	}

	for tileCoord, indexes := range indexesByTile {
		tile, err := s.tile(tileCoord)
		if err != nil {
			return nil, err
		}
		if tile == nil {
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		tileCoords := make([]Coord, len(indexes))
		for i, index := range indexes {
			tileCoords[i] = coords[index]
		}
		tileSamples, err := tile.Samples(ctx, tileCoords)
		if err != nil {
			return nil, err
		}
		for i, index := range indexes {
			samples[index] = tileSamples[i]
		}
	}

	return samples, nil
}

// tile returns the tile at tileCoord, or nil if it does not exist.
func (s *TileSet) tile(tileCoord TileCoord) (*Tile, error) {
	if _, ok := s.missing.Load(tileCoord); ok {
		missingTileHits.Inc()
		return nil, nil
	}
	if tile, ok := s.tiles.Get(tileCoord); ok {
		tileCacheHits.Inc()
		return tile, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Another goroutine may have opened the tile while we waited.
	if _, ok := s.missing.Load(tileCoord); ok {
		missingTileHits.Inc()
		return nil, nil
	}
	if tile, ok := s.tiles.Get(tileCoord); ok {
		tileCacheHits.Inc()
		return tile, nil
	}

	tileCacheMisses.Inc()
	filename := s.tileFilenameFunc(tileCoord)
	tile, err := OpenTile(s.fsys, filename, s.tileOptions...)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		missingTiles.Inc()
		s.missing.Store(tileCoord, struct{}{})
		return nil, nil
	case err != nil:
		return nil, err
	}

	if epsg, ok := tile.EPSG(); ok && s.srid != 0 && epsg != s.srid {
		_ = tile.Close()
		return nil, fmt.Errorf("%s: EPSG:%d, expected EPSG:%d: %w", filename, epsg, s.srid, ErrCRSMismatch)
	}

	if evicted := s.tiles.Add(tileCoord, tile); evicted {
		tileCacheEvictions.Inc()
	}
	return tile, nil
}
