package dem

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

var errShortRead = errors.New("short read")

// A Tile is an open GeoTIFF file holding a single band of LZW-compressed
// float32 samples, organized in blocks.
type Tile struct {
	file                   *os.File
	width                  int
	height                 int
	blockWidth             int
	blockHeight            int
	blocksAcross           int
	blockOffsets           []uint64
	blockByteCounts        []uint64
	smallestBlockByteCount uint64
	blockSampleCount       int
	blockByteCount         int
	blockCacheBytes        int
	blockCache             *otter.Cache[TileCoord, []float32]
	emptyBlockMutex        sync.Mutex
	emptyBlock             []byte
	noData                 float32
	hasNoData              bool
	epsg                   int
	scaleX                 int
	scaleY                 int
	originX                int
	originY                int
}

// A TileOption sets an option on a Tile.
type TileOption func(*Tile)

// A tileIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type tileIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// check returns an error if ifd describes a layout that Tile cannot read.
func (ifd *tileIFD) check() error {
	switch {
	case ifd.BitsPerSample != 32 || ifd.SampleFormat != 3:
		return fmt.Errorf("sample format %d with %d bits: %w", ifd.SampleFormat, ifd.BitsPerSample, errors.ErrUnsupported)
	case ifd.Compression != 5 || ifd.Predictor != 1:
		return fmt.Errorf("compression %d with predictor %d: %w", ifd.Compression, ifd.Predictor, errors.ErrUnsupported)
	case ifd.PhotometricInterpretation != 1 || ifd.SamplesPerPixel != 1 || ifd.PlanarConfiguration != 1:
		return fmt.Errorf("more than one band: %w", errors.ErrUnsupported)
	case ifd.TileWidth == 0 || ifd.TileLength == 0:
		return fmt.Errorf("not tiled: %w", errors.ErrUnsupported)
	case len(ifd.ModelPixelScaleTag) != 3 || ifd.ModelPixelScaleTag[2] != 0:
		return fmt.Errorf("pixel scale %v: %w", ifd.ModelPixelScaleTag, errors.ErrUnsupported)
	case len(ifd.ModelTiepointTag) != 6 || ifd.ModelTiepointTag[0] != 0 || ifd.ModelTiepointTag[1] != 0 || ifd.ModelTiepointTag[2] != 0 || ifd.ModelTiepointTag[5] != 0:
		return fmt.Errorf("tie point %v: %w", ifd.ModelTiepointTag, errors.ErrUnsupported)
	}
	for _, value := range []float64{ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1], ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]} {
		if value != math.Trunc(value) {
			return fmt.Errorf("non-integer georeferencing %v: %w", value, errors.ErrUnsupported)
		}
	}
	return nil
}

// OpenTile opens the GeoTIFF file filename in fsys, which must be backed by
// the operating system's filesystem.
func OpenTile(fsys fs.FS, filename string, options ...TileOption) (*Tile, error) {
	t := &Tile{
		blockCacheBytes: 128 << 20,
	}
	for _, option := range options {
		option(t)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	osFile, ok := file.(*os.File)
	if !ok {
		_ = file.Close()
		return nil, errors.ErrUnsupported
	}
	t.file = osFile
	if err := t.init(); err != nil {
		_ = t.file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}

func (t *Tile) init() error {
	parsed, err := tiff.Parse(t.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return err
	}
	if n := len(parsed.IFDs()); n != 1 {
		return fmt.Errorf("found %d IFDs, expected 1", n)
	}
	var ifd tileIFD
	if err := tiff.UnmarshalIFD(parsed.IFDs()[0], &ifd); err != nil {
		return err
	}
	if err := ifd.check(); err != nil {
		return err
	}

	t.width = int(ifd.ImageWidth)
	t.height = int(ifd.ImageLength)
	t.blockWidth = int(ifd.TileWidth)
	t.blockHeight = int(ifd.TileLength)
	t.blocksAcross = (t.width + t.blockWidth - 1) / t.blockWidth
	blocksDown := (t.height + t.blockHeight - 1) / t.blockHeight
	if n := t.blocksAcross * blocksDown; len(ifd.TileOffsets) != n || len(ifd.TileByteCounts) != n {
		return fmt.Errorf("found %d offsets and %d byte counts, expected %d", len(ifd.TileOffsets), len(ifd.TileByteCounts), n)
	}
	t.blockOffsets = ifd.TileOffsets
	t.blockByteCounts = ifd.TileByteCounts
	t.smallestBlockByteCount = slices.Min(ifd.TileByteCounts)
	t.blockSampleCount = t.blockWidth * t.blockHeight
	t.blockByteCount = 4 * t.blockSampleCount

	if ifd.GDALNoData != "" {
		noData, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")), 32)
		if err != nil {
			return fmt.Errorf("no data value: %w", err)
		}
		t.noData = float32(noData)
		t.hasNoData = true
	}

	if len(ifd.GeoKeyDirectoryTag) > 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return err
		}
		t.epsg, _ = geoKeys.EPSG()
	}

	t.scaleX = int(ifd.ModelPixelScaleTag[0])
	t.scaleY = int(ifd.ModelPixelScaleTag[1])
	t.originX = int(ifd.ModelTiepointTag[3])
	t.originY = int(ifd.ModelTiepointTag[4])

	t.blockCache, err = otter.New(&otter.Options[TileCoord, []float32]{
		MaximumSize: max(t.blockCacheBytes/t.blockByteCount, 1),
	})
	return err
}

// WithBlockCacheSize sets the number of bytes of decoded samples that a Tile
// keeps in memory.
func WithBlockCacheSize(blockCacheBytes int) TileOption {
	return func(t *Tile) {
		t.blockCacheBytes = blockCacheBytes
	}
}

func (t *Tile) Close() error {
	return t.file.Close()
}

// EPSG returns the EPSG code of t's projected CRS, if it declares one.
func (t *Tile) EPSG() (int, bool) {
	return t.epsg, t.epsg != 0
}

// Sample returns the sample at coord.
func (t *Tile) Sample(ctx context.Context, coord Coord) (float64, error) {
	samples, err := t.Samples(ctx, []Coord{coord})
	if err != nil {
		return 0, err
	}
	return samples[0], nil
}

// Samples returns the samples at coords. Coordinates in the same block are
// decoded together.
func (t *Tile) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	pixels := make([]Coord, len(coords))
	indexesByBlock := make(map[TileCoord][]int)
	for index, coord := range coords {
		pixels[index] = t.pixel(coord)
		block, ok := t.block(pixels[index])
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByBlock[block] = append(indexesByBlock[block], index)
	}

	for block, indexes := range indexesByBlock {
		switch blockSamples, err := t.blockSamplesCached(ctx, block); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = t.blockSample(blockSamples, pixels[index])
			}
		}
	}
	return samples, nil
}

// pixel returns the pixel coordinate of coord.
func (t *Tile) pixel(coord Coord) Coord {
	return Coord{
		X: floorDiv(coord.X-t.originX, t.scaleX),
		Y: floorDiv(t.originY-coord.Y, t.scaleY),
	}
}

// block returns the block containing pixel.
func (t *Tile) block(pixel Coord) (TileCoord, bool) {
	if pixel.X < 0 || t.width <= pixel.X || pixel.Y < 0 || t.height <= pixel.Y {
		return TileCoord{}, false
	}
	return TileCoord{
		C: pixel.X / t.blockWidth,
		R: pixel.Y / t.blockHeight,
	}, true
}

// blockSample returns the sample at pixel from the decoded samples of its
// block.
func (t *Tile) blockSample(blockSamples []float32, pixel Coord) float64 {
	sample := blockSamples[pixel.X%t.blockWidth+(pixel.Y%t.blockHeight)*t.blockWidth]
	if t.hasNoData && sample == t.noData {
		return math.NaN()
	}
	return float64(sample)
}

func (t *Tile) blockSamplesCached(ctx context.Context, block TileCoord) ([]float32, error) {
	return t.blockCache.Get(ctx, block, otter.LoaderFunc[TileCoord, []float32](t.loadBlockSamples))
}

// loadBlockSamples reads and decodes the samples of block. It returns
// otter.ErrNotFound if the block contains no data.
func (t *Tile) loadBlockSamples(ctx context.Context, block TileCoord) ([]float32, error) {
	index := block.C + t.blocksAcross*block.R
	compressed := make([]byte, t.blockByteCounts[index])
	switch n, err := t.file.ReadAt(compressed, int64(t.blockOffsets[index])); {
	case n != len(compressed):
		return nil, errShortRead
	case err != nil && !errors.Is(err, io.EOF):
		return nil, err
	}

	t.emptyBlockMutex.Lock()
	emptyBlock := t.emptyBlock
	t.emptyBlockMutex.Unlock()
	if emptyBlock != nil && bytes.Equal(compressed, emptyBlock) {
		return nil, otter.ErrNotFound
	}

	data := make([]byte, t.blockByteCount)
	if _, err := io.ReadFull(lzw.NewReader(bytes.NewReader(compressed), lzw.MSB, 8), data); err != nil {
		return nil, err
	}
	blockSamples := make([]float32, t.blockSampleCount)
	for i := range blockSamples {
		blockSamples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}

	// Empty blocks all compress to the same, smallest, byte sequence. Remember
	// it so that later empty blocks are recognized without decompressing them.
	if emptyBlock == nil && t.hasNoData && uint64(len(compressed)) == t.smallestBlockByteCount {
		if !slices.ContainsFunc(blockSamples, func(sample float32) bool { return sample != t.noData }) {
			t.emptyBlockMutex.Lock()
			t.emptyBlock = compressed
			t.emptyBlockMutex.Unlock()
			return nil, otter.ErrNotFound
		}
	}

	return blockSamples, nil
}
