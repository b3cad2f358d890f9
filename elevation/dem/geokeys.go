package dem

import (
	"errors"
	"fmt"
)

var errGeoKeyDirectory = errors.New("invalid GeoKey directory")

// A GeoKey identifies an entry in a GeoTIFF GeoKey directory.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS        GeoKey = 3072
	GeoKeyPCSCitation         GeoKey = 3073
	GeoKeyProjection          GeoKey = 3074
	GeoKeyProjMethod          GeoKey = 3075
	GeoKeyProjLinearUnits     GeoKey = 3076
	GeoKeyProjFalseEasting    GeoKey = 3082
	GeoKeyProjFalseNorthing   GeoKey = 3083
	GeoKeyProjCenterLongitude GeoKey = 3088
	GeoKeyProjCenterLatitude  GeoKey = 3089
)

// userDefined is the GeoKey value for a user-defined CRS.
const userDefined = 32767

const (
	geoDoubleParamsTag = 34736
	geoASCIIParamsTag  = 34737
)

// GeoKeys are the parsed values of a GeoKey directory.
type GeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKey directory and the parameter tags it refers to.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, errGeoKeyDirectory
	}
	version, revision, minorRevision, numberOfKeys := directory[0], directory[1], directory[2], int(directory[3])
	switch {
	case version != 1 || revision != 1:
		return nil, fmt.Errorf("version %d.%d: %w", version, revision, errGeoKeyDirectory)
	case minorRevision > 1:
		return nil, fmt.Errorf("minor revision %d: %w", minorRevision, errGeoKeyDirectory)
	case len(directory) != 4+4*numberOfKeys:
		return nil, fmt.Errorf("%d keys in %d entries: %w", numberOfKeys, len(directory), errGeoKeyDirectory)
	}

	geoKeys := &GeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for entry := range numberOfKeys {
		key := GeoKey(directory[4+4*entry])
		location := directory[4+4*entry+1]
		count := int(directory[4+4*entry+2])
		valueOffset := int(directory[4+4*entry+3])
		switch location {
		case 0:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %w", key, errGeoKeyDirectory)
			}
			geoKeys.Params[key] = valueOffset
		case geoDoubleParamsTag:
			if count != 1 {
				return nil, fmt.Errorf("key %d: %d doubles: %w", key, count, errors.ErrUnsupported)
			}
			if valueOffset >= len(doubleParams) {
				return nil, fmt.Errorf("key %d: %w", key, errGeoKeyDirectory)
			}
			geoKeys.DoubleParams[key] = doubleParams[valueOffset]
		case geoASCIIParamsTag:
			if valueOffset+count > len(asciiParams) {
				return nil, fmt.Errorf("key %d: %w", key, errGeoKeyDirectory)
			}
			geoKeys.ASCIIParams[key] = string(asciiParams[valueOffset : valueOffset+count])
		default:
			return nil, fmt.Errorf("key %d: tag %d: %w", key, location, errors.ErrUnsupported)
		}
	}
	return geoKeys, nil
}

// EPSG returns the EPSG code of the projected CRS, if it has one.
func (k *GeoKeys) EPSG() (int, bool) {
	code, ok := k.Params[GeoKeyProjectedCRS]
	if !ok || code == userDefined {
		return 0, false
	}
	return code, true
}
