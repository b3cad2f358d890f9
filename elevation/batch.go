package elevation

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultBaseURL      = "http://maps.googleapis.com/maps/api/elevation/xml"
	DefaultMaxURLLength = 1870
)

// A Batch is a group of points sent in a single request.
type Batch struct {
	Indexes []int // Positions of the points in the input.
	URL     string
}

// A batcher splits points into batches whose request URLs fit in maxLength.
type batcher struct {
	prefix    string
	suffix    string
	maxLength int
}

func newBatcher(baseURL, apiKey string, maxLength int) *batcher {
	suffix := "&sensor=false"
	if apiKey != "" {
		suffix += "&key=" + url.QueryEscape(apiKey)
	}
	return &batcher{
		prefix:    baseURL + "?locations=",
		suffix:    suffix,
		maxLength: maxLength,
	}
}

// split returns the batches for the points at indexes. A point is added to the
// current batch only if the resulting URL does not exceed b.maxLength. A point
// that does not fit in an empty batch is sent on its own.
func (b *batcher) split(points []Point, indexes []int) []Batch {
	var batches []Batch
	var locations strings.Builder
	var batchIndexes []int
	flush := func() {
		if len(batchIndexes) == 0 {
			return
		}
		batches = append(batches, Batch{
			Indexes: batchIndexes,
			URL:     b.prefix + locations.String() + b.suffix,
		})
		batchIndexes = nil
		locations.Reset()
	}
	for _, index := range indexes {
		location := encodeLocation(points[index])
		length := len(b.prefix) + locations.Len() + len(location) + len(b.suffix)
		if locations.Len() > 0 {
			length++ // Separator.
		}
		if len(batchIndexes) > 0 && length > b.maxLength {
			flush()
		}
		if locations.Len() > 0 {
			locations.WriteByte('|')
		}
		locations.WriteString(location)
		batchIndexes = append(batchIndexes, index)
	}
	flush()
	return batches
}

// encodeLocation returns the "lat,lon" encoding of p.
func encodeLocation(p Point) string {
	return strconv.FormatFloat(p.Y, 'f', -1, 64) + "," + strconv.FormatFloat(p.X, 'f', -1, 64)
}
