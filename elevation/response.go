package elevation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// A response is a parsed elevation service response.
type response struct {
	statuses   []string
	elevations []float64
}

// status returns the last status in r, or the empty string if there is none.
func (r *response) status() string {
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

// parseResponse reads an XML elevation response from reader. Elements other
// than status and elevation are ignored, wherever they occur.
func parseResponse(reader io.Reader) (*response, error) {
	var r response
	decoder := xml.NewDecoder(reader)
	for {
		token, err := decoder.Token()
		switch {
		case errors.Is(err, io.EOF):
			return &r, nil
		case err != nil:
			return nil, err
		}
		startElement, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch startElement.Name.Local {
		case "status":
			var text string
			if err := decoder.DecodeElement(&text, &startElement); err != nil {
				return nil, err
			}
			r.statuses = append(r.statuses, strings.TrimSpace(text))
		case "elevation":
			var text string
			if err := decoder.DecodeElement(&text, &startElement); err != nil {
				return nil, err
			}
			elevation, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return nil, fmt.Errorf("elevation %q: %w", text, err)
			}
			r.elevations = append(r.elevations, elevation)
		}
	}
}
