package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ghowl/ghowl/elevation"
	"github.com/ghowl/ghowl/sheets"
)

// parsePoint parses a point in lon,lat notation.
func parsePoint(s string) (elevation.Point, error) {
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return elevation.Point{}, fmt.Errorf("%s: expected lon,lat", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return elevation.Point{}, fmt.Errorf("%s: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return elevation.Point{}, fmt.Errorf("%s: %w", s, err)
	}
	return elevation.Point{X: lon, Y: lat}, nil
}

func readCSVFile(filename string) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readCSV(file)
}

func readCSV(r io.Reader) ([][]string, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true
	return csvReader.ReadAll()
}

// readPoints reads points from lon,lat records. A first record that does not
// parse is treated as a header.
func readPoints(r io.Reader) ([]elevation.Point, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	points := make([]elevation.Point, 0, len(records))
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected lon,lat", i+1)
		}
		point, err := parsePoint(record[0] + "," + record[1])
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		points = append(points, point)
	}
	return points, nil
}

// readGrid reads a grid from sheet,row,col,value records with 0-based
// indexes. A first record that does not parse is treated as a header.
func readGrid(r io.Reader) (sheets.Grid, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	grid := make(sheets.Grid)
	for i, record := range records {
		if len(record) != 4 {
			return nil, fmt.Errorf("line %d: expected sheet,row,col,value", i+1)
		}
		var indexes [3]int
		var parseErr error
		for j := range indexes {
			if indexes[j], err = strconv.Atoi(record[j]); err != nil {
				parseErr = errors.Join(parseErr, err)
			}
		}
		if parseErr != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", i+1, parseErr)
		}
		grid[sheets.Path{Sheet: indexes[0], Row: indexes[1], Col: indexes[2]}] = record[3]
	}
	return grid, nil
}

// parseSheetFlags parses Name=file.csv arguments into sheets. Arguments
// without a name get the default sheet names in order.
func parseSheetFlags(args []string) ([]sheets.Sheet, error) {
	var namer sheets.SheetNamer
	result := make([]sheets.Sheet, 0, len(args))
	for _, arg := range args {
		name, filename, ok := strings.Cut(arg, "=")
		if !ok {
			name, filename = namer.Next(), arg
		}
		if name == "" {
			return nil, fmt.Errorf("%s: empty sheet name", arg)
		}
		rows, err := readCSVFile(filename)
		if err != nil {
			return nil, err
		}
		result = append(result, sheets.Sheet{
			Name: name,
			Data: sheets.TableFromRows(rows),
		})
	}
	return result, nil
}
