package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSpreadsheetNotFound = errors.New("no spreadsheet matches this title")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMissingCell         = errors.New("cell missing from query response")
)

// A StatusError is returned when the spreadsheet service answers a request
// with an unexpected HTTP status.
type StatusError struct {
	Op     string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// Is reports whether target is ErrUnauthorized and e is an authorization
// failure.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// A Spreadsheet is a remote spreadsheet.
type Spreadsheet struct {
	ID            string
	Key           string
	Title         string
	WorksheetsURL string
}

// A Worksheet is a named page of a Spreadsheet.
type Worksheet struct {
	ID       string
	Title    string
	Rows     int
	Cols     int
	CellsURL string
}

// An Operation is the type of a batch entry.
type Operation string

const (
	OperationQuery  Operation = "query"
	OperationUpdate Operation = "update"
)

// BatchData identifies an entry in a batch request and carries its result.
type BatchData struct {
	ID        string
	Operation Operation
	Status    int    // HTTP status code, set in responses.
	Reason    string // Set in responses.
}

// A CellEntry is a remote cell.
type CellEntry struct {
	ID         string
	EditURL    string
	Row        int
	Col        int
	InputValue string
	Value      string
	Batch      BatchData
}

// A Service is a remote spreadsheet service.
type Service interface {
	// FindSpreadsheet returns the spreadsheet identified by locator, or
	// ErrSpreadsheetNotFound.
	FindSpreadsheet(ctx context.Context, locator Locator) (*Spreadsheet, error)
	// Worksheets returns the worksheets of spreadsheet with the given title,
	// or all of them if title is empty.
	Worksheets(ctx context.Context, spreadsheet *Spreadsheet, title string) ([]*Worksheet, error)
	// InsertWorksheet creates a worksheet.
	InsertWorksheet(ctx context.Context, spreadsheet *Spreadsheet, title string, rows, cols int) (*Worksheet, error)
	// Cells returns the non-empty cells of worksheet.
	Cells(ctx context.Context, worksheet *Worksheet) ([]*CellEntry, error)
	// Batch applies entries to the cells of worksheet and returns the
	// response entries, each carrying its own status.
	Batch(ctx context.Context, worksheet *Worksheet, entries []*CellEntry) ([]*CellEntry, error)
}

// A Connector returns a Service authorized with creds.
type Connector func(ctx context.Context, creds Credentials) (Service, error)
