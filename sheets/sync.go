package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ghowl/ghowl/report"
)

const (
	DefaultWorksheetRows = 20
	DefaultWorksheetCols = 20
)

var (
	worksheetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_sheets_worksheets_created_total",
		Help: "The total number of worksheets created",
	})
	batches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_sheets_batches_total",
		Help: "The total number of batch requests sent",
	})
	cellsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_sheets_cells_updated_total",
		Help: "The total number of cells updated",
	})
	cellUpdatesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_sheets_cell_updates_failed_total",
		Help: "The total number of cell updates that failed",
	})
)

// A SheetResult is the result of writing one sheet.
type SheetResult struct {
	Name      string
	Worksheet *Worksheet
	Created   bool
	Staged    []CellAddress
	Failed    []BatchData
	OK        bool
}

// A Synchronizer writes tables to the worksheets of remote spreadsheets.
type Synchronizer struct {
	connect  Connector
	rows     int
	cols     int
	logger   *zap.Logger
	reporter report.Reporter
}

// An Option sets an option on a Synchronizer.
type Option func(*Synchronizer)

// NewSynchronizer returns a new Synchronizer with the given options.
func NewSynchronizer(options ...Option) *Synchronizer {
	s := &Synchronizer{
		rows:     DefaultWorksheetRows,
		cols:     DefaultWorksheetCols,
		logger:   zap.NewNop(),
		reporter: report.Discard,
	}
	for _, option := range options {
		option(s)
	}
	if s.connect == nil {
		s.connect = FeedConnector(WithFeedLogger(s.logger))
	}
	return s
}

// WithConnector sets the function used to connect to the spreadsheet service.
func WithConnector(connect Connector) Option {
	return func(s *Synchronizer) {
		s.connect = connect
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

func WithReporter(reporter report.Reporter) Option {
	return func(s *Synchronizer) {
		s.reporter = reporter
	}
}

// WithWorksheetSize sets the minimum size of created worksheets.
func WithWorksheetSize(rows, cols int) Option {
	return func(s *Synchronizer) {
		s.rows = rows
		s.cols = cols
	}
}

// Sync writes each of sheets to the worksheet with the same name in the
// spreadsheet identified by locator, creating worksheets as needed. A failure
// to write one sheet is reported and does not prevent the others from being
// written.
func (s *Synchronizer) Sync(ctx context.Context, creds Credentials, locator Locator, sheets []Sheet) ([]SheetResult, error) {
	service, spreadsheet, err := s.open(ctx, creds, locator)
	if err != nil {
		return nil, err
	}

	results := make([]SheetResult, 0, len(sheets))
	var errs []error
	for _, sheet := range sheets {
		addresses := sheet.Data.Addresses()
		worksheet, created, err := s.worksheet(ctx, service, spreadsheet, sheet.Name, addresses)
		if err != nil {
			s.reporter.Report(report.Error, sheet.Name+": "+err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", sheet.Name, err))
			continue
		}
		result, err := s.write(ctx, service, worksheet, addresses)
		result.Name = sheet.Name
		result.Created = created
		results = append(results, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sheet.Name, err))
		}
	}
	return results, errors.Join(errs...)
}

// SyncGrid writes grid positionally: sheet i of grid is written to the i-th
// worksheet of the spreadsheet identified by locator. Missing worksheets are
// appended with the names Sheet{n}.
func (s *Synchronizer) SyncGrid(ctx context.Context, creds Credentials, locator Locator, grid Grid) ([]SheetResult, error) {
	service, spreadsheet, err := s.open(ctx, creds, locator)
	if err != nil {
		return nil, err
	}

	worksheets, err := service.Worksheets(ctx, spreadsheet, "")
	if err != nil {
		s.reporter.Report(report.Error, err.Error())
		return nil, err
	}
	titles := make(map[string]struct{}, len(worksheets))
	for _, worksheet := range worksheets {
		titles[worksheet.Title] = struct{}{}
	}

	sheetIndexes := grid.Sheets()
	var errs []error
	var results []SheetResult
	created := make(map[int]bool)
	for _, sheetIndex := range sheetIndexes {
		if sheetIndex < 0 {
			continue
		}
		addresses := grid.Addresses(sheetIndex)
		for len(worksheets) <= sheetIndex {
			namer := SheetNamer{n: len(worksheets)}
			title := namer.Next()
			for _, exists := titles[title]; exists; _, exists = titles[title] {
				title = namer.Next()
			}
			// Worksheets before sheetIndex only fill the gap and get the
			// default size.
			var sizeAddresses []CellAddress
			if len(worksheets) == sheetIndex {
				sizeAddresses = addresses
			}
			worksheet, err := s.insertWorksheet(ctx, service, spreadsheet, title, sizeAddresses)
			if err != nil {
				s.reporter.Report(report.Error, title+": "+err.Error())
				return results, errors.Join(append(errs, fmt.Errorf("%s: %w", title, err))...)
			}
			titles[title] = struct{}{}
			created[len(worksheets)] = true
			worksheets = append(worksheets, worksheet)
		}

		worksheet := worksheets[sheetIndex]
		result, err := s.write(ctx, service, worksheet, addresses)
		result.Name = worksheet.Title
		result.Created = created[sheetIndex]
		results = append(results, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", worksheet.Title, err))
		}
	}
	return results, errors.Join(errs...)
}

// Read returns the contents of every worksheet of the spreadsheet identified
// by locator. Sheet i of the result is the i-th worksheet.
func (s *Synchronizer) Read(ctx context.Context, creds Credentials, locator Locator) (Grid, error) {
	service, spreadsheet, err := s.open(ctx, creds, locator)
	if err != nil {
		return nil, err
	}

	worksheets, err := service.Worksheets(ctx, spreadsheet, "")
	if err != nil {
		s.reporter.Report(report.Error, err.Error())
		return nil, err
	}
	grid := make(Grid)
	for sheetIndex, worksheet := range worksheets {
		cells, err := service.Cells(ctx, worksheet)
		if err != nil {
			s.reporter.Report(report.Error, worksheet.Title+": "+err.Error())
			return nil, fmt.Errorf("%s: %w", worksheet.Title, err)
		}
		for _, cell := range cells {
			grid[Path{Sheet: sheetIndex, Row: cell.Row - 1, Col: cell.Col - 1}] = cell.Value
		}
	}
	return grid, nil
}

// open connects to the service and finds the spreadsheet identified by
// locator.
func (s *Synchronizer) open(ctx context.Context, creds Credentials, locator Locator) (Service, *Spreadsheet, error) {
	service, err := s.connect(ctx, creds)
	if err != nil {
		s.reporter.Report(report.Error, err.Error())
		return nil, nil, err
	}
	spreadsheet, err := service.FindSpreadsheet(ctx, locator)
	switch {
	case errors.Is(err, ErrSpreadsheetNotFound):
		s.logger.Warn("spreadsheet not found", zap.Stringer("locator", locator))
		s.reporter.Report(report.Warning, "No spreadsheet matches this title.")
		return nil, nil, err
	case err != nil:
		s.reporter.Report(report.Error, err.Error())
		return nil, nil, err
	}
	s.logger.Debug("found spreadsheet", zap.String("key", spreadsheet.Key), zap.String("title", spreadsheet.Title))
	return service, spreadsheet, nil
}

// worksheet returns the worksheet titled title, creating it if it does not
// exist.
func (s *Synchronizer) worksheet(ctx context.Context, service Service, spreadsheet *Spreadsheet, title string, addresses []CellAddress) (*Worksheet, bool, error) {
	worksheets, err := service.Worksheets(ctx, spreadsheet, title)
	if err != nil {
		return nil, false, err
	}
	for _, worksheet := range worksheets {
		if worksheet.Title == title {
			return worksheet, false, nil
		}
	}
	worksheet, err := s.insertWorksheet(ctx, service, spreadsheet, title, addresses)
	if err != nil {
		return nil, false, err
	}
	return worksheet, true, nil
}

// insertWorksheet creates a worksheet large enough to hold addresses.
func (s *Synchronizer) insertWorksheet(ctx context.Context, service Service, spreadsheet *Spreadsheet, title string, addresses []CellAddress) (*Worksheet, error) {
	rows, cols := s.rows, s.cols
	for _, address := range addresses {
		rows = max(rows, address.Row)
		cols = max(cols, address.Col)
	}
	worksheet, err := service.InsertWorksheet(ctx, spreadsheet, title, rows, cols)
	if err != nil {
		return nil, err
	}
	worksheetsCreated.Inc()
	s.logger.Info("created worksheet", zap.String("title", title), zap.Int("rows", rows), zap.Int("cols", cols))
	return worksheet, nil
}

// write writes addresses to worksheet with one batched query for the target
// cells followed by one batched update.
func (s *Synchronizer) write(ctx context.Context, service Service, worksheet *Worksheet, addresses []CellAddress) (SheetResult, error) {
	result := SheetResult{
		Worksheet: worksheet,
		Staged:    addresses,
	}
	if len(addresses) == 0 {
		result.OK = true
		return result, nil
	}

	query := make([]*CellEntry, 0, len(addresses))
	for _, address := range addresses {
		query = append(query, &CellEntry{
			Row: address.Row,
			Col: address.Col,
			Batch: BatchData{
				ID:        address.ID(),
				Operation: OperationQuery,
			},
		})
	}
	batches.Inc()
	queried, err := service.Batch(ctx, worksheet, query)
	if err != nil {
		s.reporter.Report(report.Error, worksheet.Title+": "+err.Error())
		return result, err
	}
	entriesByID := make(map[string]*CellEntry, len(queried))
	for _, entry := range queried {
		if _, ok := entriesByID[entry.Batch.ID]; ok {
			s.logger.Debug("duplicate batch id in query response",
				zap.String("worksheet", worksheet.Title),
				zap.String("cell", entry.Batch.ID),
			)
		}
		entriesByID[entry.Batch.ID] = entry
	}

	update := make([]*CellEntry, 0, len(addresses))
	for _, address := range addresses {
		entry, ok := entriesByID[address.ID()]
		if !ok {
			err := fmt.Errorf("%s: %w", address.ID(), ErrMissingCell)
			s.reporter.Report(report.Error, worksheet.Title+": "+err.Error())
			return result, err
		}
		staged := *entry
		staged.Row = address.Row
		staged.Col = address.Col
		staged.InputValue = address.Data
		staged.Batch = BatchData{
			ID:        address.ID(),
			Operation: OperationUpdate,
		}
		update = append(update, &staged)
	}
	batches.Inc()
	updated, err := service.Batch(ctx, worksheet, update)
	if err != nil {
		s.reporter.Report(report.Error, worksheet.Title+": "+err.Error())
		return result, err
	}

	// Every staged cell must be acknowledged. A cell without a response
	// entry counts as failed.
	responsesByID := make(map[string]BatchData, len(updated))
	for _, entry := range updated {
		responsesByID[entry.Batch.ID] = entry.Batch
	}
	for _, address := range addresses {
		response, ok := responsesByID[address.ID()]
		if !ok {
			response = BatchData{
				ID:        address.ID(),
				Operation: OperationUpdate,
				Reason:    "no response",
			}
		}
		if response.Status != http.StatusOK {
			result.Failed = append(result.Failed, response)
			s.logger.Debug("cell update failed",
				zap.String("worksheet", worksheet.Title),
				zap.String("cell", response.ID),
				zap.Int("status", response.Status),
				zap.String("reason", response.Reason),
			)
		}
	}
	cellUpdatesFailed.Add(float64(len(result.Failed)))
	cellsUpdated.Add(float64(len(addresses) - len(result.Failed)))

	result.OK = len(result.Failed) == 0
	if result.OK {
		s.reporter.Report(report.Remark, "Batch operations successful.")
	} else {
		s.logger.Warn("batch operations failed", zap.String("worksheet", worksheet.Title), zap.Int("failed", len(result.Failed)))
		s.reporter.Report(report.Remark, "Batch operations failed")
	}
	return result, nil
}
