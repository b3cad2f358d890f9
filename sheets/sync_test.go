package sheets

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghowl/ghowl/report"
)

// A fakeService is an in-memory Service that records the calls made to it.
type fakeService struct {
	calls       []string
	spreadsheet *Spreadsheet
	worksheets  []*Worksheet
	values      map[string]map[string]string
	updates     map[string][]*CellEntry
	failCells   map[string]int
	dropCells   []string
	dropUpdates []string
	// duplicateQuery repeats each query response entry.
	duplicateQuery bool
}

func newFakeService(worksheetTitles ...string) *fakeService {
	f := &fakeService{
		spreadsheet: &Spreadsheet{Key: "key", Title: "Title"},
		values:      make(map[string]map[string]string),
		updates:     make(map[string][]*CellEntry),
		failCells:   make(map[string]int),
	}
	for _, title := range worksheetTitles {
		f.worksheets = append(f.worksheets, &Worksheet{ID: title, Title: title, Rows: 20, Cols: 20})
	}
	return f
}

func (f *fakeService) connect(context.Context, Credentials) (Service, error) {
	return f, nil
}

func (f *fakeService) FindSpreadsheet(_ context.Context, locator Locator) (*Spreadsheet, error) {
	f.calls = append(f.calls, "FindSpreadsheet")
	if f.spreadsheet == nil {
		return nil, ErrSpreadsheetNotFound
	}
	return f.spreadsheet, nil
}

func (f *fakeService) Worksheets(_ context.Context, _ *Spreadsheet, title string) ([]*Worksheet, error) {
	f.calls = append(f.calls, "Worksheets")
	var worksheets []*Worksheet
	for _, worksheet := range f.worksheets {
		if title == "" || worksheet.Title == title {
			worksheets = append(worksheets, worksheet)
		}
	}
	return worksheets, nil
}

func (f *fakeService) InsertWorksheet(_ context.Context, _ *Spreadsheet, title string, rows, cols int) (*Worksheet, error) {
	f.calls = append(f.calls, "InsertWorksheet")
	worksheet := &Worksheet{ID: title, Title: title, Rows: rows, Cols: cols}
	f.worksheets = append(f.worksheets, worksheet)
	return worksheet, nil
}

func (f *fakeService) Cells(_ context.Context, worksheet *Worksheet) ([]*CellEntry, error) {
	f.calls = append(f.calls, "Cells")
	var cells []*CellEntry
	for row := 1; row <= worksheet.Rows; row++ {
		for col := 1; col <= worksheet.Cols; col++ {
			id := CellAddress{Row: row, Col: col}.ID()
			if value, ok := f.values[worksheet.Title][id]; ok {
				cells = append(cells, &CellEntry{ID: id, Row: row, Col: col, InputValue: value, Value: value})
			}
		}
	}
	return cells, nil
}

func (f *fakeService) Batch(_ context.Context, worksheet *Worksheet, entries []*CellEntry) ([]*CellEntry, error) {
	operation := entries[0].Batch.Operation
	f.calls = append(f.calls, "Batch:"+string(operation))
	responses := make([]*CellEntry, 0, len(entries))
	for _, entry := range entries {
		switch operation {
		case OperationQuery:
			if slices.Contains(f.dropCells, entry.Batch.ID) {
				continue
			}
			response := &CellEntry{
				ID:      worksheet.Title + "/" + entry.Batch.ID,
				EditURL: worksheet.Title + "/" + entry.Batch.ID + "/edit",
				Row:     entry.Row,
				Col:     entry.Col,
				Batch:   BatchData{ID: entry.Batch.ID, Operation: OperationQuery, Status: http.StatusOK},
			}
			responses = append(responses, response)
			if f.duplicateQuery {
				duplicate := *response
				responses = append(responses, &duplicate)
			}
		case OperationUpdate:
			f.updates[worksheet.Title] = append(f.updates[worksheet.Title], entry)
			if slices.Contains(f.dropUpdates, entry.Batch.ID) {
				continue
			}
			status := http.StatusOK
			if code, ok := f.failCells[entry.Batch.ID]; ok {
				status = code
			} else {
				if f.values[worksheet.Title] == nil {
					f.values[worksheet.Title] = make(map[string]string)
				}
				f.values[worksheet.Title][entry.Batch.ID] = entry.InputValue
			}
			response := *entry
			response.Batch.Status = status
			responses = append(responses, &response)
		}
	}
	return responses, nil
}

func TestSyncGrid(t *testing.T) {
	service := newFakeService("Sheet1")
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithReporter(collector),
	)

	created := testutil.ToFloat64(worksheetsCreated)
	results, err := synchronizer.SyncGrid(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"}, Grid{
		{Sheet: 0, Row: 0, Col: 0}: 1,
		{Sheet: 0, Row: 0, Col: 1}: 2,
		{Sheet: 0, Row: 1, Col: 0}: 3,
		{Sheet: 0, Row: 1, Col: 1}: 4,
		{Sheet: 1, Row: 0, Col: 0}: "x",
	})
	assert.NoError(t, err)

	assert.Equal(t, []string{
		"FindSpreadsheet",
		"Worksheets",
		"InsertWorksheet",
		"Batch:query",
		"Batch:update",
		"Batch:query",
		"Batch:update",
	}, service.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(worksheetsCreated)-created)

	assert.Equal(t, 2, len(results))
	assert.Equal(t, "Sheet1", results[0].Name)
	assert.False(t, results[0].Created)
	assert.Equal(t, []CellAddress{
		{Row: 1, Col: 1, Data: "1"},
		{Row: 1, Col: 2, Data: "2"},
		{Row: 2, Col: 1, Data: "3"},
		{Row: 2, Col: 2, Data: "4"},
	}, results[0].Staged)
	assert.True(t, results[0].OK)
	assert.Equal(t, "Sheet2", results[1].Name)
	assert.True(t, results[1].Created)
	assert.Equal(t, 20, results[1].Worksheet.Rows)
	assert.Equal(t, 20, results[1].Worksheet.Cols)

	assert.Equal(t, map[string]string{"R1C1": "1", "R1C2": "2", "R2C1": "3", "R2C2": "4"}, service.values["Sheet1"])
	assert.Equal(t, map[string]string{"R1C1": "x"}, service.values["Sheet2"])
	assert.Equal(t, 2, collector.Count(report.Remark))
}

func TestSyncGridSkipsTakenNames(t *testing.T) {
	service := newFakeService("Sheet2")
	synchronizer := NewSynchronizer(WithConnector(service.connect))

	results, err := synchronizer.SyncGrid(t.Context(), Credentials{AccessToken: "token"}, Locator{Key: "key"}, Grid{
		{Sheet: 1, Row: 0, Col: 0}: "a",
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(results))
	assert.Equal(t, "Sheet3", results[0].Name)
	assert.Equal(t, 2, len(service.worksheets))
}

func TestSyncGridFillerSize(t *testing.T) {
	service := newFakeService("Sheet1")
	synchronizer := NewSynchronizer(WithConnector(service.connect))

	results, err := synchronizer.SyncGrid(t.Context(), Credentials{AccessToken: "token"}, Locator{Key: "key"}, Grid{
		{Sheet: 2, Row: 29, Col: 0}: "deep",
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(results))
	assert.Equal(t, "Sheet3", results[0].Name)
	assert.True(t, results[0].OK)

	assert.Equal(t, 3, len(service.worksheets))
	filler := service.worksheets[1]
	assert.Equal(t, "Sheet2", filler.Title)
	assert.Equal(t, 20, filler.Rows)
	assert.Equal(t, 20, filler.Cols)
	assert.Equal(t, 30, service.worksheets[2].Rows)
	assert.Equal(t, 20, service.worksheets[2].Cols)
	assert.Equal(t, 0, len(service.updates["Sheet2"]))
}

func TestSyncNotFound(t *testing.T) {
	for _, tc := range []struct {
		name string
		run  func(*Synchronizer, context.Context) error
	}{
		{
			name: "sync",
			run: func(s *Synchronizer, ctx context.Context) error {
				_, err := s.Sync(ctx, Credentials{AccessToken: "token"}, Locator{Title: "Missing"}, []Sheet{
					{Name: "Sheet1", Data: Table{{Row: 0, Col: 0}: 1}},
				})
				return err
			},
		},
		{
			name: "sync_grid",
			run: func(s *Synchronizer, ctx context.Context) error {
				_, err := s.SyncGrid(ctx, Credentials{AccessToken: "token"}, Locator{Title: "Missing"}, Grid{{}: 1})
				return err
			},
		},
		{
			name: "read",
			run: func(s *Synchronizer, ctx context.Context) error {
				_, err := s.Read(ctx, Credentials{AccessToken: "token"}, Locator{Title: "Missing"})
				return err
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			service := newFakeService("Sheet1")
			service.spreadsheet = nil
			collector := &report.Collector{}
			synchronizer := NewSynchronizer(
				WithConnector(service.connect),
				WithReporter(collector),
			)

			err := tc.run(synchronizer, t.Context())
			assert.IsError(t, err, ErrSpreadsheetNotFound)
			assert.Equal(t, []string{"FindSpreadsheet"}, service.calls)
			assert.Equal(t, []report.Message{
				{Level: report.Warning, Text: "No spreadsheet matches this title."},
			}, collector.Messages())
		})
	}
}

func TestSyncFailedCell(t *testing.T) {
	service := newFakeService("Data")
	service.failCells["R2C1"] = http.StatusConflict
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithReporter(collector),
	)

	results, err := synchronizer.Sync(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"}, []Sheet{
		{
			Name: "Data",
			Data: TableFromRows([][]string{
				{"a", "b", "c"},
				{"d", "e"},
			}),
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(results))
	result := results[0]
	assert.False(t, result.OK)
	assert.Equal(t, 5, len(result.Staged))
	assert.Equal(t, 1, len(result.Failed))
	assert.Equal(t, "R2C1", result.Failed[0].ID)
	assert.Equal(t, http.StatusConflict, result.Failed[0].Status)
	assert.Equal(t, 5, len(service.updates["Data"]))
	assert.Equal(t, []report.Message{
		{Level: report.Remark, Text: "Batch operations failed"},
	}, collector.Messages())
}

func TestSyncUnacknowledgedCells(t *testing.T) {
	service := newFakeService("Data")
	service.dropUpdates = []string{"R1C2", "R1C3"}
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithReporter(collector),
	)

	failed := testutil.ToFloat64(cellUpdatesFailed)
	results, err := synchronizer.Sync(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"}, []Sheet{
		{Name: "Data", Data: TableFromRows([][]string{{"a", "b", "c"}})},
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(results))
	result := results[0]
	assert.False(t, result.OK)
	assert.Equal(t, 3, len(result.Staged))
	assert.Equal(t, []BatchData{
		{ID: "R1C2", Operation: OperationUpdate, Reason: "no response"},
		{ID: "R1C3", Operation: OperationUpdate, Reason: "no response"},
	}, result.Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(cellUpdatesFailed)-failed)
	assert.Equal(t, []report.Message{
		{Level: report.Remark, Text: "Batch operations failed"},
	}, collector.Messages())
}

func TestSyncDuplicateQueryEntries(t *testing.T) {
	service := newFakeService("Data")
	service.duplicateQuery = true
	core, logs := observer.New(zap.DebugLevel)
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithLogger(zap.New(core)),
	)

	results, err := synchronizer.Sync(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"}, []Sheet{
		{Name: "Data", Data: Table{{Row: 0, Col: 0}: "a", {Row: 1, Col: 0}: "b"}},
	})
	assert.NoError(t, err)
	assert.True(t, results[0].OK)
	assert.Equal(t, 2, len(service.updates["Data"]))

	duplicates := logs.FilterMessage("duplicate batch id in query response").All()
	assert.Equal(t, 2, len(duplicates))
	assert.Equal(t, "R1C1", duplicates[0].ContextMap()["cell"])
	assert.Equal(t, "Data", duplicates[0].ContextMap()["worksheet"])
}

func TestSync(t *testing.T) {
	service := newFakeService("Existing")
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithReporter(collector),
	)

	results, err := synchronizer.Sync(t.Context(), Credentials{AccessToken: "token"}, Locator{Key: "key"}, []Sheet{
		{Name: "Existing", Data: Table{{Row: 0, Col: 0}: 1.5}},
		{Name: "New", Data: Table{{Row: 24, Col: 2}: "far"}},
		{Name: "Empty", Data: Table{}},
	})
	assert.NoError(t, err)

	assert.Equal(t, 3, len(results))
	assert.Equal(t, "Existing", results[0].Name)
	assert.False(t, results[0].Created)
	assert.True(t, results[0].OK)
	assert.Equal(t, "New", results[1].Name)
	assert.True(t, results[1].Created)
	assert.Equal(t, 25, results[1].Worksheet.Rows)
	assert.Equal(t, 20, results[1].Worksheet.Cols)
	assert.True(t, results[2].Created)
	assert.True(t, results[2].OK)

	assert.Equal(t, map[string]string{"R1C1": "1.5"}, service.values["Existing"])
	assert.Equal(t, map[string]string{"R25C3": "far"}, service.values["New"])
	assert.Equal(t, 0, len(service.updates["Empty"]))
	assert.Equal(t, 2, collector.Count(report.Remark))

	// Each update reuses the identity returned by the query.
	update := service.updates["New"][0]
	assert.Equal(t, "New/R25C3", update.ID)
	assert.Equal(t, "New/R25C3/edit", update.EditURL)
	assert.Equal(t, OperationUpdate, update.Batch.Operation)
}

func TestSyncMissingCell(t *testing.T) {
	service := newFakeService("Data")
	service.dropCells = []string{"R1C2"}
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(service.connect),
		WithReporter(collector),
	)

	results, err := synchronizer.Sync(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"}, []Sheet{
		{Name: "Data", Data: Table{{Row: 0, Col: 0}: "a", {Row: 0, Col: 1}: "b"}},
	})
	assert.IsError(t, err, ErrMissingCell)
	assert.Equal(t, 1, len(results))
	assert.False(t, results[0].OK)
	assert.Equal(t, 0, len(service.updates["Data"]))
	assert.Equal(t, 1, collector.Count(report.Error))
}

func TestSyncConnectError(t *testing.T) {
	errConnect := errors.New("connect")
	collector := &report.Collector{}
	synchronizer := NewSynchronizer(
		WithConnector(func(context.Context, Credentials) (Service, error) {
			return nil, errConnect
		}),
		WithReporter(collector),
	)
	_, err := synchronizer.Sync(t.Context(), Credentials{}, Locator{Title: "Title"}, nil)
	assert.IsError(t, err, errConnect)
	assert.Equal(t, 1, collector.Count(report.Error))
}

func TestRead(t *testing.T) {
	service := newFakeService("First", "Second")
	service.values["First"] = map[string]string{"R1C1": "a", "R2C3": "b"}
	service.values["Second"] = map[string]string{"R4C1": "c"}
	synchronizer := NewSynchronizer(WithConnector(service.connect))

	grid, err := synchronizer.Read(t.Context(), Credentials{AccessToken: "token"}, Locator{Title: "Title"})
	assert.NoError(t, err)
	assert.Equal(t, Grid{
		{Sheet: 0, Row: 0, Col: 0}: "a",
		{Sheet: 0, Row: 1, Col: 2}: "b",
		{Sheet: 1, Row: 3, Col: 0}: "c",
	}, grid)
}
