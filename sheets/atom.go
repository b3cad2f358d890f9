package sheets

import (
	"encoding/xml"
	"path"
)

const (
	nsAtom  = "http://www.w3.org/2005/Atom"
	nsGS    = "http://schemas.google.com/spreadsheets/2006"
	nsBatch = "http://schemas.google.com/gdata/batch"

	relWorksheetsFeed = nsGS + "#worksheetsfeed"
	relCellsFeed      = nsGS + "#cellsfeed"
	relEdit           = "edit"

	atomContentType = "application/atom+xml"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string      `xml:"http://www.w3.org/2005/Atom id,omitempty"`
	Title   string      `xml:"http://www.w3.org/2005/Atom title,omitempty"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	XMLName        xml.Name        `xml:"http://www.w3.org/2005/Atom entry"`
	ID             string          `xml:"http://www.w3.org/2005/Atom id,omitempty"`
	Title          string          `xml:"http://www.w3.org/2005/Atom title,omitempty"`
	Links          []atomLink      `xml:"http://www.w3.org/2005/Atom link"`
	RowCount       int             `xml:"http://schemas.google.com/spreadsheets/2006 rowCount,omitempty"`
	ColCount       int             `xml:"http://schemas.google.com/spreadsheets/2006 colCount,omitempty"`
	Cell           *gsCell         `xml:"http://schemas.google.com/spreadsheets/2006 cell"`
	BatchID        string          `xml:"http://schemas.google.com/gdata/batch id,omitempty"`
	BatchOperation *batchOperation `xml:"http://schemas.google.com/gdata/batch operation"`
	BatchStatus    *batchStatus    `xml:"http://schemas.google.com/gdata/batch status"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr,omitempty"`
	Href string `xml:"href,attr"`
}

type gsCell struct {
	Row        int    `xml:"row,attr"`
	Col        int    `xml:"col,attr"`
	InputValue string `xml:"inputValue,attr"`
	Value      string `xml:",chardata"`
}

type batchOperation struct {
	Type Operation `xml:"type,attr"`
}

type batchStatus struct {
	Code   int    `xml:"code,attr"`
	Reason string `xml:"reason,attr,omitempty"`
}

// link returns the href of e's first link with relation rel.
func (e *atomEntry) link(rel string) string {
	for _, link := range e.Links {
		if link.Rel == rel {
			return link.Href
		}
	}
	return ""
}

func (e *atomEntry) spreadsheet() *Spreadsheet {
	return &Spreadsheet{
		ID:            e.ID,
		Key:           path.Base(e.ID),
		Title:         e.Title,
		WorksheetsURL: e.link(relWorksheetsFeed),
	}
}

func (e *atomEntry) worksheet() *Worksheet {
	return &Worksheet{
		ID:       e.ID,
		Title:    e.Title,
		Rows:     e.RowCount,
		Cols:     e.ColCount,
		CellsURL: e.link(relCellsFeed),
	}
}

func (e *atomEntry) cellEntry() *CellEntry {
	entry := &CellEntry{
		ID:      e.ID,
		EditURL: e.link(relEdit),
		Batch: BatchData{
			ID: e.BatchID,
		},
	}
	if e.Cell != nil {
		entry.Row = e.Cell.Row
		entry.Col = e.Cell.Col
		entry.InputValue = e.Cell.InputValue
		entry.Value = e.Cell.Value
	}
	if e.BatchOperation != nil {
		entry.Batch.Operation = e.BatchOperation.Type
	}
	if e.BatchStatus != nil {
		entry.Batch.Status = e.BatchStatus.Code
		entry.Batch.Reason = e.BatchStatus.Reason
	}
	return entry
}

// newBatchEntry returns the request entry for entry. Queries are addressed
// by the cell's URL in cellsURL. Updates carry the cell's edit link.
func newBatchEntry(cellsURL string, entry *CellEntry) atomEntry {
	e := atomEntry{
		ID:      entry.ID,
		BatchID: entry.Batch.ID,
		BatchOperation: &batchOperation{
			Type: entry.Batch.Operation,
		},
	}
	switch entry.Batch.Operation {
	case OperationQuery:
		if e.ID == "" {
			e.ID = cellsURL + "/" + CellAddress{Row: entry.Row, Col: entry.Col}.ID()
		}
	case OperationUpdate:
		if entry.EditURL != "" {
			e.Links = []atomLink{{Rel: relEdit, Type: atomContentType, Href: entry.EditURL}}
		}
		e.Cell = &gsCell{
			Row:        entry.Row,
			Col:        entry.Col,
			InputValue: entry.InputValue,
		}
	}
	return e
}
