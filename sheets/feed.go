package sheets

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the base URL of the spreadsheet feeds.
const DefaultBaseURL = "https://spreadsheets.google.com/feeds"

// A FeedClient is a Service that speaks the Atom-based spreadsheet feed
// protocol.
type FeedClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// A FeedOption sets an option on a FeedClient.
type FeedOption func(*FeedClient)

// NewFeedClient returns a new FeedClient that authorizes its requests with
// creds.
func NewFeedClient(ctx context.Context, creds Credentials, options ...FeedOption) (*FeedClient, error) {
	c := &FeedClient{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}

	tokenSource, err := creds.tokenSource()
	if err != nil {
		return nil, err
	}
	base := c.httpClient
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	c.httpClient = oauth2.NewClient(ctx, tokenSource)
	c.httpClient.Timeout = base.Timeout
	return c, nil
}

// FeedConnector returns a Connector that returns FeedClients with options.
func FeedConnector(options ...FeedOption) Connector {
	return func(ctx context.Context, creds Credentials) (Service, error) {
		return NewFeedClient(ctx, creds, options...)
	}
}

func WithFeedBaseURL(baseURL string) FeedOption {
	return func(c *FeedClient) {
		c.baseURL = baseURL
	}
}

// WithFeedHTTPClient sets the HTTP client that carries authorized requests.
func WithFeedHTTPClient(httpClient *http.Client) FeedOption {
	return func(c *FeedClient) {
		c.httpClient = httpClient
	}
}

func WithFeedLogger(logger *zap.Logger) FeedOption {
	return func(c *FeedClient) {
		c.logger = logger
	}
}

// FindSpreadsheet implements Service.FindSpreadsheet.
func (c *FeedClient) FindSpreadsheet(ctx context.Context, locator Locator) (*Spreadsheet, error) {
	if locator.Key != "" {
		worksheetsURL := c.baseURL + "/worksheets/" + url.PathEscape(locator.Key) + "/private/full"
		var feed atomFeed
		var statusErr *StatusError
		switch err := c.do(ctx, "find spreadsheet", http.MethodGet, worksheetsURL, nil, http.StatusOK, &feed); {
		case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
			return nil, ErrSpreadsheetNotFound
		case err != nil:
			return nil, err
		}
		return &Spreadsheet{
			ID:            feed.ID,
			Key:           locator.Key,
			Title:         feed.Title,
			WorksheetsURL: worksheetsURL,
		}, nil
	}

	spreadsheetsURL := c.baseURL + "/spreadsheets/private/full?" + url.Values{
		"title":       []string{locator.Title},
		"title-exact": []string{"true"},
	}.Encode()
	var feed atomFeed
	if err := c.do(ctx, "find spreadsheet", http.MethodGet, spreadsheetsURL, nil, http.StatusOK, &feed); err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 {
		return nil, ErrSpreadsheetNotFound
	}
	return feed.Entries[0].spreadsheet(), nil
}

// Worksheets implements Service.Worksheets.
func (c *FeedClient) Worksheets(ctx context.Context, spreadsheet *Spreadsheet, title string) ([]*Worksheet, error) {
	worksheetsURL := spreadsheet.WorksheetsURL
	if title != "" {
		worksheetsURL += "?" + url.Values{
			"title":       []string{title},
			"title-exact": []string{"true"},
		}.Encode()
	}
	var feed atomFeed
	if err := c.do(ctx, "list worksheets", http.MethodGet, worksheetsURL, nil, http.StatusOK, &feed); err != nil {
		return nil, err
	}
	worksheets := make([]*Worksheet, 0, len(feed.Entries))
	for i := range feed.Entries {
		worksheets = append(worksheets, feed.Entries[i].worksheet())
	}
	return worksheets, nil
}

// InsertWorksheet implements Service.InsertWorksheet.
func (c *FeedClient) InsertWorksheet(ctx context.Context, spreadsheet *Spreadsheet, title string, rows, cols int) (*Worksheet, error) {
	request := &atomEntry{
		Title:    title,
		RowCount: rows,
		ColCount: cols,
	}
	var response atomEntry
	if err := c.do(ctx, "insert worksheet", http.MethodPost, spreadsheet.WorksheetsURL, request, http.StatusCreated, &response); err != nil {
		return nil, err
	}
	return response.worksheet(), nil
}

// Cells implements Service.Cells.
func (c *FeedClient) Cells(ctx context.Context, worksheet *Worksheet) ([]*CellEntry, error) {
	var feed atomFeed
	if err := c.do(ctx, "list cells", http.MethodGet, worksheet.CellsURL, nil, http.StatusOK, &feed); err != nil {
		return nil, err
	}
	cells := make([]*CellEntry, 0, len(feed.Entries))
	for i := range feed.Entries {
		cells = append(cells, feed.Entries[i].cellEntry())
	}
	return cells, nil
}

// Batch implements Service.Batch.
func (c *FeedClient) Batch(ctx context.Context, worksheet *Worksheet, entries []*CellEntry) ([]*CellEntry, error) {
	request := &atomFeed{
		Entries: make([]atomEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		request.Entries = append(request.Entries, newBatchEntry(worksheet.CellsURL, entry))
	}
	var response atomFeed
	if err := c.do(ctx, "batch", http.MethodPost, worksheet.CellsURL+"/batch", request, http.StatusOK, &response); err != nil {
		return nil, err
	}
	results := make([]*CellEntry, 0, len(response.Entries))
	for i := range response.Entries {
		results = append(results, response.Entries[i].cellEntry())
	}
	return results, nil
}

// do sends a request with the XML encoding of body, if any, and decodes the
// response into result.
func (c *FeedClient) do(ctx context.Context, op, method, rawURL string, body any, expectedStatusCode int, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := xml.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("GData-Version", "3.0")
	if body != nil {
		req.Header.Set("Content-Type", atomContentType)
		req.Header.Set("If-Match", "*")
	}

	c.logger.Debug(op, zap.String("method", method), zap.String("url", rawURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatusCode {
		return &StatusError{
			Op:     op,
			Code:   resp.StatusCode,
			Status: resp.Status,
		}
	}

	if err := xml.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
