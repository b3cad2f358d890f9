package elevation

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twpayne/go-proj/v11"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ghowl/ghowl/report"
)

var (
	requests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_requests_total",
		Help: "The total number of batch requests sent to the elevation service",
	})
	failedBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_failed_batches_total",
		Help: "The total number of batch requests that failed",
	})
	pointsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_points_requested_total",
		Help: "The total number of points sent to the elevation service",
	})
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_cache_hits_total",
		Help: "The total number of hits on the elevation cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_cache_misses_total",
		Help: "The total number of misses on the elevation cache",
	})
	fallbackPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghowl_elevation_fallback_points_total",
		Help: "The total number of points served by the fallback elevator",
	})
)

// A Client is an Elevator backed by an HTTP elevation service that returns
// XML.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	maxURLLength int
	cacheSize    int
	cache        *lru.Cache[Point, float64]
	limiter      *rate.Limiter
	sourceCRS    string
	pj           *proj.PJ
	fallback     Elevator
	dropFailed   bool
	logger       *zap.Logger
	reporter     report.Reporter
	batcher      *batcher
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

// NewClient returns a new Client with the given options.
func NewClient(options ...ClientOption) (*Client, error) {
	c := &Client{
		httpClient:   http.DefaultClient,
		baseURL:      DefaultBaseURL,
		maxURLLength: DefaultMaxURLLength,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		logger:       zap.NewNop(),
		reporter:     report.Discard,
	}
	for _, option := range options {
		option(c)
	}

	if c.cacheSize > 0 {
		var err error
		c.cache, err = lru.New[Point, float64](c.cacheSize)
		if err != nil {
			return nil, err
		}
	}

	if c.sourceCRS != "" {
		var err error
		c.pj, err = proj.NewCRSToCRS(c.sourceCRS, "epsg:4326", nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.sourceCRS, err)
		}
	}

	c.batcher = newBatcher(c.baseURL, c.apiKey, c.maxURLLength)
	return c, nil
}

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithCacheSize enables a cache of the elevations of the most recently
// requested cacheSize points.
func WithCacheSize(cacheSize int) ClientOption {
	return func(c *Client) {
		c.cacheSize = cacheSize
	}
}

// WithDropFailedBatches removes the points of failed batches from the result
// instead of filling them. The result is then no longer aligned with the
// input.
func WithDropFailedBatches() ClientOption {
	return func(c *Client) {
		c.dropFailed = true
	}
}

// WithFallback sets an Elevator used for the points of failed batches.
func WithFallback(fallback Elevator) ClientOption {
	return func(c *Client) {
		c.fallback = fallback
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMaxURLLength(maxURLLength int) ClientOption {
	return func(c *Client) {
		c.maxURLLength = maxURLLength
	}
}

// WithRateLimit limits the client to requestsPerSecond batch requests.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		}
	}
}

func WithReporter(reporter report.Reporter) ClientOption {
	return func(c *Client) {
		c.reporter = reporter
	}
}

// WithSourceCRS sets the CRS of the points passed to Elevate. Points are
// transformed to EPSG:4326 before they are sent.
func WithSourceCRS(sourceCRS string) ClientOption {
	return func(c *Client) {
		c.sourceCRS = sourceCRS
	}
}

// Batches returns the batches that would be sent for points, ignoring the
// cache.
func (c *Client) Batches(points []Point) []Batch {
	indexes := make([]int, len(points))
	for i := range indexes {
		indexes[i] = i
	}
	return c.batcher.split(points, indexes)
}

// Elevate returns the elevations of points. Batches are sent one at a time.
// If a batch fails, the failure is reported and the remaining batches are
// still sent. The elevations of the points in failed batches are taken from
// the fallback Elevator if there is one, or are NaN otherwise, and a
// *PartialError is returned together with the elevations.
func (c *Client) Elevate(ctx context.Context, points []Point) ([]float64, error) {
	if len(points) == 0 {
		return []float64{}, nil
	}

	points, err := c.transform(points)
	if err != nil {
		return nil, err
	}

	elevations := make([]float64, len(points))
	pending := make([]int, 0, len(points))
	for index, point := range points {
		if c.cache != nil {
			if elevation, ok := c.cache.Get(point); ok {
				cacheHits.Inc()
				elevations[index] = elevation
				continue
			}
			cacheMisses.Inc()
		}
		pending = append(pending, index)
	}

	var batchErrs []*BatchError
	for _, batch := range c.batcher.split(points, pending) {
		batchElevations, err := c.fetch(ctx, batch)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			failedBatches.Inc()
			c.logger.Warn("batch failed", zap.Int("points", len(batch.Indexes)), zap.Error(err))
			c.reporter.Report(report.Error, "Exception: "+err.Error())
			for _, index := range batch.Indexes {
				elevations[index] = math.NaN()
			}
			batchErrs = append(batchErrs, &BatchError{Indexes: batch.Indexes, Err: err})
			continue
		}
		for i, index := range batch.Indexes {
			elevations[index] = batchElevations[i]
			if c.cache != nil {
				c.cache.Add(points[index], batchElevations[i])
			}
		}
	}

	if len(batchErrs) == 0 {
		return elevations, nil
	}

	if c.dropFailed {
		failed := make(map[int]struct{})
		for _, batchErr := range batchErrs {
			for _, index := range batchErr.Indexes {
				failed[index] = struct{}{}
			}
		}
		kept := make([]float64, 0, len(elevations)-len(failed))
		for index, elevation := range elevations {
			if _, ok := failed[index]; !ok {
				kept = append(kept, elevation)
			}
		}
		return kept, &PartialError{Batches: batchErrs}
	}

	if c.fallback != nil {
		batchErrs = c.elevateFallback(ctx, points, elevations, batchErrs)
		if len(batchErrs) == 0 {
			return elevations, nil
		}
	}

	return elevations, &PartialError{Batches: batchErrs}
}

// elevateFallback fills the elevations of the points in batchErrs from
// c.fallback. It returns the batch errors that could not be recovered.
func (c *Client) elevateFallback(ctx context.Context, points []Point, elevations []float64, batchErrs []*BatchError) []*BatchError {
	var remaining []*BatchError
	for _, batchErr := range batchErrs {
		batchPoints := make([]Point, len(batchErr.Indexes))
		for i, index := range batchErr.Indexes {
			batchPoints[i] = points[index]
		}
		fallbackElevations, err := c.fallback.Elevate(ctx, batchPoints)
		if err != nil || len(fallbackElevations) != len(batchPoints) {
			if err == nil {
				err = ErrResponseCount
			}
			c.reporter.Report(report.Error, "Fallback: "+err.Error())
			remaining = append(remaining, batchErr)
			continue
		}
		// The fallback returns NaN for points it has no data for. Those
		// points stay failed.
		var missing []int
		for i, index := range batchErr.Indexes {
			if math.IsNaN(fallbackElevations[i]) {
				missing = append(missing, index)
				continue
			}
			elevations[index] = fallbackElevations[i]
		}
		if recovered := len(batchPoints) - len(missing); recovered > 0 {
			fallbackPoints.Add(float64(recovered))
			c.reporter.Report(report.Warning, strconv.Itoa(recovered)+" elevations taken from fallback")
		}
		if len(missing) > 0 {
			c.reporter.Report(report.Error, "Fallback: "+strconv.Itoa(len(missing))+" elevations missing")
			remaining = append(remaining, &BatchError{
				Indexes: missing,
				Err:     batchErr.Err,
			})
		}
	}
	return remaining
}

// fetch sends batch and returns its elevations.
func (c *Client) fetch(ctx context.Context, batch Batch) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, batch.URL, nil)
	if err != nil {
		return nil, err
	}
	requests.Inc()
	pointsRequested.Add(float64(len(batch.Indexes)))
	c.logger.Debug("requesting elevations", zap.Int("points", len(batch.Indexes)), zap.Int("urlLength", len(batch.URL)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %w", resp.Status, ErrHTTPStatus)
	}

	r, err := parseResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	for _, status := range r.statuses {
		c.reporter.Report(report.Remark, "API Status "+status)
	}
	if status := r.status(); status != "" && status != "OK" {
		return nil, &StatusError{Status: status}
	}
	if len(r.elevations) != len(batch.Indexes) {
		return nil, fmt.Errorf("got %d elevations for %d locations: %w", len(r.elevations), len(batch.Indexes), ErrResponseCount)
	}
	return r.elevations, nil
}

// transform returns points transformed from c's source CRS into EPSG:4326.
func (c *Client) transform(points []Point) ([]Point, error) {
	if c.pj == nil {
		return points, nil
	}
	coords := make([][]float64, len(points))
	for i, point := range points {
		coords[i] = []float64{point.X, point.Y}
	}
	if err := c.pj.ForwardFloat64Slices(coords); err != nil {
		return nil, err
	}
	// EPSG:4326 has latitude first.
	transformed := make([]Point, len(coords))
	for i, coord := range coords {
		transformed[i] = Point{X: coord[1], Y: coord[0]}
	}
	return transformed, nil
}
