package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ghowl/ghowl/elevation"
	"github.com/ghowl/ghowl/elevation/dem"
)

func (a *app) newElevateCmd() *cobra.Command {
	var (
		input   string
		apiKey  string
		demPath string
	)

	elevateCmd := &cobra.Command{
		Use:   "elevate [lon,lat ...]",
		Short: "Look up the elevations of points",
		Long: `Look up the elevations of points given as lon,lat arguments or read from a
CSV file. One elevation is printed per line in input order. Points whose
elevation could not be found are printed as NaN.`,
		Example: `  ghowl elevate 6.8652,45.8326
  ghowl elevate --input points.csv --dem /data/eu_dem`,
		RunE: func(cmd *cobra.Command, args []string) error {
			points := make([]elevation.Point, 0, len(args))
			for _, arg := range args {
				point, err := parsePoint(arg)
				if err != nil {
					return err
				}
				points = append(points, point)
			}
			if input != "" {
				file, err := os.Open(input)
				if err != nil {
					return err
				}
				defer file.Close()
				inputPoints, err := readPoints(file)
				if err != nil {
					return fmt.Errorf("%s: %w", input, err)
				}
				points = append(points, inputPoints...)
			}
			if len(points) == 0 {
				return errors.New("no points given")
			}

			if apiKey != "" {
				a.config.Elevation.APIKey = apiKey
			}
			if demPath != "" {
				a.config.Elevation.DEMPath = demPath
			}
			return a.runElevate(cmd, points)
		},
	}

	elevateCmd.Flags().StringVarP(&input, "input", "i", "", "CSV file of lon,lat points")
	elevateCmd.Flags().StringVar(&apiKey, "api-key", "", "Elevation service API key (or set GHOWL_ELEVATION_API_KEY)")
	elevateCmd.Flags().StringVar(&demPath, "dem", "", "Directory of EU-DEM tiles used when requests fail (or set GHOWL_DEM_PATH)")
	return elevateCmd
}

func (a *app) runElevate(cmd *cobra.Command, points []elevation.Point) error {
	cfg := a.config.Elevation
	options := []elevation.ClientOption{
		elevation.WithBaseURL(cfg.BaseURL),
		elevation.WithAPIKey(cfg.APIKey),
		elevation.WithMaxURLLength(cfg.MaxURLLength),
		elevation.WithRateLimit(cfg.RequestsPerSecond),
		elevation.WithCacheSize(cfg.CacheSize),
		elevation.WithHTTPClient(&http.Client{
			Timeout: a.config.GetElevationTimeout(),
		}),
		elevation.WithLogger(a.logger),
		elevation.WithReporter(a.reporter),
	}
	if cfg.SourceCRS != "" {
		options = append(options, elevation.WithSourceCRS(cfg.SourceCRS))
	}
	if cfg.DropFailed {
		options = append(options, elevation.WithDropFailedBatches())
	}
	if cfg.DEMPath != "" {
		demService, err := dem.NewService(os.DirFS(cfg.DEMPath))
		if err != nil {
			return fmt.Errorf("%s: %w", cfg.DEMPath, err)
		}
		defer demService.Close()
		options = append(options, elevation.WithFallback(demService))
	}

	client, err := elevation.NewClient(options...)
	if err != nil {
		return err
	}

	elevations, err := client.Elevate(cmd.Context(), points)
	var partialErr *elevation.PartialError
	switch {
	case errors.As(err, &partialErr):
		a.logger.Warn("partial failure", zap.Int("failedBatches", len(partialErr.Batches)))
		defer fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d points failed in %d batches\n",
			len(partialErr.FailedIndexes()), len(points), len(partialErr.Batches))
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	for _, e := range elevations {
		fmt.Fprintln(out, strconv.FormatFloat(e, 'f', -1, 64))
	}
	return nil
}
