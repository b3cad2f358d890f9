// Package config loads the ghowl configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghowl/ghowl/elevation"
	"github.com/ghowl/ghowl/sheets"
)

// DefaultPath is the configuration file read when no other is given.
const DefaultPath = "ghowl.yaml"

// Config holds all ghowl configuration.
type Config struct {
	Elevation ElevationConfig `yaml:"elevation"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ElevationConfig configures the elevation client.
type ElevationConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	MaxURLLength      int     `yaml:"max_url_length"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables the limit
	CacheSize         int     `yaml:"cache_size"`
	Timeout           string  `yaml:"timeout"`
	SourceCRS         string  `yaml:"source_crs"` // e.g. epsg:3857, empty for lon/lat
	DropFailed        bool    `yaml:"drop_failed"`
	DEMPath           string  `yaml:"dem_path"` // directory of EU-DEM tiles used as a fallback
}

// SheetsConfig configures the spreadsheet synchronizer.
type SheetsConfig struct {
	BaseURL       string `yaml:"base_url"`
	WorksheetRows int    `yaml:"worksheet_rows"`
	WorksheetCols int    `yaml:"worksheet_cols"`
	Timeout       string `yaml:"timeout"`
	Token         string `yaml:"token"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Elevation: ElevationConfig{
			BaseURL:      elevation.DefaultBaseURL,
			MaxURLLength: elevation.DefaultMaxURLLength,
			Timeout:      "30s",
		},
		Sheets: SheetsConfig{
			BaseURL:       sheets.DefaultBaseURL,
			WorksheetRows: sheets.DefaultWorksheetRows,
			WorksheetCols: sheets.DefaultWorksheetCols,
			Timeout:       "60s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. Missing files yield the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg's values are usable.
func (c *Config) Validate() error {
	if c.Elevation.MaxURLLength <= 0 {
		return fmt.Errorf("elevation.max_url_length: must be positive, got %d", c.Elevation.MaxURLLength)
	}
	if c.Elevation.RequestsPerSecond < 0 {
		return fmt.Errorf("elevation.requests_per_second: must not be negative, got %g", c.Elevation.RequestsPerSecond)
	}
	if c.Sheets.WorksheetRows <= 0 || c.Sheets.WorksheetCols <= 0 {
		return fmt.Errorf("sheets: worksheet size must be positive, got %dx%d", c.Sheets.WorksheetRows, c.Sheets.WorksheetCols)
	}
	for name, timeout := range map[string]string{
		"elevation.timeout": c.Elevation.Timeout,
		"sheets.timeout":    c.Sheets.Timeout,
	} {
		if timeout == "" {
			continue
		}
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GHOWL_ELEVATION_API_KEY"); key != "" {
		c.Elevation.APIKey = key
	}
	if token := os.Getenv("GHOWL_SHEETS_TOKEN"); token != "" {
		c.Sheets.Token = token
	}
	if path := os.Getenv("GHOWL_DEM_PATH"); path != "" {
		c.Elevation.DEMPath = path
	}
}

// GetElevationTimeout returns the elevation request timeout as a duration.
func (c *Config) GetElevationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Elevation.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSheetsTimeout returns the spreadsheet request timeout as a duration.
func (c *Config) GetSheetsTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sheets.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
