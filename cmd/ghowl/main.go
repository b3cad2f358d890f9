// Command ghowl looks up elevations and synchronizes tables with remote
// spreadsheets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ghowl/ghowl/internal/config"
	"github.com/ghowl/ghowl/report"
)

type app struct {
	configPath string
	verbose    bool
	logger     *zap.Logger
	config     *config.Config
	reporter   report.Reporter
}

// newRootCmd returns the root command. If logger is nil, a production logger
// is built from the configuration.
func newRootCmd(logger *zap.Logger) *cobra.Command {
	a := &app{
		logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "ghowl",
		Short: "Elevation lookups and spreadsheet synchronization",
		Long: `ghowl batches point elevation lookups against an HTTP elevation service,
optionally falling back to local EU-DEM tiles, and writes sparse tables of
values to the worksheets of remote spreadsheets.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(a.newElevateCmd())
	rootCmd.AddCommand(a.newSheetsCmd())
	return rootCmd
}

func (a *app) init(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.config = cfg

	if a.logger == nil {
		zapConfig := zap.NewProductionConfig()
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
		zapConfig.Level = level
		if a.verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		a.logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	a.reporter = report.NewLogReporter(a.logger)
	return nil
}

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
