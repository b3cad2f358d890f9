package main

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ghowl/ghowl/sheets"
)

type sheetsFlags struct {
	key   string
	title string
	token string
}

func (f *sheetsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "Spreadsheet key")
	cmd.Flags().StringVar(&f.title, "title", "", "Spreadsheet title, ignored if --key is given")
	cmd.Flags().StringVar(&f.token, "token", "", "OAuth2 access token (or set GHOWL_SHEETS_TOKEN)")
	cmd.MarkFlagsOneRequired("key", "title")
}

func (f *sheetsFlags) locator() sheets.Locator {
	return sheets.Locator{
		Key:   f.key,
		Title: f.title,
	}
}

func (a *app) newSheetsCmd() *cobra.Command {
	sheetsCmd := &cobra.Command{
		Use:   "sheets",
		Short: "Synchronize tables with remote spreadsheets",
	}
	sheetsCmd.AddCommand(a.newSheetsWriteCmd())
	sheetsCmd.AddCommand(a.newSheetsWriteGridCmd())
	sheetsCmd.AddCommand(a.newSheetsReadCmd())
	return sheetsCmd
}

func (a *app) newSheetsWriteCmd() *cobra.Command {
	var (
		flags      sheetsFlags
		sheetFlags []string
	)
	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Write CSV files to the worksheets with the same names",
		Example: `  ghowl sheets write --title Survey --sheet Points=points.csv --sheet Heights=heights.csv
  ghowl sheets write --key 0Aq3x --sheet points.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sheetList, err := parseSheetFlags(sheetFlags)
			if err != nil {
				return err
			}
			results, err := a.synchronizer().Sync(cmd.Context(), a.credentials(flags), flags.locator(), sheetList)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	flags.register(writeCmd)
	writeCmd.Flags().StringArrayVar(&sheetFlags, "sheet", nil, "Sheet to write as Name=file.csv, repeatable")
	_ = writeCmd.MarkFlagRequired("sheet")
	return writeCmd
}

func (a *app) newSheetsWriteGridCmd() *cobra.Command {
	var (
		flags sheetsFlags
		input string
	)
	writeGridCmd := &cobra.Command{
		Use:   "write-grid",
		Short: "Write a sheet,row,col,value CSV file to worksheets by position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(input)
			if err != nil {
				return err
			}
			defer file.Close()
			grid, err := readGrid(file)
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			results, err := a.synchronizer().SyncGrid(cmd.Context(), a.credentials(flags), flags.locator(), grid)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	flags.register(writeGridCmd)
	writeGridCmd.Flags().StringVarP(&input, "input", "i", "", "CSV file of sheet,row,col,value records")
	_ = writeGridCmd.MarkFlagRequired("input")
	return writeGridCmd
}

func (a *app) newSheetsReadCmd() *cobra.Command {
	var flags sheetsFlags
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Print every cell of a spreadsheet as sheet,row,col,value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			grid, err := a.synchronizer().Read(cmd.Context(), a.credentials(flags), flags.locator())
			if err != nil {
				return err
			}
			return writeGrid(cmd.OutOrStdout(), grid)
		},
	}
	flags.register(readCmd)
	return readCmd
}

func (a *app) credentials(flags sheetsFlags) sheets.Credentials {
	return sheets.Credentials{
		AccessToken: cmp.Or(flags.token, a.config.Sheets.Token),
	}
}

func (a *app) synchronizer() *sheets.Synchronizer {
	cfg := a.config.Sheets
	return sheets.NewSynchronizer(
		sheets.WithConnector(sheets.FeedConnector(
			sheets.WithFeedBaseURL(cfg.BaseURL),
			sheets.WithFeedHTTPClient(&http.Client{
				Timeout: a.config.GetSheetsTimeout(),
			}),
			sheets.WithFeedLogger(a.logger),
		)),
		sheets.WithWorksheetSize(cfg.WorksheetRows, cfg.WorksheetCols),
		sheets.WithLogger(a.logger),
		sheets.WithReporter(a.reporter),
	)
}

func printResults(w io.Writer, results []sheets.SheetResult) {
	for _, result := range results {
		status := "ok"
		if !result.OK {
			status = "failed"
		}
		created := ""
		if result.Created {
			created = " (created)"
		}
		fmt.Fprintf(w, "%s%s: %d cells staged, %d failed, %s\n", result.Name, created, len(result.Staged), len(result.Failed), status)
	}
}

func writeGrid(w io.Writer, grid sheets.Grid) error {
	paths := make([]sheets.Path, 0, len(grid))
	for path := range grid {
		paths = append(paths, path)
	}
	slices.SortFunc(paths, func(a, b sheets.Path) int {
		return cmp.Or(cmp.Compare(a.Sheet, b.Sheet), cmp.Compare(a.Row, b.Row), cmp.Compare(a.Col, b.Col))
	})

	csvWriter := csv.NewWriter(w)
	for _, path := range paths {
		if err := csvWriter.Write([]string{
			strconv.Itoa(path.Sheet),
			strconv.Itoa(path.Row),
			strconv.Itoa(path.Col),
			fmt.Sprint(grid[path]),
		}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
