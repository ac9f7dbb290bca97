package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tbcare/adherence-cli/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import dose observations (or episodes) from an export",
	Long: "Fetches a CSV, JSON or XLSX export from a path, http(s):// or ftp:// URL, " +
		"optionally zipped, validates every row and bulk inserts it. Nothing is written " +
		"when a row is malformed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		format, _ := cmd.Flags().GetString("format")
		charset, _ := cmd.Flags().GetString("charset")
		sheet, _ := cmd.Flags().GetString("sheet")
		skipRows, _ := cmd.Flags().GetInt("skip-rows")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		episodes, _ := cmd.Flags().GetBool("episodes")

		if charset == "" {
			charset = cfg.Import.Charset
		}
		opts := ingest.Options{
			Format:    ingest.Format(format),
			Charset:   charset,
			Sheet:     sheet,
			SkipRows:  skipRows,
			BatchSize: cfg.Import.BatchSize,
			DryRun:    dryRun,
		}

		var im *ingest.Importer
		if dryRun {
			im = ingest.New(newFetcher(), nil)
		} else {
			if err := cfg.Validate("import"); err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			im = ingest.New(newFetcher(), st)
		}

		var (
			res *ingest.Result
			err error
		)
		if episodes {
			res, err = im.ImportEpisodes(ctx, source, opts)
		} else {
			res, err = im.ImportObservations(ctx, source, opts)
		}
		if err != nil {
			return eris.Wrap(err, "import")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	importCmd.Flags().String("source", "", "export location: path, http(s):// or ftp:// URL (required)")
	importCmd.Flags().String("format", "", "export format: csv, json or xlsx (default from extension)")
	importCmd.Flags().String("charset", "", "character set of a CSV or JSON export (default from config, else UTF-8)")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().Int("skip-rows", 0, "XLSX rows above the header row")
	importCmd.Flags().Bool("dry-run", false, "validate rows without writing")
	importCmd.Flags().Bool("episodes", false, "the export holds episodes (id, person_id, schedule_id, schedule_start)")
	_ = importCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(importCmd)
}
