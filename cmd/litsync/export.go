package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/app"
	"github.com/helixir/literature-sync-service/internal/repository"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the record store as CSV",
	Long: `Export writes every record as CSV with the columns title, authors, journal,
publish_date, article_type, pmid, main_findings, num_references and abstract.
Without --out the file is named literature_export_YYYYMMDD.csv; use --out -
for stdout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")
		filter := repository.RecordFilter{}
		filter.Search, _ = cmd.Flags().GetString("search")
		filter.ArticleType, _ = cmd.Flags().GetString("type")
		filter.Year, _ = cmd.Flags().GetInt("year")

		return withApp(cmd, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				if out == "" {
					out = fmt.Sprintf("literature_export_%s.csv", time.Now().UTC().Format("20060102"))
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				w = f
			}

			rows, err := a.Service.ExportCSV(ctx, w, filter)
			if err != nil {
				return fmt.Errorf("export csv: %w", err)
			}
			logger.Info().Int("rows", rows).Str("out", out).Msg("export written")
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file, or - for stdout")
	exportCmd.Flags().String("search", "", "only records whose title or abstract match")
	exportCmd.Flags().String("type", "", "only records of this article type")
	exportCmd.Flags().Int("year", 0, "only records published in this year")
	rootCmd.AddCommand(exportCmd)
}
