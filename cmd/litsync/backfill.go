package main

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/app"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Annotate records whose summaries are pending or unavailable",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
			result, err := a.Service.Backfill(ctx, limit)
			if errors.Is(err, annotation.ErrDisabled) {
				return fmt.Errorf("annotation is off; set LITSYNC_ANNOTATION_MODE to sync or async")
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return json.NewEncoder(w).Encode(result)
			}
			fmt.Fprintf(w, "candidates %d, annotated %d, superseded %d, failed %d\n",
				result.Candidates, result.Annotated, result.Superseded, result.Failed)
			return nil
		})
	},
}

func init() {
	backfillCmd.Flags().Int("limit", 0, "maximum records to annotate (0 uses the configured batch size)")
	rootCmd.AddCommand(backfillCmd)
}
