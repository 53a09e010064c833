package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/app"
	"github.com/helixir/literature-sync-service/internal/domain"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the record store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
			stats, err := a.Service.Stats(ctx)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats, jsonOutput(cmd))
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type statsOutput struct {
	Total           int64            `json:"total"`
	Annotated       int64            `json:"annotated"`
	ByYear          map[string]int64 `json:"by_year"`
	ByType          map[string]int64 `json:"by_type"`
	LatestPublished string           `json:"latest_published,omitempty"`
	LastUpdate      string           `json:"last_update,omitempty"`
}

func printStats(w io.Writer, stats *domain.RecordStats, asJSON bool) error {
	out := statsOutput{
		Total:      stats.Total,
		Annotated:  stats.Annotated,
		ByYear:     make(map[string]int64, len(stats.ByYear)),
		ByType:     stats.ByType,
		LastUpdate: stats.LastUpdate,
	}
	for y, n := range stats.ByYear {
		out.ByYear[strconv.Itoa(y)] = n
	}
	if stats.LatestPublished != nil {
		out.LatestPublished = stats.LatestPublished.Format(domain.SettingsDateLayout)
	}
	if asJSON {
		return json.NewEncoder(w).Encode(out)
	}

	fmt.Fprintf(w, "records      %d\n", out.Total)
	fmt.Fprintf(w, "annotated    %d\n", out.Annotated)
	if out.LatestPublished != "" {
		fmt.Fprintf(w, "latest       %s\n", out.LatestPublished)
	}
	if out.LastUpdate != "" {
		fmt.Fprintf(w, "last update  %s\n", out.LastUpdate)
	}

	years := make([]int, 0, len(stats.ByYear))
	for y := range stats.ByYear {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	if len(years) > 0 {
		fmt.Fprintln(w, "by year:")
		for _, y := range years {
			fmt.Fprintf(w, "  %d  %d\n", y, stats.ByYear[y])
		}
	}

	types := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	if len(types) > 0 {
		fmt.Fprintln(w, "by type:")
		for _, t := range types {
			fmt.Fprintf(w, "  %-24s %d\n", t, stats.ByType[t])
		}
	}
	return nil
}
