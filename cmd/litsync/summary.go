package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/app"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Generate or show the research summary of the annotated store",
	Long: `summary brings the research summary in one language up to date. An
existing version is revised with papers published after it; with no new
papers it is left alone. --force writes a complete summary from scratch.
--show prints the latest stored version without calling the model.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		language, _ := cmd.Flags().GetString("language")
		force, _ := cmd.Flags().GetBool("force")
		show, _ := cmd.Flags().GetBool("show")
		return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
			w := cmd.OutOrStdout()
			if show {
				s, err := a.Service.LatestSummary(ctx, language)
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("no %s summary yet; run litsync summary --language %s", language, language)
				}
				if err != nil {
					return err
				}
				return printSummary(w, s, s.UpdateType, jsonOutput(cmd))
			}

			result, err := a.Service.GenerateSummary(ctx, language, force)
			if errors.Is(err, annotation.ErrDisabled) {
				return fmt.Errorf("annotation is off; set LITSYNC_ANNOTATION_MODE to sync or async")
			}
			if err != nil {
				return err
			}
			return printSummary(w, result.Summary, result.UpdateType, jsonOutput(cmd))
		})
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List the records first stored by update runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sinceStr, _ := cmd.Flags().GetString("since")
		filter := repository.TimelineFilter{Limit: limit}
		if sinceStr != "" {
			since, err := time.Parse(domain.SettingsDateLayout, sinceStr)
			if err != nil {
				return fmt.Errorf("--since must be a YYYY-MM-DD date")
			}
			filter.Since = &since
		}
		return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
			entries, total, err := a.Service.Timeline(ctx, filter)
			if err != nil {
				return err
			}
			return printTimeline(cmd.OutOrStdout(), entries, total, jsonOutput(cmd))
		})
	},
}

func init() {
	summaryCmd.Flags().String("language", "en", "summary language code")
	summaryCmd.Flags().Bool("force", false, "write a complete summary even when one exists")
	summaryCmd.Flags().Bool("show", false, "print the latest stored version only")
	summaryCmd.MarkFlagsMutuallyExclusive("force", "show")
	rootCmd.AddCommand(summaryCmd)

	timelineCmd.Flags().String("since", "", "only entries on or after this date (YYYY-MM-DD)")
	timelineCmd.Flags().Int("limit", 50, "maximum entries to list")
	rootCmd.AddCommand(timelineCmd)
}

func printSummary(w io.Writer, s *domain.ResearchSummary, updateType domain.SummaryUpdateType, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(struct {
			UpdateType domain.SummaryUpdateType `json:"update_type"`
			Language   string                   `json:"language"`
			Version    int                      `json:"version"`
			Content    string                   `json:"content"`
			PaperCount int                      `json:"paper_count"`
			NewPapers  int                      `json:"new_papers"`
			Trends     domain.ResearchTrends    `json:"trends"`
		}{updateType, s.Language, s.Version, s.Content, s.PaperCount, s.NewPapers, s.Trends})
	}

	fmt.Fprintf(w, "summary %s v%d (%s), %d papers", s.Language, s.Version, updateType, s.PaperCount)
	if updateType == domain.SummaryIncremental {
		fmt.Fprintf(w, ", %d new", s.NewPapers)
	}
	fmt.Fprintln(w)
	if s.LatestPaperDate != nil {
		fmt.Fprintf(w, "latest paper %s\n", s.LatestPaperDate.Format(domain.SettingsDateLayout))
	}
	fmt.Fprintf(w, "\n%s\n", s.Content)
	if len(s.Trends.KeyTrends) > 0 {
		fmt.Fprintln(w, "\nkey trends:")
		for _, trend := range s.Trends.KeyTrends {
			fmt.Fprintf(w, "  - %s\n", trend)
		}
	}
	return nil
}

func printTimeline(w io.Writer, entries []*domain.TimelineEntry, total int64, asJSON bool) error {
	if asJSON {
		type entry struct {
			Date    string `json:"date"`
			PMID    string `json:"pmid"`
			Title   string `json:"title"`
			Journal string `json:"journal,omitempty"`
			Summary string `json:"summary"`
		}
		out := make([]entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, entry{e.EntryDate.Format(domain.SettingsDateLayout), e.ExternalID, e.Title, e.Journal, e.Summary})
		}
		return json.NewEncoder(w).Encode(struct {
			Entries []entry `json:"entries"`
			Total   int64   `json:"total"`
		}{out, total})
	}

	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-10s %s\n", e.EntryDate.Format(domain.SettingsDateLayout), e.ExternalID, e.Title)
		if e.Summary != "" {
			fmt.Fprintf(w, "            %s\n", e.Summary)
		}
	}
	fmt.Fprintf(w, "%d of %d entries\n", len(entries), total)
	return nil
}
