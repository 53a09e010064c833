package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// ExportColumns is the CSV header row.
var ExportColumns = []string{
	"title",
	"authors",
	"journal",
	"publish_date",
	"article_type",
	"pmid",
	"main_findings",
	"num_references",
	"abstract",
}

// ExportLanguage is the summary language written to the main_findings column.
const ExportLanguage = "en"

// ExportCSV streams every record matching filter to w as CSV. It returns
// the number of rows written, excluding the header.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter repository.RecordFilter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportColumns); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	err := s.records.Stream(ctx, filter, func(rec *domain.LiteratureRecord) error {
		if err := cw.Write(exportRow(rec)); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.ExternalID, err)
		}
		rows++
		// Flush periodically so a long export reaches the client as it goes.
		if rows%100 == 0 {
			cw.Flush()
			return cw.Error()
		}
		return nil
	})
	cw.Flush()
	if err != nil {
		return rows, err
	}
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Debug().Int("rows", rows).Msg("csv export finished")
	return rows, nil
}

func exportRow(rec *domain.LiteratureRecord) []string {
	publishDate := ""
	if rec.PublicationDate != nil {
		publishDate = rec.PublicationDate.Format(domain.SettingsDateLayout)
	}
	return []string{
		rec.Title,
		strings.Join(rec.AuthorNames(), ", "),
		rec.Journal,
		publishDate,
		rec.ArticleType,
		rec.ExternalID,
		rec.MainFindings(ExportLanguage),
		strconv.Itoa(rec.NumReferences),
		rec.Abstract,
	}
}
