package repository

import (
	"context"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// SummaryRepository stores versioned research summaries.
type SummaryRepository interface {
	// Latest returns the highest version for language.
	// Returns domain.ErrNotFound when none was generated yet.
	Latest(ctx context.Context, language string) (*domain.ResearchSummary, error)

	// Save appends s as the next version for its language and sets
	// s.Version and s.CreatedAt.
	Save(ctx context.Context, s *domain.ResearchSummary) error

	// Versions lists the stored versions for language, newest first,
	// without their content.
	Versions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error)
}
