package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

// PrereqResolver decides which setup workers must run, and succeed,
// before fan-out.
type PrereqResolver struct {
	instruments domain.InstrumentRepository
}

// NewPrereqResolver constructs a PrereqResolver over the instrument
// reference set.
func NewPrereqResolver(instruments domain.InstrumentRepository) *PrereqResolver {
	return &PrereqResolver{instruments: instruments}
}

// Resolve returns the ordered prerequisite list for the given kind and
// snapshot. For portfolio analysis: any instrument symbol missing from
// the reference set means the classifier runs exactly once before
// fan-out. The classifier populates the set; the resolver only checks it.
func (r *PrereqResolver) Resolve(ctx context.Context, spec domain.KindSpec, snap domain.PortfolioSnapshot) ([]domain.WorkerName, error) {
	if !spec.ClassifyUnknownSyms || len(snap.Symbols) == 0 {
		return nil, nil
	}
	unknown, err := r.instruments.FilterUnknown(ctx, snap.Symbols)
	if err != nil {
		return nil, fmt.Errorf("op=prereq.resolve: %w", err)
	}
	if len(unknown) == 0 {
		return nil, nil
	}
	slog.Info("snapshot references unclassified instruments",
		slog.Int("unknown_count", len(unknown)),
		slog.Any("symbols", unknown))
	return []domain.WorkerName{domain.WorkerClassifier}, nil
}
