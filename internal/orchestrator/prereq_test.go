package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/portfolio-agents/internal/domain"
)

func TestPrereqResolveAllKnown(t *testing.T) {
	t.Parallel()
	r := NewPrereqResolver(allKnown())
	got, err := r.Resolve(context.Background(), domain.KindSpecs[domain.KindPortfolioAnalysis], domain.PortfolioSnapshot{Symbols: []string{"AAPL", "VTI"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPrereqResolveUnknownSymbols(t *testing.T) {
	t.Parallel()
	r := NewPrereqResolver(&fakeInstruments{known: map[string]bool{"AAPL": true}})
	got, err := r.Resolve(context.Background(), domain.KindSpecs[domain.KindPortfolioAnalysis], domain.PortfolioSnapshot{Symbols: []string{"AAPL", "XYZQ"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.WorkerName{domain.WorkerClassifier}, got)
}

func TestPrereqResolvePolicyDisabled(t *testing.T) {
	t.Parallel()
	r := NewPrereqResolver(&fakeInstruments{err: errors.New("must not be called")})
	got, err := r.Resolve(context.Background(), domain.KindSpec{FanOut: []domain.WorkerName{domain.WorkerAnalyzer}}, domain.PortfolioSnapshot{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPrereqResolveEmptySnapshot(t *testing.T) {
	t.Parallel()
	r := NewPrereqResolver(&fakeInstruments{err: errors.New("must not be called")})
	got, err := r.Resolve(context.Background(), domain.KindSpecs[domain.KindPortfolioAnalysis], domain.PortfolioSnapshot{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPrereqResolveRepoError(t *testing.T) {
	t.Parallel()
	r := NewPrereqResolver(&fakeInstruments{err: errors.New("db down")})
	_, err := r.Resolve(context.Background(), domain.KindSpecs[domain.KindPortfolioAnalysis], domain.PortfolioSnapshot{Symbols: []string{"AAPL"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
