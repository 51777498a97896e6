// Package pipeline runs the extraction job: fetch transactions, resolve missing addresses,
// merge the geocode cache, shape the dataset and persist it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sghousing/resale-tracker/internal/domain"
	"github.com/sghousing/resale-tracker/internal/geocache"
	"github.com/sghousing/resale-tracker/internal/logger"
)

// PipelineStep represents a single step in the extraction pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID string

	Raw          []domain.RawRecord
	Transactions []domain.TransactionRecord

	Cache     *geocache.Cache
	Addresses []domain.AddressQuery
	Missing   []domain.AddressQuery
	Resolved  []domain.GeocodeEntry

	Dataset     *domain.EnrichedDataset
	SnapshotURI string

	Summary domain.RunSummary
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}

// Execute runs all steps sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		log.Debug().Int("step", i+1).Str("name", step.Name()).Msg("Executing pipeline step")
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// bestEffortStep runs a step whose failure must not fail the run. Errors are logged.
type bestEffortStep struct {
	step PipelineStep
}

// BestEffort wraps step so that its error is logged and swallowed.
func BestEffort(step PipelineStep) PipelineStep {
	return &bestEffortStep{step: step}
}

func (s *bestEffortStep) Name() string {
	return s.step.Name()
}

func (s *bestEffortStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.step.Execute(ctx, state); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("step", s.step.Name()).Msg("Optional pipeline step failed")
	}
	return nil
}
