package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// MockStep is a mock implementation of PipelineStep.
type MockStep struct {
	StepName    string
	ExecuteFunc func(ctx context.Context, state *PipelineState) error
}

func (m *MockStep) Name() string { return m.StepName }

func (m *MockStep) Execute(ctx context.Context, state *PipelineState) error {
	return m.ExecuteFunc(ctx, state)
}

func TestPipeline_Execute(t *testing.T) {
	var order []string
	step := func(name string, err error) *MockStep {
		return &MockStep{StepName: name, ExecuteFunc: func(context.Context, *PipelineState) error {
			order = append(order, name)
			return err
		}}
	}

	t.Run("runs steps in order", func(t *testing.T) {
		order = nil
		p := NewPipeline(step("a", nil), step("b", nil), step("c", nil))
		require.NoError(t, p.Execute(context.Background(), &PipelineState{}))
		require.Equal(t, []string{"a", "b", "c"}, order)
		require.Equal(t, []string{"a", "b", "c"}, p.Steps())
	})

	t.Run("stops at first error", func(t *testing.T) {
		order = nil
		boom := errors.New("boom")
		p := NewPipeline(step("a", nil), step("b", boom), step("c", nil))
		err := p.Execute(context.Background(), &PipelineState{})
		require.ErrorIs(t, err, boom)
		require.EqualError(t, err, "pipeline step 2 (b) failed: boom")
		require.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("best effort swallows errors", func(t *testing.T) {
		order = nil
		p := NewPipeline(BestEffort(step("a", errors.New("boom"))), step("b", nil))
		require.NoError(t, p.Execute(context.Background(), &PipelineState{}))
		require.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("cancelled context", func(t *testing.T) {
		order = nil
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewPipeline(step("a", nil)).Execute(ctx, &PipelineState{})
		require.ErrorIs(t, err, context.Canceled)
		require.Empty(t, order)
	})
}
